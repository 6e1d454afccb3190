package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/riskrunner/cmd/server/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool                `help:"Enable debug mode."`
		Version kong.VersionFlag
		Serve   commands.ServeCmd   `cmd:"" help:"Start the prediction API and worker pool"`
		Migrate commands.MigrateCmd `cmd:"" help:"Apply database migrations"`
		Token   commands.TokenCmd   `cmd:"" help:"Issue a signed tenant token"`
		Org     commands.OrgCmd     `cmd:"" help:"Manage organizations"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
