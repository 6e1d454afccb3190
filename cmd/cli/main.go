package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/riskrunner/cmd/cli/internal/commands"
	"github.com/wolfeidau/riskrunner/internal/logger"
)

var (
	version = "dev"
	cli     struct {
		Submit      commands.SubmitCmd      `cmd:"" help:"Submit a spreadsheet or row file as a bulk job"`
		Status      commands.StatusCmd      `cmd:"" help:"Show a job's progress"`
		List        commands.ListCmd        `cmd:"" help:"List jobs"`
		Cancel      commands.CancelCmd      `cmd:"" help:"Request cancellation of a job"`
		Delete      commands.DeleteCmd      `cmd:"" help:"Delete a job"`
		CheckAccess commands.CheckAccessCmd `cmd:"" name:"check-access" help:"Check access to a prediction"`
		Purge       commands.PurgeCmd       `cmd:"" help:"Purge finished jobs (super admin only)"`
		Companies   commands.CompaniesCmd   `cmd:"" help:"Look up and create companies"`
		Credentials commands.CredentialsCmd `cmd:"" help:"Manage local credentials"`
		Debug       bool                    `help:"Enable debug mode."`
		Version     kong.VersionFlag
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("riskrunner"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	log.Logger = logger.Setup(cli.Debug)

	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
