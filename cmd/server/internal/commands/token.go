package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/riskrunner/internal/auth"
	"github.com/wolfeidau/riskrunner/internal/models"
)

type TokenCmd struct {
	Issue  TokenIssueCmd  `cmd:"" default:"withargs" help:"Issue a signed token for a tenant"`
	Keygen TokenKeygenCmd `cmd:"" help:"Generate an ECDSA P-256 signing keypair"`
}

type TokenIssueCmd struct {
	SigningKey string        `help:"path to the PEM encoded ECDSA private key" required:"" env:"RISKRUNNER_SIGNING_KEY"`
	ActorID    string        `help:"actor ID (UUID), generated when unset" default:""`
	Role       string        `help:"tenant role" default:"personal_user" enum:"super_admin,org_member,personal_user"`
	OrgID      string        `help:"organization ID (UUID)" default:""`
	TTL        time.Duration `help:"token lifetime" default:"24h"`
}

func (c *TokenIssueCmd) Run(ctx context.Context, globals *Globals) error {
	globals.setupLogger()

	keyPEM, err := os.ReadFile(c.SigningKey)
	if err != nil {
		return fmt.Errorf("failed to read signing key: %w", err)
	}

	tenant, err := c.tenant()
	if err != nil {
		return err
	}

	token, err := auth.IssueToken(string(keyPEM), tenant, c.TTL)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func (c *TokenIssueCmd) tenant() (models.TenantContext, error) {
	role, err := models.ParseRole(c.Role)
	if err != nil {
		return models.TenantContext{}, err
	}

	actorID := uuid.Must(uuid.NewV7())
	if c.ActorID != "" {
		if actorID, err = uuid.Parse(c.ActorID); err != nil {
			return models.TenantContext{}, fmt.Errorf("invalid actor ID: %w", err)
		}
	}

	tenant := models.TenantContext{ActorID: actorID, Role: role}
	if c.OrgID != "" {
		orgID, err := uuid.Parse(c.OrgID)
		if err != nil {
			return models.TenantContext{}, fmt.Errorf("invalid organization ID: %w", err)
		}
		tenant.OrganizationID = &orgID
	}
	return tenant, tenant.Validate()
}

type TokenKeygenCmd struct {
	Dir string `help:"directory to write signing.pem and signing.pub.pem" default:"./.keys"`
}

func (c *TokenKeygenCmd) Run(ctx context.Context, globals *Globals) error {
	log := globals.setupLogger()

	privPEM, pubPEM, err := auth.GenerateSigningKey()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(c.Dir, 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	privPath := filepath.Join(c.Dir, "signing.pem")
	pubPath := filepath.Join(c.Dir, "signing.pub.pem")

	if err := os.WriteFile(privPath, []byte(privPEM), 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, []byte(pubPEM), 0o644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	log.Info().Str("private_key", privPath).Str("public_key", pubPath).Msg("Generated signing keypair")
	return nil
}
