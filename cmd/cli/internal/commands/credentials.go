package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/wolfeidau/riskrunner/cmd/cli/internal/credentials"
	"github.com/wolfeidau/riskrunner/internal/models"
)

// CredentialsCmd manages local credentials.
type CredentialsCmd struct {
	Add        CredentialsAddCmd        `cmd:"" help:"Add a credential"`
	List       CredentialsListCmd       `cmd:"" help:"List all credentials"`
	Delete     CredentialsDeleteCmd     `cmd:"" help:"Delete a credential"`
	SetDefault CredentialsSetDefaultCmd `cmd:"" name:"set-default" help:"Set the default credential"`

	OutputDir string `help:"Custom credentials directory" env:"RISKRUNNER_CREDENTIALS_DIR"`
}

func (c *CredentialsCmd) store() (*credentials.Store, error) {
	store, err := credentials.NewStore(c.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential store: %w", err)
	}
	return store, nil
}

// CredentialsAddCmd stores a new credential. With --signing-key the CLI mints
// its own short lived tokens; with --token it sends a token issued elsewhere.
type CredentialsAddCmd struct {
	Name       string     `arg:"" help:"Credential name"`
	Server     string     `help:"Server URL" default:"https://localhost:8443"`
	ActorID    uuid.UUID  `help:"Acting principal ID" required:""`
	Role       string     `help:"Tenant role" default:"personal_user" enum:"super_admin,org_member,personal_user"`
	OrgID      string     `help:"Organization ID"`
	Token      string     `help:"Bearer token issued by 'riskrunner-server token issue'" xor:"auth"`
	SigningKey string     `help:"PEM encoded ECDSA signing key file, copied into the store" type:"existingfile" xor:"auth"`
}

func (c *CredentialsAddCmd) Run(ctx context.Context, parent *CredentialsCmd) error {
	store, err := parent.store()
	if err != nil {
		return err
	}

	var orgID *uuid.UUID
	if c.OrgID != "" {
		id, err := uuid.Parse(c.OrgID)
		if err != nil {
			return fmt.Errorf("invalid organization ID: %w", err)
		}
		orgID = &id
	}

	var keyPEM string
	if c.SigningKey != "" {
		b, err := os.ReadFile(c.SigningKey)
		if err != nil {
			return fmt.Errorf("failed to read signing key: %w", err)
		}
		keyPEM = string(b)
	}

	cred, err := store.Add(credentials.Credential{
		Name:      c.Name,
		ServerURL: c.Server,
		ActorID:   c.ActorID,
		Role:      models.Role(c.Role),
		OrgID:     orgID,
		Token:     c.Token,
	}, keyPEM)
	if err != nil {
		if errors.Is(err, credentials.ErrCredentialExists) {
			return fmt.Errorf("credential %q already exists", c.Name)
		}
		return fmt.Errorf("failed to add credential: %w", err)
	}

	fmt.Printf("Credential %q added (%s, %s)\n", cred.Name, cred.Role, cred.Mode())
	if cred.Mode() == "header" {
		fmt.Println("No token or signing key given: requests carry plain tenant headers, which only a server in header auth mode accepts.")
	}
	return nil
}

// CredentialsListCmd lists all credentials.
type CredentialsListCmd struct{}

func (c *CredentialsListCmd) Run(ctx context.Context, parent *CredentialsCmd) error {
	store, err := parent.store()
	if err != nil {
		return err
	}

	creds, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to list credentials: %w", err)
	}

	if len(creds) == 0 {
		fmt.Println("No credentials found.")
		fmt.Println()
		fmt.Println("To add a credential:")
		fmt.Println("  riskrunner credentials add <name> --actor-id <uuid> --signing-key <file>")
		return nil
	}

	defaultName := ""
	if defaultCred, _ := store.GetDefault(); defaultCred != nil {
		defaultName = defaultCred.Name
	}

	// Print as table
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSERVER\tROLE\tORG\tAUTH\tDEFAULT")

	for _, cred := range creds {
		isDefault := ""
		if cred.Name == defaultName {
			isDefault = "*"
		}
		tenant := cred.Tenant()
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", cred.Name, cred.ServerURL, cred.Role, tenant.OrgString(), cred.Mode(), isDefault)
	}

	return w.Flush()
}

// CredentialsDeleteCmd deletes a credential.
type CredentialsDeleteCmd struct {
	Name string `arg:"" help:"Credential name"`
}

func (c *CredentialsDeleteCmd) Run(ctx context.Context, parent *CredentialsCmd) error {
	store, err := parent.store()
	if err != nil {
		return err
	}

	if err := store.Delete(c.Name); err != nil {
		if errors.Is(err, credentials.ErrCredentialNotFound) {
			return fmt.Errorf("credential %q not found", c.Name)
		}
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	fmt.Printf("Credential %q deleted\n", c.Name)
	return nil
}

// CredentialsSetDefaultCmd sets the default credential.
type CredentialsSetDefaultCmd struct {
	Name string `arg:"" help:"Credential name"`
}

func (c *CredentialsSetDefaultCmd) Run(ctx context.Context, parent *CredentialsCmd) error {
	store, err := parent.store()
	if err != nil {
		return err
	}

	if err := store.SetDefault(c.Name); err != nil {
		if errors.Is(err, credentials.ErrCredentialNotFound) {
			return fmt.Errorf("credential %q not found", c.Name)
		}
		return fmt.Errorf("failed to set default credential: %w", err)
	}

	fmt.Printf("Default credential set to %q\n", c.Name)
	return nil
}
