package commands

import (
	"errors"
	"fmt"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/otelconnect"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/riskrunner/cmd/cli/internal/credentials"
	"github.com/wolfeidau/riskrunner/internal/client"
)

type Globals struct {
	Debug   bool
	Version string
}

// ClientFlags select the server and the credential a command acts as.
type ClientFlags struct {
	Server         string        `help:"Server URL (overrides the credential's server)" env:"RISKRUNNER_SERVER"`
	Credential     string        `help:"Credential name (default credential when unset)" short:"c" env:"RISKRUNNER_CREDENTIAL"`
	Token          string        `help:"Bearer token, bypasses stored credentials" env:"RISKRUNNER_TOKEN"`
	CredentialsDir string        `help:"Custom credentials directory" env:"RISKRUNNER_CREDENTIALS_DIR"`
	Timeout        time.Duration `help:"Request timeout" default:"30s"`
}

// newClient builds an authenticated client from the flags and stored credentials.
func (f *ClientFlags) newClient(globals *Globals) (*client.Client, error) {
	otelInterceptor, err := otelconnect.NewInterceptor()
	if err != nil {
		return nil, fmt.Errorf("failed to create interceptor: %w", err)
	}

	authInterceptor, serverURL, err := f.authInterceptor()
	if err != nil {
		return nil, err
	}
	if f.Server != "" {
		serverURL = f.Server
	}
	if serverURL == "" {
		return nil, errors.New("server URL is required (--server or a credential with a server)")
	}

	log.Debug().Str("server", serverURL).Msg("creating client")

	config := client.Config{
		ServerURL: serverURL,
		Timeout:   f.Timeout,
		Debug:     globals.Debug,
	}
	return client.New(config, connect.WithInterceptors(otelInterceptor, authInterceptor)), nil
}

func (f *ClientFlags) authInterceptor() (connect.Interceptor, string, error) {
	if f.Token != "" {
		interceptor, err := client.NewTokenInterceptor(f.Token)
		return interceptor, "", err
	}

	store, err := credentials.NewStore(f.CredentialsDir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to initialize credential store: %w", err)
	}

	cred, err := store.Resolve(f.Credential)
	if err != nil {
		switch {
		case errors.Is(err, credentials.ErrNoDefaultCredential):
			return nil, "", errors.New("no default credential set\n\nRun 'riskrunner credentials add <name>' or pass --token")
		case errors.Is(err, credentials.ErrCredentialNotFound):
			return nil, "", fmt.Errorf("credential %q not found\n\nRun 'riskrunner credentials list' to see available credentials", f.Credential)
		}
		return nil, "", fmt.Errorf("failed to load credential: %w", err)
	}

	interceptor, err := store.Interceptor(cred)
	if err != nil {
		return nil, "", err
	}
	return interceptor, cred.ServerURL, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
