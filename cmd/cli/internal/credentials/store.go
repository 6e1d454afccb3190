package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/riskrunner/internal/client"
	"github.com/wolfeidau/riskrunner/internal/models"
)

// Sentinel errors
var (
	// ErrCredentialNotFound is returned when a credential doesn't exist.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrCredentialExists is returned when trying to create a duplicate.
	ErrCredentialExists = errors.New("credential already exists")

	// ErrNoDefaultCredential is returned when no default is set.
	ErrNoDefaultCredential = errors.New("no default credential set")
)

// Credential is a named identity the CLI can act as. Exactly one of Token
// or a stored signing key authenticates it; with neither the tenant is sent
// as plain headers, which only a server in header auth mode accepts.
type Credential struct {
	Name      string      `json:"name"`
	ServerURL string      `json:"server_url"`
	ActorID   uuid.UUID   `json:"actor_id"`
	Role      models.Role `json:"role"`
	OrgID     *uuid.UUID  `json:"org_id,omitempty"`
	Token     string      `json:"token,omitempty"`
	HasKey    bool        `json:"has_key"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Tenant returns the tenant context the credential acts as.
func (c *Credential) Tenant() models.TenantContext {
	return models.TenantContext{ActorID: c.ActorID, Role: c.Role, OrganizationID: c.OrgID}
}

// Mode names how requests are authenticated.
func (c *Credential) Mode() string {
	switch {
	case c.HasKey:
		return "signing-key"
	case c.Token != "":
		return "token"
	}
	return "header"
}

// Config represents the credentials configuration file.
type Config struct {
	Version           int                   `json:"version"`
	DefaultCredential string                `json:"default_credential,omitempty"`
	Credentials       map[string]Credential `json:"credentials"`
}

// Store manages credential storage on the local filesystem.
type Store struct {
	baseDir string
}

// NewStore creates a new credential store.
// If baseDir is empty, uses ~/.riskrunner/credentials/
func NewStore(baseDir string) (*Store, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".riskrunner", "credentials")
	}

	// Create directory with 0700 permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credentials directory: %w", err)
	}

	store := &Store{baseDir: baseDir}

	// Initialize config if it doesn't exist
	if err := store.ensureConfig(); err != nil {
		return nil, err
	}

	log.Debug().Str("baseDir", baseDir).Msg("credential store initialized")

	return store, nil
}

// Add stores a new credential. signingKeyPEM may be empty; when set it is
// copied into the store so the original file can be removed.
func (s *Store) Add(cred Credential, signingKeyPEM string) (*Credential, error) {
	if cred.Name == "" {
		return nil, errors.New("credential name is required")
	}
	if err := cred.Tenant().Validate(); err != nil {
		return nil, err
	}
	if cred.Token != "" && signingKeyPEM != "" {
		return nil, errors.New("use either a token or a signing key, not both")
	}

	if _, err := s.Get(cred.Name); err == nil {
		return nil, ErrCredentialExists
	}

	if signingKeyPEM != "" {
		if err := os.WriteFile(s.keyPath(cred.Name), []byte(signingKeyPEM), 0600); err != nil {
			return nil, fmt.Errorf("failed to write signing key: %w", err)
		}
		cred.HasKey = true
	}

	now := time.Now().UTC()
	cred.CreatedAt = now
	cred.UpdatedAt = now

	if err := s.addCredential(cred); err != nil {
		return nil, err
	}

	log.Info().Str("name", cred.Name).Str("mode", cred.Mode()).Msg("credential added")

	return &cred, nil
}

// Get retrieves credential metadata by name.
func (s *Store) Get(name string) (*Credential, error) {
	cfg, err := s.loadConfig()
	if err != nil {
		return nil, err
	}

	cred, ok := cfg.Credentials[name]
	if !ok {
		return nil, ErrCredentialNotFound
	}

	return &cred, nil
}

// GetDefault retrieves the default credential.
// Returns ErrNoDefaultCredential if none is set.
func (s *Store) GetDefault() (*Credential, error) {
	cfg, err := s.loadConfig()
	if err != nil {
		return nil, err
	}

	if cfg.DefaultCredential == "" {
		return nil, ErrNoDefaultCredential
	}

	return s.Get(cfg.DefaultCredential)
}

// Resolve returns the named credential, or the default when name is empty.
func (s *Store) Resolve(name string) (*Credential, error) {
	if name == "" {
		return s.GetDefault()
	}
	return s.Get(name)
}

// List returns all stored credentials sorted by name.
func (s *Store) List() ([]Credential, error) {
	cfg, err := s.loadConfig()
	if err != nil {
		return nil, err
	}

	credentials := make([]Credential, 0, len(cfg.Credentials))
	for _, cred := range cfg.Credentials {
		credentials = append(credentials, cred)
	}
	sort.Slice(credentials, func(i, j int) bool {
		return credentials[i].Name < credentials[j].Name
	})

	return credentials, nil
}

// Delete removes a credential and its key file.
func (s *Store) Delete(name string) error {
	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}

	if _, ok := cfg.Credentials[name]; !ok {
		return ErrCredentialNotFound
	}

	if err := os.Remove(s.keyPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove signing key: %w", err)
	}

	delete(cfg.Credentials, name)

	// Clear default if this was the default credential
	if cfg.DefaultCredential == name {
		cfg.DefaultCredential = ""
	}

	if err := s.saveConfig(cfg); err != nil {
		return err
	}

	log.Info().Str("name", name).Msg("credential deleted")

	return nil
}

// SetDefault sets the default credential.
func (s *Store) SetDefault(name string) error {
	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}

	if _, ok := cfg.Credentials[name]; !ok {
		return ErrCredentialNotFound
	}

	cfg.DefaultCredential = name

	if err := s.saveConfig(cfg); err != nil {
		return err
	}

	log.Info().Str("name", name).Msg("default credential set")

	return nil
}

// Interceptor builds the client interceptor that authenticates as cred.
func (s *Store) Interceptor(cred *Credential) (connect.Interceptor, error) {
	switch cred.Mode() {
	case "signing-key":
		keyPEM, err := os.ReadFile(s.keyPath(cred.Name))
		if err != nil {
			return nil, fmt.Errorf("failed to read signing key: %w", err)
		}
		return client.NewSigningInterceptor(string(keyPEM), cred.Tenant())
	case "token":
		return client.NewTokenInterceptor(cred.Token)
	}
	return client.NewHeaderInterceptor(cred.Tenant())
}

func (s *Store) keyPath(name string) string {
	return filepath.Join(s.baseDir, name+".key")
}

// ensureConfig creates an empty config if it doesn't exist.
func (s *Store) ensureConfig() error {
	configPath := filepath.Join(s.baseDir, "config.json")

	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	cfg := &Config{
		Version:     1,
		Credentials: make(map[string]Credential),
	}

	return s.saveConfig(cfg)
}

// loadConfig reads the config file.
func (s *Store) loadConfig() (*Config, error) {
	configPath := filepath.Join(s.baseDir, "config.json")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Ensure credentials map is initialized
	if cfg.Credentials == nil {
		cfg.Credentials = make(map[string]Credential)
	}

	return &cfg, nil
}

// saveConfig writes the config file atomically.
func (s *Store) saveConfig(cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	configPath := filepath.Join(s.baseDir, "config.json")
	tempPath := configPath + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, configPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// addCredential adds a new credential to the config.
func (s *Store) addCredential(cred Credential) error {
	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}

	cfg.Credentials[cred.Name] = cred

	// Set as default if this is the first credential
	if len(cfg.Credentials) == 1 {
		cfg.DefaultCredential = cred.Name
	}

	return s.saveConfig(cfg)
}
