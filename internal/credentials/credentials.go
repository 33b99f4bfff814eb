// Package credentials resolves the actor hub API token. The environment
// variable wins over the credentials file so CI and one-off runs never need
// state on disk.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/karstlund/prospector/internal/config"
)

// EnvToken is the environment variable checked first.
const EnvToken = "PROSPECTOR_API_TOKEN"

// ErrNotFound means no token is configured anywhere.
var ErrNotFound = errors.New("no API token found; set " + EnvToken + " or run 'prospector config set-token'")

// Credentials stores the persisted hub credentials.
type Credentials struct {
	APIToken string `json:"api_token"`
}

// Path returns the credentials file location.
func Path() string {
	return filepath.Join(config.Dir(), "credentials.json")
}

// Resolve returns the API token from the environment or the credentials
// file. An empty return with nil error never happens; absence is ErrNotFound.
func Resolve() (string, error) {
	if token := os.Getenv(EnvToken); token != "" {
		return token, nil
	}

	creds, err := Load()
	if err != nil {
		return "", err
	}
	if creds.APIToken == "" {
		return "", ErrNotFound
	}
	return creds.APIToken, nil
}

// Load reads the credentials file.
func Load() (*Credentials, error) {
	data, err := os.ReadFile(Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	return &creds, nil
}

// Save writes the token to the credentials file with owner-only permissions.
func Save(token string) error {
	if err := os.MkdirAll(config.Dir(), 0700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := json.MarshalIndent(&Credentials{APIToken: token}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}
	if err := os.WriteFile(Path(), data, 0600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	return nil
}
