package oauth

import (
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/sumeria/sumeria/internal/apperr"
)

// LoadClientConfig reads an "installed" or "web" client secrets file and
// returns an oauth2 configuration requesting scopes.
func LoadClientConfig(path string, scopes []string) (*oauth2.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no credentials file configured", apperr.ErrMissingCredentialsFile)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", apperr.ErrMissingCredentialsFile, path, err)
	}
	conf, err := google.ConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a valid client secrets file: %w", apperr.ErrMissingCredentialsFile, path, err)
	}
	return conf, nil
}
