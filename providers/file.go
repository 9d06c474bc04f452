package providers

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileProvider is one entry of a providers file. Credentials are never
// stored in the file itself; it names the environment variables holding them.
type fileProvider struct {
	Name                string   `yaml:"name"`
	AuthURL             string   `yaml:"auth_url"`
	TokenURL            string   `yaml:"token_url"`
	RevokeURL           string   `yaml:"revoke_url"`
	Scopes              []string `yaml:"scopes"`
	ScopeSeparator      string   `yaml:"scope_separator"`
	PKCERequired        *bool    `yaml:"pkce_required"`
	RotatesRefreshToken bool     `yaml:"rotates_refresh_token"`
	ClientIDEnv         string   `yaml:"client_id_env"`
	ClientSecretEnv     string   `yaml:"client_secret_env"`
}

type providersFile struct {
	Providers []fileProvider `yaml:"providers"`
}

// LoadFile reads additional provider definitions from a YAML file:
//
//	providers:
//	  - name: demo
//	    auth_url: https://auth.example.com/authorize
//	    token_url: https://auth.example.com/token
//	    scopes: [read]
//	    client_id_env: DEMO_CLIENT_ID
//	    client_secret_env: DEMO_CLIENT_SECRET
//
// PKCE defaults to required. Entries whose client ID variable is unset are
// skipped, the same way unconfigured built-in services are.
func LoadFile(path, redirectBase string, lookupEnv func(string) (string, bool)) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}
	return ParseFile(data, redirectBase, lookupEnv)
}

// ParseFile parses provider definitions from YAML bytes. See LoadFile.
func ParseFile(data []byte, redirectBase string, lookupEnv func(string) (string, bool)) ([]Config, error) {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}

	var f providersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse providers file: %w", err)
	}

	configs := make([]Config, 0, len(f.Providers))
	for i, p := range f.Providers {
		if p.Name == "" {
			return nil, fmt.Errorf("provider at index %d has no name", i)
		}
		if p.ClientIDEnv == "" {
			return nil, fmt.Errorf("provider %q: client_id_env is required", p.Name)
		}

		clientID, ok := lookupEnv(p.ClientIDEnv)
		if !ok || clientID == "" {
			continue
		}
		var clientSecret string
		if p.ClientSecretEnv != "" {
			clientSecret, _ = lookupEnv(p.ClientSecretEnv)
		}

		pkce := true
		if p.PKCERequired != nil {
			pkce = *p.PKCERequired
		}

		configs = append(configs, Config{
			Name:                p.Name,
			AuthURL:             p.AuthURL,
			TokenURL:            p.TokenURL,
			RevokeURL:           p.RevokeURL,
			Scopes:              p.Scopes,
			ScopeSeparator:      p.ScopeSeparator,
			PKCERequired:        pkce,
			RotatesRefreshToken: p.RotatesRefreshToken,
			ClientID:            clientID,
			ClientSecret:        clientSecret,
			RedirectURL:         RedirectURLFor(redirectBase, p.Name),
		})
	}

	return configs, nil
}
