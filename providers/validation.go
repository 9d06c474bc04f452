package providers

import (
	"fmt"
	"net/url"
	"regexp"
)

var serviceNamePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ValidateServiceName validates a service identifier.
// Identifiers appear in callback paths and storage keys, so only lowercase
// alphanumerics, hyphens and underscores are accepted.
func ValidateServiceName(name string) error {
	if name == "" {
		return fmt.Errorf("service name is required")
	}
	if len(name) > 64 {
		return fmt.Errorf("service name exceeds maximum length of 64 characters")
	}
	if !serviceNamePattern.MatchString(name) {
		return fmt.Errorf("service name %q contains invalid characters (allowed: a-z, 0-9, _, -)", name)
	}
	return nil
}

// ValidateEndpointURL validates a provider endpoint URL.
// Plain http is accepted so local stub providers can be registered.
func ValidateEndpointURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%s must use http or https, got %q", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must have a host", field)
	}
	return nil
}

// ValidateScopes validates OAuth scopes.
//
// Security Considerations:
//   - Array Size Limit: Prevents DoS from excessive scopes
//   - String Length Limit: Prevents memory exhaustion
//   - Empty Scope Detection: Prevents malformed requests
func ValidateScopes(scopes []string) error {
	if len(scopes) > 50 {
		return fmt.Errorf("too many scopes (max 50, got %d)", len(scopes))
	}

	for i, scope := range scopes {
		if scope == "" {
			return fmt.Errorf("scope at index %d is empty", i)
		}
		if len(scope) > 256 {
			return fmt.Errorf("scope at index %d exceeds maximum length of 256 characters", i)
		}
	}

	return nil
}

// Validate checks that a Config is complete enough to run a flow.
func (c Config) Validate() error {
	if err := ValidateServiceName(c.Name); err != nil {
		return err
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client ID is required", c.Name)
	}
	if err := ValidateEndpointURL("auth URL", c.AuthURL); err != nil {
		return fmt.Errorf("%s: %w", c.Name, err)
	}
	if err := ValidateEndpointURL("token URL", c.TokenURL); err != nil {
		return fmt.Errorf("%s: %w", c.Name, err)
	}
	if c.RevokeURL != "" {
		if err := ValidateEndpointURL("revoke URL", c.RevokeURL); err != nil {
			return fmt.Errorf("%s: %w", c.Name, err)
		}
	}
	if c.RedirectURL != "" {
		if err := ValidateEndpointURL("redirect URL", c.RedirectURL); err != nil {
			return fmt.Errorf("%s: %w", c.Name, err)
		}
	}
	if err := ValidateScopes(c.Scopes); err != nil {
		return fmt.Errorf("%s: invalid scopes: %w", c.Name, err)
	}
	return nil
}
