package providers

import (
	"context"
	"strings"

	"golang.org/x/oauth2"
)

const (
	// DefaultScopeSeparator joins scopes in the authorization request (RFC 6749 §3.3)
	DefaultScopeSeparator = " "

	// PKCEMethodS256 is the only code challenge method this engine emits
	PKCEMethodS256 = "S256"
)

// Config describes one OAuth2 service. It is built once at startup and
// treated as immutable afterwards.
type Config struct {
	// Name is the service identifier (e.g., "salesforce", "slack")
	Name string

	// AuthURL is the provider's authorization endpoint
	AuthURL string

	// TokenURL is the provider's token endpoint
	TokenURL string

	// RevokeURL is the RFC 7009 revocation endpoint. Empty means the
	// provider has no standard revocation endpoint.
	RevokeURL string

	// Scopes requested during authorization
	Scopes []string

	// ScopeSeparator joins Scopes. Defaults to a single space; Shopify uses ",".
	ScopeSeparator string

	// PKCERequired adds an S256 code challenge to the authorization request
	PKCERequired bool

	// RotatesRefreshToken marks providers that issue a new refresh token on
	// every refresh and invalidate the previous one.
	RotatesRefreshToken bool

	// ClientID and ClientSecret are resolved from the environment, never hard-coded
	ClientID     string
	ClientSecret string

	// RedirectURL is the callback registered with the provider
	RedirectURL string
}

// ScopeString returns the scopes joined with the provider's separator.
func (c Config) ScopeString() string {
	sep := c.ScopeSeparator
	if sep == "" {
		sep = DefaultScopeSeparator
	}
	return strings.Join(c.Scopes, sep)
}

// OAuth2Config returns the golang.org/x/oauth2 view of this service.
// Client credentials are always sent in the request body, matching what
// the supported providers accept.
func (c Config) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthURL,
			TokenURL:  c.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// SupportsRevocation reports whether a remote revocation call can be made.
func (c Config) SupportsRevocation() bool {
	return c.RevokeURL != ""
}

// clone returns a copy that shares no slices with c.
func (c Config) clone() Config {
	if c.Scopes != nil {
		c.Scopes = append([]string(nil), c.Scopes...)
	}
	return c
}

// Exchanger performs the network exchanges against a provider's token and
// revocation endpoints. Implementations must be safe for concurrent use.
type Exchanger interface {
	// ExchangeCode trades an authorization code for tokens.
	// verifier is the PKCE code verifier (empty when PKCE is not used).
	ExchangeCode(ctx context.Context, cfg Config, code, verifier string) (*oauth2.Token, error)

	// RefreshToken obtains a new access token using a refresh token
	RefreshToken(ctx context.Context, cfg Config, refreshToken string) (*oauth2.Token, error)

	// RevokeToken revokes a token at the provider's revocation endpoint
	RevokeToken(ctx context.Context, cfg Config, token string) error
}
