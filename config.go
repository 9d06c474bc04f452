package oauth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/giantswarm/service-oauth/internal/util"
	"github.com/giantswarm/service-oauth/providers"
	"github.com/giantswarm/service-oauth/security"
	"github.com/giantswarm/service-oauth/server"
)

// Storage backends selectable with OAUTH_STORAGE
const (
	StorageFile   = "file"
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageValkey = "valkey"
)

// Config holds the service configuration. It is loaded from the environment
// with LoadConfig; the env tags document every variable.
type Config struct {
	// ListenAddr is the address the HTTP handler is served on
	ListenAddr string `env:"OAUTH_LISTEN_ADDR" envDefault:":8000"`

	// RedirectURI is the callback base; each service gets RedirectURI + "/" + service
	RedirectURI string `env:"OAUTH_REDIRECT_URI" envDefault:"http://localhost:8000/oauth/callback"`

	// SessionSecret derives the at-rest encryption key when EncryptionKey is unset.
	// FLASK_SECRET_KEY is honoured for existing deployments.
	SessionSecret       string `env:"OAUTH_SESSION_SECRET"`
	LegacySessionSecret string `env:"FLASK_SECRET_KEY"`

	// EncryptionKey is a base64-encoded 32-byte AES key for tokens at rest
	EncryptionKey string `env:"OAUTH_ENCRYPTION_KEY"`

	// ProvidersFile is an optional YAML file with additional providers
	ProvidersFile string `env:"OAUTH_PROVIDERS_FILE"`

	// Built-in provider credentials. A service is only registered when its
	// client ID (and shop or subdomain, where needed) is set.
	Salesforce SalesforceConfig `envPrefix:"SALESFORCE_"`
	Shopify    ShopifyConfig    `envPrefix:"SHOPIFY_"`
	HubSpot    Credentials      `envPrefix:"HUBSPOT_"`
	Slack      Credentials      `envPrefix:"SLACK_"`
	Calendly   Credentials      `envPrefix:"CALENDLY_"`
	Zendesk    ZendeskConfig    `envPrefix:"ZENDESK_"`

	Storage   StorageConfig
	Lifecycle LifecycleConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger `env:"-"`

	// HTTPClient is used for provider requests (optional)
	HTTPClient *http.Client `env:"-"`

	lookupEnv func(string) (string, bool)
}

// Credentials are a service's OAuth client credentials
type Credentials struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

// SalesforceConfig holds Salesforce credentials and org type
type SalesforceConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`

	// Sandbox authenticates against test.salesforce.com
	Sandbox bool `env:"SANDBOX"`
}

// ShopifyConfig holds Shopify credentials and the shop to connect
type ShopifyConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`

	// ShopDomain is the shop host, e.g. "example.myshopify.com"
	ShopDomain string `env:"SHOP_DOMAIN"`
}

// ZendeskConfig holds Zendesk credentials and the account subdomain
type ZendeskConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	Subdomain    string `env:"SUBDOMAIN"`
}

// StorageConfig selects and configures the token store
type StorageConfig struct {
	// Backend is one of file, memory, sqlite or valkey
	Backend string `env:"OAUTH_STORAGE" envDefault:"file"`

	// TokenFile is the JSON file used by the file backend
	TokenFile string `env:"OAUTH2_TOKEN_STORE" envDefault:".oauth_tokens.json"`

	// SQLitePath is the database used by the sqlite backend
	SQLitePath string `env:"OAUTH_SQLITE_PATH" envDefault:".oauth_tokens.db"`

	// Valkey connection settings
	ValkeyAddr      string `env:"VALKEY_ADDR" envDefault:"localhost:6379"`
	ValkeyPassword  string `env:"VALKEY_PASSWORD"`
	ValkeyDB        int    `env:"VALKEY_DB"`
	ValkeyKeyPrefix string `env:"VALKEY_KEY_PREFIX" envDefault:"oauth:"`
	ValkeyTLS       bool   `env:"VALKEY_TLS"`

	// ValkeyDisableCache turns off client-side caching for servers
	// without RESP3 client tracking
	ValkeyDisableCache bool `env:"VALKEY_DISABLE_CACHE"`
}

// LifecycleConfig tunes token refresh and flow expiry
type LifecycleConfig struct {
	RefreshMargin   time.Duration `env:"OAUTH_REFRESH_MARGIN" envDefault:"60s"`
	FlowTTL         time.Duration `env:"OAUTH_FLOW_TTL" envDefault:"10m"`
	RefreshTimeout  time.Duration `env:"OAUTH_REFRESH_TIMEOUT" envDefault:"30s"`
	RefreshMaxTries uint          `env:"OAUTH_REFRESH_MAX_TRIES" envDefault:"3"`
	RevokeTimeout   time.Duration `env:"OAUTH_REVOKE_TIMEOUT" envDefault:"10s"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int `env:"OAUTH_RATE_LIMIT" envDefault:"10"`

	// Burst is the maximum burst size allowed per IP.
	Burst int `env:"OAUTH_RATE_BURST" envDefault:"20"`

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool `env:"OAUTH_TRUST_PROXY"`

	// TrustedProxyCount is the number of proxies in front of the service
	TrustedProxyCount int `env:"OAUTH_TRUSTED_PROXY_COUNT" envDefault:"1"`
}

// SecurityConfig holds security settings
type SecurityConfig struct {
	// EnableAuditLogging enables security audit logging (identifiers hashed)
	EnableAuditLogging bool `env:"OAUTH_AUDIT_LOG" envDefault:"true"`

	// EnableTelemetry registers metrics and spans with the global OpenTelemetry providers
	EnableTelemetry bool `env:"OAUTH_TELEMETRY"`

	// LogClientIPs attaches client addresses to spans
	LogClientIPs bool `env:"OAUTH_LOG_CLIENT_IPS"`
}

// LoadConfig reads the configuration from the process environment.
func LoadConfig() (*Config, error) {
	return loadConfig(env.Options{}, os.LookupEnv)
}

// LoadConfigFromMap reads the configuration from environ instead of the
// process environment. Provider files are resolved against the same map.
func LoadConfigFromMap(environ map[string]string) (*Config, error) {
	lookup := func(key string) (string, bool) {
		v, ok := environ[key]
		return v, ok
	}
	return loadConfig(env.Options{Environment: environ}, lookup)
}

func loadConfig(opts env.Options, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = cfg.LegacySessionSecret
	}
	cfg.lookupEnv = lookup

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.RedirectURI)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("invalid OAUTH_REDIRECT_URI: %w", err))
	case u.Host == "":
		errs = append(errs, fmt.Errorf("OAUTH_REDIRECT_URI must be an absolute URL"))
	case u.Scheme == "http" && !util.IsLoopbackHostname(u.Hostname()):
		errs = append(errs, fmt.Errorf("OAUTH_REDIRECT_URI must use https unless it points to localhost"))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("OAUTH_REDIRECT_URI must use http or https, got %q", u.Scheme))
	}

	switch c.Storage.Backend {
	case StorageFile, StorageMemory, StorageSQLite, StorageValkey:
	default:
		errs = append(errs, fmt.Errorf("unknown OAUTH_STORAGE backend %q", c.Storage.Backend))
	}

	if c.EncryptionKey != "" {
		if _, err := security.KeyFromBase64(c.EncryptionKey); err != nil {
			errs = append(errs, fmt.Errorf("invalid OAUTH_ENCRYPTION_KEY: %w", err))
		}
	} else if c.SessionSecret != "" && len(c.SessionSecret) < security.MinSecretLength {
		errs = append(errs, fmt.Errorf("OAUTH_SESSION_SECRET must be at least %d characters", security.MinSecretLength))
	}

	if c.RateLimit.Rate < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("rate limit values must not be negative"))
	}

	return errors.Join(errs...)
}

// encryptionKey returns the at-rest key: the explicit key when set,
// otherwise one derived from the session secret. Nil disables encryption.
func (c *Config) encryptionKey() ([]byte, error) {
	if c.EncryptionKey != "" {
		return security.KeyFromBase64(c.EncryptionKey)
	}
	if c.SessionSecret != "" {
		return security.DeriveKey(c.SessionSecret)
	}
	return nil, nil
}

// ServerConfig returns the lifecycle settings for the server package
func (c *Config) ServerConfig() *server.Config {
	return &server.Config{
		RefreshMargin:   c.Lifecycle.RefreshMargin,
		FlowTTL:         c.Lifecycle.FlowTTL,
		RefreshTimeout:  c.Lifecycle.RefreshTimeout,
		RefreshMaxTries: c.Lifecycle.RefreshMaxTries,
		RevokeTimeout:   c.Lifecycle.RevokeTimeout,
	}
}

// BuildRegistry registers every built-in service with credentials set,
// followed by the entries of ProvidersFile.
func (c *Config) BuildRegistry() (*providers.Registry, error) {
	base := util.NormalizeURL(c.RedirectURI)
	var configs []providers.Config

	if c.Salesforce.ClientID != "" {
		configs = append(configs, providers.Salesforce(c.Salesforce.ClientID, c.Salesforce.ClientSecret, base, c.Salesforce.Sandbox))
	}
	if c.Shopify.ClientID != "" && c.Shopify.ShopDomain != "" {
		configs = append(configs, providers.Shopify(c.Shopify.ClientID, c.Shopify.ClientSecret, base, c.Shopify.ShopDomain))
	}
	if c.HubSpot.ClientID != "" {
		configs = append(configs, providers.HubSpot(c.HubSpot.ClientID, c.HubSpot.ClientSecret, base))
	}
	if c.Slack.ClientID != "" {
		configs = append(configs, providers.Slack(c.Slack.ClientID, c.Slack.ClientSecret, base))
	}
	if c.Calendly.ClientID != "" {
		configs = append(configs, providers.Calendly(c.Calendly.ClientID, c.Calendly.ClientSecret, base))
	}
	if c.Zendesk.ClientID != "" && c.Zendesk.Subdomain != "" {
		configs = append(configs, providers.Zendesk(c.Zendesk.ClientID, c.Zendesk.ClientSecret, base, c.Zendesk.Subdomain))
	}

	if c.ProvidersFile != "" {
		lookup := c.lookupEnv
		if lookup == nil {
			lookup = os.LookupEnv
		}
		extra, err := providers.LoadFile(c.ProvidersFile, base, lookup)
		if err != nil {
			return nil, err
		}
		configs = append(configs, extra...)
	}

	return providers.NewRegistry(configs...)
}
