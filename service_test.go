package oauth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/giantswarm/service-oauth/internal/testutil"
	"github.com/giantswarm/service-oauth/providers"
)

func testServiceConfig(t *testing.T, storage StorageConfig) *Config {
	t.Helper()
	return &Config{
		RedirectURI: testRedirectBase,
		Storage:     storage,
		Security:    SecurityConfig{EnableAuditLogging: true},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func demoRegistry(t *testing.T, endpoint *testutil.TokenEndpoint) *providers.Registry {
	t.Helper()
	reg, err := providers.NewRegistry(providers.Config{
		Name:         "demo",
		AuthURL:      endpoint.AuthURL(),
		TokenURL:     endpoint.TokenURL(),
		Scopes:       []string{"read"},
		PKCERequired: true,
		ClientID:     "demo-client",
		RedirectURL:  providers.RedirectURLFor(testRedirectBase, "demo"),
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

// completeDemoFlow authenticates "demo" through the service's server
func completeDemoFlow(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()

	authURL, _, err := svc.Server.GetAuthorizationURL(ctx, "demo")
	if err != nil {
		t.Fatalf("GetAuthorizationURL() error = %v", err)
	}
	u, _ := url.Parse(authURL)
	if _, _, err := svc.Server.CompleteFlow(ctx, "demo", "code", u.Query().Get("state")); err != nil {
		t.Fatalf("CompleteFlow() error = %v", err)
	}
}

func TestNewWithRegistry_Backends(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := t.TempDir()

	tests := []struct {
		name    string
		storage StorageConfig
	}{
		{"memory", StorageConfig{Backend: StorageMemory}},
		{"file", StorageConfig{Backend: StorageFile, TokenFile: filepath.Join(dir, "tokens.json")}},
		{"sqlite", StorageConfig{Backend: StorageSQLite, SQLitePath: filepath.Join(dir, "tokens.db")}},
		{"valkey", StorageConfig{Backend: StorageValkey, ValkeyAddr: mr.Addr(), ValkeyKeyPrefix: "test:", ValkeyDisableCache: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			endpoint := testutil.NewTokenEndpoint(t)
			exchanger := providers.NewOAuth2Exchanger(providers.ExchangerConfig{HTTPClient: endpoint.Server.Client()})

			svc, err := NewWithRegistry(testServiceConfig(t, tt.storage), demoRegistry(t, endpoint), exchanger)
			if err != nil {
				t.Fatalf("NewWithRegistry() error = %v", err)
			}
			defer func() {
				if err := svc.Close(); err != nil {
					t.Errorf("Close() error = %v", err)
				}
			}()

			completeDemoFlow(t, svc)

			tok, err := svc.Server.AccessToken(context.Background(), "demo")
			if err != nil {
				t.Fatalf("AccessToken() error = %v", err)
			}
			if tok != "stub-access-token" {
				t.Errorf("AccessToken() = %q", tok)
			}
		})
	}
}

func TestNewWithRegistry_UnknownBackend(t *testing.T) {
	endpoint := testutil.NewTokenEndpoint(t)
	cfg := testServiceConfig(t, StorageConfig{Backend: "carrier-pigeon"})

	_, err := NewWithRegistry(cfg, demoRegistry(t, endpoint), providers.NewOAuth2Exchanger(providers.ExchangerConfig{}))
	if err == nil || !strings.Contains(err.Error(), "unknown storage backend") {
		t.Fatalf("error = %v, want unknown storage backend", err)
	}
}

func TestNewWithRegistry_EncryptsFileStore(t *testing.T) {
	endpoint := testutil.NewTokenEndpoint(t)
	path := filepath.Join(t.TempDir(), "tokens.json")

	cfg := testServiceConfig(t, StorageConfig{Backend: StorageFile, TokenFile: path})
	cfg.SessionSecret = "a-long-enough-session-secret"

	exchanger := providers.NewOAuth2Exchanger(providers.ExchangerConfig{HTTPClient: endpoint.Server.Client()})
	svc, err := NewWithRegistry(cfg, demoRegistry(t, endpoint), exchanger)
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	completeDemoFlow(t, svc)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "stub-access-token") || strings.Contains(string(data), "stub-refresh-token") {
		t.Error("token file contains plaintext tokens")
	}

	// a second service with the same secret reads the tokens back
	svc2, err := NewWithRegistry(cfg, demoRegistry(t, endpoint), exchanger)
	if err != nil {
		t.Fatal(err)
	}
	defer svc2.Close()

	tok, err := svc2.Server.AccessToken(context.Background(), "demo")
	if err != nil || tok != "stub-access-token" {
		t.Errorf("AccessToken() = %q, %v", tok, err)
	}
}

func TestNew_FromEnvironment(t *testing.T) {
	cfg, err := LoadConfigFromMap(map[string]string{
		"OAUTH_STORAGE":      "memory",
		"SLACK_CLIENT_ID":    "slack-id",
		"HUBSPOT_CLIENT_ID":  "hubspot-id",
		"CALENDLY_CLIENT_ID": "calendly-id",
	})
	if err != nil {
		t.Fatal(err)
	}
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer svc.Close()

	got := strings.Join(svc.Server.Registry().Services(), ",")
	if got != "calendly,hubspot,slack" {
		t.Errorf("Services() = %s", got)
	}

	rr := testutil.NewHTTPRequest(http.MethodGet, "/oauth/authorize/slack").Do(svc.Handler.Routes())
	if rr.Code != http.StatusFound {
		t.Fatalf("status = %d", rr.Code)
	}
	loc, _ := url.Parse(rr.Header().Get("Location"))
	if loc.Host != "slack.com" {
		t.Errorf("Location host = %q, want slack.com", loc.Host)
	}
	if loc.Query().Get("scope") != "chat:write,channels:read,files:write" {
		t.Errorf("scope = %q", loc.Query().Get("scope"))
	}
}

func TestNew_NilConfig(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestService_CloseIdempotent(t *testing.T) {
	endpoint := testutil.NewTokenEndpoint(t)
	svc, err := NewWithRegistry(testServiceConfig(t, StorageConfig{Backend: StorageMemory}), demoRegistry(t, endpoint), providers.NewOAuth2Exchanger(providers.ExchangerConfig{}))
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
