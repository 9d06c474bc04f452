package oauth

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/giantswarm/service-oauth/instrumentation"
	"github.com/giantswarm/service-oauth/providers"
	"github.com/giantswarm/service-oauth/security"
	"github.com/giantswarm/service-oauth/server"
	"github.com/giantswarm/service-oauth/storage"
	"github.com/giantswarm/service-oauth/storage/file"
	"github.com/giantswarm/service-oauth/storage/memory"
	"github.com/giantswarm/service-oauth/storage/sqlite"
	"github.com/giantswarm/service-oauth/storage/valkey"
)

// Service is a fully wired token lifecycle engine: the lifecycle server,
// its stores, the HTTP handler and telemetry.
type Service struct {
	Server          *server.Server
	Handler         *Handler
	Instrumentation *instrumentation.Instrumentation

	config  *Config
	logger  *slog.Logger
	closers []func() error
}

// New builds a Service from cfg: it registers the configured providers,
// opens the selected storage backend and wires security and telemetry.
func New(cfg *Config) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	registry, err := cfg.BuildRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to build provider registry: %w", err)
	}

	exchanger := providers.NewOAuth2Exchanger(providers.ExchangerConfig{
		HTTPClient: cfg.HTTPClient,
		Logger:     cfg.Logger,
	})

	return NewWithRegistry(cfg, registry, exchanger)
}

// NewWithRegistry is New with an explicit registry and exchanger
func NewWithRegistry(cfg *Config, registry *providers.Registry, exchanger providers.Exchanger) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	svc := &Service{
		config: cfg,
		logger: logger,
	}

	key, err := cfg.encryptionKey()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve encryption key: %w", err)
	}
	encryptor, err := security.NewEncryptor(key)
	if err != nil {
		return nil, err
	}

	tokens, flows, err := svc.openStores(encryptor)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}

	srv, err := server.New(registry, exchanger, tokens, flows, cfg.ServerConfig(), logger)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	srv.SetAuditor(security.NewAuditor(logger, cfg.Security.EnableAuditLogging))

	inst, err := instrumentation.New(instrumentation.Config{
		Enabled:      cfg.Security.EnableTelemetry,
		LogClientIPs: cfg.Security.LogClientIPs,
	})
	if err != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	srv.SetInstrumentation(inst)
	svc.closers = append(svc.closers, func() error {
		return inst.Shutdown(context.Background())
	})

	handler := NewHandler(srv, logger)
	handler.SetInstrumentation(inst)
	handler.SetClientIPResolver(security.ClientIPResolver{
		TrustProxy:        cfg.RateLimit.TrustProxy,
		TrustedProxyCount: cfg.RateLimit.TrustedProxyCount,
	})
	if cfg.RateLimit.Rate > 0 {
		limiter := security.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, logger)
		handler.SetRateLimiter(limiter)
		svc.closers = append(svc.closers, func() error {
			limiter.Stop()
			return nil
		})
	}

	svc.Server = srv
	svc.Handler = handler
	svc.Instrumentation = inst

	logger.Info("OAuth service initialized",
		"services", strings.Join(registry.Services(), ","),
		"storage", cfg.Storage.Backend,
		"encryption", encryptor.IsEnabled(),
		"rate_limit", cfg.RateLimit.Rate)
	if registry.Len() == 0 {
		logger.Warn("No OAuth services configured; set provider credentials in the environment")
	}

	return svc, nil
}

// openStores opens the configured token store. Backends without flow
// support keep pending flows in memory.
func (s *Service) openStores(enc *security.Encryptor) (storage.TokenStore, storage.FlowStore, error) {
	cfg := s.config.Storage

	switch cfg.Backend {
	case StorageMemory:
		store := s.memoryStore()
		return store, store, nil

	case StorageFile:
		store, err := file.New(cfg.TokenFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open token file: %w", err)
		}
		store.SetLogger(s.logger)
		store.SetEncryptor(enc)
		return store, s.memoryStore(), nil

	case StorageSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		s.closers = append(s.closers, store.Close)
		store.SetLogger(s.logger)
		store.SetEncryptor(enc)
		return store, s.memoryStore(), nil

	case StorageValkey:
		vcfg := valkey.Config{
			Address:      cfg.ValkeyAddr,
			Password:     cfg.ValkeyPassword,
			DB:           cfg.ValkeyDB,
			KeyPrefix:    cfg.ValkeyKeyPrefix,
			Logger:       s.logger,
			DisableCache: cfg.ValkeyDisableCache,
		}
		if cfg.ValkeyTLS {
			vcfg.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		store, err := valkey.New(vcfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to valkey: %w", err)
		}
		s.closers = append(s.closers, func() error {
			store.Close()
			return nil
		})
		store.SetEncryptor(enc)
		return store, store, nil
	}

	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

func (s *Service) memoryStore() *memory.Store {
	store := memory.New()
	store.SetLogger(s.logger)
	s.closers = append(s.closers, func() error {
		store.Stop()
		return nil
	})
	return store
}

// Close releases stores, background goroutines and telemetry, newest first.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
