package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/service-oauth/instrumentation"
	"github.com/giantswarm/service-oauth/providers"
	"github.com/giantswarm/service-oauth/security"
	"github.com/giantswarm/service-oauth/storage"
)

// stateLogLength is the number of characters of a state included in logs
const stateLogLength = 8

// Server is the token lifecycle manager. It is safe for concurrent use.
type Server struct {
	registry   *providers.Registry
	exchanger  providers.Exchanger
	tokenStore storage.TokenStore
	flowStore  storage.FlowStore

	Auditor *security.Auditor
	Logger  *slog.Logger
	Config  *Config

	now func() time.Time

	// refreshGroup coalesces refreshes per service
	refreshGroup singleflight.Group

	// serviceLocks serializes local record writes per service so a refresh
	// that finishes after Revoke or a new CompleteFlow cannot resurrect
	// stale tokens
	serviceLocks sync.Map // service -> *sync.Mutex

	mu sync.Mutex
	// revoked holds services revoked since startup, with the revocation time
	revoked map[string]time.Time
	// epochs increments whenever a service's record is replaced by a flow
	// or removed by Revoke
	epochs map[string]uint64

	tracer  trace.Tracer
	metrics *instrumentation.Metrics
}

// New creates a new lifecycle manager
func New(
	registry *providers.Registry,
	exchanger providers.Exchanger,
	tokenStore storage.TokenStore,
	flowStore storage.FlowStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if registry == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if exchanger == nil {
		return nil, fmt.Errorf("token exchanger is required")
	}
	if tokenStore == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if flowStore == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	return &Server{
		registry:   registry,
		exchanger:  exchanger,
		tokenStore: tokenStore,
		flowStore:  flowStore,
		Config:     config,
		Logger:     logger,
		now:        time.Now,
		revoked:    make(map[string]time.Time),
		epochs:     make(map[string]uint64),
	}, nil
}

// SetClock replaces the clock used for expiry decisions. Intended for tests.
func (s *Server) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation enables tracing and metrics for the server and, when
// they support it, its exchanger and stores.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	s.tracer = inst.Tracer("server")
	s.metrics = inst.Metrics()

	type instrumentationSetter interface {
		SetInstrumentation(*instrumentation.Instrumentation)
	}
	if setter, ok := s.exchanger.(instrumentationSetter); ok {
		setter.SetInstrumentation(inst)
	}
	if setter, ok := s.tokenStore.(instrumentationSetter); ok {
		setter.SetInstrumentation(inst)
	}
	// a single backend often serves both roles
	if setter, ok := s.flowStore.(instrumentationSetter); ok && any(s.flowStore) != any(s.tokenStore) {
		setter.SetInstrumentation(inst)
	}
}

// Registry returns the provider registry the server was built with
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// provider returns the service's configuration or ErrUnknownService
func (s *Server) provider(service string) (providers.Config, error) {
	return s.registry.Get(service)
}

func (s *Server) serviceLock(service string) *sync.Mutex {
	mu, _ := s.serviceLocks.LoadOrStore(service, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *Server) epoch(service string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epochs[service]
}

// markAuthenticated clears a revocation marker and invalidates in-flight refreshes
func (s *Server) markAuthenticated(service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.revoked, service)
	s.epochs[service]++
}

func (s *Server) markRevoked(service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[service] = s.now()
	s.epochs[service]++
}

func (s *Server) isRevoked(service string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.revoked[service]
	return ok
}

func (s *Server) startSpan(ctx context.Context, operation, service string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, nil
	}
	ctx, span := s.tracer.Start(ctx, "oauth.server."+operation)
	instrumentation.AddServiceAttributes(span, service, "")
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	span.End()
}
