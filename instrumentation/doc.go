// Package instrumentation provides OpenTelemetry instrumentation for the
// token-lifecycle engine.
//
// When enabled it reports to the globally registered OpenTelemetry meter and
// tracer providers (or explicitly supplied ones); when disabled it uses no-op
// providers with zero overhead.
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "service-oauth",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	srv.SetInstrumentation(inst)
//
// # Available Metrics
//
// HTTP Layer:
//   - oauth.http.requests.total{method, endpoint, status}
//   - oauth.http.request.duration{endpoint}
//
// Token lifecycle:
//   - oauth.authorization.started{service}
//   - oauth.flow.completed{service, success}
//   - oauth.code.exchanged{service, pkce}
//   - oauth.token.refreshed{service, rotated}
//   - oauth.token.refresh.failed{service, reason}
//   - oauth.token.refresh.coalesced{service}
//   - oauth.token.revoked{service, remote}
//
// Storage and providers:
//   - storage.operation.total / storage.operation.duration{operation, result}
//   - storage.tokens.count, storage.flows.count (observable gauges)
//   - provider.api.calls.total / provider.api.duration / provider.api.errors
//
// Security:
//   - oauth.rate_limit.exceeded{limiter_type}
//   - oauth.state.rejected
//   - security.audit.events.total{event_type}
//   - security.encryption.operations.total / security.encryption.duration
//
// SECURITY: never attach token values, authorization codes or PKCE verifiers
// to spans or metric attributes. Only metadata such as service names, token
// types and result flags are recorded.
package instrumentation
