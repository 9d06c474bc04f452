package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*Instrumentation, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	inst, err := New(Config{Enabled: true, TracerProvider: tp})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return inst, recorder
}

func TestRecordError(t *testing.T) {
	inst, recorder := newRecordingTracer(t)

	_, span := inst.Tracer("provider").Start(context.Background(), "oauth.provider.refresh")
	RecordError(span, errors.New("invalid_grant"))
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status().Code)
	}
	if len(spans[0].Events()) == 0 {
		t.Error("expected an exception event on the span")
	}
}

func TestSetSpanSuccess(t *testing.T) {
	inst, recorder := newRecordingTracer(t)

	_, span := inst.Tracer("server").Start(context.Background(), "oauth.server.complete_flow")
	SetSpanSuccess(span)
	span.End()

	if got := recorder.Ended()[0].Status().Code; got != codes.Ok {
		t.Errorf("status = %v, want Ok", got)
	}
}

func TestHelpers_NilSpan(t *testing.T) {
	// Components without a tracer pass nil spans around
	RecordError(nil, errors.New("x"))
	SetSpanSuccess(nil)
	SetSpanError(nil, "x")
	AddServiceAttributes(nil, "demo", "expiring")
	AddPKCEAttributes(nil, "S256")
	AddStorageAttributes(nil, "get_token", "memory")
	AddProviderAttributes(nil, "demo", "refresh")
	AddHTTPAttributes(nil, "GET", "/oauth/callback", 200)
	AddSecurityAttributes(nil, "127.0.0.1")
}

func TestAddProviderAttributes(t *testing.T) {
	inst, recorder := newRecordingTracer(t)

	_, span := inst.Tracer("provider").Start(context.Background(), "oauth.provider.exchange")
	AddProviderAttributes(span, "slack", "exchange")
	span.End()

	attrs := map[string]string{}
	for _, kv := range recorder.Ended()[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs[AttrProviderName] != "slack" {
		t.Errorf("%s = %q, want slack", AttrProviderName, attrs[AttrProviderName])
	}
	if attrs[AttrProviderOperation] != "exchange" {
		t.Errorf("%s = %q, want exchange", AttrProviderOperation, attrs[AttrProviderOperation])
	}
}
