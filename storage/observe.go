package storage

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/service-oauth/instrumentation"
)

// Observer records spans and metrics for storage operations. A nil
// *Observer, or one built from nil instrumentation, does nothing.
type Observer struct {
	inst        *instrumentation.Instrumentation
	tracer      trace.Tracer
	storageType string
}

// NewObserver returns an observer that labels operations with storageType
// ("memory", "file", "sqlite", "valkey").
func NewObserver(inst *instrumentation.Instrumentation, storageType string) *Observer {
	o := &Observer{inst: inst, storageType: storageType}
	if inst != nil {
		o.tracer = inst.Tracer("storage")
	}
	return o
}

// Start begins a storage operation. The returned function must be called
// with the operation's outcome to end the span and record metrics.
//
//	ctx, done := s.observer.Start(ctx, "put_token", service)
//	defer func() { done(err) }()
func (o *Observer) Start(ctx context.Context, operation, service string) (context.Context, func(error)) {
	if o == nil || o.tracer == nil {
		return ctx, func(error) {}
	}

	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "oauth.storage."+operation,
		trace.WithAttributes(attribute.String(instrumentation.AttrStorageType, o.storageType)))
	instrumentation.AddStorageAttributes(span, operation, o.storageType)
	instrumentation.AddServiceAttributes(span, service, "")

	return ctx, func(err error) {
		defer span.End()

		result := "success"
		switch {
		case err == nil:
			instrumentation.SetSpanSuccess(span)
		case isMiss(err):
			// misses are expected outcomes, not failures
			result = "miss"
			instrumentation.SetSpanSuccess(span)
		default:
			result = "error"
			instrumentation.RecordError(span, err)
		}
		span.SetAttributes(attribute.String(instrumentation.AttrStorageResult, result))

		durationMs := float64(time.Since(start).Microseconds()) / 1000
		o.inst.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
	}
}

func isMiss(err error) bool {
	return errors.Is(err, ErrTokenNotFound) || errors.Is(err, ErrFlowNotFound)
}
