// Package shadow wraps ordinary service functions so data they produce is
// labeled with the acting user, and every export and import of labeled data
// is recorded in the provenance log before it happens.
//
// A source reads the ambient identity from the context:
//
//	buildBlob := shadow.Source(rt, "build_payment_blob", buildPaymentBlob)
//	blob, err := shadow.AsUser(ctx, buyer, func(ctx context.Context) (label.Tagged[Blob], error) {
//		return buildBlob(ctx, req)
//	})
//
// A sink records transfer_out durably, then runs the transport call:
//
//	charge := shadow.Sink(rt, "Pay", "call_pay", callPay)
//	resp, err := charge(ctx, blob, billing)
package shadow

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	id "shadowrt/pkg/domain"
	dErrors "shadowrt/pkg/domain-errors"
	"shadowrt/pkg/label"
	"shadowrt/pkg/platform/provenance"
	"shadowrt/pkg/requestcontext"
)

const tracerName = "shadowrt/pkg/shadow"

// Runtime binds the combinators to one service's provenance log and label codec.
type Runtime struct {
	log      *provenance.Log
	codec    label.Codec
	policies label.Policies
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithCodec sets the codec used for label headers. Defaults to label.JSONCodec.
func WithCodec(c label.Codec) Option {
	return func(rt *Runtime) {
		if c != nil {
			rt.codec = c
		}
	}
}

// WithDefaultPolicies sets the policies attached by sources.
func WithDefaultPolicies(p label.Policies) Option {
	return func(rt *Runtime) {
		if p != nil {
			rt.policies = p
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(rt *Runtime) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(rt *Runtime) {
		if tp != nil {
			rt.tracer = tp.Tracer(tracerName)
		}
	}
}

func New(log *provenance.Log, opts ...Option) *Runtime {
	rt := &Runtime{
		log:      log,
		codec:    label.JSONCodec{},
		policies: label.DefaultPolicies(),
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// App is the name this runtime stamps as source_app.
func (rt *Runtime) App() string { return rt.log.App() }

func (rt *Runtime) Log() *provenance.Log { return rt.log }

func (rt *Runtime) Codec() label.Codec { return rt.codec }

// AsUser runs fn with userID as the acting user. The identity is visible
// only through the context handed to fn.
func AsUser[R any](ctx context.Context, userID id.UserID, fn func(ctx context.Context) (R, error)) (R, error) {
	return fn(requestcontext.WithActingUser(ctx, userID))
}

// Header encodes lbl for the wire with the runtime's codec.
func (rt *Runtime) Header(lbl label.Label) (string, error) {
	return rt.codec.Encode(lbl)
}

// Export records that v, which must carry a label, is leaving for destination.
// It is the untyped counterpart of Sink for code that handles values as any.
func (rt *Runtime) Export(ctx context.Context, destination string, v any) (label.Label, error) {
	labeled, ok := v.(label.Labeled)
	if !ok || labeled.Label().IsZero() {
		return label.Label{}, dErrors.New(dErrors.CodeNotTagged, "export requires a labeled value")
	}
	if err := rt.transferOut(ctx, destination, "export", labeled.Label(), labeled.Payload()); err != nil {
		return label.Label{}, err
	}
	return labeled.Label(), nil
}

// Record appends a domain event such as insert_payment for data that already
// carries a label.
func (rt *Runtime) Record(ctx context.Context, op provenance.Operation, userID id.UserID, tagID id.TagID, payload []byte, metadata map[string]any) (string, error) {
	return rt.log.Append(ctx, provenance.AppendRequest{
		Operation: op,
		UserID:    userID,
		TagID:     tagID,
		Payload:   payload,
		Metadata:  withRequestID(ctx, metadata),
	})
}

func (rt *Runtime) transferOut(ctx context.Context, destination, name string, lbl label.Label, payload any) error {
	ctx, span := rt.tracer.Start(ctx, "shadow.sink", trace.WithAttributes(
		attribute.String("shadow.function", name),
		attribute.String("shadow.destination", destination),
		attribute.String("shadow.tag_id", lbl.TagID().String()),
	))
	defer span.End()

	if destination == "" {
		err := dErrors.New(dErrors.CodeBadRequest, "sink requires a destination")
		recordError(span, err)
		return err
	}
	raw, err := canonicalBytes(payload)
	if err != nil {
		recordError(span, err)
		return err
	}
	_, err = rt.log.Append(ctx, provenance.AppendRequest{
		Operation:      provenance.OpTransferOut,
		UserID:         lbl.UserID(),
		TagID:          lbl.TagID(),
		Payload:        raw,
		DestinationApp: destination,
		Metadata:       withRequestID(ctx, map[string]any{"function": name}),
	})
	if err != nil {
		recordError(span, err)
		return err
	}
	return nil
}

func withRequestID(ctx context.Context, metadata map[string]any) map[string]any {
	reqID := requestcontext.RequestID(ctx)
	if reqID == "" {
		return metadata
	}
	out := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	if _, set := out["request_id"]; !set {
		out["request_id"] = reqID
	}
	return out
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
}
