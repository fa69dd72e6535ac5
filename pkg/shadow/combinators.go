package shadow

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	dErrors "shadowrt/pkg/domain-errors"
	"shadowrt/pkg/label"
	"shadowrt/pkg/platform/provenance"
	"shadowrt/pkg/requestcontext"
)

// Source wraps fn so its result is labeled with the acting user and a fresh
// tag, and exactly one source event is logged. Without an acting user the
// wrapped function fails with no_identity_context before fn runs. If fn
// fails, nothing is labeled or logged.
func Source[A, T any](rt *Runtime, name string, fn func(context.Context, A) (T, error)) func(context.Context, A) (label.Tagged[T], error) {
	return func(ctx context.Context, arg A) (label.Tagged[T], error) {
		ctx, span := rt.tracer.Start(ctx, "shadow.source", trace.WithAttributes(
			attribute.String("shadow.function", name),
		))
		defer span.End()

		userID, ok := requestcontext.ActingUser(ctx)
		if !ok {
			err := dErrors.New(dErrors.CodeNoIdentityContext, "source "+name+" called without an acting user")
			recordError(span, err)
			return label.Tagged[T]{}, err
		}

		value, err := fn(ctx, arg)
		if err != nil {
			return label.Tagged[T]{}, err
		}

		raw, err := canonicalBytes(value)
		if err != nil {
			recordError(span, err)
			return label.Tagged[T]{}, err
		}
		lbl := label.New(userID, rt.policies)
		_, err = rt.log.Append(ctx, provenance.AppendRequest{
			Operation: provenance.OpSource,
			UserID:    userID,
			TagID:     lbl.TagID(),
			Payload:   raw,
			Metadata:  withRequestID(ctx, map[string]any{"function": name}),
		})
		if err != nil {
			recordError(span, err)
			return label.Tagged[T]{}, err
		}
		span.SetAttributes(attribute.String("shadow.tag_id", lbl.TagID().String()))
		return label.Wrap(value, lbl), nil
	}
}

// Sink wraps fn, the call that hands a labeled value to destination. The
// transfer_out event is durable before fn runs; if it cannot be written fn is
// never called. fn's result and error are returned unchanged.
func Sink[T, A, R any](rt *Runtime, destination, name string, fn func(context.Context, label.Tagged[T], A) (R, error)) func(context.Context, label.Tagged[T], A) (R, error) {
	return func(ctx context.Context, tagged label.Tagged[T], arg A) (R, error) {
		var zero R
		if !tagged.IsTagged() {
			return zero, dErrors.New(dErrors.CodeNotTagged, "sink "+name+" requires a labeled value")
		}
		if err := rt.transferOut(ctx, destination, name, tagged.Label(), tagged.Value()); err != nil {
			return zero, err
		}
		return fn(ctx, tagged, arg)
	}
}

// Receive decodes an inbound label header, logs transfer_in for it and
// returns body decoded as T under that label. body is hashed as received.
func Receive[T any](ctx context.Context, rt *Runtime, header string, body []byte) (label.Tagged[T], error) {
	ctx, span := rt.tracer.Start(ctx, "shadow.receive")
	defer span.End()

	lbl, err := rt.codec.Decode(header)
	if err != nil {
		recordError(span, err)
		return label.Tagged[T]{}, err
	}
	span.SetAttributes(attribute.String("shadow.tag_id", lbl.TagID().String()))

	value, err := decodeBody[T](body)
	if err != nil {
		recordError(span, err)
		return label.Tagged[T]{}, err
	}

	_, err = rt.log.Append(ctx, provenance.AppendRequest{
		Operation: provenance.OpTransferIn,
		UserID:    lbl.UserID(),
		TagID:     lbl.TagID(),
		Payload:   body,
		Metadata:  withRequestID(ctx, nil),
	})
	if err != nil {
		recordError(span, err)
		return label.Tagged[T]{}, err
	}
	return label.Wrap(value, lbl), nil
}
