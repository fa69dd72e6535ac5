// Package grpclabel carries provenance labels in gRPC metadata.
//
// The client interceptor attaches the label a caller put on the context with
// WithLabel. The server interceptor decodes it, logs transfer_in for the
// request message and hands the label to the handler through LabelFrom.
package grpclabel

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	dErrors "shadowrt/pkg/domain-errors"
	"shadowrt/pkg/label"
	"shadowrt/pkg/shadow"
)

// MetadataKey is the gRPC metadata key for the encoded label. gRPC keys are
// lowercase; this is the X-Shadow-Label header of the HTTP transport.
const MetadataKey = "x-shadow-label"

type ctxKey struct{}

// WithLabel marks ctx so the client interceptor sends lbl with the next call.
func WithLabel(ctx context.Context, lbl label.Label) context.Context {
	return context.WithValue(ctx, ctxKey{}, lbl)
}

// LabelFrom returns the label a server interceptor decoded for this call.
func LabelFrom(ctx context.Context) (label.Label, bool) {
	lbl, ok := ctx.Value(ctxKey{}).(label.Label)
	return lbl, ok && !lbl.IsZero()
}

// UnaryClientInterceptor encodes the context label with codec into outgoing
// metadata. Calls without a label pass through unchanged.
func UnaryClientInterceptor(codec label.Codec) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if lbl, ok := LabelFrom(ctx); ok {
			header, err := codec.Encode(lbl)
			if err != nil {
				return err
			}
			ctx = metadata.AppendToOutgoingContext(ctx, MetadataKey, header)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// UnaryServerInterceptor logs transfer_in through rt for every call that
// carries a label. The payload hashed is the deterministic wire encoding of
// the request message. A call whose label cannot be decoded or logged is
// rejected before the handler runs.
func UnaryServerInterceptor(rt *shadow.Runtime) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get(MetadataKey)
		if len(values) == 0 {
			return handler(ctx, req)
		}
		if len(values) > 1 {
			return nil, status.Error(codes.InvalidArgument, "multiple "+MetadataKey+" values")
		}
		body, err := messageBytes(req)
		if err != nil {
			return nil, ToStatus(err)
		}
		tagged, err := shadow.Receive[[]byte](ctx, rt, values[0], body)
		if err != nil {
			return nil, ToStatus(err)
		}
		return handler(WithLabel(ctx, tagged.Label()), req)
	}
}

func messageBytes(req any) ([]byte, error) {
	if msg, ok := req.(proto.Message); ok {
		b, err := proto.MarshalOptions{Deterministic: true}.Marshal(msg)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "encode request message")
		}
		return b, nil
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "encode request message")
	}
	return b, nil
}

// ToStatus maps a coded error onto a gRPC status.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeMalformedLabel, dErrors.CodeNotTagged:
		return status.Error(codes.InvalidArgument, err.Error())
	case dErrors.CodeNotFound:
		return status.Error(codes.NotFound, err.Error())
	case dErrors.CodeConflict:
		return status.Error(codes.Aborted, err.Error())
	case dErrors.CodeTimeout:
		return status.Error(codes.DeadlineExceeded, err.Error())
	case dErrors.CodeLogWriteFailure, dErrors.CodePropagationFailure:
		return status.Error(codes.Unavailable, err.Error())
	case dErrors.CodeNoIdentityContext:
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, "internal server error")
	}
}
