package pay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"shadowrt/internal/pay/rpc"
	"shadowrt/internal/shop"
	dErrors "shadowrt/pkg/domain-errors"
	"shadowrt/pkg/label"
	"shadowrt/pkg/transport/grpclabel"
)

// GRPCClient sends labeled charges to the payment service over gRPC.
type GRPCClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// NewGRPCClient connects to target. Each charge's label is encoded with codec
// into call metadata. opts are appended to the defaults.
func NewGRPCClient(target string, codec label.Codec, opts ...grpc.DialOption) (*GRPCClient, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(grpclabel.UnaryClientInterceptor(codec)),
	}, opts...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect to payment service: %w", err)
	}
	return &GRPCClient{conn: conn, timeout: defaultTimeout}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// Charge sends blob under its label with the billing address attached.
func (c *GRPCClient) Charge(ctx context.Context, blob label.Tagged[shop.PaymentBlob], billingAddress string) (shop.ChargeResult, error) {
	msg, err := toStruct(chargeBody{PaymentBlob: blob.Value(), BillingAddress: billingAddress})
	if err != nil {
		return shop.ChargeResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "encode charge")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out, err := rpc.Charge(grpclabel.WithLabel(ctx, blob.Label()), c.conn, msg)
	if err != nil {
		st := status.Convert(err)
		if st.Code() == codes.DeadlineExceeded {
			return shop.ChargeResult{}, dErrors.Wrap(err, dErrors.CodeTimeout, "payment service did not answer")
		}
		return shop.ChargeResult{}, dErrors.New(dErrors.CodePropagationFailure,
			fmt.Sprintf("payment service returned %s: %s", st.Code(), st.Message()))
	}

	var result shop.ChargeResult
	raw, err := json.Marshal(out.AsMap())
	if err == nil {
		err = json.Unmarshal(raw, &result)
	}
	if err != nil {
		return shop.ChargeResult{}, dErrors.Wrap(err, dErrors.CodePropagationFailure, "decode charge response")
	}
	return result, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}
