// Package rpc is the gRPC contract of the payment service. Messages are
// google.protobuf.Struct values with the same fields as the JSON bodies of
// the HTTP API, so both transports share one ChargeRequest.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName  = "shadowrt.pay.v1.Payments"
	ChargeMethod = "/" + ServiceName + "/Charge"
)

// PaymentsServer is implemented by the payment service's gRPC adapter.
type PaymentsServer interface {
	Charge(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterPaymentsServer registers srv on s.
func RegisterPaymentsServer(s grpc.ServiceRegistrar, srv PaymentsServer) {
	s.RegisterService(&paymentsServiceDesc, srv)
}

// Charge invokes Payments/Charge on cc.
func Charge(ctx context.Context, cc grpc.ClientConnInterface, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, ChargeMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func chargeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PaymentsServer).Charge(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ChargeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PaymentsServer).Charge(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var paymentsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PaymentsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Charge", Handler: chargeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shadowrt/pay/v1/payments",
}
