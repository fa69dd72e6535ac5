package pay

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"shadowrt/internal/pay/rpc"
	"shadowrt/internal/shop"
	dErrors "shadowrt/pkg/domain-errors"
	"shadowrt/pkg/label"
	"shadowrt/pkg/platform/provenance"
	"shadowrt/pkg/platform/provenance/store/memory"
	"shadowrt/pkg/shadow"
	"shadowrt/pkg/transport/grpclabel"
)

type stubPayments struct {
	handle func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func (s stubPayments) Charge(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.handle(ctx, req)
}

func startPayments(t *testing.T, rt *shadow.Runtime, srv rpc.PaymentsServer) *GRPCClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(grpclabel.UnaryServerInterceptor(rt)))
	rpc.RegisterPaymentsServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	c, err := NewGRPCClient("passthrough:///bufnet", label.JSONCodec{},
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGRPCChargeSendsLabelAndBilling(t *testing.T) {
	lbl := label.New("u1", nil)
	payRT := shadow.New(provenance.New("Pay", memory.NewInMemoryStore()))
	c := startPayments(t, payRT, stubPayments{handle: func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
		got, ok := grpclabel.LabelFrom(ctx)
		assert.True(t, ok)
		assert.True(t, lbl.Equal(got))

		fields := req.AsMap()
		assert.Equal(t, "u1", fields["user_id"])
		assert.Equal(t, "pen", fields["item"])
		assert.Equal(t, float64(500), fields["amount_cents"])
		assert.Equal(t, "1 Main St", fields["billing_address"])
		return structpb.NewStruct(map[string]any{"ok": true, "payment_id": 42})
	}})

	res, err := c.Charge(context.Background(),
		label.Wrap(shop.PaymentBlob{UserID: "u1", Item: "pen", AmountCents: 500}, lbl), "1 Main St")
	require.NoError(t, err)
	assert.Equal(t, shop.ChargeResult{OK: true, PaymentID: 42}, res)

	events, err := payRT.Log().Events(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, provenance.OpTransferIn, events[0].Operation)
	assert.Equal(t, lbl.TagID(), events[0].TagID)
}

func TestGRPCChargeFailures(t *testing.T) {
	blob := label.Wrap(shop.PaymentBlob{UserID: "u1"}, label.New("u1", nil))
	payRT := shadow.New(provenance.New("Pay", memory.NewInMemoryStore()))

	t.Run("error status", func(t *testing.T) {
		c := startPayments(t, payRT, stubPayments{handle: func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
			return nil, status.Error(codes.Unavailable, "provenance append failed")
		}})
		_, err := c.Charge(context.Background(), blob, "addr")
		assert.True(t, dErrors.HasCode(err, dErrors.CodePropagationFailure))
		assert.ErrorContains(t, err, "provenance append failed")
	})

	t.Run("slow service", func(t *testing.T) {
		c := startPayments(t, payRT, stubPayments{handle: func(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}})
		c.timeout = 20 * time.Millisecond
		_, err := c.Charge(context.Background(), blob, "addr")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
	})
}
