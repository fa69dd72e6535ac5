package grpc_test

import (
	"context"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"shadowrt/internal/pay"
	paygrpc "shadowrt/internal/pay/adapters/grpc"
	"shadowrt/internal/pay/rpc"
	dErrors "shadowrt/pkg/domain-errors"
	"shadowrt/pkg/label"
	"shadowrt/pkg/platform/provenance"
	"shadowrt/pkg/platform/provenance/store/memory"
	"shadowrt/pkg/shadow"
	"shadowrt/pkg/transport/grpclabel"
)

type fakeCharger struct {
	charges []label.Tagged[pay.ChargeRequest]
	err     error
}

func (f *fakeCharger) Charge(_ context.Context, charge label.Tagged[pay.ChargeRequest]) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.charges = append(f.charges, charge)
	return int64(len(f.charges)), nil
}

type ChargeServerSuite struct {
	suite.Suite
	rt      *shadow.Runtime
	charger *fakeCharger
	server  *grpc.Server
	conn    *grpc.ClientConn
}

func TestChargeServerSuite(t *testing.T) {
	suite.Run(t, new(ChargeServerSuite))
}

func (s *ChargeServerSuite) SetupTest() {
	s.rt = shadow.New(provenance.New("Pay", memory.NewInMemoryStore()))
	s.charger = &fakeCharger{}

	lis := bufconn.Listen(1 << 20)
	s.server = paygrpc.NewGRPCServer(s.rt, s.charger, slog.New(slog.DiscardHandler))
	go func() { _ = s.server.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(grpclabel.UnaryClientInterceptor(label.JSONCodec{})),
	)
	s.Require().NoError(err)
	s.conn = conn
}

func (s *ChargeServerSuite) TearDownTest() {
	_ = s.conn.Close()
	s.server.Stop()
}

func (s *ChargeServerSuite) charge(ctx context.Context, fields map[string]any) (*structpb.Struct, error) {
	msg, err := structpb.NewStruct(fields)
	s.Require().NoError(err)
	return rpc.Charge(ctx, s.conn, msg)
}

func validCharge() map[string]any {
	return map[string]any{"user_id": "u1", "amount_cents": 500, "item": " pen ", "billing_address": "1 Main St", "ts": 1.5}
}

func (s *ChargeServerSuite) TestLabeledChargeIsImportedAndStored() {
	lbl := label.New("u1", nil)

	out, err := s.charge(grpclabel.WithLabel(context.Background(), lbl), validCharge())
	s.Require().NoError(err)
	s.Equal(true, out.AsMap()["ok"])
	s.Equal(float64(1), out.AsMap()["payment_id"])

	s.Require().Len(s.charger.charges, 1)
	got := s.charger.charges[0]
	s.True(lbl.Equal(got.Label()))
	s.Equal("pen", got.Value().Item)
	s.Equal(int64(500), got.Value().AmountCents)
	s.Require().NotNil(got.Value().TS)
	s.Equal(1.5, *got.Value().TS)

	events, err := s.rt.Log().Events(context.Background(), "u1")
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(provenance.OpTransferIn, events[0].Operation)
	s.Equal(lbl.TagID(), events[0].TagID)
}

func (s *ChargeServerSuite) TestUnlabeledChargeIsRejected() {
	_, err := s.charge(context.Background(), validCharge())

	s.Equal(codes.InvalidArgument, status.Code(err))
	s.Empty(s.charger.charges)
}

func (s *ChargeServerSuite) TestInvalidChargeIsRejectedAfterImport() {
	fields := validCharge()
	fields["amount_cents"] = 0

	_, err := s.charge(grpclabel.WithLabel(context.Background(), label.New("u1", nil)), fields)

	s.Equal(codes.InvalidArgument, status.Code(err))
	s.Contains(status.Convert(err).Message(), "amount_cents")
	s.Empty(s.charger.charges)
	events, err := s.rt.Log().Events(context.Background(), "u1")
	s.Require().NoError(err)
	s.Len(events, 1, "transfer_in is logged before the body is checked")
}

func (s *ChargeServerSuite) TestServiceErrorsMapToStatus() {
	s.charger.err = dErrors.New(dErrors.CodeLogWriteFailure, "provenance append failed")

	_, err := s.charge(grpclabel.WithLabel(context.Background(), label.New("u1", nil)), validCharge())

	s.Equal(codes.Unavailable, status.Code(err))
}
