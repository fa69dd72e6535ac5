package grpclabel_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"

	dErrors "shadowrt/pkg/domain-errors"
	"shadowrt/pkg/label"
	"shadowrt/pkg/platform/provenance"
	"shadowrt/pkg/platform/provenance/store/memory"
	"shadowrt/pkg/shadow"
	"shadowrt/pkg/transport/grpclabel"
)

type GRPCLabelSuite struct {
	suite.Suite
	shop     *shadow.Runtime
	pay      *shadow.Runtime
	server   *grpc.Server
	conn     *grpc.ClientConn
	client   healthpb.HealthClient
	received []label.Label
}

func TestGRPCLabelSuite(t *testing.T) {
	suite.Run(t, new(GRPCLabelSuite))
}

func (s *GRPCLabelSuite) SetupTest() {
	s.shop = shadow.New(provenance.New("Shop", memory.NewInMemoryStore()))
	s.pay = shadow.New(provenance.New("Pay", memory.NewInMemoryStore()))
	s.received = nil

	capture := func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if lbl, ok := grpclabel.LabelFrom(ctx); ok {
			s.received = append(s.received, lbl)
		}
		return handler(ctx, req)
	}

	lis := bufconn.Listen(1 << 20)
	s.server = grpc.NewServer(grpc.ChainUnaryInterceptor(grpclabel.UnaryServerInterceptor(s.pay), capture))
	healthpb.RegisterHealthServer(s.server, health.NewServer())
	go func() { _ = s.server.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(grpclabel.UnaryClientInterceptor(s.shop.Codec())),
	)
	s.Require().NoError(err)
	s.conn = conn
	s.client = healthpb.NewHealthClient(conn)
}

func (s *GRPCLabelSuite) TearDownTest() {
	_ = s.conn.Close()
	s.server.Stop()
}

func (s *GRPCLabelSuite) TestSinkOverGRPCLogsBothSides() {
	ctx := context.Background()
	req := &healthpb.HealthCheckRequest{Service: ""}
	check := shadow.Sink(s.shop, "Pay", "health_check",
		func(ctx context.Context, v label.Tagged[*healthpb.HealthCheckRequest], _ struct{}) (*healthpb.HealthCheckResponse, error) {
			return s.client.Check(grpclabel.WithLabel(ctx, v.Label()), v.Value())
		})

	lbl := label.New("u1", nil)
	resp, err := check(ctx, label.Wrap(req, lbl), struct{}{})
	s.Require().NoError(err)
	s.Equal(healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	s.Require().Len(s.received, 1)
	s.True(lbl.Equal(s.received[0]))

	out, err := s.shop.Log().Events(ctx, "u1")
	s.Require().NoError(err)
	s.Require().Len(out, 1)
	s.Equal(provenance.OpTransferOut, out[0].Operation)
	s.Equal("Pay", out[0].DestinationApp)

	in, err := s.pay.Log().Events(ctx, "u1")
	s.Require().NoError(err)
	s.Require().Len(in, 1)
	s.Equal(provenance.OpTransferIn, in[0].Operation)
	s.Equal(lbl.TagID(), in[0].TagID)

	wire, err := proto.MarshalOptions{Deterministic: true}.Marshal(req)
	s.Require().NoError(err)
	sum := sha256.Sum256(wire)
	s.Equal(hex.EncodeToString(sum[:]), in[0].PayloadHash)
}

func (s *GRPCLabelSuite) TestUnlabeledCallsPassThrough() {
	_, err := s.client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	s.Require().NoError(err)
	s.Empty(s.received)

	all, err := s.pay.Log().AllEvents(context.Background())
	s.Require().NoError(err)
	s.Empty(all)
}

func (s *GRPCLabelSuite) TestMalformedLabelIsRejected() {
	ctx := metadata.AppendToOutgoingContext(context.Background(), grpclabel.MetadataKey, "not-a-label")
	_, err := s.client.Check(ctx, &healthpb.HealthCheckRequest{})
	s.Require().Error(err)
	s.Equal(codes.InvalidArgument, status.Code(err))
	s.Empty(s.received)
}

func TestToStatus(t *testing.T) {
	cases := map[dErrors.Code]codes.Code{
		dErrors.CodeMalformedLabel:    codes.InvalidArgument,
		dErrors.CodeNotFound:          codes.NotFound,
		dErrors.CodeConflict:          codes.Aborted,
		dErrors.CodeTimeout:           codes.DeadlineExceeded,
		dErrors.CodeLogWriteFailure:   codes.Unavailable,
		dErrors.CodeNoIdentityContext: codes.FailedPrecondition,
		dErrors.CodeInternal:          codes.Internal,
	}
	for code, want := range cases {
		require.Equal(t, want, status.Code(grpclabel.ToStatus(dErrors.New(code, "x"))), code)
	}
	require.NoError(t, grpclabel.ToStatus(nil))
}
