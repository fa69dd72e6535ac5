// Package grpc exposes the payment service's Charge operation over gRPC.
// Labels travel in the x-shadow-label metadata key; the server interceptor
// logs transfer_in before Charge runs.
package grpc

import (
	"context"
	"encoding/json"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"shadowrt/internal/pay"
	"shadowrt/internal/pay/rpc"
	dErrors "shadowrt/pkg/domain-errors"
	"shadowrt/pkg/label"
	"shadowrt/pkg/shadow"
	"shadowrt/pkg/transport/grpclabel"
)

// Charger stores an imported charge.
type Charger interface {
	Charge(ctx context.Context, charge label.Tagged[pay.ChargeRequest]) (int64, error)
}

// Server adapts a Charger to rpc.PaymentsServer.
type Server struct {
	charger Charger
	logger  *slog.Logger
}

func NewServer(charger Charger, logger *slog.Logger) *Server {
	return &Server{charger: charger, logger: logger}
}

// NewGRPCServer returns a gRPC server that imports labels through rt and
// serves Payments/Charge.
func NewGRPCServer(rt *shadow.Runtime, charger Charger, logger *slog.Logger) *grpc.Server {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(grpclabel.UnaryServerInterceptor(rt)))
	rpc.RegisterPaymentsServer(s, NewServer(charger, logger))
	return s
}

func (s *Server) Charge(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	lbl, ok := grpclabel.LabelFrom(ctx)
	if !ok {
		return nil, grpclabel.ToStatus(dErrors.New(dErrors.CodeNotTagged, "charge carries no label"))
	}

	var req pay.ChargeRequest
	raw, err := json.Marshal(in.AsMap())
	if err == nil {
		err = json.Unmarshal(raw, &req)
	}
	if err != nil {
		return nil, grpclabel.ToStatus(dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid charge message"))
	}
	if err := req.Validate(); err != nil {
		return nil, grpclabel.ToStatus(err)
	}

	paymentID, err := s.charger.Charge(ctx, label.Wrap(req, lbl))
	if err != nil {
		s.logger.ErrorContext(ctx, "grpc charge failed", "user_id", req.UserID, "error", err)
		return nil, grpclabel.ToStatus(err)
	}
	s.logger.InfoContext(ctx, "charge stored",
		"transport", "grpc",
		"user_id", req.UserID,
		"payment_id", paymentID,
		"tag_id", lbl.TagID(),
	)
	return structpb.NewStruct(map[string]any{"ok": true, "payment_id": float64(paymentID)})
}
