package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"shadowrt/internal/shop"
	"shadowrt/pkg/cascade"
	id "shadowrt/pkg/domain"
	"shadowrt/pkg/label"
	"shadowrt/pkg/platform/provenance"
	"shadowrt/pkg/requestcontext"
	"shadowrt/pkg/shadow"
)

// DefaultPayApp is the destination name of the payment service.
const DefaultPayApp = "Pay"

const deletionReason = "user deletion request"

// Store is the shop's domain persistence.
type Store interface {
	UpsertUser(ctx context.Context, u shop.User) error
	InsertPurchase(ctx context.Context, p shop.Purchase) (int64, error)
}

// PaymentClient sends a labeled payment blob to the payment service.
type PaymentClient interface {
	Charge(ctx context.Context, blob label.Tagged[shop.PaymentBlob], billingAddress string) (shop.ChargeResult, error)
}

// Eraser runs a deletion cascade.
type Eraser interface {
	Erase(ctx context.Context, userID id.UserID, reason string) (*cascade.Receipt, error)
}

// Service implements the shop's use cases on top of the shadow runtime.
type Service struct {
	store  Store
	rt     *shadow.Runtime
	eraser Eraser
	logger *slog.Logger
	payApp string

	buildBlob func(context.Context, shop.PurchaseRequest) (label.Tagged[shop.PaymentBlob], error)
	sendToPay func(context.Context, label.Tagged[shop.PaymentBlob], string) (shop.ChargeResult, error)
}

type Option func(*Service)

// WithPayApp overrides the destination name recorded on transfer_out.
func WithPayApp(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.payApp = name
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(store Store, rt *shadow.Runtime, payments PaymentClient, eraser Eraser, opts ...Option) *Service {
	s := &Service{
		store:  store,
		rt:     rt,
		eraser: eraser,
		logger: slog.Default(),
		payApp: DefaultPayApp,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.buildBlob = shadow.Source(rt, "build_payment_blob", buildPaymentBlob)
	s.sendToPay = shadow.Sink(rt, s.payApp, "send_to_pay", payments.Charge)
	return s
}

// buildPaymentBlob is the data leaving the shop for a purchase.
func buildPaymentBlob(ctx context.Context, req shop.PurchaseRequest) (shop.PaymentBlob, error) {
	now := requestcontext.Now(ctx)
	return shop.PaymentBlob{
		UserID:      req.UserID,
		AmountCents: req.AmountCents,
		Item:        req.Item,
		TS:          float64(now.UnixNano()) / 1e9,
	}, nil
}

// CreateUser upserts the user and records insert_user.
func (s *Service) CreateUser(ctx context.Context, u shop.User) error {
	if err := s.store.UpsertUser(ctx, u); err != nil {
		return err
	}
	payload, _ := json.Marshal(map[string]string{"name": u.Name})
	_, err := s.rt.Record(ctx, provenance.InsertOperation(shop.EntityUser), u.UserID, shop.UserTag(u.UserID), payload, nil)
	return err
}

// Purchase stores the purchase, then exports a payment blob labeled with the
// buyer's identity to the payment service.
func (s *Service) Purchase(ctx context.Context, req shop.PurchaseRequest) (*shop.PurchaseResult, error) {
	purchaseID, err := s.store.InsertPurchase(ctx, shop.Purchase{
		UserID:      req.UserID,
		Item:        req.Item,
		AmountCents: req.AmountCents,
		CreatedAt:   requestcontext.Now(ctx),
	})
	if err != nil {
		return nil, err
	}
	payload, _ := json.Marshal(map[string]any{"item": req.Item, "amount_cents": req.AmountCents})
	if _, err := s.rt.Record(ctx, provenance.InsertOperation(shop.EntityPurchase), req.UserID,
		shop.PurchaseTag(purchaseID), payload, nil); err != nil {
		return nil, err
	}

	blob, err := shadow.AsUser(ctx, req.UserID, func(ctx context.Context) (label.Tagged[shop.PaymentBlob], error) {
		return s.buildBlob(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	charge, err := s.sendToPay(ctx, blob, req.BillingAddress)
	if err != nil {
		s.logger.ErrorContext(ctx, "charge failed",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", req.UserID,
			"purchase_id", purchaseID,
			"destination", s.payApp,
			"error", err,
		)
		return nil, err
	}
	return &shop.PurchaseResult{PurchaseID: purchaseID, Charge: charge}, nil
}

// DeleteUser runs the deletion cascade for userID.
func (s *Service) DeleteUser(ctx context.Context, userID id.UserID) (*cascade.Receipt, error) {
	return s.eraser.Erase(ctx, userID, deletionReason)
}

// Provenance returns the user's events in this service's log.
func (s *Service) Provenance(ctx context.Context, userID id.UserID) ([]provenance.Event, error) {
	return s.rt.Log().Events(ctx, userID)
}
