package service

import (
	"context"
	"encoding/json"

	"shadowrt/internal/pay"
	"shadowrt/pkg/cascade"
	id "shadowrt/pkg/domain"
	dErrors "shadowrt/pkg/domain-errors"
	"shadowrt/pkg/label"
	"shadowrt/pkg/platform/provenance"
	"shadowrt/pkg/requestcontext"
	"shadowrt/pkg/shadow"
)

type Store interface {
	InsertPayment(ctx context.Context, p pay.Payment) (int64, error)
	DeleteUser(ctx context.Context, userID id.UserID) (int, error)
}

// Service implements the payment service's use cases.
type Service struct {
	store Store
	rt    *shadow.Runtime
	leaf  *cascade.Leaf
}

func New(store Store, rt *shadow.Runtime) *Service {
	return &Service{
		store: store,
		rt:    rt,
		leaf:  cascade.NewLeaf(rt.Log(), store),
	}
}

// Charge stores an imported charge and records insert_payment under the
// label it arrived with. The body must name the labeled user.
func (s *Service) Charge(ctx context.Context, charge label.Tagged[pay.ChargeRequest]) (int64, error) {
	lbl := charge.Label()
	if lbl.IsZero() {
		return 0, dErrors.New(dErrors.CodeNotTagged, "charge arrived without a label")
	}
	req := charge.Value()
	if id.UserID(req.UserID) != lbl.UserID() {
		return 0, dErrors.New(dErrors.CodeBadRequest, "charge user does not match its label")
	}

	paymentID, err := s.store.InsertPayment(ctx, pay.Payment{
		UserID:         lbl.UserID(),
		BillingAddress: req.BillingAddress,
		Item:           req.Item,
		AmountCents:    req.AmountCents,
		CreatedAt:      requestcontext.Now(ctx),
	})
	if err != nil {
		return 0, err
	}

	payload, _ := json.Marshal(req)
	if _, err := s.rt.Record(ctx, provenance.InsertOperation(pay.EntityPayment), lbl.UserID(),
		pay.PaymentTag(paymentID), payload, map[string]any{"source_tag": lbl.TagID().String()}); err != nil {
		return 0, err
	}
	return paymentID, nil
}

// DeleteByUser erases the user's payments and acknowledges the cascade.
func (s *Service) DeleteByUser(ctx context.Context, userID id.UserID) (cascade.Ack, error) {
	return s.leaf.Erase(ctx, userID)
}

func (s *Service) Provenance(ctx context.Context, userID id.UserID) ([]provenance.Event, error) {
	return s.rt.Log().Events(ctx, userID)
}
