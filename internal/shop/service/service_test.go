package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"shadowrt/internal/shop"
	"shadowrt/pkg/cascade"
	id "shadowrt/pkg/domain"
	dErrors "shadowrt/pkg/domain-errors"
	"shadowrt/pkg/label"
	"shadowrt/pkg/platform/provenance"
	"shadowrt/pkg/platform/provenance/store/memory"
	"shadowrt/pkg/shadow"
)

type fakeStore struct {
	users     []shop.User
	purchases []shop.Purchase
}

func (f *fakeStore) UpsertUser(_ context.Context, u shop.User) error {
	f.users = append(f.users, u)
	return nil
}

func (f *fakeStore) InsertPurchase(_ context.Context, p shop.Purchase) (int64, error) {
	f.purchases = append(f.purchases, p)
	return int64(len(f.purchases)), nil
}

type fakePay struct {
	got label.Tagged[shop.PaymentBlob]
	err error
}

func (f *fakePay) Charge(_ context.Context, blob label.Tagged[shop.PaymentBlob], _ string) (shop.ChargeResult, error) {
	f.got = blob
	if f.err != nil {
		return shop.ChargeResult{}, f.err
	}
	return shop.ChargeResult{OK: true, PaymentID: 9}, nil
}

type fakeEraser struct {
	reason string
}

func (f *fakeEraser) Erase(_ context.Context, userID id.UserID, reason string) (*cascade.Receipt, error) {
	f.reason = reason
	return &cascade.Receipt{UserID: userID, State: cascade.StateDone}, nil
}

type ShopServiceSuite struct {
	suite.Suite
	store  *fakeStore
	pay    *fakePay
	eraser *fakeEraser
	svc    *Service
}

func TestShopServiceSuite(t *testing.T) {
	suite.Run(t, new(ShopServiceSuite))
}

func (s *ShopServiceSuite) SetupTest() {
	s.store = &fakeStore{}
	s.pay = &fakePay{}
	s.eraser = &fakeEraser{}
	rt := shadow.New(provenance.New("Shop", memory.NewInMemoryStore()))
	s.svc = New(s.store, rt, s.pay, s.eraser)
}

func (s *ShopServiceSuite) operations(userID id.UserID) []provenance.Operation {
	events, err := s.svc.Provenance(context.Background(), userID)
	s.Require().NoError(err)
	var ops []provenance.Operation
	for _, e := range events {
		ops = append(ops, e.Operation)
	}
	return ops
}

func (s *ShopServiceSuite) TestCreateUserRecordsInsertUser() {
	s.Require().NoError(s.svc.CreateUser(context.Background(), shop.User{UserID: "u1", Name: "Ada"}))

	events, err := s.svc.Provenance(context.Background(), "u1")
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(provenance.InsertOperation(shop.EntityUser), events[0].Operation)
	s.Equal(shop.UserTag("u1"), events[0].TagID)
}

func (s *ShopServiceSuite) TestPurchaseExportsLabeledBlob() {
	res, err := s.svc.Purchase(context.Background(), shop.PurchaseRequest{
		UserID: "u1", Item: "pen", AmountCents: 500, BillingAddress: "1 Main St",
	})
	s.Require().NoError(err)
	s.Equal(int64(1), res.PurchaseID)
	s.Equal(int64(9), res.Charge.PaymentID)

	s.Equal(id.UserID("u1"), s.pay.got.Label().UserID())
	s.Equal(shop.PaymentBlob{UserID: "u1", AmountCents: 500, Item: "pen", TS: s.pay.got.Value().TS}, s.pay.got.Value())
	s.Equal([]provenance.Operation{
		provenance.InsertOperation(shop.EntityPurchase), provenance.OpSource, provenance.OpTransferOut,
	}, s.operations("u1"))

	dests, err := s.svc.rt.Log().DestinationsForUser(context.Background(), "u1")
	s.Require().NoError(err)
	s.Equal([]string{DefaultPayApp}, dests)
}

func (s *ShopServiceSuite) TestFailedChargeKeepsPurchaseAndTransferOut() {
	s.pay.err = dErrors.New(dErrors.CodePropagationFailure, "pay unreachable")

	_, err := s.svc.Purchase(context.Background(), shop.PurchaseRequest{
		UserID: "u1", Item: "pen", AmountCents: 500, BillingAddress: "1 Main St",
	})
	s.True(dErrors.HasCode(err, dErrors.CodePropagationFailure))
	s.Len(s.store.purchases, 1)
	s.Contains(s.operations("u1"), provenance.OpTransferOut)
}

func (s *ShopServiceSuite) TestDeleteUserRunsCascade() {
	receipt, err := s.svc.DeleteUser(context.Background(), "u1")
	s.Require().NoError(err)
	s.Equal(cascade.StateDone, receipt.State)
	s.Equal(deletionReason, s.eraser.reason)
}
