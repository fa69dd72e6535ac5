package handler

import (
	"strings"

	"shadowrt/internal/shop"
	id "shadowrt/pkg/domain"
	dErrors "shadowrt/pkg/domain-errors"
)

type CreateUserRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`

	parsedUserID id.UserID
}

// Validate implements httputil.Validatable.
func (r *CreateUserRequest) Validate() error {
	uid, err := id.ParseUserID(r.UserID)
	if err != nil {
		return err
	}
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "name is required")
	}
	r.parsedUserID = uid
	return nil
}

func (r *CreateUserRequest) User() shop.User {
	return shop.User{UserID: r.parsedUserID, Name: r.Name}
}

type PurchaseRequest struct {
	UserID         string `json:"user_id"`
	Item           string `json:"item"`
	AmountCents    int64  `json:"amount_cents"`
	BillingAddress string `json:"billing_address"`

	parsedUserID id.UserID
}

// Validate implements httputil.Validatable.
func (r *PurchaseRequest) Validate() error {
	uid, err := id.ParseUserID(r.UserID)
	if err != nil {
		return err
	}
	r.Item = strings.TrimSpace(r.Item)
	r.BillingAddress = strings.TrimSpace(r.BillingAddress)
	switch {
	case r.Item == "":
		return dErrors.New(dErrors.CodeInvalidInput, "item is required")
	case r.AmountCents <= 0:
		return dErrors.New(dErrors.CodeInvalidInput, "amount_cents must be positive")
	case r.BillingAddress == "":
		return dErrors.New(dErrors.CodeInvalidInput, "billing_address is required")
	}
	r.parsedUserID = uid
	return nil
}

func (r *PurchaseRequest) Domain() shop.PurchaseRequest {
	return shop.PurchaseRequest{
		UserID:         r.parsedUserID,
		Item:           r.Item,
		AmountCents:    r.AmountCents,
		BillingAddress: r.BillingAddress,
	}
}
