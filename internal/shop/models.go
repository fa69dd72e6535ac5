// Package shop is the reference storefront: it keeps users and purchases in
// its own database and exports a labeled payment blob to the payment service
// for every purchase.
package shop

import (
	"strconv"
	"time"

	id "shadowrt/pkg/domain"
)

// Entities recorded as insert_* provenance events.
const (
	EntityUser     = "user"
	EntityPurchase = "purchase"
)

type User struct {
	UserID id.UserID
	Name   string
}

type Purchase struct {
	ID          int64
	UserID      id.UserID
	Item        string
	AmountCents int64
	CreatedAt   time.Time
}

// PaymentBlob is the labeled value exported to the payment service. The
// billing address travels with the charge call but is not part of the blob.
type PaymentBlob struct {
	UserID      id.UserID `json:"user_id"`
	AmountCents int64     `json:"amount_cents"`
	Item        string    `json:"item"`
	TS          float64   `json:"ts"`
}

// PurchaseRequest is a validated purchase order.
type PurchaseRequest struct {
	UserID         id.UserID
	Item           string
	AmountCents    int64
	BillingAddress string
}

// ChargeResult is the payment service's answer to a charge.
type ChargeResult struct {
	OK        bool  `json:"ok"`
	PaymentID int64 `json:"payment_id"`
}

type PurchaseResult struct {
	PurchaseID int64
	Charge     ChargeResult
}

// UserTag is the tag of the insert_user event for a user row.
func UserTag(userID id.UserID) id.TagID {
	return id.TagID(EntityUser + ":" + string(userID))
}

// PurchaseTag is the tag of the insert_purchase event for a purchase row.
func PurchaseTag(purchaseID int64) id.TagID {
	return id.TagID(EntityPurchase + ":" + strconv.FormatInt(purchaseID, 10))
}
