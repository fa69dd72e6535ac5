// Package pay is the reference payment service. It imports labeled payment
// blobs from the shop and is a leaf of the deletion cascade.
package pay

import (
	"strconv"
	"strings"
	"time"

	id "shadowrt/pkg/domain"
	dErrors "shadowrt/pkg/domain-errors"
)

// EntityPayment is recorded as insert_payment.
const EntityPayment = "payment"

type Payment struct {
	ID             int64
	UserID         id.UserID
	BillingAddress string
	Item           string
	AmountCents    int64
	CreatedAt      time.Time
}

// ChargeRequest is a charge as the shop sends it, over HTTP as the body of
// POST /charge or over gRPC as the Charge request struct.
type ChargeRequest struct {
	UserID         string   `json:"user_id"`
	AmountCents    int64    `json:"amount_cents"`
	Item           string   `json:"item"`
	BillingAddress string   `json:"billing_address"`
	TS             *float64 `json:"ts,omitempty"`
}

// Validate checks and trims a charge after its label has been accepted.
func (r *ChargeRequest) Validate() error {
	if _, err := id.ParseUserID(r.UserID); err != nil {
		return err
	}
	r.Item = strings.TrimSpace(r.Item)
	if r.Item == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "item is required")
	}
	if r.AmountCents <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "amount_cents must be positive")
	}
	r.BillingAddress = strings.TrimSpace(r.BillingAddress)
	if r.BillingAddress == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "billing_address is required")
	}
	return nil
}

// PaymentTag is the tag of the insert_payment event for a payment row.
func PaymentTag(paymentID int64) id.TagID {
	return id.TagID(EntityPayment + ":" + strconv.FormatInt(paymentID, 10))
}
