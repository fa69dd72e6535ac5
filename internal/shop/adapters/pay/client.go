// Package pay holds the shop's clients for the payment service's charge
// operation, over HTTP and over gRPC.
package pay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"shadowrt/internal/shop"
	dErrors "shadowrt/pkg/domain-errors"
	"shadowrt/pkg/label"
	"shadowrt/pkg/platform/middleware/requestid"
	"shadowrt/pkg/transport/httplabel"
)

const defaultTimeout = 5 * time.Second

// chargeBody is the wire form of a charge: the payment blob plus the
// billing address.
type chargeBody struct {
	shop.PaymentBlob
	BillingAddress string `json:"billing_address"`
}

// Client posts labeled charges to the payment service.
type Client struct {
	baseURL string
	http    *http.Client
	codec   label.Codec
}

// NewClient builds a client for baseURL. A nil httpClient gets a 5s timeout.
func NewClient(baseURL string, codec label.Codec, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		codec:   codec,
	}
}

// Charge sends blob under its label with the billing address attached.
func (c *Client) Charge(ctx context.Context, blob label.Tagged[shop.PaymentBlob], billingAddress string) (shop.ChargeResult, error) {
	body, err := json.Marshal(chargeBody{PaymentBlob: blob.Value(), BillingAddress: billingAddress})
	if err != nil {
		return shop.ChargeResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "encode charge")
	}
	req, err := httplabel.NewRequest(ctx, http.MethodPost, c.baseURL+"/charge", body, c.codec, blob.Label())
	if err != nil {
		return shop.ChargeResult{}, err
	}
	requestid.Propagate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return shop.ChargeResult{}, dErrors.Wrap(err, dErrors.CodeTimeout, "payment service did not answer")
		}
		return shop.ChargeResult{}, dErrors.Wrap(err, dErrors.CodePropagationFailure, "payment service unreachable")
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return shop.ChargeResult{}, dErrors.New(dErrors.CodePropagationFailure,
			fmt.Sprintf("payment service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}
	var result shop.ChargeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return shop.ChargeResult{}, dErrors.Wrap(err, dErrors.CodePropagationFailure, "decode charge response")
	}
	return result, nil
}
