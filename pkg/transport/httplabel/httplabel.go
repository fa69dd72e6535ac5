// Package httplabel carries provenance labels over HTTP in the
// X-Shadow-Label header.
package httplabel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	dErrors "shadowrt/pkg/domain-errors"
	"shadowrt/pkg/label"
	"shadowrt/pkg/shadow"
)

const HeaderName = "X-Shadow-Label"

// DefaultMaxBody caps labeled request bodies read by Receive.
const DefaultMaxBody = 1 << 20

// NewRequest builds a request carrying body under lbl, encoded with codec.
func NewRequest(ctx context.Context, method, url string, body []byte, codec label.Codec, lbl label.Label) (*http.Request, error) {
	header, err := codec.Encode(lbl)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build labeled request: %w", err)
	}
	req.Header.Set(HeaderName, header)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Receive reads the label header and body of r and logs transfer_in through rt.
// A missing or invalid header fails with malformed_label.
func Receive[T any](r *http.Request, rt *shadow.Runtime) (label.Tagged[T], error) {
	header := r.Header.Get(HeaderName)
	if header == "" {
		return label.Tagged[T]{}, dErrors.New(dErrors.CodeMalformedLabel, "missing "+HeaderName+" header")
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, DefaultMaxBody+1))
	if err != nil {
		return label.Tagged[T]{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "read labeled body")
	}
	if len(body) > DefaultMaxBody {
		return label.Tagged[T]{}, dErrors.New(dErrors.CodeBadRequest, "labeled body too large")
	}
	return shadow.Receive[T](r.Context(), rt, header, body)
}
