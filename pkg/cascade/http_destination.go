package cascade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	id "shadowrt/pkg/domain"
	"shadowrt/pkg/platform/circuit"
)

const maxErrorBody = 512

// HTTPDestination deletes a user in a remote service by calling
// DELETE {baseURL}/delete_by_user/{user_id}. The response body is the
// remote Ack.
type HTTPDestination struct {
	name    string
	baseURL string
	client  *http.Client

	breaker  *circuit.Breaker
	cooldown time.Duration
	mu       sync.Mutex
	openedAt time.Time
}

type HTTPOption func(*HTTPDestination)

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(d *HTTPDestination) {
		if client != nil {
			d.client = client
		}
	}
}

// WithCircuitBreaker makes the destination fail fast while its breaker is
// open instead of waiting out the cascade timeout on a dead service. One
// probe request is let through per cooldown.
func WithCircuitBreaker(b *circuit.Breaker, cooldown time.Duration) HTTPOption {
	return func(d *HTTPDestination) {
		d.breaker = b
		d.cooldown = cooldown
	}
}

func NewHTTPDestination(name, baseURL string, opts ...HTTPOption) (*HTTPDestination, error) {
	if name == "" {
		return nil, fmt.Errorf("destination name is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("destination %s: invalid base URL %q", name, baseURL)
	}
	d := &HTTPDestination{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *HTTPDestination) Name() string { return d.name }

func (d *HTTPDestination) DeleteUser(ctx context.Context, userID id.UserID) (Ack, error) {
	if !d.allow() {
		return Ack{}, &DestinationError{Category: ErrorCircuitOpen, Destination: d.name, Message: "circuit open"}
	}
	ack, err := d.deleteUser(ctx, userID)
	if d.breaker == nil {
		return ack, err
	}
	if err != nil {
		if _, change := d.breaker.RecordFailure(); change.Opened {
			d.mu.Lock()
			d.openedAt = time.Now()
			d.mu.Unlock()
		}
	} else {
		d.breaker.RecordSuccess()
	}
	return ack, err
}

// allow lets one probe through per cooldown while the breaker is open.
func (d *HTTPDestination) allow() bool {
	if d.breaker == nil || !d.breaker.IsOpen() {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if time.Since(d.openedAt) < d.cooldown {
		return false
	}
	d.openedAt = time.Now()
	return true
}

func (d *HTTPDestination) deleteUser(ctx context.Context, userID id.UserID) (Ack, error) {
	endpoint := d.baseURL + "/delete_by_user/" + url.PathEscape(userID.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return Ack{}, &DestinationError{Category: ErrorBadData, Destination: d.name, Message: "build request", Underlying: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		category := ErrorOutage
		if errors.Is(err, context.DeadlineExceeded) {
			category = ErrorTimeout
		}
		return Ack{}, &DestinationError{Category: category, Destination: d.name, Message: "request failed", Underlying: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Ack{}, &DestinationError{
			Category:    categoryForStatus(resp.StatusCode),
			Destination: d.name,
			Message:     fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var ack Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return Ack{}, &DestinationError{Category: ErrorBadData, Destination: d.name, Message: "decode ack", Underlying: err}
	}
	if ack.DeletedUserID != userID {
		return Ack{}, &DestinationError{
			Category:    ErrorBadData,
			Destination: d.name,
			Message:     fmt.Sprintf("ack is for user %q, requested %q", ack.DeletedUserID, userID),
		}
	}
	return ack, nil
}
