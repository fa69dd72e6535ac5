package cascade

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "shadowrt/pkg/domain"
	"shadowrt/pkg/platform/circuit"
	"shadowrt/pkg/platform/httputil"
)

func TestHTTPDestinationDeleteUser(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.EscapedPath(), r.Method
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"deleted_user_id":"user 1","deleted_records":2}`))
	}))
	defer srv.Close()

	d, err := NewHTTPDestination("Pay", srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "Pay", d.Name())

	ack, err := d.DeleteUser(context.Background(), "user 1")
	require.NoError(t, err)
	assert.Equal(t, Ack{DeletedUserID: "user 1", DeletedRecords: 2}, ack)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/delete_by_user/user%201", gotPath)
}

func TestHTTPDestinationReservedCharactersRoundTrip(t *testing.T) {
	r := chi.NewRouter()
	r.Delete("/delete_by_user/{user_id}", func(w http.ResponseWriter, r *http.Request) {
		userID, err := httputil.UserIDParam(r, "user_id")
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, Ack{DeletedUserID: userID, DeletedRecords: 1})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	d, err := NewHTTPDestination("Pay", srv.URL)
	require.NoError(t, err)
	for _, userID := range []id.UserID{"acme/u1", "user 1", "50%off", "a?b#c"} {
		ack, err := d.DeleteUser(context.Background(), userID)
		require.NoError(t, err, userID)
		assert.Equal(t, userID, ack.DeletedUserID)
	}
}

func TestHTTPDestinationErrors(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		category ErrorCategory
	}{
		{"server error", http.StatusInternalServerError, "boom", ErrorOutage},
		{"forbidden", http.StatusForbidden, "", ErrorAuthentication},
		{"throttled", http.StatusTooManyRequests, "", ErrorRateLimited},
		{"bad request", http.StatusBadRequest, "nope", ErrorRejected},
		{"garbage ack", http.StatusOK, "not json", ErrorBadData},
		{"ack for another user", http.StatusOK, `{"deleted_user_id":"u2","deleted_records":1}`, ErrorBadData},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			d, err := NewHTTPDestination("Pay", srv.URL)
			require.NoError(t, err)
			_, err = d.DeleteUser(context.Background(), "u1")
			var de *DestinationError
			require.True(t, errors.As(err, &de), "got %v", err)
			assert.Equal(t, tc.category, de.Category)
			assert.Equal(t, "Pay", de.Destination)
		})
	}
}

func TestHTTPDestinationHonorsContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	d, err := NewHTTPDestination("Pay", srv.URL)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = d.DeleteUser(ctx, "u1")
	var de *DestinationError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, ErrorTimeout, de.Category)
	assert.True(t, IsRetryable(err))
}

func TestHTTPDestinationCircuitBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d, err := NewHTTPDestination("Pay", srv.URL,
		WithCircuitBreaker(circuit.New("pay", circuit.WithFailureThreshold(2)), time.Hour))
	require.NoError(t, err)

	for range 2 {
		_, err = d.DeleteUser(context.Background(), "u1")
		require.Error(t, err)
	}
	_, err = d.DeleteUser(context.Background(), "u1")
	var de *DestinationError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, ErrorCircuitOpen, de.Category)
	assert.Equal(t, int32(2), calls.Load(), "open breaker must not reach the server")
}

func TestNewHTTPDestinationValidates(t *testing.T) {
	_, err := NewHTTPDestination("", "http://pay")
	require.Error(t, err)
	_, err = NewHTTPDestination("Pay", "not a url")
	require.Error(t, err)
}
