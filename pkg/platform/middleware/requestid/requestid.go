package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"shadowrt/pkg/requestcontext"
)

const Header = "X-Request-ID"

// maxLen bounds caller-supplied ids before they reach logs and provenance metadata.
const maxLen = 128

// Middleware propagates the caller's X-Request-ID or mints one, echoes it on
// the response and stores it in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(Header)
		if reqID == "" || len(reqID) > maxLen {
			reqID = uuid.NewString()
		}
		w.Header().Set(Header, reqID)
		next.ServeHTTP(w, r.WithContext(requestcontext.WithRequestID(r.Context(), reqID)))
	})
}

// Propagate copies the request id of the current request onto an outbound one.
func Propagate(dst *http.Request) {
	if reqID := requestcontext.RequestID(dst.Context()); reqID != "" && dst.Header.Get(Header) == "" {
		dst.Header.Set(Header, reqID)
	}
}
