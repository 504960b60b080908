// Package requesttime pins "now" for the duration of a request so that the
// accessibility gate, startedAt and answer timestamps agree with each other.
package requesttime

import (
	"net/http"
	"time"

	"signals/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
