package testutil

import (
	"net/http"
	"time"

	"signals/pkg/requestcontext"
)

// WithRequestTime pins the request clock, as the requesttime middleware
// would, so expiry checks in handler tests are deterministic.
func WithRequestTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
