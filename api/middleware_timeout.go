package api

import (
	"net/http"
	"time"
)

// TimeoutMiddleware bounds request handling time. http.TimeoutHandler buffers
// the inner ResponseWriter, so a handler that keeps writing after the deadline
// cannot race the timeout response.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, `{"error": "Request timeout", "message": "The request took too long to process"}`)
	}
}
