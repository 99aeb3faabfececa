package middleware

import (
	"net/http"
	"time"
)

// Timeout answers requests that outlive the handling deadline with a JSON
// 503. The deadline also lands on the request context, so repository and
// gateway calls give up together with the response.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	body := `{"success":false,"error":{"code":"TIMEOUT","message":"request timed out"}}`
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, body)
	}
}
