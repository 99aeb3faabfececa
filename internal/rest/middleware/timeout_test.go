package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ecomkit/saferpay-gateway/internal/rest/middleware"
	"github.com/stretchr/testify/assert"
)

func TestTimeout(t *testing.T) {
	t.Run("fast requests pass through", func(t *testing.T) {
		handler := middleware.Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("slow requests get a json 503 and a cancelled context", func(t *testing.T) {
		cancelled := make(chan struct{})
		handler := middleware.Timeout(20*time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
				close(cancelled)
			case <-time.After(5 * time.Second):
			}
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.JSONEq(t, `{"success":false,"error":{"code":"TIMEOUT","message":"request timed out"}}`, rec.Body.String())

		select {
		case <-cancelled:
		case <-time.After(time.Second):
			t.Fatal("handler context was not cancelled")
		}
	})
}
