package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func noopHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitAuthBucketIsTighter(t *testing.T) {
	mw := NewRateLimitMiddleware(100, 3)
	handler := mw.Handler(noopHandler())

	send := func(path string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "10.0.0.1:4444"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// The auth bucket allows a burst of 3, then refuses.
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, send("/api/v1/auth/login"), "request %d", i)
	}
	assert.Equal(t, http.StatusTooManyRequests, send("/api/v1/auth/login"))

	// The general bucket for the same client is unaffected.
	assert.Equal(t, http.StatusOK, send("/api/v1/users"))
}

func TestRateLimitIsPerClient(t *testing.T) {
	mw := NewRateLimitMiddleware(100, 1)
	handler := mw.Handler(noopHandler())

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:4444"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:4444"))

	// A different client still has budget.
	assert.Equal(t, http.StatusOK, send("10.0.0.2:4444"))
}

func TestRateLimitResponseShape(t *testing.T) {
	mw := NewRateLimitMiddleware(100, 1)
	handler := mw.Handler(noopHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.RemoteAddr = "10.0.0.9:4444"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if i == 1 {
			assert.Equal(t, http.StatusTooManyRequests, rec.Code)
			assert.Equal(t, "60", rec.Header().Get("Retry-After"))
			assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
		}
	}
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		forwarded  string
		realIP     string
		remoteAddr string
		want       string
	}{
		{forwarded: "203.0.113.7, 10.0.0.1", remoteAddr: "10.0.0.2:80", want: "203.0.113.7"},
		{realIP: "203.0.113.8", remoteAddr: "10.0.0.2:80", want: "203.0.113.8"},
		{remoteAddr: "10.0.0.2:80", want: "10.0.0.2"},
		{remoteAddr: "10.0.0.2", want: "10.0.0.2"},
		{remoteAddr: "", want: "unknown"},
	}

	for i, tc := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}

			assert.Equal(t, tc.want, ClientIP(req))
		})
	}
}
