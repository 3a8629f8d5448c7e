package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func fire(t *testing.T, h http.Handler, remoteAddr string, set func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	if set != nil {
		set(req)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_AllowsUpToMax(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 5, Window: time.Minute})(okHandler())

	for i := range 5 {
		w := fire(t, handler, "192.168.1.1:12345", nil)
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}

	w := fire(t, handler, "192.168.1.1:12345", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(429), body["code"])
	assert.Equal(t, "rate limit exceeded", body["message"])
}

func TestRateLimit_KeysAreIndependent(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	assert.Equal(t, http.StatusOK, fire(t, handler, "10.0.0.1:1234", nil).Code)
	assert.Equal(t, http.StatusOK, fire(t, handler, "10.0.0.2:1234", nil).Code)

	// Same client, different source port: still the same key.
	assert.Equal(t, http.StatusTooManyRequests, fire(t, handler, "10.0.0.1:5678", nil).Code)
}

func TestRateLimit_CustomKeyFunc(t *testing.T) {
	handler := RateLimit(RateLimitConfig{
		Max:    1,
		Window: time.Minute,
		KeyFunc: func(r *http.Request) string {
			return r.Header.Get("X-API-Key")
		},
	})(okHandler())

	byKey := func(key string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("X-API-Key", key) }
	}

	assert.Equal(t, http.StatusOK, fire(t, handler, "", byKey("key-a")).Code)
	assert.Equal(t, http.StatusTooManyRequests, fire(t, handler, "", byKey("key-a")).Code)
	assert.Equal(t, http.StatusOK, fire(t, handler, "", byKey("key-b")).Code)
}

func TestRateLimit_ProxiedClientsShareKey(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	viaProxy := func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")
	}

	assert.Equal(t, http.StatusOK, fire(t, handler, "192.168.1.1:4444", viaProxy).Code)
	// Different proxy hop, same originating client.
	assert.Equal(t, http.StatusTooManyRequests, fire(t, handler, "192.168.1.2:5555", viaProxy).Code)
}

func TestRateLimit_BudgetRecoversAfterIdle(t *testing.T) {
	const window = 30 * time.Millisecond
	handler := RateLimit(RateLimitConfig{Max: 1, Window: window})(okHandler())

	require.Equal(t, http.StatusOK, fire(t, handler, "10.0.0.9:1000", nil).Code)
	require.Equal(t, http.StatusTooManyRequests, fire(t, handler, "10.0.0.9:1000", nil).Code)

	// After two full windows both tracked windows are stale.
	time.Sleep(2*window + 10*time.Millisecond)
	assert.Equal(t, http.StatusOK, fire(t, handler, "10.0.0.9:1000", nil).Code)
}

func TestLimiter_EvictStale(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 1, Window: 10 * time.Millisecond})

	now := time.Now()
	l.take("a", now)
	l.take("b", now)

	l.evictStale(now.Add(5 * time.Millisecond))
	l.mu.Lock()
	assert.Len(t, l.buckets, 2, "fresh buckets must survive")
	l.mu.Unlock()

	l.evictStale(now.Add(50 * time.Millisecond))
	l.mu.Lock()
	assert.Empty(t, l.buckets)
	l.mu.Unlock()
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		realIP     string
		want       string
	}{
		{name: "remote addr only", remoteAddr: "10.1.2.3:9000", want: "10.1.2.3"},
		{name: "remote addr without port", remoteAddr: "10.1.2.3", want: "10.1.2.3"},
		{name: "forwarded chain uses first hop", remoteAddr: "10.1.2.3:9000", xff: "203.0.113.50, 70.41.3.18", want: "203.0.113.50"},
		{name: "single forwarded entry", remoteAddr: "10.1.2.3:9000", xff: " 203.0.113.50 ", want: "203.0.113.50"},
		{name: "real ip beats remote addr", remoteAddr: "10.1.2.3:9000", realIP: "198.51.100.7", want: "198.51.100.7"},
		{name: "forwarded beats real ip", remoteAddr: "10.1.2.3:9000", xff: "203.0.113.50", realIP: "198.51.100.7", want: "203.0.113.50"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
