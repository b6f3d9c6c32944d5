package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestAuth(t *testing.T) {
	h := Auth("s3cret", "/api/health")(okHandler)

	tests := []struct {
		name   string
		req    func() *http.Request
		status int
	}{
		{"public path", func() *http.Request { return httptest.NewRequest(http.MethodGet, "/api/health", nil) }, http.StatusOK},
		{"missing", func() *http.Request { return httptest.NewRequest(http.MethodGet, "/api/status", nil) }, http.StatusUnauthorized},
		{"bearer", func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			r.Header.Set("Authorization", "Bearer s3cret")
			return r
		}, http.StatusOK},
		{"header", func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			r.Header.Set("X-API-Key", "s3cret")
			return r
		}, http.StatusOK},
		{"query", func() *http.Request {
			return httptest.NewRequest(http.MethodPost, "/shell/connect?api_key=s3cret", nil)
		}, http.StatusOK},
		{"wrong", func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			r.Header.Set("X-API-Key", "nope")
			return r
		}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, serve(h, tt.req()).Code)
		})
	}

	assert.Equal(t, http.StatusOK, serve(Auth("")(okHandler), httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"http://localhost:5173"})(okHandler)

	r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	r.Header.Set("Origin", "http://LOCALHOST:5173")
	rec := serve(h, r)
	assert.Equal(t, "http://LOCALHOST:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	r.Header.Set("Origin", "http://evil.test")
	assert.Empty(t, serve(h, r).Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodOptions, "/api/inputs", nil)
	assert.Equal(t, http.StatusNoContent, serve(h, r).Code)
}

func TestLoggingSetsRequestID(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h := Logging(logger)(okHandler)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "abc")
	assert.Equal(t, "abc", serve(h, r).Header().Get("X-Request-ID"))
}

func TestClientLimiter(t *testing.T) {
	l := NewClientLimiter(60, 2)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "clients have separate buckets")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"))

	now = now.Add(idleTTL + time.Second)
	l.Allow("c")
	l.mu.Lock()
	_, kept := l.visitors["a"]
	l.mu.Unlock()
	assert.False(t, kept)

	var disabled *ClientLimiter
	require.Nil(t, NewClientLimiter(0, 5))
	assert.True(t, disabled.Allow("x"))
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(NewClientLimiter(1, 1))(okHandler)
	r := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/actions/repay-withdraw", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
		return req
	}
	assert.Equal(t, http.StatusOK, serve(h, r()).Code)
	rec := serve(h, r())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}
