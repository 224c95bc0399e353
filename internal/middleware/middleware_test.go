package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(SubjectFrom(r.Context())))
	})
}

func TestRateLimiter_BurstThenReject(t *testing.T) {
	rl := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 2}, nil)
	defer rl.Stop()
	now := time.Date(2025, 10, 21, 12, 0, 0, 0, time.UTC)
	rl.clockNow = func() time.Time { return now }

	h := rl.Middleware(okHandler())
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/customers", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// a different client has its own bucket
	req := httptest.NewRequest(http.MethodGet, "/customers", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// one token refills per second
	now = now.Add(time.Second)
	require.True(t, rl.Allow("10.0.0.1"))
}

func TestRateLimiter_EvictsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1}, nil)
	defer rl.Stop()
	now := time.Now()
	rl.clockNow = func() time.Time { return now }

	rl.Allow("a")
	now = now.Add(2 * time.Hour)
	rl.evictIdle()
	require.Empty(t, rl.visitors)
}

func TestClientID_PrefersForwardedHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	require.Equal(t, "10.0.0.1", clientID(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	require.Equal(t, "203.0.113.9", clientID(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	require.Equal(t, "198.51.100.7", clientID(req))
}

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuthenticator(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: "s3cret", Issuer: "ledger"}, nil)
	h := auth.Middleware(okHandler())

	valid := signToken(t, "s3cret", jwt.RegisteredClaims{
		Subject:   "cashier-1",
		Issuer:    "ledger",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	wrongKey := signToken(t, "other", jwt.RegisteredClaims{Subject: "x", Issuer: "ledger"})
	expired := signToken(t, "s3cret", jwt.RegisteredClaims{
		Subject:   "x",
		Issuer:    "ledger",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	wrongIssuer := signToken(t, "s3cret", jwt.RegisteredClaims{Subject: "x", Issuer: "someone"})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"wrong key", "Bearer " + wrongKey, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + wrongIssuer, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/sales", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				require.Equal(t, "cashier-1", rec.Body.String())
			}
		})
	}
}

func TestAuthenticator_DisabledPassesThrough(t *testing.T) {
	h := NewAuthenticator(AuthConfig{}, nil).Middleware(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sales", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
