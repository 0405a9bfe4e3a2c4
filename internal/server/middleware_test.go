package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kotoba/internal/auth"
	"github.com/ashita-ai/kotoba/internal/ctxutil"
	"github.com/ashita-ai/kotoba/internal/ratelimit"
)

func testClaims(userID, tenantID uuid.UUID) *auth.Claims {
	return &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID.String()},
		TenantID:         tenantID,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(2)
	defer limiter.Close()

	handler := rateLimitMiddleware(limiter, slog.New(slog.DiscardHandler), okHandler())
	claims := testClaims(uuid.New(), uuid.New())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
		req = req.WithContext(ctxutil.WithClaims(req.Context(), claims))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "request %d within budget", i)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req = req.WithContext(ctxutil.WithClaims(req.Context(), claims))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRateLimitMiddleware_SeparateUsers(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(1)
	defer limiter.Close()

	handler := rateLimitMiddleware(limiter, slog.New(slog.DiscardHandler), okHandler())
	tenantID := uuid.New()

	first := testClaims(uuid.New(), tenantID)
	second := testClaims(uuid.New(), tenantID)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req = req.WithContext(ctxutil.WithClaims(req.Context(), first))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req = req.WithContext(ctxutil.WithClaims(req.Context(), first))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different user in the same tenant has an independent budget.
	req = httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req = req.WithContext(ctxutil.WithClaims(req.Context(), second))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("backend down")
}

func (failingLimiter) Close() error { return nil }

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	handler := rateLimitMiddleware(failingLimiter{}, slog.New(slog.DiscardHandler), okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req = req.WithContext(ctxutil.WithClaims(req.Context(), testClaims(uuid.New(), uuid.New())))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := recoveryMiddleware(slog.New(slog.DiscardHandler),
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}))

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestQueryLimit(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want int
	}{
		{"absent uses default", "/x", 20},
		{"explicit value", "/x?limit=5", 5},
		{"zero falls back", "/x?limit=0", 20},
		{"garbage falls back", "/x?limit=abc", 20},
		{"clamped to ceiling", "/x?limit=5000", 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.url, nil)
			assert.Equal(t, tt.want, queryLimit(r, 20))
		})
	}
}
