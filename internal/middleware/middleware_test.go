package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/capitalize-ai/agent-relay/pkg/logger"
)

const secret = "test-secret"

func signToken(t *testing.T, sub string, method jwt.SigningMethod, key any) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

func TestAuth(t *testing.T) {
	var gotOwner string
	h := Auth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOwner = GetOwnerID(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		status int
		owner  string
	}{
		{"valid", "Bearer " + signToken(t, "owner-1", jwt.SigningMethodHS256, []byte(secret)), http.StatusOK, "owner-1"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"bad format", "Token abc", http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + signToken(t, "owner-1", jwt.SigningMethodHS256, []byte("other")), http.StatusUnauthorized, ""},
		{"no subject", "Bearer " + signToken(t, "", jwt.SigningMethodHS256, []byte(secret)), http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotOwner = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.owner, gotOwner)
		})
	}
}

func TestLogging_SetsCorrelationID(t *testing.T) {
	var seen string
	r := chi.NewRouter()
	r.Use(Logging(logger.Nop()))
	r.Get("/webhooks/{webhookID}", func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/abc", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(CorrelationHeader))

	req := httptest.NewRequest(http.MethodGet, "/webhooks/abc", nil)
	req.Header.Set(CorrelationHeader, "given-id")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "given-id", seen)
}

func TestWebhookRateLimit_KeysByWebhook(t *testing.T) {
	r := chi.NewRouter()
	r.With(WebhookRateLimit(2, time.Minute)).Post("/webhooks/{webhookID}", func(w http.ResponseWriter, r *http.Request) {})

	hit := func(id string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/"+id, nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, hit("a"))
	assert.Equal(t, http.StatusOK, hit("a"))
	assert.Equal(t, http.StatusTooManyRequests, hit("a"))
	assert.Equal(t, http.StatusOK, hit("b"))
}

func TestValidation(t *testing.T) {
	assert.NoError(t, ValidateConversationID("6f1c2a8e-3b7d-5e49-9a0c-d2b4e8f71c35"))
	assert.Error(t, ValidateConversationID("nope"))

	assert.NoError(t, ValidateIdentifier("webhook id", "wh_123"))
	assert.Error(t, ValidateIdentifier("webhook id", ""))
	assert.Error(t, ValidateIdentifier("webhook id", string(make([]byte, 200))))
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestPollRateLimit_SeparateFromInbound(t *testing.T) {
	r := chi.NewRouter()
	r.With(WebhookRateLimit(1, time.Minute)).Post("/webhooks/{webhookID}", func(w http.ResponseWriter, r *http.Request) {})
	r.With(PollRateLimit(2, time.Minute)).Get("/webhooks/{webhookID}/response", func(w http.ResponseWriter, r *http.Request) {})

	hit := func(method, path string) int {
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = "10.0.0.2:1234"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, hit(http.MethodPost, "/webhooks/a"))
	assert.Equal(t, http.StatusTooManyRequests, hit(http.MethodPost, "/webhooks/a"))
	assert.Equal(t, http.StatusOK, hit(http.MethodGet, "/webhooks/a/response"))
	assert.Equal(t, http.StatusOK, hit(http.MethodGet, "/webhooks/a/response"))
	assert.Equal(t, http.StatusTooManyRequests, hit(http.MethodGet, "/webhooks/a/response"))
	assert.Equal(t, http.StatusOK, hit(http.MethodGet, "/webhooks/b/response"))
}

func TestLogging_RequestLoggerCarriesCorrelationID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := &logger.Logger{Logger: zap.New(core)}

	r := chi.NewRouter()
	r.Use(Logging(base))
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context(), nil).Info("handled")
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(CorrelationHeader, "corr-42")
	r.ServeHTTP(httptest.NewRecorder(), req)

	handled := logs.FilterMessage("handled").All()
	require.Len(t, handled, 1)
	assert.Equal(t, "corr-42", handled[0].ContextMap()["correlation_id"])
}
