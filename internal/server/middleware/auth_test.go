package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/flashpool/internal/crypto"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthDisabledWhenNoKey(t *testing.T) {
	h := Auth("")(okHandler())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRejectsWrongKey(t *testing.T) {
	h := Auth("secret-key")(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	r.Header.Set("X-API-Key", "wrong")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthAcceptsBearerToken(t *testing.T) {
	h := Auth("secret-key")(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	r.Header.Set("Authorization", "Bearer secret-key")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminAuthAcceptsSignedRequest(t *testing.T) {
	auth := &crypto.AdminAuth{Key: "ops-key", Secret: "ops-secret"}
	h := AdminAuth(auth)(okHandler())

	body := `{"event_ids":["ev-1"]}`
	headers := auth.HeadersAt("settler-admin", http.MethodPost, "/api/settlements", body, time.Now().Unix())

	r := httptest.NewRequest(http.MethodPost, "/api/settlements", strings.NewReader(body))
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminAuthRejectsTamperedBody(t *testing.T) {
	auth := &crypto.AdminAuth{Key: "ops-key", Secret: "ops-secret"}
	h := AdminAuth(auth)(okHandler())

	headers := auth.HeadersAt("settler-admin", http.MethodPost, "/api/settlements", `{"event_ids":["ev-1"]}`, time.Now().Unix())

	r := httptest.NewRequest(http.MethodPost, "/api/settlements", strings.NewReader(`{"event_ids":["ev-2"]}`))
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAuthRejectsStaleTimestamp(t *testing.T) {
	auth := &crypto.AdminAuth{Key: "ops-key", Secret: "ops-secret"}
	h := AdminAuth(auth)(okHandler())

	body := `{}`
	headers := auth.HeadersAt("settler-admin", http.MethodPost, "/api/settlements", body, time.Now().Add(-time.Minute).Unix())

	r := httptest.NewRequest(http.MethodPost, "/api/settlements", strings.NewReader(body))
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAuthPassthroughWhenNil(t *testing.T) {
	h := AdminAuth(nil)(okHandler())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/settlements", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
