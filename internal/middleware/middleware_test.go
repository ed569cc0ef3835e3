package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/medz/medz4/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSessions map[string]*models.UserContext

func (f fakeSessions) ValidateSession(_ context.Context, id string) (*models.UserContext, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, errors.New("invalid session")
}

type fakeCSRF struct{}

func (fakeCSRF) VerifyCSRFToken(token, sessionID string) error {
	if token == "token-for-"+sessionID {
		return nil
	}
	return errors.New("bad token")
}

const cookieName = "med_z4_session_id"

func newTestAuth(t *testing.T) *Auth {
	sessions := fakeSessions{
		"good": {SessionID: "good", Email: "clinician@va.gov", Role: models.RoleUser},
	}
	return NewAuth(sessions, fakeCSRF{}, cookieName, zaptest.NewLogger(t))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if u := GetUser(r); u != nil {
		w.Write([]byte(u.Email))
		return
	}
	w.Write([]byte("anonymous"))
})

func TestAuth_RequireAuth(t *testing.T) {
	h := newTestAuth(t).RequireAuth(okHandler)

	t.Run("valid session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req.AddCookie(&http.Cookie{Name: cookieName, Value: "good"})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "clinician@va.gov", rec.Body.String())
	})

	t.Run("full navigation redirects", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req.AddCookie(&http.Cookie{Name: cookieName, Value: "stale"})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/login", rec.Header().Get("Location"))
	})

	t.Run("htmx gets HX-Redirect", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/patient/roster-table", nil)
		req.Header.Set("HX-Request", "true")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "/login", rec.Header().Get("HX-Redirect"))
		assert.Contains(t, rec.Body.String(), "Authentication required")
	})
}

func TestAuth_OptionalAuth(t *testing.T) {
	h := newTestAuth(t).OptionalAuth(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	assert.Equal(t, "anonymous", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: "good"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "clinician@va.gov", rec.Body.String())
}

func TestAuth_RequireCSRF(t *testing.T) {
	a := newTestAuth(t)
	h := Chain(okHandler, a.RequireAuth, a.RequireCSRF)

	newReq := func(method, body string) *http.Request {
		req := httptest.NewRequest(method, "/patient/create", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.AddCookie(&http.Cookie{Name: cookieName, Value: "good"})
		return req
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newReq(http.MethodPost, ""))
	assert.Equal(t, http.StatusForbidden, rec.Code, "missing token")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, newReq(http.MethodPost, url.Values{CSRFField: {"token-for-good"}}.Encode()))
	assert.Equal(t, http.StatusOK, rec.Code, "form token")

	req := newReq(http.MethodDelete, "")
	req.Header.Set(CSRFHeader, "token-for-good")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "header token")

	req = newReq(http.MethodDelete, "")
	req.Header.Set(CSRFHeader, "token-for-other")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code, "token bound to another session")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, newReq(http.MethodGet, ""))
	assert.Equal(t, http.StatusOK, rec.Code, "safe methods pass")
}

func TestRecover(t *testing.T) {
	h := Recover(zaptest.NewLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLoggerAndSecurityHeaders(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Logger(zaptest.NewLogger(t)), SecurityHeaders)
	r.HandleFunc("/patient/{icn}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/patient/ICN1", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "https://unpkg.com")
}

func TestIsPartial(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	assert.False(t, IsPartial(req))

	req.Header.Set("HX-Request", "true")
	assert.True(t, IsPartial(req))

	req.Header.Set("HX-Boosted", "true")
	assert.False(t, IsPartial(req))
	assert.True(t, IsHTMX(req))
}
