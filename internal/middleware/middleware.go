// Package middleware provides HTTP middleware functions
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/medz/medz4/internal/metrics"
	"github.com/medz/medz4/internal/models"
	"go.uber.org/zap"
)

type contextKey string

const (
	UserContextKey contextKey = "user"
)

// CSRFHeader and CSRFField carry the anti-forgery token on unsafe requests.
const (
	CSRFHeader = "X-CSRF-Token"
	CSRFField  = "csrf_token"
)

// SessionValidator resolves a session cookie value to a user.
type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionID string) (*models.UserContext, error)
}

// CSRFVerifier checks an anti-forgery token against a session.
type CSRFVerifier interface {
	VerifyCSRFToken(token, sessionID string) error
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Logger logs every request and records request metrics under the matched
// route template.
func Logger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			metrics.ObserveRequest(r.Method, route, rec.status, elapsed)

			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", elapsed),
				zap.Bool("htmx", IsHTMX(r)),
			)
		})
	}
}

// SecurityHeaders adds security headers to all responses
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; script-src 'self' https://unpkg.com; img-src 'self' data:;")
		next.ServeHTTP(w, r)
	})
}

// Recover handles panics gracefully
func Recover(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						zap.Any("panic", err),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.Stack("stack"),
					)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// IsHTMX reports whether the request was issued by htmx.
func IsHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// IsPartial reports whether the response should be a fragment rather than a
// full page. Boosted navigations still get full pages.
func IsPartial(r *http.Request) bool {
	return IsHTMX(r) && r.Header.Get("HX-Boosted") != "true"
}

// Auth middleware for protected routes
type Auth struct {
	sessions   SessionValidator
	csrf       CSRFVerifier
	cookieName string
	logger     *zap.Logger
}

// NewAuth creates a new auth middleware
func NewAuth(sessions SessionValidator, csrf CSRFVerifier, cookieName string, logger *zap.Logger) *Auth {
	return &Auth{sessions: sessions, csrf: csrf, cookieName: cookieName, logger: logger}
}

// RequireAuth ensures the user is authenticated
func (m *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := m.getUserFromRequest(r)
		if user == nil {
			// htmx cannot follow a redirect into a swap target, so ask it to navigate
			if IsHTMX(r) {
				w.Header().Set("HX-Redirect", "/login")
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`<div class="alert alert-error">Authentication required</div>`))
				return
			}
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth adds user to context if authenticated, but doesn't require it
func (m *Auth) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := m.getUserFromRequest(r); user != nil {
			r = r.WithContext(context.WithValue(r.Context(), UserContextKey, user))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireCSRF rejects unsafe requests that lack a token bound to the caller's
// session. It must run after RequireAuth.
func (m *Auth) RequireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		user := GetUser(r)
		token := r.Header.Get(CSRFHeader)
		if token == "" {
			token = r.FormValue(CSRFField)
		}
		if user == nil || m.csrf.VerifyCSRFToken(token, user.SessionID) != nil {
			m.logger.Warn("csrf check failed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Auth) getUserFromRequest(r *http.Request) *models.UserContext {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	user, err := m.sessions.ValidateSession(r.Context(), cookie.Value)
	if err != nil {
		m.logger.Debug("session rejected", zap.Error(err))
		return nil
	}
	return user
}

// GetUser retrieves the user from the request context
func GetUser(r *http.Request) *models.UserContext {
	user, ok := r.Context().Value(UserContextKey).(*models.UserContext)
	if !ok {
		return nil
	}
	return user
}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *models.UserContext) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// Chain applies middleware in order
func Chain(h http.Handler, middleware ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}
