package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/medz/medz4/internal/middleware"
	"github.com/medz/medz4/internal/services/auth"
	"go.uber.org/zap"
)

const loginFailedMessage = "Invalid email or password."

// LoginPage renders the login page
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	// If already logged in, redirect to dashboard
	if user := middleware.GetUser(r); user != nil {
		h.redirect(w, r, "/dashboard")
		return
	}
	h.renderLogin(w, r, http.StatusOK, "", "")
}

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, status int, email, message string) {
	data := h.pageData(r, "Login", nil)
	data["Email"] = email
	data["Error"] = message
	h.renderPage(w, r, status, "login.html", "", data)
}

// Login handles login form submission
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderLogin(w, r, http.StatusBadRequest, "", "Invalid request.")
		return
	}

	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")
	if email == "" || password == "" {
		h.renderLogin(w, r, http.StatusUnauthorized, email, loginFailedMessage)
		return
	}

	meta := requestMeta(r)
	user, err := h.auth.Authenticate(r.Context(), email, password, meta)
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			h.renderLogin(w, r, http.StatusUnauthorized, email, loginFailedMessage)
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		h.renderLogin(w, r, http.StatusInternalServerError, email, "Login is temporarily unavailable.")
		return
	}

	session, err := h.auth.CreateSession(r.Context(), user, meta)
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		h.renderLogin(w, r, http.StatusInternalServerError, email, "Login is temporarily unavailable.")
		return
	}

	// Set session cookie
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.Session.CookieName,
		Value:    session.ID.String(),
		Path:     "/",
		MaxAge:   h.cfg.Session.CookieMaxAge(),
		HttpOnly: true,
		Secure:   h.cfg.Session.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	h.redirect(w, r, "/dashboard")
}

// Logout handles user logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if user := middleware.GetUser(r); user != nil {
		if _, err := h.auth.InvalidateSession(r.Context(), user.SessionID, requestMeta(r)); err != nil {
			h.logger.Error("failed to invalidate session", zap.Error(err))
		}
	}

	// Clear session cookie
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.Session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.Session.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	h.redirect(w, r, "/login")
}
