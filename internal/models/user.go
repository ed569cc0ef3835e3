// Package models defines core domain types
package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxFailedLogins is the number of consecutive bad passwords that locks an account.
const MaxFailedLogins = 5

// RoleUser is the only role the portal knows about. It is a fixed placeholder;
// there is no role-based access control.
const RoleUser = "user"

// Audit event types
const (
	AuditLogin       = "login"
	AuditLoginFailed = "login_failed"
	AuditLogout      = "logout"
)

// User represents a staff account
type User struct {
	ID                  uuid.UUID  `json:"user_id"`
	Email               string     `json:"email"`
	PasswordHash        string     `json:"-"` // Never serialize to JSON
	DisplayName         string     `json:"display_name"`
	FirstName           string     `json:"first_name"`
	LastName            string     `json:"last_name"`
	HomeSiteSta3n       *int       `json:"home_site_sta3n,omitempty"`
	IsActive            bool       `json:"is_active"`
	IsLocked            bool       `json:"is_locked"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	CreatedBy           string     `json:"created_by"`
}

// NewUser creates an active, unlocked user with generated ID and timestamps
func NewUser(email, displayName, passwordHash string) *User {
	now := time.Now().UTC()
	return &User{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
		CreatedBy:    "system",
	}
}

// Session represents a login session bound to a browser cookie
type Session struct {
	ID             uuid.UUID `json:"session_id"`
	UserID         uuid.UUID `json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	IsActive       bool      `json:"is_active"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
}

// IsExpiredAt reports whether the session has expired at the given instant.
// A session is still valid at exactly ExpiresAt.
func (s *Session) IsExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SessionWithUser is the joined row used for session validation.
type SessionWithUser struct {
	Session Session
	User    User
}

// UserContext is the minimal identity attached to an authenticated request.
type UserContext struct {
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// AuditLog is an append-only authentication event.
type AuditLog struct {
	ID             uuid.UUID  `json:"audit_id"`
	UserID         *uuid.UUID `json:"user_id,omitempty"`
	EventType      string     `json:"event_type"`
	EventTimestamp time.Time  `json:"event_timestamp"`
	Email          string     `json:"email"`
	IPAddress      string     `json:"ip_address"`
	UserAgent      string     `json:"user_agent"`
	Success        bool       `json:"success"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	SessionID      *uuid.UUID `json:"session_id,omitempty"`
}

// ActiveSession is a monitoring row: an active session joined with its user.
type ActiveSession struct {
	SessionID      uuid.UUID
	DisplayName    string
	Email          string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastActivityAt time.Time
	IPAddress      string
}
