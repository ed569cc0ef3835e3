// Package auth provides authentication services
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medz/medz4/internal/config"
	"github.com/medz/medz4/internal/metrics"
	"github.com/medz/medz4/internal/models"
	"github.com/medz/medz4/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrNotAuthenticated is returned for every failed login, whatever the cause.
	ErrNotAuthenticated = errors.New("invalid email or password")
	ErrInvalidSession   = errors.New("invalid or expired session")
	ErrInvalidCSRF      = errors.New("invalid csrf token")
)

// Failure reasons recorded in the audit log. They are never shown to the user.
const (
	reasonUnknownUser     = "user not found"
	reasonInactive        = "account inactive"
	reasonLocked          = "account locked"
	reasonInvalidPassword = "invalid password"
)

// RequestMeta describes the client behind an auth operation.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// Service handles authentication operations
type Service struct {
	db          *storage.DB
	userRepo    *storage.UserRepository
	sessionRepo *storage.SessionRepository
	auditRepo   *storage.AuditRepository
	timeout     time.Duration
	secret      []byte
	bcryptCost  int
	logger      *zap.Logger
	now         func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new auth service
func NewService(cfg *config.Config, db *storage.DB, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		db:          db,
		userRepo:    storage.NewUserRepository(db),
		sessionRepo: storage.NewSessionRepository(db),
		auditRepo:   storage.NewAuditRepository(db),
		timeout:     cfg.Session.Timeout(),
		secret:      []byte(cfg.Session.SecretKey),
		bcryptCost:  cfg.BcryptCost,
		logger:      logger.Named("auth"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CreateUser provisions an account. Accounts are normally created by the sibling
// application; this exists for seeding development databases.
func (s *Service) CreateUser(ctx context.Context, email, displayName, password string) (*models.User, error) {
	hash, err := HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	user := models.NewUser(strings.TrimSpace(email), displayName, hash)
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate verifies credentials. Every failure returns ErrNotAuthenticated;
// the specific reason goes to the audit log only.
func (s *Service) Authenticate(ctx context.Context, email, password string, meta RequestMeta) (*models.User, error) {
	email = strings.TrimSpace(email)
	now := s.now().UTC()

	user, err := s.userRepo.GetByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		s.burnHash(password)
		return nil, s.reject(ctx, nil, email, reasonUnknownUser, "unknown_user", meta)
	}
	if err != nil {
		metrics.AuthAttempt("error")
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !user.IsActive {
		return nil, s.reject(ctx, user, email, reasonInactive, "inactive", meta)
	}
	if user.IsLocked {
		return nil, s.reject(ctx, user, email, reasonLocked, "locked", meta)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		attempts, locked, recErr := s.userRepo.RecordFailedLogin(ctx, user.ID, models.MaxFailedLogins, now)
		if recErr != nil {
			s.logger.Error("failed to record failed login", zap.String("email", email), zap.Error(recErr))
		}
		reason := reasonInvalidPassword
		if locked {
			reason = fmt.Sprintf("%s (account locked after %d attempts)", reasonInvalidPassword, attempts)
		}
		return nil, s.reject(ctx, user, email, reason, "invalid_password", meta)
	}

	if err := s.userRepo.RecordSuccessfulLogin(ctx, user.ID, now); err != nil {
		metrics.AuthAttempt("error")
		return nil, err
	}
	user.FailedLoginAttempts = 0
	user.LastLoginAt = &now

	metrics.AuthAttempt("success")
	return user, nil
}

func (s *Service) reject(ctx context.Context, user *models.User, email, reason, outcome string, meta RequestMeta) error {
	entry := &models.AuditLog{
		EventType:      models.AuditLoginFailed,
		EventTimestamp: s.now().UTC(),
		Email:          email,
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
		Success:        false,
		FailureReason:  reason,
	}
	if user != nil {
		entry.UserID = &user.ID
	}
	if err := s.auditRepo.Append(ctx, entry); err != nil {
		s.logger.Error("failed to write audit log", zap.Error(err))
	}

	s.logger.Warn("login failed",
		zap.String("email", email),
		zap.String("reason", reason),
		zap.String("ip", meta.IPAddress),
	)
	metrics.AuthAttempt(outcome)
	return ErrNotAuthenticated
}

// burnHash spends a bcrypt comparison so unknown emails take as long as bad passwords.
func (s *Service) burnHash(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.bcryptCost)
	})
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
}

// CreateSession starts a session for an authenticated user and records the login.
func (s *Service) CreateSession(ctx context.Context, user *models.User, meta RequestMeta) (*models.Session, error) {
	now := s.now().UTC()
	session := &models.Session{
		ID:             uuid.New(),
		UserID:         user.ID,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(s.timeout),
		IsActive:       true,
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
	}

	err := s.db.WithTx(ctx, func(tx storage.DBTX) error {
		if err := s.sessionRepo.WithTx(tx).Create(ctx, session); err != nil {
			return err
		}
		return s.auditRepo.WithTx(tx).Append(ctx, &models.AuditLog{
			UserID:         &user.ID,
			EventType:      models.AuditLogin,
			EventTimestamp: now,
			Email:          user.Email,
			IPAddress:      meta.IPAddress,
			UserAgent:      meta.UserAgent,
			Success:        true,
			SessionID:      &session.ID,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("session created",
		zap.String("email", user.Email),
		zap.String("session_id", session.ID.String()),
	)
	return session, nil
}

// ValidateSession resolves a session id to the user behind it and records activity.
// Sessions are valid up to and including their expiry instant.
func (s *Service) ValidateSession(ctx context.Context, sessionID string) (*models.UserContext, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, ErrInvalidSession
	}

	sw, err := s.sessionRepo.GetWithUser(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if sw.Session.IsExpiredAt(now) {
		if _, err := s.sessionRepo.Deactivate(ctx, id); err != nil {
			s.logger.Warn("failed to deactivate expired session", zap.Error(err))
		}
		return nil, ErrInvalidSession
	}
	// Locking only gates new logins; a live session ends when the account is deactivated.
	if !sw.User.IsActive {
		return nil, ErrInvalidSession
	}

	if err := s.sessionRepo.Touch(ctx, id, now); err != nil {
		s.logger.Warn("failed to record session activity", zap.Error(err))
	}

	return &models.UserContext{
		SessionID:   id.String(),
		UserID:      sw.User.ID.String(),
		Email:       sw.User.Email,
		DisplayName: sw.User.DisplayName,
		Role:        models.RoleUser,
	}, nil
}

// InvalidateSession ends a session. It reports whether an active session was
// ended; ending an unknown or already-ended session is not an error.
func (s *Service) InvalidateSession(ctx context.Context, sessionID string, meta RequestMeta) (bool, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return false, nil
	}

	var ended bool
	err = s.db.WithTx(ctx, func(tx storage.DBTX) error {
		sessions := s.sessionRepo.WithTx(tx)
		sw, err := sessions.GetWithUser(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		ended, err = sessions.Deactivate(ctx, id)
		if err != nil || !ended {
			return err
		}
		return s.auditRepo.WithTx(tx).Append(ctx, &models.AuditLog{
			UserID:         &sw.User.ID,
			EventType:      models.AuditLogout,
			EventTimestamp: s.now().UTC(),
			Email:          sw.User.Email,
			IPAddress:      meta.IPAddress,
			UserAgent:      meta.UserAgent,
			Success:        true,
			SessionID:      &id,
		})
	})
	if err != nil {
		return false, fmt.Errorf("failed to invalidate session: %w", err)
	}
	return ended, nil
}

// CleanupExpiredSessions deactivates sessions past their expiry
func (s *Service) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	return s.sessionRepo.DeactivateExpired(ctx, s.now())
}
