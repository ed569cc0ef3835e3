package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/medz/medz4/internal/models"
)

// UserRepository provides user data access
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new user repository
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *UserRepository) WithTx(tx DBTX) *UserRepository {
	return &UserRepository{db: tx}
}

const userColumns = `user_id, email, password_hash, display_name, first_name, last_name,
	home_site_sta3n, is_active, is_locked, failed_login_attempts, last_login_at,
	created_at, updated_at, created_by`

// Create inserts a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.ExecContext(ctx, query,
		user.ID.String(),
		user.Email,
		user.PasswordHash,
		user.DisplayName,
		nullString(user.FirstName),
		nullString(user.LastName),
		user.HomeSiteSta3n,
		user.IsActive,
		user.IsLocked,
		user.FailedLoginAttempts,
		user.LastLoginAt,
		user.CreatedAt.UTC(),
		user.UpdatedAt.UTC(),
		user.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id.String()))
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

// RecordFailedLogin increments the failed attempt counter and locks the account
// once it reaches maxAttempts. It returns the new count and lock state.
func (r *UserRepository) RecordFailedLogin(ctx context.Context, id uuid.UUID, maxAttempts int, now time.Time) (int, bool, error) {
	query := `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
			is_locked = CASE WHEN failed_login_attempts + 1 >= $1 THEN TRUE ELSE is_locked END,
			updated_at = $2
		WHERE user_id = $3
		RETURNING failed_login_attempts, is_locked
	`
	var attempts int
	var locked bool
	err := r.db.QueryRowContext(ctx, query, maxAttempts, now.UTC(), id.String()).Scan(&attempts, &locked)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, ErrNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to record failed login: %w", err)
	}
	return attempts, locked, nil
}

// RecordSuccessfulLogin resets the failed attempt counter and stamps last_login_at.
func (r *UserRepository) RecordSuccessfulLogin(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `
		UPDATE users
		SET failed_login_attempts = 0, last_login_at = $1, updated_at = $2
		WHERE user_id = $3
	`
	now = now.UTC()
	if _, err := r.db.ExecContext(ctx, query, now, now, id.String()); err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

// Unlock clears the lock and the failed attempt counter.
func (r *UserRepository) Unlock(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `
		UPDATE users SET is_locked = FALSE, failed_login_attempts = 0, updated_at = $1
		WHERE user_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, now.UTC(), id.String())
	if err != nil {
		return fmt.Errorf("failed to unlock user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	var id string
	var firstName, lastName sql.NullString
	var sta3n sql.NullInt64
	var lastLogin sql.NullTime

	err := row.Scan(
		&id,
		&user.Email,
		&user.PasswordHash,
		&user.DisplayName,
		&firstName,
		&lastName,
		&sta3n,
		&user.IsActive,
		&user.IsLocked,
		&user.FailedLoginAttempts,
		&lastLogin,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.CreatedBy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	if user.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", id, err)
	}
	user.FirstName = firstName.String
	user.LastName = lastName.String
	user.HomeSiteSta3n = intPtr(sta3n)
	user.LastLoginAt = timePtr(lastLogin)

	return &user, nil
}

// SessionRepository provides session data access
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *SessionRepository) WithTx(tx DBTX) *SessionRepository {
	return &SessionRepository{db: tx}
}

// Create inserts a new session
func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO sessions (session_id, user_id, created_at, last_activity_at, expires_at, is_active, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID.String(),
		s.UserID.String(),
		s.CreatedAt.UTC(),
		s.LastActivityAt.UTC(),
		s.ExpiresAt.UTC(),
		s.IsActive,
		nullString(s.IPAddress),
		nullString(s.UserAgent),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetWithUser loads an active session together with its user in one query.
func (r *SessionRepository) GetWithUser(ctx context.Context, id uuid.UUID) (*models.SessionWithUser, error) {
	query := `
		SELECT s.session_id, s.user_id, s.created_at, s.last_activity_at, s.expires_at,
			s.is_active, s.ip_address, s.user_agent,
			u.user_id, u.email, u.password_hash, u.display_name, u.first_name, u.last_name,
			u.home_site_sta3n, u.is_active, u.is_locked, u.failed_login_attempts, u.last_login_at,
			u.created_at, u.updated_at, u.created_by
		FROM sessions s
		JOIN users u ON u.user_id = s.user_id
		WHERE s.session_id = $1 AND s.is_active = TRUE
	`
	row := r.db.QueryRowContext(ctx, query, id.String())

	var out models.SessionWithUser
	var sid, suid, uid string
	var ip, ua, firstName, lastName sql.NullString
	var sta3n sql.NullInt64
	var lastLogin sql.NullTime

	err := row.Scan(
		&sid, &suid, &out.Session.CreatedAt, &out.Session.LastActivityAt, &out.Session.ExpiresAt,
		&out.Session.IsActive, &ip, &ua,
		&uid, &out.User.Email, &out.User.PasswordHash, &out.User.DisplayName, &firstName, &lastName,
		&sta3n, &out.User.IsActive, &out.User.IsLocked, &out.User.FailedLoginAttempts, &lastLogin,
		&out.User.CreatedAt, &out.User.UpdatedAt, &out.User.CreatedBy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	out.Session.ID, _ = uuid.Parse(sid)
	out.Session.UserID, _ = uuid.Parse(suid)
	out.Session.IPAddress = ip.String
	out.Session.UserAgent = ua.String
	out.User.ID, _ = uuid.Parse(uid)
	out.User.FirstName = firstName.String
	out.User.LastName = lastName.String
	out.User.HomeSiteSta3n = intPtr(sta3n)
	out.User.LastLoginAt = timePtr(lastLogin)

	return &out, nil
}

// Touch records activity on a session.
func (r *SessionRepository) Touch(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE sessions SET last_activity_at = $1 WHERE session_id = $2",
		now.UTC(), id.String())
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// Deactivate marks an active session inactive. It reports whether a row changed.
func (r *SessionRepository) Deactivate(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE sessions SET is_active = FALSE WHERE session_id = $1 AND is_active = TRUE",
		id.String())
	if err != nil {
		return false, fmt.Errorf("failed to deactivate session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeactivateExpired marks every session past its expiry inactive and returns how many changed.
func (r *SessionRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE sessions SET is_active = FALSE WHERE is_active = TRUE AND expires_at < $1",
		now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to expire sessions: %w", err)
	}
	return res.RowsAffected()
}

// ListActive returns unexpired active sessions, most recently active first.
func (r *SessionRepository) ListActive(ctx context.Context, now time.Time) ([]models.ActiveSession, error) {
	query := `
		SELECT s.session_id, u.display_name, u.email, s.created_at, s.expires_at,
			s.last_activity_at, s.ip_address
		FROM sessions s
		JOIN users u ON u.user_id = s.user_id
		WHERE s.is_active = TRUE AND s.expires_at > $1
		ORDER BY s.last_activity_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.ActiveSession
	for rows.Next() {
		var s models.ActiveSession
		var id string
		var ip sql.NullString
		if err := rows.Scan(&id, &s.DisplayName, &s.Email, &s.CreatedAt, &s.ExpiresAt, &s.LastActivityAt, &ip); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.SessionID, _ = uuid.Parse(id)
		s.IPAddress = ip.String
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// AuditRepository appends authentication events. Rows are never updated.
type AuditRepository struct {
	db DBTX
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *AuditRepository) WithTx(tx DBTX) *AuditRepository {
	return &AuditRepository{db: tx}
}

// Append writes one audit row. A zero ID or timestamp is filled in.
func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.EventTimestamp.IsZero() {
		entry.EventTimestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_logs (audit_id, user_id, event_type, event_timestamp, email,
			ip_address, user_agent, success, failure_reason, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		entry.ID.String(),
		uuidString(entry.UserID),
		entry.EventType,
		entry.EventTimestamp.UTC(),
		nullString(entry.Email),
		nullString(entry.IPAddress),
		nullString(entry.UserAgent),
		entry.Success,
		nullString(entry.FailureReason),
		uuidString(entry.SessionID),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit log: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func uuidString(id *uuid.UUID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
