// Package monitoring aggregates session, database and dependency health for the
// operations page.
package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/medz/medz4/internal/config"
	"github.com/medz/medz4/internal/models"
	"github.com/medz/medz4/internal/services/ccow"
	"github.com/medz/medz4/internal/storage"
	"go.uber.org/zap"
)

const (
	// DefaultHistoryLimit bounds the context history shown.
	DefaultHistoryLimit = 30

	probeTimeout = 2 * time.Second
)

// SessionRow is one active session formatted for display.
type SessionRow struct {
	SessionID   string
	DisplayName string
	Email       string
	CreatedAgo  string
	ExpiresIn   string
	IPAddress   string
}

// SessionsReport lists active sessions.
type SessionsReport struct {
	UniqueUsers   int
	TotalSessions int
	Sessions      []SessionRow
	Error         string
}

// DatabaseReport describes database reachability.
type DatabaseReport struct {
	Connected      bool
	Status         string
	PatientCount   int64
	LastETLUpdate  string
	ResponseTimeMs int64
	Error          string
}

// ContextRow is one vault context formatted for display.
type ContextRow struct {
	Email     string
	PatientID string
	SetBy     string
	SetAt     string
}

// ContextsReport lists every active context in the vault.
type ContextsReport struct {
	TotalCount int
	Contexts   []ContextRow
	Error      string
}

// HistoryRow is one vault history event formatted for display.
type HistoryRow struct {
	Action    string
	Email     string
	PatientID string
	Actor     string
	Timestamp string
}

// HistoryReport is the most recent slice of vault history.
type HistoryReport struct {
	TotalCount int
	History    []HistoryRow
	Error      string
}

// Service gathers monitoring data
type Service struct {
	sessions *storage.SessionRepository
	patients *storage.PatientRepository
	vault    *ccow.Client
	medz1    config.ServiceConfig
	vista    config.ServiceConfig
	http     *http.Client
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a new monitoring service
func NewService(cfg *config.Config, db *storage.DB, vault *ccow.Client, logger *zap.Logger) *Service {
	return &Service{
		sessions: storage.NewSessionRepository(db),
		patients: storage.NewPatientRepository(db),
		vault:    vault,
		medz1:    cfg.MedZ1,
		vista:    cfg.VistA,
		http:     &http.Client{Timeout: probeTimeout},
		logger:   logger.Named("monitoring"),
		now:      time.Now,
	}
}

// ActiveSessions lists unexpired sessions with their users.
func (s *Service) ActiveSessions(ctx context.Context) SessionsReport {
	now := s.now()
	rows, err := s.sessions.ListActive(ctx, now)
	if err != nil {
		s.logger.Error("failed to list sessions", zap.Error(err))
		return SessionsReport{Error: err.Error()}
	}

	report := SessionsReport{TotalSessions: len(rows)}
	users := make(map[string]struct{})
	for _, r := range rows {
		users[r.Email] = struct{}{}
		id := r.SessionID.String()
		report.Sessions = append(report.Sessions, SessionRow{
			SessionID:   id[:8] + "...",
			DisplayName: r.DisplayName,
			Email:       r.Email,
			CreatedAgo:  FormatTimeAgo(r.CreatedAt, now),
			ExpiresIn:   FormatTimeUntil(r.ExpiresAt, now),
			IPAddress:   orNA(r.IPAddress),
		})
	}
	report.UniqueUsers = len(users)
	return report
}

// DatabaseHealth measures a round trip and reports patient counts.
func (s *Service) DatabaseHealth(ctx context.Context) DatabaseReport {
	start := time.Now()

	count, err := s.patients.Count(ctx)
	if err != nil {
		s.logger.Error("database health check failed", zap.Error(err))
		return DatabaseReport{Status: "Error", Error: err.Error()}
	}
	latest, err := s.patients.LatestUpdate(ctx)
	if err != nil {
		s.logger.Error("database health check failed", zap.Error(err))
		return DatabaseReport{Status: "Error", Error: err.Error()}
	}

	report := DatabaseReport{
		Connected:      true,
		Status:         "Connected",
		PatientCount:   count,
		LastETLUpdate:  "Unknown",
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}
	if latest != nil {
		report.LastETLUpdate = FormatTimeAgo(*latest, s.now())
	}
	return report
}

// SiblingHealth checks that med-z1 answers.
func (s *Service) SiblingHealth(ctx context.Context) models.ServiceHealth {
	h := s.probe(ctx, "med-z1", s.medz1.BaseURL+"/", false)
	if !h.Reachable && h.StatusCode == 0 {
		h.Error = "Connection failed - is med-z1 running?"
	}
	return h
}

// VistAHealth checks the VistA service health endpoint.
func (s *Service) VistAHealth(ctx context.Context) models.ServiceHealth {
	return s.probe(ctx, "VistA", s.vista.BaseURL+s.vista.HealthEndpoint, true)
}

// CCOWHealth checks the context vault.
func (s *Service) CCOWHealth(ctx context.Context) models.ServiceHealth {
	return s.vault.Health(ctx)
}

// probe issues a GET. With requireOK any non-200 answer counts as unhealthy;
// otherwise any answer at all means the service is up.
func (s *Service) probe(ctx context.Context, name, url string, requireOK bool) models.ServiceHealth {
	h := models.ServiceHealth{Name: name}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		h.Status = "Error"
		h.Error = err.Error()
		return h
	}
	resp, err := s.http.Do(req)
	h.Elapsed = time.Since(start)
	if err != nil {
		s.logger.Debug("probe failed", zap.String("service", name), zap.Error(err))
		h.Status = "Unreachable"
		h.Error = err.Error()
		return h
	}
	resp.Body.Close()

	h.StatusCode = resp.StatusCode
	if requireOK && resp.StatusCode != http.StatusOK {
		h.Status = "Unhealthy"
		h.Error = fmt.Sprintf("status %d", resp.StatusCode)
		return h
	}
	h.Reachable = true
	h.Status = "Available"
	return h
}

// CCOWActivePatients lists vault contexts, most recently set first.
func (s *Service) CCOWActivePatients(ctx context.Context, sessionID string) ContextsReport {
	entries, total, err := s.vault.ActivePatients(ctx, sessionID)
	if err != nil {
		return ContextsReport{Error: err.Error()}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return after(entries[i].SetAt, entries[j].SetAt)
	})

	now := s.now()
	report := ContextsReport{TotalCount: total}
	for _, e := range entries {
		report.Contexts = append(report.Contexts, ContextRow{
			Email:     e.Email,
			PatientID: e.PatientID,
			SetBy:     e.SetBy,
			SetAt:     formatOptional(e.SetAt, now),
		})
	}
	return report
}

// CCOWHistory returns up to limit history events, newest first. TotalCount is the
// number of events before truncation.
func (s *Service) CCOWHistory(ctx context.Context, sessionID string, limit int) HistoryReport {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	events, err := s.vault.History(ctx, sessionID)
	if err != nil {
		return HistoryReport{Error: err.Error()}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return after(events[i].Timestamp, events[j].Timestamp)
	})

	report := HistoryReport{TotalCount: len(events)}
	if len(events) > limit {
		events = events[:limit]
	}

	now := s.now()
	for _, e := range events {
		action := "Clear"
		if e.Action == "set" {
			action = "Set"
		}
		patientID := e.PatientID
		if patientID == "" {
			patientID = "N/A"
		}
		report.History = append(report.History, HistoryRow{
			Action:    action,
			Email:     e.Email,
			PatientID: patientID,
			Actor:     e.Actor,
			Timestamp: formatOptional(e.Timestamp, now),
		})
	}
	return report
}

// FormatTimeAgo renders how long ago t was, e.g. "42s ago", "5m ago", "3h ago", "2d ago".
func FormatTimeAgo(t, now time.Time) string {
	secs := int64(now.Sub(t).Seconds())
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds ago", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm ago", secs/60)
	case secs < 86400:
		return fmt.Sprintf("%dh ago", secs/3600)
	default:
		return fmt.Sprintf("%dd ago", secs/86400)
	}
}

// FormatTimeUntil renders how far in the future t is, or "expired".
func FormatTimeUntil(t, now time.Time) string {
	d := t.Sub(now)
	if d < 0 {
		return "expired"
	}
	secs := int64(d.Seconds())
	switch {
	case secs < 60:
		return fmt.Sprintf("in %ds", secs)
	case secs < 3600:
		return fmt.Sprintf("in %dm", secs/60)
	case secs < 86400:
		return fmt.Sprintf("in %dh", secs/3600)
	default:
		return fmt.Sprintf("in %dd", secs/86400)
	}
}

func formatOptional(t *time.Time, now time.Time) string {
	if t == nil {
		return "Unknown"
	}
	return FormatTimeAgo(*t, now)
}

// after orders timestamps newest first with missing values last.
func after(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
