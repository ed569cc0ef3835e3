package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/medz/medz4/internal/config"
	"github.com/medz/medz4/internal/models"
	"github.com/medz/medz4/internal/services/ccow"
	"github.com/medz/medz4/internal/storage"
	"github.com/medz/medz4/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func TestFormatTimeAgo(t *testing.T) {
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{0, "0s ago"},
		{59 * time.Second, "59s ago"},
		{60 * time.Second, "1m ago"},
		{59 * time.Minute, "59m ago"},
		{time.Hour, "1h ago"},
		{23 * time.Hour, "23h ago"},
		{49 * time.Hour, "2d ago"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatTimeAgo(testNow.Add(-tt.ago), testNow))
	}
}

func TestFormatTimeUntil(t *testing.T) {
	assert.Equal(t, "expired", FormatTimeUntil(testNow.Add(-time.Second), testNow))
	assert.Equal(t, "in 0s", FormatTimeUntil(testNow, testNow))
	assert.Equal(t, "in 30s", FormatTimeUntil(testNow.Add(30*time.Second), testNow))
	assert.Equal(t, "in 25m", FormatTimeUntil(testNow.Add(25*time.Minute), testNow))
	assert.Equal(t, "in 2h", FormatTimeUntil(testNow.Add(2*time.Hour+time.Minute), testNow))
	assert.Equal(t, "in 3d", FormatTimeUntil(testNow.Add(72*time.Hour), testNow))
}

func newVaultServer(t *testing.T, history int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ccow/active-patients", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"contexts": []map[string]string{
				{"email": "old@va.gov", "patient_id": "ICN1", "set_by": "med-z1", "set_at": "2026-10-19T10:00:00Z"},
				{"email": "new@va.gov", "patient_id": "ICN2", "set_by": "med-z4", "set_at": "2026-10-19T11:59:00Z"},
				{"email": "nodate@va.gov", "patient_id": "ICN3"},
			},
			"total_count": 3,
		})
	})
	mux.HandleFunc("/ccow/history", func(w http.ResponseWriter, r *http.Request) {
		events := make([]map[string]any, 0, history)
		for i := 0; i < history; i++ {
			events = append(events, map[string]any{
				"action":     "set",
				"email":      "a@va.gov",
				"patient_id": fmt.Sprintf("ICN%d", i),
				"actor":      "med-z4",
				"timestamp":  testNow.Add(time.Duration(i-history) * time.Minute).Format(time.RFC3339),
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"history": events})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(t *testing.T, vaultURL string) (*Service, *storage.DB) {
	t.Helper()
	db := storagetest.NewDB(t)
	logger := zaptest.NewLogger(t)
	cfg := &config.Config{
		CCOW:  config.CCOWConfig{BaseURL: vaultURL, Timeout: time.Second},
		MedZ1: config.ServiceConfig{BaseURL: vaultURL},
		VistA: config.ServiceConfig{BaseURL: vaultURL, HealthEndpoint: "/health"},
	}
	svc := NewService(cfg, db, ccow.NewClient(cfg.CCOW, logger), logger)
	svc.now = func() time.Time { return testNow }
	return svc, db
}

func TestService_ActiveSessions(t *testing.T) {
	svc, db := newTestService(t, "http://127.0.0.1:0")
	ctx := context.Background()

	users := storage.NewUserRepository(db)
	sessions := storage.NewSessionRepository(db)
	user := models.NewUser("clinician@va.gov", "Dr. Alpha", "hash")
	require.NoError(t, users.Create(ctx, user))

	for _, created := range []time.Time{testNow.Add(-5 * time.Minute), testNow.Add(-time.Minute)} {
		require.NoError(t, sessions.Create(ctx, &models.Session{
			ID:             uuid.New(),
			UserID:         user.ID,
			CreatedAt:      created,
			LastActivityAt: created,
			ExpiresAt:      created.Add(25 * time.Minute),
			IsActive:       true,
		}))
	}

	report := svc.ActiveSessions(ctx)
	assert.Empty(t, report.Error)
	assert.Equal(t, 1, report.UniqueUsers)
	assert.Equal(t, 2, report.TotalSessions)
	require.Len(t, report.Sessions, 2)
	assert.Equal(t, "1m ago", report.Sessions[0].CreatedAgo)
	assert.Equal(t, "in 24m", report.Sessions[0].ExpiresIn)
	assert.Len(t, report.Sessions[0].SessionID, 11)
	assert.Equal(t, "N/A", report.Sessions[0].IPAddress)
}

func TestService_DatabaseHealth(t *testing.T) {
	svc, db := newTestService(t, "http://127.0.0.1:0")
	ctx := context.Background()

	report := svc.DatabaseHealth(ctx)
	assert.True(t, report.Connected)
	assert.Equal(t, int64(0), report.PatientCount)
	assert.Equal(t, "Unknown", report.LastETLUpdate)

	_, err := db.ExecContext(ctx,
		"INSERT INTO patient_demographics (icn, patient_key, name_last, name_first, last_updated) VALUES ($1, $2, $3, $4, $5)",
		"ICN1", "ICN1", "Doe", "Jane", testNow.Add(-3*time.Hour))
	require.NoError(t, err)

	report = svc.DatabaseHealth(ctx)
	assert.Equal(t, int64(1), report.PatientCount)
	assert.Equal(t, "3h ago", report.LastETLUpdate)

	db.Close()
	report = svc.DatabaseHealth(ctx)
	assert.False(t, report.Connected)
	assert.Equal(t, "Error", report.Status)
	assert.NotEmpty(t, report.Error)
}

func TestService_CCOWActivePatientsSorted(t *testing.T) {
	srv := newVaultServer(t, 0)
	svc, _ := newTestService(t, srv.URL)

	report := svc.CCOWActivePatients(context.Background(), "sid")
	assert.Empty(t, report.Error)
	assert.Equal(t, 3, report.TotalCount)
	require.Len(t, report.Contexts, 3)
	assert.Equal(t, "new@va.gov", report.Contexts[0].Email)
	assert.Equal(t, "1m ago", report.Contexts[0].SetAt)
	assert.Equal(t, "old@va.gov", report.Contexts[1].Email)
	assert.Equal(t, "Unknown", report.Contexts[2].SetAt)
}

func TestService_CCOWHistoryTruncates(t *testing.T) {
	srv := newVaultServer(t, 40)
	svc, _ := newTestService(t, srv.URL)

	report := svc.CCOWHistory(context.Background(), "sid", 0)
	assert.Empty(t, report.Error)
	assert.Equal(t, 40, report.TotalCount)
	require.Len(t, report.History, DefaultHistoryLimit)
	assert.Equal(t, "ICN39", report.History[0].PatientID, "newest first")
	assert.Equal(t, "Set", report.History[0].Action)
}

func TestService_CCOWErrorsAreReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)
	svc, _ := newTestService(t, srv.URL)

	assert.Contains(t, svc.CCOWActivePatients(context.Background(), "sid").Error, "403")
	assert.Contains(t, svc.CCOWHistory(context.Background(), "sid", 5).Error, "403")
}

func TestService_Probes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	svc, _ := newTestService(t, srv.URL)
	ctx := context.Background()

	sibling := svc.SiblingHealth(ctx)
	assert.True(t, sibling.Reachable, "any answer means the sibling is up")
	assert.Equal(t, http.StatusNotFound, sibling.StatusCode)

	vista := svc.VistAHealth(ctx)
	assert.False(t, vista.Reachable)
	assert.Equal(t, "Unhealthy", vista.Status)

	srv.Close()
	sibling = svc.SiblingHealth(ctx)
	assert.False(t, sibling.Reachable)
	assert.Equal(t, "Connection failed - is med-z1 running?", sibling.Error)
}
