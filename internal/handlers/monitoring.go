package handlers

import (
	"net/http"
	"strconv"

	"github.com/medz/medz4/internal/middleware"
)

// MonitoringPage renders the operations page; its panels load themselves.
func (h *Handler) MonitoringPage(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	active := h.vault.GetActivePatient(r.Context(), user.SessionID)
	h.renderPage(w, r, http.StatusOK, "monitoring.html", "", h.pageData(r, "Monitoring", active))
}

// MonitoringSessions lists active sessions
func (h *Handler) MonitoringSessions(w http.ResponseWriter, r *http.Request) {
	h.renderFragment(w, http.StatusOK, "monitoring_sessions", h.monitor.ActiveSessions(r.Context()))
}

// MonitoringDatabase reports database health
func (h *Handler) MonitoringDatabase(w http.ResponseWriter, r *http.Request) {
	h.renderFragment(w, http.StatusOK, "monitoring_database", h.monitor.DatabaseHealth(r.Context()))
}

// MonitoringMedZ1 reports whether med-z1 answers
func (h *Handler) MonitoringMedZ1(w http.ResponseWriter, r *http.Request) {
	h.renderFragment(w, http.StatusOK, "service_health", h.monitor.SiblingHealth(r.Context()))
}

// MonitoringCCOWPatients lists every active context in the vault
func (h *Handler) MonitoringCCOWPatients(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	h.renderFragment(w, http.StatusOK, "monitoring_ccow_patients", h.monitor.CCOWActivePatients(r.Context(), user.SessionID))
}

// MonitoringCCOWHistory shows recent vault history. ?limit= overrides the default.
func (h *Handler) MonitoringCCOWHistory(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	h.renderFragment(w, http.StatusOK, "monitoring_ccow_history", h.monitor.CCOWHistory(r.Context(), user.SessionID, limit))
}

// Health is the liveness probe
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "app": h.cfg.App.Name})
}

// HealthCCOW reports vault health as a fragment
func (h *Handler) HealthCCOW(w http.ResponseWriter, r *http.Request) {
	h.renderFragment(w, http.StatusOK, "service_health", h.monitor.CCOWHealth(r.Context()))
}

// HealthVistA reports VistA health as a fragment
func (h *Handler) HealthVistA(w http.ResponseWriter, r *http.Request) {
	h.renderFragment(w, http.StatusOK, "service_health", h.monitor.VistAHealth(r.Context()))
}
