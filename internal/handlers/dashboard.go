package handlers

import (
	"net/http"
	"strings"

	"github.com/medz/medz4/internal/middleware"
	"github.com/medz/medz4/internal/services/ccow"
	"go.uber.org/zap"
)

// Root sends visitors to the dashboard or the login page
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	if user := middleware.GetUser(r); user != nil {
		h.redirect(w, r, "/dashboard")
		return
	}
	h.redirect(w, r, "/login")
}

// Dashboard renders the patient roster
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)

	// The context may have been set by a sibling application
	active := h.vault.GetActivePatient(r.Context(), user.SessionID)
	activeICN := ""
	if active != nil {
		activeICN = active.PatientID
	}

	patients, err := h.patients.Roster(r.Context(), 0, activeICN)
	if err != nil {
		h.logger.Error("failed to load roster", zap.Error(err))
		http.Error(w, "Failed to load patients", http.StatusInternalServerError)
		return
	}

	data := h.pageData(r, "Dashboard", active)
	data["Patients"] = patients
	data["ActiveICN"] = activeICN
	h.renderPage(w, r, http.StatusOK, "dashboard.html", "dashboard_body", data)
}

// RosterTable returns the refreshed roster table fragment
func (h *Handler) RosterTable(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)

	activeICN := ""
	if active := h.vault.GetActivePatient(r.Context(), user.SessionID); active != nil {
		activeICN = active.PatientID
	}

	patients, err := h.patients.Roster(r.Context(), 0, activeICN)
	if err != nil {
		h.logger.Error("failed to load roster", zap.Error(err))
		h.renderFragment(w, http.StatusOK, "toast", toastView{Kind: "error", Message: "Failed to load patients"})
		return
	}
	h.renderFragment(w, http.StatusOK, "roster_table", patients)
}

// ContextBanner answers one context poll. The browser sends the ICN it
// believes is active and gets back a poller fragment that keeps polling with
// that same belief, so a change notification stays up until the user reloads.
func (h *Handler) ContextBanner(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	believed := strings.TrimSpace(r.URL.Query().Get("current_icn"))

	res := h.vault.Poll(r.Context(), user.SessionID, believed)
	view := pollerView{
		State:   res.State.String(),
		NewICN:  res.NewICN,
		EchoICN: res.EchoICN,
	}
	if res.State == ccow.PollChanged {
		view.NewName = h.patientName(r, res.NewICN)
	}
	h.renderFragment(w, http.StatusOK, "context_poller", view)
}

// ClearContext clears the user's CCOW context
func (h *Handler) ClearContext(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)

	if !h.vault.ClearActivePatient(r.Context(), user.SessionID) {
		h.jsonError(w, "Failed to clear context", http.StatusBadGateway)
		return
	}

	w.Header().Set("HX-Refresh", "true")
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Context cleared"})
}
