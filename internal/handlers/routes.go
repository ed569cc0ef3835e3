package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/medz/medz4/internal/metrics"
	"github.com/medz/medz4/internal/middleware"
)

// Routes builds the application router
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(
		middleware.Recover(h.logger),
		middleware.SecurityHeaders,
		middleware.Logger(h.logger),
	)

	protect := func(f http.HandlerFunc) http.Handler {
		return middleware.Chain(f, h.middleware.RequireAuth, h.middleware.RequireCSRF)
	}
	optional := func(f http.HandlerFunc) http.Handler {
		return h.middleware.OptionalAuth(f)
	}

	// Static files
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.FS(h.static))))

	// Public routes
	r.Handle("/", optional(h.Root)).Methods(http.MethodGet)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/health/ccow", h.HealthCCOW).Methods(http.MethodGet)
	r.HandleFunc("/health/vista", h.HealthVistA).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.Handle("/login", optional(h.LoginPage)).Methods(http.MethodGet)
	r.HandleFunc("/login", h.Login).Methods(http.MethodPost)

	// Protected routes (require authentication)
	r.Handle("/logout", protect(h.Logout)).Methods(http.MethodPost)
	r.Handle("/dashboard", protect(h.Dashboard)).Methods(http.MethodGet)
	r.Handle("/context/banner", protect(h.ContextBanner)).Methods(http.MethodGet)
	r.Handle("/context/clear", protect(h.ClearContext)).Methods(http.MethodDelete)

	// Fixed patient paths must be registered before /patient/{icn}
	r.Handle("/patient/roster-table", protect(h.RosterTable)).Methods(http.MethodGet)
	r.Handle("/patient/create-form", protect(h.CreateForm)).Methods(http.MethodGet)
	r.Handle("/patient/create", protect(h.CreatePatient)).Methods(http.MethodPost)
	r.Handle("/patient/{icn}", protect(h.PatientDetail)).Methods(http.MethodGet)
	r.Handle("/patient/{icn}", protect(h.DeletePatient)).Methods(http.MethodDelete)
	r.Handle("/patient/{icn}/edit-form", protect(h.EditForm)).Methods(http.MethodGet)
	r.Handle("/patient/{icn}/update", protect(h.UpdatePatient)).Methods(http.MethodPost)

	r.Handle("/monitoring", protect(h.MonitoringPage)).Methods(http.MethodGet)
	r.Handle("/monitoring/sessions", protect(h.MonitoringSessions)).Methods(http.MethodGet)
	r.Handle("/monitoring/database", protect(h.MonitoringDatabase)).Methods(http.MethodGet)
	r.Handle("/monitoring/medz1", protect(h.MonitoringMedZ1)).Methods(http.MethodGet)
	r.Handle("/monitoring/ccow-patients", protect(h.MonitoringCCOWPatients)).Methods(http.MethodGet)
	r.Handle("/monitoring/ccow-history", protect(h.MonitoringCCOWHistory)).Methods(http.MethodGet)

	return r
}
