// Package handlers provides HTTP request handlers
package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"path"

	"github.com/medz/medz4/internal/config"
	"github.com/medz/medz4/internal/middleware"
	"github.com/medz/medz4/internal/models"
	"github.com/medz/medz4/internal/services/auth"
	"github.com/medz/medz4/internal/services/ccow"
	"github.com/medz/medz4/internal/services/monitoring"
	"github.com/medz/medz4/internal/services/patient"
	"go.uber.org/zap"
)

// Handler contains all HTTP handlers and dependencies
type Handler struct {
	cfg        *config.Config
	pages      map[string]*template.Template
	partials   *template.Template
	static     fs.FS
	auth       *auth.Service
	patients   *patient.Service
	vault      *ccow.Client
	monitor    *monitoring.Service
	middleware *middleware.Auth
	logger     *zap.Logger
}

// New creates a new handler with all dependencies. assets must contain the
// templates/ and static/ trees.
func New(
	cfg *config.Config,
	assets fs.FS,
	authService *auth.Service,
	patientService *patient.Service,
	vault *ccow.Client,
	monitor *monitoring.Service,
	logger *zap.Logger,
) (*Handler, error) {
	pages, partials, err := parseTemplates(assets)
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	static, err := fs.Sub(assets, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to open static assets: %w", err)
	}

	logger = logger.Named("http")
	return &Handler{
		cfg:        cfg,
		pages:      pages,
		partials:   partials,
		static:     static,
		auth:       authService,
		patients:   patientService,
		vault:      vault,
		monitor:    monitor,
		middleware: middleware.NewAuth(authService, authService, cfg.Session.CookieName, logger),
		logger:     logger,
	}, nil
}

// parseTemplates builds one template set per page (layout + page + partials) so
// every page can define its own "content" block, plus a partials-only set for
// fragments.
func parseTemplates(assets fs.FS) (map[string]*template.Template, *template.Template, error) {
	partials, err := template.New("").Funcs(templateFuncs()).ParseFS(assets, "templates/partials/*.html")
	if err != nil {
		return nil, nil, err
	}

	files, err := fs.Glob(assets, "templates/pages/*.html")
	if err != nil {
		return nil, nil, err
	}

	pages := make(map[string]*template.Template, len(files))
	for _, file := range files {
		tmpl, err := partials.Clone()
		if err != nil {
			return nil, nil, err
		}
		if _, err := tmpl.ParseFS(assets, "templates/layouts/*.html", file); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", file, err)
		}
		pages[path.Base(file)] = tmpl
	}
	return pages, partials, nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"field": field,
	}
}

// bannerView is the active-patient strip under the top bar.
type bannerView struct {
	ICN   string
	Name  string
	SetBy string
}

// pollerView renders the context poller. EchoICN goes back out as current_icn.
type pollerView struct {
	State   string
	NewICN  string
	NewName string
	EchoICN string
}

// patientForm is the create/edit modal.
type patientForm struct {
	Mode      string
	ICN       string
	Action    string
	CSRFToken string
	Values    map[string]string
	Errors    models.FieldErrors
}

type formField struct {
	Name  string
	Label string
	Type  string
	Value string
	Error string
}

func field(f patientForm, name, label, typ string) formField {
	return formField{
		Name:  name,
		Label: label,
		Type:  typ,
		Value: f.Values[name],
		Error: f.Errors[name],
	}
}

type toastView struct {
	Kind    string
	Message string
}

// pageData assembles the fields every full page needs. active is the user's
// current vault context, or nil.
func (h *Handler) pageData(r *http.Request, title string, active *ccow.ContextInfo) map[string]any {
	data := map[string]any{
		"Title":      title,
		"AppName":    h.cfg.App.Name,
		"AppVersion": h.cfg.App.Version,
		"User":       (*models.UserContext)(nil),
		"CSRFToken":  "",
		"Poller":     pollerView{State: ccow.PollQuiescent.String()},
	}

	user := middleware.GetUser(r)
	if user == nil {
		return data
	}
	data["User"] = user
	data["CSRFToken"] = h.csrfToken(user)

	if active != nil && active.PatientID != "" {
		data["Banner"] = &bannerView{
			ICN:   active.PatientID,
			Name:  h.patientName(r, active.PatientID),
			SetBy: active.SetBy,
		}
		data["Poller"] = pollerView{State: ccow.PollQuiescent.String(), EchoICN: active.PatientID}
	} else {
		data["Banner"] = (*bannerView)(nil)
	}
	return data
}

func (h *Handler) csrfToken(user *models.UserContext) string {
	token, err := h.auth.IssueCSRFToken(user.SessionID)
	if err != nil {
		h.logger.Error("failed to issue csrf token", zap.Error(err))
		return ""
	}
	return token
}

// patientName looks up a display name for an ICN, or "" if it is unknown here.
func (h *Handler) patientName(r *http.Request, icn string) string {
	p, err := h.patients.GetByICN(r.Context(), icn)
	if err != nil {
		return ""
	}
	return p.NameDisplay
}

// renderPage renders a full page, or only its fragment template when the
// request is an htmx partial and the page has one.
func (h *Handler) renderPage(w http.ResponseWriter, r *http.Request, status int, page, fragment string, data map[string]any) {
	tmpl, ok := h.pages[page]
	if !ok {
		h.logger.Error("unknown page template", zap.String("page", page))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	name := "base"
	if fragment != "" && middleware.IsPartial(r) {
		name = fragment
	}
	h.execute(w, status, tmpl, name, data)
}

// renderFragment renders a partial template
func (h *Handler) renderFragment(w http.ResponseWriter, status int, name string, data any) {
	h.execute(w, status, h.partials, name, data)
}

func (h *Handler) execute(w http.ResponseWriter, status int, tmpl *template.Template, name string, data any) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		h.logger.Error("template error", zap.String("template", name), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// toast renders a notification into the page's toast container, whatever the
// request originally targeted.
func (h *Handler) toast(w http.ResponseWriter, kind, message string) {
	w.Header().Set("HX-Retarget", "#toast-container")
	w.Header().Set("HX-Reswap", "innerHTML")
	h.renderFragment(w, http.StatusOK, "toast", toastView{Kind: kind, Message: message})
}

// redirect performs an HTTP redirect
func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, url string) {
	http.Redirect(w, r, url, http.StatusSeeOther)
}

// writeJSON writes v as a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

// jsonError writes a JSON error response
func (h *Handler) jsonError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func requestMeta(r *http.Request) auth.RequestMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	ua := r.UserAgent()
	if ua == "" {
		ua = "unknown"
	}
	return auth.RequestMeta{IPAddress: ip, UserAgent: ua}
}
