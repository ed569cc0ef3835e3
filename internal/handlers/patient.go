package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/medz/medz4/internal/middleware"
	"github.com/medz/medz4/internal/models"
	"github.com/medz/medz4/internal/services/ccow"
	"github.com/medz/medz4/internal/services/patient"
	"go.uber.org/zap"
)

// PatientDetail renders demographics and clinical summaries, and makes the
// patient the user's active context.
func (h *Handler) PatientDetail(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	icn := mux.Vars(r)["icn"]

	detail, err := h.patients.Detail(r.Context(), icn)
	if errors.Is(err, patient.ErrPatientNotFound) {
		h.logger.Warn("patient not found", zap.String("icn", icn))
		h.redirect(w, r, "/dashboard")
		return
	}
	if err != nil {
		h.logger.Error("failed to load patient", zap.String("icn", icn), zap.Error(err))
		http.Error(w, "Failed to load patient", http.StatusInternalServerError)
		return
	}

	var active *ccow.ContextInfo
	if h.vault.SetActivePatient(r.Context(), user.SessionID, icn) {
		active = &ccow.ContextInfo{PatientID: icn, SetBy: ccow.SetBy}
	}

	data := h.pageData(r, detail.Patient.NameDisplay, active)
	data["Detail"] = detail
	h.renderPage(w, r, http.StatusOK, "patient_detail.html", "", data)
}

// CreateForm returns the new-patient modal
func (h *Handler) CreateForm(w http.ResponseWriter, r *http.Request) {
	h.renderFragment(w, http.StatusOK, "patient_form", h.newPatientForm(r, "create", ""))
}

// CreatePatient handles the new-patient form
func (h *Handler) CreatePatient(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	if err := r.ParseForm(); err != nil {
		h.toast(w, "error", "Invalid request")
		return
	}
	in := models.PatientInputFromForm(r.PostForm)

	res, err := h.patients.Create(r.Context(), in)
	if err != nil {
		var verr *patient.ValidationError
		switch {
		case errors.As(err, &verr):
			form := h.newPatientForm(r, "create", "")
			form.Values = in.Values()
			form.Errors = verr.Fields
			h.renderFragment(w, http.StatusOK, "patient_form", form)
		case errors.Is(err, patient.ErrICNRangeExhausted):
			h.toast(w, "error", "Error: "+err.Error())
		default:
			h.toast(w, "error", "Error: could not create patient")
		}
		return
	}

	// Best effort; the patient exists whether or not the vault answers
	if !h.vault.SetActivePatient(r.Context(), user.SessionID, res.ICN) {
		h.logger.Warn("could not set context after create", zap.String("icn", res.ICN))
	}

	h.patientChanged(w, "created")
	h.toast(w, "success", fmt.Sprintf("Patient created: %s (%s)", res.NameDisplay, res.ICN))
}

// EditForm returns the edit modal populated from the stored patient
func (h *Handler) EditForm(w http.ResponseWriter, r *http.Request) {
	icn := mux.Vars(r)["icn"]

	p, err := h.patients.GetByICN(r.Context(), icn)
	if errors.Is(err, patient.ErrPatientNotFound) {
		h.toast(w, "error", fmt.Sprintf("Patient %s not found", icn))
		return
	}
	if err != nil {
		h.logger.Error("failed to load patient", zap.String("icn", icn), zap.Error(err))
		h.toast(w, "error", "Error: could not load patient")
		return
	}

	form := h.newPatientForm(r, "edit", icn)
	form.Values = p.FormValues()
	h.renderFragment(w, http.StatusOK, "patient_form", form)
}

// UpdatePatient handles the edit form
func (h *Handler) UpdatePatient(w http.ResponseWriter, r *http.Request) {
	icn := mux.Vars(r)["icn"]
	if err := r.ParseForm(); err != nil {
		h.toast(w, "error", "Invalid request")
		return
	}
	in := models.PatientInputFromForm(r.PostForm)

	res, err := h.patients.Update(r.Context(), icn, in)
	if err != nil {
		var verr *patient.ValidationError
		switch {
		case errors.As(err, &verr):
			form := h.newPatientForm(r, "edit", icn)
			form.Values = in.Values()
			form.Errors = verr.Fields
			h.renderFragment(w, http.StatusOK, "patient_form", form)
		case errors.Is(err, patient.ErrPatientNotFound):
			h.toast(w, "error", fmt.Sprintf("Patient %s not found", icn))
		default:
			h.toast(w, "error", "Error: could not update patient")
		}
		return
	}

	h.patientChanged(w, "updated")
	h.toast(w, "success", fmt.Sprintf("Patient updated: %s (%s)", res.NameDisplay, res.ICN))
}

// DeletePatient removes a patient and its clinical data. If the patient was
// the user's active context, the context is cleared.
func (h *Handler) DeletePatient(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	icn := mux.Vars(r)["icn"]

	active := h.vault.GetActivePatient(r.Context(), user.SessionID)
	wasActive := active != nil && active.PatientID == icn

	res, err := h.patients.Delete(r.Context(), icn)
	if errors.Is(err, patient.ErrPatientNotFound) {
		h.toast(w, "error", fmt.Sprintf("Patient %s not found", icn))
		return
	}
	if err != nil {
		h.toast(w, "error", "Error: could not delete patient")
		return
	}

	if wasActive {
		if h.vault.ClearActivePatient(r.Context(), user.SessionID) {
			h.logger.Info("cleared context after deleting active patient", zap.String("icn", icn))
		} else {
			h.logger.Warn("could not clear context after delete", zap.String("icn", icn))
		}
	}

	message := "Patient deleted: " + icn
	if failed := res.Failed(); len(failed) > 0 {
		message += fmt.Sprintf(" (%d clinical tables could not be cleared)", len(failed))
	}
	h.patientChanged(w, "deleted")
	h.toast(w, "success", message)
}

func (h *Handler) newPatientForm(r *http.Request, mode, icn string) patientForm {
	form := patientForm{Mode: mode, ICN: icn, Action: "/patient/create"}
	if mode == "edit" {
		form.Action = "/patient/" + icn + "/update"
	}
	if user := middleware.GetUser(r); user != nil {
		form.CSRFToken = h.csrfToken(user)
	}
	return form
}

// patientChanged asks the page to close the modal and refresh what it shows.
func (h *Handler) patientChanged(w http.ResponseWriter, action string) {
	w.Header().Set("HX-Trigger", fmt.Sprintf(`{"patientChanged":{"action":%q}}`, action))
}
