package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/medz/medz4/internal/models"
	"github.com/shopspring/decimal"
)

// ClinicalRepository reads the clinical summaries shown on the patient page.
type ClinicalRepository struct {
	db DBTX
}

// NewClinicalRepository creates a new clinical repository
func NewClinicalRepository(db DBTX) *ClinicalRepository {
	return &ClinicalRepository{db: db}
}

// Vitals returns the most recent measurements, newest first.
func (r *ClinicalRepository) Vitals(ctx context.Context, patientKey string, limit int) ([]models.Vital, error) {
	query := `
		SELECT vital_type, vital_abbr, taken_datetime, result_value, numeric_value,
			systolic, diastolic, unit_of_measure, location_name, abnormal_flag
		FROM patient_vitals
		WHERE patient_key = $1
		ORDER BY taken_datetime DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, patientKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query vitals: %w", err)
	}
	defer rows.Close()

	var vitals []models.Vital
	for rows.Next() {
		var v models.Vital
		var vtype, abbr, result, unit, location, flag sql.NullString
		var taken sql.NullTime
		var numeric decimal.NullDecimal
		var systolic, diastolic sql.NullInt64
		if err := rows.Scan(&vtype, &abbr, &taken, &result, &numeric,
			&systolic, &diastolic, &unit, &location, &flag); err != nil {
			return nil, fmt.Errorf("failed to scan vital: %w", err)
		}
		v.VitalType = vtype.String
		v.VitalAbbr = abbr.String
		v.TakenAt = timePtr(taken)
		v.ResultValue = result.String
		v.NumericValue = numeric
		v.Systolic = intPtr(systolic)
		v.Diastolic = intPtr(diastolic)
		v.UnitOfMeasure = unit.String
		v.LocationName = location.String
		v.AbnormalFlag = flag.String
		vitals = append(vitals, v)
	}
	return vitals, rows.Err()
}

// Allergies returns active allergies, most severe first.
func (r *ClinicalRepository) Allergies(ctx context.Context, patientKey string) ([]models.Allergy, error) {
	query := `
		SELECT allergen_standardized, allergen_type, severity, reactions,
			origination_date, historical_or_observed
		FROM patient_allergies
		WHERE patient_key = $1 AND is_active = TRUE
		ORDER BY severity_rank DESC, origination_date DESC
	`
	rows, err := r.db.QueryContext(ctx, query, patientKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query allergies: %w", err)
	}
	defer rows.Close()

	var allergies []models.Allergy
	for rows.Next() {
		var a models.Allergy
		var allergen, atype, severity, reactions, hist sql.NullString
		var origin sql.NullTime
		if err := rows.Scan(&allergen, &atype, &severity, &reactions, &origin, &hist); err != nil {
			return nil, fmt.Errorf("failed to scan allergy: %w", err)
		}
		a.Allergen = allergen.String
		a.Type = atype.String
		a.Severity = severity.String
		a.Reactions = reactions.String
		a.OriginationDate = timePtr(origin)
		a.HistoricalOrObserved = hist.String
		allergies = append(allergies, a)
	}
	return allergies, rows.Err()
}

// Medications returns active outpatient prescriptions, newest first.
func (r *ClinicalRepository) Medications(ctx context.Context, patientKey string, limit int) ([]models.Medication, error) {
	query := `
		SELECT drug_name_local, generic_name, drug_strength, sig, rx_status_computed,
			issue_date, expiration_date, refills_remaining, provider_name
		FROM patient_medications_outpatient
		WHERE patient_key = $1 AND is_active = TRUE
		ORDER BY issue_date DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, patientKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query medications: %w", err)
	}
	defer rows.Close()

	var meds []models.Medication
	for rows.Next() {
		var m models.Medication
		var drug, generic, strength, sig, status, provider sql.NullString
		var issued, expires sql.NullTime
		var refills sql.NullInt64
		if err := rows.Scan(&drug, &generic, &strength, &sig, &status,
			&issued, &expires, &refills, &provider); err != nil {
			return nil, fmt.Errorf("failed to scan medication: %w", err)
		}
		m.DrugName = drug.String
		m.GenericName = generic.String
		m.Strength = strength.String
		m.Sig = sig.String
		m.Status = status.String
		m.IssueDate = timePtr(issued)
		m.ExpirationDate = timePtr(expires)
		m.RefillsRemaining = intPtr(refills)
		m.Provider = provider.String
		meds = append(meds, m)
	}
	return meds, rows.Err()
}
