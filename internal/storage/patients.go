package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/medz/medz4/internal/models"
	"github.com/shopspring/decimal"
)

// CascadeTables lists the clinical tables keyed by patient_key, in delete order.
var CascadeTables = []string{
	"patient_vitals",
	"patient_flags",
	"patient_flag_history",
	"patient_allergies",
	"patient_allergy_reactions",
	"patient_medications_outpatient",
	"patient_medications_inpatient",
	"patient_encounters",
	"patient_labs",
	"patient_clinical_notes",
	"patient_immunizations",
}

// Column is one column assignment in a sparse update.
type Column struct {
	Name  string
	Value any
}

// PatientRepository provides patient demographics data access
type PatientRepository struct {
	db DBTX
}

// NewPatientRepository creates a new patient repository
func NewPatientRepository(db DBTX) *PatientRepository {
	return &PatientRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *PatientRepository) WithTx(tx DBTX) *PatientRepository {
	return &PatientRepository{db: tx}
}

const patientColumns = `icn, patient_key, ssn, ssn_last4, name_last, name_first, name_display,
	dob, age, sex, primary_station, primary_station_name, address_street1, address_street2,
	address_city, address_state, address_zip, phone_primary, insurance_company_name,
	marital_status, religion, service_connected_percent, deceased_flag, death_date,
	source_system, last_updated`

// MaxICNWithPrefix returns the highest ICN starting with prefix, if any.
func (r *PatientRepository) MaxICNWithPrefix(ctx context.Context, prefix string) (string, bool, error) {
	var icn string
	err := r.db.QueryRowContext(ctx,
		"SELECT icn FROM patient_demographics WHERE icn LIKE $1 ORDER BY icn DESC LIMIT 1",
		prefix+"%").Scan(&icn)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read max icn: %w", err)
	}
	return icn, true, nil
}

// Insert adds a patient row.
func (r *PatientRepository) Insert(ctx context.Context, p *models.Patient) error {
	query := `
		INSERT INTO patient_demographics (` + patientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25, $26)
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ICN,
		p.PatientKey,
		nullString(p.SSN),
		nullString(p.SSNLast4),
		p.NameLast,
		p.NameFirst,
		nullString(p.NameDisplay),
		p.DOB,
		p.Age,
		nullString(p.Sex),
		nullString(p.PrimaryStation),
		nullString(p.PrimaryStationName),
		nullString(p.AddressStreet1),
		nullString(p.AddressStreet2),
		nullString(p.AddressCity),
		nullString(p.AddressState),
		nullString(p.AddressZip),
		nullString(p.PhonePrimary),
		nullString(p.InsuranceCompanyName),
		nullString(p.MaritalStatus),
		nullString(p.Religion),
		p.ServiceConnectedPercent,
		nullString(p.DeceasedFlag),
		p.DeathDate,
		nullString(p.SourceSystem),
		p.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to insert patient: %w", err)
	}
	return nil
}

// GetByICN retrieves one patient.
func (r *PatientRepository) GetByICN(ctx context.Context, icn string) (*models.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patient_demographics WHERE icn = $1`
	return scanPatient(r.db.QueryRowContext(ctx, query, icn))
}

// Update applies a sparse column set to one patient and reports whether it matched a row.
// Column names must come from a fixed whitelist; values are always bound.
func (r *PatientRepository) Update(ctx context.Context, icn string, cols []Column) (bool, error) {
	if len(cols) == 0 {
		return false, errors.New("no columns to update")
	}

	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets = append(sets, c.Name+" = $"+strconv.Itoa(i+1))
		args = append(args, c.Value)
	}
	args = append(args, icn)

	query := "UPDATE patient_demographics SET " + strings.Join(sets, ", ") +
		" WHERE icn = $" + strconv.Itoa(len(args))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update patient: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes the demographics row and reports whether it existed.
func (r *PatientRepository) Delete(ctx context.Context, icn string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM patient_demographics WHERE icn = $1", icn)
	if err != nil {
		return false, fmt.Errorf("failed to delete patient: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteClinical removes one clinical table's rows for a patient_key.
// table must be one of CascadeTables.
func (r *PatientRepository) DeleteClinical(ctx context.Context, table, patientKey string) (int64, error) {
	if !isCascadeTable(table) {
		return 0, fmt.Errorf("unknown clinical table %q", table)
	}
	res, err := r.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE patient_key = $1", patientKey)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Roster returns up to limit patients ordered by name.
func (r *PatientRepository) Roster(ctx context.Context, limit int) ([]models.RosterEntry, error) {
	query := `
		SELECT patient_key, icn, name_display, dob, age, sex, ssn_last4, primary_station
		FROM patient_demographics
		ORDER BY name_last, name_first
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query roster: %w", err)
	}
	defer rows.Close()

	var entries []models.RosterEntry
	for rows.Next() {
		var e models.RosterEntry
		var display, sex, last4, station sql.NullString
		var dob sql.NullTime
		var age sql.NullInt64
		if err := rows.Scan(&e.PatientKey, &e.ICN, &display, &dob, &age, &sex, &last4, &station); err != nil {
			return nil, fmt.Errorf("failed to scan roster row: %w", err)
		}
		e.NameDisplay = display.String
		e.DOB = timePtr(dob)
		e.Age = intPtr(age)
		e.Sex = sex.String
		e.SSNLast4 = last4.String
		e.PrimaryStation = station.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of patients.
func (r *PatientRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM patient_demographics").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count patients: %w", err)
	}
	return n, nil
}

// LatestUpdate returns the most recent last_updated value, or nil if none is set.
func (r *PatientRepository) LatestUpdate(ctx context.Context) (*time.Time, error) {
	var t time.Time
	err := r.db.QueryRowContext(ctx, `
		SELECT last_updated FROM patient_demographics
		WHERE last_updated IS NOT NULL
		ORDER BY last_updated DESC LIMIT 1
	`).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest update: %w", err)
	}
	t = t.UTC()
	return &t, nil
}

func scanPatient(row rowScanner) (*models.Patient, error) {
	var p models.Patient
	var ssn, last4, display, sex, station, stationName, street1, street2, city, state, zip,
		phone, insurance, marital, religion, deceased, source sql.NullString
	var dob, death, updated sql.NullTime
	var age sql.NullInt64
	var pct decimal.NullDecimal

	err := row.Scan(
		&p.ICN, &p.PatientKey, &ssn, &last4, &p.NameLast, &p.NameFirst, &display,
		&dob, &age, &sex, &station, &stationName, &street1, &street2,
		&city, &state, &zip, &phone, &insurance,
		&marital, &religion, &pct, &deceased, &death,
		&source, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan patient: %w", err)
	}

	p.SSN = ssn.String
	p.SSNLast4 = last4.String
	p.NameDisplay = display.String
	p.DOB = timePtr(dob)
	p.Age = intPtr(age)
	p.Sex = sex.String
	p.PrimaryStation = station.String
	p.PrimaryStationName = stationName.String
	p.AddressStreet1 = street1.String
	p.AddressStreet2 = street2.String
	p.AddressCity = city.String
	p.AddressState = state.String
	p.AddressZip = zip.String
	p.PhonePrimary = phone.String
	p.InsuranceCompanyName = insurance.String
	p.MaritalStatus = marital.String
	p.Religion = religion.String
	p.ServiceConnectedPercent = pct
	p.DeceasedFlag = deceased.String
	p.DeathDate = timePtr(death)
	p.SourceSystem = source.String
	p.LastUpdated = timePtr(updated)

	return &p, nil
}

func isCascadeTable(table string) bool {
	for _, t := range CascadeTables {
		if t == table {
			return true
		}
	}
	return false
}
