package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const dateTimeLayout = "2006-01-02 15:04"

// Vital is one vital-sign measurement.
type Vital struct {
	VitalType     string
	VitalAbbr     string
	TakenAt       *time.Time
	ResultValue   string
	NumericValue  decimal.NullDecimal
	Systolic      *int
	Diastolic     *int
	UnitOfMeasure string
	LocationName  string
	AbnormalFlag  string
}

// TakenAtString formats the measurement time, or "N/A".
func (v Vital) TakenAtString() string {
	if v.TakenAt == nil {
		return "N/A"
	}
	return v.TakenAt.Format(dateTimeLayout)
}

// Allergy is one active allergy.
type Allergy struct {
	Allergen             string
	Type                 string
	Severity             string
	Reactions            string
	OriginationDate      *time.Time
	HistoricalOrObserved string
}

// OriginationDateString formats the origination date, or "N/A".
func (a Allergy) OriginationDateString() string {
	return formatDate(a.OriginationDate)
}

// Medication is one active outpatient prescription.
type Medication struct {
	DrugName         string
	GenericName      string
	Strength         string
	Sig              string
	Status           string
	IssueDate        *time.Time
	ExpirationDate   *time.Time
	RefillsRemaining *int
	Provider         string
}

// IssueDateString formats the issue date, or "N/A".
func (m Medication) IssueDateString() string {
	return formatDate(m.IssueDate)
}

// ExpirationDateString formats the expiration date, or "N/A".
func (m Medication) ExpirationDateString() string {
	return formatDate(m.ExpirationDate)
}

// PatientDetail bundles demographics with the clinical summaries shown on the
// patient page.
type PatientDetail struct {
	Patient     *Patient
	Vitals      []Vital
	Allergies   []Allergy
	Medications []Medication
}
