package models

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// MaxPatientAge bounds the age implied by a date of birth.
const MaxPatientAge = 150

var (
	ssnPattern   = regexp.MustCompile(`^\d{3}-\d{2}-\d{4}$`)
	phonePattern = regexp.MustCompile(`^\d{3}-\d{3}-\d{4}$`)
	zipPattern   = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	statePattern = regexp.MustCompile(`^[A-Z]{2}$`)

	hundred = decimal.NewFromInt(100)
)

// FieldErrors maps form field names to a message.
type FieldErrors map[string]string

// HasErrors reports whether any field failed.
func (fe FieldErrors) HasErrors() bool {
	return len(fe) > 0
}

// ValidatePatient checks an input. On create the identity fields are required;
// on update they are checked only when supplied.
func ValidatePatient(in PatientInput, isCreate bool, now time.Time) FieldErrors {
	errs := FieldErrors{}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	if isCreate || in.NameLast != nil {
		if val(in.NameLast) == "" {
			errs["name_last"] = "Last name is required"
		}
	}
	if isCreate || in.NameFirst != nil {
		if val(in.NameFirst) == "" {
			errs["name_first"] = "First name is required"
		}
	}

	var dob time.Time
	dobValid := false
	if isCreate || in.DOB != nil {
		if val(in.DOB) == "" {
			errs["dob"] = "Date of birth is required"
		} else if parsed, err := ParseDate(*in.DOB); err != nil {
			errs["dob"] = "Invalid date format"
		} else if parsed.After(today) {
			errs["dob"] = "Date of birth cannot be in the future"
		} else if age := ComputeAge(parsed, today); age < 0 || age > MaxPatientAge {
			errs["dob"] = "Date of birth results in unreasonable age"
		} else {
			dob = parsed
			dobValid = true
		}
	}

	if isCreate || in.Sex != nil {
		switch val(in.Sex) {
		case "":
			errs["sex"] = "Sex is required"
		case "M", "F":
		default:
			errs["sex"] = "Sex must be M or F"
		}
	}

	if s := val(in.SSN); s != "" && !ssnPattern.MatchString(s) {
		errs["ssn"] = "SSN must be in format ###-##-####"
	}
	if s := val(in.PhonePrimary); s != "" && !phonePattern.MatchString(s) {
		errs["phone_primary"] = "Phone must be in format ###-###-####"
	}
	if s := val(in.AddressZip); s != "" && !zipPattern.MatchString(s) {
		errs["address_zip"] = "ZIP must be ##### or #####-####"
	}
	if s := val(in.AddressState); s != "" && !statePattern.MatchString(s) {
		errs["address_state"] = "State must be 2-letter abbreviation (e.g., GA, CA)"
	}

	if s := val(in.ServiceConnectedPercent); s != "" {
		pct, err := decimal.NewFromString(s)
		if err != nil {
			errs["service_connected_percent"] = "Must be a number"
		} else if pct.IsNegative() || pct.GreaterThan(hundred) {
			errs["service_connected_percent"] = "Service connected percent must be 0-100"
		}
	}

	if s := val(in.DeathDate); s != "" {
		death, err := ParseDate(s)
		switch {
		case err != nil:
			errs["death_date"] = "Invalid date format"
		case death.After(today):
			errs["death_date"] = "Death date cannot be in the future"
		case dobValid && death.Before(dob):
			errs["death_date"] = "Death date cannot be before birth date"
		}
	}

	return errs
}

func val(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
