package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var validationNow = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

func validCreateInput() PatientInput {
	return PatientInput{
		NameLast:  Str("Doe"),
		NameFirst: Str("Jane"),
		DOB:       Str("1960-05-17"),
		Sex:       Str("F"),
	}
}

func TestValidatePatient_ValidCreate(t *testing.T) {
	errs := ValidatePatient(validCreateInput(), true, validationNow)
	assert.False(t, errs.HasErrors(), "%v", errs)
}

func TestValidatePatient_RequiredOnCreate(t *testing.T) {
	errs := ValidatePatient(PatientInput{}, true, validationNow)

	assert.Equal(t, "Last name is required", errs["name_last"])
	assert.Equal(t, "First name is required", errs["name_first"])
	assert.Equal(t, "Date of birth is required", errs["dob"])
	assert.Equal(t, "Sex is required", errs["sex"])
}

func TestValidatePatient_SparseUpdate(t *testing.T) {
	errs := ValidatePatient(PatientInput{Religion: Str("None")}, false, validationNow)
	assert.False(t, errs.HasErrors())

	errs = ValidatePatient(PatientInput{NameLast: Str("")}, false, validationNow)
	assert.Contains(t, errs, "name_last")
}

func TestValidatePatient_AgeBounds(t *testing.T) {
	in := validCreateInput()
	in.DOB = Str(validationNow.AddDate(-150, 0, 0).Format(DateLayout))
	assert.NotContains(t, ValidatePatient(in, true, validationNow), "dob", "exactly 150 years is allowed")

	in.DOB = Str(validationNow.AddDate(-151, 0, 0).Format(DateLayout))
	assert.Equal(t, "Date of birth results in unreasonable age", ValidatePatient(in, true, validationNow)["dob"])

	in.DOB = Str(validationNow.AddDate(0, 0, 1).Format(DateLayout))
	assert.Equal(t, "Date of birth cannot be in the future", ValidatePatient(in, true, validationNow)["dob"])

	in.DOB = Str("05/17/1960")
	assert.Equal(t, "Invalid date format", ValidatePatient(in, true, validationNow)["dob"])
}

func TestValidatePatient_Sex(t *testing.T) {
	in := validCreateInput()
	in.Sex = Str("X")
	assert.Equal(t, "Sex must be M or F", ValidatePatient(in, true, validationNow)["sex"])
}

func TestValidatePatient_Formats(t *testing.T) {
	in := validCreateInput()
	in.SSN = Str("123456789")
	in.PhonePrimary = Str("555-1234")
	in.AddressZip = Str("3030")
	in.AddressState = Str("ga")
	in.ServiceConnectedPercent = Str("101")

	errs := ValidatePatient(in, true, validationNow)
	assert.Contains(t, errs, "ssn")
	assert.Contains(t, errs, "phone_primary")
	assert.Contains(t, errs, "address_zip")
	assert.Contains(t, errs, "address_state")
	assert.Equal(t, "Service connected percent must be 0-100", errs["service_connected_percent"])

	in.SSN = Str("123-45-6789")
	in.PhonePrimary = Str("404-555-1234")
	in.AddressZip = Str("30303-1234")
	in.AddressState = Str("GA")
	in.ServiceConnectedPercent = Str("70.5")
	assert.False(t, ValidatePatient(in, true, validationNow).HasErrors())

	in.ServiceConnectedPercent = Str("abc")
	assert.Equal(t, "Must be a number", ValidatePatient(in, true, validationNow)["service_connected_percent"])
}

func TestValidatePatient_DeathDate(t *testing.T) {
	in := validCreateInput()

	in.DeathDate = Str("1959-01-01")
	assert.Equal(t, "Death date cannot be before birth date", ValidatePatient(in, true, validationNow)["death_date"])

	in.DeathDate = Str(validationNow.AddDate(0, 1, 0).Format(DateLayout))
	assert.Equal(t, "Death date cannot be in the future", ValidatePatient(in, true, validationNow)["death_date"])

	in.DeathDate = Str("1960-05-17")
	assert.NotContains(t, ValidatePatient(in, true, validationNow), "death_date", "same day as birth is allowed")
}
