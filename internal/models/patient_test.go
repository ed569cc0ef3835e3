package models

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeAge(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		dob  time.Time
		want int
	}{
		{time.Date(1980, 10, 19, 0, 0, 0, 0, time.UTC), 46}, // birthday today
		{time.Date(1980, 10, 20, 0, 0, 0, 0, time.UTC), 45}, // birthday tomorrow
		{time.Date(1980, 11, 1, 0, 0, 0, 0, time.UTC), 45},  // later month
		{time.Date(1980, 9, 30, 0, 0, 0, 0, time.UTC), 46},  // earlier month
		{time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ComputeAge(tt.dob, now), "dob %s", tt.dob.Format(DateLayout))
	}
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "DOE, John", DisplayName("Doe", "jOHN"))
	assert.Equal(t, "O'BRIEN, Mary", DisplayName("o'brien", "mary"))
	assert.Equal(t, "", DisplayName("", "John"))
	assert.Equal(t, "", DisplayName("Doe", ""))
}

func TestSSNLast4(t *testing.T) {
	assert.Equal(t, "6789", SSNLast4("123-45-6789"))
	assert.Equal(t, "6789", SSNLast4("123456789"))
	assert.Equal(t, "", SSNLast4("12"))
}

func TestPatientInputFromForm(t *testing.T) {
	form := url.Values{
		"name_last":     {"  Doe "},
		"name_first":    {"Jane"},
		"address_city":  {""},
		"unknown_field": {"ignored"},
	}

	in := PatientInputFromForm(form)

	require.NotNil(t, in.NameLast)
	assert.Equal(t, "Doe", *in.NameLast)
	require.NotNil(t, in.AddressCity)
	assert.Equal(t, "", *in.AddressCity)
	assert.Nil(t, in.DOB, "absent keys stay nil")
	assert.Nil(t, in.Religion)

	values := in.Values()
	assert.Len(t, values, 3)
	assert.Equal(t, "Jane", values["name_first"])
}

func TestPatient_FormValues(t *testing.T) {
	dob := time.Date(1950, 3, 4, 0, 0, 0, 0, time.UTC)
	age := 76
	p := &Patient{NameLast: "Doe", NameFirst: "Jane", DOB: &dob, Age: &age, Sex: "F"}

	values := p.FormValues()
	assert.Equal(t, "1950-03-04", values["dob"])
	assert.Equal(t, "", values["death_date"])
	assert.Equal(t, "76", p.AgeString())
	assert.Equal(t, "1950-03-04", p.DOBString())
}
