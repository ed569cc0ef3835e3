package models

import (
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire and form format for calendar dates.
const DateLayout = "2006-01-02"

// Patient is a row of patient_demographics.
type Patient struct {
	PatientKey              string
	ICN                     string
	SSN                     string
	SSNLast4                string
	NameLast                string
	NameFirst               string
	NameDisplay             string
	DOB                     *time.Time
	Age                     *int
	Sex                     string
	PrimaryStation          string
	PrimaryStationName      string
	AddressStreet1          string
	AddressStreet2          string
	AddressCity             string
	AddressState            string
	AddressZip              string
	PhonePrimary            string
	InsuranceCompanyName    string
	MaritalStatus           string
	Religion                string
	ServiceConnectedPercent decimal.NullDecimal
	DeceasedFlag            string
	DeathDate               *time.Time
	SourceSystem            string
	LastUpdated             *time.Time
}

// DOBString formats the date of birth, or "N/A".
func (p *Patient) DOBString() string {
	return formatDate(p.DOB)
}

// DeathDateString formats the death date, or "".
func (p *Patient) DeathDateString() string {
	if p.DeathDate == nil {
		return ""
	}
	return p.DeathDate.Format(DateLayout)
}

// AgeString formats the stored age, or "N/A".
func (p *Patient) AgeString() string {
	if p.Age == nil {
		return "N/A"
	}
	return strconv.Itoa(*p.Age)
}

// PercentString formats the service connected percent, or "".
func (p *Patient) PercentString() string {
	if !p.ServiceConnectedPercent.Valid {
		return ""
	}
	return p.ServiceConnectedPercent.Decimal.String()
}

// FormValues returns the editable fields keyed by form name, for populating edit forms.
func (p *Patient) FormValues() map[string]string {
	return map[string]string{
		"name_last":                 p.NameLast,
		"name_first":                p.NameFirst,
		"dob":                       dateOrEmpty(p.DOB),
		"sex":                       p.Sex,
		"ssn":                       p.SSN,
		"primary_station":           p.PrimaryStation,
		"primary_station_name":      p.PrimaryStationName,
		"address_street1":           p.AddressStreet1,
		"address_street2":           p.AddressStreet2,
		"address_city":              p.AddressCity,
		"address_state":             p.AddressState,
		"address_zip":               p.AddressZip,
		"phone_primary":             p.PhonePrimary,
		"insurance_company_name":    p.InsuranceCompanyName,
		"marital_status":            p.MaritalStatus,
		"religion":                  p.Religion,
		"service_connected_percent": p.PercentString(),
		"deceased_flag":             p.DeceasedFlag,
		"death_date":                dateOrEmpty(p.DeathDate),
	}
}

// RosterEntry is one row of the dashboard patient roster.
type RosterEntry struct {
	PatientKey     string
	ICN            string
	NameDisplay    string
	DOB            *time.Time
	Age            *int
	Sex            string
	SSNLast4       string
	PrimaryStation string
	IsSelected     bool
}

// DOBString formats the date of birth, or "N/A".
func (r RosterEntry) DOBString() string {
	return formatDate(r.DOB)
}

// SSNLast4String returns the last four SSN digits, or "N/A".
func (r RosterEntry) SSNLast4String() string {
	if r.SSNLast4 == "" {
		return "N/A"
	}
	return r.SSNLast4
}

// PatientInput is a create or update request. A nil field was omitted by the
// caller and leaves the stored value unchanged on update.
type PatientInput struct {
	NameLast                *string
	NameFirst               *string
	DOB                     *string
	Sex                     *string
	SSN                     *string
	SSNLast4                *string
	PrimaryStation          *string
	PrimaryStationName      *string
	AddressStreet1          *string
	AddressStreet2          *string
	AddressCity             *string
	AddressState            *string
	AddressZip              *string
	PhonePrimary            *string
	InsuranceCompanyName    *string
	MaritalStatus           *string
	Religion                *string
	ServiceConnectedPercent *string
	DeceasedFlag            *string
	DeathDate               *string
}

// InputField pairs a column/form name with the input slot holding it.
type InputField struct {
	Name  string
	Value **string
}

// Fields lists every input slot in column order.
func (in *PatientInput) Fields() []InputField {
	return []InputField{
		{"name_last", &in.NameLast},
		{"name_first", &in.NameFirst},
		{"dob", &in.DOB},
		{"sex", &in.Sex},
		{"ssn", &in.SSN},
		{"ssn_last4", &in.SSNLast4},
		{"primary_station", &in.PrimaryStation},
		{"primary_station_name", &in.PrimaryStationName},
		{"address_street1", &in.AddressStreet1},
		{"address_street2", &in.AddressStreet2},
		{"address_city", &in.AddressCity},
		{"address_state", &in.AddressState},
		{"address_zip", &in.AddressZip},
		{"phone_primary", &in.PhonePrimary},
		{"insurance_company_name", &in.InsuranceCompanyName},
		{"marital_status", &in.MaritalStatus},
		{"religion", &in.Religion},
		{"service_connected_percent", &in.ServiceConnectedPercent},
		{"deceased_flag", &in.DeceasedFlag},
		{"death_date", &in.DeathDate},
	}
}

// PatientInputFromForm builds an input from posted form values. Keys missing from
// the form stay nil; present keys are trimmed.
func PatientInputFromForm(form url.Values) PatientInput {
	var in PatientInput
	for _, f := range in.Fields() {
		values, ok := form[f.Name]
		if !ok || len(values) == 0 {
			continue
		}
		v := strings.TrimSpace(values[0])
		*f.Value = &v
	}
	return in
}

// Values returns the supplied fields keyed by name, for echoing a rejected form.
func (in *PatientInput) Values() map[string]string {
	out := make(map[string]string)
	for _, f := range in.Fields() {
		if *f.Value != nil {
			out[f.Name] = **f.Value
		}
	}
	return out
}

// Str returns a pointer to s, for building inputs in code.
func Str(s string) *string {
	return &s
}

// ComputeAge returns whole years between dob and now, counting a birthday only
// once its month and day have been reached.
func ComputeAge(dob, now time.Time) int {
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}

// DisplayName builds "LAST, First". It returns "" unless both parts are present.
func DisplayName(last, first string) string {
	if last == "" || first == "" {
		return ""
	}
	return strings.ToUpper(last) + ", " + capitalize(first)
}

// SSNLast4 returns the last four digits of a full SSN, or "" if it is too short.
func SSNLast4(ssn string) string {
	digits := strings.ReplaceAll(ssn, "-", "")
	if len(digits) < 4 {
		return ""
	}
	return digits[len(digits)-4:]
}

// ParseDate parses a calendar date in DateLayout.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s))
}

func capitalize(s string) string {
	runes := []rune(strings.ToLower(s))
	if len(runes) == 0 {
		return s
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return t.Format(DateLayout)
}

func dateOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(DateLayout)
}
