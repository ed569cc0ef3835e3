// Package patient implements patient demographics CRUD and the patient detail view.
package patient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/medz/medz4/internal/metrics"
	"github.com/medz/medz4/internal/models"
	"github.com/medz/medz4/internal/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// ICNPrefix marks patients created by this application.
	ICNPrefix = "ICN999"
	firstICN  = 999001
	lastICN   = 999999

	// SourceSystem is stamped on rows created here.
	SourceSystem = "med-z4"

	DefaultRosterLimit = 50
	vitalsLimit        = 10
	medicationsLimit   = 20
)

var (
	ErrPatientNotFound   = errors.New("patient not found")
	ErrICNRangeExhausted = errors.New("ICN 999 series exhausted (max: ICN999999)")
)

// ValidationError carries per-field messages for a rejected input.
type ValidationError struct {
	Fields models.FieldErrors
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid patient input (%d fields)", len(e.Fields))
}

// WriteResult identifies the patient a create or update touched.
type WriteResult struct {
	ICN         string
	NameDisplay string
}

// TableResult is the cascade outcome for one clinical table.
type TableResult struct {
	Table   string
	Deleted int64
	Err     error
}

// DeleteResult reports a cascade delete.
type DeleteResult struct {
	ICN     string
	Cascade []TableResult
}

// Failed returns the tables whose rows could not be removed.
func (r *DeleteResult) Failed() []TableResult {
	var failed []TableResult
	for _, t := range r.Cascade {
		if t.Err != nil {
			failed = append(failed, t)
		}
	}
	return failed
}

// Service manages patient records
type Service struct {
	db       *storage.DB
	patients *storage.PatientRepository
	clinical *storage.ClinicalRepository
	logger   *zap.Logger
	now      func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source used for ages and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new patient service
func NewService(db *storage.DB, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		db:       db,
		patients: storage.NewPatientRepository(db),
		clinical: storage.NewClinicalRepository(db),
		logger:   logger.Named("patient"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates the input, allocates the next ICN and inserts the patient.
func (s *Service) Create(ctx context.Context, in models.PatientInput) (*WriteResult, error) {
	now := s.now().UTC()
	if errs := models.ValidatePatient(in, true, now); errs.HasErrors() {
		metrics.PatientWrite("create", "invalid")
		return nil, &ValidationError{Fields: errs}
	}

	p, err := buildPatient(in, now)
	if err != nil {
		metrics.PatientWrite("create", "invalid")
		return nil, err
	}

	err = s.db.WithTx(ctx, func(tx storage.DBTX) error {
		repo := s.patients.WithTx(tx)
		icn, err := nextICN(ctx, repo)
		if err != nil {
			return err
		}
		p.ICN = icn
		p.PatientKey = icn
		return repo.Insert(ctx, p)
	})
	if err != nil {
		metrics.PatientWrite("create", "error")
		s.logger.Error("failed to create patient", zap.Error(err))
		return nil, fmt.Errorf("create patient: %w", err)
	}

	metrics.PatientWrite("create", "ok")
	s.logger.Info("patient created", zap.String("icn", p.ICN))
	return &WriteResult{ICN: p.ICN, NameDisplay: p.NameDisplay}, nil
}

func nextICN(ctx context.Context, repo *storage.PatientRepository) (string, error) {
	maxICN, ok, err := repo.MaxICNWithPrefix(ctx, ICNPrefix)
	if err != nil {
		return "", err
	}
	next := firstICN
	if ok {
		n, err := strconv.Atoi(strings.TrimPrefix(maxICN, "ICN"))
		if err != nil {
			return "", fmt.Errorf("unparseable icn %q: %w", maxICN, err)
		}
		next = n + 1
	}
	if next > lastICN {
		return "", ErrICNRangeExhausted
	}
	return fmt.Sprintf("ICN%06d", next), nil
}

func buildPatient(in models.PatientInput, now time.Time) (*models.Patient, error) {
	p := &models.Patient{
		NameLast:             deref(in.NameLast),
		NameFirst:            deref(in.NameFirst),
		Sex:                  deref(in.Sex),
		SSN:                  deref(in.SSN),
		SSNLast4:             deref(in.SSNLast4),
		PrimaryStation:       deref(in.PrimaryStation),
		PrimaryStationName:   deref(in.PrimaryStationName),
		AddressStreet1:       deref(in.AddressStreet1),
		AddressStreet2:       deref(in.AddressStreet2),
		AddressCity:          deref(in.AddressCity),
		AddressState:         deref(in.AddressState),
		AddressZip:           deref(in.AddressZip),
		PhonePrimary:         deref(in.PhonePrimary),
		InsuranceCompanyName: deref(in.InsuranceCompanyName),
		MaritalStatus:        deref(in.MaritalStatus),
		Religion:             deref(in.Religion),
		DeceasedFlag:         deref(in.DeceasedFlag),
		SourceSystem:         SourceSystem,
		LastUpdated:          &now,
	}
	p.NameDisplay = models.DisplayName(p.NameLast, p.NameFirst)
	if p.SSNLast4 == "" && p.SSN != "" {
		p.SSNLast4 = models.SSNLast4(p.SSN)
	}

	dob, err := optionalDate(in.DOB)
	if err != nil {
		return nil, err
	}
	if dob != nil {
		age := models.ComputeAge(*dob, now)
		p.DOB = dob
		p.Age = &age
	}
	if p.DeathDate, err = optionalDate(in.DeathDate); err != nil {
		return nil, err
	}
	if p.ServiceConnectedPercent, err = optionalDecimal(in.ServiceConnectedPercent); err != nil {
		return nil, err
	}
	return p, nil
}

// Update applies the supplied fields to an existing patient. Derived columns are
// recomputed from the stored row merged with the input.
func (s *Service) Update(ctx context.Context, icn string, in models.PatientInput) (*WriteResult, error) {
	now := s.now().UTC()
	if errs := models.ValidatePatient(in, false, now); errs.HasErrors() {
		metrics.PatientWrite("update", "invalid")
		return nil, &ValidationError{Fields: errs}
	}

	var result WriteResult
	err := s.db.WithTx(ctx, func(tx storage.DBTX) error {
		repo := s.patients.WithTx(tx)
		current, err := repo.GetByICN(ctx, icn)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrPatientNotFound
		}
		if err != nil {
			return err
		}

		cols, display, err := updateColumns(current, in, now)
		if err != nil {
			return err
		}
		ok, err := repo.Update(ctx, icn, cols)
		if err != nil {
			return err
		}
		if !ok {
			return ErrPatientNotFound
		}
		result = WriteResult{ICN: icn, NameDisplay: display}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			metrics.PatientWrite("update", "not_found")
			return nil, err
		}
		metrics.PatientWrite("update", "error")
		s.logger.Error("failed to update patient", zap.String("icn", icn), zap.Error(err))
		return nil, fmt.Errorf("update patient %s: %w", icn, err)
	}

	metrics.PatientWrite("update", "ok")
	s.logger.Info("patient updated", zap.String("icn", icn))
	return &result, nil
}

func updateColumns(current *models.Patient, in models.PatientInput, now time.Time) ([]storage.Column, string, error) {
	var cols []storage.Column
	for _, f := range in.Fields() {
		v := *f.Value
		if v == nil {
			continue
		}
		var value any
		switch f.Name {
		case "dob", "death_date":
			d, err := optionalDate(v)
			if err != nil {
				return nil, "", err
			}
			if d != nil {
				value = *d
			}
		case "service_connected_percent":
			pct, err := optionalDecimal(v)
			if err != nil {
				return nil, "", err
			}
			value = pct
		default:
			if *v != "" {
				value = *v
			}
		}
		cols = append(cols, storage.Column{Name: f.Name, Value: value})
	}

	last, first := current.NameLast, current.NameFirst
	if in.NameLast != nil {
		last = *in.NameLast
	}
	if in.NameFirst != nil {
		first = *in.NameFirst
	}
	display := current.NameDisplay
	if in.NameLast != nil || in.NameFirst != nil {
		display = models.DisplayName(last, first)
		cols = append(cols, storage.Column{Name: "name_display", Value: nullable(display)})
	}

	if in.DOB != nil {
		if dob, _ := optionalDate(in.DOB); dob != nil {
			cols = append(cols, storage.Column{Name: "age", Value: models.ComputeAge(*dob, now)})
		} else {
			cols = append(cols, storage.Column{Name: "age", Value: nil})
		}
	}

	if in.SSN != nil && in.SSNLast4 == nil {
		cols = append(cols, storage.Column{Name: "ssn_last4", Value: nullable(models.SSNLast4(*in.SSN))})
	}

	cols = append(cols, storage.Column{Name: "last_updated", Value: now})
	return cols, display, nil
}

// Delete removes a patient and its clinical rows. A clinical table that cannot be
// cleared is recorded in the result and does not stop the delete.
func (s *Service) Delete(ctx context.Context, icn string) (*DeleteResult, error) {
	result := &DeleteResult{ICN: icn}

	err := s.db.WithTx(ctx, func(tx storage.DBTX) error {
		repo := s.patients.WithTx(tx)
		p, err := repo.GetByICN(ctx, icn)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrPatientNotFound
		}
		if err != nil {
			return err
		}

		for i, table := range storage.CascadeTables {
			var n int64
			err := storage.Savepoint(ctx, tx, "cascade_"+strconv.Itoa(i), func() error {
				var err error
				n, err = repo.DeleteClinical(ctx, table, p.PatientKey)
				return err
			})
			if err != nil {
				s.logger.Warn("could not clear clinical table",
					zap.String("icn", icn), zap.String("table", table), zap.Error(err))
			}
			result.Cascade = append(result.Cascade, TableResult{Table: table, Deleted: n, Err: err})
		}

		ok, err := repo.Delete(ctx, icn)
		if err != nil {
			return err
		}
		if !ok {
			return ErrPatientNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			metrics.PatientWrite("delete", "not_found")
			return nil, err
		}
		metrics.PatientWrite("delete", "error")
		s.logger.Error("failed to delete patient", zap.String("icn", icn), zap.Error(err))
		return nil, fmt.Errorf("delete patient %s: %w", icn, err)
	}

	metrics.PatientWrite("delete", "ok")
	s.logger.Info("patient deleted",
		zap.String("icn", icn),
		zap.Int("tables", len(result.Cascade)),
		zap.Int("failed_tables", len(result.Failed())),
	)
	return result, nil
}

// GetByICN retrieves one patient.
func (s *Service) GetByICN(ctx context.Context, icn string) (*models.Patient, error) {
	p, err := s.patients.GetByICN(ctx, icn)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrPatientNotFound
	}
	return p, err
}

// Roster returns the dashboard roster. A non-positive limit uses DefaultRosterLimit.
// The entry matching activeICN is flagged as selected.
func (s *Service) Roster(ctx context.Context, limit int, activeICN string) ([]models.RosterEntry, error) {
	if limit <= 0 {
		limit = DefaultRosterLimit
	}
	entries, err := s.patients.Roster(ctx, limit)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].IsSelected = activeICN != "" && entries[i].ICN == activeICN
	}
	return entries, nil
}

// Detail loads demographics with recent vitals, active allergies and active medications.
func (s *Service) Detail(ctx context.Context, icn string) (*models.PatientDetail, error) {
	p, err := s.GetByICN(ctx, icn)
	if err != nil {
		return nil, err
	}

	detail := &models.PatientDetail{Patient: p}
	if detail.Vitals, err = s.clinical.Vitals(ctx, p.PatientKey, vitalsLimit); err != nil {
		return nil, err
	}
	if detail.Allergies, err = s.clinical.Allergies(ctx, p.PatientKey); err != nil {
		return nil, err
	}
	if detail.Medications, err = s.clinical.Medications(ctx, p.PatientKey, medicationsLimit); err != nil {
		return nil, err
	}
	return detail, nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func optionalDate(p *string) (*time.Time, error) {
	if p == nil || *p == "" {
		return nil, nil
	}
	t, err := models.ParseDate(*p)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", *p, err)
	}
	return &t, nil
}

func optionalDecimal(p *string) (decimal.NullDecimal, error) {
	if p == nil || *p == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*p)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("invalid number %q: %w", *p, err)
	}
	return decimal.NewNullDecimal(d), nil
}
