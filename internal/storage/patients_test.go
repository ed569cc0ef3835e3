package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/medz/medz4/internal/models"
	"github.com/medz/medz4/internal/storage"
	"github.com/medz/medz4/internal/storage/storagetest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertPatient(t *testing.T, repo *storage.PatientRepository, icn, last, first string) *models.Patient {
	t.Helper()
	dob := time.Date(1960, 5, 17, 0, 0, 0, 0, time.UTC)
	age := 66
	updated := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	p := &models.Patient{
		ICN:                     icn,
		PatientKey:              icn,
		NameLast:                last,
		NameFirst:               first,
		NameDisplay:             models.DisplayName(last, first),
		DOB:                     &dob,
		Age:                     &age,
		Sex:                     "F",
		SSN:                     "123-45-6789",
		SSNLast4:                "6789",
		ServiceConnectedPercent: decimal.NewNullDecimal(decimal.RequireFromString("70.5")),
		SourceSystem:            "med-z4",
		LastUpdated:             &updated,
	}
	require.NoError(t, repo.Insert(context.Background(), p))
	return p
}

func TestPatientRepository_InsertAndGet(t *testing.T) {
	db := storagetest.NewDB(t)
	repo := storage.NewPatientRepository(db)
	ctx := context.Background()

	insertPatient(t, repo, "ICN999001", "Doe", "Jane")

	got, err := repo.GetByICN(ctx, "ICN999001")
	require.NoError(t, err)
	assert.Equal(t, "DOE, Jane", got.NameDisplay)
	assert.Equal(t, "1960-05-17", got.DOBString())
	assert.Equal(t, "66", got.AgeString())
	assert.Equal(t, "6789", got.SSNLast4)
	assert.Equal(t, "70.5", got.PercentString())
	assert.Equal(t, "", got.AddressCity)
	assert.Nil(t, got.DeathDate)

	_, err = repo.GetByICN(ctx, "ICN000000")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPatientRepository_MaxICNWithPrefix(t *testing.T) {
	db := storagetest.NewDB(t)
	repo := storage.NewPatientRepository(db)
	ctx := context.Background()

	_, ok, err := repo.MaxICNWithPrefix(ctx, "ICN999")
	require.NoError(t, err)
	assert.False(t, ok)

	insertPatient(t, repo, "ICN999001", "Doe", "Jane")
	insertPatient(t, repo, "ICN999007", "Roe", "Rick")
	insertPatient(t, repo, "ICN100001", "Poe", "Edgar")

	icn, ok, err := repo.MaxICNWithPrefix(ctx, "ICN999")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ICN999007", icn)
}

func TestPatientRepository_SparseUpdate(t *testing.T) {
	db := storagetest.NewDB(t)
	repo := storage.NewPatientRepository(db)
	ctx := context.Background()
	insertPatient(t, repo, "ICN999001", "Doe", "Jane")

	ok, err := repo.Update(ctx, "ICN999001", []storage.Column{
		{Name: "address_city", Value: "Atlanta"},
		{Name: "religion", Value: nil},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByICN(ctx, "ICN999001")
	require.NoError(t, err)
	assert.Equal(t, "Atlanta", got.AddressCity)
	assert.Equal(t, "Doe", got.NameLast, "columns not named are untouched")

	ok, err = repo.Update(ctx, "ICN000000", []storage.Column{{Name: "religion", Value: "x"}})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.Update(ctx, "ICN999001", nil)
	assert.Error(t, err)
}

func TestPatientRepository_RosterCountLatest(t *testing.T) {
	db := storagetest.NewDB(t)
	repo := storage.NewPatientRepository(db)
	ctx := context.Background()

	latest, err := repo.LatestUpdate(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	insertPatient(t, repo, "ICN999002", "Zed", "Anna")
	insertPatient(t, repo, "ICN999001", "Adams", "Bob")
	insertPatient(t, repo, "ICN999003", "Adams", "Al")

	roster, err := repo.Roster(ctx, 50)
	require.NoError(t, err)
	require.Len(t, roster, 3)
	assert.Equal(t, "ICN999003", roster[0].ICN)
	assert.Equal(t, "ICN999001", roster[1].ICN)
	assert.Equal(t, "ICN999002", roster[2].ICN)
	assert.Equal(t, "6789", roster[0].SSNLast4String())

	roster, err = repo.Roster(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, roster, 2)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	latest, err = repo.LatestUpdate(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 2026, latest.Year())
}

func TestPatientRepository_DeleteWithSavepoints(t *testing.T) {
	db := storagetest.NewDB(t)
	repo := storage.NewPatientRepository(db)
	ctx := context.Background()
	insertPatient(t, repo, "ICN999001", "Doe", "Jane")

	_, err := db.ExecContext(ctx, "INSERT INTO patient_allergies (patient_key, allergen_standardized, is_active) VALUES ($1, $2, $3)",
		"ICN999001", "PENICILLIN", true)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "DROP TABLE patient_vitals")
	require.NoError(t, err)

	var failed, deleted int
	err = db.WithTx(ctx, func(tx storage.DBTX) error {
		txRepo := repo.WithTx(tx)
		for _, table := range storage.CascadeTables {
			err := storage.Savepoint(ctx, tx, "sp_"+table, func() error {
				_, err := txRepo.DeleteClinical(ctx, table, "ICN999001")
				return err
			})
			if err != nil {
				failed++
				continue
			}
			deleted++
		}
		ok, err := txRepo.Delete(ctx, "ICN999001")
		require.True(t, ok)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	assert.Equal(t, len(storage.CascadeTables)-1, deleted)

	_, err = repo.GetByICN(ctx, "ICN999001")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	var remaining int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM patient_allergies").Scan(&remaining))
	assert.Equal(t, 0, remaining)
}

func TestPatientRepository_DeleteClinicalRejectsUnknownTable(t *testing.T) {
	db := storagetest.NewDB(t)
	repo := storage.NewPatientRepository(db)

	_, err := repo.DeleteClinical(context.Background(), "users", "ICN999001")
	assert.Error(t, err)
}

func TestClinicalRepository_Summaries(t *testing.T) {
	db := storagetest.NewDB(t)
	clinical := storage.NewClinicalRepository(db)
	ctx := context.Background()
	key := "ICN999001"

	t1 := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 10, 2, 9, 0, 0, 0, time.UTC)
	for _, at := range []time.Time{t1, t2} {
		_, err := db.ExecContext(ctx, `INSERT INTO patient_vitals (patient_key, vital_type, vital_abbr, taken_datetime,
			result_value, systolic, diastolic) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			key, "BLOOD PRESSURE", "BP", at, "120/80", 120, 80)
		require.NoError(t, err)
	}
	_, err := db.ExecContext(ctx, `INSERT INTO patient_allergies (patient_key, allergen_standardized, severity,
		severity_rank, is_active) VALUES ($1, $2, $3, $4, $5), ($6, $7, $8, $9, $10), ($11, $12, $13, $14, $15)`,
		key, "LATEX", "MILD", 1, true,
		key, "PENICILLIN", "SEVERE", 3, true,
		key, "PEANUTS", "SEVERE", 3, false)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO patient_medications_outpatient (patient_key, drug_name_local,
		issue_date, refills_remaining, is_active) VALUES ($1, $2, $3, $4, $5)`,
		key, "LISINOPRIL 10MG", t1, 3, true)
	require.NoError(t, err)

	vitals, err := clinical.Vitals(ctx, key, 10)
	require.NoError(t, err)
	require.Len(t, vitals, 2)
	assert.True(t, t2.Equal(*vitals[0].TakenAt), "newest first")
	assert.Equal(t, 120, *vitals[0].Systolic)

	allergies, err := clinical.Allergies(ctx, key)
	require.NoError(t, err)
	require.Len(t, allergies, 2, "inactive allergies are excluded")
	assert.Equal(t, "PENICILLIN", allergies[0].Allergen)

	meds, err := clinical.Medications(ctx, key, 20)
	require.NoError(t, err)
	require.Len(t, meds, 1)
	assert.Equal(t, "LISINOPRIL 10MG", meds[0].DrugName)
	assert.Equal(t, 3, *meds[0].RefillsRemaining)
	assert.Equal(t, "N/A", meds[0].ExpirationDateString())
}
