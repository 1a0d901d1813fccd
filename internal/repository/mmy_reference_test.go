package repository_test

import (
	"testing"

	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var mmyColumns = []string{
	"make", "model", "model_year", "fuel_type",
	"displacement", "power_ps", "tank_capacity", "maintenance_id",
}

func newMockRepo(t *testing.T) (*repository.PostgresMMYReferenceRepo, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return repository.NewPostgresMMYReferenceRepo(db, zap.NewNop()), mock
}

func TestFindByMakeModel_WithYear(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("FROM mmy_reference").
		WithArgs("Honda", "Accord", "2003").
		WillReturnRows(sqlmock.NewRows(mmyColumns).
			AddRow("Honda", "Accord", "2003", "petrol", 2.4, 160.0, 65.0, "mnt-accord"))

	year := "2003"
	ref, err := repo.FindByMakeModel("Honda", "Accord", &year)
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, "Honda", ref.Make)
	assert.Equal(t, "Accord", ref.Model)
	assert.Equal(t, "2003", ref.ModelYear)
	assert.Equal(t, "petrol", ref.FuelType)
	assert.Equal(t, 2.4, ref.Displacement)
	assert.Equal(t, "mnt-accord", ref.MaintenanceID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByMakeModel_YearOmitted(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("FROM mmy_reference").
		WithArgs("Honda", "Accord", nil).
		WillReturnRows(sqlmock.NewRows(mmyColumns).
			AddRow("Honda", "Accord", "2005", "petrol", 2.4, 160.0, 65.0, "mnt-accord"))

	ref, err := repo.FindByMakeModel("Honda", "Accord", nil)
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, "2005", ref.ModelYear, "latest model year wins when year is omitted")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByMakeModel_NoMatch(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("FROM mmy_reference").
		WithArgs("Unknown", "Nothing", nil).
		WillReturnRows(sqlmock.NewRows(mmyColumns))

	ref, err := repo.FindByMakeModel("Unknown", "Nothing", nil)
	require.NoError(t, err)
	assert.Nil(t, ref, "no rows means not found, not an error")

	assert.NoError(t, mock.ExpectationsWereMet())
}
