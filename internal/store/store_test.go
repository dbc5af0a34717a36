package store

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"capacity-checker/internal/model"
)

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestGormStore_UpsertCMURecords(t *testing.T) {
	testCases := []struct {
		name             string
		records          []model.CMURecord
		mockExpectations func(mock sqlmock.Sqlmock)
		expectedErr      bool
	}{
		{
			name:             "No records, no query",
			records:          nil,
			mockExpectations: func(mock sqlmock.Sqlmock) {},
		},
		{
			name: "Records are upserted on cmu_id",
			records: []model.CMURecord{
				{CMUID: "CM001", NameOfApplicant: "Acme Energy", FullName: "Acme Energy", CompanyID: "acmeenergy"},
			},
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "cmu_records"`) + `.*` + regexp.QuoteMeta(`ON CONFLICT ("cmu_id") DO UPDATE SET`)).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
				mock.ExpectCommit()
			},
		},
		{
			name: "Insert failure is reported",
			records: []model.CMURecord{
				{CMUID: "CM002"},
			},
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "cmu_records"`)).
					WillReturnError(assert.AnError)
				mock.ExpectRollback()
			},
			expectedErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gormDB, mock := newTestDB(t)
			store := NewGormStore(gormDB)

			tc.mockExpectations(mock)

			err := store.UpsertCMURecords(context.Background(), tc.records)
			if tc.expectedErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormStore_GetCMURecord_NotFound(t *testing.T) {
	gormDB, mock := newTestDB(t)
	store := NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "cmu_records" WHERE cmu_id = $1`)).
		WithArgs("MISSING", Any{}).
		WillReturnRows(sqlmock.NewRows([]string{"id", "cmu_id"}))

	_, err := store.GetCMURecord(context.Background(), "MISSING")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_DeleteComponents(t *testing.T) {
	gormDB, mock := newTestDB(t)
	store := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "components" WHERE id IN ($1,$2)`)).
		WithArgs(int64(4), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := store.DeleteComponents(context.Background(), []int64{4, 7})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.DeleteComponents(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_UpdateLocationFields(t *testing.T) {
	gormDB, mock := newTestDB(t)
	store := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "components" SET`)).
		WithArgs("Kent", "TN1", Any{}, int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.UpdateLocationFields(context.Background(), 12, "TN1", "Kent")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_UpdateCoordinates(t *testing.T) {
	gormDB, mock := newTestDB(t)
	store := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "components" SET "geocoded"=$1,"latitude"=$2,"longitude"=$3`)).
		WithArgs(true, 51.46, -0.14, Any{}, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.UpdateCoordinates(context.Background(), 7, 51.46, -0.14)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}
