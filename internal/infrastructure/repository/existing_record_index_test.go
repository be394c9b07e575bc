package repository_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mohammadpnp/roster-import/internal/infrastructure/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func mockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)
	return db, mock
}

const countByEmail = `SELECT count(*) FROM "users" WHERE LOWER(email) = LOWER($1)`

func TestExistingUserIndexExists(t *testing.T) {
	t.Parallel()

	db, mock := mockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(countByEmail)).
		WithArgs("admin@company.com").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(countByEmail)).
		WithArgs("new@school.edu").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	index := repository.NewExistingUserIndex(db)

	found, err := index.Exists(context.Background(), "admin@company.com")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = index.Exists(context.Background(), "new@school.edu")
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExistingUserIndexPropagatesErrors(t *testing.T) {
	t.Parallel()

	db, mock := mockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(countByEmail)).
		WillReturnError(errors.New("connection reset"))

	_, err := repository.NewExistingUserIndex(db).Exists(context.Background(), "a@b.co")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup existing user")
}
