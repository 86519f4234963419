package datastore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// setupMockStore returns a MySQL-dialect store backed by sqlmock.
func setupMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	clock := newTestClock()
	return New(db, WithLogger(testLogger()), WithClock(clock.Now), WithBusyRetries(0)), mock
}

func TestTryLockMySQLUsesSkipLocked(t *testing.T) {
	t.Parallel()
	store, mock := setupMockStore(t)
	require.Equal(t, DialectMySQL, store.Dialect())

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT `id` FROM `points_of_interest` WHERE points_of_interest.id = .+ FOR UPDATE SKIP LOCKED").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectExec("UPDATE `points_of_interest` SET .*`locked_by`=.*WHERE id = ").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.POIs().TryLock(context.Background(), 7, CandidateQuery{ReviewerID: "alice", Quorum: 3})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTryLockMySQLSkippedRowIsLocked(t *testing.T) {
	t.Parallel()
	store, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT \\* FROM `points_of_interest` WHERE id = ").
		WillReturnRows(sqlmock.NewRows([]string{"id", "vendor_id", "status", "locked_by"}).
			AddRow(7, "104001", "In Review", "bob"))

	err := store.POIs().TryLock(context.Background(), 7, CandidateQuery{ReviewerID: "alice", Quorum: 3})
	require.ErrorIs(t, err, ErrLocked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCellTryLockMySQLUsesSkipLocked(t *testing.T) {
	t.Parallel()
	store, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT `id` FROM `fishnet_cells` WHERE fishnet_cells.id = .+ FOR UPDATE SKIP LOCKED").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectExec("UPDATE `fishnet_cells` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Cells().TryLock(context.Background(), 3, CandidateQuery{ReviewerID: "alice", Quorum: 2}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetForUpdateMySQL(t *testing.T) {
	t.Parallel()
	store, mock := setupMockStore(t)

	mock.ExpectQuery("SELECT \\* FROM `points_of_interest` WHERE id = .+ FOR UPDATE$").
		WillReturnRows(sqlmock.NewRows([]string{"id", "vendor_id", "status"}).AddRow(5, "104001", "Available"))

	poi, err := store.POIs().GetForUpdate(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, uint(5), poi.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseStaleLocksMySQL(t *testing.T) {
	t.Parallel()
	store, mock := setupMockStore(t)
	cutoff := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE `points_of_interest` SET .* WHERE \\(locked_by IS NOT NULL AND locked_at < \\?\\) AND final_review_date IS NULL").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := store.POIs().ReleaseStaleLocks(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
