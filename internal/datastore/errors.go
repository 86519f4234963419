package datastore

import (
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"github.com/gaia-review/gaia/internal/errors"
)

// Sentinel errors returned by the repositories. Callers match them with
// errors.Is; the review engine attaches categories.
var (
	ErrPOINotFound         = errors.NewStd("point of interest not found")
	ErrCellNotFound        = errors.NewStd("fishnet cell not found")
	ErrRunNotFound         = errors.NewStd("fishnet run not found")
	ErrLocked              = errors.NewStd("locked by another reviewer")
	ErrNotEligible         = errors.NewStd("no longer eligible for this reviewer")
	ErrDuplicateAnnotation = errors.NewStd("reviewer already annotated this point of interest")
	ErrDuplicateReview     = errors.NewStd("reviewer already reviewed this cell")
	ErrFinalized           = errors.NewStd("final determination already recorded")
	ErrQuorumReached       = errors.NewStd("review quorum already reached")
	ErrBelowQuorum         = errors.NewStd("review quorum not reached")
	ErrDuplicateKey        = errors.NewStd("duplicate key")
)

// MySQL server error numbers.
const (
	mysqlDuplicateEntry   = 1062
	mysqlLockWaitTimeout  = 1205
	mysqlDeadlockDetected = 1213
)

// dbError creates a properly categorized database error with context
func dbError(err error, operation, priority string, context ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	if priority != "" {
		builder = builder.Priority(priority)
	}

	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}

	return builder.Build()
}

// isDuplicateKey reports whether err is a unique constraint violation on any
// supported backend.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, ErrDuplicateKey) {
		return true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDuplicateEntry
	}

	// pgx errors carry the SQLSTATE in the message
	return strings.Contains(err.Error(), "SQLSTATE 23505")
}

// isBusy reports whether err is a transient lock conflict worth retrying.
func isBusy(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlLockWaitTimeout || mysqlErr.Number == mysqlDeadlockDetected
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLSTATE 40001") ||
		strings.Contains(msg, "SQLSTATE 40P01")
}

// errorType returns a short label for metrics.
func errorType(err error) string {
	switch {
	case isDuplicateKey(err):
		return "duplicate"
	case isBusy(err):
		return "busy"
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "not_found"
	default:
		return "other"
	}
}
