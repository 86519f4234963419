package review

import (
	"strings"

	"github.com/gaia-review/gaia/internal/datastore"
	"github.com/gaia-review/gaia/internal/errors"
)

var (
	// ErrNotAdjudicator is returned when an ordinary reviewer calls Adjudicate.
	ErrNotAdjudicator = errors.NewStd("reviewer may not adjudicate")
	// ErrCellLockNotHeld is returned when a reviewer acts on a cell nobody has locked.
	ErrCellLockNotHeld = errors.NewStd("cell lock not held by reviewer")
)

// categoryFor maps repository sentinels to error categories. Conflicts are
// safe for the caller to retry or skip.
func categoryFor(err error) errors.ErrorCategory {
	switch {
	case errors.Is(err, datastore.ErrLocked),
		errors.Is(err, datastore.ErrNotEligible),
		errors.Is(err, datastore.ErrDuplicateAnnotation),
		errors.Is(err, datastore.ErrDuplicateReview),
		errors.Is(err, datastore.ErrFinalized),
		errors.Is(err, datastore.ErrQuorumReached),
		errors.Is(err, ErrCellLockNotHeld):
		return errors.CategoryConflict
	case errors.Is(err, datastore.ErrPOINotFound),
		errors.Is(err, datastore.ErrCellNotFound),
		errors.Is(err, datastore.ErrRunNotFound):
		return errors.CategoryNotFound
	case errors.Is(err, datastore.ErrBelowQuorum),
		errors.Is(err, ErrNotAdjudicator):
		return errors.CategoryAdjudication
	default:
		return ""
	}
}

// wrap attaches the review component and a category to err. Errors that
// already carry a category keep it.
func wrap(err error, operation string, context ...any) error {
	if err == nil {
		return nil
	}
	cat := categoryFor(err)
	if cat == "" {
		var ee *errors.EnhancedError
		if errors.As(err, &ee) {
			return err
		}
		cat = errors.CategoryState
	}

	b := errors.New(err).
		Component("review").
		Category(cat).
		Context("operation", operation)
	for i := 0; i+1 < len(context); i += 2 {
		if key, ok := context[i].(string); ok {
			b = b.Context(key, context[i+1])
		}
	}
	return b.Build()
}

// validationError reports rejected submission fields.
func validationError(message string, fields ...string) error {
	return errors.New(errors.NewStd(message)).
		Component("review").
		Category(errors.CategoryValidation).
		Context("fields", strings.Join(fields, ",")).
		Build()
}
