package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gaia-review/gaia/internal/datastore/entities"
	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/observability/metrics"
)

// CandidateQuery selects work for one reviewer.
type CandidateQuery struct {
	ReviewerID string
	ProjectID  uint   // 0 matches every project
	VendorID   string // optional source image filter
	Quorum     int
	AfterID    uint // keyset pagination, exclusive
	Limit      int
}

const defaultCandidateLimit = 100

func (q CandidateQuery) limit() int {
	if q.Limit <= 0 {
		return defaultCandidateLimit
	}
	return q.Limit
}

// lockable describes a table with status / locked_by / locked_at columns.
type lockable struct {
	model    any
	table    string
	entity   string                  // metrics label
	eligible func(*gorm.DB) *gorm.DB // predicates a row must still satisfy to be locked
}

// casLock moves row id to In Review under reviewerID if it still satisfies
// the eligibility predicates. It reports false when the row was taken,
// finalised or otherwise changed since it was selected.
//
// SQLite serialises writers, so a single conditional UPDATE is the whole
// compare-and-set. MySQL and PostgreSQL first claim the row with
// SELECT ... FOR UPDATE SKIP LOCKED so competing sessions move on instead of
// queueing behind each other.
func (b *base) casLock(ctx context.Context, t lockable, id uint, reviewerID string) (bool, error) {
	start := time.Now()
	values := map[string]any{
		"status":    entities.StatusInReview,
		"locked_by": reviewerID,
		"locked_at": b.now(),
	}

	var locked bool
	var err error
	if b.serverLocks() {
		err = b.transaction(ctx, metrics.OpTryLock, func(tx *gorm.DB) error {
			var ids []uint
			claim := t.eligible(tx.Model(t.model).Where(t.table+".id = ?", id)).
				Clauses(clause.Locking{
					Strength: clause.LockingStrengthUpdate,
					Options:  clause.LockingOptionsSkipLocked,
				}).
				Limit(1)
			if err := claim.Pluck("id", &ids).Error; err != nil {
				return err
			}
			if len(ids) == 0 {
				locked = false
				return nil
			}

			result := tx.Model(t.model).Where("id = ?", id).Updates(values)
			if result.Error != nil {
				return result.Error
			}
			locked = result.RowsAffected == 1
			return nil
		})
	} else {
		err = b.withBusyRetry(ctx, metrics.OpTryLock, func() error {
			result := t.eligible(b.db.WithContext(ctx).Model(t.model).Where(t.table+".id = ?", id)).
				Updates(values)
			if result.Error != nil {
				return result.Error
			}
			locked = result.RowsAffected == 1
			return nil
		})
	}

	b.observe(metrics.OpTryLock, t.table, start, err)
	if err != nil {
		return false, dbError(err, metrics.OpTryLock, errors.PriorityMedium,
			"table", t.table, "id", id)
	}
	if !locked && b.metrics != nil {
		b.metrics.RecordLockContention(t.entity)
	}
	return locked, nil
}

// casUnlock clears the lock on id if reviewerID holds it and sets status.
func (b *base) casUnlock(ctx context.Context, t lockable, id uint, reviewerID string, status entities.ReviewStatus) (bool, error) {
	var affected int64
	err := b.withBusyRetry(ctx, "unlock", func() error {
		result := b.db.WithContext(ctx).Model(t.model).
			Where("id = ? AND locked_by = ?", id, reviewerID).
			Updates(map[string]any{
				"status":    status,
				"locked_by": nil,
				"locked_at": nil,
			})
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return false, dbError(err, "unlock", errors.PriorityMedium, "table", t.table, "id", id)
	}
	return affected == 1, nil
}

// releaseStale clears locks taken before cutoff on rows matching scope.
func (b *base) releaseStale(ctx context.Context, t lockable, cutoff time.Time, scope func(*gorm.DB) *gorm.DB) (int64, error) {
	start := time.Now()
	var affected int64
	err := b.withBusyRetry(ctx, metrics.OpReleaseLocks, func() error {
		q := b.db.WithContext(ctx).Model(t.model).
			Where("locked_by IS NOT NULL AND locked_at < ?", cutoff)
		if scope != nil {
			q = scope(q)
		}
		result := q.Updates(map[string]any{
			"status":    entities.StatusAvailable,
			"locked_by": nil,
			"locked_at": nil,
		})
		affected = result.RowsAffected
		return result.Error
	})
	b.observe(metrics.OpReleaseLocks, t.table, start, err)
	if err != nil {
		return 0, dbError(err, metrics.OpReleaseLocks, errors.PriorityHigh, "table", t.table)
	}
	return affected, nil
}
