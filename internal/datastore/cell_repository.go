package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/gaia-review/gaia/internal/datastore/entities"
	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/observability/metrics"
)

const (
	cellTable         = "fishnet_cells"
	reviewTable       = "fishnet_reviews"
	cellBatchSize     = 500
	defaultCellQuorum = 2
)

// CellRepository reads and mutates fishnet cells and their reviews.
type CellRepository struct {
	base
}

func (r *CellRepository) lockable(q CandidateQuery) lockable {
	return lockable{
		model:    &entities.FishnetCell{},
		table:    cellTable,
		entity:   metrics.LabelCell,
		eligible: cellEligible(q),
	}
}

func cellEligible(q CandidateQuery) func(*gorm.DB) *gorm.DB {
	quorum := q.Quorum
	if quorum <= 0 {
		quorum = defaultCellQuorum
	}
	return func(db *gorm.DB) *gorm.DB {
		db = db.
			Where("fishnet_cells.completed_at IS NULL").
			Where("fishnet_cells.status <> ?", entities.StatusReviewed).
			Where("(fishnet_cells.locked_by IS NULL OR fishnet_cells.locked_by = ?)", q.ReviewerID).
			Where("NOT EXISTS (SELECT 1 FROM fishnet_reviews r WHERE r.cell_id = fishnet_cells.id AND r.reviewer_id = ?)", q.ReviewerID).
			Where("(SELECT COUNT(*) FROM fishnet_reviews c WHERE c.cell_id = fishnet_cells.id) < ?", quorum)
		if q.ProjectID != 0 {
			db = db.Where("fishnet_cells.project_id = ?", q.ProjectID)
		}
		if q.VendorID != "" {
			db = db.Where("fishnet_cells.vendor_id = ?", q.VendorID)
		}
		return db
	}
}

// Candidates returns cells the reviewer may screen in ascending id order.
func (r *CellRepository) Candidates(ctx context.Context, q CandidateQuery) ([]entities.FishnetCell, error) {
	start := time.Now()
	var cells []entities.FishnetCell
	err := cellEligible(q)(r.db.WithContext(ctx).Model(&entities.FishnetCell{})).
		Where("fishnet_cells.id > ?", q.AfterID).
		Order("fishnet_cells.id ASC").
		Limit(q.limit()).
		Find(&cells).Error
	r.observe(metrics.OpCandidates, cellTable, start, err)
	if err != nil {
		return nil, dbError(err, metrics.OpCandidates, errors.PriorityMedium,
			"reviewer_id", q.ReviewerID, "project_id", q.ProjectID)
	}
	return cells, nil
}

// TryLock atomically locks cell id for q.ReviewerID if it is still eligible.
func (r *CellRepository) TryLock(ctx context.Context, id uint, q CandidateQuery) error {
	locked, err := r.casLock(ctx, r.lockable(q), id, q.ReviewerID)
	if err != nil {
		return err
	}
	if locked {
		return nil
	}

	cell, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case cell.CompletedAt != nil || cell.Status == entities.StatusReviewed:
		return ErrFinalized
	case cell.LockedBy != nil && *cell.LockedBy != q.ReviewerID:
		return ErrLocked
	default:
		return ErrNotEligible
	}
}

// Unlock releases the reviewer's lock on a cell.
func (r *CellRepository) Unlock(ctx context.Context, id uint, reviewerID string) error {
	released, err := r.casUnlock(ctx, r.lockable(CandidateQuery{}), id, reviewerID, entities.StatusAvailable)
	if err != nil {
		return err
	}
	if !released {
		return ErrLocked
	}
	return nil
}

// InTx runs fn with a repository bound to a single transaction.
func (r *CellRepository) InTx(ctx context.Context, fn func(tx *CellRepository) error) error {
	return r.transaction(ctx, "cell_tx", func(tx *gorm.DB) error {
		return fn(&CellRepository{base: r.bound(tx)})
	})
}

// Get loads a cell.
func (r *CellRepository) Get(ctx context.Context, id uint) (*entities.FishnetCell, error) {
	return r.get(r.db.WithContext(ctx), id)
}

// GetForUpdate loads a cell with a row lock where supported.
func (r *CellRepository) GetForUpdate(ctx context.Context, id uint) (*entities.FishnetCell, error) {
	return r.get(r.forUpdate(r.db.WithContext(ctx)), id)
}

func (r *CellRepository) get(db *gorm.DB, id uint) (*entities.FishnetCell, error) {
	var cell entities.FishnetCell
	if err := db.Where("id = ?", id).Take(&cell).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCellNotFound
		}
		return nil, dbError(err, "get_cell", errors.PriorityMedium, "id", id)
	}
	return &cell, nil
}

// Reviews returns the cell's reviews in order.
func (r *CellRepository) Reviews(ctx context.Context, cellID uint) ([]entities.FishnetReview, error) {
	var reviews []entities.FishnetReview
	if err := r.db.WithContext(ctx).Where("cell_id = ?", cellID).Order("id ASC").Find(&reviews).Error; err != nil {
		return nil, dbError(err, "list_reviews", errors.PriorityMedium, "cell_id", cellID)
	}
	return reviews, nil
}

// CreateReview inserts a review; a second review of the same cell by the same
// reviewer returns ErrDuplicateReview.
func (r *CellRepository) CreateReview(ctx context.Context, review *entities.FishnetReview) error {
	start := time.Now()
	if review.Date.IsZero() {
		review.Date = r.now()
	}
	err := r.db.WithContext(ctx).Create(review).Error
	r.observe("create_review", reviewTable, start, err)
	switch {
	case err == nil:
		return nil
	case isDuplicateKey(err):
		return ErrDuplicateReview
	default:
		return dbError(err, "create_review", errors.PriorityHigh,
			"cell_id", review.CellID, "reviewer_id", review.ReviewerID)
	}
}

// MarkComplete closes a cell once it has enough reviews.
func (r *CellRepository) MarkComplete(ctx context.Context, id uint) (time.Time, error) {
	at := r.now()
	result := r.db.WithContext(ctx).Model(&entities.FishnetCell{}).
		Where("id = ? AND completed_at IS NULL", id).
		Updates(map[string]any{
			"status":       entities.StatusReviewed,
			"completed_at": at,
			"locked_by":    nil,
			"locked_at":    nil,
		})
	if result.Error != nil {
		return time.Time{}, dbError(result.Error, "complete_cell", errors.PriorityHigh, "id", id)
	}
	if result.RowsAffected == 0 {
		return time.Time{}, ErrFinalized
	}
	return at, nil
}

// Release clears any lock on an open cell and makes it available.
func (r *CellRepository) Release(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Model(&entities.FishnetCell{}).
		Where("id = ? AND completed_at IS NULL", id).
		Updates(map[string]any{
			"status":    entities.StatusAvailable,
			"locked_by": nil,
			"locked_at": nil,
		}).Error
	if err != nil {
		return dbError(err, "release_cell", errors.PriorityMedium, "id", id)
	}
	return nil
}

// SaveRun stores a partition run and its cells in one transaction. Cells get
// the run id assigned.
func (r *CellRepository) SaveRun(ctx context.Context, run *entities.FishnetRun, cells []entities.FishnetCell) error {
	start := time.Now()
	err := r.transaction(ctx, metrics.OpSaveRun, func(tx *gorm.DB) error {
		run.ID = 0
		run.CellCount = len(cells)
		if err := tx.Omit("Cells").Create(run).Error; err != nil {
			return err
		}
		if len(cells) == 0 {
			return nil
		}
		for i := range cells {
			cells[i].ID = 0
			cells[i].RunID = &run.ID
			if cells[i].ProjectID == 0 {
				cells[i].ProjectID = run.ProjectID
			}
			if cells[i].Status == "" {
				cells[i].Status = entities.StatusAvailable
			}
		}
		return tx.CreateInBatches(&cells, cellBatchSize).Error
	})
	r.observe(metrics.OpSaveRun, cellTable, start, err)
	if err != nil {
		return dbError(err, metrics.OpSaveRun, errors.PriorityHigh,
			"run_uuid", run.UUID, "cells", len(cells))
	}
	return nil
}

// Run loads a partition run by UUID.
func (r *CellRepository) Run(ctx context.Context, uuid string) (*entities.FishnetRun, error) {
	var run entities.FishnetRun
	if err := r.db.WithContext(ctx).Where("uuid = ?", uuid).Take(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, dbError(err, "get_run", errors.PriorityLow, "uuid", uuid)
	}
	return &run, nil
}

// CellsByVendor lists the cells of one source image in index order.
func (r *CellRepository) CellsByVendor(ctx context.Context, vendorID string) ([]entities.FishnetCell, error) {
	var cells []entities.FishnetCell
	err := r.db.WithContext(ctx).
		Where("vendor_id = ?", vendorID).
		Order("cell_index ASC, id ASC").
		Find(&cells).Error
	if err != nil {
		return nil, dbError(err, "list_cells", errors.PriorityLow, "vendor_id", vendorID)
	}
	return cells, nil
}

// ReleaseStaleLocks makes cells locked before cutoff available again.
func (r *CellRepository) ReleaseStaleLocks(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.releaseStale(ctx, r.lockable(CandidateQuery{}), cutoff, func(db *gorm.DB) *gorm.DB {
		return db.Where("completed_at IS NULL")
	})
}
