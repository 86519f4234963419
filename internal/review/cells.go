package review

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/gaia-review/gaia/internal/datastore"
	"github.com/gaia-review/gaia/internal/datastore/entities"
	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/logger"
	"github.com/gaia-review/gaia/internal/observability/metrics"
)

// CellResult describes what a cell review did.
type CellResult struct {
	Review      *entities.FishnetReview
	Outcome     CellOutcome
	Reviews     int
	CompletedAt *time.Time
}

// NextCellForReviewer locks and returns the lowest-id fishnet cell the
// reviewer has not screened yet, or nil when none is left.
func (e *Engine) NextCellForReviewer(ctx context.Context, r Reviewer) (*entities.FishnetCell, error) {
	start := time.Now()
	q := datastore.CandidateQuery{
		ReviewerID: r.ID,
		ProjectID:  r.ProjectID,
		Quorum:     e.cellQuorum,
		Limit:      e.pageSize,
	}
	memo := make(map[string]bool)

	for {
		candidates, err := e.cells.Candidates(ctx, q)
		if err != nil {
			e.recordAssignment(metrics.LabelCell, metrics.LabelError, start)
			return nil, wrap(err, metrics.OpNextCell, "reviewer_id", r.ID)
		}
		if len(candidates) == 0 {
			e.recordAssignment(metrics.LabelCell, metrics.LabelEmpty, start)
			return nil, nil
		}

		for i := range candidates {
			c := &candidates[i]
			q.AfterID = c.ID

			if !e.viewable(ctx, c.VendorID, memo) {
				e.recordSkip("not_viewable")
				continue
			}

			err := e.cells.TryLock(ctx, c.ID, q)
			if err == nil {
				cell, err := e.cells.Get(ctx, c.ID)
				if err != nil {
					e.recordAssignment(metrics.LabelCell, metrics.LabelError, start)
					return nil, wrap(err, metrics.OpNextCell, "cell_id", c.ID)
				}
				e.recordAssignment(metrics.LabelCell, metrics.LabelSuccess, start)
				return cell, nil
			}
			if categoryFor(err) != errors.CategoryConflict {
				e.recordAssignment(metrics.LabelCell, metrics.LabelError, start)
				return nil, wrap(err, metrics.OpNextCell, "cell_id", c.ID)
			}
			e.recordSkip("lock_lost")
		}
	}
}

// ReleaseCell gives up the reviewer's lock on a cell.
func (e *Engine) ReleaseCell(ctx context.Context, r Reviewer, cellID uint) error {
	return wrap(e.cells.Unlock(ctx, cellID, r.ID), "release_cell", "cell_id", cellID, "reviewer_id", r.ID)
}

// SubmitCellReview records that the reviewer screened a cell. The cell is
// complete once it has CellQuorum reviews; until then it goes back to the
// pool for another reviewer.
func (e *Engine) SubmitCellReview(ctx context.Context, r Reviewer, cellID uint) (*CellResult, error) {
	var result *CellResult
	err := e.cells.InTx(ctx, func(tx *datastore.CellRepository) error {
		result = nil

		cell, err := tx.GetForUpdate(ctx, cellID)
		if err != nil {
			return err
		}
		if cell.CompletedAt != nil {
			return datastore.ErrFinalized
		}
		if cell.LockedBy != nil && *cell.LockedBy != r.ID {
			return datastore.ErrLocked
		}

		reviews, err := tx.Reviews(ctx, cellID)
		if err != nil {
			return err
		}
		if len(reviews) >= e.cellQuorum {
			return datastore.ErrQuorumReached
		}

		review := &entities.FishnetReview{CellID: cellID, ReviewerID: r.ID}
		if err := tx.CreateReview(ctx, review); err != nil {
			return err
		}
		reviews = append(reviews, *review)

		result = &CellResult{
			Review:  review,
			Outcome: EvaluateCell(reviews, e.cellQuorum),
			Reviews: len(reviews),
		}
		if result.Outcome != CellComplete {
			return tx.Release(ctx, cellID)
		}
		at, err := tx.MarkComplete(ctx, cellID)
		if err != nil {
			return err
		}
		result.CompletedAt = &at
		return nil
	})

	e.recordSubmission(metrics.OpSubmitCellReview, err)
	if err != nil {
		return nil, wrap(err, metrics.OpSubmitCellReview, "cell_id", cellID, "reviewer_id", r.ID)
	}
	e.log.WithContext(ctx).Info("cell reviewed",
		logger.Uint64("cell_id", uint64(cellID)),
		logger.String("reviewer_id", r.ID),
		logger.String("outcome", result.Outcome.String()),
		logger.Int("reviews", result.Reviews))
	return result, nil
}

// FlagPoints creates POIs for animals a reviewer spotted while screening a
// cell. The reviewer must hold the cell's lock. Points are in the cell's CRS
// and must fall inside it; the new POIs inherit the cell's source image and
// project.
func (e *Engine) FlagPoints(ctx context.Context, r Reviewer, cellID uint, points []orb.Point) ([]entities.PointOfInterest, error) {
	if len(points) == 0 {
		return nil, validationError("no points provided", "points")
	}

	cell, err := e.cells.Get(ctx, cellID)
	if err != nil {
		return nil, wrap(err, "flag_points", "cell_id", cellID)
	}
	if cell.CompletedAt != nil {
		return nil, wrap(datastore.ErrFinalized, "flag_points", "cell_id", cellID)
	}
	switch {
	case cell.LockedBy == nil:
		return nil, wrap(ErrCellLockNotHeld, "flag_points", "cell_id", cellID, "reviewer_id", r.ID)
	case *cell.LockedBy != r.ID:
		return nil, wrap(datastore.ErrLocked, "flag_points", "cell_id", cellID, "reviewer_id", r.ID)
	}
	poly, ok := cell.Cell.Polygon()
	if !ok {
		return nil, errors.Newf("cell %d has no polygon geometry", cellID).
			Component("review").
			Category(errors.CategoryGeometry).
			Build()
	}

	pois := make([]entities.PointOfInterest, 0, len(points))
	for _, p := range points {
		if !planar.PolygonContains(poly, p) {
			return nil, validationError("point outside cell", "points")
		}
		sample := "flag-" + uuid.NewString()
		pois = append(pois, entities.PointOfInterest{
			ProjectID: cell.ProjectID,
			VendorID:  cell.VendorID,
			SampleIdx: &sample,
			Point:     entities.NewGeometry(p),
			EPSG:      cell.EPSG,
			Status:    entities.StatusAvailable,
		})
	}

	if _, err := e.pois.Upsert(ctx, pois); err != nil {
		return nil, wrap(err, "flag_points", "cell_id", cellID)
	}
	e.log.WithContext(ctx).Info("points flagged",
		logger.Uint64("cell_id", uint64(cellID)),
		logger.String("vendor_id", cell.VendorID),
		logger.String("reviewer_id", r.ID),
		logger.Int("points", len(pois)))
	return pois, nil
}
