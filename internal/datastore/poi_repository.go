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

const (
	poiTable        = "points_of_interest"
	annotationTable = "annotations"
	upsertBatchSize = 100
)

// POIRepository reads and mutates points of interest and their annotations.
type POIRepository struct {
	base
}

// FinalDetermination is the frozen outcome of a POI review.
type FinalDetermination struct {
	Classification string
	Species        *string
	By             string // reviewer id, or "consensus"
}

// ValidationQuery pages POIs that at least one reviewer marked as an animal.
type ValidationQuery struct {
	ProjectID       uint
	Classifications []string // annotation classes that put a POI on the list
	IncludeFinal    bool
	Page            int // 1-based
	PageSize        int
}

// ValidationPage is one page of ListForValidation.
type ValidationPage struct {
	Items    []entities.PointOfInterest
	Total    int64
	Page     int
	PageSize int
}

func (r *POIRepository) lockable(q CandidateQuery) lockable {
	return lockable{
		model:    &entities.PointOfInterest{},
		table:    poiTable,
		entity:   metrics.LabelPOI,
		eligible: poiEligible(q),
	}
}

// poiEligible holds the predicates of a POI a reviewer may be handed: not
// finalised, not locked by someone else, not yet annotated by the reviewer
// and below quorum.
func poiEligible(q CandidateQuery) func(*gorm.DB) *gorm.DB {
	quorum := q.Quorum
	if quorum <= 0 {
		quorum = 3
	}
	return func(db *gorm.DB) *gorm.DB {
		db = db.
			Where("points_of_interest.final_review_date IS NULL").
			Where("points_of_interest.status <> ?", entities.StatusReviewed).
			Where("(points_of_interest.locked_by IS NULL OR points_of_interest.locked_by = ?)", q.ReviewerID).
			Where("NOT EXISTS (SELECT 1 FROM annotations a WHERE a.poi_id = points_of_interest.id AND a.reviewer_id = ?)", q.ReviewerID).
			Where("(SELECT COUNT(*) FROM annotations c WHERE c.poi_id = points_of_interest.id) < ?", quorum)
		if q.ProjectID != 0 {
			db = db.Where("points_of_interest.project_id = ?", q.ProjectID)
		}
		if q.VendorID != "" {
			db = db.Where("points_of_interest.vendor_id = ?", q.VendorID)
		}
		return db
	}
}

// Candidates returns eligible POIs for the reviewer in ascending id order,
// starting after q.AfterID.
func (r *POIRepository) Candidates(ctx context.Context, q CandidateQuery) ([]entities.PointOfInterest, error) {
	start := time.Now()
	var pois []entities.PointOfInterest
	err := poiEligible(q)(r.db.WithContext(ctx).Model(&entities.PointOfInterest{})).
		Where("points_of_interest.id > ?", q.AfterID).
		Order("points_of_interest.id ASC").
		Limit(q.limit()).
		Find(&pois).Error
	r.observe(metrics.OpCandidates, poiTable, start, err)
	if err != nil {
		return nil, dbError(err, metrics.OpCandidates, errors.PriorityMedium,
			"reviewer_id", q.ReviewerID, "project_id", q.ProjectID)
	}
	return pois, nil
}

// TryLock atomically locks POI id for q.ReviewerID if it is still eligible.
// A lost race returns ErrLocked, ErrFinalized or ErrNotEligible.
func (r *POIRepository) TryLock(ctx context.Context, id uint, q CandidateQuery) error {
	locked, err := r.casLock(ctx, r.lockable(q), id, q.ReviewerID)
	if err != nil {
		return err
	}
	if locked {
		return nil
	}
	return r.lockFailure(ctx, id, q.ReviewerID)
}

// lockFailure explains why a compare-and-set lock did not apply.
func (r *POIRepository) lockFailure(ctx context.Context, id uint, reviewerID string) error {
	poi, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case poi.IsFinal() || poi.Status == entities.StatusReviewed:
		return ErrFinalized
	case poi.LockedBy != nil && *poi.LockedBy != reviewerID:
		return ErrLocked
	default:
		return ErrNotEligible
	}
}

// Unlock releases the reviewer's lock and makes the POI available again.
// It returns ErrLocked when the reviewer does not hold the lock.
func (r *POIRepository) Unlock(ctx context.Context, id uint, reviewerID string) error {
	released, err := r.casUnlock(ctx, r.lockable(CandidateQuery{}), id, reviewerID, entities.StatusAvailable)
	if err != nil {
		return err
	}
	if !released {
		return ErrLocked
	}
	return nil
}

// InTx runs fn with a repository bound to a single transaction. Busy and
// deadlock failures rerun the whole transaction.
func (r *POIRepository) InTx(ctx context.Context, fn func(tx *POIRepository) error) error {
	return r.transaction(ctx, "poi_tx", func(tx *gorm.DB) error {
		return fn(&POIRepository{base: r.bound(tx)})
	})
}

// Get loads a POI without annotations.
func (r *POIRepository) Get(ctx context.Context, id uint) (*entities.PointOfInterest, error) {
	return r.get(ctx, r.db.WithContext(ctx), id)
}

// GetForUpdate loads a POI and, on MySQL and PostgreSQL, row-locks it until
// the surrounding transaction ends.
func (r *POIRepository) GetForUpdate(ctx context.Context, id uint) (*entities.PointOfInterest, error) {
	return r.get(ctx, r.forUpdate(r.db.WithContext(ctx)), id)
}

func (r *POIRepository) get(_ context.Context, db *gorm.DB, id uint) (*entities.PointOfInterest, error) {
	var poi entities.PointOfInterest
	if err := db.Where("id = ?", id).Take(&poi).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPOINotFound
		}
		return nil, dbError(err, "get_poi", errors.PriorityMedium, "id", id)
	}
	return &poi, nil
}

// Annotations returns the POI's annotations in submission order.
func (r *POIRepository) Annotations(ctx context.Context, poiID uint) ([]entities.Annotation, error) {
	var annotations []entities.Annotation
	err := r.db.WithContext(ctx).
		Where("poi_id = ?", poiID).
		Order("id ASC").
		Find(&annotations).Error
	if err != nil {
		return nil, dbError(err, "list_annotations", errors.PriorityMedium, "poi_id", poiID)
	}
	return annotations, nil
}

// CountAnnotations returns how many reviewers annotated the POI.
func (r *POIRepository) CountAnnotations(ctx context.Context, poiID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entities.Annotation{}).Where("poi_id = ?", poiID).Count(&n).Error
	if err != nil {
		return 0, dbError(err, "count_annotations", errors.PriorityMedium, "poi_id", poiID)
	}
	return n, nil
}

// CreateAnnotation inserts a. The (poi_id, reviewer_id) unique index turns a
// second submission by the same reviewer into ErrDuplicateAnnotation.
func (r *POIRepository) CreateAnnotation(ctx context.Context, a *entities.Annotation) error {
	start := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now()
	}
	err := r.db.WithContext(ctx).Create(a).Error
	r.observe("create_annotation", annotationTable, start, err)
	switch {
	case err == nil:
		return nil
	case isDuplicateKey(err):
		return ErrDuplicateAnnotation
	default:
		return dbError(err, "create_annotation", errors.PriorityHigh,
			"poi_id", a.POIID, "reviewer_id", a.ReviewerID)
	}
}

// Finalize freezes the final determination and marks the POI Reviewed.
// It returns ErrFinalized when a determination already exists.
func (r *POIRepository) Finalize(ctx context.Context, id uint, d FinalDetermination) (time.Time, error) {
	at := r.now()
	result := r.db.WithContext(ctx).Model(&entities.PointOfInterest{}).
		Where("id = ? AND final_review_date IS NULL", id).
		Updates(map[string]any{
			"final_classification": d.Classification,
			"final_species":        d.Species,
			"final_review_date":    at,
			"finalized_by":         d.By,
			"status":               entities.StatusReviewed,
			"locked_by":            nil,
			"locked_at":            nil,
		})
	if result.Error != nil {
		return time.Time{}, dbError(result.Error, "finalize", errors.PriorityHigh, "id", id)
	}
	if result.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return time.Time{}, err
		}
		return time.Time{}, ErrFinalized
	}
	return at, nil
}

// SetReviewState sets the status of a POI without a final determination and
// clears its lock.
func (r *POIRepository) SetReviewState(ctx context.Context, id uint, status entities.ReviewStatus) error {
	result := r.db.WithContext(ctx).Model(&entities.PointOfInterest{}).
		Where("id = ? AND final_review_date IS NULL", id).
		Updates(map[string]any{
			"status":    status,
			"locked_by": nil,
			"locked_at": nil,
		})
	if result.Error != nil {
		return dbError(result.Error, "set_review_state", errors.PriorityHigh, "id", id)
	}
	if result.RowsAffected == 0 {
		return ErrFinalized
	}
	return nil
}

// Upsert inserts detections, updating geometry and detection metadata of
// rows that already exist for the same (vendor_id, sample_idx). Review state
// of existing rows is left alone.
func (r *POIRepository) Upsert(ctx context.Context, pois []entities.PointOfInterest) (int64, error) {
	if len(pois) == 0 {
		return 0, nil
	}
	start := time.Now()
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "vendor_id"}, {Name: "sample_idx"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"project_id", "catalog_id", "point", "epsg_code", "area", "deviation", "updated_at",
			}),
		}).
		CreateInBatches(&pois, upsertBatchSize)
	r.observe(metrics.OpUpsertPOI, poiTable, start, result.Error)
	if result.Error != nil {
		return 0, dbError(result.Error, metrics.OpUpsertPOI, errors.PriorityHigh, "count", len(pois))
	}
	return result.RowsAffected, nil
}

// ListForValidation pages POIs with at least one annotation in
// q.Classifications, newest first, annotations preloaded.
func (r *POIRepository) ListForValidation(ctx context.Context, q ValidationQuery) (*ValidationPage, error) {
	if q.PageSize <= 0 {
		q.PageSize = defaultCandidateLimit
	}
	if q.Page <= 0 {
		q.Page = 1
	}

	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Model(&entities.PointOfInterest{}).
			Where("EXISTS (SELECT 1 FROM annotations a WHERE a.poi_id = points_of_interest.id AND a.classification IN ?)", q.Classifications)
		if q.ProjectID != 0 {
			db = db.Where("project_id = ?", q.ProjectID)
		}
		if !q.IncludeFinal {
			db = db.Where("final_review_date IS NULL")
		}
		return db
	}

	page := &ValidationPage{Page: q.Page, PageSize: q.PageSize}
	if err := scope(r.db.WithContext(ctx)).Count(&page.Total).Error; err != nil {
		return nil, dbError(err, "list_validation", errors.PriorityMedium)
	}
	err := scope(r.db.WithContext(ctx)).
		Preload("Annotations", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Order("id DESC").
		Offset((q.Page - 1) * q.PageSize).
		Limit(q.PageSize).
		Find(&page.Items).Error
	if err != nil {
		return nil, dbError(err, "list_validation", errors.PriorityMedium)
	}
	return page, nil
}

func awaitingAdjudication(projectID uint, quorum int) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Model(&entities.PointOfInterest{}).
			Where("final_review_date IS NULL AND status <> ?", entities.StatusReviewed).
			Where("(SELECT COUNT(*) FROM annotations c WHERE c.poi_id = points_of_interest.id) >= ?", quorum)
		if projectID != 0 {
			db = db.Where("project_id = ?", projectID)
		}
		return db
	}
}

// ListAwaitingAdjudication returns POIs at quorum without a final
// determination, oldest first, annotations preloaded.
func (r *POIRepository) ListAwaitingAdjudication(ctx context.Context, projectID uint, quorum, limit int) ([]entities.PointOfInterest, error) {
	if limit <= 0 {
		limit = defaultCandidateLimit
	}
	var pois []entities.PointOfInterest
	err := awaitingAdjudication(projectID, quorum)(r.db.WithContext(ctx)).
		Preload("Annotations", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Order("id ASC").
		Limit(limit).
		Find(&pois).Error
	if err != nil {
		return nil, dbError(err, "list_adjudication", errors.PriorityMedium)
	}
	return pois, nil
}

// CountAwaitingAdjudication counts POIs at quorum without a final
// determination.
func (r *POIRepository) CountAwaitingAdjudication(ctx context.Context, projectID uint, quorum int) (int64, error) {
	var n int64
	if err := awaitingAdjudication(projectID, quorum)(r.db.WithContext(ctx)).Count(&n).Error; err != nil {
		return 0, dbError(err, "count_adjudication", errors.PriorityLow)
	}
	return n, nil
}

// ReleaseStaleLocks makes POIs locked before cutoff available again.
func (r *POIRepository) ReleaseStaleLocks(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.releaseStale(ctx, r.lockable(CandidateQuery{}), cutoff, func(db *gorm.DB) *gorm.DB {
		return db.Where("final_review_date IS NULL")
	})
}

// AnnotationFilter restricts ListAnnotations.
type AnnotationFilter struct {
	ProjectID  uint
	ReviewerID string
	Since      time.Time
}

// ListAnnotations returns annotations in id order for export.
func (r *POIRepository) ListAnnotations(ctx context.Context, f AnnotationFilter) ([]entities.Annotation, error) {
	db := r.db.WithContext(ctx).Model(&entities.Annotation{})
	if f.ProjectID != 0 {
		db = db.Where("poi_id IN (?)",
			r.db.Model(&entities.PointOfInterest{}).Select("id").Where("project_id = ?", f.ProjectID))
	}
	if f.ReviewerID != "" {
		db = db.Where("reviewer_id = ?", f.ReviewerID)
	}
	if !f.Since.IsZero() {
		db = db.Where("created_at >= ?", f.Since)
	}

	var annotations []entities.Annotation
	if err := db.Order("id ASC").Find(&annotations).Error; err != nil {
		return nil, dbError(err, "export_annotations", errors.PriorityMedium)
	}
	return annotations, nil
}
