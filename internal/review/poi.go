package review

import (
	"context"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gaia-review/gaia/internal/datastore"
	"github.com/gaia-review/gaia/internal/datastore/entities"
	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/logger"
	"github.com/gaia-review/gaia/internal/observability/metrics"
)

// FinalizedByConsensus marks determinations reached without an adjudicator.
const FinalizedByConsensus = "consensus"

// Submission is one reviewer's classification of a POI.
type Submission struct {
	POIID          uint
	Classification string
	Comments       string
	Target         string // target code, required for animal classes
	Confidence     string // confidence code, required for animal classes
}

// SubmitResult describes what a submission did.
type SubmitResult struct {
	// Annotation is the stored annotation; nil for an adjudication.
	Annotation *entities.Annotation
	// Outcome is the consensus evaluation after the write.
	Outcome Outcome
	// Adjudicated is true when the submission set the final determination
	// directly.
	Adjudicated bool
	// FinalReviewDate is set once the POI has a final determination.
	FinalReviewDate *time.Time
}

// Final reports whether the POI now has a final determination.
func (r *SubmitResult) Final() bool { return r.FinalReviewDate != nil }

// NextForReviewer locks and returns the lowest-id POI the reviewer may
// annotate, or nil when the queue is exhausted. A POI already locked by the
// reviewer is returned again, so retries are safe.
func (e *Engine) NextForReviewer(ctx context.Context, r Reviewer) (*entities.PointOfInterest, error) {
	start := time.Now()
	log := e.log.WithContext(ctx).With(logger.String("reviewer_id", r.ID))

	q := datastore.CandidateQuery{
		ReviewerID: r.ID,
		ProjectID:  r.ProjectID,
		Quorum:     e.quorum,
		Limit:      e.pageSize,
	}
	memo := make(map[string]bool)

	for {
		candidates, err := e.pois.Candidates(ctx, q)
		if err != nil {
			e.recordAssignment(metrics.LabelPOI, metrics.LabelError, start)
			return nil, wrap(err, metrics.OpNextPOI, "reviewer_id", r.ID)
		}
		if len(candidates) == 0 {
			e.recordAssignment(metrics.LabelPOI, metrics.LabelEmpty, start)
			log.Debug("review queue exhausted")
			return nil, nil
		}

		for i := range candidates {
			c := &candidates[i]
			q.AfterID = c.ID

			if !e.viewable(ctx, c.VendorID, memo) {
				e.recordSkip("not_viewable")
				continue
			}

			err := e.pois.TryLock(ctx, c.ID, q)
			switch {
			case err == nil:
				poi, err := e.pois.Get(ctx, c.ID)
				if err != nil {
					e.recordAssignment(metrics.LabelPOI, metrics.LabelError, start)
					return nil, wrap(err, metrics.OpNextPOI, "poi_id", c.ID)
				}
				e.recordAssignment(metrics.LabelPOI, metrics.LabelSuccess, start)
				log.Debug("assigned poi", logger.Uint64("poi_id", uint64(poi.ID)))
				return poi, nil
			case categoryFor(err) == errors.CategoryConflict:
				// another reviewer won the race or the POI moved on
				e.recordSkip("lock_lost")
				continue
			default:
				e.recordAssignment(metrics.LabelPOI, metrics.LabelError, start)
				return nil, wrap(err, metrics.OpNextPOI, "poi_id", c.ID)
			}
		}
	}
}

// Release gives up the reviewer's lock on a POI without annotating it.
func (e *Engine) Release(ctx context.Context, r Reviewer, poiID uint) error {
	return wrap(e.pois.Unlock(ctx, poiID, r.ID), "release_poi", "poi_id", poiID, "reviewer_id", r.ID)
}

// validated is a submission after taxonomy and lookup checks.
type validated struct {
	class      Classification
	comments   string
	target     *string
	confidence *string
}

func (e *Engine) validate(ctx context.Context, s Submission) (*validated, error) {
	class, err := ParseClassification(s.Classification)
	if err != nil {
		return nil, err
	}

	v := &validated{class: class, comments: strings.TrimSpace(s.Comments)}
	if n := utf8.RuneCountInString(v.comments); n > e.commentMax {
		return nil, validationError("comments exceed maximum length", "comments")
	}

	if !class.RequiresTarget() {
		return v, nil
	}

	target := strings.TrimSpace(s.Target)
	confidence := strings.TrimSpace(s.Confidence)
	var missing []string
	if target == "" {
		missing = append(missing, "target")
	}
	if confidence == "" {
		missing = append(missing, "confidence")
	}
	if len(missing) > 0 {
		return nil, validationError(string(class)+" requires "+strings.Join(missing, " and "), missing...)
	}

	if err := e.checkTarget(ctx, target); err != nil {
		return nil, err
	}
	confidences, err := e.store.Confidences(ctx)
	if err != nil {
		return nil, wrap(err, "load_confidences")
	}
	if !slices.ContainsFunc(confidences, func(c entities.Confidence) bool { return c.Code == confidence }) {
		return nil, validationError("unknown confidence "+confidence, "confidence")
	}

	v.target = &target
	v.confidence = &confidence
	return v, nil
}

func (e *Engine) checkTarget(ctx context.Context, target string) error {
	targets, err := e.store.Targets(ctx)
	if err != nil {
		return wrap(err, "load_targets")
	}
	if !slices.ContainsFunc(targets, func(t entities.Target) bool { return t.Code == target }) {
		return validationError("unknown target "+target, "target")
	}
	return nil
}

// SubmitAnnotation records a reviewer's classification. When an adjudicator
// submits on a POI that already has a quorum of annotations the submission
// becomes the final determination instead of a further annotation.
// Otherwise the annotation is stored and the consensus rule decides whether
// the POI is finalised, dismissed, sent to adjudication or released for the
// next reviewer.
func (e *Engine) SubmitAnnotation(ctx context.Context, r Reviewer, s Submission) (*SubmitResult, error) {
	v, err := e.validate(ctx, s)
	if err != nil {
		e.recordSubmission(metrics.OpSubmitAnnotation, err)
		return nil, err
	}

	var result *SubmitResult
	err = e.pois.InTx(ctx, func(tx *datastore.POIRepository) error {
		result = nil

		poi, err := tx.GetForUpdate(ctx, s.POIID)
		if err != nil {
			return err
		}
		if poi.IsFinal() {
			return datastore.ErrFinalized
		}
		if poi.LockedBy != nil && *poi.LockedBy != r.ID {
			return datastore.ErrLocked
		}

		n, err := tx.CountAnnotations(ctx, poi.ID)
		if err != nil {
			return err
		}
		if int(n) >= e.quorum {
			if !r.Adjudicator {
				return datastore.ErrQuorumReached
			}
			result, err = e.finalize(ctx, tx, poi.ID, v.class, v.target, r.ID)
			return err
		}

		ann := &entities.Annotation{
			POIID:          poi.ID,
			ReviewerID:     r.ID,
			Classification: string(v.class),
			Comments:       v.comments,
			Target:         v.target,
			Confidence:     v.confidence,
		}
		if err := tx.CreateAnnotation(ctx, ann); err != nil {
			return err
		}

		annotations, err := tx.Annotations(ctx, poi.ID)
		if err != nil {
			return err
		}
		result, err = e.applyOutcome(ctx, tx, poi.ID, EvaluatePOI(annotations, e.quorum))
		if result != nil {
			result.Annotation = ann
		}
		return err
	})

	e.recordSubmission(metrics.OpSubmitAnnotation, err)
	if err != nil {
		return nil, wrap(err, metrics.OpSubmitAnnotation, "poi_id", s.POIID, "reviewer_id", r.ID)
	}

	if e.metrics != nil {
		e.metrics.RecordConsensusOutcome(result.Outcome.Kind.String())
	}
	e.log.WithContext(ctx).Info("annotation submitted",
		logger.Uint64("poi_id", uint64(s.POIID)),
		logger.String("reviewer_id", r.ID),
		logger.String("classification", string(v.class)),
		logger.String("outcome", result.Outcome.Kind.String()),
		logger.Bool("adjudicated", result.Adjudicated))
	return result, nil
}

// applyOutcome moves the POI to the state the consensus outcome calls for.
func (e *Engine) applyOutcome(ctx context.Context, tx *datastore.POIRepository, poiID uint, out Outcome) (*SubmitResult, error) {
	result := &SubmitResult{Outcome: out}
	switch out.Kind {
	case Pending:
		return result, tx.SetReviewState(ctx, poiID, entities.StatusAvailable)
	case NeedsAdjudication:
		return result, tx.SetReviewState(ctx, poiID, entities.StatusInReview)
	case Dismissed:
		return result, tx.SetReviewState(ctx, poiID, entities.StatusReviewed)
	case Consensus:
		at, err := tx.Finalize(ctx, poiID, datastore.FinalDetermination{
			Classification: string(out.Classification),
			Species:        out.Species,
			By:             FinalizedByConsensus,
		})
		if err != nil {
			return nil, err
		}
		result.FinalReviewDate = &at
		return result, nil
	default:
		return result, nil
	}
}

// finalize records an adjudicator's determination.
func (e *Engine) finalize(ctx context.Context, tx *datastore.POIRepository, poiID uint, class Classification, species *string, by string) (*SubmitResult, error) {
	if !class.IsAnimal() {
		species = nil
	}
	at, err := tx.Finalize(ctx, poiID, datastore.FinalDetermination{
		Classification: string(class),
		Species:        species,
		By:             by,
	})
	if err != nil {
		return nil, err
	}
	return &SubmitResult{
		Outcome:         Outcome{Kind: Consensus, Classification: class, Species: species, Annotations: e.quorum},
		Adjudicated:     true,
		FinalReviewDate: &at,
	}, nil
}

// Decision is an adjudicator's ruling on a POI.
type Decision struct {
	Classification string
	Target         string // required for animal classes
}

// Adjudicate sets the final determination of a POI that reached quorum
// without agreement. It rejects non-adjudicators and POIs below quorum.
func (e *Engine) Adjudicate(ctx context.Context, r Reviewer, poiID uint, d Decision) (*SubmitResult, error) {
	if !r.Adjudicator {
		err := wrap(ErrNotAdjudicator, metrics.OpAdjudicate, "reviewer_id", r.ID)
		e.recordSubmission(metrics.OpAdjudicate, err)
		return nil, err
	}

	class, err := ParseClassification(d.Classification)
	if err != nil {
		e.recordSubmission(metrics.OpAdjudicate, err)
		return nil, err
	}
	var species *string
	if class.RequiresTarget() {
		target := strings.TrimSpace(d.Target)
		if target == "" {
			err = validationError(string(class)+" requires target", "target")
		} else {
			err = e.checkTarget(ctx, target)
		}
		if err != nil {
			e.recordSubmission(metrics.OpAdjudicate, err)
			return nil, err
		}
		species = &target
	}

	var result *SubmitResult
	err = e.pois.InTx(ctx, func(tx *datastore.POIRepository) error {
		poi, err := tx.GetForUpdate(ctx, poiID)
		if err != nil {
			return err
		}
		if poi.IsFinal() {
			return datastore.ErrFinalized
		}
		n, err := tx.CountAnnotations(ctx, poiID)
		if err != nil {
			return err
		}
		if int(n) < e.quorum {
			return datastore.ErrBelowQuorum
		}
		result, err = e.finalize(ctx, tx, poiID, class, species, r.ID)
		return err
	})

	e.recordSubmission(metrics.OpAdjudicate, err)
	if err != nil {
		return nil, wrap(err, metrics.OpAdjudicate, "poi_id", poiID, "reviewer_id", r.ID)
	}
	if e.metrics != nil {
		e.metrics.RecordConsensusOutcome("adjudicated")
	}
	e.log.WithContext(ctx).Info("poi adjudicated",
		logger.Uint64("poi_id", uint64(poiID)),
		logger.String("reviewer_id", r.ID),
		logger.String("classification", string(class)))
	return result, nil
}

// AdjudicationQueue lists POIs at quorum without agreement for the
// reviewer's project, oldest first.
func (e *Engine) AdjudicationQueue(ctx context.Context, r Reviewer, limit int) ([]entities.PointOfInterest, error) {
	if !r.Adjudicator {
		return nil, wrap(ErrNotAdjudicator, "adjudication_queue", "reviewer_id", r.ID)
	}
	pois, err := e.pois.ListAwaitingAdjudication(ctx, r.ProjectID, e.quorum, limit)
	if err != nil {
		return nil, wrap(err, "adjudication_queue")
	}
	return pois, nil
}

// RefreshAdjudicationGauge updates the awaiting-adjudication gauge.
func (e *Engine) RefreshAdjudicationGauge(ctx context.Context) error {
	n, err := e.pois.CountAwaitingAdjudication(ctx, 0, e.quorum)
	if err != nil {
		return wrap(err, "count_adjudication")
	}
	if e.metrics != nil {
		e.metrics.SetAwaitingAdjudication(int(n))
	}
	return nil
}

// ListForValidation pages POIs that at least one reviewer classified as an
// animal, for a validator to inspect the individual annotations.
func (e *Engine) ListForValidation(ctx context.Context, projectID uint, includeFinal bool, page, pageSize int) (*datastore.ValidationPage, error) {
	p, err := e.pois.ListForValidation(ctx, datastore.ValidationQuery{
		ProjectID:       projectID,
		Classifications: AnimalClassifications(),
		IncludeFinal:    includeFinal,
		Page:            page,
		PageSize:        pageSize,
	})
	if err != nil {
		return nil, wrap(err, "list_validation")
	}
	return p, nil
}
