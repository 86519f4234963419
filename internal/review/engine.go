// Package review hands points of interest and fishnet cells to reviewers,
// records their annotations and resolves each POI once enough independent
// reviews are in.
//
// Assignment relies on the store's compare-and-set lock: the engine keeps
// no state of its own, so any number of engines may serve the same
// database.
package review

import (
	"context"
	"time"

	"github.com/spf13/afero"

	"github.com/gaia-review/gaia/internal/conf"
	"github.com/gaia-review/gaia/internal/datastore"
	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/events"
	"github.com/gaia-review/gaia/internal/logger"
	"github.com/gaia-review/gaia/internal/observability/metrics"
)

// Reviewer identifies the person asking for work.
type Reviewer struct {
	ID          string
	ProjectID   uint // 0 = any project
	Adjudicator bool
}

// ViewabilityChecker answers whether imagery for a source image can be
// displayed. Implemented by assets.Checker.
type ViewabilityChecker interface {
	Viewable(ctx context.Context, vendorID string) (string, bool, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithChecker skips candidates whose imagery is not confirmed viewable.
func WithChecker(c ViewabilityChecker) Option {
	return func(e *Engine) { e.checker = c }
}

// WithPublisher announces source images registered by imports and runs.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithMetrics records review metrics.
func WithMetrics(m *metrics.ReviewMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithSettings applies review settings. Zero values keep the defaults.
func WithSettings(s conf.ReviewSettings) Option {
	return func(e *Engine) {
		if s.Quorum > 0 {
			e.quorum = s.Quorum
		}
		if s.CellQuorum > 0 {
			e.cellQuorum = s.CellQuorum
		}
		if s.CommentMaxLength > 0 {
			e.commentMax = s.CommentMaxLength
		}
		if s.CandidatePageSize > 0 {
			e.pageSize = s.CandidatePageSize
		}
		if s.LockTimeout > 0 {
			e.lockTimeout = s.LockTimeout
		}
		e.requireViewable = s.RequireViewableAsset
	}
}

// WithFs sets the filesystem detection files are read from.
func WithFs(fs afero.Fs) Option {
	return func(e *Engine) { e.fs = fs }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine implements reviewer assignment and submission.
type Engine struct {
	store *datastore.Store
	pois  *datastore.POIRepository
	cells *datastore.CellRepository

	fs              afero.Fs
	checker         ViewabilityChecker
	publisher       events.Publisher
	metrics         *metrics.ReviewMetrics
	log             logger.Logger
	now             func() time.Time
	quorum          int
	cellQuorum      int
	commentMax      int
	pageSize        int
	lockTimeout     time.Duration
	requireViewable bool
}

// NewEngine returns an engine over store.
func NewEngine(store *datastore.Store, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		pois:            store.POIs(),
		cells:           store.Cells(),
		quorum:          conf.DefaultQuorum,
		cellQuorum:      conf.DefaultCellQuorum,
		commentMax:      conf.DefaultCommentMaxLength,
		pageSize:        conf.DefaultPageSize,
		lockTimeout:     30 * time.Minute,
		requireViewable: true,
		now:             time.Now,
		fs:              afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Global().Module("review")
	}
	return e
}

// Quorum is the number of annotations a POI needs.
func (e *Engine) Quorum() int { return e.quorum }

// CellQuorum is the number of reviews a fishnet cell needs.
func (e *Engine) CellQuorum() int { return e.cellQuorum }

// viewable reports whether vendorID's imagery is confirmed viewable. Checker
// failures count as not viewable. memo holds answers for one selection.
func (e *Engine) viewable(ctx context.Context, vendorID string, memo map[string]bool) bool {
	if e.checker == nil || !e.requireViewable {
		return true
	}
	if ok, seen := memo[vendorID]; seen {
		return ok
	}

	_, ok, err := e.checker.Viewable(ctx, vendorID)
	if err != nil {
		e.log.Warn("asset check failed, skipping source image",
			logger.String("vendor_id", vendorID),
			logger.Error(err))
		ok = false
	}
	memo[vendorID] = ok
	return ok
}

func (e *Engine) recordAssignment(entity, result string, start time.Time) {
	if e.metrics != nil {
		e.metrics.RecordAssignment(entity, result, time.Since(start).Seconds())
	}
}

func (e *Engine) recordSkip(reason string) {
	if e.metrics != nil {
		e.metrics.RecordCandidateSkipped(reason)
	}
}

func (e *Engine) recordSubmission(operation string, err error) {
	if e.metrics == nil {
		return
	}
	switch {
	case err == nil:
		e.metrics.RecordSubmission(operation, metrics.LabelSuccess)
	case categoryFor(err) == errors.CategoryConflict:
		e.metrics.RecordSubmission(operation, metrics.LabelConflict)
	default:
		e.metrics.RecordSubmission(operation, metrics.LabelError)
	}
}

func (e *Engine) publish(ctx context.Context, ev events.SourceImageRegistered) {
	if e.publisher == nil {
		return
	}
	if ev.RegisteredAt.IsZero() {
		ev.RegisteredAt = e.now().UTC()
	}
	if err := e.publisher.PublishSourceImage(ctx, ev); err != nil {
		e.log.Warn("source image event not published",
			logger.String("vendor_id", ev.VendorID),
			logger.String("source", ev.Source),
			logger.Error(err))
	}
}
