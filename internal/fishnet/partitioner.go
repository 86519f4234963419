package fishnet

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/footprint"
	"github.com/gaia-review/gaia/internal/logger"
	"github.com/gaia-review/gaia/internal/observability/metrics"
)

// BatchResult holds the cells of every raster that partitioned cleanly and
// the failures of those that did not.
type BatchResult struct {
	Cells    []Cell
	Failures []*RasterError
	// Rasters is the number of rasters that produced cells.
	Rasters int
}

// Partitioner runs Partition over many rasters in parallel.
type Partitioner struct {
	reader      footprint.Reader
	concurrency int
	metrics     *metrics.FishnetMetrics
	log         logger.Logger
}

// Option configures a Partitioner.
type Option func(*Partitioner)

// WithConcurrency bounds the number of rasters processed at once.
func WithConcurrency(n int) Option {
	return func(p *Partitioner) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithMetrics records partition metrics.
func WithMetrics(m *metrics.FishnetMetrics) Option {
	return func(p *Partitioner) { p.metrics = m }
}

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Partitioner) {
		if l != nil {
			p.log = l
		}
	}
}

// NewPartitioner returns a partitioner reading footprints with reader. The
// reader may be nil when only PartitionAll is used.
func NewPartitioner(reader footprint.Reader, opts ...Option) *Partitioner {
	p := &Partitioner{
		reader:      reader,
		concurrency: runtime.GOMAXPROCS(0),
		log:         logger.Global().Module("fishnet"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PartitionAll partitions every footprint. A raster that fails is reported in
// Failures and does not stop the others. Only context cancellation aborts the
// batch.
func (p *Partitioner) PartitionAll(ctx context.Context, fps []footprint.Footprint, opts Options) (*BatchResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	perRaster := make([][]Cell, len(fps))
	var (
		mu       sync.Mutex
		failures []*RasterError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, fp := range fps {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			start := time.Now()
			cells, err := Partition(fp, opts)
			if err != nil {
				err = partitionFailure(fp, err, time.Since(start))
				p.recordFailure(fp, err)
				mu.Lock()
				failures = append(failures, &RasterError{RasterID: fp.RasterID, Path: fp.Path, Err: err})
				mu.Unlock()
				return nil
			}

			perRaster[i] = cells
			if p.metrics != nil {
				p.metrics.RecordPartition(string(opts.Shape), len(cells), time.Since(start).Seconds())
			}
			p.log.Debug("footprint partitioned",
				logger.String("raster", fp.RasterID),
				logger.String("shape", string(opts.Shape)),
				logger.Int("cells", len(cells)),
				logger.Duration("elapsed", time.Since(start)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &BatchResult{Failures: failures}
	for _, cells := range perRaster {
		if len(cells) > 0 {
			result.Rasters++
		}
		result.Cells = append(result.Cells, cells...)
	}
	sortFailures(result.Failures)
	return result, nil
}

// Run reads the footprint of every raster path and partitions them. Rasters
// that cannot be read are reported as failures alongside partition errors.
func (p *Partitioner) Run(ctx context.Context, rasterPaths []string, opts Options) (*BatchResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	fps := make([]footprint.Footprint, len(rasterPaths))
	ok := make([]bool, len(rasterPaths))
	var (
		mu       sync.Mutex
		failures []*RasterError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, path := range rasterPaths {
		g.Go(func() error {
			fp, err := p.reader.Footprint(gctx, path)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				fp = footprint.Footprint{RasterID: footprint.RasterID(path), Path: path}
				p.recordFailure(fp, err)
				mu.Lock()
				failures = append(failures, &RasterError{RasterID: fp.RasterID, Path: path, Err: err})
				mu.Unlock()
				return nil
			}
			fps[i] = fp
			ok[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	readable := make([]footprint.Footprint, 0, len(fps))
	for i, fp := range fps {
		if ok[i] {
			readable = append(readable, fp)
		}
	}

	result, err := p.PartitionAll(ctx, readable, opts)
	if err != nil {
		return nil, err
	}
	result.Failures = append(result.Failures, failures...)
	sortFailures(result.Failures)
	return result, nil
}

// partitionFailure records how long a raster ran before it was rejected.
func partitionFailure(fp footprint.Footprint, err error, elapsed time.Duration) error {
	return errors.New(err).
		Component("fishnet").
		Timing("partition", elapsed).
		Context("raster", fp.RasterID).
		Build()
}

func (p *Partitioner) recordFailure(fp footprint.Footprint, err error) {
	if p.metrics != nil {
		p.metrics.RecordRasterFailure(failureReason(err))
	}
	p.log.Warn("raster skipped",
		logger.String("raster", fp.RasterID),
		logger.String("reason", failureReason(err)),
		logger.Error(err))
}
