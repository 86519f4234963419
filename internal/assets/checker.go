package assets

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gaia-review/gaia/internal/conf"
	"github.com/gaia-review/gaia/internal/logger"
	"github.com/gaia-review/gaia/internal/observability/metrics"
)

// CacheKeyPrefix prefixes every existence cache key.
const CacheKeyPrefix = "cog_existence_"

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithCache replaces the default in-memory cache.
func WithCache(c Cache) CheckerOption {
	return func(ch *Checker) { ch.cache = c }
}

// WithPrefix sets the listing prefix.
func WithPrefix(prefix string) CheckerOption {
	return func(ch *Checker) { ch.prefix = prefix }
}

// WithTTL sets how long existence results are kept.
func WithTTL(ttl time.Duration) CheckerOption {
	return func(ch *Checker) {
		if ttl > 0 {
			ch.ttl = ttl
		}
	}
}

// WithMetrics records cache and listing metrics.
func WithMetrics(m *metrics.AssetMetrics) CheckerOption {
	return func(ch *Checker) { ch.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) CheckerOption {
	return func(ch *Checker) { ch.log = l }
}

// Checker reports whether a viewable COG exists for a source image.
// Results, positive and negative, are cached for the TTL. Listing errors
// are never cached.
type Checker struct {
	lister  Lister
	cache   Cache
	prefix  string
	ttl     time.Duration
	metrics *metrics.AssetMetrics
	log     logger.Logger
	group   singleflight.Group
}

// NewChecker returns a checker listing through lister.
func NewChecker(lister Lister, opts ...CheckerOption) *Checker {
	c := &Checker{
		lister: lister,
		prefix: conf.DefaultAssetPrefix,
		ttl:    conf.DefaultAssetCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = NewMemoryCache(c.ttl)
	}
	if c.log == nil {
		c.log = logger.Global().Module("assets")
	}
	return c
}

// COGName maps a vendor id to the id its COG is stored under. Panchromatic
// captures (P1BS) are rendered from the matching S1BS product.
func COGName(vendorID string) string {
	return strings.ReplaceAll(vendorID, "P1BS", "S1BS")
}

// Viewable returns the name of the COG for vendorID and whether one exists.
func (c *Checker) Viewable(ctx context.Context, vendorID string) (string, bool, error) {
	key := CacheKeyPrefix + vendorID

	cached, found, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		c.recordCache(metrics.LabelError)
		c.log.Warn("existence cache read failed",
			logger.String("vendor_id", vendorID),
			logger.Error(err))
	case found:
		c.recordCache(metrics.LabelHit)
		return cached, cached != "", nil
	default:
		c.recordCache(metrics.LabelMiss)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.lookup(ctx, vendorID)
	})
	if err != nil {
		return "", false, err
	}
	name, _ := v.(string)

	if err := c.cache.Set(ctx, key, name, c.ttl); err != nil {
		c.log.Warn("existence cache write failed",
			logger.String("vendor_id", vendorID),
			logger.Error(err))
	}
	return name, name != "", nil
}

func (c *Checker) lookup(ctx context.Context, vendorID string) (string, error) {
	cogID := COGName(vendorID)
	start := time.Now()

	names, err := c.lister.List(ctx, c.prefix)
	status := metrics.LabelSuccess
	if err != nil {
		status = metrics.LabelError
	}
	if c.metrics != nil {
		c.metrics.RecordListing(c.lister.Name(), status, time.Since(start).Seconds())
	}
	if err != nil {
		c.log.Error("COG listing failed",
			logger.String("backend", c.lister.Name()),
			logger.String("vendor_id", vendorID),
			logger.Error(err))
		return "", err
	}

	for _, name := range names {
		if strings.Contains(name, cogID) {
			return name, nil
		}
	}
	c.log.Debug("no COG for source image",
		logger.String("vendor_id", vendorID),
		logger.Int("listed", len(names)))
	return "", nil
}

func (c *Checker) recordCache(result string) {
	if c.metrics != nil {
		c.metrics.RecordCacheOperation(result)
	}
}
