package assets

import (
	"context"
	"io"
	"math"

	"golang.org/x/time/rate"

	"github.com/gaia-review/gaia/internal/errors"
)

type rateLimited struct {
	Lister
	limiter *rate.Limiter
}

// RateLimited bounds the rate of List calls against l. A non-positive rate
// returns l unchanged.
func RateLimited(l Lister, perSecond float64) Lister {
	if perSecond <= 0 {
		return l
	}
	burst := max(1, int(math.Ceil(perSecond)))
	return &rateLimited{Lister: l, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *rateLimited) List(ctx context.Context, prefix string) ([]string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, errors.New(err).
			Component("assets").
			Category(errors.CategoryLimit).
			Context("backend", r.Name()).
			Context("operation", "rate_limit_wait").
			Build()
	}
	return r.Lister.List(ctx, prefix)
}

// Close closes the wrapped lister when it holds a connection.
func (r *rateLimited) Close() error {
	if c, ok := r.Lister.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
