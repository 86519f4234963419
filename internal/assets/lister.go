// Package assets answers whether a cloud-optimized GeoTIFF exists for a
// source image, listing one of several object stores and caching results.
package assets

import (
	"context"
	"strings"

	"github.com/gaia-review/gaia/internal/errors"
)

// Lister lists object names that start with prefix. Names are returned
// relative to the store root, with forward slashes.
type Lister interface {
	List(ctx context.Context, prefix string) ([]string, error)
	// Name identifies the backend in metrics and logs.
	Name() string
}

// splitPrefix splits a listing prefix into its directory part, including
// the trailing slash, and the leaf.
func splitPrefix(prefix string) (dir, leaf string) {
	i := strings.LastIndex(prefix, "/")
	if i < 0 {
		return "", prefix
	}
	return prefix[:i+1], prefix[i+1:]
}

// filterNames keeps file names in dir that carry prefix once joined.
func filterNames(dir, prefix string, names []string) []string {
	var out []string
	for _, name := range names {
		full := dir + name
		if strings.HasPrefix(full, prefix) {
			out = append(out, full)
		}
	}
	return out
}

func storeError(err error, backend, operation string) error {
	return errors.New(err).
		Component("assets").
		Category(errors.CategoryObjectStore).
		Context("backend", backend).
		Context("operation", operation).
		Build()
}
