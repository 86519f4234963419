// Package footprint extracts the valid-data outline and coordinate reference
// system of georeferenced rasters.
package footprint

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"

	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/spatial"
)

// Footprint is the valid-data outline of one raster in the raster's own CRS.
type Footprint struct {
	RasterID string
	Path     string
	Polygon  orb.Polygon
	CRS      spatial.CRS
}

// Reader returns the footprint of a raster file.
type Reader interface {
	Footprint(ctx context.Context, rasterPath string) (Footprint, error)
}

// ErrUnreadableRaster is matched by every UnreadableRasterError.
var ErrUnreadableRaster = errors.NewStd("unreadable raster")

// UnreadableRasterError reports a missing or corrupt raster.
type UnreadableRasterError struct {
	Path string
	Err  error
}

func (e *UnreadableRasterError) Error() string {
	return fmt.Sprintf("unreadable raster %s: %v", e.Path, e.Err)
}

func (e *UnreadableRasterError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrUnreadableRaster.
func (e *UnreadableRasterError) Is(target error) bool { return target == ErrUnreadableRaster }

// ErrorCategory implements errors.CategorizedError.
func (e *UnreadableRasterError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryRaster
}

func unreadable(path string, err error) error {
	return errors.New(&UnreadableRasterError{Path: path, Err: err}).
		Component("footprint").
		Category(errors.CategoryRaster).
		Context("raster", filepath.Base(path)).
		FileContext(path, 0).
		Build()
}

// RasterID returns the vendor identifier of a raster: its base name without
// the GeoTIFF extension.
func RasterID(path string) string {
	base := filepath.Base(path)
	lower := strings.ToLower(base)
	for _, ext := range []string{".tiff", ".tif"} {
		if strings.HasSuffix(lower, ext) {
			return base[:len(base)-len(ext)]
		}
	}
	return base
}

// largestPolygon collapses a footprint geometry to its largest polygon.
// gdal_footprint emits a MultiPolygon when the valid area is fragmented.
func largestPolygon(g orb.Geometry) (orb.Polygon, bool) {
	switch geom := g.(type) {
	case orb.Polygon:
		return geom, true
	case orb.MultiPolygon:
		var best orb.Polygon
		bestArea := -1.0
		for _, p := range geom {
			if a := spatial.Area(p); a > bestArea {
				best, bestArea = p, a
			}
		}
		return best, best != nil
	case orb.Bound:
		return geom.ToPolygon(), true
	}
	return nil, false
}
