package fishnet

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/footprint"
	"github.com/gaia-review/gaia/internal/spatial"
)

// Sentinels matched by the typed errors below.
var (
	ErrInvalidCRS     = errors.NewStd("footprint CRS is not metre based")
	ErrEmptyFootprint = errors.NewStd("footprint is empty")
)

// InvalidCRSError rejects footprints whose CRS is not measured in metres.
type InvalidCRSError struct {
	RasterID string
	CRS      spatial.CRS
}

func (e *InvalidCRSError) Error() string {
	unit := e.CRS.Unit
	if unit == "" {
		unit = "unknown"
	}
	return fmt.Sprintf("raster %s: %s uses %s units, fishnet needs a metre-based projection", e.RasterID, e.CRS, unit)
}

// Is lets errors.Is match ErrInvalidCRS.
func (e *InvalidCRSError) Is(target error) bool { return target == ErrInvalidCRS }

// ErrorCategory implements errors.CategorizedError.
func (e *InvalidCRSError) ErrorCategory() errors.ErrorCategory { return errors.CategoryCRS }

// EmptyFootprintError rejects footprints with no usable area.
type EmptyFootprintError struct {
	RasterID string
}

func (e *EmptyFootprintError) Error() string {
	return fmt.Sprintf("raster %s: footprint has no area", e.RasterID)
}

// Is lets errors.Is match ErrEmptyFootprint.
func (e *EmptyFootprintError) Is(target error) bool { return target == ErrEmptyFootprint }

// ErrorCategory implements errors.CategorizedError.
func (e *EmptyFootprintError) ErrorCategory() errors.ErrorCategory { return errors.CategoryGeometry }

func invalidCRS(fp footprint.Footprint) error {
	return errors.New(&InvalidCRSError{RasterID: fp.RasterID, CRS: fp.CRS}).
		Component("fishnet").
		Category(errors.CategoryCRS).
		Context("raster", fp.RasterID).
		Context("epsg", fp.CRS.EPSG).
		Build()
}

func emptyFootprint(fp footprint.Footprint) error {
	return errors.New(&EmptyFootprintError{RasterID: fp.RasterID}).
		Component("fishnet").
		Category(errors.CategoryGeometry).
		Context("raster", fp.RasterID).
		Build()
}

// RasterError is one raster's failure within a batch.
type RasterError struct {
	RasterID string
	Path     string
	Err      error
}

func (e *RasterError) Error() string {
	return fmt.Sprintf("raster %s: %v", e.RasterID, e.Err)
}

func (e *RasterError) Unwrap() error { return e.Err }

// Reason is a short label for the failure: invalid_crs, empty_footprint,
// unreadable or other.
func (e *RasterError) Reason() string { return failureReason(e.Err) }

// failureReason maps an error to the metric label for raster failures.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCRS):
		return "invalid_crs"
	case errors.Is(err, ErrEmptyFootprint):
		return "empty_footprint"
	case errors.Is(err, footprint.ErrUnreadableRaster):
		return "unreadable"
	}
	return "other"
}

func sortFailures(failures []*RasterError) {
	slices.SortFunc(failures, func(a, b *RasterError) int {
		if c := cmp.Compare(a.RasterID, b.RasterID); c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})
}
