package review

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/spf13/afero"

	"github.com/gaia-review/gaia/internal/datastore/entities"
	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/events"
	"github.com/gaia-review/gaia/internal/logger"
)

// ImportOptions controls ImportPoints. Zero VendorID or EPSG are taken
// from the file name.
type ImportOptions struct {
	ProjectID uint
	VendorID  string
	EPSG      int
}

// ImportResult summarises one imported detection file.
type ImportResult struct {
	VendorID string
	EPSG     int
	Points   int
	Affected int64
}

// ParseDetectionFileName extracts the source image and EPSG code from a
// detection file named <vendor>_mr<epsg>_<suffix>.geojson. The vendor id may
// itself contain underscores.
func ParseDetectionFileName(path string) (string, int, error) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.Split(base, "_")
	if len(parts) < 3 {
		return "", 0, importError(path, "file name is not <vendor>_mr<epsg>_<suffix>")
	}

	vendor := strings.Join(parts[:len(parts)-2], "_")
	code := parts[len(parts)-2]
	if !strings.HasPrefix(code, "mr") {
		return "", 0, importError(path, "missing mr<epsg> segment")
	}
	epsg, err := strconv.Atoi(strings.TrimPrefix(code, "mr"))
	if err != nil || epsg <= 0 {
		return "", 0, importError(path, "invalid EPSG code "+code)
	}
	return vendor, epsg, nil
}

// ImportPoints loads a detection FeatureCollection as points of interest.
// Features are keyed by their id property, so importing the same file twice
// updates geometry and metrics without touching review state.
func (e *Engine) ImportPoints(ctx context.Context, path string, opts ImportOptions) (*ImportResult, error) {
	vendor, epsg := opts.VendorID, opts.EPSG
	if vendor == "" || epsg == 0 {
		v, code, err := ParseDetectionFileName(path)
		if err != nil {
			return nil, err
		}
		if vendor == "" {
			vendor = v
		}
		if epsg == 0 {
			epsg = code
		}
	}

	data, err := afero.ReadFile(e.fs, path)
	if err != nil {
		return nil, errors.FileError(fmt.Errorf("import %s: %w", filepath.Base(path), err), path, 0)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, importError(path, "decode: "+err.Error())
	}

	pois := make([]entities.PointOfInterest, 0, len(fc.Features))
	for i, f := range fc.Features {
		poi, err := detection(f, i)
		if err != nil {
			return nil, importError(path, err.Error())
		}
		poi.ProjectID = opts.ProjectID
		poi.VendorID = vendor
		poi.EPSG = epsg
		pois = append(pois, poi)
	}

	affected, err := e.pois.Upsert(ctx, pois)
	if err != nil {
		return nil, wrap(err, "import_points", "path", path)
	}

	result := &ImportResult{VendorID: vendor, EPSG: epsg, Points: len(pois), Affected: affected}
	e.log.WithContext(ctx).Info("points imported",
		logger.String("path", path),
		logger.String("vendor_id", vendor),
		logger.Int("epsg", epsg),
		logger.Int("points", len(pois)))

	if len(pois) > 0 {
		e.publish(ctx, events.SourceImageRegistered{
			VendorID:  vendor,
			ProjectID: opts.ProjectID,
			EPSG:      epsg,
			Source:    events.SourceImport,
			Points:    len(pois),
		})
	}
	return result, nil
}

// detection converts one feature. Non-point geometries are reduced to their
// centroid.
func detection(f *geojson.Feature, index int) (entities.PointOfInterest, error) {
	var poi entities.PointOfInterest
	if f.Geometry == nil {
		return poi, fmt.Errorf("feature %d has no geometry", index)
	}

	var pt orb.Point
	switch g := f.Geometry.(type) {
	case orb.Point:
		pt = g
	default:
		pt, _ = planar.CentroidArea(g)
	}
	poi.Point = entities.NewGeometry(pt)

	sample := sampleID(f, index)
	poi.SampleIdx = &sample

	if v, ok := f.Properties["area"].(float64); ok {
		poi.Area = &v
	}
	if v, ok := f.Properties["deviation"].(float64); ok {
		poi.Deviation = &v
	}
	return poi, nil
}

func sampleID(f *geojson.Feature, index int) string {
	for _, v := range []any{f.Properties["id"], f.ID} {
		switch id := v.(type) {
		case string:
			if id != "" {
				return id
			}
		case float64:
			return strconv.FormatFloat(id, 'f', -1, 64)
		}
	}
	return strconv.Itoa(index)
}

func importError(path, msg string) error {
	return errors.Newf("import %s: %s", filepath.Base(path), msg).
		Component("review").
		Category(errors.CategoryValidation).
		Context("path", path).
		Build()
}
