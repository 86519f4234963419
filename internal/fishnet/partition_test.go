package fishnet

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/footprint"
	"github.com/gaia-review/gaia/internal/logger"
	"github.com/gaia-review/gaia/internal/observability/metrics"
	"github.com/gaia-review/gaia/internal/spatial"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var utm33, _ = spatial.LookupEPSG(32633)

func rectFootprint(id string, minX, minY, maxX, maxY float64) footprint.Footprint {
	return footprint.Footprint{
		RasterID: id,
		CRS:      utm33,
		Polygon:  orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}.ToPolygon(),
	}
}

func quietLogger() logger.Logger {
	return logger.NewWriterLogger(io.Discard, logger.LogLevelError)
}

func TestPartitionRectangleThreeByTwo(t *testing.T) {
	t.Parallel()

	fp := rectFootprint("scene", 0, 0, 1000, 1200)
	cells, err := Partition(fp, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, cells, 6)

	origins := make(map[orb.Point]bool)
	for i, c := range cells {
		assert.Equal(t, "scene", c.RasterID)
		assert.Equal(t, i, c.Index)
		assert.Equal(t, ShapeRectangle, c.Shape)

		b := c.Polygon.Bound()
		assert.InDelta(t, 400.0, b.Max[0]-b.Min[0], 1e-9)
		assert.InDelta(t, 600.0, b.Max[1]-b.Min[1], 1e-9)
		assert.InDelta(t, 240000.0, spatial.Area(c.Polygon), 1e-6)
		origins[b.Min] = true
	}

	for _, x := range []float64{0, 400, 800} {
		for _, y := range []float64{0, 600} {
			assert.True(t, origins[orb.Point{x, y}], "missing cell at (%v,%v)", x, y)
		}
	}

	// Cells tile without overlap: pairwise interiors are disjoint.
	for i := range cells {
		for j := i + 1; j < len(cells); j++ {
			a, b := cells[i].Polygon.Bound(), cells[j].Polygon.Bound()
			ix := math.Min(a.Max[0], b.Max[0]) - math.Max(a.Min[0], b.Min[0])
			iy := math.Min(a.Max[1], b.Max[1]) - math.Max(a.Min[1], b.Min[1])
			assert.False(t, ix > 0 && iy > 0, "cells %d and %d overlap", i, j)
		}
	}
}

func TestPartitionCoverage(t *testing.T) {
	t.Parallel()

	// Non axis-aligned footprint so some bbox cells fall outside it.
	fp := footprint.Footprint{
		RasterID: "tilted",
		CRS:      utm33,
		Polygon: orb.Polygon{orb.Ring{
			{1000, 0}, {3000, 1000}, {2000, 3000}, {0, 2000}, {1000, 0},
		}},
	}

	opts := Options{CellWidth: 250, CellHeight: 300, Shape: ShapeRectangle}
	cells, err := Partition(fp, opts)
	require.NoError(t, err)
	require.NotEmpty(t, cells)

	for _, c := range cells {
		assert.True(t, spatial.Intersects(c.Polygon, fp.Polygon), "cell %d does not touch the footprint", c.Index)
	}

	// Every sampled point in the footprint lies in some retained cell.
	b := fp.Polygon.Bound()
	for x := b.Min[0]; x <= b.Max[0]; x += 37 {
		for y := b.Min[1]; y <= b.Max[1]; y += 41 {
			p := orb.Point{x, y}
			if !planar.PolygonContains(fp.Polygon, p) {
				continue
			}
			covered := false
			for _, c := range cells {
				if planar.PolygonContains(c.Polygon, p) {
					covered = true
					break
				}
			}
			assert.True(t, covered, "point %v not covered", p)
		}
	}

	// Fewer cells than the full bounding box grid.
	full := int(math.Ceil(3000/250.0)) * int(math.Ceil(3000/300.0))
	assert.Less(t, len(cells), full)
}

func TestPartitionRejectsGeographicCRS(t *testing.T) {
	t.Parallel()

	fp := rectFootprint("geo", 10, 50, 11, 51)
	fp.CRS = spatial.WGS84

	cells, err := Partition(fp, DefaultOptions())
	require.ErrorIs(t, err, ErrInvalidCRS)
	assert.Nil(t, cells)
	assert.True(t, errors.IsCategory(err, errors.CategoryCRS))

	var crsErr *InvalidCRSError
	require.ErrorAs(t, err, &crsErr)
	assert.Equal(t, "geo", crsErr.RasterID)

	fp.CRS = spatial.CRS{EPSG: 2263, Unit: spatial.UnitUSFoot}
	_, err = Partition(fp, DefaultOptions())
	require.ErrorIs(t, err, ErrInvalidCRS)
}

func TestPartitionEmptyFootprint(t *testing.T) {
	t.Parallel()

	for name, poly := range map[string]orb.Polygon{
		"no rings":  {},
		"line":      {orb.Ring{{0, 0}, {10, 0}, {0, 0}}},
		"zero area": {orb.Ring{{0, 0}, {10, 0}, {20, 0}, {0, 0}}},
	} {
		fp := footprint.Footprint{RasterID: name, CRS: utm33, Polygon: poly}
		_, err := Partition(fp, DefaultOptions())
		require.ErrorIs(t, err, ErrEmptyFootprint, name)
	}
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultOptions().Validate())

	bad := []Options{
		{CellWidth: 0, CellHeight: 600, Shape: ShapeRectangle},
		{CellWidth: 400, CellHeight: -1, Shape: ShapeRectangle},
		{CellWidth: 400, CellHeight: 600, Buffer: -5, Shape: ShapeRectangle},
		{CellWidth: 400, CellHeight: 600, Shape: "triangle"},
		{CellWidth: math.NaN(), CellHeight: 600, Shape: ShapeRectangle},
	}
	for _, opts := range bad {
		err := opts.Validate()
		require.Error(t, err, "%+v", opts)
		assert.True(t, errors.IsValidation(err))
	}
}

func TestParseShape(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Shape{"": ShapeRectangle, "rectangle": ShapeRectangle, "HEX": ShapeHexagon, "hexagon": ShapeHexagon} {
		got, err := ParseShape(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseShape("circle")
	require.Error(t, err)
}

func TestPartitionBufferExpandsGrid(t *testing.T) {
	t.Parallel()

	fp := rectFootprint("buffered", 0, 0, 1000, 1200)
	opts := DefaultOptions()
	opts.Buffer = 100

	cells, err := Partition(fp, opts)
	require.NoError(t, err)

	// Padded bound is (-100,-100)-(1100,1300).
	xs := map[float64]bool{}
	ys := map[float64]bool{}
	for _, c := range cells {
		b := c.Polygon.Bound()
		xs[b.Min[0]] = true
		ys[b.Min[1]] = true
	}
	assert.Equal(t, map[float64]bool{-100: true, 300: true, 700: true}, xs)
	assert.Equal(t, map[float64]bool{-100: true, 500: true, 1100: true}, ys)
	assert.Len(t, cells, 9)
}

func TestPartitionHexagon(t *testing.T) {
	t.Parallel()

	fp := rectFootprint("hex", 0, 0, 1000, 1200)
	opts := Options{CellWidth: 400, CellHeight: 400, Shape: ShapeHexagon}

	cells, err := Partition(fp, opts)
	require.NoError(t, err)
	require.NotEmpty(t, cells)

	wantArea := 3 * math.Sqrt(3) / 2 * 200 * 200
	for _, c := range cells {
		require.Len(t, c.Polygon, 1)
		require.Len(t, c.Polygon[0], 7)
		assert.True(t, c.Polygon[0].Closed())
		assert.InDelta(t, wantArea, spatial.Area(c.Polygon), 1e-6)
		assert.True(t, spatial.Intersects(c.Polygon, fp.Polygon))
		assert.Equal(t, ShapeHexagon, c.Shape)
	}

	// With height equal to width the columns interlock: the footprint
	// interior is covered.
	for _, p := range []orb.Point{{1, 1}, {500, 600}, {999, 1199}, {250, 900}} {
		covered := false
		for _, c := range cells {
			if planar.PolygonContains(c.Polygon, p) {
				covered = true
				break
			}
		}
		assert.True(t, covered, "point %v not covered", p)
	}
}

func TestHexagonVertices(t *testing.T) {
	t.Parallel()

	h := hexagon(0, 0, 1)
	assert.InDelta(t, 1.0, h[0][0][0], 1e-12)
	assert.InDelta(t, 0.0, h[0][0][1], 1e-12)
	assert.InDelta(t, 0.5, h[0][1][0], 1e-12)
	assert.InDelta(t, math.Sqrt(3)/2, h[0][1][1], 1e-12)
	assert.InDelta(t, -1.0, h[0][3][0], 1e-12)
}

func TestPartitionAllReportsPerRasterFailures(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := metrics.NewFishnetMetrics(registry)
	require.NoError(t, err)

	geo := rectFootprint("b-geographic", 10, 50, 11, 51)
	geo.CRS = spatial.WGS84

	fps := []footprint.Footprint{
		rectFootprint("a-good", 0, 0, 1000, 1200),
		geo,
		{RasterID: "c-empty", CRS: utm33},
		rectFootprint("d-good", 5000, 5000, 5400, 5600),
	}

	p := NewPartitioner(nil, WithConcurrency(2), WithMetrics(m), WithLogger(quietLogger()))
	result, err := p.PartitionAll(context.Background(), fps, DefaultOptions())
	require.NoError(t, err)

	assert.Len(t, result.Cells, 7)
	assert.Equal(t, 2, result.Rasters)
	require.Len(t, result.Failures, 2)
	assert.Equal(t, "b-geographic", result.Failures[0].RasterID)
	require.ErrorIs(t, result.Failures[0], ErrInvalidCRS)
	assert.Equal(t, "c-empty", result.Failures[1].RasterID)
	require.ErrorIs(t, result.Failures[1], ErrEmptyFootprint)
	assert.True(t, errors.IsCategory(result.Failures[0], errors.CategoryCRS))
	assert.True(t, errors.IsCategory(result.Failures[1], errors.CategoryGeometry))

	var timed *errors.EnhancedError
	require.ErrorAs(t, result.Failures[0], &timed)
	assert.Equal(t, "partition", timed.GetContext()["operation"])
	assert.Contains(t, timed.GetContext(), "duration_ms")
	assert.Equal(t, "b-geographic", timed.GetContext()["raster"])

	// Cells keep input raster order.
	assert.Equal(t, "a-good", result.Cells[0].RasterID)
	assert.Equal(t, "d-good", result.Cells[6].RasterID)

	expected := `
# HELP fishnet_raster_failures_total Rasters that could not be partitioned
# TYPE fishnet_raster_failures_total counter
fishnet_raster_failures_total{reason="empty_footprint"} 1
fishnet_raster_failures_total{reason="invalid_crs"} 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "fishnet_raster_failures_total"))
}

func TestPartitionAllCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPartitioner(nil, WithLogger(quietLogger()))
	_, err := p.PartitionAll(ctx, []footprint.Footprint{rectFootprint("x", 0, 0, 10, 10)}, DefaultOptions())
	require.ErrorIs(t, err, context.Canceled)
}

type mapReader map[string]footprint.Footprint

func (m mapReader) Footprint(_ context.Context, path string) (footprint.Footprint, error) {
	fp, ok := m[path]
	if !ok {
		return footprint.Footprint{}, &footprint.UnreadableRasterError{Path: path, Err: fmt.Errorf("no such file")}
	}
	return fp, nil
}

func TestRunReadsFootprints(t *testing.T) {
	t.Parallel()

	reader := mapReader{
		"/imagery/one.tif": rectFootprint("one", 0, 0, 800, 600),
	}
	p := NewPartitioner(reader, WithLogger(quietLogger()))

	result, err := p.Run(context.Background(), []string{"/imagery/one.tif", "/imagery/missing.tif"}, DefaultOptions())
	require.NoError(t, err)

	assert.Len(t, result.Cells, 2)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "missing", result.Failures[0].RasterID)
	require.ErrorIs(t, result.Failures[0], footprint.ErrUnreadableRaster)
	assert.Equal(t, "unreadable", failureReason(result.Failures[0]))
}

func TestFeatureCollection(t *testing.T) {
	t.Parallel()

	fp := footprint.Footprint{
		RasterID: "utm",
		CRS:      utm33,
		Polygon:  orb.Bound{Min: orb.Point{500000, 0}, Max: orb.Point{500800, 600}}.ToPolygon(),
	}
	cells, err := Partition(fp, DefaultOptions())
	require.NoError(t, err)

	native, err := FeatureCollection(cells, false)
	require.NoError(t, err)
	require.Len(t, native.Features, 2)
	assert.Equal(t, "utm", native.Features[0].Properties["raster_id"])
	assert.Contains(t, native.ExtraMembers, "crs")

	display, err := FeatureCollection(cells, true)
	require.NoError(t, err)
	poly, ok := display.Features[0].Geometry.(orb.Polygon)
	require.True(t, ok)
	assert.InDelta(t, 15.0, poly[0][0][0], 1e-9)
	assert.NotContains(t, display.ExtraMembers, "crs")

	data, err := display.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"shape":"rectangle"`)
}

func TestFeatureCollectionMixedCRS(t *testing.T) {
	t.Parallel()

	utm32, ok := spatial.LookupEPSG(32632)
	require.True(t, ok)
	west := rectFootprint("west", 500000, 0, 500800, 600)
	west.CRS = utm32
	east := rectFootprint("east", 500000, 0, 500800, 600)

	p := NewPartitioner(nil, WithLogger(quietLogger()))
	result, err := p.PartitionAll(context.Background(), []footprint.Footprint{west, east}, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, result.Cells, 4)

	_, err = FeatureCollection(result.Cells, false)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCRS))

	single, err := FeatureCollection(result.Cells[2:], false)
	require.NoError(t, err)
	crs, ok := single.ExtraMembers["crs"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, utm33.URN(), crs["properties"].(map[string]any)["name"])

	display, err := FeatureCollection(result.Cells, true)
	require.NoError(t, err)
	assert.Len(t, display.Features, 4)
}
