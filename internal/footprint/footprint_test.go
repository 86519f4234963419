package footprint

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/logger"
)

const utm33WKT = `PROJCS["WGS 84 / UTM zone 33N",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],` +
	`UNIT["degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],UNIT["metre",1],AUTHORITY["EPSG","32633"]]`

const footprintGeoJSON = `{"type":"FeatureCollection",
"crs":{"type":"name","properties":{"name":"urn:ogc:def:crs:EPSG::32633"}},
"features":[{"type":"Feature","properties":{},"geometry":{"type":"Polygon",
"coordinates":[[[500000,0],[501000,0],[501000,1200],[500000,1200],[500000,0]]]}}]}`

// fakeRunner answers gdalinfo with canned JSON and writes the footprint file
// gdal_footprint would produce.
type fakeRunner struct {
	info      string
	footprint string
	err       error
	calls     [][]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.err != nil {
		return nil, f.err
	}
	switch filepath.Base(name) {
	case "gdalinfo":
		return []byte(f.info), nil
	case "gdal_footprint":
		out := args[len(args)-1]
		return nil, os.WriteFile(out, []byte(f.footprint), 0o600)
	}
	return nil, fmt.Errorf("unexpected command %s", name)
}

func writeRaster(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("II*\x00"), 0o600))
	return path
}

func newTestReader(runner Runner) *GDALReader {
	r := NewGDALReader("", "", 0, logger.NewWriterLogger(io.Discard, logger.LogLevelError))
	r.Runner = runner
	return r
}

func TestRasterID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "104001008B6BC300_P1BS", RasterID("/data/104001008B6BC300_P1BS.tif"))
	assert.Equal(t, "scene", RasterID("scene.TIFF"))
	assert.Equal(t, "scene.vrt", RasterID("scene.vrt"))
}

func TestGDALReaderFootprint(t *testing.T) {
	t.Parallel()

	raster := writeRaster(t, "scene_P1BS.tif")
	runner := &fakeRunner{
		info:      fmt.Sprintf(`{"coordinateSystem":{"wkt":%q},"stac":{"proj:epsg":32633}}`, utm33WKT),
		footprint: footprintGeoJSON,
	}

	fp, err := newTestReader(runner).Footprint(context.Background(), raster)
	require.NoError(t, err)

	assert.Equal(t, "scene_P1BS", fp.RasterID)
	assert.Equal(t, 32633, fp.CRS.EPSG)
	assert.True(t, fp.CRS.IsMetric())
	require.Len(t, fp.Polygon, 1)
	assert.Len(t, fp.Polygon[0], 5)

	require.Len(t, runner.calls, 2)
	assert.Equal(t, []string{"gdalinfo", "-json", raster}, runner.calls[0])
	assert.Contains(t, runner.calls[1], "-srcnodata")
	assert.Contains(t, runner.calls[1], "EPSG:32633")
}

func TestGDALReaderGeographicRaster(t *testing.T) {
	t.Parallel()

	raster := writeRaster(t, "geo.tif")
	wkt := `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],UNIT["degree",0.0174532925199433],AUTHORITY["EPSG","4326"]]`
	runner := &fakeRunner{
		info:      fmt.Sprintf(`{"coordinateSystem":{"wkt":%q}}`, wkt),
		footprint: `{"type":"Polygon","coordinates":[[[10,10],[11,10],[11,11],[10,10]]]}`,
	}

	fp, err := newTestReader(runner).Footprint(context.Background(), raster)
	require.NoError(t, err)
	assert.Equal(t, 4326, fp.CRS.EPSG)
	assert.False(t, fp.CRS.IsMetric())
}

func TestGDALReaderUnreadable(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := newTestReader(&fakeRunner{}).Footprint(context.Background(), filepath.Join(t.TempDir(), "nope.tif"))
		require.ErrorIs(t, err, ErrUnreadableRaster)
		assert.True(t, errors.IsCategory(err, errors.CategoryRaster))

		var ee *errors.EnhancedError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, "tif", ee.GetContext()["file_extension"])
		assert.Equal(t, "absolute-path", ee.GetContext()["file_type"])
	})

	t.Run("gdal failure", func(t *testing.T) {
		t.Parallel()
		raster := writeRaster(t, "corrupt.tif")
		_, err := newTestReader(&fakeRunner{err: fmt.Errorf("not a TIFF")}).Footprint(context.Background(), raster)
		require.ErrorIs(t, err, ErrUnreadableRaster)

		var ure *UnreadableRasterError
		require.ErrorAs(t, err, &ure)
		assert.Equal(t, raster, ure.Path)
	})

	t.Run("not georeferenced", func(t *testing.T) {
		t.Parallel()
		raster := writeRaster(t, "plain.tif")
		_, err := newTestReader(&fakeRunner{info: `{"coordinateSystem":{"wkt":""}}`}).Footprint(context.Background(), raster)
		require.ErrorIs(t, err, ErrUnreadableRaster)
	})

	t.Run("line footprint", func(t *testing.T) {
		t.Parallel()
		raster := writeRaster(t, "line.tif")
		runner := &fakeRunner{
			info:      fmt.Sprintf(`{"coordinateSystem":{"wkt":%q}}`, utm33WKT),
			footprint: `{"type":"LineString","coordinates":[[0,0],[1,1]]}`,
		}
		_, err := newTestReader(runner).Footprint(context.Background(), raster)
		require.ErrorIs(t, err, ErrUnreadableRaster)
	})
}

func TestGeoJSONReader(t *testing.T) {
	t.Parallel()

	raster := writeRaster(t, "sidecar.tif")
	require.NoError(t, os.WriteFile(raster+SidecarSuffix, []byte(footprintGeoJSON), 0o600))

	fp, err := GeoJSONReader{}.Footprint(context.Background(), raster)
	require.NoError(t, err)
	assert.Equal(t, "sidecar", fp.RasterID)
	assert.Equal(t, 32633, fp.CRS.EPSG)
	assert.Equal(t, "metre", fp.CRS.Unit)

	_, err = GeoJSONReader{}.Footprint(context.Background(), filepath.Join(t.TempDir(), "none.tif"))
	require.ErrorIs(t, err, ErrUnreadableRaster)
}

func TestParseFootprintMultiPolygon(t *testing.T) {
	t.Parallel()

	data := `{"type":"Feature","properties":{},"geometry":{"type":"MultiPolygon","coordinates":[
[[[0,0],[1,0],[1,1],[0,1],[0,0]]],
[[[10,10],[20,10],[20,20],[10,20],[10,10]]]]}}`

	fp, err := parseFootprintGeoJSON([]byte(data))
	require.NoError(t, err)
	assert.InDelta(t, 10.0, fp.Polygon[0][0][0], 0)
	assert.Equal(t, 4326, fp.CRS.EPSG)
}

func TestEPSGFromURN(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]int{
		"urn:ogc:def:crs:EPSG::32633":   32633,
		"EPSG:3857":                     3857,
		"urn:ogc:def:crs:OGC:1.3:CRS84": 4326,
	} {
		got, err := epsgFromURN(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := epsgFromURN("local")
	require.Error(t, err)
}
