package fishnet

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-review/gaia/internal/conf"
	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/footprint"
)

const utmFootprint = `{
  "type": "FeatureCollection",
  "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::32619"}},
  "features": [{
    "type": "Feature",
    "properties": {},
    "geometry": {"type": "Polygon", "coordinates": [[[500000,4000000],[500800,4000000],[500800,4001200],[500000,4001200],[500000,4000000]]]}
  }]
}`

const wgs84Footprint = `{
  "type": "Polygon",
  "coordinates": [[[-66.5,44.0],[-66.4,44.0],[-66.4,44.1],[-66.5,44.1],[-66.5,44.0]]]
}`

func writeRaster(t *testing.T, dir, name, sidecar string) string {
	t.Helper()
	raster := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(raster+footprint.SidecarSuffix, []byte(sidecar), 0o600))
	return raster
}

func testSettings() *conf.Settings {
	return &conf.Settings{
		Fishnet: conf.FishnetSettings{
			CellWidth:   conf.DefaultCellWidth,
			CellHeight:  conf.DefaultCellHeight,
			Shape:       "rectangle",
			Concurrency: 2,
			Reader:      "gdal",
		},
	}
}

func TestFishnetCommandWritesGeoJSON(t *testing.T) {
	dir := t.TempDir()
	good := writeRaster(t, dir, "104001_P001.tif", utmFootprint)
	bad := writeRaster(t, dir, "104002_P001.tif", wgs84Footprint)

	var stdout, stderr bytes.Buffer
	cmd := Command(testSettings())
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"--no-store", "--reader", "geojson", "-o", "-", good, bad})
	require.NoError(t, cmd.Execute())

	fc, err := geojson.UnmarshalFeatureCollection(stdout.Bytes())
	require.NoError(t, err)
	assert.Len(t, fc.Features, 4)

	assert.Contains(t, stderr.String(), "invalid_crs")
	assert.Contains(t, stderr.String(), "4 cells from 1 of 2 rasters")
}

func TestFishnetCommandFlagsOverrideSettings(t *testing.T) {
	dir := t.TempDir()
	raster := writeRaster(t, dir, "104001_P001.tif", utmFootprint)
	out := filepath.Join(dir, "cells.geojson")

	settings := testSettings()
	cmd := Command(settings)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--no-store", "--reader", "geojson", "--width", "800", "--height", "1200", "-o", out, raster})
	require.NoError(t, cmd.Execute())

	assert.InDelta(t, 800.0, settings.Fishnet.CellWidth, 0)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 1)
}

func TestFishnetCommandAllRastersFail(t *testing.T) {
	dir := t.TempDir()
	bad := writeRaster(t, dir, "104002_P001.tif", wgs84Footprint)

	cmd := Command(testSettings())
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--no-store", "--reader", "geojson", bad})
	require.Error(t, cmd.Execute())
}

func TestFishnetCommandRejectsBadShape(t *testing.T) {
	cmd := Command(testSettings())
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--no-store", "--shape", "triangle", "x.tif"})
	require.Error(t, cmd.Execute())
}

func TestFishnetCommandMixedCRSNeedsWGS84(t *testing.T) {
	dir := t.TempDir()
	zone19 := writeRaster(t, dir, "104001_P001.tif", utmFootprint)
	zone20 := writeRaster(t, dir, "104003_P001.tif", strings.Replace(utmFootprint, "32619", "32620", 1))

	cmd := Command(testSettings())
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--no-store", "--reader", "geojson", "-o", "-", zone19, zone20})
	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCRS))

	var stdout bytes.Buffer
	cmd = Command(testSettings())
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--no-store", "--reader", "geojson", "--wgs84", "-o", "-", zone19, zone20})
	require.NoError(t, cmd.Execute())

	fc, err := geojson.UnmarshalFeatureCollection(stdout.Bytes())
	require.NoError(t, err)
	assert.Len(t, fc.Features, 8)
}

func TestWriteCellsReportsFileErrors(t *testing.T) {
	out := filepath.Join(t.TempDir(), "missing", "cells.geojson")
	err := writeCells(nil, false, out, &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}
