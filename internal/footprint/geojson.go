package footprint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/gaia-review/gaia/internal/spatial"
)

// SidecarSuffix is appended to a raster path to locate its precomputed footprint.
const SidecarSuffix = ".footprint.geojson"

// GeoJSONReader reads footprints written next to the raster as
// <raster>.footprint.geojson, for hosts without GDAL.
type GeoJSONReader struct{}

// Footprint implements Reader.
func (GeoJSONReader) Footprint(ctx context.Context, rasterPath string) (Footprint, error) {
	if err := ctx.Err(); err != nil {
		return Footprint{}, err
	}

	data, err := os.ReadFile(rasterPath + SidecarSuffix)
	if err != nil {
		return Footprint{}, unreadable(rasterPath, err)
	}

	fp, err := parseFootprintGeoJSON(data)
	if err != nil {
		return Footprint{}, unreadable(rasterPath, err)
	}
	fp.RasterID = RasterID(rasterPath)
	fp.Path = rasterPath
	return fp, nil
}

// namedCRS is the pre-RFC7946 "crs" member GDAL writes for non-WGS84 output.
type namedCRS struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

// parseFootprintGeoJSON decodes a FeatureCollection, a single Feature or a
// bare geometry. The CRS comes from the named crs member and defaults to WGS84.
func parseFootprintGeoJSON(data []byte) (Footprint, error) {
	var head struct {
		Type string    `json:"type"`
		CRS  *namedCRS `json:"crs"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Footprint{}, fmt.Errorf("decode footprint: %w", err)
	}

	crs := spatial.WGS84
	if head.CRS != nil {
		code, err := epsgFromURN(head.CRS.Properties.Name)
		if err != nil {
			return Footprint{}, err
		}
		if known, ok := spatial.LookupEPSG(code); ok {
			crs = known
		} else {
			crs = spatial.CRS{EPSG: code}
		}
	}

	var fp Footprint
	fp.CRS = crs

	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return Footprint{}, fmt.Errorf("decode footprint: %w", err)
		}
		if len(fc.Features) == 0 {
			return Footprint{}, fmt.Errorf("footprint has no features")
		}
		poly, ok := largestPolygon(fc.Features[0].Geometry)
		if !ok {
			return Footprint{}, notPolygon(fc.Features[0].Geometry)
		}
		fp.Polygon = poly
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return Footprint{}, fmt.Errorf("decode footprint: %w", err)
		}
		poly, ok := largestPolygon(f.Geometry)
		if !ok {
			return Footprint{}, notPolygon(f.Geometry)
		}
		fp.Polygon = poly
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return Footprint{}, fmt.Errorf("decode footprint: %w", err)
		}
		poly, ok := largestPolygon(g.Geometry())
		if !ok {
			return Footprint{}, notPolygon(g.Geometry())
		}
		fp.Polygon = poly
	}

	return fp, nil
}

func notPolygon(g orb.Geometry) error {
	if g == nil {
		return fmt.Errorf("footprint has no geometry")
	}
	return fmt.Errorf("footprint geometry is %s, want polygon", g.GeoJSONType())
}

// epsgFromURN accepts urn:ogc:def:crs:EPSG::32633, EPSG:32633 and the OGC
// CRS84 alias.
func epsgFromURN(name string) (int, error) {
	s := strings.TrimSpace(name)
	if strings.HasSuffix(strings.ToUpper(s), "CRS84") {
		return 4326, nil
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unrecognised crs name %q", name)
	}
	return code, nil
}
