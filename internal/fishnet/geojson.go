package fishnet

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/spatial"
)

// FeatureCollection renders cells as GeoJSON features carrying raster_id,
// index and shape properties. With toWGS84 the polygons are reprojected for
// display; otherwise they stay in the partition CRS and the collection gets a
// named crs member. A collection can only name one CRS, so cells from rasters
// in different projections must be reprojected.
func FeatureCollection(cells []Cell, toWGS84 bool) (*geojson.FeatureCollection, error) {
	if !toWGS84 {
		for _, c := range cells {
			if c.CRS.EPSG != cells[0].CRS.EPSG {
				return nil, mixedCRS(cells[0].CRS, c.CRS)
			}
		}
	}

	fc := geojson.NewFeatureCollection()

	for _, c := range cells {
		var geom orb.Geometry = c.Polygon
		if toWGS84 {
			projected, err := spatial.GeometryToWGS84(c.Polygon, c.CRS.EPSG)
			if err != nil {
				return nil, err
			}
			geom = projected
		}

		f := geojson.NewFeature(geom)
		f.Properties["raster_id"] = c.RasterID
		f.Properties["index"] = c.Index
		f.Properties["shape"] = string(c.Shape)
		f.Properties["source_epsg"] = c.CRS.EPSG
		fc.Append(f)
	}

	if !toWGS84 && len(cells) > 0 {
		fc.ExtraMembers = geojson.Properties{
			"crs": map[string]any{
				"type":       "name",
				"properties": map[string]any{"name": cells[0].CRS.URN()},
			},
		}
	}
	return fc, nil
}

func mixedCRS(first, other spatial.CRS) error {
	return errors.Newf("cells span %s and %s, write them reprojected to WGS84", first, other).
		Component("fishnet").
		Category(errors.CategoryCRS).
		Context("epsg", first.EPSG).
		Context("other_epsg", other.EPSG).
		Build()
}
