package spatial

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-review/gaia/internal/errors"
)

func square(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}
}

func TestLookupEPSG(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code       int
		known      bool
		metric     bool
		geographic bool
	}{
		{4326, true, false, true},
		{3857, true, true, false},
		{32633, true, true, false},
		{32760, true, true, false},
		{26918, true, true, false},
		{2263, true, false, false},
		{99999, false, false, false},
	}

	for _, tt := range tests {
		crs, ok := LookupEPSG(tt.code)
		assert.Equal(t, tt.known, ok, "EPSG:%d", tt.code)
		assert.Equal(t, tt.code, crs.EPSG)
		assert.Equal(t, tt.metric, crs.IsMetric(), "EPSG:%d metric", tt.code)
		assert.Equal(t, tt.geographic, crs.IsGeographic(), "EPSG:%d geographic", tt.code)
	}

	crs, _ := LookupEPSG(32733)
	assert.Equal(t, "WGS 84 / UTM zone 33S", crs.Name)
}

func TestParseWKT(t *testing.T) {
	t.Parallel()

	wkt1 := `PROJCS["WGS 84 / UTM zone 33N",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],` +
		`PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433],AUTHORITY["EPSG","4326"]],PROJECTION["Transverse_Mercator"],` +
		`PARAMETER["central_meridian",15],UNIT["metre",1,AUTHORITY["EPSG","9001"]],AXIS["Easting",EAST],AUTHORITY["EPSG","32633"]]`
	assert.Equal(t, UnitMetre, ParseWKTUnit(wkt1))
	assert.Equal(t, 32633, ParseWKTEPSG(wkt1))

	wkt2 := `GEOGCRS["WGS 84",DATUM["World Geodetic System 1984",ELLIPSOID["WGS 84",6378137,298.257223563,LENGTHUNIT["metre",1]]],` +
		`CS[ellipsoidal,2],AXIS["geodetic latitude (Lat)",north,ANGLEUNIT["degree",0.0174532925199433]],` +
		`AXIS["geodetic longitude (Lon)",east,ANGLEUNIT["degree",0.0174532925199433]],ID["EPSG",4326]]`
	assert.Equal(t, UnitDegree, ParseWKTUnit(wkt2))
	crs := CRSFromWKT(wkt2)
	assert.Equal(t, 4326, crs.EPSG)
	assert.False(t, crs.IsMetric())

	assert.Empty(t, ParseWKTUnit("LOCAL_CS[]"))
	assert.Zero(t, ParseWKTEPSG("LOCAL_CS[]"))
}

func TestInverseUTM(t *testing.T) {
	t.Parallel()

	p, err := ToWGS84(orb.Point{500000, 0}, 32633)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, p.Lon(), 1e-9)
	assert.InDelta(t, 0.0, p.Lat(), 1e-9)

	// Meridian arc to 45N is 4984944.378 m, scaled by 0.9996.
	p, err = ToWGS84(orb.Point{500000, 4982950.400}, 32632)
	require.NoError(t, err)
	assert.InDelta(t, 9.0, p.Lon(), 1e-6)
	assert.InDelta(t, 45.0, p.Lat(), 1e-6)

	east, err := ToWGS84(orb.Point{600000, 4982950.400}, 32632)
	require.NoError(t, err)
	west, err := ToWGS84(orb.Point{400000, 4982950.400}, 32632)
	require.NoError(t, err)
	assert.InDelta(t, 9.0-west.Lon(), east.Lon()-9.0, 1e-9)
	assert.InDelta(t, east.Lat(), west.Lat(), 1e-9)

	south, err := ToWGS84(orb.Point{500000, 10000000}, 32733)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, south.Lat(), 1e-9)
}

func TestWebMercatorToWGS84(t *testing.T) {
	t.Parallel()

	p, err := ToWGS84(orb.Point{0, 0}, 3857)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, p.Lon(), 1e-9)
	assert.InDelta(t, 0.0, p.Lat(), 1e-9)

	p, err = ToWGS84(orb.Point{20037508.342789244, 0}, 3857)
	require.NoError(t, err)
	assert.InDelta(t, 180.0, p.Lon(), 1e-6)
}

func TestGeometryToWGS84DoesNotMutate(t *testing.T) {
	t.Parallel()

	poly := square(500000, 0, 500400, 600)
	out, err := GeometryToWGS84(poly, 32633)
	require.NoError(t, err)

	assert.InDelta(t, 500000.0, poly[0][0][0], 0)
	projected, ok := out.(orb.Polygon)
	require.True(t, ok)
	assert.InDelta(t, 15.0, projected[0][0][0], 1e-9)
}

func TestUnsupportedProjection(t *testing.T) {
	t.Parallel()

	_, err := ToWGS84(orb.Point{0, 0}, 3031)
	require.ErrorIs(t, err, ErrUnsupportedProjection)
	assert.True(t, errors.IsCategory(err, errors.CategoryCRS))
}

func TestIntersects(t *testing.T) {
	t.Parallel()

	base := square(0, 0, 10, 10)

	tests := []struct {
		name  string
		other orb.Polygon
		want  bool
	}{
		{"overlap", square(5, 5, 15, 15), true},
		{"contained", square(2, 2, 3, 3), true},
		{"contains", square(-5, -5, 20, 20), true},
		{"shared edge", square(10, 0, 20, 10), true},
		{"shared corner", square(10, 10, 20, 20), true},
		{"disjoint", square(11, 11, 20, 20), false},
		{"bbox overlap only", orb.Polygon{orb.Ring{{9, 20}, {20, 9}, {20, 20}, {9, 20}}}, false},
		{"cross without vertices inside", square(4, -5, 6, 15), true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Intersects(base, tt.other), tt.name)
		assert.Equal(t, tt.want, Intersects(tt.other, base), tt.name+" (swapped)")
	}

	assert.False(t, Intersects(orb.Polygon{}, base))
}

func TestValidAndArea(t *testing.T) {
	t.Parallel()

	assert.True(t, Valid(square(0, 0, 2, 3)))
	assert.InDelta(t, 6.0, Area(square(0, 0, 2, 3)), 1e-9)
	assert.False(t, Valid(orb.Polygon{orb.Ring{{0, 0}, {1, 1}}}))
	assert.False(t, Valid(orb.Polygon{}))
}
