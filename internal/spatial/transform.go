package spatial

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/gaia-review/gaia/internal/errors"
)

// ErrUnsupportedProjection is returned when no display transform exists for a CRS.
var ErrUnsupportedProjection = errors.NewStd("no WGS84 transform for projection")

// ellipsoid parameters
const (
	wgs84A = 6378137.0
	wgs84F = 1 / 298.257223563
	grs80F = 1 / 298.257222101

	utmScale         = 0.9996
	utmFalseEasting  = 500000.0
	utmFalseNorthing = 10000000.0
)

// Projection returns an orb.Projection that maps coordinates in the given
// EPSG code to WGS84 longitude/latitude.
func Projection(epsg int) (orb.Projection, error) {
	switch epsg {
	case 4326, 4269, 4258, 4283:
		return func(p orb.Point) orb.Point { return p }, nil
	case 3857, 900913:
		return project.Mercator.ToWGS84, nil
	}

	if zone, south, datum, ok := utmZone(epsg); ok {
		f := wgs84F
		if datum == "NAD83" {
			f = grs80F
		}
		return func(p orb.Point) orb.Point {
			return inverseUTM(p, zone, south, wgs84A, f)
		}, nil
	}

	return nil, errors.New(fmt.Errorf("%w: EPSG:%d", ErrUnsupportedProjection, epsg)).
		Component("spatial").
		Category(errors.CategoryCRS).
		Context("epsg", epsg).
		Build()
}

// ToWGS84 reprojects a single point.
func ToWGS84(p orb.Point, epsg int) (orb.Point, error) {
	proj, err := Projection(epsg)
	if err != nil {
		return orb.Point{}, err
	}
	return proj(p), nil
}

// GeometryToWGS84 reprojects any orb geometry. The input is not modified.
func GeometryToWGS84(g orb.Geometry, epsg int) (orb.Geometry, error) {
	proj, err := Projection(epsg)
	if err != nil {
		return nil, err
	}
	return project.Geometry(orb.Clone(g), proj), nil
}

// inverseUTM converts UTM easting/northing to longitude/latitude using the
// series expansion of the inverse transverse Mercator projection.
func inverseUTM(p orb.Point, zone int, south bool, a, f float64) orb.Point {
	e2 := f * (2 - f)
	ep2 := e2 / (1 - e2)
	e4 := e2 * e2
	e6 := e4 * e2

	x := p[0] - utmFalseEasting
	y := p[1]
	if south {
		y -= utmFalseNorthing
	}

	m := y / utmScale
	mu := m / (a * (1 - e2/4 - 3*e4/64 - 5*e6/256))

	sq := math.Sqrt(1 - e2)
	e1 := (1 - sq) / (1 + sq)
	e1p2 := e1 * e1
	e1p3 := e1p2 * e1
	e1p4 := e1p3 * e1

	phi1 := mu +
		(3*e1/2-27*e1p3/32)*math.Sin(2*mu) +
		(21*e1p2/16-55*e1p4/32)*math.Sin(4*mu) +
		(151*e1p3/96)*math.Sin(6*mu) +
		(1097*e1p4/512)*math.Sin(8*mu)

	sinPhi := math.Sin(phi1)
	cosPhi := math.Cos(phi1)
	tanPhi := math.Tan(phi1)

	c1 := ep2 * cosPhi * cosPhi
	t1 := tanPhi * tanPhi
	w := 1 - e2*sinPhi*sinPhi
	n1 := a / math.Sqrt(w)
	r1 := a * (1 - e2) / math.Pow(w, 1.5)
	d := x / (n1 * utmScale)
	d2 := d * d
	d3 := d2 * d
	d4 := d3 * d
	d5 := d4 * d
	d6 := d5 * d

	lat := phi1 - (n1*tanPhi/r1)*
		(d2/2-
			(5+3*t1+10*c1-4*c1*c1-9*ep2)*d4/24+
			(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*d6/720)

	lon := (d -
		(1+2*t1+c1)*d3/6 +
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*d5/120) / cosPhi

	centralMeridian := float64((zone-1)*6-180+3) * math.Pi / 180

	return orb.Point{
		(centralMeridian + lon) * 180 / math.Pi,
		lat * 180 / math.Pi,
	}
}
