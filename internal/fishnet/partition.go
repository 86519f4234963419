// Package fishnet partitions raster footprints into rectangular or hexagonal
// grid cells that become units of review work.
package fishnet

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"

	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/footprint"
	"github.com/gaia-review/gaia/internal/spatial"
)

// Shape selects the cell geometry.
type Shape string

const (
	ShapeRectangle Shape = "rectangle"
	ShapeHexagon   Shape = "hexagon"
)

// Default cell dimensions in CRS units.
const (
	DefaultCellWidth  = 400.0
	DefaultCellHeight = 600.0
)

// ParseShape accepts rectangle, hexagon and the short form hex.
func ParseShape(s string) (Shape, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rectangle", "rect":
		return ShapeRectangle, nil
	case "hexagon", "hex":
		return ShapeHexagon, nil
	}
	return "", errors.ValidationError(fmt.Sprintf("unknown cell shape %q", s))
}

// Options control one partition. Width is the x pitch and height the y pitch;
// a hexagon's radius is half the width.
type Options struct {
	CellWidth  float64
	CellHeight float64
	Buffer     float64
	Shape      Shape
}

// DefaultOptions returns 400x600 rectangles with no overlap buffer.
func DefaultOptions() Options {
	return Options{
		CellWidth:  DefaultCellWidth,
		CellHeight: DefaultCellHeight,
		Shape:      ShapeRectangle,
	}
}

// Validate checks dimensions and shape.
func (o Options) Validate() error {
	var problems []string
	if !(o.CellWidth > 0) || math.IsInf(o.CellWidth, 0) {
		problems = append(problems, "cell width must be positive")
	}
	if !(o.CellHeight > 0) || math.IsInf(o.CellHeight, 0) {
		problems = append(problems, "cell height must be positive")
	}
	if !(o.Buffer >= 0) || math.IsInf(o.Buffer, 0) {
		problems = append(problems, "buffer must not be negative")
	}
	if o.Shape != ShapeRectangle && o.Shape != ShapeHexagon {
		problems = append(problems, fmt.Sprintf("unknown cell shape %q", o.Shape))
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.Newf("invalid fishnet options: %s", strings.Join(problems, "; ")).
		Component("fishnet").
		Category(errors.CategoryValidation).
		Build()
}

// Cell is one grid cell in the partition CRS.
type Cell struct {
	RasterID string
	Index    int
	Shape    Shape
	CRS      spatial.CRS
	Polygon  orb.Polygon
}

// Partition grids one footprint. It has no side effects and is safe to call
// concurrently.
func Partition(fp footprint.Footprint, opts Options) ([]Cell, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if !fp.CRS.IsMetric() {
		return nil, invalidCRS(fp)
	}
	if !spatial.Valid(fp.Polygon) || spatial.Area(fp.Polygon) == 0 {
		return nil, emptyFootprint(fp)
	}

	bound := fp.Polygon.Bound()
	if opts.Buffer > 0 {
		bound = bound.Pad(opts.Buffer)
	}

	var polys []orb.Polygon
	switch opts.Shape {
	case ShapeHexagon:
		polys = hexGrid(bound, opts.CellWidth, opts.CellHeight, fp.Polygon)
	default:
		polys = rectGrid(bound, opts.CellWidth, opts.CellHeight, fp.Polygon)
	}

	cells := make([]Cell, len(polys))
	for i, p := range polys {
		cells[i] = Cell{
			RasterID: fp.RasterID,
			Index:    i,
			Shape:    opts.Shape,
			CRS:      fp.CRS,
			Polygon:  p,
		}
	}
	return cells, nil
}

// rectGrid steps from the minimum corner while the cell origin stays inside
// the bound. Origins are computed from the step index to avoid drift.
func rectGrid(bound orb.Bound, w, h float64, fp orb.Polygon) []orb.Polygon {
	var out []orb.Polygon
	for i := 0; ; i++ {
		x := bound.Min[0] + float64(i)*w
		if x >= bound.Max[0] {
			break
		}
		for j := 0; ; j++ {
			y := bound.Min[1] + float64(j)*h
			if y >= bound.Max[1] {
				break
			}
			cell := orb.Bound{Min: orb.Point{x, y}, Max: orb.Point{x + w, y + h}}.ToPolygon()
			if spatial.Intersects(cell, fp) {
				out = append(out, cell)
			}
		}
	}
	return out
}

// hexGrid places flat-top hexagons column by column. Odd columns start half a
// row pitch lower so neighbouring columns interlock.
func hexGrid(bound orb.Bound, w, h float64, fp orb.Polygon) []orb.Polygon {
	radius := w / 2
	dx := w * 3 / 4
	dy := h * math.Sqrt(3) / 2

	var out []orb.Polygon
	for col := 0; ; col++ {
		cx := bound.Min[0] + float64(col)*dx
		if cx >= bound.Max[0]+w {
			break
		}
		y0 := bound.Min[1]
		if col%2 == 1 {
			y0 -= dy / 2
		}
		for row := 0; ; row++ {
			cy := y0 + float64(row)*dy
			if cy >= bound.Max[1]+h {
				break
			}
			hex := hexagon(cx, cy, radius)
			if spatial.Intersects(hex, fp) {
				out = append(out, hex)
			}
		}
	}
	return out
}

// hexagon returns a closed flat-top hexagon with vertices every 60 degrees
// starting on the positive x axis.
func hexagon(cx, cy, r float64) orb.Polygon {
	ring := make(orb.Ring, 0, 7)
	for k := range 6 {
		a := float64(k) * math.Pi / 3
		ring = append(ring, orb.Point{cx + r*math.Cos(a), cy + r*math.Sin(a)})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}
