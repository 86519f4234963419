// Package entities defines the GORM models of the review store.
package entities

import (
	"database/sql/driver"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// Geometry stores an orb geometry as WKT text so the same column works on
// SQLite, MySQL and PostgreSQL without spatial extensions.
type Geometry struct {
	orb.Geometry
}

// NewGeometry wraps g.
func NewGeometry(g orb.Geometry) Geometry {
	return Geometry{Geometry: g}
}

// GormDataType implements schema.GormDataTypeInterface.
func (Geometry) GormDataType() string {
	return "text"
}

// Value implements driver.Valuer.
func (g Geometry) Value() (driver.Value, error) {
	if g.Geometry == nil {
		return nil, nil
	}
	return wkt.MarshalString(g.Geometry), nil
}

// Scan implements sql.Scanner.
func (g *Geometry) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case nil:
		g.Geometry = nil
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("scan geometry: unsupported type %T", src)
	}

	geom, err := wkt.Unmarshal(s)
	if err != nil {
		return fmt.Errorf("scan geometry: %w", err)
	}
	g.Geometry = geom
	return nil
}

// Point returns the geometry as a point.
func (g Geometry) Point() (orb.Point, bool) {
	p, ok := g.Geometry.(orb.Point)
	return p, ok
}

// Polygon returns the geometry as a polygon.
func (g Geometry) Polygon() (orb.Polygon, bool) {
	p, ok := g.Geometry.(orb.Polygon)
	return p, ok
}
