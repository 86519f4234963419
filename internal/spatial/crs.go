// Package spatial holds coordinate reference system metadata, display
// reprojection and the polygon predicates used by the fishnet partitioner.
package spatial

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Linear and angular unit names as they appear in WKT.
const (
	UnitMetre  = "metre"
	UnitDegree = "degree"
	UnitFoot   = "foot"
	UnitUSFoot = "US survey foot"
)

// CRS describes a coordinate reference system by EPSG code and axis unit.
type CRS struct {
	EPSG int    `json:"epsg"`
	Name string `json:"name,omitempty"`
	Unit string `json:"unit"`
}

// String renders the CRS as an authority code.
func (c CRS) String() string {
	if c.EPSG == 0 {
		return "unknown CRS"
	}
	return fmt.Sprintf("EPSG:%d", c.EPSG)
}

// IsMetric reports whether the CRS axes are measured in metres.
func (c CRS) IsMetric() bool {
	switch strings.ToLower(strings.TrimSpace(c.Unit)) {
	case "metre", "meter", "metres", "meters", "m":
		return true
	}
	return false
}

// IsGeographic reports whether the CRS axes are angular.
func (c CRS) IsGeographic() bool {
	switch strings.ToLower(strings.TrimSpace(c.Unit)) {
	case "degree", "degrees", "deg", "radian", "grad":
		return true
	}
	return false
}

// URN returns the OGC URN used in GeoJSON "crs" members.
func (c CRS) URN() string {
	return fmt.Sprintf("urn:ogc:def:crs:EPSG::%d", c.EPSG)
}

// WGS84 is the geographic CRS used for display.
var WGS84 = CRS{EPSG: 4326, Name: "WGS 84", Unit: UnitDegree}

var registry = map[int]CRS{
	4326:   WGS84,
	4269:   {EPSG: 4269, Name: "NAD83", Unit: UnitDegree},
	4258:   {EPSG: 4258, Name: "ETRS89", Unit: UnitDegree},
	4283:   {EPSG: 4283, Name: "GDA94", Unit: UnitDegree},
	3857:   {EPSG: 3857, Name: "WGS 84 / Pseudo-Mercator", Unit: UnitMetre},
	900913: {EPSG: 900913, Name: "Google Maps Global Mercator", Unit: UnitMetre},
	3395:   {EPSG: 3395, Name: "WGS 84 / World Mercator", Unit: UnitMetre},
	5070:   {EPSG: 5070, Name: "NAD83 / Conus Albers", Unit: UnitMetre},
	3413:   {EPSG: 3413, Name: "WGS 84 / NSIDC Sea Ice Polar Stereographic North", Unit: UnitMetre},
	3031:   {EPSG: 3031, Name: "WGS 84 / Antarctic Polar Stereographic", Unit: UnitMetre},
	3976:   {EPSG: 3976, Name: "WGS 84 / NSIDC Sea Ice Polar Stereographic South", Unit: UnitMetre},
	2263:   {EPSG: 2263, Name: "NAD83 / New York Long Island (ftUS)", Unit: UnitUSFoot},
}

// LookupEPSG returns the CRS for an EPSG code. UTM zones are derived rather
// than listed. The boolean is false for codes the registry does not know; the
// returned CRS then carries the code but an empty unit.
func LookupEPSG(code int) (CRS, bool) {
	if crs, ok := registry[code]; ok {
		return crs, true
	}
	if zone, south, datum, ok := utmZone(code); ok {
		hemi := "N"
		if south {
			hemi = "S"
		}
		return CRS{EPSG: code, Name: fmt.Sprintf("%s / UTM zone %d%s", datum, zone, hemi), Unit: UnitMetre}, true
	}
	return CRS{EPSG: code}, false
}

// utmZone decodes WGS84 (326zz north, 327zz south) and NAD83 (269zz) UTM codes.
func utmZone(code int) (zone int, south bool, datum string, ok bool) {
	switch {
	case code >= 32601 && code <= 32660:
		return code - 32600, false, "WGS 84", true
	case code >= 32701 && code <= 32760:
		return code - 32700, true, "WGS 84", true
	case code >= 26901 && code <= 26923:
		return code - 26900, false, "NAD83", true
	}
	return 0, false, "", false
}

var (
	wktUnitPattern = regexp.MustCompile(`(?:LENGTHUNIT|ANGLEUNIT|UNIT)\[\s*"([^"]+)"`)
	wktEPSGPattern = regexp.MustCompile(`(?:AUTHORITY|ID)\[\s*"EPSG"\s*,\s*"?(\d+)"?`)
)

// ParseWKTUnit returns the axis unit of a WKT1 or WKT2 CRS definition. The
// last unit in the string is the one bound to the coordinate axes in both
// dialects.
func ParseWKTUnit(wkt string) string {
	matches := wktUnitPattern.FindAllStringSubmatch(wkt, -1)
	if len(matches) == 0 {
		return ""
	}
	return normalizeUnit(matches[len(matches)-1][1])
}

// ParseWKTEPSG returns the outermost EPSG authority code of a WKT definition,
// or 0 when none is present.
func ParseWKTEPSG(wkt string) int {
	matches := wktEPSGPattern.FindAllStringSubmatch(wkt, -1)
	if len(matches) == 0 {
		return 0
	}
	code, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return 0
	}
	return code
}

// CRSFromWKT builds a CRS from a WKT definition, preferring registry names.
func CRSFromWKT(wkt string) CRS {
	crs := CRS{EPSG: ParseWKTEPSG(wkt), Unit: ParseWKTUnit(wkt)}
	if known, ok := LookupEPSG(crs.EPSG); ok {
		crs.Name = known.Name
		if crs.Unit == "" {
			crs.Unit = known.Unit
		}
	}
	return crs
}

func normalizeUnit(unit string) string {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "metre", "meter", "metres", "meters", "m":
		return UnitMetre
	case "degree", "degrees", "deg", "degree (supplier to define representation)":
		return UnitDegree
	case "foot", "international foot", "ft":
		return UnitFoot
	case "us survey foot", "foot_us", "us_survey_foot":
		return UnitUSFoot
	}
	return strings.TrimSpace(unit)
}
