// Package geometry turns a raw result table into a spatially indexed result:
// every WKT literal is parsed and every row is addressable by a unique key.
package geometry

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"

	geoerrors "github.com/dservsys/geolimes/internal/errors"
	"github.com/dservsys/geolimes/pkg/types"
)

// Result is a materialized table. Rows are copies of the input rows;
// Geometries[i] is the parsed value of GeometryColumn in Rows[i].
type Result struct {
	Columns        []string
	Rows           [][]string
	Geometries     []orb.Geometry
	GeometryColumn string
	IndexColumn    string

	index   map[string]int
	bound   orb.Bound
	bounded bool
}

// Materialize parses geometryColumn of every row and keys rows by
// indexColumn. A single unparseable geometry or a repeated index value
// fails the whole result. The input table is not modified.
func Materialize(table *types.Table, geometryColumn, indexColumn string) (*Result, error) {
	if table == nil {
		return nil, geoerrors.NewGeometryError(geoerrors.CodeMissingColumn, "no table to materialize", nil)
	}

	gi := table.ColumnIndex(geometryColumn)
	if gi < 0 {
		return nil, geoerrors.NewGeometryError(geoerrors.CodeMissingColumn,
			fmt.Sprintf("geometry column %q not in %v", geometryColumn, table.Columns), nil)
	}
	ii := table.ColumnIndex(indexColumn)
	if ii < 0 {
		return nil, geoerrors.NewGeometryError(geoerrors.CodeMissingColumn,
			fmt.Sprintf("index column %q not in %v", indexColumn, table.Columns), nil)
	}

	r := &Result{
		Columns:        append([]string(nil), table.Columns...),
		Rows:           make([][]string, 0, len(table.Rows)),
		Geometries:     make([]orb.Geometry, 0, len(table.Rows)),
		GeometryColumn: geometryColumn,
		IndexColumn:    indexColumn,
		index:          make(map[string]int, len(table.Rows)),
	}

	for i, row := range table.Rows {
		if gi >= len(row) || ii >= len(row) {
			return nil, geoerrors.NewGeometryError(geoerrors.CodeMissingColumn,
				fmt.Sprintf("row %d has %d values, expected %d", i, len(row), len(table.Columns)), nil)
		}
		key := row[ii]

		if prev, dup := r.index[key]; dup {
			return nil, geoerrors.NewGeometryError(geoerrors.CodeDuplicateIndex,
				fmt.Sprintf("index value %q appears in rows %d and %d", key, prev, i), nil)
		}

		g, err := Parse(row[gi])
		if err != nil {
			return nil, geoerrors.NewGeometryError(geoerrors.CodeMalformedGeometry,
				fmt.Sprintf("row %d (%s=%q) has an unparseable geometry", i, indexColumn, key), err).
				WithDetails(map[string]interface{}{"row": i, "key": key})
		}

		if !isEmpty(g) {
			if !r.bounded {
				r.bound, r.bounded = g.Bound(), true
			} else {
				r.bound = r.bound.Union(g.Bound())
			}
		}
		r.index[key] = len(r.Rows)
		r.Rows = append(r.Rows, append([]string(nil), row...))
		r.Geometries = append(r.Geometries, g)
	}
	return r, nil
}

var (
	geometryTypes = `POINT|LINESTRING|POLYGON|MULTIPOINT|MULTILINESTRING|MULTIPOLYGON|GEOMETRYCOLLECTION`
	number        = `[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`

	dimensionTag = regexp.MustCompile(`(?i)\b(` + geometryTypes + `)\s*(?:ZM|Z|M)\b`)
	emptyLiteral = regexp.MustCompile(`(?i)^(` + geometryTypes + `)\s*EMPTY$`)
	extraOrdinal = regexp.MustCompile(`(` + number + `)\s+(` + number + `)(?:\s+` + number + `)+`)
)

// Parse parses a WKT literal. A leading CRS IRI, as GeoSPARQL literals
// carry, is dropped; coordinates are taken as written. Z and M ordinates
// are discarded. A top-level EMPTY yields an empty geometry of the named
// type, with POINT EMPTY as an empty MultiPoint.
func Parse(literal string) (orb.Geometry, error) {
	s := strings.TrimSpace(literal)
	if strings.HasPrefix(s, "<") {
		end := strings.IndexByte(s, '>')
		if end < 0 {
			return nil, fmt.Errorf("unterminated CRS IRI in %q", literal)
		}
		s = strings.TrimSpace(s[end+1:])
	}
	if s == "" {
		return nil, fmt.Errorf("empty geometry literal")
	}

	s = dimensionTag.ReplaceAllString(s, "$1")
	if m := emptyLiteral.FindStringSubmatch(s); m != nil {
		return emptyGeometry(strings.ToUpper(m[1])), nil
	}
	return wkt.Unmarshal(extraOrdinal.ReplaceAllString(s, "$1 $2"))
}

func emptyGeometry(kind string) orb.Geometry {
	switch kind {
	case "LINESTRING":
		return orb.LineString{}
	case "POLYGON":
		return orb.Polygon{}
	case "MULTILINESTRING":
		return orb.MultiLineString{}
	case "MULTIPOLYGON":
		return orb.MultiPolygon{}
	case "GEOMETRYCOLLECTION":
		return orb.Collection{}
	default:
		return orb.MultiPoint{}
	}
}

func isEmpty(g orb.Geometry) bool {
	switch g := g.(type) {
	case orb.MultiPoint:
		return len(g) == 0
	case orb.LineString:
		return len(g) == 0
	case orb.Polygon:
		return len(g) == 0
	case orb.MultiLineString:
		return len(g) == 0
	case orb.MultiPolygon:
		return len(g) == 0
	case orb.Collection:
		return len(g) == 0
	default:
		return false
	}
}

// Len returns the number of rows.
func (r *Result) Len() int {
	return len(r.Rows)
}

// Lookup returns the row position of key.
func (r *Result) Lookup(key string) (int, bool) {
	i, ok := r.index[key]
	return i, ok
}

// Geometry returns the geometry of the row keyed by key.
func (r *Result) Geometry(key string) (orb.Geometry, bool) {
	i, ok := r.index[key]
	if !ok {
		return nil, false
	}
	return r.Geometries[i], true
}

// Keys returns the index values in row order.
func (r *Result) Keys() []string {
	keys := make([]string, len(r.Rows))
	for key, i := range r.index {
		keys[i] = key
	}
	return keys
}

// Bound returns the bounding box of all geometries. It is the zero bound
// for an empty result.
func (r *Result) Bound() orb.Bound {
	return r.bound
}

// Feature returns row i as a GeoJSON feature. The index value is the
// feature ID; the remaining non-geometry columns become properties.
func (r *Result) Feature(i int) *geojson.Feature {
	f := geojson.NewFeature(r.Geometries[i])
	for j, c := range r.Columns {
		switch c {
		case r.GeometryColumn:
		case r.IndexColumn:
			f.ID = r.Rows[i][j]
		default:
			f.Properties[c] = r.Rows[i][j]
		}
	}
	return f
}

// FeatureCollection returns every row as GeoJSON, in row order.
func (r *Result) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i := range r.Rows {
		fc.Append(r.Feature(i))
	}
	return fc
}
