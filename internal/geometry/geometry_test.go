package geometry

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	geoerrors "github.com/dservsys/geolimes/internal/errors"
	"github.com/dservsys/geolimes/pkg/types"
)

func table(rows ...[]string) *types.Table {
	return &types.Table{Columns: []string{"s", "shape", "label"}, Rows: rows}
}

func TestMaterialize(t *testing.T) {
	in := table(
		[]string{"http://example.org/a", "POINT(1 2)", "a"},
		[]string{"http://example.org/b", "POLYGON((0 0,4 0,4 3,0 0))", "b"},
		[]string{"http://example.org/c", "<http://www.opengis.net/def/crs/OGC/1.3/CRS84> POINT(-1 5)", "c"},
	)

	r, err := Materialize(in, "shape", "s")
	require.NoError(t, err)
	require.Equal(t, 3, r.Len())

	assert.Equal(t, orb.Point{1, 2}, r.Geometries[0])
	assert.IsType(t, orb.Polygon{}, r.Geometries[1])
	assert.Equal(t, orb.Point{-1, 5}, r.Geometries[2])

	i, ok := r.Lookup("http://example.org/b")
	assert.True(t, ok)
	assert.Equal(t, 1, i)
	_, ok = r.Lookup("http://example.org/z")
	assert.False(t, ok)

	g, ok := r.Geometry("http://example.org/c")
	require.True(t, ok)
	assert.Equal(t, orb.Point{-1, 5}, g)

	assert.Equal(t, []string{"http://example.org/a", "http://example.org/b", "http://example.org/c"}, r.Keys())
	assert.Equal(t, orb.Bound{Min: orb.Point{-1, 0}, Max: orb.Point{4, 5}}, r.Bound())
}

func TestMaterialize_DoesNotMutateInput(t *testing.T) {
	in := table([]string{"a", "POINT(1 2)", "x"})
	snapshot := in.Clone()

	r, err := Materialize(in, "shape", "s")
	require.NoError(t, err)
	r.Rows[0][2] = "changed"

	assert.Equal(t, snapshot, in)
}

func TestMaterialize_MalformedGeometryIsFatal(t *testing.T) {
	tests := map[string]string{
		"garbage":          "NOT A GEOMETRY",
		"empty":            "",
		"unterminated iri": "<http://www.opengis.net/def/crs/EPSG/0/4326 POINT(1 2)",
		"truncated":        "POLYGON((0 0,1 0",
	}
	for name, literal := range tests {
		t.Run(name, func(t *testing.T) {
			in := table(
				[]string{"a", "POINT(1 2)", "x"},
				[]string{"b", literal, "y"},
			)
			r, err := Materialize(in, "shape", "s")
			assert.Nil(t, r, "no partially geometric result")
			assert.Equal(t, geoerrors.ErrCategoryGeometry, geoerrors.GetCategory(err))
			assert.Equal(t, geoerrors.CodeMalformedGeometry, geoerrors.GetCode(err))
			assert.Contains(t, err.Error(), `s="b"`)
		})
	}
}

func TestParse_DropsExtraOrdinates(t *testing.T) {
	tests := map[string]struct {
		literal string
		want    orb.Geometry
	}{
		"point z":          {"POINT Z (1 2 3)", orb.Point{1, 2}},
		"point zm":         {"POINT ZM (1 2 3 4)", orb.Point{1, 2}},
		"point m":          {"point m(1 2 7)", orb.Point{1, 2}},
		"untagged 3d":      {"POINT(1 2 3)", orb.Point{1, 2}},
		"linestring z":     {"LINESTRING Z (0 0 1, 1.5 -2 2e3)", orb.LineString{{0, 0}, {1.5, -2}}},
		"crs iri and z":    {"<http://www.opengis.net/def/crs/EPSG/0/4979> POINT Z(5 6 7)", orb.Point{5, 6}},
		"polygon untagged": {"POLYGON((0 0 9,4 0 9,4 3 9,0 0 9))", orb.Polygon{{{0, 0}, {4, 0}, {4, 3}, {0, 0}}}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			g, err := Parse(tt.literal)
			require.NoError(t, err)
			assert.Equal(t, tt.want, g)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	tests := map[string]orb.Geometry{
		"POINT EMPTY":              orb.MultiPoint{},
		"point z empty":            orb.MultiPoint{},
		"LINESTRING EMPTY":         orb.LineString{},
		"POLYGON EMPTY":            orb.Polygon{},
		"MULTIPOLYGON EMPTY":       orb.MultiPolygon{},
		"GEOMETRYCOLLECTION EMPTY": orb.Collection{},
	}
	for literal, want := range tests {
		t.Run(literal, func(t *testing.T) {
			g, err := Parse(literal)
			require.NoError(t, err)
			assert.Equal(t, want, g)
		})
	}
}

func TestMaterialize_EmptyGeometryKeepsBound(t *testing.T) {
	in := table(
		[]string{"a", "POINT EMPTY", "x"},
		[]string{"b", "POINT Z (3 4 100)", "y"},
		[]string{"c", "POINT(5 6)", "z"},
	)
	r, err := Materialize(in, "shape", "s")
	require.NoError(t, err)
	require.Equal(t, 3, r.Len())
	assert.Equal(t, orb.Bound{Min: orb.Point{3, 4}, Max: orb.Point{5, 6}}, r.Bound())
}

func TestMaterialize_DuplicateIndex(t *testing.T) {
	in := table(
		[]string{"a", "POINT(1 2)", "x"},
		[]string{"a", "POINT(3 4)", "y"},
	)
	_, err := Materialize(in, "shape", "s")
	assert.Equal(t, geoerrors.CodeDuplicateIndex, geoerrors.GetCode(err))
}

func TestMaterialize_MissingColumns(t *testing.T) {
	in := table([]string{"a", "POINT(1 2)", "x"})

	_, err := Materialize(in, "geom", "s")
	assert.Equal(t, geoerrors.CodeMissingColumn, geoerrors.GetCode(err))

	_, err = Materialize(in, "shape", "id")
	assert.Equal(t, geoerrors.CodeMissingColumn, geoerrors.GetCode(err))

	_, err = Materialize(nil, "shape", "s")
	assert.Error(t, err)
}

func TestMaterialize_Empty(t *testing.T) {
	r, err := Materialize(types.NewTable("s", "shape"), "shape", "s")
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, orb.Bound{}, r.Bound())
	assert.Empty(t, r.FeatureCollection().Features)
}

func TestResult_FeatureCollection(t *testing.T) {
	in := table(
		[]string{"http://example.org/a", "POINT(1 2)", "first"},
		[]string{"http://example.org/b", "POINT(3 4)", "second"},
	)
	r, err := Materialize(in, "shape", "s")
	require.NoError(t, err)

	fc := r.FeatureCollection()
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "http://example.org/a", fc.Features[0].ID)
	assert.Equal(t, "first", fc.Features[0].Properties["label"])
	assert.NotContains(t, fc.Features[0].Properties, "shape")
	assert.NotContains(t, fc.Features[0].Properties, "s")

	data, err := json.Marshal(fc)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"FeatureCollection"`)
	assert.Contains(t, string(data), `"coordinates":[3,4]`)
}

// Property: every row of a table with distinct keys is reachable through
// Lookup at its original position, and points parse to their coordinates.
func TestProperty_LookupMatchesRowOrder(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	properties.Property("lookup returns original row position", prop.ForAll(
		func(coords []int) bool {
			in := types.NewTable("s", "shape")
			for i, c := range coords {
				in.Rows = append(in.Rows, []string{
					fmt.Sprintf("http://example.org/%d", i),
					fmt.Sprintf("POINT(%d %d)", c, -c),
				})
			}
			r, err := Materialize(in, "shape", "s")
			if err != nil {
				return false
			}
			for i, c := range coords {
				pos, ok := r.Lookup(fmt.Sprintf("http://example.org/%d", i))
				if !ok || pos != i {
					return false
				}
				if r.Geometries[i] != (orb.Point{float64(c), float64(-c)}) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(-180, 180)),
	))

	properties.TestingRun(t)
}
