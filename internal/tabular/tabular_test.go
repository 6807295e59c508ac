package tabular

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	geoerrors "github.com/dservsys/geolimes/internal/errors"
	"github.com/dservsys/geolimes/pkg/types"
)

func TestParse_HeaderAndRows(t *testing.T) {
	body := "s,shape\n" +
		"http://example.org/a,POINT(1 2)\n" +
		"http://example.org/b,\"POLYGON((0 0, 1 0, 1 1, 0 0))\"\n"

	table, err := Parse(strings.NewReader(body), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"s", "shape"}, table.Columns)
	require.Equal(t, 2, table.Len())
	assert.Equal(t, "POLYGON((0 0, 1 0, 1 1, 0 0))", table.Rows[1][1])
}

func TestParse_EmptyBody(t *testing.T) {
	table, err := ParseBytes(nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, table.Columns)
	assert.True(t, table.Empty())
}

func TestParse_HeaderOnly(t *testing.T) {
	table, err := ParseBytes([]byte("s,shape\n"), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"s", "shape"}, table.Columns)
	assert.True(t, table.Empty())
}

func TestParse_FieldTooLarge(t *testing.T) {
	body := "s,shape\na," + strings.Repeat("x", 65) + "\n"

	_, err := ParseBytes([]byte(body), Options{MaxFieldSize: 64})
	require.Error(t, err)
	assert.Equal(t, geoerrors.CodeFieldTooLarge, geoerrors.GetCode(err))

	table, err := ParseBytes([]byte(body), Options{MaxFieldSize: 65})
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())
}

// countingReader records how many bytes were pulled from the source.
type countingReader struct {
	r    io.Reader
	read int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += n
	return n, err
}

func TestParse_FieldTooLargeStopsReading(t *testing.T) {
	tests := map[string]string{
		"unquoted": "s,shape\na,POINT(1 2)\nb," + strings.Repeat("x", 1<<20) + "\n",
		"quoted":   "s,shape\na,POINT(1 2)\nb,\"" + strings.Repeat("x,\n", 1<<18) + "\"\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			src := &countingReader{r: strings.NewReader(body)}
			_, err := Parse(src, Options{MaxFieldSize: 64})
			require.Error(t, err)
			assert.Equal(t, geoerrors.CodeFieldTooLarge, geoerrors.GetCode(err))
			assert.Less(t, src.read, 64<<10, "oversized field must not be read in full")
		})
	}
}

func TestParse_FieldTooLargeAllowsEscapedQuotes(t *testing.T) {
	// 60 content bytes, every one an escaped quote.
	field := "\"" + strings.Repeat(`""`, 60) + "\""
	table, err := ParseBytes([]byte("s,label\na,"+field+"\n"), Options{MaxFieldSize: 64})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat(`"`, 60), table.Rows[0][1])
}

func TestParse_Malformed(t *testing.T) {
	tests := map[string]string{
		"ragged row":       "a,b\n1,2,3\n",
		"unbalanced quote": "a,b\n\"1,2\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseBytes([]byte(body), Options{})
			assert.Equal(t, geoerrors.ErrCategoryDecode, geoerrors.GetCategory(err))
			assert.Equal(t, geoerrors.CodeMalformedTable, geoerrors.GetCode(err))
		})
	}
}

func TestWrite_NoIndexColumn(t *testing.T) {
	table := &types.Table{
		Columns: []string{"s", "shape"},
		Rows: [][]string{
			{"a", "POINT(1 2)"},
			{"b", "POLYGON((0 0, 1 0, 1 1, 0 0))"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, table))
	assert.Equal(t,
		"s,shape\na,POINT(1 2)\nb,\"POLYGON((0 0, 1 0, 1 1, 0 0))\"\n",
		buf.String())
}

func TestWrite_LoneEmptyFieldSurvives(t *testing.T) {
	table := &types.Table{Columns: []string{"s"}, Rows: [][]string{{"a"}, {""}, {"b"}}}
	data, err := Encode(table)
	require.NoError(t, err)

	got, err := ParseBytes(data, Options{})
	require.NoError(t, err)
	assert.Equal(t, table.Rows, got.Rows)
}

func TestParse_QuotedCRLFBecomesLF(t *testing.T) {
	data, err := Encode(&types.Table{Columns: []string{"s", "label"}, Rows: [][]string{{"a", "x\r\ny"}}})
	require.NoError(t, err)

	got, err := ParseBytes(data, Options{})
	require.NoError(t, err)
	assert.Equal(t, "x\ny", got.Rows[0][1])
}

func TestWrite_NilTable(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Write(&buf, nil))
}

// Property: writing a table and parsing it back yields the same columns and
// rows in the same order.
func TestProperty_WriteThenParse(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	cell := gen.AnyString().Map(func(s string) string {
		return strings.ToValidUTF8(strings.ReplaceAll(s, "\r", ""), "")
	})
	row := gen.SliceOfN(3, cell)

	properties.Property("rows survive a CSV round trip", prop.ForAll(
		func(rows [][]string) bool {
			table := &types.Table{Columns: []string{"s", "shape", "label"}, Rows: rows}
			data, err := Encode(table)
			if err != nil {
				return false
			}
			got, err := ParseBytes(data, Options{})
			if err != nil {
				return false
			}
			if got.Len() != len(rows) {
				return false
			}
			for i := range rows {
				for j := range rows[i] {
					if got.Rows[i][j] != rows[i][j] {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(row),
	))

	properties.TestingRun(t)
}
