// Package tabular reads and writes the CSV tables exchanged with SPARQL
// endpoints and stored in the cache.
package tabular

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	geoerrors "github.com/dservsys/geolimes/internal/errors"
	"github.com/dservsys/geolimes/pkg/types"
)

// DefaultMaxFieldSize bounds a single CSV field (128 MiB). WKT literals for
// large polygons routinely exceed default parser limits.
const DefaultMaxFieldSize = 128 << 20

// Options controls parsing.
type Options struct {
	// MaxFieldSize is the largest accepted field in bytes. Zero means
	// DefaultMaxFieldSize. The raw input of one field is cut off at twice
	// this size plus its quotes, so an oversized field is never buffered
	// in full.
	MaxFieldSize int
}

func (o Options) maxFieldSize() int {
	if o.MaxFieldSize <= 0 {
		return DefaultMaxFieldSize
	}
	return o.MaxFieldSize
}

// Parse reads a header-first CSV table. An empty body yields a table with no
// columns and no rows. Rows keep the order they appear in. A quoted \r\n
// inside a field is read back as \n.
func Parse(r io.Reader, opts Options) (*types.Table, error) {
	limit := opts.maxFieldSize()

	guard := &fieldGuard{r: r, max: 2*limit + 2}
	reader := csv.NewReader(bufio.NewReader(guard))

	table := &types.Table{}
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		var oversized *oversizedField
		if errors.As(err, &oversized) {
			return nil, geoerrors.NewDecodeError(geoerrors.CodeFieldTooLarge,
				fmt.Sprintf("a field on record %d exceeds the %d byte limit", oversized.record, limit), nil).
				WithDetails(map[string]interface{}{"record": oversized.record})
		}
		if err != nil {
			return nil, malformed(err)
		}
		line++

		for i, field := range record {
			if len(field) > limit {
				return nil, geoerrors.NewDecodeError(geoerrors.CodeFieldTooLarge,
					fmt.Sprintf("field %d on record %d is %d bytes, limit is %d", i+1, line, len(field), limit), nil).
					WithDetails(map[string]interface{}{"record": line})
			}
		}

		if table.Columns == nil {
			table.Columns = record
			continue
		}
		table.Rows = append(table.Rows, record)
	}
	return table, nil
}

type oversizedField struct {
	record int
}

func (e *oversizedField) Error() string {
	return fmt.Sprintf("field on record %d is too large", e.record)
}

// fieldGuard fails the stream once the raw bytes of one field pass max.
// It tracks quoting only to know which commas and newlines end a field.
type fieldGuard struct {
	r       io.Reader
	max     int
	run     int
	quoted  bool
	records int
}

func (g *fieldGuard) Read(p []byte) (int, error) {
	n, err := g.r.Read(p)
	for i := 0; i < n; i++ {
		switch c := p[i]; {
		case c == '"':
			g.quoted = !g.quoted
		case !g.quoted && c == ',':
			g.run = 0
			continue
		case !g.quoted && c == '\n':
			g.run = 0
			g.records++
			continue
		}
		g.run++
		if g.run > g.max {
			return i, &oversizedField{record: g.records + 1}
		}
	}
	return n, err
}

// ParseBytes is Parse over an in-memory body.
func ParseBytes(data []byte, opts Options) (*types.Table, error) {
	return Parse(bytes.NewReader(data), opts)
}

func malformed(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return geoerrors.NewDecodeError(geoerrors.CodeMalformedTable,
			fmt.Sprintf("malformed CSV at line %d column %d", pe.Line, pe.Column), pe.Err).
			WithDetails(map[string]interface{}{"line": pe.Line})
	}
	return geoerrors.NewDecodeError(geoerrors.CodeMalformedTable, "failed to read CSV", err)
}

// Write emits the header followed by every row. No positional index column
// is written.
func Write(w io.Writer, table *types.Table) error {
	if table == nil {
		return geoerrors.NewInternalError("write called with nil table", nil)
	}

	cw := csv.NewWriter(w)
	write := func(record []string) error {
		// A lone empty field would be written as a blank line, which
		// readers skip.
		if len(record) == 1 && record[0] == "" {
			cw.Flush()
			if err := cw.Error(); err != nil {
				return err
			}
			_, err := io.WriteString(w, "\"\"\n")
			return err
		}
		return cw.Write(record)
	}

	if err := write(table.Columns); err != nil {
		return err
	}
	for _, row := range table.Rows {
		if err := write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Encode renders a table to CSV bytes.
func Encode(table *types.Table) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, table); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
