package hydro

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// preambleRows is the number of label/unit rows every instrument log starts with.
const preambleRows = 2

// naTokens mirrors the strings pandas read_csv treats as missing by default.
var naTokens = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

func isMissing(cell string) bool {
	_, ok := naTokens[strings.TrimSpace(cell)]
	return ok
}

type Row struct {
	Time   time.Time
	Values []float64
}

// Table is a record set in one layout. Columns excludes the timestamp column;
// Row.Values is parallel to Columns.
type Table struct {
	Layout  Layout
	Columns []string
	Rows    []Row
}

// ReadStats counts what ReadRaw did with the source rows.
type ReadStats struct {
	Lines      int
	Incomplete int
}

// ReadRaw reads an instrument log in the given layout. Rows with a missing
// value in any selected column are dropped. A timestamp that does not parse or
// a measurement that is neither numeric nor missing fails the whole read.
func ReadRaw(r io.Reader, layout Layout) (*Table, ReadStats, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	var st ReadStats
	t := &Table{Layout: layout, Columns: append([]string(nil), layout.Columns[1:]...)}
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, st, fmt.Errorf("%s line %d: %w", layout.Kind, line, err)
		}
		if line <= preambleRows {
			continue
		}
		st.Lines++

		incomplete := false
		for _, pos := range layout.Positions {
			if pos >= len(record) || isMissing(record[pos]) {
				incomplete = true
				break
			}
		}
		if incomplete {
			st.Incomplete++
			continue
		}

		ts, err := layout.ParseTime(record[layout.Positions[0]])
		if err != nil {
			return nil, st, fmt.Errorf("line %d: %w", line, err)
		}
		values := make([]float64, len(layout.Positions)-1)
		for i, pos := range layout.Positions[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[pos]), 64)
			if err != nil {
				return nil, st, fmt.Errorf("%s line %d column %s: invalid value %q", layout.Kind, line, layout.Columns[i+1], record[pos])
			}
			values[i] = v
		}
		t.Rows = append(t.Rows, Row{Time: ts, Values: values})
	}
	return t, st, nil
}

// Window returns a new table holding only the rows whose time of day lies in w.
func (t *Table) Window(w Window) *Table {
	out := &Table{Layout: t.Layout, Columns: t.Columns}
	for _, row := range t.Rows {
		if w.Contains(row.Time) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// WriteCSV writes the table with a DateTime header column. Output depends only
// on the table contents, so equal tables always produce equal bytes.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := append([]string{TimeColumn}, t.Columns...)
	if err := cw.Write(header); err != nil {
		return err
	}
	record := make([]string, len(header))
	for _, row := range t.Rows {
		record[0] = t.Layout.FormatTime(row.Time)
		for i, v := range row.Values {
			record[i+1] = formatValue(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// formatValue renders the shortest text that round-trips, empty for NaN.
func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
