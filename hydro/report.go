package hydro

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// StatsHeader is the column order of every per-trial statistics table.
var StatsHeader = []string{"item", "start", "stop", "catflow", "mean", "std", "max", "min"}

// ConditionOrder is the catalyst-flow order of the rows in a gas level table.
var ConditionOrder = []string{"none", "low", "mid", "high"}

// StatsTable is a named set of trial statistics for one measurement column.
type StatsTable struct {
	Name   string
	Column string
	Layout Layout
	Rows   []StatsRow
}

// FileName is the results file for the table, e.g. "pdit700_low.csv".
func (t StatsTable) FileName() string {
	return t.Name + ".csv"
}

func (t StatsTable) Records() [][]string {
	out := make([][]string, 0, len(t.Rows)+1)
	out = append(out, append([]string(nil), StatsHeader...))
	for _, r := range t.Rows {
		out = append(out, []string{
			r.Item,
			formatStatsTime(t.Layout, r.Start),
			formatStatsTime(t.Layout, r.Stop),
			formatValue(r.CatFlow),
			formatValue(r.Mean),
			formatValue(r.Std),
			formatValue(r.Max),
			formatValue(r.Min),
		})
	}
	return out
}

func formatStatsTime(l Layout, t time.Time) string {
	if t.IsZero() {
		return ""
	}
	if l.outLayout == "" {
		return t.Format("2006-01-02 15:04:05")
	}
	return l.FormatTime(t)
}

// ReadStatsTable parses a statistics table written by WriteRecords. Empty
// numeric cells read back as NaN.
func ReadStatsTable(r io.Reader) ([]StatsRow, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty stats table")
		}
		return nil, err
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, name := range StatsHeader {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("stats table: %w: %s", ErrColumnNotFound, name)
		}
	}
	var rows []StatsRow
	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("stats table line %d: %w", line, err)
		}
		row := StatsRow{Item: rec[idx["item"]]}
		if row.Start, err = parseOptionalTime(rec[idx["start"]]); err != nil {
			return nil, fmt.Errorf("stats table line %d: %w", line, err)
		}
		if row.Stop, err = parseOptionalTime(rec[idx["stop"]]); err != nil {
			return nil, fmt.Errorf("stats table line %d: %w", line, err)
		}
		fields := []struct {
			name string
			dst  *float64
		}{
			{"catflow", &row.CatFlow}, {"mean", &row.Mean}, {"std", &row.Std}, {"max", &row.Max}, {"min", &row.Min},
		}
		for _, f := range fields {
			v, err := parseOptionalFloat(rec[idx[f.name]])
			if err != nil {
				return nil, fmt.Errorf("stats table line %d %s: %w", line, f.name, err)
			}
			*f.dst = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseOptionalTime(s string) (time.Time, error) {
	if isMissing(s) {
		return time.Time{}, nil
	}
	return parseArtifactTime(s)
}

func parseOptionalFloat(s string) (float64, error) {
	if isMissing(s) {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// ComparisonRow holds one trial's mean at each process gas level.
type ComparisonRow struct {
	CatFlow string
	GasLow  float64
	GasMid  float64
	GasHigh float64
}

type ComparisonTable struct {
	Column string
	Rows   []ComparisonRow
}

func (t ComparisonTable) FileName() string {
	return strings.ToLower(t.Column) + "_gas.csv"
}

func (t ComparisonTable) Records() [][]string {
	out := [][]string{{"catflow", "gas_low", "gas_mid", "gas_high"}}
	for _, r := range t.Rows {
		out = append(out, []string{r.CatFlow, formatValue(r.GasLow), formatValue(r.GasMid), formatValue(r.GasHigh)})
	}
	return out
}

// conditionRows is the row count of a gas level table: four conditions of
// three trials each.
const conditionRows = 12

// CompareGasLevels lines up the low, mid and high gas level tables row by row.
// Row i belongs to condition ConditionOrder[i/3].
func CompareGasLevels(column string, low, mid, high []StatsRow) (ComparisonTable, error) {
	for i, rows := range [][]StatsRow{low, mid, high} {
		if len(rows) != conditionRows {
			return ComparisonTable{}, fmt.Errorf("%s gas table has %d rows, want %d", GasLevelNames[i], len(rows), conditionRows)
		}
	}
	t := ComparisonTable{Column: column, Rows: make([]ComparisonRow, 0, conditionRows)}
	for i := 0; i < conditionRows; i++ {
		t.Rows = append(t.Rows, ComparisonRow{
			CatFlow: ConditionOrder[i/3],
			GasLow:  low[i].Mean,
			GasMid:  mid[i].Mean,
			GasHigh: high[i].Mean,
		})
	}
	return t, nil
}

// ResultTable is anything that renders to a results CSV and a workbook sheet.
type ResultTable interface {
	FileName() string
	Records() [][]string
}

func encodeRecords(records [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteRecords writes a result table as CSV.
func WriteRecords(w io.Writer, t ResultTable) error {
	b, err := encodeRecords(t.Records())
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
