package hydro

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// The atmospheric log keeps one day per block of four columns:
// Date, Time, PIT000 and an empty spacer.
const (
	atmosphereBlock    = 4
	atmosphereDateCol  = 0
	atmosphereValueCol = 2
)

// AtmosphereRow summarizes one day of PIT000 readings [kPa].
type AtmosphereRow struct {
	Date string
	Summary
}

type AtmosphereTable struct {
	Rows []AtmosphereRow
}

func (AtmosphereTable) FileName() string { return "pit000_patm.csv" }

func (t AtmosphereTable) Records() [][]string {
	out := [][]string{{"date", "count", "min", "max", "mean", "std"}}
	for _, r := range t.Rows {
		out = append(out, []string{r.Date, strconv.Itoa(r.Count), formatValue(r.Min), formatValue(r.Max), formatValue(r.Mean), formatValue(r.Std)})
	}
	return out
}

// SummarizeAtmosphere reads the side-by-side daily PIT000 log and describes
// each day. Days have different lengths, so short columns end in blanks.
func SummarizeAtmosphere(r io.Reader) (AtmosphereTable, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return AtmosphereTable{}, fmt.Errorf("atmosphere log is empty")
		}
		return AtmosphereTable{}, err
	}
	var blocks []int
	for start := 0; start+atmosphereValueCol < len(header); start += atmosphereBlock {
		name := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(header[start+atmosphereValueCol], "\ufeff")))
		if !strings.HasPrefix(name, "PIT000") {
			return AtmosphereTable{}, fmt.Errorf("atmosphere log column %d: %w: PIT000 (got %q)", start+atmosphereValueCol+1, ErrColumnNotFound, header[start+atmosphereValueCol])
		}
		blocks = append(blocks, start)
	}
	if len(blocks) == 0 {
		return AtmosphereTable{}, fmt.Errorf("atmosphere log: %w: PIT000", ErrColumnNotFound)
	}

	dates := make([]string, len(blocks))
	values := make([][]float64, len(blocks))
	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return AtmosphereTable{}, fmt.Errorf("atmosphere log line %d: %w", line, err)
		}
		for b, start := range blocks {
			if dates[b] == "" && start+atmosphereDateCol < len(rec) && !isMissing(rec[start+atmosphereDateCol]) {
				dates[b] = strings.TrimSpace(rec[start+atmosphereDateCol])
			}
			col := start + atmosphereValueCol
			if col >= len(rec) || isMissing(rec[col]) {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
			if err != nil {
				return AtmosphereTable{}, fmt.Errorf("atmosphere log line %d: invalid PIT000 value %q", line, rec[col])
			}
			values[b] = append(values[b], v)
		}
	}

	t := AtmosphereTable{Rows: make([]AtmosphereRow, 0, len(blocks))}
	for b := range blocks {
		if len(values[b]) == 0 && dates[b] == "" {
			continue
		}
		t.Rows = append(t.Rows, AtmosphereRow{Date: dates[b], Summary: Describe(values[b])})
	}
	return t, nil
}
