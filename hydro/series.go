package hydro

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	gotaseries "github.com/go-gota/gota/series"
)

var ErrColumnNotFound = errors.New("column not found")

// Series is the (DateTime, column) pair of one item's windowed table. A zero
// Time or a NaN value marks a missing cell.
type Series struct {
	Item   string
	Column string
	Times  []time.Time
	Values []float64
}

func (s Series) Len() int {
	return len(s.Times)
}

// seriesNaN lists the cells a windowed table may carry for a missing value.
var seriesNaN = func() []string {
	out := make([]string, 0, len(naTokens))
	for tok := range naTokens {
		out = append(out, tok)
	}
	return out
}()

// ReadSeries loads only the timestamp and one measurement column from a
// windowed table. Columns match case-insensitively.
func ReadSeries(r io.Reader, itemKey, column string) (Series, error) {
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(gotaseries.String),
		dataframe.NaNValues(seriesNaN),
	)
	if df.Err != nil {
		return Series{}, fmt.Errorf("item %s: read table: %w", itemKey, df.Err)
	}
	names := df.Names()
	timeIdx, valueIdx := -1, -1
	for i, h := range names {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		switch {
		case strings.EqualFold(h, TimeColumn) && timeIdx < 0:
			timeIdx = i
		case strings.EqualFold(h, column) && valueIdx < 0:
			valueIdx = i
		}
	}
	if timeIdx < 0 {
		return Series{}, fmt.Errorf("item %s: %w: %s", itemKey, ErrColumnNotFound, TimeColumn)
	}
	if valueIdx < 0 {
		return Series{}, fmt.Errorf("item %s: %w: %s", itemKey, ErrColumnNotFound, column)
	}

	sel := df.Select([]int{timeIdx, valueIdx})
	if sel.Err != nil {
		return Series{}, fmt.Errorf("item %s: %w", itemKey, sel.Err)
	}
	times, values := sel.Col(names[timeIdx]), sel.Col(names[valueIdx])
	n := sel.Nrow()
	s := Series{Item: itemKey, Column: column, Times: make([]time.Time, n), Values: make([]float64, n)}
	for i := 0; i < n; i++ {
		// Header is line 1.
		line := i + 2
		if e := times.Elem(i); !e.IsNA() && !isMissing(e.String()) {
			ts, err := parseArtifactTime(e.String())
			if err != nil {
				return Series{}, fmt.Errorf("item %s line %d: %w", itemKey, line, err)
			}
			s.Times[i] = ts
		}
		s.Values[i] = math.NaN()
		if e := values.Elem(i); !e.IsNA() && !isMissing(e.String()) {
			v, err := strconv.ParseFloat(strings.TrimSpace(e.String()), 64)
			if err != nil {
				return Series{}, fmt.Errorf("item %s line %d: invalid %s value %q", itemKey, line, column, e.String())
			}
			s.Values[i] = v
		}
	}
	return s, nil
}

func parseArtifactTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range freeTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", s)
}
