package hydro

import (
	"context"
	"fmt"
	"math"
	"time"
)

// TrialGroup is three repeated trials of one condition with the catalyst flow
// reported for each trial, parallel to Items.
type TrialGroup struct {
	Items   []string
	CatFlow []float64
}

// StatsRow describes one trial's target column.
type StatsRow struct {
	Item    string
	Start   time.Time
	Stop    time.Time
	CatFlow float64
	Mean    float64
	Std     float64
	Max     float64
	Min     float64
}

// WideTable holds several series side by side, aligned by row position and
// not by timestamp. Its length is the longest series; shorter series read as
// missing past their end.
type WideTable struct {
	series []Series
	rows   int
}

// JoinWide concatenates series column-wise in argument order.
func JoinWide(series ...Series) *WideTable {
	w := &WideTable{series: series}
	for _, s := range series {
		if s.Len() > w.rows {
			w.rows = s.Len()
		}
	}
	return w
}

func (w *WideTable) Len() int {
	return w.rows
}

// Columns names the wide table columns: DateTime<item>, <item> per series.
func (w *WideTable) Columns() []string {
	out := make([]string, 0, 2*len(w.series))
	for _, s := range w.series {
		out = append(out, TimeColumn+s.Item, s.Item)
	}
	return out
}

func (w *WideTable) find(item string) (Series, bool) {
	for _, s := range w.series {
		if s.Item == item {
			return s, true
		}
	}
	return Series{}, false
}

// Time returns the timestamp cell of item at row i; ok is false for a missing cell.
func (w *WideTable) Time(item string, i int) (time.Time, bool) {
	s, found := w.find(item)
	if !found || i < 0 || i >= s.Len() || s.Times[i].IsZero() {
		return time.Time{}, false
	}
	return s.Times[i], true
}

// Value returns the value cell of item at row i, NaN when missing.
func (w *WideTable) Value(item string, i int) float64 {
	s, found := w.find(item)
	if !found || i < 0 || i >= len(s.Values) {
		return math.NaN()
	}
	return s.Values[i]
}

// Describe computes the statistics row for one item. Start is the first row's
// timestamp and Stop the timestamp at the item's last valid row, so trials of
// different lengths have their own bounds.
func (w *WideTable) Describe(item string, catflow float64) (StatsRow, error) {
	s, ok := w.find(item)
	if !ok {
		return StatsRow{}, fmt.Errorf("item %s not in wide table", item)
	}
	row := StatsRow{Item: item, CatFlow: catflow}
	row.Start, _ = w.Time(item, 0)
	for i := w.rows - 1; i >= 0; i-- {
		if ts, ok := w.Time(item, i); ok {
			row.Stop = ts
			break
		}
	}
	sum := Describe(s.Values)
	row.Mean, row.Std, row.Max, row.Min = sum.Mean, sum.Std, sum.Max, sum.Min
	return row, nil
}

// Aggregate loads the windowed tables of a trial group and describes the
// target column of each trial. Any missing table or column aborts the whole
// group; rows come back in group order.
func Aggregate(ctx context.Context, store ArtifactStore, index *ArtifactIndex, layout Layout, column string, group TrialGroup) ([]StatsRow, error) {
	if len(group.CatFlow) != len(group.Items) {
		return nil, fmt.Errorf("trial group has %d items but %d catflow labels", len(group.Items), len(group.CatFlow))
	}
	series := make([]Series, 0, len(group.Items))
	for _, item := range group.Items {
		s, err := LoadSeries(ctx, store, index, layout, item, column)
		if err != nil {
			return nil, err
		}
		series = append(series, s)
	}
	wide := JoinWide(series...)
	rows := make([]StatsRow, 0, len(group.Items))
	for i, item := range group.Items {
		row, err := wide.Describe(item, group.CatFlow[i])
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// LoadSeries resolves an item through the index and reads one column from it.
func LoadSeries(ctx context.Context, store ArtifactStore, index *ArtifactIndex, layout Layout, itemKey, column string) (Series, error) {
	key, err := index.Lookup(itemKey, layout)
	if err != nil {
		return Series{}, err
	}
	rc, err := store.Get(ctx, key)
	if err != nil {
		return Series{}, fmt.Errorf("open %s: %w", key, err)
	}
	defer rc.Close()
	return ReadSeries(rc, itemKey, column)
}
