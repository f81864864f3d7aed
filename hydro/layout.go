package hydro

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownLayout = errors.New("unknown layout")
	ErrUnknownColumn = errors.New("unknown measurement column")
)

// Layout describes one fixed raw-log column schema. Positions index into the
// raw CSV record; Columns names them, Columns[0] is always the timestamp.
type Layout struct {
	Kind      string
	Positions []int
	Columns   []string
	// timeLayouts are tried in order. An empty list means format-free parsing.
	timeLayouts []string
	outLayout   string
}

const TimeColumn = "DateTime"

var (
	layoutH00 = Layout{
		Kind:        "h00",
		Positions:   []int{0, 6, 7, 8},
		Columns:     []string{TimeColumn, "PDIT705", "PDIT706", "PDIT707"},
		timeLayouts: []string{"1/2/2006 15:04:05.999999999"},
		outLayout:   "2006-01-02 15:04:05.000000",
	}
	layoutH0M = Layout{
		Kind:        "h0m",
		Positions:   append([]int{0}, seq(13, 22)...),
		Columns:     []string{TimeColumn, "FIT600", "FT702", "FT750", "PIT700", "PIT780", "PDIT700", "PDIT704", "PDIT780", "ZC742", "ZC762"},
		timeLayouts: []string{"1/2/2006 15:04:05"},
		outLayout:   "2006-01-02 15:04:05",
	}
	layoutH19 = Layout{
		Kind:      "h19",
		Positions: append([]int{0}, seq(3, 25)...),
		Columns: []string{TimeColumn,
			"TE629", "TE701", "TE705",
			"TE706A_1", "TE706A_2", "TE706B_1", "TE706B_2", "TE706C_1", "TE706C_2",
			"TE707A", "TE707B", "TE707C",
			"TE708A_1", "TE708A_2", "TE708B_1", "TE708B_2", "TE708C_1", "TE708C_2",
			"TE709A", "TE709B", "TE709C",
			"TE741A", "TE743"},
		outLayout: "2006-01-02 15:04:05.999999999",
	}
)

// freeTimeLayouts covers what the h19 thermocouple logger has been seen to
// emit plus the usual ISO variants.
var freeTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"1/2/2006 15:04:05.999999999",
	"1/2/2006 15:04",
	"1/2/2006 3:04:05 PM",
	"2006/01/02 15:04:05.999999999",
}

func seq(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

// Layouts returns the three layouts in processing order.
func Layouts() []Layout {
	return []Layout{layoutH00, layoutH0M, layoutH19}
}

func LayoutByKind(kind string) (Layout, error) {
	for _, l := range Layouts() {
		if strings.EqualFold(l.Kind, kind) {
			return l, nil
		}
	}
	return Layout{}, fmt.Errorf("%w: %q", ErrUnknownLayout, kind)
}

// LayoutForColumn finds the layout carrying a measurement column. Matching is
// case-insensitive so "pdit700" works from the command line.
func LayoutForColumn(column string) (Layout, error) {
	for _, l := range Layouts() {
		if _, ok := l.ColumnIndex(column); ok {
			return l, nil
		}
	}
	return Layout{}, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
}

// ColumnIndex returns the index of a measurement column within Columns.
// The timestamp column is not a measurement and never matches.
func (l Layout) ColumnIndex(column string) (int, bool) {
	for i := 1; i < len(l.Columns); i++ {
		if strings.EqualFold(l.Columns[i], column) {
			return i, true
		}
	}
	return 0, false
}

// Suffix is the raw and artifact file name suffix, e.g. "h0m.csv".
func (l Layout) Suffix() string {
	return l.Kind + ".csv"
}

// RawFileName is the instrument log name for a run, e.g. "rd181211_h0m.csv".
func (l Layout) RawFileName(run string) string {
	return run + "_" + l.Suffix()
}

func (l Layout) ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	layouts := l.timeLayouts
	if len(layouts) == 0 {
		layouts = freeTimeLayouts
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported %s timestamp %q", l.Kind, s)
}

// FormatTime renders an artifact timestamp. Format-free layouts keep the
// sub-second part as read, and a parsed UTC offset as RFC 3339.
func (l Layout) FormatTime(t time.Time) string {
	if len(l.timeLayouts) == 0 && t.Location() != time.UTC {
		return t.Format(time.RFC3339Nano)
	}
	return t.Format(l.outLayout)
}
