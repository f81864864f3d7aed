package hydro

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is a time-of-day interval [Start, Stop], both inclusive. Calendar
// dates are ignored. A window whose Start is after its Stop wraps past
// midnight, e.g. 23:50-00:10.
type Window struct {
	Start time.Duration
	Stop  time.Duration
}

// ParseWindow parses "H:MM" or "HH:MM" clock strings, with optional ":SS".
func ParseWindow(start, stop string) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("window start: %w", err)
	}
	e, err := ParseClock(stop)
	if err != nil {
		return Window{}, fmt.Errorf("window stop: %w", err)
	}
	return Window{Start: s, Stop: e}, nil
}

func ParseClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	limits := []int{23, 59, 59}
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, p := range parts {
		if p == "" || len(p) > 2 || (i > 0 && len(p) != 2) {
			return 0, fmt.Errorf("invalid clock %q", s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("invalid clock %q", s)
		}
		d += time.Duration(n) * units[i]
	}
	return d, nil
}

// TimeOfDay returns the offset of t from its own midnight, nanosecond precise.
func TimeOfDay(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
}

func (w Window) Contains(t time.Time) bool {
	tod := TimeOfDay(t)
	if w.Start <= w.Stop {
		return tod >= w.Start && tod <= w.Stop
	}
	return tod >= w.Start || tod <= w.Stop
}

func (w Window) String() string {
	return formatClock(w.Start) + "-" + formatClock(w.Stop)
}

func formatClock(d time.Duration) string {
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if s == 0 {
		return fmt.Sprintf("%02d:%02d", h, m)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
