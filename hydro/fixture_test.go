package hydro

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// rawRecord builds one instrument log line for a layout: the timestamp at
// position 0, values at the layout's measurement positions, filler elsewhere.
func rawRecord(l Layout, ts string, values ...string) string {
	width := l.Positions[len(l.Positions)-1] + 1
	cells := make([]string, width)
	for i := range cells {
		cells[i] = "9"
	}
	cells[0] = ts
	for i, pos := range l.Positions[1:] {
		v := "1"
		if i < len(values) {
			v = values[i]
		}
		cells[pos] = v
	}
	return strings.Join(cells, ",")
}

// rawLog prepends the two label rows every logger writes.
func rawLog(lines ...string) string {
	return "Tag,Description\nUnits,-\n" + strings.Join(lines, "\n") + "\n"
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func mustLayout(t *testing.T, kind string) Layout {
	t.Helper()
	l, err := LayoutByKind(kind)
	if err != nil {
		t.Fatal(err)
	}
	return l
}
