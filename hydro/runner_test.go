package hydro

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

// testRuns maps three raw log runs to the twelve items recorded in each.
var testRuns = []string{"rdA", "rdB", "rdC"}

// testDesign has 36 items. Item i lives in run testRuns[(i-1)/12] and keeps
// the window H:00-H:02 with H = (i-1)%12 + 1.
func testDesign(t *testing.T) *Design {
	t.Helper()
	var b strings.Builder
	b.WriteString("manifest:\n")
	for i := 1; i <= 36; i++ {
		h := (i-1)%12 + 1
		fmt.Fprintf(&b, "  - {item: %d, run: %s, start: \"%d:00\", stop: \"%d:02\"}\n", i, testRuns[(i-1)/12], h, h)
	}
	b.WriteString("gas_levels:\n")
	for g, name := range GasLevelNames {
		fmt.Fprintf(&b, "  - name: %s\n    gas_flow: %d\n    conditions:\n", name, 320+80*g)
		// Listed out of order on purpose; tables follow ConditionOrder.
		for _, c := range []int{3, 0, 2, 1} {
			first := g*12 + c*3 + 1
			label := float64(c) * 45.5
			fmt.Fprintf(&b, "      - {name: %s, items: [\"%03d\", \"%03d\", \"%03d\"], catflow: [%g, %g, %g]}\n",
				ConditionOrder[c], first, first+1, first+2, label, label, label)
		}
	}
	b.WriteString("max_catalyst:\n  column: PDIT700\n  items: [\"001\", \"005\"]\n  catflow: [266.0, 356.1]\n")
	d, err := ParseDesign([]byte(b.String()))
	if err != nil {
		t.Fatalf("test design: %v\n%s", err, b.String())
	}
	return d
}

func layoutStamp(l Layout, h, m int) string {
	switch l.Kind {
	case "h00":
		return fmt.Sprintf("12/11/2018 %d:%02d:00.000000", h, m)
	case "h0m":
		return fmt.Sprintf("12/11/2018 %d:%02d:00", h, m)
	default:
		return fmt.Sprintf("2018-12-11 %02d:%02d:00", h, m)
	}
}

// writeRawLogs writes every layout's log for a run. Each hour H carries the
// readings of item run*12+H at minutes 0..3 with value item*10+minute.
func writeRawLogs(t *testing.T, rawDir string, runIdx int) {
	t.Helper()
	for _, l := range Layouts() {
		var lines []string
		for h := 1; h <= 12; h++ {
			item := runIdx*12 + h
			for m := 0; m <= 3; m++ {
				v := fmt.Sprint(item*10 + m)
				vals := make([]string, len(l.Columns)-1)
				for i := range vals {
					vals[i] = v
				}
				lines = append(lines, rawRecord(l, layoutStamp(l, h, m), vals...))
			}
		}
		writeFile(t, filepath.Join(rawDir, l.RawFileName(testRuns[runIdx])), rawLog(lines...))
	}
}

type testEnv struct {
	root       string
	rawDir     string
	resultsDir string
	store      *FileStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	env := &testEnv{
		root:       root,
		rawDir:     filepath.Join(root, "original-hydro"),
		resultsDir: filepath.Join(root, "results-hydro"),
	}
	for i := range testRuns {
		writeRawLogs(t, env.rawDir, i)
	}
	store, err := NewFileStore(filepath.Join(root, "processed-hydro"))
	if err != nil {
		t.Fatal(err)
	}
	env.store = store
	return env
}

func (e *testEnv) runner(t *testing.T, force bool) *Runner {
	t.Helper()
	r, err := NewRunner(RunnerConfig{
		RawDir:          e.rawDir,
		ResultsDir:      e.resultsDir,
		DBPath:          filepath.Join(e.root, "registry.db"),
		Design:          testDesign(t),
		Store:           e.store,
		Force:           force,
		MetricsTextfile: filepath.Join(e.root, "riser_hydro.prom"),
		Workbook:        filepath.Join(e.root, "results.xlsx"),
		AtmospherePath:  filepath.Join(e.rawDir, "pit000_patm.csv"),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func snapshot(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	out := map[string][]byte{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		out[e.Name()] = b
	}
	return out
}

func TestNewRunner_RequiresDBAndStore(t *testing.T) {
	if _, err := NewRunner(RunnerConfig{Store: newMemStore()}); err == nil {
		t.Fatalf("expected DBPath error")
	}
	if _, err := NewRunner(RunnerConfig{DBPath: filepath.Join(t.TempDir(), "r.db")}); err == nil {
		t.Fatalf("expected Store error")
	}
}

func TestRunner_ProcessWritesWindowedTables(t *testing.T) {
	env := newTestEnv(t)
	r := env.runner(t, false)
	ctx := context.Background()

	report, err := r.Process(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Entries != 36 || report.Written != 108 || report.Failed() != 0 || report.Err() != nil {
		t.Fatalf("unexpected report %+v", report)
	}

	files := snapshot(t, env.store.Dir())
	if len(files) != 108 {
		t.Fatalf("expected 108 windowed tables, got %d", len(files))
	}
	h0m := files["013_rdB_h0m.csv"]
	lines := strings.Split(strings.TrimSpace(string(h0m)), "\n")
	// Header plus minutes 0, 1 and 2; minute 3 is outside the window.
	if len(lines) != 4 {
		t.Fatalf("expected 3 rows in window, got:\n%s", h0m)
	}
	if !strings.HasPrefix(lines[1], "2018-12-11 01:00:00,130,") || !strings.HasPrefix(lines[3], "2018-12-11 01:02:00,132,") {
		t.Fatalf("unexpected window rows:\n%s", h0m)
	}
	for name, b := range files {
		if bytes.Contains(b, []byte(",,")) {
			t.Fatalf("%s has a missing cell", name)
		}
	}

	var recs []WindowedArtifact
	if err := r.db.Find(&recs).Error; err != nil {
		t.Fatal(err)
	}
	if len(recs) != 108 {
		t.Fatalf("expected 108 registry rows, got %d", len(recs))
	}
	var runs []IngestRun
	if err := r.db.Find(&runs).Error; err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].RunID != report.RunID || runs[0].Written != 108 || runs[0].FinishedAt == nil {
		t.Fatalf("unexpected ingest runs %+v", runs)
	}

	prom, err := os.ReadFile(filepath.Join(env.root, "riser_hydro.prom"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(prom), `riser_hydro_entries_total{outcome="written"} 36`) {
		t.Fatalf("unexpected metrics:\n%s", prom)
	}
}

func TestRunner_ReprocessIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.runner(t, false).Process(ctx); err != nil {
		t.Fatal(err)
	}
	before := snapshot(t, env.store.Dir())

	report, err := env.runner(t, false).Process(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Written != 0 || report.Skipped != 108 {
		t.Fatalf("expected every table skipped, got %+v", report)
	}
	prom, err := os.ReadFile(filepath.Join(env.root, "riser_hydro.prom"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(prom), `riser_hydro_entries_total{outcome="skipped"} 36`) ||
		strings.Contains(string(prom), `riser_hydro_entries_total{outcome="written"}`) {
		t.Fatalf("expected unchanged entries counted as skipped:\n%s", prom)
	}

	report, err = env.runner(t, true).Process(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Written != 108 {
		t.Fatalf("expected forced rewrite, got %+v", report)
	}
	after := snapshot(t, env.store.Dir())
	for name, b := range before {
		if !bytes.Equal(b, after[name]) {
			t.Fatalf("%s changed across identical runs", name)
		}
	}

	// A changed raw log re-ingests only the entries cut from it.
	p := filepath.Join(env.rawDir, "rdA_h0m.csv")
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, p, string(b)+rawRecord(mustLayout(t, "h0m"), "12/11/2018 23:59:00")+"\n")
	report, err = env.runner(t, false).Process(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Written != 12 || report.Skipped != 96 {
		t.Fatalf("expected only rdA h0m tables rewritten, got %+v", report)
	}
}

func TestRunner_ProcessContinuesPastFailingEntries(t *testing.T) {
	env := newTestEnv(t)
	if err := os.Remove(filepath.Join(env.rawDir, "rdB_h00.csv")); err != nil {
		t.Fatal(err)
	}
	report, err := env.runner(t, false).Process(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed() != 12 || report.Written != 72 {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, e := range report.Errors {
		if e.Run != "rdB" || e.Layout != "h00" {
			t.Fatalf("unexpected failure %v", e)
		}
		if !errors.Is(e, os.ErrNotExist) {
			t.Fatalf("expected a missing raw log cause, got %v", e.Err)
		}
	}
	if report.Err() == nil {
		t.Fatalf("expected joined error")
	}
	files := snapshot(t, env.store.Dir())
	// Layouts after the failing one are not attempted.
	if _, ok := files["013_rdB_h0m.csv"]; ok {
		t.Fatalf("expected rdB h0m skipped after the h00 failure")
	}
	if _, ok := files["025_rdC_h19.csv"]; !ok {
		t.Fatalf("expected entries after the failure to be processed")
	}
}

func TestRunner_ProcessHonoursCancellation(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := env.runner(t, false).Process(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunner_ConditionStats(t *testing.T) {
	env := newTestEnv(t)
	r := env.runner(t, false)
	ctx := context.Background()
	if _, err := r.Process(ctx); err != nil {
		t.Fatal(err)
	}

	tab, err := r.ConditionStats(ctx, "pdit700", "low")
	if err != nil {
		t.Fatal(err)
	}
	if len(tab.Rows) != 12 {
		t.Fatalf("expected 12 rows, got %d", len(tab.Rows))
	}
	for i, row := range tab.Rows {
		item := i + 1
		if row.Item != ItemKey(item) {
			t.Fatalf("row %d: expected item %03d, got %s", i, item, row.Item)
		}
		if row.Mean != float64(item*10+1) || row.Min != float64(item*10) || row.Max != float64(item*10+2) || row.Std != 1 {
			t.Fatalf("row %d: unexpected stats %+v", i, row)
		}
		if want := float64(i/3) * 45.5; row.CatFlow != want {
			t.Fatalf("row %d: expected catflow %v, got %v", i, want, row.CatFlow)
		}
	}

	b, err := os.ReadFile(filepath.Join(env.resultsDir, "pdit700_low.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 13 || lines[0] != "item,start,stop,catflow,mean,std,max,min" {
		t.Fatalf("unexpected results file:\n%s", b)
	}
	if lines[1] != "001,2018-12-11 01:00:00,2018-12-11 01:02:00,0,11,1,12,10" {
		t.Fatalf("unexpected first row %q", lines[1])
	}

	if _, err := r.ConditionStats(ctx, "TE709C", "high"); err != nil {
		t.Fatalf("thermocouple stats: %v", err)
	}
	if _, err := r.ConditionStats(ctx, "NOPE", "low"); !errors.Is(err, ErrUnknownColumn) {
		t.Fatalf("expected ErrUnknownColumn, got %v", err)
	}
}

func TestRunner_ConditionStatsMissingTableIsFatal(t *testing.T) {
	env := newTestEnv(t)
	r := env.runner(t, false)
	ctx := context.Background()
	if _, err := r.Process(ctx); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(env.store.Dir(), "005_rdA_h0m.csv")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ConditionStats(ctx, "PDIT700", "low"); err == nil {
		t.Fatalf("expected error for a missing windowed table")
	}
	if _, err := os.Stat(filepath.Join(env.resultsDir, "pdit700_low.csv")); !os.IsNotExist(err) {
		t.Fatalf("expected no partial results file, got %v", err)
	}
}

func TestRunner_GasComparisonAndMaxCatalyst(t *testing.T) {
	env := newTestEnv(t)
	r := env.runner(t, false)
	ctx := context.Background()
	if _, err := r.Process(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ConditionStats(ctx, "PDIT700", "low"); err != nil {
		t.Fatal(err)
	}

	cmp, err := r.GasComparison(ctx, "PDIT700")
	if err != nil {
		t.Fatal(err)
	}
	if len(cmp.Rows) != 12 {
		t.Fatalf("expected 12 rows, got %d", len(cmp.Rows))
	}
	if r0 := cmp.Rows[0]; r0.CatFlow != "none" || r0.GasLow != 11 || r0.GasMid != 131 || r0.GasHigh != 251 {
		t.Fatalf("unexpected first row %+v", r0)
	}
	for _, name := range []string{"pdit700_mid.csv", "pdit700_high.csv", "pdit700_gas.csv"} {
		if _, err := os.Stat(filepath.Join(env.resultsDir, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}

	mc, err := r.MaxCatalyst(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(mc.Rows) != 2 || mc.Rows[0].CatFlow != 266.0 || mc.Rows[1].Item != "005" || mc.Rows[1].Mean != 51 {
		t.Fatalf("unexpected max catalyst rows %+v", mc.Rows)
	}
	if mc.FileName() != "pdit700_maxcat.csv" {
		t.Fatalf("unexpected file %q", mc.FileName())
	}
}

func TestRunner_IndexFallsBackToListing(t *testing.T) {
	env := newTestEnv(t)
	r := env.runner(t, false)
	ctx := context.Background()
	if _, err := r.Process(ctx); err != nil {
		t.Fatal(err)
	}
	// Tables copied in from elsewhere have no registry row.
	if _, err := env.store.Put(ctx, "201_rdX_h0m.csv", []byte("DateTime,PDIT700\n")); err != nil {
		t.Fatal(err)
	}
	idx, err := r.Index(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if k, err := idx.Lookup("201", mustLayout(t, "h0m")); err != nil || k != "201_rdX_h0m.csv" {
		t.Fatalf("expected listing fallback, got %q %v", k, err)
	}
	if idx.Len() != 109 {
		t.Fatalf("expected 109 indexed tables, got %d", idx.Len())
	}
}

func TestRunner_AtmosphereAndWorkbook(t *testing.T) {
	env := newTestEnv(t)
	r := env.runner(t, false)
	ctx := context.Background()
	writeFile(t, filepath.Join(env.rawDir, "pit000_patm.csv"),
		"Date,Time,PIT000,,Date,Time,PIT000\n12/10/2018,08:00,81.5,,12/11/2018,08:00,82\n12/10/2018,08:01,81.7,,,,\n")

	atm, err := r.Atmosphere(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(atm.Rows) != 2 || atm.Rows[1].Date != "12/11/2018" {
		t.Fatalf("unexpected atmosphere table %+v", atm)
	}
	if _, err := r.Process(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ConditionStats(ctx, "PDIT705", "mid"); err != nil {
		t.Fatal(err)
	}

	p, err := r.ExportWorkbook(ctx)
	if err != nil {
		t.Fatal(err)
	}
	f, err := excelize.OpenFile(p)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) != 2 || sheets[0] != "pdit705_mid" || sheets[1] != "pit000_patm" {
		t.Fatalf("unexpected sheets %v", sheets)
	}
}

func TestRunner_WorksWithAnyStore(t *testing.T) {
	env := newTestEnv(t)
	mem := newMemStore()
	r, err := NewRunner(RunnerConfig{
		RawDir:     env.rawDir,
		ResultsDir: env.resultsDir,
		DBPath:     filepath.Join(env.root, "mem.db"),
		Design:     testDesign(t),
		Store:      mem,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	ctx := context.Background()
	if _, err := r.Process(ctx); err != nil {
		t.Fatal(err)
	}
	rc, err := mem.Get(ctx, "001_rdA_h19.csv")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(rc)
	if !strings.HasPrefix(string(b), "DateTime,TE629,") {
		t.Fatalf("unexpected h19 table:\n%s", b)
	}
	if _, err := r.ConditionStats(ctx, "TE701", "low"); err != nil {
		t.Fatal(err)
	}
}
