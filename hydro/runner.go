package hydro

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RunnerConfig struct {
	RawDir     string
	ResultsDir string
	DBPath     string
	// Design defaults to the built-in experiment matrix.
	Design *Design
	// Store holds the windowed tables.
	Store ArtifactStore
	Debug bool
	// Force re-ingests entries the registry considers current.
	Force           bool
	MetricsTextfile string
	Workbook        string
	// AtmospherePath is the PIT000 log summarized by Atmosphere.
	AtmospherePath string
}

type Runner struct {
	cfg     RunnerConfig
	db      *gorm.DB
	store   ArtifactStore
	design  *Design
	metrics *batchMetrics
}

func (r *Runner) debugf(format string, args ...any) {
	if r == nil || !r.cfg.Debug {
		return
	}
	log.Printf(format, args...)
}

// EntryError is a manifest entry that could not be ingested. Layouts of the
// entry after Layout were not attempted.
type EntryError struct {
	Item   int
	Run    string
	Layout string
	Err    error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("item %03d run %s layout %s: %v", e.Item, e.Run, e.Layout, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// ProcessReport summarizes one ingestion batch.
type ProcessReport struct {
	RunID   string
	Entries int
	Written int
	Skipped int
	Errors  []*EntryError
}

func (p *ProcessReport) Failed() int { return len(p.Errors) }

// Err joins the entry errors, nil when every entry succeeded.
func (p *ProcessReport) Err() error {
	if len(p.Errors) == 0 {
		return nil
	}
	errs := make([]error, 0, len(p.Errors))
	for _, e := range p.Errors {
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if strings.TrimSpace(cfg.DBPath) == "" {
		return nil, fmt.Errorf("DBPath is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("Store is required")
	}
	if cfg.Design == nil {
		d, err := DefaultDesign()
		if err != nil {
			return nil, err
		}
		cfg.Design = d
	}
	db, err := OpenDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:     cfg,
		db:      db,
		store:   cfg.Store,
		design:  cfg.Design,
		metrics: newBatchMetrics(),
	}, nil
}

func (r *Runner) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	r.db = nil
	return err
}

// flush records the command duration and writes the metrics textfile.
func (r *Runner) flush(start time.Time) {
	r.metrics.finish(start)
	if err := r.metrics.writeTextfile(r.cfg.MetricsTextfile); err != nil {
		log.Printf("write metrics textfile path=%q err=%v", r.cfg.MetricsTextfile, err)
	}
}

// rawSource is a parsed instrument log, shared by every entry of the run.
type rawSource struct {
	table  *Table
	stats  ReadStats
	sha256 string
	err    error
}

func (r *Runner) loadRaw(run string, layout Layout, cache map[string]*rawSource) *rawSource {
	ck := run + "/" + layout.Kind
	if src, ok := cache[ck]; ok {
		return src
	}
	src := &rawSource{}
	cache[ck] = src
	p := filepath.Join(r.cfg.RawDir, layout.RawFileName(run))
	b, err := os.ReadFile(p)
	if err != nil {
		src.err = fmt.Errorf("raw log: %w", err)
		return src
	}
	sum := sha256.Sum256(b)
	src.sha256 = hex.EncodeToString(sum[:])
	src.table, src.stats, src.err = ReadRaw(bytes.NewReader(b), layout)
	if src.err != nil {
		src.err = fmt.Errorf("%s: %w", filepath.Base(p), src.err)
		return src
	}
	r.debugf("read raw path=%q lines=%d incomplete=%d", p, src.stats.Lines, src.stats.Incomplete)
	return src
}

// Process cuts every manifest entry's window out of its run's raw logs, one
// windowed table per layout. A failing entry is recorded and skipped; the
// returned error is reserved for the batch itself (context, registry).
func (r *Runner) Process(ctx context.Context) (*ProcessReport, error) {
	start := time.Now()
	defer r.flush(start)

	report := &ProcessReport{RunID: uuid.NewString()}
	run := IngestRun{RunID: report.RunID, StartedAt: start.UTC(), Design: r.cfg.Design.source()}
	if err := r.db.Create(&run).Error; err != nil {
		return nil, err
	}
	r.debugf("process start: run_id=%s entries=%d raw_dir=%q store=%s force=%v", report.RunID, len(r.design.Manifest), r.cfg.RawDir, r.store.Driver(), r.cfg.Force)

	cache := make(map[string]*rawSource)
	for _, entry := range r.design.Manifest {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Entries++
		w, err := entry.Window()
		if err != nil {
			r.recordFailure(report, entry, Layouts()[0], err)
			continue
		}
		failed, anyWritten := false, false
		for _, layout := range Layouts() {
			wrote, err := r.processLayout(ctx, report.RunID, entry, w, layout, cache)
			if err != nil {
				r.recordFailure(report, entry, layout, err)
				failed = true
				break
			}
			if wrote {
				anyWritten = true
				report.Written++
				r.metrics.artifacts.WithLabelValues(layout.Kind, OutcomeWritten).Inc()
			} else {
				report.Skipped++
				r.metrics.artifacts.WithLabelValues(layout.Kind, OutcomeSkipped).Inc()
			}
		}
		switch {
		case failed:
		case anyWritten:
			r.metrics.entries.WithLabelValues(OutcomeWritten).Inc()
		default:
			r.metrics.entries.WithLabelValues(OutcomeSkipped).Inc()
		}
	}

	finished := time.Now().UTC()
	if err := r.db.Model(&run).Updates(map[string]any{
		"finished_at": finished,
		"entries":     report.Entries,
		"written":     report.Written,
		"skipped":     report.Skipped,
		"failed":      report.Failed(),
	}).Error; err != nil {
		return report, err
	}
	log.Printf("process done: run_id=%s entries=%d written=%d skipped=%d failed=%d elapsed=%s", report.RunID, report.Entries, report.Written, report.Skipped, report.Failed(), time.Since(start))
	return report, nil
}

func (r *Runner) recordFailure(report *ProcessReport, entry ManifestEntry, layout Layout, err error) {
	ee := &EntryError{Item: entry.Item, Run: entry.Run, Layout: layout.Kind, Err: err}
	report.Errors = append(report.Errors, ee)
	r.metrics.entries.WithLabelValues(OutcomeFailed).Inc()
	r.metrics.artifacts.WithLabelValues(layout.Kind, OutcomeFailed).Inc()
	log.Printf("entry failed: %v", ee)

	rec := &WindowedArtifact{
		Item:        entry.Item,
		ItemKey:     ItemKey(entry.Item),
		Run:         entry.Run,
		Layout:      layout.Kind,
		Key:         ArtifactName(entry.Item, entry.Run, layout),
		WindowStart: entry.Start,
		WindowStop:  entry.Stop,
		RunID:       report.RunID,
		ProcessedAt: time.Now().UTC(),
		LastError:   err.Error(),
	}
	if dbErr := upsertArtifact(r.db, rec); dbErr != nil {
		log.Printf("record failure item=%03d layout=%s err=%v", entry.Item, layout.Kind, dbErr)
	}
}

// processLayout writes one windowed table. It reports false when the registry
// already holds an identical table for the entry.
func (r *Runner) processLayout(ctx context.Context, runID string, entry ManifestEntry, w Window, layout Layout, cache map[string]*rawSource) (bool, error) {
	src := r.loadRaw(entry.Run, layout, cache)
	if src.err != nil {
		return false, src.err
	}
	key := ArtifactName(entry.Item, entry.Run, layout)

	if !r.cfg.Force {
		current, err := r.isUpToDate(ctx, entry, layout, key, src.sha256)
		if err != nil {
			return false, err
		}
		if current {
			r.debugf("skip unchanged item=%03d layout=%s key=%s", entry.Item, layout.Kind, key)
			return false, nil
		}
	}

	windowed := src.table.Window(w)
	var buf bytes.Buffer
	if err := windowed.WriteCSV(&buf); err != nil {
		return false, err
	}
	info, err := r.store.Put(ctx, key, buf.Bytes())
	if err != nil {
		return false, fmt.Errorf("store %s: %w", key, err)
	}
	outside := len(src.table.Rows) - len(windowed.Rows)
	r.metrics.observeRows(layout.Kind, len(windowed.Rows), src.stats.Incomplete, outside)

	rec := &WindowedArtifact{
		Item:           entry.Item,
		ItemKey:        ItemKey(entry.Item),
		Run:            entry.Run,
		Layout:         layout.Kind,
		Key:            key,
		WindowStart:    entry.Start,
		WindowStop:     entry.Stop,
		SourceSHA256:   src.sha256,
		ArtifactSHA256: info.SHA256,
		Rows:           len(windowed.Rows),
		Dropped:        src.stats.Incomplete,
		Outside:        outside,
		RunID:          runID,
		ProcessedAt:    time.Now().UTC(),
	}
	if err := upsertArtifact(r.db, rec); err != nil {
		return false, fmt.Errorf("registry %s: %w", key, err)
	}
	r.debugf("wrote item=%03d layout=%s key=%s rows=%d window=%s", entry.Item, layout.Kind, key, rec.Rows, w)
	return true, nil
}

func (r *Runner) isUpToDate(ctx context.Context, entry ManifestEntry, layout Layout, key, sourceSHA string) (bool, error) {
	prev, err := findArtifact(r.db, entry.Item, layout.Kind)
	if err != nil || prev == nil {
		return false, err
	}
	if prev.LastError != "" || prev.Key != key || prev.SourceSHA256 != sourceSHA ||
		prev.WindowStart != entry.Start || prev.WindowStop != entry.Stop {
		return false, nil
	}
	return r.store.Exists(ctx, key)
}

// Index resolves windowed tables through the registry first and falls back
// to the store listing for tables the registry does not know.
func (r *Runner) Index(ctx context.Context) (*ArtifactIndex, error) {
	idx, err := IndexFromRegistry(r.db)
	if err != nil {
		return nil, err
	}
	names, err := ListKeys(ctx, r.store, "")
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	idx.Fill(names)
	r.debugf("artifact index: %d tables", idx.Len())
	return idx, nil
}

// resolveColumn maps a user-supplied column to its layout and canonical name.
func resolveColumn(column string) (Layout, string, error) {
	layout, err := LayoutForColumn(column)
	if err != nil {
		return Layout{}, "", err
	}
	i, _ := layout.ColumnIndex(column)
	return layout, layout.Columns[i], nil
}

// ConditionStats describes the four catalyst conditions of one gas level for
// a measurement column and writes results/<column>_<level>.csv. The table has
// twelve rows: none, low, mid and high, three trials each.
func (r *Runner) ConditionStats(ctx context.Context, column, gasLevel string) (StatsTable, error) {
	start := time.Now()
	defer r.flush(start)

	idx, err := r.Index(ctx)
	if err != nil {
		return StatsTable{}, err
	}
	return r.conditionStats(ctx, idx, column, gasLevel)
}

func (r *Runner) conditionStats(ctx context.Context, idx *ArtifactIndex, column, gasLevel string) (StatsTable, error) {
	layout, col, err := resolveColumn(column)
	if err != nil {
		return StatsTable{}, err
	}
	level, err := r.design.GasLevel(gasLevel)
	if err != nil {
		return StatsTable{}, err
	}
	t := StatsTable{Name: strings.ToLower(col) + "_" + strings.ToLower(level.Name), Column: col, Layout: layout}
	for _, name := range ConditionOrder {
		cond, err := level.Condition(name)
		if err != nil {
			return StatsTable{}, err
		}
		rows, err := Aggregate(ctx, r.store, idx, layout, col, cond.Group())
		if err != nil {
			return StatsTable{}, fmt.Errorf("%s gas %s catalyst: %w", level.Name, name, err)
		}
		t.Rows = append(t.Rows, rows...)
	}
	if err := r.writeResult(t); err != nil {
		return StatsTable{}, err
	}
	return t, nil
}

// GasComparison lines up the trial means of the three gas level tables. Level
// tables missing from the results directory are computed first.
func (r *Runner) GasComparison(ctx context.Context, column string) (ComparisonTable, error) {
	start := time.Now()
	defer r.flush(start)

	_, col, err := resolveColumn(column)
	if err != nil {
		return ComparisonTable{}, err
	}
	var idx *ArtifactIndex
	levels := make([][]StatsRow, 0, len(GasLevelNames))
	for _, level := range GasLevelNames {
		p := filepath.Join(r.cfg.ResultsDir, strings.ToLower(col)+"_"+level+".csv")
		rows, err := readStatsFile(p)
		if errors.Is(err, os.ErrNotExist) {
			r.debugf("compute missing gas table path=%q", p)
			if idx == nil {
				if idx, err = r.Index(ctx); err != nil {
					return ComparisonTable{}, err
				}
			}
			var t StatsTable
			t, err = r.conditionStats(ctx, idx, col, level)
			rows = t.Rows
		}
		if err != nil {
			return ComparisonTable{}, err
		}
		levels = append(levels, rows)
	}
	cmp, err := CompareGasLevels(col, levels[0], levels[1], levels[2])
	if err != nil {
		return ComparisonTable{}, err
	}
	if err := r.writeResult(cmp); err != nil {
		return ComparisonTable{}, err
	}
	return cmp, nil
}

func readStatsFile(path string) ([]StatsRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := ReadStatsTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// MaxCatalyst describes the maximum catalyst flow tests. An empty column
// uses the design's column.
func (r *Runner) MaxCatalyst(ctx context.Context, column string) (StatsTable, error) {
	start := time.Now()
	defer r.flush(start)

	mc := r.design.MaxCatalyst
	if len(mc.Items) == 0 {
		return StatsTable{}, fmt.Errorf("design has no max catalyst tests")
	}
	if column == "" {
		column = mc.Column
	}
	if column == "" {
		column = "PDIT700"
	}
	layout, col, err := resolveColumn(column)
	if err != nil {
		return StatsTable{}, err
	}
	idx, err := r.Index(ctx)
	if err != nil {
		return StatsTable{}, err
	}
	rows, err := Aggregate(ctx, r.store, idx, layout, col, TrialGroup{Items: mc.Items, CatFlow: mc.CatFlow})
	if err != nil {
		return StatsTable{}, fmt.Errorf("max catalyst: %w", err)
	}
	t := StatsTable{Name: strings.ToLower(col) + "_maxcat", Column: col, Layout: layout, Rows: rows}
	if err := r.writeResult(t); err != nil {
		return StatsTable{}, err
	}
	return t, nil
}

// Atmosphere summarizes the PIT000 atmospheric pressure log per day.
func (r *Runner) Atmosphere(ctx context.Context) (AtmosphereTable, error) {
	start := time.Now()
	defer r.flush(start)

	if strings.TrimSpace(r.cfg.AtmospherePath) == "" {
		return AtmosphereTable{}, fmt.Errorf("AtmospherePath is required")
	}
	f, err := os.Open(r.cfg.AtmospherePath)
	if err != nil {
		return AtmosphereTable{}, err
	}
	defer f.Close()
	t, err := SummarizeAtmosphere(f)
	if err != nil {
		return AtmosphereTable{}, fmt.Errorf("%s: %w", r.cfg.AtmospherePath, err)
	}
	if err := r.writeResult(t); err != nil {
		return AtmosphereTable{}, err
	}
	return t, nil
}

// ExportWorkbook gathers every results CSV into the configured workbook.
func (r *Runner) ExportWorkbook(ctx context.Context) (string, error) {
	start := time.Now()
	defer r.flush(start)

	if strings.TrimSpace(r.cfg.Workbook) == "" {
		return "", fmt.Errorf("Workbook path is required")
	}
	paths, err := filepath.Glob(filepath.Join(r.cfg.ResultsDir, "*.csv"))
	if err != nil {
		return "", err
	}
	sort.Strings(paths)
	tables := make([]ResultTable, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return "", err
		}
		records, err := csv.NewReader(bytes.NewReader(b)).ReadAll()
		if err != nil {
			return "", fmt.Errorf("%s: %w", p, err)
		}
		tables = append(tables, csvTable{name: filepath.Base(p), records: records})
	}
	if err := WriteWorkbook(r.cfg.Workbook, tables); err != nil {
		return "", err
	}
	log.Printf("workbook written: path=%q sheets=%d", r.cfg.Workbook, len(tables))
	return r.cfg.Workbook, nil
}

func (r *Runner) writeResult(t ResultTable) error {
	if strings.TrimSpace(r.cfg.ResultsDir) == "" {
		return fmt.Errorf("ResultsDir is required")
	}
	b, err := encodeRecords(t.Records())
	if err != nil {
		return err
	}
	p := filepath.Join(r.cfg.ResultsDir, t.FileName())
	if err := WriteFileAtomic(p, b); err != nil {
		return err
	}
	r.metrics.reports.Inc()
	log.Printf("result written: path=%q rows=%d", p, len(t.Records())-1)
	return nil
}
