package hydro

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

func OpenDB(path string) (*gorm.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&IngestRun{}, &WindowedArtifact{}); err != nil {
		return nil, err
	}
	return db, nil
}

func findArtifact(db *gorm.DB, item int, layout string) (*WindowedArtifact, error) {
	var rec WindowedArtifact
	err := db.Where("item = ? AND layout = ?", item, layout).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// upsertArtifact inserts or replaces the row for (item, layout).
func upsertArtifact(db *gorm.DB, rec *WindowedArtifact) error {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "item"}, {Name: "layout"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"item_key", "run", "key", "window_start", "window_stop",
			"source_sha256", "artifact_sha256", "rows", "dropped", "outside",
			"run_id", "processed_at", "last_error",
		}),
	}).Create(rec).Error
}

// IndexFromRegistry builds the artifact index from every successfully
// recorded table.
func IndexFromRegistry(db *gorm.DB) (*ArtifactIndex, error) {
	var recs []WindowedArtifact
	if err := db.Where("last_error = ?", "").Order("item asc, layout asc").Find(&recs).Error; err != nil {
		return nil, err
	}
	idx := NewArtifactIndex()
	for _, rec := range recs {
		layout, err := LayoutByKind(rec.Layout)
		if err != nil {
			return nil, fmt.Errorf("registry row %d: %w", rec.ID, err)
		}
		idx.Add(rec.ItemKey, layout, rec.Key)
	}
	return idx, nil
}
