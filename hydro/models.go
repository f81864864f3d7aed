package hydro

import "time"

// IngestRun records one batch over the manifest.
type IngestRun struct {
	ID         uint      `gorm:"primaryKey"`
	RunID      string    `gorm:"uniqueIndex;size:36"`
	StartedAt  time.Time `gorm:"index"`
	FinishedAt *time.Time
	Design     string `gorm:"size:1024"`
	Entries    int
	Written    int
	Skipped    int
	Failed     int
}

// WindowedArtifact is the provenance of one windowed table. There is at most
// one row per item and layout; re-ingesting replaces it.
type WindowedArtifact struct {
	ID          uint   `gorm:"primaryKey"`
	Item        int    `gorm:"uniqueIndex:uniq_item_layout"`
	ItemKey     string `gorm:"index;size:8"`
	Run         string `gorm:"index;size:64"`
	Layout      string `gorm:"uniqueIndex:uniq_item_layout;size:8"`
	Key         string `gorm:"size:256"`
	WindowStart string `gorm:"size:8"`
	WindowStop  string `gorm:"size:8"`
	// SourceSHA256 is the digest of the raw instrument log the table was cut from.
	SourceSHA256   string `gorm:"column:source_sha256;index;size:64"`
	ArtifactSHA256 string `gorm:"column:artifact_sha256;size:64"`
	Rows           int
	Dropped        int
	Outside        int
	RunID          string    `gorm:"index;size:36"`
	ProcessedAt    time.Time `gorm:"index"`
	LastError      string    `gorm:"type:text"`
}
