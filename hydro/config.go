package hydro

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const envPrefix = "RISER"

type StorageConfig struct {
	// Driver is "fs" (default) or "s3".
	Driver string   `yaml:"driver" envconfig:"DRIVER"`
	S3     S3Config `yaml:"s3" envconfig:"S3"`
}

type FileConfig struct {
	RawDir       string `yaml:"raw_dir" envconfig:"RAW_DIR"`
	ProcessedDir string `yaml:"processed_dir" envconfig:"PROCESSED_DIR"`
	ResultsDir   string `yaml:"results_dir" envconfig:"RESULTS_DIR"`

	// Database is the SQLite provenance registry path.
	Database string `yaml:"database" envconfig:"DATABASE"`

	// Design is an experiment design YAML file. Empty uses the built-in design.
	Design string `yaml:"design" envconfig:"DESIGN"`

	// Atmosphere is the PIT000 log, relative to RawDir unless absolute.
	Atmosphere string `yaml:"atmosphere" envconfig:"ATMOSPHERE"`

	Debug bool `yaml:"debug" envconfig:"DEBUG"`
	// Force re-ingests entries even when the registry says they are current.
	Force bool `yaml:"force" envconfig:"FORCE"`

	// MetricsTextfile, when set, receives batch metrics in Prometheus text format.
	MetricsTextfile string `yaml:"metrics_textfile" envconfig:"METRICS_TEXTFILE"`
	// Workbook, when set, is the .xlsx written by the workbook command.
	Workbook string `yaml:"workbook" envconfig:"WORKBOOK"`

	Storage StorageConfig `yaml:"storage" envconfig:"STORAGE"`
}

// DefaultFileConfig mirrors the directory names the lab has always used.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		RawDir:       "original-hydro",
		ProcessedDir: "processed-hydro",
		ResultsDir:   "results-hydro",
		Database:     "riser-hydro.db",
		Atmosphere:   "pit000_patm.csv",
		Workbook:     "results-hydro.xlsx",
		Storage:      StorageConfig{Driver: DriverFilesystem},
	}
}

// LoadConfig reads the YAML file at path over the defaults. An empty path
// skips the file.
func LoadConfig(path string) (*FileConfig, error) {
	cfg := DefaultFileConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays RISER_* environment variables, e.g. RISER_RAW_DIR or
// RISER_STORAGE_S3_BUCKET. Unset variables leave the field alone.
func (c *FileConfig) ApplyEnv() error {
	return envconfig.Process(envPrefix, c)
}

func (c *FileConfig) AtmospherePath() string {
	if filepath.IsAbs(c.Atmosphere) {
		return c.Atmosphere
	}
	return filepath.Join(c.RawDir, c.Atmosphere)
}
