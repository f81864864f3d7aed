package hydro

import (
	_ "embed"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed design/default.yaml
var defaultDesignYAML []byte

// ManifestEntry ties an experiment-matrix item to the raw log run it was
// recorded in and to the steady-state window kept from that run.
type ManifestEntry struct {
	Item  int    `yaml:"item" validate:"gt=0,lt=1000"`
	Run   string `yaml:"run" validate:"required,excludesall=/"`
	Start string `yaml:"start" validate:"required,clock"`
	Stop  string `yaml:"stop" validate:"required,clock"`
}

func (e ManifestEntry) Window() (Window, error) {
	return ParseWindow(e.Start, e.Stop)
}

// Condition is one catalyst-flow condition at a gas level: three repeated
// trials and the catalyst flow reported for each.
type Condition struct {
	Name    string    `yaml:"name" validate:"oneof=none low mid high"`
	Items   []string  `yaml:"items" validate:"len=3,dive,len=3,numeric"`
	CatFlow []float64 `yaml:"catflow" validate:"len=3,dive,gte=0"`
}

func (c Condition) Group() TrialGroup {
	return TrialGroup{Items: c.Items, CatFlow: c.CatFlow}
}

// GasLevelNames are the process gas levels in comparison order.
var GasLevelNames = []string{"low", "mid", "high"}

type GasLevel struct {
	Name       string      `yaml:"name" validate:"required"`
	GasFlow    float64     `yaml:"gas_flow" validate:"gt=0"`
	Conditions []Condition `yaml:"conditions" validate:"required,unique=Name,dive"`
}

// Condition returns the named condition of the gas level.
func (g GasLevel) Condition(name string) (Condition, error) {
	for _, c := range g.Conditions {
		if c.Name == name {
			return c, nil
		}
	}
	return Condition{}, fmt.Errorf("gas level %s has no %q condition", g.Name, name)
}

type MaxCatalystTests struct {
	Column  string    `yaml:"column"`
	Items   []string  `yaml:"items" validate:"dive,len=3,numeric"`
	CatFlow []float64 `yaml:"catflow" validate:"dive,gte=0"`
}

// Design is the experimental design: which runs hold which items, and how
// items group into conditions. It is read-only once loaded.
type Design struct {
	Manifest    []ManifestEntry  `yaml:"manifest" validate:"required,min=1,unique=Item,dive"`
	GasLevels   []GasLevel       `yaml:"gas_levels" validate:"unique=Name,dive"`
	MaxCatalyst MaxCatalystTests `yaml:"max_catalyst"`

	path string
}

// source names where the design came from, for the ingest log.
func (d *Design) source() string {
	if d.path == "" {
		return "builtin"
	}
	return d.path
}

var designValidator = newDesignValidator()

func newDesignValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := ParseClock(fl.Field().String())
		return err == nil
	})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DefaultDesign returns the December 2018 experiment matrix.
func DefaultDesign() (*Design, error) {
	return ParseDesign(defaultDesignYAML)
}

// LoadDesign reads a design file; an empty path means the default design.
func LoadDesign(path string) (*Design, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultDesign()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := ParseDesign(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	d.path = path
	return d, nil
}

func ParseDesign(b []byte) (*Design, error) {
	var d Design
	if err := yaml.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("parse design: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (d *Design) Validate() error {
	if err := designValidator.Struct(d); err != nil {
		return fmt.Errorf("invalid design: %w", err)
	}
	known := make(map[string]struct{}, len(d.Manifest))
	for _, e := range d.Manifest {
		if _, err := e.Window(); err != nil {
			return fmt.Errorf("invalid design: item %d: %w", e.Item, err)
		}
		known[ItemKey(e.Item)] = struct{}{}
	}
	for _, g := range d.GasLevels {
		for _, c := range g.Conditions {
			for _, item := range c.Items {
				if _, ok := known[item]; !ok {
					return fmt.Errorf("invalid design: gas %s condition %s: item %s not in manifest", g.Name, c.Name, item)
				}
			}
		}
	}
	if len(d.MaxCatalyst.CatFlow) != len(d.MaxCatalyst.Items) {
		return fmt.Errorf("invalid design: max catalyst has %d items but %d catflow labels", len(d.MaxCatalyst.Items), len(d.MaxCatalyst.CatFlow))
	}
	for _, item := range d.MaxCatalyst.Items {
		if _, ok := known[item]; !ok {
			return fmt.Errorf("invalid design: max catalyst item %s not in manifest", item)
		}
	}
	return nil
}

func (d *Design) GasLevel(name string) (GasLevel, error) {
	for _, g := range d.GasLevels {
		if strings.EqualFold(g.Name, name) {
			return g, nil
		}
	}
	names := make([]string, 0, len(d.GasLevels))
	for _, g := range d.GasLevels {
		names = append(names, g.Name)
	}
	return GasLevel{}, fmt.Errorf("unknown gas level %q (want one of %s)", name, strings.Join(names, ", "))
}
