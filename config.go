package petnlp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/petnlp/coref"
	"github.com/brunobiangulo/petnlp/relations"
)

// NoModel selects annotation without any trained model: the text is only
// tokenized.
const NoModel = "none"

// Config holds all configuration for the petnlp engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.petnlp/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "petnlp".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.petnlp/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// ResultsDir holds the per-user result files.
	ResultsDir string `json:"results_dir" yaml:"results_dir"`

	// Corpus names the stored training corpus that retraining appends to.
	Corpus string `json:"corpus" yaml:"corpus"`

	// Models maps a model name to its training setup.
	Models map[string]ModelConfig `json:"models" yaml:"models"`

	// DefaultModel is used when an annotation request names no model.
	DefaultModel string `json:"default_model" yaml:"default_model"`

	Coref     CorefConfig      `json:"coref" yaml:"coref"`
	Relations relations.Config `json:"relations" yaml:"relations"`
}

// ModelConfig configures one named model.
type ModelConfig struct {
	// TrainDocs is the size of the corpus prefix the model is trained on.
	// Zero trains on the whole corpus.
	TrainDocs int `json:"train_docs" yaml:"train_docs"`
}

// CorefConfig configures the coreference step.
type CorefConfig struct {
	ResolvedTags   []string `json:"resolved_tags" yaml:"resolved_tags"`
	MentionOverlap float64  `json:"mention_overlap" yaml:"mention_overlap"`
}

// DefaultConfig returns a Config with the three stock models.
// Database is stored in ~/.petnlp/petnlp.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "petnlp",
		StorageDir: "home",
		ResultsDir: "results",
		Corpus:     "pet",
		Models: map[string]ModelConfig{
			"bad":     {TrainDocs: 4},
			"average": {TrainDocs: 16},
			"good":    {TrainDocs: 0},
		},
		DefaultModel: "average",
		Coref: CorefConfig{
			ResolvedTags:   append([]string(nil), coref.DefaultResolvedTags...),
			MentionOverlap: coref.DefaultMentionOverlap,
		},
		Relations: relations.Config{
			ContextSize:   relations.DefaultContextSize,
			MinConfidence: relations.DefaultMinConfidence,
		},
	}
}

// LoadConfig reads a config file over DefaultConfig. Files ending in .yaml
// or .yml are decoded as YAML, anything else as JSON.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	// Models given in the file replace the stock set.
	cfg.Models = nil
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	if cfg.Models == nil {
		cfg.Models = DefaultConfig().Models
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("%w: no models configured", ErrInvalidConfig)
	}
	for name, m := range c.Models {
		if name == "" || name == NoModel || strings.ContainsAny(name, "/ ") {
			return fmt.Errorf("%w: invalid model name %q", ErrInvalidConfig, name)
		}
		if m.TrainDocs < 0 {
			return fmt.Errorf("%w: model %q: negative train_docs", ErrInvalidConfig, name)
		}
	}
	if c.DefaultModel != "" && c.DefaultModel != NoModel {
		if _, ok := c.Models[c.DefaultModel]; !ok {
			return fmt.Errorf("%w: default model %q is not configured", ErrInvalidConfig, c.DefaultModel)
		}
	}
	if c.Coref.MentionOverlap < 0 || c.Coref.MentionOverlap > 1 {
		return fmt.Errorf("%w: coref mention_overlap must be in [0, 1]", ErrInvalidConfig)
	}
	if c.Relations.ContextSize < 0 {
		return fmt.Errorf("%w: relations context_size must not be negative", ErrInvalidConfig)
	}
	if c.Relations.MinConfidence < 0 || c.Relations.MinConfidence > 1 {
		return fmt.Errorf("%w: relations min_confidence must be in [0, 1]", ErrInvalidConfig)
	}
	return nil
}

// ModelNames returns the configured model names in order.
func (c *Config) ModelNames() []string {
	names := make([]string, 0, len(c.Models))
	for name := range c.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "petnlp"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".petnlp", name+".db")
	}
}
