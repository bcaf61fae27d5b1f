package ingest

import (
	"embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed config/dataset.yaml
var datasetYAML embed.FS

// Config holds the dataset descriptor and the column-alias table.
type Config struct {
	Dataset DatasetConfig  `yaml:"dataset"`
	Aliases []FieldAliases `yaml:"aliases"`
}

// DatasetConfig describes where the CSV lives and how its cached copy is
// keyed and aged.
type DatasetConfig struct {
	Name            string      `yaml:"name"`
	URL             string      `yaml:"url"`
	CacheKey        string      `yaml:"cache_key"`
	CacheTTLMinutes int         `yaml:"cache_ttl_minutes"`
	SchemaVersion   string      `yaml:"schema_version"`
	Fetch           FetchConfig `yaml:"fetch,omitempty"`
}

// FetchConfig defines HTTP fetching configuration for the dataset URL.
type FetchConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"` // Default: 8
	MaxRetries     int `yaml:"max_retries,omitempty"`     // Default: 3
}

// FieldAliases maps one canonical field to the ordered list of source
// column names it may appear under.
type FieldAliases struct {
	Field string   `yaml:"field"`
	Keys  []string `yaml:"keys"`
}

// CacheTTL returns the freshness window for the cached payload.
func (c DatasetConfig) CacheTTL() time.Duration {
	if c.CacheTTLMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// LoadConfig reads the embedded dataset.yaml, or the file at path when
// one is supplied, and returns the parsed Config. Environment variables
// of the form ${VAR} inside the YAML are expanded before parsing.
func LoadConfig(path string) (*Config, error) {
	var data []byte
	var err error
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = datasetYAML.ReadFile("config/dataset.yaml")
	}
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	if cfg.Dataset.URL == "" {
		return nil, fmt.Errorf("dataset config has no url")
	}
	if len(cfg.Aliases) == 0 {
		return nil, fmt.Errorf("dataset config has no column aliases")
	}

	if v := os.Getenv("DATA_URL"); v != "" {
		cfg.Dataset.URL = v
	}

	return &cfg, nil
}
