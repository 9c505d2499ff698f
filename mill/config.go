// Package mill assembles the full document pipeline from a single
// config: store, suggestion cache, parser registry, workflow engine,
// task queue, folder scanner and worker pool.
package mill

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/docmill/docmill/classify"
	"github.com/docmill/docmill/tenant"
	"github.com/docmill/docmill/workflow"
)

// Config is the application configuration, usually loaded from YAML.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path"`

	// MediaDir holds the stored document artifacts.
	MediaDir string `yaml:"media_dir"`

	// InboxDir, when set, is scanned for new files.
	InboxDir string `yaml:"inbox_dir"`

	// Tenant owns all inbox files unless TenantDirs is set.
	Tenant tenant.ID `yaml:"tenant"`

	// TenantDirs treats first-level inbox subdirectories as tenant ids.
	TenantDirs bool `yaml:"tenant_dirs"`

	// WorkRoot is the scratch space for extraction runs. Empty means
	// the system temp directory.
	WorkRoot string `yaml:"work_root"`

	ScanInterval  time.Duration `yaml:"scan_interval"`
	Workers       int           `yaml:"workers"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	ParserTimeout time.Duration `yaml:"parser_timeout"`
	RegexTimeout  time.Duration `yaml:"regex_timeout"`
	OCRLanguage   string        `yaml:"ocr_language"`

	// RemoteOCR enables the remote OCR backend for scanned documents.
	RemoteOCR *RemoteOCRConfig `yaml:"remote_ocr,omitempty"`

	Cache CacheConfig `yaml:"cache"`

	// Classifier configures the keyword rule classifier. Absent means
	// documents commit without suggestions.
	Classifier *ClassifierConfig `yaml:"classifier,omitempty"`

	// Triggers are the workflow rules, validated at startup.
	Triggers []*workflow.Trigger `yaml:"triggers,omitempty"`
}

// RemoteOCRConfig points at an OCR service.
type RemoteOCRConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CacheConfig tunes the suggestion cache.
type CacheConfig struct {
	Capacity    int           `yaml:"capacity"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
	// SnapshotInterval is how often the in-memory cache is persisted
	// while the daemon runs. Default: 5m.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// ClassifierConfig is a versioned keyword rule set.
type ClassifierConfig struct {
	// Version must change whenever Rules change, or stale cached
	// suggestions will be served.
	Version string          `yaml:"version"`
	Rules   []classify.Rule `yaml:"rules"`
}

func (c *Config) defaults() {
	if c.ScanInterval <= 0 {
		c.ScanInterval = 5 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Cache.SnapshotInterval <= 0 {
		c.Cache.SnapshotInterval = 5 * time.Minute
	}
}

// Validate checks the parts that cannot be defaulted.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("mill: db_path is required")
	}
	if c.MediaDir == "" {
		return errors.New("mill: media_dir is required")
	}
	if c.InboxDir != "" && !c.TenantDirs && !c.Tenant.Valid() {
		return errors.New("mill: inbox_dir needs either tenant or tenant_dirs")
	}
	if c.RemoteOCR != nil && c.RemoteOCR.Endpoint == "" {
		return errors.New("mill: remote_ocr.endpoint is required when remote_ocr is set")
	}
	if c.Classifier != nil && c.Classifier.Version == "" {
		return errors.New("mill: classifier.version is required")
	}
	return nil
}

// LoadConfigFile reads and validates a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mill: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("mill: parse config %s: %w", path, err)
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
