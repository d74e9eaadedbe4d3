package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable, e.g. TRADEETL_STORE_URI
const EnvPrefix = "TRADEETL"

// Config represents the complete application configuration
type Config struct {
	Site      SiteConfig      `yaml:"site" envconfig:"SITE"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	Browser   BrowserConfig   `yaml:"browser" envconfig:"BROWSER"`
	Download  DownloadConfig  `yaml:"download" envconfig:"DOWNLOAD"`
	Ingestion IngestionConfig `yaml:"ingestion" envconfig:"INGESTION"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Metrics   MetricsConfig   `yaml:"metrics" envconfig:"METRICS"`
}

// SiteConfig describes the statistics site being scraped
type SiteConfig struct {
	URL          string `yaml:"url" envconfig:"URL" validate:"required,url"`
	FilesType    string `yaml:"files_type" envconfig:"FILES_TYPE" validate:"oneof=import export both"`
	ImportOption string `yaml:"import_option" envconfig:"IMPORT_OPTION" validate:"required"`
	ExportOption string `yaml:"export_option" envconfig:"EXPORT_OPTION" validate:"required"`
}

// StoreConfig contains document store configuration
type StoreConfig struct {
	URI                string        `yaml:"uri" envconfig:"URI" validate:"required"`
	Database           string        `yaml:"database" envconfig:"DATABASE" validate:"required"`
	MetadataCollection string        `yaml:"metadata_collection" envconfig:"METADATA_COLLECTION" validate:"required"`
	RecordsCollection  string        `yaml:"records_collection" envconfig:"RECORDS_COLLECTION" validate:"required"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout" envconfig:"CONNECT_TIMEOUT" validate:"gt=0"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DownloadDir string `yaml:"download_dir" envconfig:"DOWNLOAD_DIR" validate:"required"`
	ExtractDir  string `yaml:"extract_dir" envconfig:"EXTRACT_DIR" validate:"required"`
}

// BrowserConfig controls the headless browser session
type BrowserConfig struct {
	Headless       bool          `yaml:"headless" envconfig:"HEADLESS"`
	ControlTimeout time.Duration `yaml:"control_timeout" envconfig:"CONTROL_TIMEOUT" validate:"gt=0"`
	TableTimeout   time.Duration `yaml:"table_timeout" envconfig:"TABLE_TIMEOUT" validate:"gt=0"`
	PollInterval   time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL" validate:"gt=0"`
}

// DownloadConfig controls archive downloads
type DownloadConfig struct {
	Timeout     time.Duration `yaml:"timeout" envconfig:"TIMEOUT" validate:"gt=0"`
	MaxAttempts int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS" validate:"min=1,max=10"`
	BackoffBase time.Duration `yaml:"backoff_base" envconfig:"BACKOFF_BASE"`
	RatePerSec  float64       `yaml:"rate_per_sec" envconfig:"RATE_PER_SEC" validate:"gt=0"`
}

// IngestionConfig controls change detection
type IngestionConfig struct {
	// RetryFailed re-processes files stored with parsed=false even when
	// their last update date has not changed.
	RetryFailed bool `yaml:"retry_failed" envconfig:"RETRY_FAILED"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// MetricsConfig contains the optional status/metrics server configuration
type MetricsConfig struct {
	Addr          string `yaml:"addr" envconfig:"ADDR"`
	EnableTracing bool   `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence. An empty path falls back to
// the well-known locations; a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = getConfigFilePath()
	}
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file at filePath onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	c.Site.FilesType = strings.ToLower(strings.TrimSpace(c.Site.FilesType))
	if c.Site.FilesType == "" {
		c.Site.FilesType = "both"
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)

	// Always JSON
	c.Logging.Format = "json"
	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		c.Logging.FilePath = DefaultLogFile
	}

	if err := validator.New().Struct(c); err != nil {
		var msgs []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config validation failed: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	locations := []string{
		"tradeetl.yaml",
		"configs/tradeetl.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			URL:          DefaultSiteURL,
			FilesType:    "both",
			ImportOption: DefaultImportOption,
			ExportOption: DefaultExportOption,
		},
		Store: StoreConfig{
			URI:                DefaultStoreURI,
			Database:           DefaultDatabase,
			MetadataCollection: DefaultMetadataCollection,
			RecordsCollection:  DefaultRecordsCollection,
			ConnectTimeout:     10 * time.Second,
		},
		Paths: PathsConfig{
			DownloadDir: DefaultDownloadDir,
			ExtractDir:  DefaultExtractDir,
		},
		Browser: BrowserConfig{
			Headless:       true,
			ControlTimeout: 30 * time.Second,
			TableTimeout:   30 * time.Second,
			PollInterval:   250 * time.Millisecond,
		},
		Download: DownloadConfig{
			Timeout:     5 * time.Minute,
			MaxAttempts: 3,
			BackoffBase: 2 * time.Second,
			RatePerSec:  2,
		},
		Ingestion: IngestionConfig{
			RetryFailed: true,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: DefaultLogFile,
		},
	}
}
