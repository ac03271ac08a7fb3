package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the settings of the reconciliation daemon.
type Config struct {
	// StoreURL is the base URL of the artifact store serving artifacts.json and archives.
	StoreURL string `yaml:"store_url"`
	// Interval is the pause between two reconciliation cycles.
	Interval time.Duration `yaml:"interval"`
	// RetryMin is the first backoff delay applied to a failed chunk.
	RetryMin time.Duration `yaml:"retry_min"`
	// RetryMax caps the exponentially growing chunk backoff.
	RetryMax time.Duration `yaml:"retry_max"`
	// ChunkSize is the byte length of a single ranged request.
	ChunkSize int64 `yaml:"chunk_size"`
	// ManifestPath is the local manifest file describing installed artifacts.
	ManifestPath string `yaml:"manifest_path"`
	// DownloadDir receives downloaded archives before installation.
	DownloadDir string `yaml:"download_dir"`
	// Supervisorctl is the control utility used to stop/start services.
	Supervisorctl string `yaml:"supervisorctl"`
	// SupervisorProcess is the supervisor daemon process name checked before
	// issuing commands. Empty disables the check.
	SupervisorProcess string `yaml:"supervisor_process"`
	// CommandTimeout bounds a single supervisorctl invocation.
	CommandTimeout time.Duration `yaml:"command_timeout"`
	// HTTPTimeout bounds a single HTTP request to the store.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	// InsecureSkipVerify disables TLS certificate verification for the store.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

const (
	// DefaultConfigFilename is the default filename for updater settings.
	DefaultConfigFilename = "agent-updater.yaml"

	// DefaultManifestFilename is the default local manifest location.
	DefaultManifestFilename = "artifacts.json"

	// DefaultInterval is the pause between reconciliation cycles.
	DefaultInterval = 60 * time.Minute

	// DefaultRetryMin is the initial chunk retry delay.
	DefaultRetryMin = 3 * time.Second

	// DefaultRetryMax is the ceiling of the chunk retry delay.
	DefaultRetryMax = 90 * time.Second

	// DefaultChunkSize is the length of one ranged request.
	DefaultChunkSize = 1 << 20

	// DefaultSupervisorctl is the supervisor control utility looked up in PATH.
	DefaultSupervisorctl = "supervisorctl"

	// DefaultCommandTimeout bounds service control commands.
	DefaultCommandTimeout = 30 * time.Second

	// DefaultHTTPTimeout bounds single requests to the store.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errStoreURLRequired is returned when the store URL is missing.
	errStoreURLRequired = errors.New("store url must be provided")
	// errRetryBounds is returned when the backoff ceiling is below the floor.
	errRetryBounds = errors.New("retry_max must not be lower than retry_min")
	// errBadScheme is returned for store URLs that are not http(s).
	errBadScheme = errors.New("store url must use http or https")
)

// DefaultDownloadDir returns the directory archives are downloaded into.
func DefaultDownloadDir() string {
	return filepath.Join(os.TempDir(), "agent-updater")
}

// Load reads configuration from the provided path and validates it.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Read parses the settings file without validating it, so that command line
// and environment overrides can complete it first.
func Read(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	return &cfg, nil
}

// Save writes the settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// ApplyDefaults fills every unset field with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	if cfg.RetryMin <= 0 {
		cfg.RetryMin = DefaultRetryMin
	}

	if cfg.RetryMax <= 0 {
		cfg.RetryMax = DefaultRetryMax
	}

	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}

	if cfg.ManifestPath == "" {
		cfg.ManifestPath = DefaultManifestFilename
	}

	if cfg.DownloadDir == "" {
		cfg.DownloadDir = DefaultDownloadDir()
	}

	if cfg.Supervisorctl == "" {
		cfg.Supervisorctl = DefaultSupervisorctl
	}

	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}

	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultHTTPTimeout
	}
}

// Validate fills defaults and checks the settings for required fields and formatting.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	ApplyDefaults(cfg)

	if cfg.StoreURL == "" {
		return errStoreURLRequired
	}

	storeURL, err := url.ParseRequestURI(cfg.StoreURL)
	if err != nil {
		return fmt.Errorf("invalid store url: %w", err)
	}

	if storeURL.Scheme != "http" && storeURL.Scheme != "https" {
		return fmt.Errorf("%s: %w", cfg.StoreURL, errBadScheme)
	}

	if cfg.RetryMax < cfg.RetryMin {
		return fmt.Errorf("%s < %s: %w", cfg.RetryMax, cfg.RetryMin, errRetryBounds)
	}

	return nil
}
