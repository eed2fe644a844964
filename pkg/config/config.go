package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all runtime options. It is treated as immutable once a run starts.
type Config struct {
	// Download orchestration settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Media categories to skip
	Exclude ExcludeConfig `yaml:"exclude" json:"exclude"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Download ledger backend
	Ledger LedgerConfig `yaml:"ledger" json:"ledger"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// DownloadConfig holds download orchestration settings
type DownloadConfig struct {
	Workers            int                      `yaml:"workers" json:"workers"`
	MaxAttempts        int                      `yaml:"max_attempts" json:"max_attempts"`
	UnlimitedAttempts  bool                     `yaml:"unlimited_attempts" json:"unlimited_attempts"`
	MarkDownloadedOnly bool                     `yaml:"mark_downloaded_only" json:"mark_downloaded_only"`
	Proxy              string                   `yaml:"proxy" json:"proxy"`
	ConnectTimeout     time.Duration            `yaml:"connect_timeout" json:"connect_timeout"`
	RetryDelay         time.Duration            `yaml:"retry_delay" json:"retry_delay"`
	Throttle           time.Duration            `yaml:"throttle" json:"throttle"`
	HostThrottle       map[string]time.Duration `yaml:"host_throttle" json:"host_throttle"`
	StrictHosts        []string                 `yaml:"strict_hosts" json:"strict_hosts"`
	StrictHostWorkers  int                      `yaml:"strict_host_workers" json:"strict_host_workers"`
	RetryAlwaysHosts   []string                 `yaml:"retry_always_hosts" json:"retry_always_hosts"`
	ShowProgress       bool                     `yaml:"show_progress" json:"show_progress"`
	UserAgent          string                   `yaml:"user_agent" json:"user_agent"`
}

// ExcludeConfig holds per-category skip flags
type ExcludeConfig struct {
	Videos bool `yaml:"videos" json:"videos"`
	Images bool `yaml:"images" json:"images"`
	Audio  bool `yaml:"audio" json:"audio"`
	Other  bool `yaml:"other" json:"other"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
}

// LedgerConfig selects and configures the download ledger
type LedgerConfig struct {
	// Driver is one of "file", "memory" or "postgres"
	Driver string `yaml:"driver" json:"driver"`
	// Path of the JSON ledger for the file driver. Empty means the data directory.
	Path string `yaml:"path" json:"path"`
	// DSN for the postgres driver
	DSN string `yaml:"dsn" json:"dsn"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Download: DownloadConfig{
			Workers:        3,
			MaxAttempts:    10,
			ConnectTimeout: 15 * time.Second,
			RetryDelay:     2 * time.Second,
			Throttle:       500 * time.Millisecond,
			HostThrottle: map[string]time.Duration{
				"cyberfile.is":  time.Second,
				"anonfiles.com": time.Second,
			},
			StrictHosts:       []string{"bunkr", "pixeldrain", "anonfiles"},
			StrictHostWorkers: 2,
			RetryAlwaysHosts:  []string{"media-files.bunkr"},
			ShowProgress:      true,
			UserAgent:         "Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0",
		},
		Output: OutputConfig{
			BaseDirectory: "./downloads",
		},
		Ledger: LedgerConfig{
			Driver: "file",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if outputDir := os.Getenv("MEDIAFETCH_OUTPUT_DIR"); outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}

	if workers := os.Getenv("MEDIAFETCH_WORKERS"); workers != "" {
		var val int
		fmt.Sscanf(workers, "%d", &val)
		if val > 0 {
			c.Download.Workers = val
		}
	}

	if attempts := os.Getenv("MEDIAFETCH_MAX_ATTEMPTS"); attempts != "" {
		var val int
		fmt.Sscanf(attempts, "%d", &val)
		if val > 0 {
			c.Download.MaxAttempts = val
		}
	}

	if unlimited := os.Getenv("MEDIAFETCH_UNLIMITED_ATTEMPTS"); unlimited != "" {
		c.Download.UnlimitedAttempts = strings.ToLower(unlimited) == "true"
	}

	if markOnly := os.Getenv("MEDIAFETCH_MARK_DOWNLOADED"); markOnly != "" {
		c.Download.MarkDownloadedOnly = strings.ToLower(markOnly) == "true"
	}

	if proxy := os.Getenv("MEDIAFETCH_PROXY"); proxy != "" {
		c.Download.Proxy = proxy
	}

	// Comma separated list of categories, e.g. "videos,audio"
	if exclude := os.Getenv("MEDIAFETCH_EXCLUDE"); exclude != "" {
		for _, category := range strings.Split(exclude, ",") {
			c.Exclude.Set(strings.TrimSpace(category), true)
		}
	}

	if driver := os.Getenv("MEDIAFETCH_LEDGER_DRIVER"); driver != "" {
		c.Ledger.Driver = driver
	}
	if path := os.Getenv("MEDIAFETCH_LEDGER_PATH"); path != "" {
		c.Ledger.Path = path
	}
	if dsn := os.Getenv("MEDIAFETCH_LEDGER_DSN"); dsn != "" {
		c.Ledger.DSN = dsn
	}

	if logLevel := os.Getenv("MEDIAFETCH_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// Set toggles the exclude flag for a category name. Unknown names are ignored.
func (e *ExcludeConfig) Set(category string, value bool) {
	switch strings.ToLower(category) {
	case "videos", "video":
		e.Videos = value
	case "images", "image":
		e.Images = value
	case "audio":
		e.Audio = value
	case "other":
		e.Other = value
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".mediafetch.yaml",
		".mediafetch.yml",
		filepath.Join(home, ".config", "mediafetch", "config.yaml"),
		filepath.Join(home, ".config", "mediafetch", "config.yml"),
		filepath.Join(home, ".mediafetch.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Download.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if !c.Download.UnlimitedAttempts && c.Download.MaxAttempts <= 0 {
		errs = append(errs, errors.New("max attempts must be positive unless attempts are unlimited"))
	}
	if c.Download.StrictHostWorkers <= 0 {
		errs = append(errs, errors.New("strict host workers must be positive"))
	}
	if c.Download.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("connect timeout must be positive"))
	}
	if c.Download.RetryDelay < 0 {
		errs = append(errs, errors.New("retry delay cannot be negative"))
	}
	if c.Download.Throttle < 0 {
		errs = append(errs, errors.New("throttle cannot be negative"))
	}
	if _, err := c.ProxyURL(); err != nil {
		errs = append(errs, err)
	}

	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}

	switch strings.ToLower(c.Ledger.Driver) {
	case "file", "memory":
	case "postgres":
		if c.Ledger.DSN == "" {
			errs = append(errs, errors.New("postgres ledger requires a dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger driver: %q", c.Ledger.Driver))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ProxyURL parses the configured proxy. It returns nil when no proxy is set.
func (c *Config) ProxyURL() (*url.URL, error) {
	if c.Download.Proxy == "" {
		return nil, nil
	}
	u, err := url.Parse(c.Download.Proxy)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid proxy url: %q", c.Download.Proxy)
	}
	return u, nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if workers, ok := flags["workers"].(int); ok && workers > 0 {
		c.Download.Workers = workers
	}
	if attempts, ok := flags["max-attempts"].(int); ok && attempts > 0 {
		c.Download.MaxAttempts = attempts
	}
	if unlimited, ok := flags["unlimited-attempts"].(bool); ok {
		c.Download.UnlimitedAttempts = unlimited
	}
	if markOnly, ok := flags["mark-downloaded"].(bool); ok {
		c.Download.MarkDownloadedOnly = markOnly
	}
	if proxy, ok := flags["proxy"].(string); ok && proxy != "" {
		c.Download.Proxy = proxy
	}
	if showProgress, ok := flags["show-progress"].(bool); ok {
		c.Download.ShowProgress = showProgress
	}
	if excludes, ok := flags["exclude"].([]string); ok {
		for _, category := range excludes {
			c.Exclude.Set(category, true)
		}
	}
	if driver, ok := flags["ledger-driver"].(string); ok && driver != "" {
		c.Ledger.Driver = driver
	}
	if path, ok := flags["ledger-path"].(string); ok && path != "" {
		c.Ledger.Path = path
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// .env files are optional
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".mediafetch.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// DataDirectory returns the per-user data directory for mediafetch, creating it if needed
func DataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "mediafetch")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "mediafetch")
	default:
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			dataDir = filepath.Join(xdgDataHome, "mediafetch")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "mediafetch")
		}
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	return dataDir, nil
}
