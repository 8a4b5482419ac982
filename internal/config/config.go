package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort               = 8080
	defaultOutputDir          = "output"
	defaultDatabaseDSN        = "wikibook.db"
	defaultJWTSecret          = "dev-secret-change-me"
	defaultTokenTTLMinutes    = 30
	defaultMaxConcurrentTasks = 3
	defaultMaxPagesPerBook    = 50
	defaultSourceBase         = "https://dev.hamichlol.org.il/w/rest.php/v1/page"
	defaultFetchTimeoutSec    = 20
)

// Config describes runtime configuration for the service.
type Config struct {
	Port                int    `yaml:"port"`
	OutputDir           string `yaml:"output_dir"`
	DatabaseDSN         string `yaml:"database_dsn"`
	JWTSecret           string `yaml:"jwt_secret"`
	TokenTTLMinutes     int    `yaml:"token_ttl_minutes"`
	MaxConcurrentTasks  int    `yaml:"max_concurrent_tasks"`
	MaxPagesPerBook     int    `yaml:"max_pages_per_book"`
	DefaultSourceBase   string `yaml:"default_source_base"`
	FetchTimeoutSeconds int    `yaml:"fetch_timeout_seconds"`
}

// Default returns the built-in configuration used when no file is present.
func Default() Config {
	return Config{
		Port:                defaultPort,
		OutputDir:           defaultOutputDir,
		DatabaseDSN:         defaultDatabaseDSN,
		JWTSecret:           defaultJWTSecret,
		TokenTTLMinutes:     defaultTokenTTLMinutes,
		MaxConcurrentTasks:  defaultMaxConcurrentTasks,
		MaxPagesPerBook:     defaultMaxPagesPerBook,
		DefaultSourceBase:   defaultSourceBase,
		FetchTimeoutSeconds: defaultFetchTimeoutSec,
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	// basic normalization
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = defaultOutputDir
	}
	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = defaultDatabaseDSN
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = defaultJWTSecret
	}
	if cfg.TokenTTLMinutes <= 0 {
		cfg.TokenTTLMinutes = defaultTokenTTLMinutes
	}
	if cfg.MaxPagesPerBook <= 0 {
		cfg.MaxPagesPerBook = defaultMaxPagesPerBook
	}
	if cfg.FetchTimeoutSeconds <= 0 {
		cfg.FetchTimeoutSeconds = defaultFetchTimeoutSec
	}
	cfg.DefaultSourceBase = strings.TrimRight(cfg.DefaultSourceBase, "/")
	if cfg.DefaultSourceBase == "" {
		cfg.DefaultSourceBase = defaultSourceBase
	}
	// validate concurrency explicitly: values < 1 are not allowed
	if cfg.MaxConcurrentTasks < 1 {
		return cfg, fmt.Errorf("invalid max_concurrent_tasks: %d (must be >= 1)", cfg.MaxConcurrentTasks)
	}
	return cfg, nil
}
