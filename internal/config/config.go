// Package config provides unified configuration for geolimes.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	geoerrors "github.com/dservsys/geolimes/internal/errors"
	"github.com/dservsys/geolimes/pkg/types"
)

// Config holds the unified configuration for a geolimes run.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// CacheDir is where cache artifacts live when storage type is local
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// LogDir receives the per-fingerprint error logs
	LogDir string `json:"log_dir" yaml:"log_dir"`

	// ManifestPath is the SQLite manifest of cache artifacts
	ManifestPath string `json:"manifest_path" yaml:"manifest_path"`

	// Prefixes are rendered in order at the head of every generated query
	Prefixes []Prefix `json:"prefixes" yaml:"prefixes"`

	// Source and Target describe the two datasets of a run
	Source QueryConfig `json:"source" yaml:"source"`
	Target QueryConfig `json:"target" yaml:"target"`

	Transport TransportConfig `json:"transport" yaml:"transport"`
	Parser    ParserConfig    `json:"parser" yaml:"parser"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Log       LogConfig       `json:"log" yaml:"log"`
	HTTP      HTTPConfig      `json:"http" yaml:"http"`
}

// Prefix is a namespace declaration.
type Prefix struct {
	Label     string `json:"label" yaml:"label"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// QueryConfig describes how to query one dataset.
type QueryConfig struct {
	// Endpoint is the SPARQL endpoint URL
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Graph is the named graph used in the FROM clause
	Graph string `json:"graph" yaml:"graph"`

	// Var is the variable bound to the resource IRI; it becomes the index column
	Var string `json:"var" yaml:"var"`

	// ShapeVar is the variable bound to the WKT literal (default "shape")
	ShapeVar string `json:"shape_var" yaml:"shape_var"`

	// Property links the resource to its geometry literal
	Property string `json:"property" yaml:"property"`

	// Restriction is an optional graph pattern prepended to the WHERE clause
	Restriction string `json:"restriction" yaml:"restriction"`

	// RawQuery, if set, is sent verbatim instead of a generated query
	RawQuery string `json:"raw_query" yaml:"raw_query"`

	// Offset is the first row to retrieve
	Offset int `json:"offset" yaml:"offset"`

	// Limit is the absolute row position to stop at (0 = unbounded)
	Limit int `json:"limit" yaml:"limit"`

	// ChunkSize is the initial number of rows requested per chunk
	ChunkSize int `json:"chunk_size" yaml:"chunk_size"`
}

// TransportConfig holds endpoint client settings.
type TransportConfig struct {
	// Timeout bounds a single chunk request
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxRetries is the number of extra attempts for retryable faults
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// UserAgent is sent with every request
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// ParserConfig bounds the tabular parser.
type ParserConfig struct {
	// MaxFieldSize is the largest accepted CSV field in bytes
	MaxFieldSize int `json:"max_field_size" yaml:"max_field_size"`
}

// StorageConfig holds cache artifact storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Prefix is prepended to every artifact key
	Prefix string `json:"prefix" yaml:"prefix"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (MinIO)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Format is json or console
	Format string `json:"format" yaml:"format"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// DefaultMaxFieldSize is the default upper bound for one CSV field.
// Geometry literals for large polygons routinely exceed a few megabytes.
const DefaultMaxFieldSize = 128 * 1024 * 1024

// DefaultConfig returns the default configuration for local use.
func DefaultConfig() *Config {
	return &Config{
		DataDir: ".",
		Source:  defaultQueryConfig(),
		Target:  defaultQueryConfig(),
		Transport: TransportConfig{
			Timeout:    5 * time.Minute,
			MaxRetries: 2,
			UserAgent:  "geolimes",
		},
		Parser: ParserConfig{
			MaxFieldSize: DefaultMaxFieldSize,
		},
		Storage: StorageConfig{
			Type: "local",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Minute,
			IdleTimeout:  120 * time.Second,
		},
	}
}

func defaultQueryConfig() QueryConfig {
	return QueryConfig{
		ShapeVar:  "shape",
		ChunkSize: 10000,
	}
}

// Query returns the query configuration for a role.
func (c *Config) Query(role types.Role) (QueryConfig, error) {
	switch role {
	case types.RoleSource:
		return c.Source, nil
	case types.RoleTarget:
		return c.Target, nil
	default:
		return QueryConfig{}, fmt.Errorf("%w: %d", types.ErrInvalidRole, int(role))
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "."
	}
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(c.DataDir, "cache")
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.DataDir, "logs")
	}
	if c.ManifestPath == "" {
		c.ManifestPath = filepath.Join(c.DataDir, "manifest.db")
	}
	for _, q := range []*QueryConfig{&c.Source, &c.Target} {
		if q.ShapeVar == "" {
			q.ShapeVar = "shape"
		}
	}
}

// Validate validates the configuration. Query-level checks for a role are
// done by query.New when the role is actually used.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Parser.MaxFieldSize <= 0 {
		return fmt.Errorf("parser.max_field_size must be positive, got %d", c.Parser.MaxFieldSize)
	}

	if c.Transport.MaxRetries < 0 {
		return fmt.Errorf("transport.max_retries must not be negative, got %d", c.Transport.MaxRetries)
	}

	for i, p := range c.Prefixes {
		if p.Label == "" || p.Namespace == "" {
			return fmt.Errorf("prefixes[%d]: label and namespace are required", i)
		}
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Log.Format)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from a .env file into the process
// environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the GEOLIMES_ prefix; query settings use
// GEOLIMES_SOURCE_* and GEOLIMES_TARGET_*. A set variable that does not
// parse is a configuration error naming the variable; it is never ignored.
func LoadFromEnv(cfg *Config) error {
	var errs []error
	if v := os.Getenv("GEOLIMES_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("GEOLIMES_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("GEOLIMES_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("GEOLIMES_MANIFEST_PATH"); v != "" {
		cfg.ManifestPath = v
	}

	errs = append(errs, loadQueryFromEnv("GEOLIMES_SOURCE_", &cfg.Source)...)
	errs = append(errs, loadQueryFromEnv("GEOLIMES_TARGET_", &cfg.Target)...)

	// Transport configuration
	if v := os.Getenv("GEOLIMES_TRANSPORT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, envError("GEOLIMES_TRANSPORT_TIMEOUT", v, "a duration such as 30s"))
		} else {
			cfg.Transport.Timeout = d
		}
	}
	errs = append(errs, setInt("GEOLIMES_TRANSPORT_MAX_RETRIES", &cfg.Transport.MaxRetries))

	// Parser configuration
	errs = append(errs, setInt("GEOLIMES_PARSER_MAX_FIELD_SIZE", &cfg.Parser.MaxFieldSize))

	// Storage configuration
	if v := os.Getenv("GEOLIMES_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("GEOLIMES_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("GEOLIMES_S3_PREFIX"); v != "" {
		cfg.Storage.S3.Prefix = v
	}
	if v := os.Getenv("GEOLIMES_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("GEOLIMES_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}

	// Log configuration
	if v := os.Getenv("GEOLIMES_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("GEOLIMES_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	if v := os.Getenv("GEOLIMES_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	return errors.Join(errs...)
}

func loadQueryFromEnv(prefix string, q *QueryConfig) []error {
	if v := os.Getenv(prefix + "ENDPOINT"); v != "" {
		q.Endpoint = v
	}
	if v := os.Getenv(prefix + "GRAPH"); v != "" {
		q.Graph = v
	}
	if v := os.Getenv(prefix + "VAR"); v != "" {
		q.Var = v
	}
	if v := os.Getenv(prefix + "SHAPE_VAR"); v != "" {
		q.ShapeVar = v
	}
	if v := os.Getenv(prefix + "PROPERTY"); v != "" {
		q.Property = v
	}
	if v := os.Getenv(prefix + "RESTRICTION"); v != "" {
		q.Restriction = v
	}
	if v := os.Getenv(prefix + "RAW_QUERY"); v != "" {
		q.RawQuery = v
	}
	return []error{
		setInt(prefix+"OFFSET", &q.Offset),
		setInt(prefix+"LIMIT", &q.Limit),
		setInt(prefix+"CHUNK_SIZE", &q.ChunkSize),
	}
}

// setInt sets dst from the named variable when it is set.
func setInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return envError(name, v, "an integer")
	}
	*dst = n
	return nil
}

func envError(name, value, want string) error {
	return geoerrors.NewConfigurationError(geoerrors.CodeInvalidParameter,
		fmt.Sprintf("%s=%q is not %s", name, value, want))
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.LogDir,
		filepath.Dir(c.ManifestPath),
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.CacheDir)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
