package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	geoerrors "github.com/dservsys/geolimes/internal/errors"
	"github.com/dservsys/geolimes/pkg/types"
)

const sampleYAML = `
data_dir: /var/lib/geolimes
prefixes:
  - label: geo
    namespace: http://www.opengis.net/ont/geosparql#
  - label: rdfs
    namespace: http://www.w3.org/2000/01/rdf-schema#
source:
  endpoint: http://example.org/sparql
  graph: http://example.org/graph/nuts
  var: s
  property: geo:asWKT
  limit: 2500
  chunk_size: 1000
target:
  endpoint: http://example.org/sparql
  graph: http://example.org/graph/osm
  var: t
  property: geo:asWKT
transport:
  timeout: 90s
parser:
  max_field_size: 1048576
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFile_YAML(t *testing.T) {
	cfg, err := LoadFromFile(writeFile(t, "geolimes.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/geolimes", cfg.DataDir)
	require.Len(t, cfg.Prefixes, 2)
	assert.Equal(t, "geo", cfg.Prefixes[0].Label)
	assert.Equal(t, 2500, cfg.Source.Limit)
	assert.Equal(t, 1000, cfg.Source.ChunkSize)
	assert.Equal(t, 90*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, 1048576, cfg.Parser.MaxFieldSize)

	// Defaults survive for keys the file does not mention.
	assert.Equal(t, "shape", cfg.Target.ShapeVar)
	assert.Equal(t, 10000, cfg.Target.ChunkSize)
	assert.Equal(t, "local", cfg.Storage.Type)
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := writeFile(t, "geolimes.json", `{"data_dir": "/tmp/g", "source": {"endpoint": "http://e", "chunk_size": 50}}`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/g", cfg.DataDir)
	assert.Equal(t, 50, cfg.Source.ChunkSize)
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	_, err := LoadFromFile(writeFile(t, "geolimes.toml", "x = 1"))
	assert.Error(t, err)
}

func TestConfig_Query(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source.Graph = "g-source"
	cfg.Target.Graph = "g-target"

	src, err := cfg.Query(types.RoleSource)
	require.NoError(t, err)
	assert.Equal(t, "g-source", src.Graph)

	tgt, err := cfg.Query(types.RoleTarget)
	require.NoError(t, err)
	assert.Equal(t, "g-target", tgt.Graph)

	_, err = cfg.Query(types.Role(0))
	assert.ErrorIs(t, err, types.ErrInvalidRole)
}

func TestConfig_ResolveAndValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data"
	cfg.Source.ShapeVar = ""
	cfg.Resolve()

	assert.Equal(t, filepath.Join("/data", "cache"), cfg.CacheDir)
	assert.Equal(t, filepath.Join("/data", "logs"), cfg.LogDir)
	assert.Equal(t, filepath.Join("/data", "manifest.db"), cfg.ManifestPath)
	assert.Equal(t, "shape", cfg.Source.ShapeVar)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_ValidateFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad storage", func(c *Config) { c.Storage.Type = "gcs" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }},
		{"non-positive field size", func(c *Config) { c.Parser.MaxFieldSize = 0 }},
		{"negative retries", func(c *Config) { c.Transport.MaxRetries = -1 }},
		{"incomplete prefix", func(c *Config) { c.Prefixes = []Prefix{{Label: "geo"}} }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GEOLIMES_DATA_DIR", "/env/data")
	t.Setenv("GEOLIMES_SOURCE_ENDPOINT", "http://env/sparql")
	t.Setenv("GEOLIMES_SOURCE_LIMIT", "500")
	t.Setenv("GEOLIMES_TARGET_CHUNK_SIZE", "250")
	t.Setenv("GEOLIMES_TRANSPORT_TIMEOUT", "10s")
	t.Setenv("GEOLIMES_STORAGE_TYPE", "s3")
	t.Setenv("GEOLIMES_S3_BUCKET", "geo-cache")

	t.Setenv("GEOLIMES_SOURCE_SHAPE_VAR", "geom")
	t.Setenv("GEOLIMES_SOURCE_RESTRICTION", "?s a <http://example.org/Place> .")

	cfg := DefaultConfig()
	require.NoError(t, LoadFromEnv(cfg))

	assert.Equal(t, "/env/data", cfg.DataDir)
	assert.Equal(t, "geom", cfg.Source.ShapeVar)
	assert.Equal(t, "?s a <http://example.org/Place> .", cfg.Source.Restriction)
	assert.Equal(t, "http://env/sparql", cfg.Source.Endpoint)
	assert.Equal(t, 500, cfg.Source.Limit)
	assert.Equal(t, 250, cfg.Target.ChunkSize)
	assert.Equal(t, 10*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "geo-cache", cfg.Storage.S3.Bucket)
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	t.Setenv("GEOLIMES_SOURCE_LIMIT", "2,500")
	t.Setenv("GEOLIMES_TRANSPORT_TIMEOUT", "30")
	t.Setenv("GEOLIMES_TARGET_CHUNK_SIZE", "500")

	cfg := DefaultConfig()
	cfg.Source.Limit = 100
	defaultTimeout := cfg.Transport.Timeout

	err := LoadFromEnv(cfg)
	require.Error(t, err)
	assert.Equal(t, geoerrors.ErrCategoryConfiguration, geoerrors.GetCategory(err))
	assert.Contains(t, err.Error(), "GEOLIMES_SOURCE_LIMIT")
	assert.Contains(t, err.Error(), "GEOLIMES_TRANSPORT_TIMEOUT")

	// Bad values leave the previous settings untouched; good ones still apply.
	assert.Equal(t, 100, cfg.Source.Limit)
	assert.Equal(t, defaultTimeout, cfg.Transport.Timeout)
	assert.Equal(t, 500, cfg.Target.ChunkSize)
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := writeFile(t, ".env", "GEOLIMES_TEST_DOTENV_KEY=loaded\n")
	t.Setenv("GEOLIMES_TEST_DOTENV_KEY", "")
	os.Unsetenv("GEOLIMES_TEST_DOTENV_KEY")
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("GEOLIMES_TEST_DOTENV_KEY"))
}
