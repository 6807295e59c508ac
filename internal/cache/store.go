// Package cache persists retrieved tables under their query fingerprint so
// that identical queries never reach the network twice.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	geoerrors "github.com/dservsys/geolimes/internal/errors"
	"github.com/dservsys/geolimes/internal/manifest"
	"github.com/dservsys/geolimes/internal/storage"
	"github.com/dservsys/geolimes/internal/tabular"
	"github.com/dservsys/geolimes/pkg/types"
)

// Extension is appended to the fingerprint to name an artifact.
const Extension = ".csv"

// ObjectPath returns the storage path of the artifact for fingerprint.
func ObjectPath(fingerprint string) string {
	return fingerprint + Extension
}

// Config configures a Store.
type Config struct {
	Objects storage.ObjectStorage
	// Catalog is optional. Without it artifacts are stored and loaded without
	// checksum verification.
	Catalog    manifest.Catalog
	Parser     tabular.Options
	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

// Store loads and stores cache artifacts. It assumes a single writer per
// fingerprint.
type Store struct {
	objects storage.ObjectStorage
	catalog manifest.Catalog
	parser  tabular.Options
	logger  *zap.Logger
	now     func() time.Time

	hits   prometheus.Counter
	misses prometheus.Counter
	writes prometheus.Counter
}

// Artifact is one listed cache entry. Entry is nil for artifacts the
// manifest does not know about.
type Artifact struct {
	Fingerprint string
	ObjectPath  string
	Entry       *manifest.Entry
}

// New creates a Store.
func New(cfg Config) (*Store, error) {
	if cfg.Objects == nil {
		return nil, geoerrors.NewConfigurationError(geoerrors.CodeMissingParameter, "cache requires object storage")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Store{
		objects: cfg.Objects,
		catalog: cfg.Catalog,
		parser:  cfg.Parser,
		logger:  cfg.Logger,
		now:     time.Now,
		hits: promauto.With(cfg.Registerer).NewCounter(prometheus.CounterOpts{
			Namespace: "geolimes",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Number of cache lookups answered from a stored artifact.",
		}),
		misses: promauto.With(cfg.Registerer).NewCounter(prometheus.CounterOpts{
			Namespace: "geolimes",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Number of cache lookups that found no usable artifact.",
		}),
		writes: promauto.With(cfg.Registerer).NewCounter(prometheus.CounterOpts{
			Namespace: "geolimes",
			Subsystem: "cache",
			Name:      "writes_total",
			Help:      "Number of artifacts written.",
		}),
	}, nil
}

// Load returns the cached table for fingerprint. The boolean is false on a
// miss. An artifact whose bytes disagree with the recorded checksum, or that
// no longer parses, is reported as corruption rather than a hit.
func (s *Store) Load(ctx context.Context, fingerprint string) (*types.Table, bool, error) {
	path := ObjectPath(fingerprint)
	logger := s.logger.With(zap.String("fingerprint", fingerprint))

	data, err := s.objects.Get(ctx, path)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			s.misses.Inc()
			logger.Debug("cache miss")
			return nil, false, nil
		}
		return nil, false, geoerrors.NewStorageError(geoerrors.CodeDownloadFailed,
			fmt.Sprintf("failed to read artifact %s", path), err)
	}

	if err := s.verify(ctx, fingerprint, data); err != nil {
		return nil, false, err
	}

	table, err := tabular.ParseBytes(data, s.parser)
	if err != nil {
		return nil, false, geoerrors.NewCacheError(geoerrors.CodeCorruptionDetected,
			fmt.Sprintf("artifact %s does not parse", path), err)
	}
	if table.Empty() {
		s.misses.Inc()
		logger.Warn("ignoring empty artifact", zap.String("path", path))
		return nil, false, nil
	}

	s.hits.Inc()
	logger.Info("cache hit", zap.Int("rows", table.Len()))
	return table, true, nil
}

func (s *Store) verify(ctx context.Context, fingerprint string, data []byte) error {
	if s.catalog == nil {
		return nil
	}

	entry, err := s.catalog.Get(ctx, fingerprint)
	if errors.Is(err, manifest.ErrNotFound) {
		return nil
	}
	if err != nil {
		return geoerrors.NewInternalError("failed to read manifest", err)
	}

	if entry.Checksum != "" {
		if sum := manifest.Checksum(data); sum != entry.Checksum {
			return geoerrors.NewCacheError(geoerrors.CodeCorruptionDetected,
				fmt.Sprintf("artifact %s checksum %s does not match manifest %s", entry.ObjectPath, sum, entry.Checksum), nil)
		}
	}
	return nil
}

// Store writes table under fingerprint and records it in the manifest.
// Empty tables are rejected; "no data" is never cached.
func (s *Store) Store(ctx context.Context, fingerprint string, role types.Role, queryText string, table *types.Table) error {
	if table.Empty() {
		return geoerrors.NewCacheError(geoerrors.CodeEmptyResult,
			fmt.Sprintf("refusing to cache empty result for %s", fingerprint), nil)
	}

	data, err := tabular.Encode(table)
	if err != nil {
		return geoerrors.NewInternalError("failed to encode table", err)
	}

	path := ObjectPath(fingerprint)
	if err := s.objects.Put(ctx, path, data); err != nil {
		return geoerrors.NewStorageError(geoerrors.CodeUploadFailed,
			fmt.Sprintf("failed to write artifact %s", path), err)
	}
	s.writes.Inc()

	if s.catalog != nil {
		err := s.catalog.Record(ctx, &manifest.Entry{
			Fingerprint: fingerprint,
			Role:        role,
			ObjectPath:  path,
			QueryText:   queryText,
			RowCount:    int64(table.Len()),
			SizeBytes:   int64(len(data)),
			Checksum:    manifest.Checksum(data),
			CreatedAt:   s.now(),
		})
		if err != nil {
			return geoerrors.NewInternalError("failed to record artifact in manifest", err)
		}
	}

	s.logger.Info("cached result",
		zap.String("fingerprint", fingerprint),
		zap.String("path", path),
		zap.Int("rows", table.Len()),
		zap.Int("bytes", len(data)))
	return nil
}

// Delete removes an artifact and its manifest entry.
func (s *Store) Delete(ctx context.Context, fingerprint string) error {
	if err := s.objects.Delete(ctx, ObjectPath(fingerprint)); err != nil {
		return geoerrors.NewStorageError(geoerrors.CodeUploadFailed, "failed to delete artifact", err)
	}
	if s.catalog != nil {
		if err := s.catalog.Delete(ctx, fingerprint); err != nil {
			return geoerrors.NewInternalError("failed to delete manifest entry", err)
		}
	}
	return nil
}

// List returns every stored artifact, sorted by fingerprint.
func (s *Store) List(ctx context.Context) ([]Artifact, error) {
	paths, err := s.objects.ListObjects(ctx, "")
	if err != nil {
		return nil, geoerrors.NewStorageError(geoerrors.CodeDownloadFailed, "failed to list artifacts", err)
	}

	entries := map[string]*manifest.Entry{}
	if s.catalog != nil {
		list, err := s.catalog.List(ctx)
		if err != nil {
			return nil, geoerrors.NewInternalError("failed to list manifest", err)
		}
		for _, e := range list {
			entries[e.Fingerprint] = e
		}
	}

	var artifacts []Artifact
	for _, p := range paths {
		if !strings.HasSuffix(p, Extension) || strings.Contains(p, "/") {
			continue
		}
		fp := strings.TrimSuffix(p, Extension)
		artifacts = append(artifacts, Artifact{
			Fingerprint: fp,
			ObjectPath:  p,
			Entry:       entries[fp],
		})
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Fingerprint < artifacts[j].Fingerprint })
	return artifacts, nil
}

// Verify reconciles the manifest against stored artifacts.
func (s *Store) Verify(ctx context.Context) (*manifest.ReconciliationReport, error) {
	if s.catalog == nil {
		return nil, geoerrors.NewConfigurationError(geoerrors.CodeMissingParameter, "verification requires a manifest")
	}
	return manifest.Reconcile(ctx, s.catalog, s.objects, "")
}
