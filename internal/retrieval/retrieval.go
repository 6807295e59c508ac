// Package retrieval answers a query from the cache when it can and from the
// endpoint when it must, and materializes the result.
package retrieval

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	geoerrors "github.com/dservsys/geolimes/internal/errors"
	"github.com/dservsys/geolimes/internal/geometry"
	"github.com/dservsys/geolimes/internal/logging"
	"github.com/dservsys/geolimes/internal/query"
	"github.com/dservsys/geolimes/pkg/types"
)

// Fetcher retrieves the full result of a query; nil means no data.
type Fetcher interface {
	FetchAll(ctx context.Context, q *query.Query) (*types.Table, error)
}

// Cache persists results by fingerprint.
type Cache interface {
	Load(ctx context.Context, fingerprint string) (*types.Table, bool, error)
	Store(ctx context.Context, fingerprint string, role types.Role, queryText string, table *types.Table) error
}

// Outcome is the result of one retrieval. Result is nil when NoData is set.
type Outcome struct {
	SessionID   string
	Role        types.Role
	Fingerprint string
	CacheHit    bool
	NoData      bool
	Result      *geometry.Result
	Elapsed     time.Duration
}

// Rows returns the number of materialized rows.
func (o *Outcome) Rows() int {
	if o == nil || o.Result == nil {
		return 0
	}
	return o.Result.Len()
}

// Config configures a Retriever.
type Config struct {
	Fetcher Fetcher
	Cache   Cache
	// ErrorLogs is optional; when set, faults are appended to the
	// fingerprint's error log.
	ErrorLogs *logging.ErrorLogs
	Logger    *zap.Logger
	// Flight lets several retrievers over one cache collapse identical
	// fingerprints together. A private group is used when nil.
	Flight *singleflight.Group
}

// Retriever runs the check-cache, fetch, store, materialize sequence.
// Concurrent retrievals of the same fingerprint share one cache lookup and
// at most one endpoint fetch.
type Retriever struct {
	fetcher   Fetcher
	cache     Cache
	errorLogs *logging.ErrorLogs
	logger    *zap.Logger

	flight *singleflight.Group
}

// loaded is the table shared by callers of one in-flight retrieval.
type loaded struct {
	table *types.Table
	hit   bool
}

// New creates a Retriever.
func New(cfg Config) (*Retriever, error) {
	if cfg.Fetcher == nil {
		return nil, geoerrors.NewConfigurationError(geoerrors.CodeMissingParameter, "retriever requires a fetcher")
	}
	if cfg.Cache == nil {
		return nil, geoerrors.NewConfigurationError(geoerrors.CodeMissingParameter, "retriever requires a cache")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Flight == nil {
		cfg.Flight = &singleflight.Group{}
	}
	return &Retriever{
		flight:    cfg.Flight,
		fetcher:   cfg.Fetcher,
		cache:     cfg.Cache,
		errorLogs: cfg.ErrorLogs,
		logger:    cfg.Logger,
	}, nil
}

// Retrieve returns the materialized result of q. A query that yields no
// rows returns an Outcome with NoData set and a nil error, and leaves no
// cache artifact behind.
func (r *Retriever) Retrieve(ctx context.Context, q *query.Query) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{
		SessionID:   uuid.NewString(),
		Role:        q.Role(),
		Fingerprint: q.Fingerprint(),
	}
	logger := r.logger.With(
		zap.String("session", out.SessionID),
		zap.Stringer("role", out.Role),
		zap.String("fingerprint", out.Fingerprint))

	v, err, shared := r.flight.Do(out.Fingerprint, func() (interface{}, error) {
		return r.load(ctx, q, logger)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logger.Debug("joined in-flight retrieval")
	}
	res := v.(loaded)
	out.CacheHit = res.hit
	if res.table.Empty() {
		out.NoData = true
		out.Elapsed = time.Since(start)
		return out, nil
	}

	out.Result, err = geometry.Materialize(res.table, q.GeometryColumn(), q.IndexColumn())
	if err != nil {
		return nil, r.fail(logger, out.Fingerprint, "materialization failed", err)
	}

	out.Elapsed = time.Since(start)
	logger.Info("retrieval complete",
		zap.Bool("cache_hit", out.CacheHit),
		zap.Int("rows", out.Rows()),
		zap.Duration("elapsed", out.Elapsed))
	return out, nil
}

// load answers q from the cache or, on a miss, fetches and stores it. An
// empty table means the endpoint had no data. Faults are logged here so a
// shared flight records them once.
func (r *Retriever) load(ctx context.Context, q *query.Query, logger *zap.Logger) (loaded, error) {
	fingerprint := q.Fingerprint()
	table, hit, err := r.cache.Load(ctx, fingerprint)
	if err != nil {
		return loaded{}, r.fail(logger, fingerprint, "cache load failed", err)
	}
	if hit {
		logger.Info("cache file exists, loading", zap.Int("rows", table.Len()))
		return loaded{table: table, hit: true}, nil
	}

	logger.Info("cache miss, querying endpoint", zap.String("endpoint", q.Endpoint()))
	table, err = r.fetcher.FetchAll(ctx, q)
	if err != nil {
		return loaded{}, r.fail(logger, fingerprint, "retrieval failed", err)
	}
	if table.Empty() {
		logger.Info("result is empty")
		return loaded{table: table}, nil
	}
	if err := r.cache.Store(ctx, fingerprint, q.Role(), q.Text(), table); err != nil {
		return loaded{}, r.fail(logger, fingerprint, "cache store failed", err)
	}
	return loaded{table: table}, nil
}

func (r *Retriever) fail(logger *zap.Logger, fingerprint, msg string, err error) error {
	logger.Error(msg,
		zap.String("category", string(geoerrors.GetCategory(err))),
		zap.Error(err))
	if r.errorLogs != nil {
		if logErr := r.errorLogs.Record(fingerprint, err); logErr != nil {
			logger.Warn("failed to write error log", zap.Error(logErr))
		}
	}
	return err
}
