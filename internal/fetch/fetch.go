// Package fetch retrieves a query's full result set from an endpoint in
// adaptively sized chunks.
package fetch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	geoerrors "github.com/dservsys/geolimes/internal/errors"
	"github.com/dservsys/geolimes/internal/query"
	"github.com/dservsys/geolimes/internal/tabular"
	"github.com/dservsys/geolimes/internal/transport"
	"github.com/dservsys/geolimes/pkg/types"
)

// ChunkKind is the outcome of one chunk request.
type ChunkKind int

const (
	// ChunkOK means the server returned a full chunk; more data may follow.
	ChunkOK ChunkKind = iota
	// ChunkExhausted means the server returned fewer rows than requested.
	ChunkExhausted
	// ChunkFault means the request or its decoding failed.
	ChunkFault
)

// String returns the metric label for the kind.
func (k ChunkKind) String() string {
	switch k {
	case ChunkOK:
		return "ok"
	case ChunkExhausted:
		return "exhausted"
	case ChunkFault:
		return "fault"
	default:
		return "unknown"
	}
}

// ChunkResult describes one chunk request.
type ChunkResult struct {
	Kind ChunkKind
	// Offset and Requested describe the window asked for.
	Offset    int
	Requested int
	// MaxRows is the ceiling the server advertised, 0 if none.
	MaxRows int
	Table   *types.Table
	Err     error
}

// Rows returns the number of rows the chunk delivered.
func (r ChunkResult) Rows() int {
	return r.Table.Len()
}

// Config configures a Fetcher.
type Config struct {
	Client  transport.Client
	Parser  tabular.Options
	Logger  *zap.Logger
	Metrics *Metrics
}

// Fetcher runs chunked retrievals. It issues one request at a time.
type Fetcher struct {
	client  transport.Client
	parser  tabular.Options
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	return &Fetcher{
		client:  cfg.Client,
		parser:  cfg.Parser,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     time.Now,
	}
}

// FetchAll retrieves every row of q. It returns (nil, nil) when the endpoint
// has no data for the query. Any chunk fault aborts the retrieval and no
// partial result is returned.
//
// The chunk size starts at the configured value, is clamped to the
// configured limit on the last planned chunk, and shrinks permanently to the
// server's advertised row ceiling whenever that ceiling is smaller. A chunk
// shorter than the chunk size in effect ends the retrieval.
func (f *Fetcher) FetchAll(ctx context.Context, q *query.Query) (*types.Table, error) {
	start := f.now()
	logger := f.logger.With(zap.Stringer("role", q.Role()), zap.String("fingerprint", q.Fingerprint()))

	var results *types.Table
	var err error
	if q.IsRaw() {
		results, err = f.fetchRaw(ctx, q, logger)
	} else {
		results, err = f.fetchPaged(ctx, q, logger)
	}

	elapsed := f.now().Sub(start)
	f.metrics.duration.Observe(elapsed.Seconds())
	if err != nil {
		return nil, err
	}

	if results.Empty() {
		logger.Info("no data returned", zap.Float64("elapsed_seconds", elapsed.Seconds()))
		return nil, nil
	}
	logger.Info("retrieval finished",
		zap.Int("rows", results.Len()),
		zap.Float64("elapsed_seconds", elapsed.Seconds()))
	return results, nil
}

func (f *Fetcher) fetchPaged(ctx context.Context, q *query.Query, logger *zap.Logger) (*types.Table, error) {
	var (
		offset    = q.Offset()
		chunkSize = q.ChunkSize()
		limit     = q.Limit()
		results   = &types.Table{}
		run       = true
	)

	for run {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if limit > 0 && offset+chunkSize >= limit {
			chunkSize = limit - offset
			run = false
		}
		if chunkSize <= 0 {
			break
		}

		logger.Info("fetching chunk", zap.Int("offset", offset), zap.Int("chunk_size", chunkSize))
		res := f.FetchChunk(ctx, q.Render(offset, chunkSize), offset, chunkSize)
		if res.Kind == ChunkFault {
			return nil, res.Err
		}

		if res.MaxRows > 0 && res.MaxRows < chunkSize {
			logger.Info("server limits chunk size",
				zap.Int("requested", chunkSize), zap.Int("max_rows", res.MaxRows))
			chunkSize = res.MaxRows
			f.metrics.shrinks.Inc()
		}
		offset += chunkSize

		if err := appendChunk(results, res.Table); err != nil {
			return nil, err
		}
		if res.Rows() < chunkSize {
			logger.Debug("chunk exhausted result set", zap.Int("rows", res.Rows()), zap.Int("chunk_size", chunkSize))
			break
		}
	}
	return results, nil
}

// fetchRaw issues a verbatim query once; its text already fixes the window.
func (f *Fetcher) fetchRaw(ctx context.Context, q *query.Query, logger *zap.Logger) (*types.Table, error) {
	logger.Info("fetching raw query")
	res := f.FetchChunk(ctx, q.Text(), q.Offset(), 0)
	if res.Kind == ChunkFault {
		return nil, res.Err
	}
	if res.MaxRows > 0 && res.Table.Len() >= res.MaxRows {
		logger.Warn("raw query result truncated at the endpoint row ceiling",
			zap.Int("rows", res.Table.Len()),
			zap.Int("max_rows", res.MaxRows))
	}
	results := &types.Table{}
	if err := appendChunk(results, res.Table); err != nil {
		return nil, err
	}
	return results, nil
}

// FetchChunk executes one query text and classifies the outcome. requested
// is the window size the text asks for; 0 means unbounded, which is never
// reported as exhausted.
func (f *Fetcher) FetchChunk(ctx context.Context, text string, offset, requested int) ChunkResult {
	res := ChunkResult{Offset: offset, Requested: requested}

	resp, err := f.client.Execute(ctx, text)
	if err != nil {
		return f.fault(res, err)
	}
	res.MaxRows = resp.MaxRows()

	data, err := transport.Decode(resp)
	if err != nil {
		return f.fault(res, err)
	}

	table, err := tabular.ParseBytes(data, f.parser)
	if err != nil {
		return f.fault(res, err)
	}
	res.Table = table

	// The exhaustion test uses the size in effect after any ceiling shrink.
	effective := requested
	if res.MaxRows > 0 && res.MaxRows < effective {
		effective = res.MaxRows
	}
	res.Kind = ChunkOK
	if requested > 0 && table.Len() < effective {
		res.Kind = ChunkExhausted
	}

	f.metrics.chunks.WithLabelValues(res.Kind.String()).Inc()
	f.metrics.rows.Add(float64(table.Len()))
	return res
}

func (f *Fetcher) fault(res ChunkResult, err error) ChunkResult {
	res.Kind = ChunkFault
	res.Err = err
	f.metrics.chunks.WithLabelValues(res.Kind.String()).Inc()
	f.logger.Error("chunk failed",
		zap.Int("offset", res.Offset),
		zap.Int("chunk_size", res.Requested),
		zap.String("category", string(geoerrors.GetCategory(err))),
		zap.Error(err))
	return res
}

func appendChunk(results, chunk *types.Table) error {
	if err := results.Append(chunk); err != nil {
		return geoerrors.NewDecodeError(geoerrors.CodeSchemaMismatch,
			fmt.Sprintf("chunk columns %v do not match %v", chunk.Columns, results.Columns), err)
	}
	return nil
}
