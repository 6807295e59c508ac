// Package app wires configuration, storage, the cache and the per-role
// retrieval pipelines into one application.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dservsys/geolimes/internal/cache"
	"github.com/dservsys/geolimes/internal/config"
	"github.com/dservsys/geolimes/internal/fetch"
	"github.com/dservsys/geolimes/internal/logging"
	"github.com/dservsys/geolimes/internal/manifest"
	"github.com/dservsys/geolimes/internal/query"
	"github.com/dservsys/geolimes/internal/retrieval"
	"github.com/dservsys/geolimes/internal/server"
	"github.com/dservsys/geolimes/internal/storage"
	"github.com/dservsys/geolimes/internal/tabular"
	"github.com/dservsys/geolimes/internal/transport"
	"github.com/dservsys/geolimes/pkg/types"
)

// App holds the shared resources of a geolimes process.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *prometheus.Registry
	objects   storage.ObjectStorage
	catalog   *manifest.SQLiteCatalog
	cache     *cache.Store
	errorLogs *logging.ErrorLogs
	metrics   *fetch.Metrics
	shutdown  *server.ShutdownManager

	// Per-role pipelines are built on first use so that a run that only
	// needs one role does not require the other to be configured.
	mu         sync.Mutex
	retrievers map[types.Role]*retrieval.Retriever
	// flight is shared by all retrievers since roles may render the same
	// query text.
	flight singleflight.Group

	// newClient is replaced in tests.
	newClient func(endpoint string) (transport.Client, error)
}

// New creates an application from cfg. It resolves paths, validates the
// configuration and opens storage and the manifest.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{
		cfg:        cfg,
		logger:     logger,
		registry:   prometheus.NewRegistry(),
		retrievers: make(map[types.Role]*retrieval.Retriever),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.newClient = a.httpClient

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return nil, err
	}
	return a, nil
}

// initSharedResources initializes storage, the manifest, the cache and the
// error logs.
func (a *App) initSharedResources(ctx context.Context) error {
	var err error

	switch a.cfg.Storage.Type {
	case "local":
		a.objects, err = storage.NewLocalStorage(nil, a.cfg.CacheDir)
		if err != nil {
			return fmt.Errorf("failed to create local storage: %w", err)
		}
		a.logger.Info("using local storage", zap.String("path", a.cfg.CacheDir))
	case "s3":
		s3cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3cfg.Region = a.cfg.Storage.S3.Region
		}
		s3cfg.Prefix = a.cfg.Storage.S3.Prefix
		s3cfg.Endpoint = a.cfg.Storage.S3.Endpoint
		s3cfg.UsePathStyle = a.cfg.Storage.S3.UsePathStyle
		a.objects, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3cfg)
		if err != nil {
			return fmt.Errorf("failed to create S3 storage: %w", err)
		}
		a.logger.Info("using S3 storage",
			zap.String("bucket", a.cfg.Storage.S3.Bucket),
			zap.String("prefix", s3cfg.Prefix))
	}

	a.catalog, err = manifest.NewCatalog(a.cfg.ManifestPath)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}

	a.cache, err = cache.New(cache.Config{
		Objects:    a.objects,
		Catalog:    a.catalog,
		Parser:     a.parserOptions(),
		Logger:     a.logger.Named("cache"),
		Registerer: a.registry,
	})
	if err != nil {
		return err
	}

	a.errorLogs, err = logging.NewErrorLogs(nil, a.cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to open error log directory: %w", err)
	}

	a.metrics = fetch.NewMetrics(a.registry)
	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{
		DrainTimeout: a.cfg.Transport.Timeout,
		Logger:       a.logger,
	})
	a.shutdown.RegisterCloser(server.CloserFunc(a.catalog.Close))
	return nil
}

func (a *App) parserOptions() tabular.Options {
	return tabular.Options{MaxFieldSize: a.cfg.Parser.MaxFieldSize}
}

func (a *App) httpClient(endpoint string) (transport.Client, error) {
	return transport.NewHTTPClient(transport.HTTPConfig{
		Endpoint:   endpoint,
		Timeout:    a.cfg.Transport.Timeout,
		MaxRetries: a.cfg.Transport.MaxRetries,
		UserAgent:  a.cfg.Transport.UserAgent,
		Logger:     a.logger.Named("transport"),
	})
}

// retriever returns the pipeline for role, building it on first use.
func (a *App) retriever(q *query.Query) (*retrieval.Retriever, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if r, ok := a.retrievers[q.Role()]; ok {
		return r, nil
	}

	client, err := a.newClient(q.Endpoint())
	if err != nil {
		return nil, err
	}
	logger := a.logger.With(zap.Stringer("role", q.Role()))
	r, err := retrieval.New(retrieval.Config{
		Fetcher: fetch.New(fetch.Config{
			Client:  client,
			Parser:  a.parserOptions(),
			Logger:  logger.Named("fetch"),
			Metrics: a.metrics,
		}),
		Cache:     a.cache,
		ErrorLogs: a.errorLogs,
		Logger:    logger,
		Flight:    &a.flight,
	})
	if err != nil {
		return nil, err
	}
	a.retrievers[q.Role()] = r
	return r, nil
}

// Retrieve runs the configured query for role.
func (a *App) Retrieve(ctx context.Context, role types.Role) (*retrieval.Outcome, error) {
	q, err := query.FromConfig(a.cfg, role)
	if err != nil {
		return nil, err
	}
	r, err := a.retriever(q)
	if err != nil {
		return nil, err
	}
	return r.Retrieve(ctx, q)
}

// RetrieveAll runs every role in order and stops at the first failure.
func (a *App) RetrieveAll(ctx context.Context, roles []types.Role) ([]*retrieval.Outcome, error) {
	outcomes := make([]*retrieval.Outcome, 0, len(roles))
	for _, role := range roles {
		out, err := a.Retrieve(ctx, role)
		if err != nil {
			return outcomes, fmt.Errorf("%s: %w", role, err)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// Config returns the resolved configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Cache returns the artifact store.
func (a *App) Cache() *cache.Store { return a.cache }

// ErrorLogs returns the per-fingerprint error logs.
func (a *App) ErrorLogs() *logging.ErrorLogs { return a.errorLogs }

// Registry returns the metrics registry.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Shutdown returns the shutdown manager.
func (a *App) Shutdown() *server.ShutdownManager { return a.shutdown }

// Serve runs handler on the configured address until shutdown completes.
func (a *App) Serve(ctx context.Context, handler http.Handler) error {
	srv := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      server.ShutdownMiddleware(a.shutdown)(handler),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	a.logger.Info("HTTP server listening", zap.String("addr", a.cfg.HTTP.Addr))
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.NewGracefulHTTPServer(srv, a.shutdown).ListenAndServe()
	}()
	signalDone := make(chan error, 1)
	go func() {
		signalDone <- a.shutdown.ListenForSignals(ctx)
	}()

	select {
	case err := <-serveErr:
		if shutdownErr := a.shutdown.Shutdown(context.Background(), "server stopped"); shutdownErr != nil {
			a.logger.Warn("shutdown finished with errors", zap.Error(shutdownErr))
		}
		<-signalDone
		return err
	case err := <-signalDone:
		if err != nil {
			a.logger.Warn("shutdown finished with errors", zap.Error(err))
		}
		return <-serveErr
	}
}

// Close releases all shared resources.
func (a *App) Close() error {
	if a.shutdown != nil {
		return a.shutdown.Shutdown(context.Background(), "closed")
	}
	a.cleanup()
	return nil
}

// cleanup releases resources when construction fails before the shutdown
// manager owns them.
func (a *App) cleanup() {
	if a.catalog != nil {
		if err := a.catalog.Close(); err != nil {
			a.logger.Warn("failed to close manifest", zap.Error(err))
		}
	}
}
