package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterConfig holds the dependencies of the HTTP API.
type RouterConfig struct {
	Retriever Retriever
	Cache     CacheInspector
	// Gatherer is optional; /metrics is only mounted when it is set.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter returns the HTTP API handler.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	mw := DefaultMiddleware(cfg.Logger)

	mux := http.NewServeMux()
	mux.Handle("/v1/retrieve", mw(NewRetrieveHandler(cfg.Retriever)))
	if cfg.Cache != nil {
		ch := NewCacheHandler(cfg.Cache)
		mux.Handle("/v1/cache", mw(http.HandlerFunc(ch.List)))
		mux.Handle("/v1/cache/verify", mw(http.HandlerFunc(ch.Verify)))
	}
	mux.HandleFunc("/health", healthHandler)
	if cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "geolimes"})
}
