package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apihttp "github.com/dservsys/geolimes/internal/api/http"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve retrievals, the cache and metrics over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (default from config, :8080)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, logger, cleanup, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if serveAddr != "" {
		a.Config().HTTP.Addr = serveAddr
	}

	handler := apihttp.NewRouter(apihttp.RouterConfig{
		Retriever: a,
		Cache:     a.Cache(),
		Gatherer:  a.Registry(),
		Logger:    logger.Named("http"),
	})
	logger.Info("starting geolimes",
		zap.String("version", version),
		zap.String("data_dir", a.Config().DataDir),
		zap.String("storage", a.Config().Storage.Type))
	return a.Serve(ctx, handler)
}
