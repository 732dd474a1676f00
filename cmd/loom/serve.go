package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aretw0/loom"
	"github.com/aretw0/loom/internal/presentation/tui"
	httpadapter "github.com/aretw0/loom/pkg/adapters/http"
	"github.com/aretw0/loom/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Serves the session API, the lifecycle event stream (/events) and
prometheus metrics (/metrics) over HTTP.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics, err := observability.NewMetricsSink(reg)
		if err != nil {
			return err
		}
		stream := httpadapter.NewStream(nil)

		cfg, logger, eng, err := setup(cmd, loom.WithEventSink(
			metrics,
			stream,
			observability.NewTracingSink(otel.GetTracerProvider()),
		))
		if err != nil {
			return err
		}
		defer eng.Close()

		srv := &http.Server{
			Addr: cfg.Server.Addr,
			Handler: httpadapter.NewHandler(eng,
				httpadapter.WithStream(stream),
				httpadapter.WithMetrics(reg),
				httpadapter.WithLogger(logger),
			),
			ReadHeaderTimeout: 10 * time.Second,
		}

		tui.PrintBanner(cmd.OutOrStdout())
		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("server listening", "addr", srv.Addr, "workflows", cfg.Workflows.Dir, "store", cfg.Store.Backend)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-cmd.Context().Done():
			logger.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
				return srv.Close()
			}
			logger.Info("server stopped")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", ":8080", "listen address")
}
