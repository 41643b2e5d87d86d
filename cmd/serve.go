package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/grpc"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/observability"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	var (
		addr        string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the orchestration gRPC service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			c, err := a.controller()
			if err != nil {
				return failure(err)
			}

			if metricsAddr != "" {
				metrics := &http.Server{
					Addr:              metricsAddr,
					Handler:           metricsMux(),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					a.logger.Info("metrics_server_started", "address", metricsAddr)
					if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("metrics_server_error", "error", err.Error())
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					_ = metrics.Shutdown(shutdownCtx)
				}()
			}

			svc := grpc.NewOrchestrationServer(a.logger, c, a.cfg)
			server := grpc.NewGracefulServer(svc, a.logger, addr)
			if err := server.Start(ctx, shutdownTimeout); err != nil {
				return failure(fmt.Errorf("serve: %w", err))
			}
			a.logger.Info("server_stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":50051", "gRPC listen address")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus /metrics listen address (disabled when empty)")
	return cmd
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
