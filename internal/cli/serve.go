package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chicogong/affect/pkg/api"
	"github.com/chicogong/affect/pkg/auth"
	"github.com/chicogong/affect/pkg/batch"
	"github.com/chicogong/affect/pkg/config"
	"github.com/chicogong/affect/pkg/metrics"
	"github.com/chicogong/affect/pkg/store"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API for compiling programs and running batch jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default :8080)")
	cmd.Flags().String("store", "", "Job store: memory or sqlite")
	cmd.Flags().String("store-dsn", "", "SQLite database path")
	cmd.Flags().Int("concurrency", 0, "Parallel item limit per job, 0 for unbounded")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger

	s, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return exitf(ExitStorageError, "open store: %w", err)
	}
	defer s.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector("affect", reg, logger)

	runner := batch.NewRunner(
		a.executor(a.backends(false), false, collector),
		batch.WithConcurrency(cfg.Batch.Concurrency),
		batch.WithLogger(logger),
		batch.WithMetrics(collector),
	)

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithMetrics(collector, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	}
	authMiddleware, err := newAuth(cfg.Auth)
	if err != nil {
		return &ExitError{Code: ExitCLIError, Err: err}
	}
	if authMiddleware != nil {
		opts = append(opts, api.WithAuth(authMiddleware))
	} else {
		logger.Warn("Authentication disabled, set auth.jwt_secret or auth.api_keys to enable it")
	}

	server := api.NewServer(s, runner, opts...)
	if n, err := server.Recover(ctx); err != nil {
		return exitf(ExitStorageError, "recover jobs: %w", err)
	} else if n > 0 {
		logger.Warn("Marked jobs interrupted by a previous shutdown as failed", zap.Int("jobs", n))
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server",
			zap.String("addr", cfg.Server.Addr),
			zap.String("store", cfg.Store.Driver),
			zap.Bool("auth", authMiddleware != nil),
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		server.Close()
		if !errors.Is(err, http.ErrServerClosed) {
			return exitf(ExitCLIError, "server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	// cancels running jobs and waits for them to record it
	server.Close()
	logger.Info("Server stopped")
	return nil
}

// newAuth builds the API middleware, or nil when no credential is
// configured
func newAuth(c config.AuthConfig) (*auth.AuthMiddleware, error) {
	if !c.Enabled() {
		return nil, nil
	}

	var jwtManager *auth.JWTManager
	if c.JWTSecret != "" {
		issuer := c.JWTIssuer
		if issuer == "" {
			issuer = auth.DefaultIssuer
		}
		jwtManager = auth.NewJWTManager(c.JWTSecret, c.TokenTTL, auth.WithIssuer(issuer))
	}

	keys := auth.NewAPIKeyManager()
	if err := keys.LoadKeys(c.APIKeys); err != nil {
		return nil, fmt.Errorf("auth.api_keys: %w", err)
	}
	return auth.NewAuthMiddleware(jwtManager, keys, c.Optional), nil
}
