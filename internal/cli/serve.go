package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/casewise/internal/auth"
	"github.com/roach88/casewise/internal/config"
	"github.com/roach88/casewise/internal/obs"
	"github.com/roach88/casewise/internal/pgstore"
	"github.com/roach88/casewise/internal/ratelimit"
	"github.com/roach88/casewise/internal/server"
	"github.com/roach88/casewise/internal/store"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string

	// Ready, when set, receives the bound address once the listener is up.
	Ready func(addr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the remote session service",
		Long: `Run the REST session service the wizard writes through to.

Routes:
  GET  /healthz
  GET  /metrics
  GET  /v1/sessions[?email=]
  GET  /v1/sessions/{id}
  PUT  /v1/sessions/{id}
  GET  /v1/assignments[?email=]
  PUT  /v1/assignments/{id}
  POST /v1/accounts

Every /v1 route requires a bearer token signed with server.auth_secret
(see "casewise token"). With server.postgres_dsn set the service stores
sessions in Postgres; otherwise it uses the SQLite file at db_path.

Example:
  CASEWISE_AUTH_SECRET=s3cret casewise serve --addr :8080
  casewise serve --config casewise.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	logger := opts.logger()

	signer, err := auth.NewSigner(cfg.Server.AuthSecret, nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot start server", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeRepo(); err != nil {
			logger.Error("error closing repository", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := obs.NewMetrics(reg)

	srv := server.New(repo, signer,
		server.WithLogger(logger),
		server.WithMetrics(metrics, reg),
		server.WithLimiter(ratelimit.New(cfg.Accounts.Every, cfg.Accounts.Burst)),
	)

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.Serve(ln)
	}()

	addr := ln.Addr().String()
	logger.Info("server listening", "addr", addr)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", addr)
	if opts.Ready != nil {
		opts.Ready(addr)
	}

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}

// openRepository picks Postgres when a DSN is configured, the SQLite
// file otherwise.
func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (server.Repository, func() error, error) {
	if cfg.Server.PostgresDSN != "" {
		pg, err := pgstore.Open(cfg.Server.PostgresDSN)
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "failed to open postgres", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, WrapExitError(ExitCommandError, "failed to migrate postgres", err)
		}
		logger.Info("repository ready", "backend", "postgres")
		return pg, pg.Close, nil
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	logger.Info("repository ready", "backend", "sqlite", "path", cfg.DBPath)
	return st, st.Close, nil
}
