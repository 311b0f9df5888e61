package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/certsync/internal/api"
	"github.com/roach88/certsync/internal/backend"
	"github.com/roach88/certsync/internal/config"
	"github.com/roach88/certsync/internal/feed"
	"github.com/roach88/certsync/internal/journal"
	"github.com/roach88/certsync/internal/metrics"
	"github.com/roach88/certsync/internal/reconciler"
	"github.com/roach88/certsync/internal/specsync"
)

// shutdownTimeout bounds the HTTP server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
	EnvFile    string
	Listen     string
	NoFeed     bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the reconciler, push feed and HTTP API",
		Long: `Start the reconciler against the configured REST API.

The reconciler bulk loads trainers and pending certifications, then applies
events from the websocket feed (if configured) and the webhook endpoint.
Counts are served over HTTP; Prometheus metrics at /metrics.

Configuration comes from --config (CUE or JSON), --env-file and CERTSYNC_*
environment variables, in increasing order of precedence.

Example:
  certsync run --config ./certsync.cue
  CERTSYNC_API_BASE_URL=https://api.example.com certsync run --listen :9000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file with CERTSYNC_* overrides")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "HTTP listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.NoFeed, "no-feed", false, "do not connect to the push feed")

	return cmd
}

func runService(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigPath, config.Sources{EnvFile: opts.EnvFile})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	setupLogging(cmd, opts.RootOptions, cfg.LogLevel)
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}

	client, err := backend.New(backend.Config{
		BaseURL:     cfg.API.BaseURL,
		Token:       cfg.API.Token,
		Timeout:     cfg.API.Timeout,
		PageSize:    cfg.API.PageSize,
		MaxAttempts: uint(cfg.API.MaxAttempts),
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create API client", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	recOpts := []reconciler.Option{
		reconciler.WithMetrics(m),
		reconciler.WithUnresolvedReloadAfter(cfg.Sync.UnresolvedReloadAfter),
		reconciler.WithSyncOptions(
			specsync.WithFallbackDelay(cfg.Sync.FallbackDelay),
			specsync.WithReloadDelay(cfg.Sync.ReloadDelay),
			specsync.WithCallTimeout(cfg.Sync.CallTimeout),
		),
	}

	if cfg.Journal != "" {
		j, err := journal.Open(cfg.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				slog.Error("error closing journal", "error", closeErr)
			}
		}()
		last, err := j.LastSeq(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		slog.Info("journal ready", "path", cfg.Journal, "last_seq", last)
		recOpts = append(recOpts, reconciler.WithJournal(j), reconciler.WithClock(reconciler.NewClockAt(last)))
	}

	rec := reconciler.New(client, recOpts...)

	serverOpts := []api.ServerOption{
		api.WithMiddlewares(api.LoggingMiddleware),
		api.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	}

	var sub *feed.Subscriber
	if cfg.Feed.URL != "" && !opts.NoFeed {
		sub = feed.New(cfg.Feed.URL, rec,
			feed.WithToken(cfg.API.Token),
			feed.WithReconnect(cfg.Feed.ReconnectInitial, cfg.Feed.ReconnectMax),
			feed.WithMetrics(m),
		)
		serverOpts = append(serverOpts, api.WithFeed(sub))
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewServer(rec, serverOpts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rec.Run(gctx)
	})
	if sub != nil {
		g.Go(func() error {
			return sub.Run(gctx)
		})
	}
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	fmt.Fprintf(cmd.OutOrStdout(), "certsync started on %s. Press Ctrl-C to stop.\n", cfg.Listen)

	if err := g.Wait(); err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "service error", err)
	}
	slog.Info("certsync stopped gracefully")
	return nil
}
