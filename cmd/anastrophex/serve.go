package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/anastrophex/internal/config"
	"github.com/HendryAvila/anastrophex/internal/directives"
	"github.com/HendryAvila/anastrophex/internal/engine"
	"github.com/HendryAvila/anastrophex/internal/feedback"
	"github.com/HendryAvila/anastrophex/internal/memory"
	"github.com/HendryAvila/anastrophex/internal/patterns"
	mcpserver "github.com/HendryAvila/anastrophex/internal/server"
)

// alertRetention is how long closed alerts are kept in the database.
const alertRetention = 30 * 24 * time.Hour

func (c *cli) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server (stdio transport)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().String("patterns", "", "pattern catalogue file, watched for changes")
	cmd.Flags().String("directives", "", "markdown file with directive text per pattern")
	cmd.Flags().String("metrics-addr", "", "address for the Prometheus /metrics endpoint, disabled when empty")
	_ = c.v.BindPFlag(config.KeyPatternsFile, cmd.Flags().Lookup("patterns"))
	_ = c.v.BindPFlag(config.KeyDirectivesFile, cmd.Flags().Lookup("directives"))
	_ = c.v.BindPFlag(config.KeyMetricsAddr, cmd.Flags().Lookup("metrics-addr"))
	return cmd
}

func serve(parent context.Context, cfg *config.Config, logger *zap.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.File != "" {
		logger.Info("using config file", zap.String("path", cfg.File))
	}

	reg, err := loadRegistry(cfg.PatternsFile)
	if err != nil {
		return err
	}
	var doc *directives.Document
	if cfg.DirectivesFile != "" {
		if doc, err = directives.Load(cfg.DirectivesFile); err != nil {
			return err
		}
	}

	store, err := memory.New(memory.Config{DataDir: cfg.DataDir})
	if err != nil {
		return fmt.Errorf("opening outcome store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing outcome store", zap.Error(err))
		}
	}()

	writer := feedback.NewWriteBehind(cfg.Persistence, logger.Named("persistence"))
	e := engine.New(cfg.Engine(), reg,
		engine.WithLogger(logger.Named("engine")),
		engine.WithStore(store, writer),
		engine.WithDirectives(doc),
	)
	if err := e.Rehydrate(ctx); err != nil {
		// Serve without history rather than refuse to start.
		logger.Warn("starting without persisted state", zap.Error(err))
	}
	if n, err := store.PruneAlerts(ctx, time.Now().Add(-alertRetention)); err != nil {
		logger.Warn("pruning closed alerts", zap.Error(err))
	} else if n > 0 {
		logger.Info("pruned closed alerts", zap.Int64("count", n))
	}

	logger.Info("anastrophex starting",
		zap.String("version", mcpserver.Version),
		zap.String("patterns", reg.Source()),
		zap.Int("pattern_count", reg.Len()),
		zap.String("database", store.Path()),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// Closing stdin ends the session and everything else with it.
		defer stop()
		stdio := server.NewStdioServer(mcpserver.New(e, logger.Named("mcp")))
		stdio.SetErrorLogger(zap.NewStdLog(logger.Named("stdio")))
		return ignoreCanceled(stdio.Listen(gctx, os.Stdin, os.Stdout))
	})
	g.Go(func() error { return ignoreCanceled(e.RunSweeper(gctx)) })
	g.Go(func() error { return ignoreCanceled(writer.Run(gctx)) })

	if cfg.PatternsFile != "" {
		w := patterns.NewWatcher(cfg.PatternsFile, e.SetRegistry, logger.Named("patterns"))
		g.Go(func() error { return ignoreCanceled(w.Run(gctx)) })
	}
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, logger) })
	}

	err = g.Wait()
	logger.Info("anastrophex stopped",
		zap.Int("pending_writes", writer.Pending()),
		zap.Uint64("write_failures", writer.Failures()),
	)
	return err
}

func loadRegistry(path string) (*patterns.Registry, error) {
	if path == "" {
		return patterns.Default()
	}
	return patterns.LoadFile(path)
}

func serveMetrics(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
