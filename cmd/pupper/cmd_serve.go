package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pupper/internal/admin"
	"pupper/internal/bus"
	"pupper/internal/logging"
	"pupper/internal/perception"
	"pupper/internal/telemetry"
)

var serveWorkers int

// serveCmd runs the translation node against the configured bus
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Translate every utterance on the inbound topic until interrupted",
	Long: `Subscribes to the inbound topic and publishes exactly one reply per
utterance on the outbound topic: the action list, e.g. "[move, sit]", or the
fallback message when translation fails.

When metrics are enabled an admin server exposes /healthz, /readyz, /metrics
and POST /v1/translate.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "Override node.workers (0 keeps the config value)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveWorkers > 0 {
		cfg.Node.Workers = serveWorkers
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewProvider(ctx, telemetry.ConfigFrom(cfg))
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	b, err := bus.NewFromConfig(cfg.Bus)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer func() { _ = b.Close() }()

	p, err := buildPipeline(cfg, b, pipelineOptions{withDiagnostics: true})
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	in, err := bus.Ingest(ctx, b, cfg.Bus.InboundTopic)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := p.node.Run(gctx, in); err != nil {
			return err
		}
		if gctx.Err() != nil {
			return gctx.Err()
		}
		return errors.New("inbound subscription closed")
	})

	if cfg.LLM.Provider == string(perception.ProviderScripted) {
		logging.BootWarn("serving with the scripted provider: replies come from llm.script, not a model")
	}
	if !cfg.Metrics.Enabled {
		logging.BootWarn("admin server disabled (metrics.enabled=false): no /healthz, /readyz or /metrics")
	}
	if cfg.Metrics.Enabled {
		srv := admin.NewServer(admin.Config{
			Addr:           cfg.Metrics.Addr,
			ServiceName:    cfg.Name,
			Version:        cfg.Version,
			TranslateLimit: cfg.Metrics.TranslateLimit,
		}, admin.Deps{
			Metrics:    p.metrics,
			Translator: p.node,
			Checkers:   p.readinessChecks(b),
			Logger:     logger.Named("admin"),
		})
		g.Go(func() error {
			return srv.ListenAndServe(gctx)
		})
	}

	logger.Info("pupper serving",
		zap.String("inbound", cfg.Bus.InboundTopic),
		zap.String("outbound", cfg.Bus.OutboundTopic),
		zap.String("driver", cfg.Bus.Driver),
		zap.Int("workers", p.node.Config().Workers))

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("shutting down")
		return nil
	}
	return err
}
