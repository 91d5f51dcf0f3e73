// Command voicereg runs the voice onboarding engine: a background
// service exposing health and metrics endpoints while sweeping expired
// sessions, plus a one-shot sweep mode for operational use.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/voicereg-dev/voicereg/internal/llm/provider"
	"github.com/voicereg-dev/voicereg/pkg/config"
	"github.com/voicereg-dev/voicereg/pkg/extract"
	"github.com/voicereg-dev/voicereg/pkg/gateway"
	"github.com/voicereg-dev/voicereg/pkg/observability"
	"github.com/voicereg-dev/voicereg/pkg/prompts"
	"github.com/voicereg-dev/voicereg/pkg/schema"
	"github.com/voicereg-dev/voicereg/pkg/session"
	"github.com/voicereg-dev/voicereg/pkg/voice"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "voicereg",
		Short:         "Voice onboarding engine for doctor registration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(serveCmd(), sweepCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with background sweeping and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Evict expired sessions once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep()
		},
	}
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.LoadConfig(configPath)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func buildStore(cfg *config.Config) (session.Store, error) {
	switch cfg.Store {
	case "redis":
		return session.NewRedisStore(session.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			PoolSize: cfg.Redis.PoolSize,
		})
	default:
		return session.NewMemoryStore(), nil
	}
}

func buildEngine(cfg *config.Config, store session.Store, logger *slog.Logger) (*voice.Engine, error) {
	registry := schema.DefaultRegistry()
	if cfg.SchemaPath != "" {
		var err error
		registry, err = schema.LoadRegistry(cfg.SchemaPath)
		if err != nil {
			return nil, fmt.Errorf("load schema: %w", err)
		}
	}

	pm := prompts.NewManager()
	if cfg.PromptsPath != "" {
		var err error
		pm, err = prompts.Load(cfg.PromptsPath)
		if err != nil {
			return nil, fmt.Errorf("load prompts: %w", err)
		}
	}

	prov, err := provider.New(cfg.Provider, map[string]any{"api_key": cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}

	extractor := extract.New(prov, registry, pm, extract.Config{
		Model:               cfg.Model,
		Temperature:         cfg.Temperature,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		RequestsPerSecond:   cfg.RequestsPerSecond,
	})

	gw := gateway.NewHTTPGateway(cfg.GatewayURL, 15*time.Second)

	return voice.NewEngine(store, extractor, registry, pm, gw, voice.Config{
		Window:     cfg.SessionTimeout.Duration(),
		SweepBatch: cfg.SweepBatch,
	}, logger), nil
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	engine, err := buildEngine(cfg, store, logger)
	if err != nil {
		return err
	}

	observability.InitMetrics()

	checker := observability.NewHealthChecker()
	if rs, ok := store.(*session.RedisStore); ok {
		checker.RegisterCheck(observability.StoreCheck(rs.Ping))
	}
	obsServer := observability.NewServer(cfg.MetricsPort, checker)

	sweeper := voice.NewSweeper(engine, cfg.SweepInterval.Duration(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("observability server listening", "port", cfg.MetricsPort)
		if err := obsServer.Start(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := sweeper.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		sweeper.Stop()
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return obsServer.Shutdown(shutdownCtx)
	})

	logger.Info("voicereg started",
		"store", cfg.Store, "provider", cfg.Provider, "window", cfg.SessionTimeout.Duration().String())

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("voicereg stopped")
	return nil
}

func runSweep() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// Sweeping never talks to the provider or gateway, so a one-shot
	// sweep needs neither credentials nor a reachable registration API.
	engine := voice.NewEngine(store, nil, schema.DefaultRegistry(),
		prompts.NewManager(), nil, voice.Config{
			Window:     cfg.SessionTimeout.Duration(),
			SweepBatch: cfg.SweepBatch,
		}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	evicted, err := engine.SweepExpired(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("evicted %d expired sessions\n", evicted)
	return nil
}
