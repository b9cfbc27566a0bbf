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

	"github.com/spf13/cobra"

	"github.com/basketproof/sentinel/internal/audit"
	"github.com/basketproof/sentinel/internal/broadcast"
	"github.com/basketproof/sentinel/internal/catalog"
	"github.com/basketproof/sentinel/internal/config"
	"github.com/basketproof/sentinel/internal/ingest"
	"github.com/basketproof/sentinel/internal/replay"
	"github.com/basketproof/sentinel/internal/router"
	"github.com/basketproof/sentinel/internal/rules"
	"github.com/basketproof/sentinel/internal/station"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	StreamAddr string
	ListenAddr string
	Catalog    string
	AuditPath  string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the live fusion service",
		Long: `Run the live fusion service.

The service connects to the sensor stream, fuses frames into per-station
risk scores on a single-writer loop, appends the JSONL audit trail, and
serves websocket subscribers and replay triggers over HTTP.

Example:
  sentinel serve --stream 127.0.0.1:8765 --listen :8080 --catalog products.csv
  sentinel serve --config sentinel.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.StreamAddr, "stream", "", "sensor stream address (overrides config)")
	cmd.Flags().StringVar(&opts.ListenAddr, "listen", "", "HTTP bind address (overrides config)")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "product catalog CSV (overrides config)")
	cmd.Flags().StringVar(&opts.AuditPath, "audit-log", "", "audit trail JSONL path (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	slog.Info("loading catalog", "path", cfg.CatalogPath)
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load catalog", err)
	}
	slog.Info("catalog ready", "products", cat.Len(), "skipped_rows", cat.Skipped())

	watch, err := rules.Compile(cfg.WatchRules)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile watch rules", err)
	}

	sink := audit.NewWriter(cfg.AuditPath)
	defer func() {
		if closeErr := sink.Close(); closeErr != nil {
			slog.Error("error closing audit trail", "error", closeErr)
		}
	}()
	mapper := audit.NewMapper(sink)

	hub := broadcast.NewHub()
	defer hub.Close()

	store := station.NewStore()
	rt := router.New(store, cat, cfg.FusionThresholds(), mapper,
		router.WithBroadcaster(hub),
		router.WithWatchRules(watch),
	)

	// Signal handling for graceful shutdown.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// Stream ingestion feeds the router from its own goroutine.
	client := ingest.New(cfg.StreamAddr, rt, ingest.WithBackoff(cfg.ReconnectBackoff))
	go func() {
		if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("ingest stopped", "error", err)
			cancel()
		}
	}()

	// HTTP surface: websocket channels and replay triggers.
	lib := replay.NewLibrary(cfg.ScenarioDir, slog.Default())
	runner := replay.NewRunner(rt, replay.WithDelay(cfg.ReplayDelay))
	trigger := replay.NewTrigger(ctx, lib, runner, slog.Default())

	mux := http.NewServeMux()
	mux.Handle("/ws/", broadcast.Handler(hub))
	trigger.Register(mux)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		slog.Info("http listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server stopped", "error", err)
			cancel()
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown", "error", err)
		}
	}()

	slog.Info("sentinel starting", "stream", cfg.StreamAddr, "listen", cfg.ListenAddr)
	fmt.Fprintln(cmd.OutOrStdout(), "Sentinel started. Fusing checkout telemetry...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "router error", err)
	}

	slog.Info("sentinel stopped gracefully", "audit_events", mapper.EventCount())
	return nil
}

// loadConfig builds the effective config, applying command-line overrides
// on top of file and environment values.
func loadConfig(opts *ServeOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.StreamAddr != "" {
		cfg.StreamAddr = opts.StreamAddr
	}
	if opts.ListenAddr != "" {
		cfg.ListenAddr = opts.ListenAddr
	}
	if opts.Catalog != "" {
		cfg.CatalogPath = opts.Catalog
	}
	if opts.AuditPath != "" {
		cfg.AuditPath = opts.AuditPath
	}
	return cfg, nil
}
