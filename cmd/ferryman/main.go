// Package main is the entry point for the ferryman proxy.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ferryman-dev/ferryman/internal/api"
	"github.com/ferryman-dev/ferryman/internal/cascade"
	"github.com/ferryman-dev/ferryman/internal/config"
	"github.com/ferryman-dev/ferryman/internal/persist"
	"github.com/ferryman-dev/ferryman/internal/routing"
	"github.com/ferryman-dev/ferryman/internal/transform"
	"github.com/ferryman-dev/ferryman/internal/version"
)

const defaultConfigPath = "config.yaml"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := "start"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "start":
		return runStart(args)
	case "validate":
		return runValidate(args)
	case "status":
		return runStatus(args)
	case "version":
		fmt.Printf("ferryman %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (expected start, status, validate, or version)\n", cmd)
		return 2
	}
}

// configPath resolves the config file location: flag beats environment beats
// default.
func configPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("FERRYMAN_CONFIG"); env != "" {
		return env
	}
	return defaultConfigPath
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	cfgFlag := fs.String("config", "", "path to configuration file")
	host := fs.String("host", "", "override listen host")
	port := fs.Int("port", 0, "override listen port")
	maxStreams := fs.Int("max-streams", 0, "override concurrent stream cap")
	shutdownTimeout := fs.Duration("shutdown-timeout", 0, "override graceful shutdown timeout")
	_ = fs.Parse(args)

	manager, err := config.NewManager(configPath(*cfgFlag), slog.Default())
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return 1
	}
	defer func() { _ = manager.Close() }()

	cfg := manager.Get()
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *maxStreams > 0 {
		cfg.Server.MaxStreams = *maxStreams
	}
	if *shutdownTimeout > 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting ferryman", "version", version.Version, "tiers", len(cfg.Router.Tiers))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := manager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	tracker := routing.NewTracker()
	store := openStore(ctx, cfg, logger)
	if store != nil {
		defer func() { _ = store.Close() }()
		restoreLatencies(ctx, store, tracker, logger)
	}
	accountant := persist.NewAccountant(store, logger)
	if err := accountant.Restore(ctx); err != nil {
		logger.Warn("token counter restore failed", "error", err)
	}

	executor := cascade.New(tracker, transform.NewRegistry(), nil, logger)
	server := api.NewServer(manager, executor, tracker, accountant, logger)

	if store != nil {
		go persistLoop(ctx, store, tracker, logger)
	}

	if err := server.Start(ctx); err != nil {
		logger.Error("server error", "error", err)
		return 1
	}
	if store != nil {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := store.SaveLatencies(flushCtx, tracker.Snapshot()); err != nil {
			logger.Warn("final latency snapshot failed", "error", err)
		}
	}
	logger.Info("stopped")
	return 0
}

// openStore connects to Redis when configured. A missing or unreachable
// Redis is not fatal: the proxy runs with memory-only state.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) *persist.Store {
	addr := cfg.Redis.Addr
	if env := os.Getenv("FERRYMAN_REDIS_ADDR"); env != "" {
		addr = env
	}
	if addr == "" {
		return nil
	}
	store, err := persist.NewStore(ctx, persist.Options{
		Addr:      addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
	})
	if err != nil {
		logger.Warn("redis unavailable, continuing with memory-only state", "addr", addr, "error", err)
		return nil
	}
	logger.Info("state persistence enabled", "addr", addr, "prefix", cfg.Redis.KeyPrefix)
	return store
}

func restoreLatencies(ctx context.Context, store *persist.Store, tracker *routing.Tracker, logger *slog.Logger) {
	snapshot, err := store.LoadLatencies(ctx)
	if err != nil {
		logger.Warn("latency snapshot restore failed", "error", err)
		return
	}
	for tier, state := range snapshot {
		tracker.Restore(tier, state.EwmaMS, state.Samples)
	}
	if len(snapshot) > 0 {
		logger.Info("restored latency snapshots", "tiers", len(snapshot))
	}
}

// persistLoop periodically snapshots the EWMA table so a restart resumes
// with warm routing state.
func persistLoop(ctx context.Context, store *persist.Store, tracker *routing.Tracker, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.SaveLatencies(ctx, tracker.Snapshot()); err != nil {
				logger.Warn("latency snapshot failed", "error", err)
			}
		}
	}
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgFlag := fs.String("config", "", "path to configuration file")
	_ = fs.Parse(args)

	path := configPath(*cfgFlag)
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid:", err)
		return 1
	}
	fmt.Printf("%s: ok (%d providers, %d tiers, %d presets)\n",
		path, len(cfg.Providers), len(cfg.Router.Tiers), len(cfg.Presets))
	return 0
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	addr := fs.String("addr", "http://127.0.0.1:3456", "proxy base URL")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(*addr, "/") + "/health")
	if err != nil {
		fmt.Fprintln(os.Stderr, "unreachable:", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	fmt.Println(strings.TrimSpace(string(body)))
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}
