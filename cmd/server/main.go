package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"broadside.gg/internal/bots/randombot"
	"broadside.gg/internal/config"
	"broadside.gg/internal/logging"
	"broadside.gg/internal/persistence/indexdb"
	"broadside.gg/internal/sim/arena"
	"broadside.gg/internal/sim/controller"
	"broadside.gg/internal/sim/registry"
	"broadside.gg/internal/sim/sandbox"
	"broadside.gg/internal/transport/spectator"
)

func main() {
	cfg, err := loadServerConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg serverConfig, logger *zap.Logger) error {
	base := config.Defaults()
	if cfg.MatchConfig != "" {
		m, err := config.Load(cfg.MatchConfig)
		if err != nil {
			return fmt.Errorf("match config: %w", err)
		}
		base = m
	}

	reg, err := newRegistry(cfg.PluginsDir, logger)
	if err != nil {
		return err
	}

	var idx *indexdb.SQLiteIndex
	if !cfg.DisableDB {
		dbPath := filepath.Join(cfg.DataDir, "index", "matches.sqlite")
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return err
		}
		idx, err = indexdb.OpenSQLite(dbPath)
		if err != nil {
			return fmt.Errorf("index db: %w", err)
		}
		defer func() {
			if err := idx.Close(); err != nil {
				logger.Warn("close index db", zap.Error(err))
			}
		}()
		logger.Info("index db open", zap.String("path", dbPath))
	}

	sb := sandbox.New(logger.Named("sandbox"))
	ar := arena.New(arena.Options{
		Logger:   logger.Named("arena"),
		Registry: reg,
		Sandbox:  sb,
		Sinks:    matchSinks(cfg.DataDir, idx, logger.Named("sinks")),
		Retain:   cfg.Retain,
	})

	ctx, cancel := signalContext()
	defer cancel()

	if cfg.Play != "" {
		if err := playStartup(ctx, ar, base, cfg, logger); err != nil {
			return err
		}
	}
	if cfg.Once {
		return ar.Close(ctx)
	}

	h := &handlers{arena: ar, registry: reg, sandbox: sb, index: idx, base: base, logger: logger, runCtx: ctx}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", h.metrics)
	mux.HandleFunc("/v1/controllers", h.controllers)
	if cfg.AdminHTTP {
		mux.HandleFunc("/admin/v1/matches", h.startMatch)
	}
	spectator.NewServer(ar, spectator.Options{
		Logger:       logger.Named("spectator"),
		LoopbackOnly: cfg.SpectLocal,
		RatePerSec:   cfg.SpectRate,
		Burst:        cfg.SpectBurst,
	}).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)
	if err := ar.Close(shutdownCtx); err != nil {
		logger.Warn("matches still running at shutdown", zap.Error(err))
	}
	return nil
}

// newRegistry registers the builtin controllers, then any manifests under dir.
func newRegistry(dir string, logger *zap.Logger) (*registry.Registry, error) {
	reg := registry.New(logger.Named("registry"))
	caps := registry.Capabilities{
		Name:        randombot.Name,
		Version:     randombot.Version,
		Description: "random layouts and shots, hunts around hits",
		Modes:       []string{config.ModeClassic, config.ModeFFA, config.ModeTeams},
	}
	err := reg.Register(caps, func(seed int64) (controller.Controller, error) {
		return randombot.New(seed), nil
	})
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return reg, nil
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return reg, nil
	}
	found, err := reg.Discover(dir)
	if err != nil {
		return nil, fmt.Errorf("discover controllers: %w", err)
	}
	logger.Info("controllers discovered", zap.String("dir", dir), zap.Int("count", len(found)))
	return reg, nil
}

func playStartup(ctx context.Context, ar *arena.Arena, base config.Match, cfg serverConfig, logger *zap.Logger) error {
	var entrants []string
	for _, s := range strings.Split(cfg.Play, ",") {
		if s = strings.TrimSpace(s); s != "" {
			entrants = append(entrants, s)
		}
	}
	n := cfg.Matches
	if n < 1 {
		n = 1
	}
	reqs := make([]arena.Request, n)
	for i := range reqs {
		m := base.Clone()
		m.Seed = base.Seed + int64(i)*1000
		reqs[i] = arena.Request{Config: m, Entrants: entrants}
	}
	results, err := ar.RunAll(ctx, reqs, cfg.Parallel)
	if err != nil {
		return fmt.Errorf("startup matches: %w", err)
	}
	for i, res := range results {
		logger.Info("startup match done",
			zap.Int("n", i),
			zap.String("match_id", res.MatchID),
			zap.Int("rounds", res.Rounds),
			zap.Any("scores", res.Scores),
			zap.String("digest", res.Digest),
		)
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
