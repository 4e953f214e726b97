// chessweb serves chess game sessions over HTTP, delegating move search
// to UCI engine subprocesses.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/castlebridge/chessweb/internal/archive"
	"github.com/castlebridge/chessweb/internal/config"
	"github.com/castlebridge/chessweb/internal/game"
	"github.com/castlebridge/chessweb/internal/obslog"
	"github.com/castlebridge/chessweb/internal/server"
	"github.com/castlebridge/chessweb/internal/uci"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	logger := obslog.L()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("configuration invalid", zap.Error(err))
	}

	enginePath, err := cfg.ResolveEnginePath()
	if err != nil {
		// sessions degrade to engine-not-ready; player-vs-player still works
		logger.Warn("no usable engine binary", zap.Error(err))
	} else {
		logger.Info("engine binary resolved", zap.String("path", enginePath))
	}

	repo := openArchive(cfg, logger)
	defer repo.Close()

	factory := engineFactory(enginePath, cfg)
	defaults := game.Settings{
		SkillLevel: cfg.DefaultSkillLevel,
		TimeBudget: time.Duration(cfg.DefaultTimeBudgetSec * float64(time.Second)),
	}
	store := game.NewStore(factory, defaults, repo, logger)
	sched := game.NewScheduler(2*runtime.NumCPU(), store, logger)
	battle := game.NewBattleRunner(sched, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.New(store, sched, battle, cfg.HistoryLimit, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	battle.StopAll()
	store.CloseAll()
	logger.Info("bye")
}

// engineFactory builds the per-session pair of engine subprocesses. A
// missing binary yields a factory that always fails, which sessions
// tolerate.
func engineFactory(enginePath string, cfg *config.AppConfig) game.BindingFactory {
	return func(ctx context.Context) (*game.Binding, error) {
		if enginePath == "" {
			return nil, errors.New("no engine binary configured")
		}
		opt := uci.Options{
			SkillLevel: cfg.DefaultSkillLevel,
			HashMB:     cfg.EngineHashMB,
			Threads:    cfg.EngineThreads,
		}
		white, err := uci.Start(ctx, enginePath, opt)
		if err != nil {
			return nil, err
		}
		black, err := uci.Start(ctx, enginePath, opt)
		if err != nil {
			white.Close()
			return nil, err
		}
		return &game.Binding{White: white, Black: black}, nil
	}
}

// openArchive picks the finished-game store: Postgres when DATABASE_URL
// is set, Redis when REDIS_URL is, in-memory otherwise. A backend that
// fails to connect falls back to memory with a warning.
func openArchive(cfg *config.AppConfig, logger *zap.Logger) archive.Repository {
	if cfg.DatabaseURL != "" {
		repo, err := archive.NewPostgres(cfg.DatabaseURL)
		if err == nil {
			logger.Info("archive backend", zap.String("kind", "postgres"))
			return repo
		}
		logger.Warn("postgres archive unavailable", zap.Error(err))
	}
	if cfg.RedisURL != "" {
		repo, err := archive.NewRedis(cfg.RedisURL)
		if err == nil {
			logger.Info("archive backend", zap.String("kind", "redis"))
			return repo
		}
		logger.Warn("redis archive unavailable", zap.Error(err))
	}
	logger.Info("archive backend", zap.String("kind", "memory"))
	return archive.NewMemory()
}
