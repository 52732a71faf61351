// ttgrab — resilient TikTok retrieval bot.
//
// Wires the egress identity pool, admission control and the three-stage
// retrieval pipeline behind a Telegram front end. Configuration is
// environment-only; an optional .env file is loaded at startup.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"github.com/joho/godotenv"

	"github.com/ttgrab/ttgrab/internal/admission"
	"github.com/ttgrab/ttgrab/internal/bot"
	"github.com/ttgrab/ttgrab/internal/cache"
	"github.com/ttgrab/ttgrab/internal/egress"
	"github.com/ttgrab/ttgrab/internal/locale"
	"github.com/ttgrab/ttgrab/internal/retriever"
	"github.com/ttgrab/ttgrab/internal/store"
	"github.com/ttgrab/ttgrab/internal/tiktok"
)

var version = "dev"

func main() {
	_ = godotenv.Load()
	setupLogging()

	slog.Info("starting ttgrab", slog.String("version", version))

	if err := run(); err != nil {
		slog.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := egress.NewPool(egress.PoolConfig{
		ProxyFile:      env.Str("PROXY_FILE", ""),
		IncludeDirect:  env.Str("INCLUDE_DIRECT", "true") == "true",
		Cooldown:       env.Duration("IDENTITY_COOLDOWN", 5*time.Minute),
		FailThreshold:  env.Int("IDENTITY_FAIL_THRESHOLD", 3),
		RequestsPerSec: env.Float("IDENTITY_RPS", 1.5),
	})
	if err != nil {
		return err
	}

	sessions := egress.NewSessionPool(
		env.Int("SESSIONS_PER_IDENTITY", 3),
		env.Duration("SESSION_ACQUIRE_TIMEOUT", 10*time.Second),
		env.Duration("SESSION_REQUEST_TIMEOUT", 30*time.Second),
	)
	gate := egress.NewGate(
		env.Int("WORKER_LIMIT", 8),
		env.Duration("WORKER_ACQUIRE_TIMEOUT", 15*time.Second),
	)

	userQueueCap := env.Int("USER_QUEUE_CAP", 3)
	adm := admission.New(admission.Config{
		GlobalCap:    env.Int("GLOBAL_CAP", 16),
		PerUserCap:   env.Int("PER_USER_CAP", 2),
		UserQueueCap: userQueueCap,
		MaxWait:      env.Duration("ADMISSION_MAX_WAIT", 60*time.Second),
	})

	resolveCache := cache.New(
		env.Str("REDIS_URL", ""),
		env.Duration("RESOLVE_CACHE_TTL", 6*time.Hour),
		env.Int("RESOLVE_CACHE_MAX_ENTRIES", 2000),
		env.Duration("RESOLVE_CACHE_CLEANUP_INTERVAL", 5*time.Minute),
	)

	db, err := store.Open(env.Str("DB_PATH", "ttgrab.db"))
	if err != nil {
		return err
	}
	defer db.Close()

	loc, err := locale.Load()
	if err != nil {
		return err
	}

	extractor := tiktok.New(tiktok.Config{
		Sessions:    sessions,
		Gate:        gate,
		CallTimeout: env.Duration("CALL_TIMEOUT", 30*time.Second),
	})

	svc := retriever.New(retriever.Config{
		ResolveAttempts:  env.Int("RESOLVE_ATTEMPTS", 3),
		ProbeAttempts:    env.Int("PROBE_ATTEMPTS", 3),
		DownloadAttempts: env.Int("DOWNLOAD_ATTEMPTS", 2),
		StageTimeout:     env.Duration("STAGE_TIMEOUT", 45*time.Second),
		PipelineTimeout:  env.Duration("PIPELINE_TIMEOUT", 3*time.Minute),
		RetryInitialWait: env.Duration("RETRY_INITIAL_WAIT", 500*time.Millisecond),
		RetryMaxWait:     env.Duration("RETRY_MAX_WAIT", 8*time.Second),
		EventBuffer:      env.Int("EVENT_BUFFER", 256),
	}, pool, adm, extractor, resolveCache)

	go db.Consume(ctx, svc.Events())
	go metricsLoop(ctx, env.Duration("METRICS_INTERVAL", 10*time.Minute))

	tg, err := bot.New(bot.Config{
		Token:        env.Str("BOT_TOKEN", ""),
		AdminIDs:     adminIDs(),
		UserQueueCap: userQueueCap,
	}, svc, db, loc)
	if err != nil {
		return err
	}

	tg.Run(ctx)
	slog.Info("shutdown complete")
	return nil
}

func setupLogging() {
	level := slog.LevelInfo
	if env.Str("LOG_LEVEL", "info") == "debug" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func adminIDs() []int64 {
	var ids []int64
	for _, s := range env.List("ADMIN_IDS", "") {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func metricsLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			retriever.LogMetrics()
		}
	}
}
