package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/riskshield/txscore/configs"
	"github.com/riskshield/txscore/internal/applog"
	"github.com/riskshield/txscore/internal/audit"
	"github.com/riskshield/txscore/internal/cache"
	"github.com/riskshield/txscore/internal/history"
	"github.com/riskshield/txscore/internal/httpapi"
	"github.com/riskshield/txscore/internal/ingest"
	"github.com/riskshield/txscore/internal/notify"
	"github.com/riskshield/txscore/internal/queue"
	"github.com/riskshield/txscore/internal/repositories"
	"github.com/riskshield/txscore/internal/worker"
)

// The HTTP handlers and the worker loop run as two goroutines of this one
// process, sharing a single in-memory queue (§5's concurrency model: "one
// or more HTTP request handlers, exactly one worker", both touching the
// queue directly). The teacher split these across cmd/api-server and
// cmd/worker because its queue was Redis-backed and durable across
// processes; this system's ephemeral, single-consumer queue has no such
// cross-process channel, so both roles are colocated here instead — see
// DESIGN.md.
func main() {
	_ = godotenv.Load()

	cfg := configs.Load()
	applog.Setup(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("starting txscore")

	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	var cacheClient *cache.Client
	if cfg.Cache.Enabled {
		cacheClient, err = cache.New(cfg.Cache)
		if err != nil {
			log.Warn().Err(err).Msg("cache unavailable, continuing without it")
			cacheClient = nil
		} else {
			defer cacheClient.Close()
		}
	}

	auditStream, err := audit.New(cfg.Audit)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to audit stream")
	}
	defer auditStream.Close()

	txRepo := repositories.NewTransactionRepository(db)
	ruleRepo := repositories.NewRuleRepository(db)
	historyProvider := history.NewProvider(txRepo, cacheClient, cfg.Worker.HistoryWindow, cfg.Cache.TTL)
	q := queue.New()
	gate := ingest.NewGate(txRepo, q)

	notifier := notify.New(cfg.Worker.RetryAttempts)
	notifier.Register("chat", notify.NewChatTransport(cfg.Notify, cfg.Worker.TransportTimeout), 1*time.Second)
	notifier.Register("mail", notify.NewMailTransport(cfg.Notify, cfg.Worker.TransportTimeout), 2*time.Second)

	w := worker.New(q, txRepo, ruleRepo, historyProvider, notifier, auditStream, cfg.Worker.PollInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Start(ctx)

	router := httpapi.NewRouter(cfg.Server.Environment, gate, txRepo, ruleRepo)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()
	w.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("shutdown complete")
}
