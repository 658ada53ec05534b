package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"attendflow/internal/apiclient"
	"attendflow/internal/attendance"
	"attendflow/internal/config"
	"attendflow/internal/journal"
	"attendflow/internal/logger"
	"attendflow/internal/queue"
	"attendflow/internal/store"
	"attendflow/internal/worker"
)

// Worker consumes notification jobs and delivers them through the backend.
func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logger.New(cfg)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := apiclient.New(cfg.UpstreamBaseURL, cfg.UpstreamToken, cfg.UpstreamTimeout)
	if err := client.Health(ctx); err != nil {
		log.Warn("upstream not reachable, jobs will fail until it is", zap.Error(err))
	}

	opts := []attendance.Option{
		attendance.WithLogger(log.Named("store")),
		attendance.WithMetrics(attendance.NewMetrics(prometheus.NewRegistry())),
		attendance.WithLocation(cfg.Location),
		attendance.WithTimeLayout(cfg.TimeLayout),
	}
	if cfg.JournalEnabled {
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("db connect failed", zap.Error(err))
		}
		defer db.Close()
		opts = append(opts, attendance.WithJournal(journal.NewRepository(db)))
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		log.Warn("in-memory queue selected; this worker only sees jobs published in its own process")
		q = queue.NewInMemory(64)
	} else {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		q = queue.NewRedisQueue(redisClient, cfg.QueueKey)
	}

	st := attendance.NewStore(client, opts...)
	p := worker.New(st, attendance.NewNotifier(st, client, log.Named("notify")), log)

	log.Info("worker started, waiting for jobs", zap.String("backend", cfg.QueueBackend))
	if err := p.Run(ctx, q); err != nil {
		log.Fatal("queue consume init failed", zap.Error(err))
	}
	log.Info("worker stopped")
}
