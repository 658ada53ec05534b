package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"attendflow/internal/apiclient"
	"attendflow/internal/attendance"
	"attendflow/internal/auth"
	"attendflow/internal/config"
	"attendflow/internal/handler"
	"attendflow/internal/httpmiddleware"
	"attendflow/internal/journal"
	"attendflow/internal/logger"
	"attendflow/internal/queue"
	"attendflow/internal/report"
	"attendflow/internal/store"
	"attendflow/internal/worker"
)

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

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	client := apiclient.New(cfg.UpstreamBaseURL, cfg.UpstreamToken, cfg.UpstreamTimeout)
	checks := map[string]store.Pinger{"upstream": store.PingFunc(client.Health)}

	opts := []attendance.Option{
		attendance.WithLogger(log.Named("store")),
		attendance.WithMetrics(attendance.NewMetrics(reg)),
		attendance.WithLocation(cfg.Location),
		attendance.WithTimeLayout(cfg.TimeLayout),
	}

	var journalReader handler.JournalReader
	if cfg.JournalEnabled {
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		repo := journal.NewRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		opts = append(opts, attendance.WithJournal(repo))
		journalReader = repo
		checks["database"] = store.DBPinger(db)
	}

	var q queue.Queue
	inProcess := cfg.QueueBackend == "memory"
	if inProcess {
		q = queue.NewInMemory(64)
	} else {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		q = queue.NewRedisQueue(redisClient, cfg.QueueKey)
		checks["redis"] = store.RedisPinger(redisClient)
	}

	st := attendance.NewStore(client, opts...)
	if _, err := st.Load(ctx); err != nil {
		log.Warn("initial load failed, will retry on first request", zap.Error(err))
	}

	notifier := attendance.NewNotifier(st, client, log.Named("notify"))
	if inProcess {
		// Nothing outside this process reads an in-memory queue.
		p := worker.New(st, notifier, log.Named("worker"))
		go func() {
			if err := p.Run(ctx, q); err != nil {
				log.Error("in-process worker stopped", zap.Error(err))
			}
		}()
		log.Info("in-process worker started for the memory queue")
	}

	h := handler.New(handler.Deps{
		Store:    st,
		Notifier: notifier,
		Auth:     client,
		Signer:   auth.NewSigner(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL),
		Exporter: report.New(cfg.ReportTitle, cfg.Location),
		Queue:    q,
		Journal:  journalReader,
		Checks:   checks,
		Log:      log,
	})

	r := handler.NewRouter(h, handler.RouterOptions{
		Log:            log.Named("http"),
		AllowedOrigins: cfg.AllowedOrigins,
		Limiter:        httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin),
		Registry:       reg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr), zap.String("upstream", cfg.UpstreamBaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}
