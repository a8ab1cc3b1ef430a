package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crm-job-engine/internal/config"
	"crm-job-engine/internal/domain/model"
	"crm-job-engine/internal/infra/adapters/pipeline"
	pg "crm-job-engine/internal/infra/db/postgres"
	"crm-job-engine/internal/infra/logging"
	"crm-job-engine/internal/infra/metrics"
	red "crm-job-engine/internal/infra/redis"
	"crm-job-engine/internal/infra/resource"
	"crm-job-engine/internal/infra/scaling"
	"crm-job-engine/internal/infra/sched"
	"crm-job-engine/internal/infra/web"
	"crm-job-engine/internal/infra/worker"
	"crm-job-engine/internal/usecase"

	"github.com/google/uuid"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, noop adapters)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	nodeID := cfg.Queue.NodeID
	if nodeID == "" {
		host, _ := os.Hostname()
		nodeID = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	logger.Info().Str("node_id", nodeID).Msg("worker node starting")

	// ---- Per-kind deadline overrides ----
	for k, d := range cfg.Queue.KindTimeouts {
		if !model.OverrideKindTimeout(model.JobKind(k), d) {
			logger.Warn().Str("kind", k).Dur("timeout", d).Msg("ignoring timeout override for unknown kind")
		}
	}
	model.ClampMaxPayload(int64(cfg.Queue.MaxPayloadMB) << 20)

	// ---- Postgres ----
	if err := pg.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect failed")
	}
	defer redisClient.Close()

	nodeRegistry := red.NewNodeRegistry(redisClient)
	breaker := red.NewChainBreaker(redisClient, cfg.Queue.BreakerThreshold, cfg.Queue.BreakerWindow)
	queueState := red.NewQueueState(redisClient)
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	jobRepo := pg.NewJobRepo(pool, tm)

	// ---- Resource manager ----
	resManager := resource.NewManager(cfg.Resource.MemoryCeilingMB, nil, logger)

	// ---- Use cases ----
	readinessUC := usecase.NewReadinessUseCase(jobRepo, breaker, logger)
	enqueueUC := usecase.NewEnqueueUseCase(jobRepo, logger)

	// ---- Pipeline handlers ----
	// The real mail/calendar/AI adapters are injected by the CRM deployment;
	// this binary ships with noop adapters so a dev cluster can exercise the
	// whole chain.
	noop := pipeline.NewNoopAdapters(50 * time.Millisecond)
	handlers := pipeline.NewHandlers(noop, noop, noop, noop, noop, noop, enqueueUC, logger)
	registry := worker.NewRegistry()
	if err := handlers.RegisterAll(registry); err != nil {
		logger.Fatal().Err(err).Msg("handler registration failed")
	}

	// ---- Node coordination ----
	scaler := scaling.NewManager(nodeID, cfg.Queue.Capacity, nodeRegistry, jobRepo, locker, cfg.Queue.StaleNodeThreshold, logger)
	if err := scaler.Register(ctx); err != nil {
		logger.Fatal().Err(err).Msg("node registration failed")
	}

	// ---- Runner ----
	runner := worker.NewRunner(worker.Config{
		NodeID:             nodeID,
		PollInterval:       cfg.Queue.PollInterval,
		ErrorRateThreshold: cfg.Queue.ErrorRateThreshold,
		InitialConcurrency: cfg.Queue.InitialConcurrency,
		MinConcurrency:     cfg.Queue.MinConcurrency,
		MaxConcurrency:     cfg.Queue.MaxConcurrency,
	}, jobRepo, readinessUC, registry, resManager, queueState, breaker, scaler, logger)
	runner.Start()

	controlUC := usecase.NewControlUseCase(jobRepo, runner, queueState, breaker, resManager, logger)
	statsUC := usecase.NewStatsUseCase(jobRepo, nodeRegistry, readinessUC, runner, resManager, queueState, cfg.Queue.StaleNodeThreshold, logger)

	heartbeat := sched.NewHeartbeatWorker(cfg.Queue.HeartbeatInterval, scaler, logger)
	go func() { _ = heartbeat.Run(ctx) }()
	reaper := sched.NewReaperWorker(cfg.Queue.StaleNodeThreshold/2, scaler, logger)
	go func() { _ = reaper.Run(ctx) }()

	// ---- HTTP ops surface ----
	auth := web.NewAuthManager(cfg.Web.JWTSecret, !cfg.Runtime.Dev, "", cfg.Web.SessionTTL)
	srv := web.NewServer(enqueueUC, controlUC, statsUC, jobRepo, auth, cfg.Web.APIKey, logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Web.Port),
		Handler: srv.Router(),
	}
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("ops API listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	_ = httpServer.Shutdown(shutdownCtx)
	runner.Stop()
	// Deregister releases this node's claims so another node picks them up
	// immediately instead of waiting for the reaper.
	if err := scaler.Deregister(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("deregister failed")
	}
	cancel()
	logger.Info().Msg("worker node stopped")
}
