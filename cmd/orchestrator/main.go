// Command orchestrator is the bootstrap for the Orchestration Intelligence
// Core: it wires every component graph (C1-C16) from internal/config and
// runs the HTTP API, the event consumer loop, and the daily strategy
// evolution scheduler. Shape follows the teacher's examples/orchestrator
// main.go: flat imperative construction, log.Fatal on missing required
// config, graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"k8s.io/client-go/rest"

	"github.com/agilecore/orchestrator-core/internal/config"
	"github.com/agilecore/orchestrator-core/internal/port"
	"github.com/agilecore/orchestrator-core/internal/telemetry"
	"github.com/agilecore/orchestrator-core/pkg/actions"
	"github.com/agilecore/orchestrator-core/pkg/audit"
	"github.com/agilecore/orchestrator-core/pkg/chronicle"
	"github.com/agilecore/orchestrator-core/pkg/decision"
	"github.com/agilecore/orchestrator-core/pkg/domain"
	"github.com/agilecore/orchestrator-core/pkg/embedding"
	"github.com/agilecore/orchestrator-core/pkg/engine"
	"github.com/agilecore/orchestrator-core/pkg/episodelog"
	"github.com/agilecore/orchestrator-core/pkg/episodestore"
	"github.com/agilecore/orchestrator-core/pkg/events"
	"github.com/agilecore/orchestrator-core/pkg/evolver"
	"github.com/agilecore/orchestrator-core/pkg/health"
	"github.com/agilecore/orchestrator-core/pkg/knowledgestore"
	"github.com/agilecore/orchestrator-core/pkg/memorybridge"
	"github.com/agilecore/orchestrator-core/pkg/patterns"
	"github.com/agilecore/orchestrator-core/pkg/retriever"
	"github.com/agilecore/orchestrator-core/pkg/serviceclients"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	logger := telemetry.New(cfg.ServiceName)
	metrics := telemetry.NewMetrics(cfg.ServiceName)

	episodePool, err := pgxpool.New(ctx, cfg.EpisodeDSN)
	if err != nil {
		log.Fatalf("episode pool: %v", err)
	}
	defer episodePool.Close()

	var chronicleAnalyzer *chronicle.Analyzer
	if cfg.ChronicleDSN != "" {
		chronicleDB, err := chronicle.Open(cfg.ChronicleDSN)
		if err != nil {
			log.Fatalf("chronicle pool: %v", err)
		}
		defer chronicleDB.Close()
		chronicleAnalyzer = chronicle.New(chronicleDB, cfg.ChronicleCacheTTL, logger)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("aws config: %v", err)
	}
	embedder := embedding.New(awsCfg, cfg.EmbeddingModelID, cfg.EmbeddingDim, logger)

	var k8sClient *serviceclients.KubernetesClient
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		restCfg, err := rest.InClusterConfig()
		if err != nil {
			log.Fatalf("k8s in-cluster config: %v", err)
		}
		k8sClient, err = serviceclients.NewKubernetesClientFromConfig(restCfg, cfg.KubernetesNamespace, logger)
		if err != nil {
			log.Fatalf("k8s client: %v", err)
		}
	} else {
		logger.Warn("KUBERNETES_SERVICE_HOST not set, running without a Kubernetes client", nil)
	}

	projectClient := serviceclients.NewProjectClient(cfg.ProjectServiceURL, logger)
	backlogClient := serviceclients.NewBacklogClient(cfg.BacklogServiceURL, logger)
	sprintClient := serviceclients.NewSprintClient(cfg.SprintServiceURL, logger)
	chronicleClient := serviceclients.NewChronicleClient(cfg.ChronicleServiceURL, logger)

	episodeStore := episodestore.New(episodePool, logger)
	knowledgeStore := knowledgestore.New(episodePool, logger)

	ret := retriever.New(episodeStore, embedder, cfg.EpisodeRetrieverCacheSize, cfg.EpisodeRetrieverCacheTTL, cfg.EpisodeRetrieverTimeout, logger)
	bridge := memorybridge.New(memorybridge.Config{MinSimilarityThreshold: cfg.MinSimilarityThreshold, MinEpisodesForPatterns: cfg.MinEpisodesForPatterns})
	combiner := patterns.New(patterns.Config{MinConfidenceThreshold: cfg.MinConfidenceThreshold})
	modifierCfg := decision.ModifierConfig{MinSimilarProjects: cfg.MinSimilarProjects, VelocityConfidenceThreshold: 0.6}
	gate := decision.NewGate(decision.GateConfig{
		ConfidenceThreshold: cfg.ConfidenceThreshold, MinSimilarProjects: cfg.MinSimilarProjects, MaxAdjustmentPercent: cfg.MaxAdjustmentPercent,
	}, metrics)

	producer := events.NewProducer(redisClient, logger)
	executor := actions.New(sprintClient, backlogClient, chronicleClient, k8sClient, producer, logger)
	episodeLogger := episodelog.New(episodeStore, embedder, cfg.EpisodeLogQueueCapacity, logger)
	auditor := audit.New(chronicleClient, logger)

	eng := engine.New(engine.Deps{
		Opts: cfg.Defaults, Retriever: ret, Bridge: bridge, Analyzer: chronicleAnalyzer, Combiner: combiner,
		ModifierCfg: modifierCfg, Gate: gate, Executor: executor, EpisodeLog: episodeLogger, Auditor: auditor,
		K8s: k8sClient, Producer: producer, Metrics: metrics, Logger: logger,
	})

	go episodeLogger.Run(ctx)
	go runEvolutionScheduler(ctx, cfg, episodeStore, knowledgeStore, logger)
	go runEventConsumer(ctx, redisClient, logger)

	aggregator := health.NewAggregator(
		health.BreakerDependency{DepName: "embedding", StateFn: func() string { return embedder.BreakerState().String() }},
		health.BreakerDependency{DepName: "project_service", StateFn: func() string { return projectClient.BreakerState().String() }},
		health.BreakerDependency{DepName: "sprint_service", StateFn: func() string { return sprintClient.BreakerState().String() }},
		health.BreakerDependency{DepName: "backlog_service", StateFn: func() string { return backlogClient.BreakerState().String() }},
		health.BreakerDependency{DepName: "chronicle_service", StateFn: func() string { return chronicleClient.BreakerState().String() }},
		health.PingDependency{DepName: "episode_db", PingFn: func(ctx context.Context) error { return episodePool.Ping(ctx) }},
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		report := aggregator.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !report.Ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
	mux.HandleFunc("/decide", func(w http.ResponseWriter, r *http.Request) {
		handleDecide(w, r, eng, logger)
	})

	portMgr := port.NewManager(logger)
	addr := portMgr.GetServerAddress(portMgr.DeterminePort())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("orchestrator-core listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

type decideRequest struct {
	Snapshot      domain.ProjectSnapshot `json:"snapshot"`
	CorrelationID string                 `json:"correlation_id"`
}

func handleDecide(w http.ResponseWriter, r *http.Request, eng *engine.Engine, logger telemetry.Logger) {
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	decision := eng.Decide(r.Context(), req.Snapshot, req.CorrelationID)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(decision); err != nil {
		logger.Error("failed to encode decision response", map[string]interface{}{"error": err.Error()})
	}
}

func runEvolutionScheduler(ctx context.Context, cfg *config.Config, episodeStore *episodestore.Store, knowledgeStore *knowledgestore.Store, logger telemetry.Logger) {
	ev := evolver.New(evolver.Config{
		PatternExtractionDays: cfg.PatternExtractionDays, MinPatternFrequency: cfg.MinPatternFrequency,
		PerformanceFloor: cfg.StrategyPerformanceFloor,
	}, episodeStore, knowledgeStore, logger)

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := ev.Run(ctx)
			logger.Info("strategy evolution cycle complete", map[string]interface{}{
				"patterns_extracted": report.PatternsExtracted, "strategies_created": report.StrategiesCreated,
				"strategies_optimized": report.StrategiesOptimized, "strategies_deactivated": report.StrategiesDeactivated,
				"performance_log_rows_pruned": report.PerformanceLogRowsPruned, "phase_errors": report.PhaseErrors,
			})
		}
	}
}

func runEventConsumer(ctx context.Context, client *redis.Client, logger telemetry.Logger) {
	consumer := events.NewConsumer(client, events.StreamTaskUpdate, "orchestrator-core", hostname(), logger)
	if err := consumer.EnsureGroup(ctx); err != nil {
		logger.Error("event consumer group setup failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := consumer.ReclaimPending(ctx, 30*time.Second); err != nil {
		logger.Warn("reclaim pending events failed", map[string]interface{}{"error": err.Error()})
	}
	if err := consumer.Run(ctx, func(ctx context.Context, env events.Envelope) error {
		logger.Info("task update event received", map[string]interface{}{"event_type": env.EventType, "aggregate_id": env.AggregateID})
		return nil
	}); err != nil && ctx.Err() == nil {
		logger.Error("event consumer stopped", map[string]interface{}{"error": err.Error()})
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "orchestrator-core"
	}
	return h
}
