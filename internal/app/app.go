// Package app wires configuration, stores and pipeline stages into runnable services.
package app

import (
	"fmt"
	"net/http"

	"github.com/rpattn/stockimport/internal/approval"
	"github.com/rpattn/stockimport/internal/auth"
	"github.com/rpattn/stockimport/internal/commit"
	"github.com/rpattn/stockimport/internal/config"
	"github.com/rpattn/stockimport/internal/duplicates"
	"github.com/rpattn/stockimport/internal/events"
	"github.com/rpattn/stockimport/internal/ingestion"
	"github.com/rpattn/stockimport/internal/metrics"
	"github.com/rpattn/stockimport/internal/middleware"
	"github.com/rpattn/stockimport/internal/planning"
	"github.com/rpattn/stockimport/internal/quality"
	"github.com/rpattn/stockimport/internal/repository"
	"github.com/rpattn/stockimport/internal/repository/memory"
	"github.com/rpattn/stockimport/internal/resilience"
	"github.com/rpattn/stockimport/internal/staging"
	"github.com/rpattn/stockimport/internal/validation"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Stores groups the repositories a pipeline needs.
type Stores struct {
	Sessions repository.SessionRepository
	Logs     repository.ImportLogRepository
	Ledger   repository.Ledger
	Keys     repository.CommittedKeyRepository
	Items    repository.ItemRepository
	BOMs     repository.BOMRepository
}

func PostgresStores(pool *pgxpool.Pool, logger *zap.Logger) Stores {
	return Stores{
		Sessions: repository.NewSessionRepository(pool, logger),
		Logs:     repository.NewImportLogRepository(pool),
		Ledger:   repository.NewLedgerRepository(pool, logger),
		Keys:     repository.NewCommittedKeyRepository(pool, logger),
		Items:    repository.NewItemRepository(pool),
		BOMs:     repository.NewBOMRepository(pool),
	}
}

// MemoryStores backs every repository with one in-memory store.
func MemoryStores(store *memory.Store) Stores {
	return Stores{
		Sessions: store,
		Logs:     store.ImportLogs(),
		Ledger:   store,
		Keys:     store,
		Items:    store,
		BOMs:     store,
	}
}

// Pipeline is the assembled service graph.
type Pipeline struct {
	Imports    *ingestion.Service
	Planner    *planning.Calculator
	Metrics    *metrics.Pipeline
	Executor   *resilience.Executor
	Publisher  events.Publisher
	closeEvent func()
}

// Close releases the event connection, if any.
func (p *Pipeline) Close() {
	if p.closeEvent != nil {
		p.closeEvent()
	}
}

// NewPipeline builds the services. Events go to NATS when cfg.NATS.URL is set.
func NewPipeline(cfg config.Config, stores Stores, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	matcher, err := ingestion.NewHeaderMatcher(cfg.Pipeline.FuzzyDistance)
	if err != nil {
		return nil, fmt.Errorf("build header matcher: %w", err)
	}

	executor := resilience.NewExecutor(cfg.Resilience, logger)
	pipelineMetrics := metrics.NewPipeline()

	p := &Pipeline{Metrics: pipelineMetrics, Executor: executor, Publisher: events.NopPublisher{}}
	if cfg.NATS.URL != "" {
		publisher, err := events.NewNATSPublisher(cfg.NATS.URL, events.NATSOptions{
			SubjectPrefix:  cfg.NATS.SubjectPrefix,
			ConnectTimeout: cfg.NATS.ConnectTimeout,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			Executor:       executor,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect event bus: %w", err)
		}
		p.Publisher = publisher
		p.closeEvent = publisher.Close
	}

	processor := commit.NewProcessor(stores.Sessions, stores.Ledger, commit.Options{
		Executor:  executor,
		Publisher: p.Publisher,
		Metrics:   pipelineMetrics,
	}, logger)

	p.Imports = ingestion.NewService(ingestion.Dependencies{
		Parser:    ingestion.NewParser(matcher, cfg.Pipeline.MaxRows, cfg.Pipeline.DateOrder),
		Validator: validation.NewValidator(cfg.Validation, cfg.Pipeline.ParallelThreshold, logger),
		Detector:  duplicates.NewDetector(stores.Keys, logger),
		Scorer:    quality.NewScorer(cfg.Quality),
		Staging:   staging.NewStore(stores.Sessions, stores.Logs, logger),
		Gate:      approval.NewGate(stores.Sessions, logger),
		Processor: processor,
		Items:     stores.Items,
		Metrics:   pipelineMetrics,
		Logger:    logger,
	})
	p.Planner = planning.NewCalculator(stores.BOMs, stores.Ledger, logger)
	return p, nil
}

// Router mounts the HTTP surface: imports, planning, metrics and health.
func Router(cfg config.Config, p *Pipeline, logger *zap.Logger) http.Handler {
	limiter := middleware.NewRateLimiter(cfg.RateLimit.UploadsPerSecond, cfg.RateLimit.Burst)
	imports := ingestion.NewHTTPHandler(p.Imports, ingestion.HandlerOptions{
		MaxUploadBytes:   cfg.Server.MaxUploadBytes,
		UploadMiddleware: limiter.Middleware,
	})

	mux := http.NewServeMux()
	mux.Handle("/imports", imports)
	mux.Handle("/imports/", imports)
	mux.Handle("/planning/requirements", planning.NewHTTPHandler(p.Planner))
	mux.Handle("/metrics", p.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	})
	return corsHandler.Handler(middleware.Logging(logger)(auth.Middleware(mux)))
}
