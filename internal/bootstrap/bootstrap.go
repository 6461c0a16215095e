package bootstrap

import (
	"context"
	"fmt"

	"github.com/avolkov/document-intel-engine/internal/config"
	"github.com/avolkov/document-intel-engine/internal/core/ports"
	"github.com/avolkov/document-intel-engine/internal/core/usecase"
	"github.com/avolkov/document-intel-engine/internal/infrastructure/audit"
	"github.com/avolkov/document-intel-engine/internal/infrastructure/catalog"
	"github.com/avolkov/document-intel-engine/internal/infrastructure/llm"
	"github.com/avolkov/document-intel-engine/internal/infrastructure/parser"
	"github.com/avolkov/document-intel-engine/internal/infrastructure/queue/nats"
	"github.com/avolkov/document-intel-engine/internal/infrastructure/repository/postgres"
	"github.com/avolkov/document-intel-engine/internal/infrastructure/storage/localfs"
	"github.com/avolkov/document-intel-engine/internal/observability/logging"
	"github.com/avolkov/document-intel-engine/internal/observability/metrics"
)

// App wires every adapter behind its port. Both binaries share the
// same composition so the synchronous and queued paths run the exact
// same pipeline.
type App struct {
	Config config.Config

	Queue    ports.MessageQueue
	Repo     ports.DocumentRepository
	Storage  ports.ObjectStorage
	Catalog  ports.CatalogStore
	Feedback ports.FeedbackStore

	Pipeline  ports.DocumentPipeline
	IngestUC  ports.DocumentIngestor
	ProcessUC ports.DocumentProcessor

	HTTPMetrics   *metrics.HTTPServerMetrics
	WorkerMetrics *metrics.WorkerMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	logging.Setup(service, cfg.LogLevel)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	// A missing category index blocks startup; a broken individual
	// category only logs.
	catalogStore := catalog.NewStore(cfg.CatalogDir)
	if _, err := catalogStore.Load(ctx); err != nil {
		return nil, fmt.Errorf("load category catalog: %w", err)
	}

	auditTrail, err := audit.Open(cfg.AuditDBPath)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	feedback, err := audit.NewFeedbackStore(auditTrail)
	if err != nil {
		return nil, fmt.Errorf("open feedback store: %w", err)
	}

	fallback := llm.NewFallbackClient(llm.Config{
		BaseURL:           cfg.FallbackBaseURL,
		APIKey:            cfg.FallbackAPIKey,
		Model:             cfg.FallbackModel,
		MaxRetries:        cfg.FallbackRetries,
		BaseDelay:         cfg.FallbackBaseDelay,
		Timeout:           cfg.FallbackTimeout,
		RequestsPerSecond: cfg.FallbackRatePerSec,
		Burst:             cfg.FallbackRateBurst,
	})

	httpMetrics := metrics.NewHTTPServerMetrics(service)
	workerMetrics := metrics.NewWorkerMetrics(service)
	pipelineMetrics := metrics.NewPipelineMetrics(workerMetrics.Registry(), service)

	pipeline := usecase.NewClassificationPipeline(catalogStore, parser.NewParser(), fallback, auditTrail)
	ingestUC := usecase.NewIngestDocumentUseCase(repo, storage, queue)
	processUC := usecase.NewProcessDocumentUseCase(repo, storage, pipeline, pipelineMetrics)

	return &App{
		Config: cfg,

		Queue:    queue,
		Repo:     repo,
		Storage:  storage,
		Catalog:  catalogStore,
		Feedback: feedback,

		Pipeline:  pipeline,
		IngestUC:  ingestUC,
		ProcessUC: processUC,

		HTTPMetrics:   httpMetrics,
		WorkerMetrics: workerMetrics,

		closeFn: func() {
			queue.Close()
			_ = auditTrail.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
