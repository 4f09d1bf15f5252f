// Package app assembles the services from configuration. The HTTP server
// and the command line tools share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	einoembedding "github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/schema"

	"edurag/internal/api"
	"edurag/internal/config"
	"edurag/internal/embedding"
	"edurag/internal/extract"
	"edurag/internal/logger"
	"edurag/internal/progress"
	"edurag/internal/redis"
	"edurag/internal/retry"
	"edurag/internal/service/ai"
	"edurag/internal/service/documents"
	"edurag/internal/service/ingest"
	"edurag/internal/service/qa"
	"edurag/internal/service/retrieval"
	"edurag/internal/storage"
	"edurag/internal/vectorstore"
	"edurag/internal/vectorstore/memory"
	"edurag/internal/vectorstore/pinecone"
	"edurag/internal/vectorstore/qdrant"
	"edurag/internal/worker"
)

// Version is reported by the root and health endpoints.
var Version = "0.1.0"

type App struct {
	Config    *config.Config
	Log       *logger.Logger
	DB        *sql.DB
	Redis     *redis.Client
	Tracker   progress.Tracker
	Documents *documents.Service
	Store     vectorstore.Store
	Embedder  einoembedding.Embedder
	Pipeline  *ingest.Pipeline
	Retriever *retrieval.Assembler
	QA        *qa.Service

	generatorErr error
	closers      []func(context.Context) error
}

// Build opens storage and wires every service. A chat model that cannot be
// created does not stop the build; questions then fail until it is fixed.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.NewNop()
	}
	a := &App{Config: cfg, Log: log}
	if err := a.build(ctx); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	dbType := cfg.BasicConfig.Database
	a.Log.Info("open database", "driver", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })
	if err := storage.Migrate(db, dbType); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	a.Tracker = progress.NewMemoryTracker()
	if cfg.Redis.Enabled {
		rdb, err := redis.NewRedisClient(cfg)
		if err != nil {
			return fmt.Errorf("create redis client: %w", err)
		}
		a.Redis = rdb
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
		a.Tracker = progress.NewRedisTracker(rdb, a.Log)
	}

	a.Documents = documents.NewService(db, dbType, a.Log)

	policy := retryPolicy(cfg.Ingestion)
	a.Embedder, err = embedding.New(ctx, cfg.Embedding, policy, a.Log)
	if err != nil {
		return fmt.Errorf("init embedder: %w", err)
	}
	a.Store, err = newVectorStore(cfg, a.Log)
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}
	if err := vectorstore.VerifyDimension(ctx, a.Store, cfg.Embedding.Dimensions); err != nil {
		return err
	}

	extractor, err := extract.New(ctx)
	if err != nil {
		return fmt.Errorf("init extractor: %w", err)
	}
	a.Pipeline, err = ingest.New(ingest.Config{
		ChunkSize:    cfg.Ingestion.ChunkSize,
		ChunkOverlap: cfg.Ingestion.ChunkOverlap,
		BatchSize:    cfg.Ingestion.BatchSize,
		BatchPause:   time.Duration(cfg.Ingestion.BatchPauseMillis) * time.Millisecond,
		Retry:        policy,
		Dimension:    cfg.Embedding.Dimensions,
	}, ingest.Deps{
		Documents: a.Documents,
		Extractor: extractor,
		Embedder:  a.Embedder,
		Store:     a.Store,
		Tracker:   a.Tracker,
		Log:       a.Log,
	})
	if err != nil {
		return fmt.Errorf("init ingestion pipeline: %w", err)
	}

	a.Retriever, err = retrieval.New(retrieval.Config{
		CandidatePool:     cfg.Retrieval.CandidatePool,
		MaxResults:        cfg.Retrieval.MaxResults,
		MaxCharsPerResult: cfg.Retrieval.MaxCharsPerResult,
		RelevanceFloor:    cfg.Retrieval.RelevanceFloor,
	}, retrieval.Deps{
		Documents: a.Documents,
		Embedder:  a.Embedder,
		Store:     a.Store,
		Log:       a.Log,
	})
	if err != nil {
		return fmt.Errorf("init retrieval: %w", err)
	}

	var generator qa.AnswerGenerator
	provider := cfg.Generator.Provider
	chatModel, err := ai.NewChatModel(ctx, provider, cfg.Providers[provider], cfg.Generator)
	if err != nil {
		a.generatorErr = err
		a.Log.Warn("answer generation disabled", "provider", provider, "error", err)
		generator = unavailableGenerator{err: err}
	} else {
		generator = ai.NewGenerator(chatModel, cfg.Generator, a.Log)
	}
	a.QA, err = qa.NewService(qa.Deps{
		Retriever: a.Retriever,
		Composer:  ai.NewComposer(),
		Generator: generator,
		Logs:      a.Documents,
		Log:       a.Log,
	})
	if err != nil {
		return fmt.Errorf("init qa: %w", err)
	}
	return nil
}

// NewWorkers starts the background ingestion pool.
func (a *App) NewWorkers() *worker.Manager {
	b := a.Config.BasicConfig
	return worker.NewManager(a.Pipeline, a.Tracker, worker.DispatcherConfig{
		MinWorkers:  b.MinWorkers,
		MaxWorkers:  b.MaxWorkers,
		QueueSize:   b.QueueSize,
		IdleTimeout: time.Duration(b.WorkerIdleTimeout) * time.Minute,
	}, a.Log)
}

// StartCleaner removes expired uploads in the background until ctx ends.
func (a *App) StartCleaner(ctx context.Context) {
	b := a.Config.BasicConfig
	a.Documents.StartFileCleaner(ctx,
		time.Duration(b.CleanInterval)*time.Minute,
		time.Duration(b.FileRetention)*time.Minute)
}

// HealthChecks lists the dependency checks behind /health.
func (a *App) HealthChecks() []api.HealthCheck {
	checks := []api.HealthCheck{
		{Name: "database", Check: func(ctx context.Context) error { return a.DB.PingContext(ctx) }},
		{Name: "vector_store", Check: func(ctx context.Context) error {
			_, err := a.Store.Describe(ctx)
			return err
		}},
		{Name: "generator", Check: func(context.Context) error { return a.generatorErr }},
		{Name: "progress", Check: func(ctx context.Context) error {
			_, err := a.Tracker.Active(ctx)
			return err
		}, Optional: true},
	}
	if a.Redis != nil {
		checks = append(checks, api.HealthCheck{Name: "redis", Check: a.Redis.Ping, Optional: true})
	}
	return checks
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func retryPolicy(in config.IngestionConfig) retry.Policy {
	return retry.Policy{
		MaxRetries: in.MaxRetries,
		Initial:    time.Duration(in.RetryBackoffMillis) * time.Millisecond,
		Timeout:    time.Duration(in.CallTimeoutSeconds) * time.Second,
	}
}

func newVectorStore(cfg *config.Config, log *logger.Logger) (vectorstore.Store, error) {
	v := cfg.VectorStore
	timeout := time.Duration(cfg.Ingestion.CallTimeoutSeconds) * time.Second
	switch strings.ToLower(v.Type) {
	case "", "memory":
		return memory.New(cfg.Embedding.Dimensions), nil
	case "pinecone":
		return pinecone.New(log, pinecone.Config{
			APIKey:     v.Pinecone.APIKey,
			IndexName:  v.Pinecone.IndexName,
			Host:       v.Pinecone.Host,
			Namespace:  v.Pinecone.Namespace,
			BaseURL:    v.Pinecone.BaseURL,
			APIVersion: v.Pinecone.APIVersion,
			Timeout:    timeout,
		})
	case "qdrant":
		return qdrant.New(log, qdrant.Config{
			URL:              v.Qdrant.URL,
			APIKey:           v.Qdrant.APIKey,
			Collection:       v.Qdrant.Collection,
			Dimension:        cfg.Embedding.Dimensions,
			CreateCollection: v.Qdrant.CreateCollection,
			Timeout:          timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported vector store type: %s", v.Type)
	}
}

// unavailableGenerator stands in when no chat model could be configured.
type unavailableGenerator struct {
	err error
}

func (u unavailableGenerator) Generate(context.Context, []*schema.Message) (string, error) {
	return "", fmt.Errorf("%w: %v", ai.ErrGeneration, u.err)
}

func (u unavailableGenerator) Stream(ctx context.Context, msgs []*schema.Message, _ func(string) error) (string, error) {
	return u.Generate(ctx, msgs)
}
