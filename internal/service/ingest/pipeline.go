// Package ingest turns an uploaded document into stored chunk vectors.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"edurag/internal/chunker"
	"edurag/internal/logger"
	"edurag/internal/models"
	"edurag/internal/observability"
	"edurag/internal/progress"
	"edurag/internal/retry"
	"edurag/internal/service/documents"
	"edurag/internal/vectorstore"
)

var (
	ErrNoContentExtracted  = errors.New("no content could be extracted from document")
	ErrChunkingFailed      = errors.New("document produced no chunks")
	ErrVectorizationFailed = errors.New("vectorization failed")
	ErrAlreadyIngesting    = errors.New("document is not pending ingestion")
	ErrAborted             = errors.New("ingestion aborted unexpectedly")
)

const (
	DefaultBatchSize  = 5

	cleanupTimeout = 30 * time.Second
)

// DocumentStore is the status bookkeeping the pipeline drives.
type DocumentStore interface {
	MarkProcessing(ctx context.Context, id int64) error
	MarkCompleted(ctx context.Context, id int64, chunkCount int, vectorIDs []string, meta models.DocumentMetadata) error
	MarkFailed(ctx context.Context, id int64, meta models.DocumentMetadata) error
}

// TextExtractor reads plain text out of raw bytes or a stored file.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, format string) (string, error)
	Load(ctx context.Context, path string) (string, error)
}

type Config struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	BatchPause   time.Duration
	// Retry bounds every vector store call.
	Retry retry.Policy
	// Dimension is the expected embedding width; zero skips the check.
	Dimension int
}

type Deps struct {
	Documents DocumentStore
	Extractor TextExtractor
	Embedder  embedding.Embedder
	Store     vectorstore.Store
	Tracker   progress.Tracker
	Log       *logger.Logger
}

// Request names one document and where its content comes from: Data when
// set, otherwise the file at Path.
type Request struct {
	DocumentID int64
	Filename   string
	Format     string
	Data       []byte
	Path       string
}

type Outcome struct {
	DocumentID int64
	ChunkCount int
	VectorIDs  []string
	TextLength int
	Duration   time.Duration
}

type Pipeline struct {
	cfg      Config
	chunker  *chunker.Chunker
	docs     DocumentStore
	extract  TextExtractor
	embedder embedding.Embedder
	store    vectorstore.Store
	tracker  progress.Tracker
	log      *logger.Logger
}

func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Documents == nil || deps.Extractor == nil || deps.Embedder == nil || deps.Store == nil || deps.Tracker == nil {
		return nil, errors.New("ingest: documents, extractor, embedder, store and tracker are required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchPause < 0 {
		cfg.BatchPause = 0
	}
	var opts []chunker.Option
	if cfg.ChunkSize > 0 {
		opts = append(opts, chunker.WithChunkSize(cfg.ChunkSize))
	}
	opts = append(opts, chunker.WithOverlap(cfg.ChunkOverlap))
	ch, err := chunker.New(opts...)
	if err != nil {
		return nil, err
	}
	log := deps.Log
	if log == nil {
		log = logger.NewNop()
	}
	return &Pipeline{
		cfg:      cfg,
		chunker:  ch,
		docs:     deps.Documents,
		extract:  deps.Extractor,
		embedder: deps.Embedder,
		store:    deps.Store,
		tracker:  deps.Tracker,
		log:      log.With("component", "ingest"),
	}, nil
}

// Ingest runs one attempt for a pending document. Any failure after the
// document was claimed leaves it failed, with the vectors of this attempt
// removed on a best-effort basis.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Outcome, error) {
	started := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "ingest.document", trace.WithAttributes(
		attribute.Int64("document.id", req.DocumentID),
		attribute.String("document.format", req.Format),
	))
	defer span.End()

	if err := p.docs.MarkProcessing(ctx, req.DocumentID); err != nil {
		if errors.Is(err, documents.ErrInvalidTransition) {
			err = fmt.Errorf("%w: %v", ErrAlreadyIngesting, err)
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	p.report(ctx, req, 1, progress.StageExtracting, "")

	run := &attempt{Pipeline: p, req: req, span: span}
	outcome, err := run.guardedExecute(ctx)
	if err != nil {
		p.fail(ctx, req, run.written, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	outcome.Duration = time.Since(started)

	meta := models.DocumentMetadata{
		TextLength:     outcome.TextLength,
		ProcessedAt:    time.Now().UTC().Format(time.RFC3339),
		ProcessingTime: outcome.Duration.Seconds(),
	}
	if err := p.docs.MarkCompleted(ctx, req.DocumentID, outcome.ChunkCount, outcome.VectorIDs, meta); err != nil {
		err = fmt.Errorf("record completion: %w", err)
		p.fail(ctx, req, run.written, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	p.report(ctx, req, 100, progress.StageCompleted, "")
	span.SetAttributes(attribute.Int("document.chunks", outcome.ChunkCount))
	p.log.Info("document ingested",
		"document_id", req.DocumentID,
		"chunks", outcome.ChunkCount,
		"duration", outcome.Duration,
	)
	return outcome, nil
}

// attempt holds the state of one Ingest call.
type attempt struct {
	*Pipeline
	req     Request
	span    trace.Span
	written []string
}

// guardedExecute turns a panic in a collaborator into an error so the
// claimed document still ends up failed.
func (a *attempt) guardedExecute(ctx context.Context) (out *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrAborted, r)
		}
	}()
	return a.execute(ctx)
}

func (a *attempt) execute(ctx context.Context) (*Outcome, error) {
	text, err := a.readText(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoContentExtracted
	}
	a.span.AddEvent("extracted", trace.WithAttributes(attribute.Int("text.length", len([]rune(text)))))
	a.report(ctx, a.req, 5, progress.StageChunking, "")

	chunks := a.chunker.Chunks(text)
	if len(chunks) == 0 {
		return nil, ErrChunkingFailed
	}
	a.span.AddEvent("chunked", trace.WithAttributes(attribute.Int("chunks", len(chunks))))
	a.report(ctx, a.req, 10, progress.StageEmbedding, "")

	if err := a.vectorize(ctx, chunks); err != nil {
		return nil, err
	}
	return &Outcome{
		DocumentID: a.req.DocumentID,
		ChunkCount: len(chunks),
		VectorIDs:  append([]string(nil), a.written...),
		TextLength: len([]rune(text)),
	}, nil
}

func (a *attempt) readText(ctx context.Context) (string, error) {
	if len(a.req.Data) > 0 {
		return a.extract.Extract(ctx, a.req.Data, a.req.Format)
	}
	if a.req.Path != "" {
		return a.extract.Load(ctx, a.req.Path)
	}
	return "", ErrNoContentExtracted
}

// vectorize embeds and upserts the chunks in index order, one batch at a time.
func (a *attempt) vectorize(ctx context.Context, chunks []chunker.Chunk) error {
	var limiter *rate.Limiter
	if a.cfg.BatchPause > 0 {
		limiter = rate.NewLimiter(rate.Every(a.cfg.BatchPause), 1)
	}
	total := len(chunks)
	batches := (total + a.cfg.BatchSize - 1) / a.cfg.BatchSize

	for b := 0; b < batches; b++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%w: %v", ErrVectorizationFailed, err)
			}
		}
		lo := b * a.cfg.BatchSize
		hi := min(lo+a.cfg.BatchSize, total)
		batch := chunks[lo:hi]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		values, err := a.embedder.EmbedStrings(ctx, texts)
		if err != nil {
			return fmt.Errorf("%w: batch %d/%d: %w", ErrVectorizationFailed, b+1, batches, err)
		}
		if len(values) != len(batch) {
			return fmt.Errorf("%w: batch %d/%d: got %d vectors for %d chunks", ErrVectorizationFailed, b+1, batches, len(values), len(batch))
		}

		vectors := make([]vectorstore.Vector, len(batch))
		for i, c := range batch {
			if a.cfg.Dimension > 0 && len(values[i]) != a.cfg.Dimension {
				return fmt.Errorf("%w: %w: vector width %d, index expects %d",
					ErrVectorizationFailed, vectorstore.ErrUnavailable, len(values[i]), a.cfg.Dimension)
			}
			vectors[i] = vectorstore.Vector{
				ID:     vectorstore.VectorID(a.req.DocumentID, c.Index),
				Values: values[i],
				Metadata: map[string]any{
					vectorstore.MetaSource:      a.req.Filename,
					vectorstore.MetaDocID:       a.req.DocumentID,
					vectorstore.MetaChunkID:     c.Index,
					vectorstore.MetaFileType:    a.req.Format,
					vectorstore.MetaTotalChunks: total,
					vectorstore.MetaText:        c.Text,
				},
			}
		}

		_, err = retry.Do(ctx, a.cfg.Retry, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, a.store.Upsert(ctx, vectors)
		}, func(err error, wait time.Duration) {
			a.log.Warn("upsert failed, retrying",
				"document_id", a.req.DocumentID,
				"batch", b+1,
				"error", err,
				"backoff", wait,
			)
		})
		if err != nil {
			return fmt.Errorf("%w: batch %d/%d: %w", ErrVectorizationFailed, b+1, batches, err)
		}
		for _, v := range vectors {
			a.written = append(a.written, v.ID)
		}

		pct := 10 + 80*(b+1)/batches
		a.report(ctx, a.req, pct, progress.StageEmbedding, "")
		a.log.Debug("batch stored",
			"document_id", a.req.DocumentID,
			"batch", b+1,
			"batches", batches,
		)
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, req Request, written []string, cause error) {
	// The caller's context may be the reason for the failure.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	p.log.Error("document ingestion failed", "document_id", req.DocumentID, "error", cause)
	if len(written) > 0 {
		if err := p.store.Delete(ctx, written); err != nil {
			p.log.Warn("remove partial vectors", "document_id", req.DocumentID, "count", len(written), "error", err)
		}
	}
	meta := models.DocumentMetadata{
		Error:    cause.Error(),
		FailedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.docs.MarkFailed(ctx, req.DocumentID, meta); err != nil {
		p.log.Error("mark document failed", "document_id", req.DocumentID, "error", err)
	}
	p.report(ctx, req, 0, progress.StageFailed, cause.Error())
}

func (p *Pipeline) report(ctx context.Context, req Request, pct int, stage progress.Stage, errMsg string) {
	status := string(models.StatusProcessing)
	switch stage {
	case progress.StageCompleted:
		status = string(models.StatusCompleted)
	case progress.StageFailed:
		status = string(models.StatusFailed)
	}
	entry := progress.Entry{
		DocumentID: req.DocumentID,
		Progress:   pct,
		Stage:      stage,
		Status:     status,
		Filename:   req.Filename,
		Error:      errMsg,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := p.tracker.Set(ctx, entry); err != nil {
		p.log.Warn("update progress", "document_id", req.DocumentID, "error", err)
	}
}
