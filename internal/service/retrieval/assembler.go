// Package retrieval selects document context for a question and decides
// when the answer should fall back to general knowledge.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"edurag/internal/logger"
	"edurag/internal/observability"
	"edurag/internal/vectorstore"
)

var ErrEmptyQuestion = errors.New("question is empty")

// Fallback reasons.
const (
	ReasonNoDocuments      = "no_documents"
	ReasonNoMatches        = "no_matches"
	ReasonBelowFloor       = "below_relevance_floor"
	ReasonVectorStoreError = "vector_store_error"
	ReasonEmbeddingError   = "embedding_error"
)

const (
	DefaultCandidatePool     = 5
	DefaultMaxResults        = 3
	DefaultMaxCharsPerResult = 300
	DefaultRelevanceFloor    = 0.5
)

// CompletedLister returns ids of documents whose ingestion completed,
// optionally restricted to the given ids.
type CompletedLister interface {
	CompletedIDs(ctx context.Context, restrict []int64) ([]int64, error)
}

type Config struct {
	CandidatePool     int
	MaxResults        int
	MaxCharsPerResult int
	RelevanceFloor    float64
}

type Deps struct {
	Documents CompletedLister
	Embedder  embedding.Embedder
	Store     vectorstore.Store
	Log       *logger.Logger
}

type Request struct {
	Question    string
	DocumentIDs []int64
	// UploadedOnly keeps any match, however weak, instead of falling back.
	UploadedOnly      bool
	MaxResults        int
	MaxCharsPerResult int
}

type Match struct {
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata"`
	Score      float64        `json:"score"`
	DocumentID int64          `json:"document_id"`
	ChunkIndex int            `json:"chunk_index"`
	Source     string         `json:"source_file"`
}

type Result struct {
	Matches             []Match `json:"matches"`
	UseGeneralKnowledge bool    `json:"use_general_knowledge"`
	Reason              string  `json:"reason,omitempty"`
	BestScore           float64 `json:"best_score"`
	// CompletedDocuments is how many documents were searchable.
	CompletedDocuments int `json:"completed_documents"`
}

type Assembler struct {
	cfg      Config
	docs     CompletedLister
	embedder embedding.Embedder
	store    vectorstore.Store
	log      *logger.Logger
}

func New(cfg Config, deps Deps) (*Assembler, error) {
	if deps.Documents == nil || deps.Embedder == nil || deps.Store == nil {
		return nil, errors.New("retrieval: documents, embedder and store are required")
	}
	if cfg.CandidatePool <= 0 {
		cfg.CandidatePool = DefaultCandidatePool
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.MaxCharsPerResult <= 0 {
		cfg.MaxCharsPerResult = DefaultMaxCharsPerResult
	}
	if cfg.RelevanceFloor < 0 || cfg.RelevanceFloor > 1 {
		return nil, fmt.Errorf("retrieval: relevance floor %v outside [0, 1]", cfg.RelevanceFloor)
	}
	log := deps.Log
	if log == nil {
		log = logger.NewNop()
	}
	return &Assembler{
		cfg:      cfg,
		docs:     deps.Documents,
		embedder: deps.Embedder,
		store:    deps.Store,
		log:      log.With("component", "retrieval"),
	}, nil
}

// Retrieve never fails on capability errors: embedding and vector store
// failures turn into a general-knowledge fallback.
func (a *Assembler) Retrieve(ctx context.Context, req Request) (*Result, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = a.cfg.MaxResults
	}
	maxChars := req.MaxCharsPerResult
	if maxChars <= 0 {
		maxChars = a.cfg.MaxCharsPerResult
	}

	ctx, span := observability.Tracer().Start(ctx, "retrieval.retrieve", trace.WithAttributes(
		attribute.Bool("retrieval.uploaded_only", req.UploadedOnly),
		attribute.Int("retrieval.filter_size", len(req.DocumentIDs)),
	))
	defer span.End()

	completed, err := a.docs.CompletedIDs(ctx, req.DocumentIDs)
	if err != nil {
		return nil, fmt.Errorf("load completed documents: %w", err)
	}
	res := &Result{Matches: []Match{}, CompletedDocuments: len(completed)}
	if len(completed) == 0 {
		return a.fallback(span, res, ReasonNoDocuments), nil
	}

	vectors, err := a.embedder.EmbedStrings(ctx, []string{question})
	if err != nil || len(vectors) != 1 {
		a.log.Warn("embed question failed, answering from general knowledge", "error", err)
		return a.fallback(span, res, ReasonEmbeddingError), nil
	}

	topK := max(a.cfg.CandidatePool, maxResults)
	raw, err := a.store.Query(ctx, vectors[0], topK, vectorstore.Filter{DocumentIDs: completed})
	if err != nil {
		a.log.Warn("vector query failed, answering from general knowledge", "error", err)
		return a.fallback(span, res, ReasonVectorStoreError), nil
	}

	allowed := make(map[int64]struct{}, len(completed))
	for _, id := range completed {
		allowed[id] = struct{}{}
	}
	matches := make([]Match, 0, len(raw))
	for _, m := range raw {
		docID, ok := vectorstore.DocID(m.Metadata)
		if !ok {
			continue
		}
		// The store filter is advisory; vectors of unfinished documents must
		// never leave this package.
		if _, ok := allowed[docID]; !ok {
			continue
		}
		matches = append(matches, Match{
			Text:       vectorstore.MetaString(m.Metadata, vectorstore.MetaText),
			Metadata:   m.Metadata,
			Score:      m.Score,
			DocumentID: docID,
			ChunkIndex: vectorstore.ChunkIndex(m.Metadata),
			Source:     vectorstore.MetaString(m.Metadata, vectorstore.MetaSource),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].ChunkIndex != matches[j].ChunkIndex {
			return matches[i].ChunkIndex < matches[j].ChunkIndex
		}
		return matches[i].DocumentID < matches[j].DocumentID
	})
	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	if len(matches) == 0 {
		return a.fallback(span, res, ReasonNoMatches), nil
	}
	for i := range matches {
		matches[i].Text = truncate(matches[i].Text, maxChars)
	}

	res.BestScore = matches[0].Score
	span.SetAttributes(
		attribute.Int("retrieval.matches", len(matches)),
		attribute.Float64("retrieval.best_score", res.BestScore),
	)
	if !req.UploadedOnly && res.BestScore < a.cfg.RelevanceFloor {
		return a.fallback(span, res, ReasonBelowFloor), nil
	}
	res.Matches = matches
	return res, nil
}

func (a *Assembler) fallback(span trace.Span, res *Result, reason string) *Result {
	res.Matches = []Match{}
	res.UseGeneralKnowledge = true
	res.Reason = reason
	span.SetAttributes(attribute.String("retrieval.fallback", reason))
	a.log.Debug("retrieval fallback", "reason", reason, "best_score", res.BestScore)
	return res
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
