// Package qa answers questions from uploaded documents or, when they do not
// help, from general knowledge.
package qa

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/cloudwego/eino/schema"

	"edurag/internal/logger"
	"edurag/internal/models"
	"edurag/internal/service/ai"
	"edurag/internal/service/retrieval"
)

var (
	ErrEmptyQuestion     = errors.New("question cannot be empty")
	ErrNoDocuments       = errors.New("no processed documents available to answer from")
	ErrAnswerUnavailable = errors.New("the answer could not be generated right now, please try again")
	ErrInvalidStrategy   = errors.New("unknown answer strategy")
)

type Strategy string

const (
	StrategyAuto        Strategy = "auto"
	StrategyDocsOnly    Strategy = "docs_only"
	StrategyGeneralOnly Strategy = "general_only"
	StrategyHybrid      Strategy = "hybrid"
)

// ParseStrategy accepts an empty string as auto.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyAuto:
		return StrategyAuto, nil
	case StrategyDocsOnly:
		return StrategyDocsOnly, nil
	case StrategyGeneralOnly:
		return StrategyGeneralOnly, nil
	case StrategyHybrid:
		return StrategyHybrid, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStrategy, s)
	}
}

// Retriever selects document context.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Result, error)
}

// AnswerGenerator turns prompt messages into answer text.
type AnswerGenerator interface {
	Generate(ctx context.Context, messages []*schema.Message) (string, error)
	Stream(ctx context.Context, messages []*schema.Message, onDelta func(string) error) (string, error)
}

// QueryLogger persists answered questions.
type QueryLogger interface {
	LogQuery(ctx context.Context, entry models.QueryLog) (*models.QueryLog, error)
}

type Deps struct {
	Retriever Retriever
	Composer  *ai.Composer
	Generator AnswerGenerator
	Logs      QueryLogger
	Log       *logger.Logger
}

type Request struct {
	Question    string
	SessionID   string
	DocumentIDs []int64
	Strategy    Strategy
	// OnDelta, when set, receives the answer while it is generated.
	OnDelta func(string) error
}

type Citation struct {
	SourceFile string  `json:"source_file"`
	DocumentID int64   `json:"document_id"`
	Excerpt    string  `json:"excerpt"`
	Score      float64 `json:"score"`
}

type Answer struct {
	Text           string     `json:"answer"`
	Citations      []Citation `json:"sources"`
	FromDocuments  bool       `json:"is_from_uploaded_docs"`
	ProcessingTime float64    `json:"processing_time"`
	SessionID      string     `json:"session_id"`
	Strategy       Strategy   `json:"strategy"`
	StrategyUsed   Strategy   `json:"strategy_used"`
	FallbackReason string     `json:"fallback_reason,omitempty"`
}

type Service struct {
	retriever Retriever
	composer  *ai.Composer
	generator AnswerGenerator
	logs      QueryLogger
	log       *logger.Logger
	now       func() time.Time
}

func NewService(deps Deps) (*Service, error) {
	if deps.Retriever == nil || deps.Generator == nil {
		return nil, errors.New("qa: retriever and generator are required")
	}
	composer := deps.Composer
	if composer == nil {
		composer = ai.NewComposer()
	}
	log := deps.Log
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		retriever: deps.Retriever,
		composer:  composer,
		generator: deps.Generator,
		logs:      deps.Logs,
		log:       log.With("component", "qa"),
		now:       time.Now,
	}, nil
}

// Ask runs retrieve, compose, generate and log for one question.
func (s *Service) Ask(ctx context.Context, req Request) (*Answer, error) {
	started := s.now()
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = StrategyAuto
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = models.DefaultSessionID
	}

	answer := &Answer{Citations: []Citation{}, SessionID: sessionID, Strategy: strategy}
	var (
		messages []*schema.Message
		err      error
	)
	switch strategy {
	case StrategyGeneralOnly:
		answer.StrategyUsed = StrategyGeneralOnly
		messages, err = s.composer.General(ctx, question)
	case StrategyAuto, StrategyDocsOnly, StrategyHybrid:
		// questions that point at the uploads keep weak matches
		uploadedOnly := strategy != StrategyAuto || RefersToDocuments(question)
		var res *retrieval.Result
		res, err = s.retriever.Retrieve(ctx, retrieval.Request{
			Question:     question,
			DocumentIDs:  req.DocumentIDs,
			UploadedOnly: uploadedOnly,
		})
		if err != nil {
			if errors.Is(err, retrieval.ErrEmptyQuestion) {
				return nil, ErrEmptyQuestion
			}
			return nil, fmt.Errorf("retrieve context: %w", err)
		}
		if strategy == StrategyDocsOnly && res.CompletedDocuments == 0 {
			return nil, ErrNoDocuments
		}
		switch {
		case res.UseGeneralKnowledge:
			answer.FallbackReason = res.Reason
			answer.StrategyUsed = StrategyGeneralOnly
			messages, err = s.composer.General(ctx, question)
		case strategy == StrategyHybrid:
			answer.FromDocuments = true
			answer.StrategyUsed = StrategyHybrid
			answer.Citations = Citations(res.Matches)
			messages, err = s.composer.Hybrid(ctx, question, contextBlocks(res.Matches))
		default:
			answer.FromDocuments = true
			answer.StrategyUsed = StrategyDocsOnly
			answer.Citations = Citations(res.Matches)
			messages, err = s.composer.Grounded(ctx, question, contextBlocks(res.Matches))
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
	}
	if err != nil {
		return nil, err
	}

	var text string
	if req.OnDelta != nil {
		text, err = s.generator.Stream(ctx, messages, req.OnDelta)
	} else {
		text, err = s.generator.Generate(ctx, messages)
	}
	if err != nil {
		s.log.Error("generate answer", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("%w: %w", ErrAnswerUnavailable, err)
	}
	answer.Text = text
	answer.ProcessingTime = s.now().Sub(started).Seconds()
	s.record(ctx, question, answer)
	return answer, nil
}

var documentWords = []string{"document", "documents", "file", "files", "uploaded", "upload", "this", "these"}

// RefersToDocuments reports whether the question points at the uploaded
// material, as in "what does this document say" or "according to the notes".
func RefersToDocuments(question string) bool {
	q := strings.ToLower(question)
	if strings.Contains(q, "according to") {
		return true
	}
	words := strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if slices.Contains(documentWords, w) {
			return true
		}
	}
	return false
}

func (s *Service) record(ctx context.Context, question string, a *Answer) {
	if s.logs == nil {
		return
	}
	sources := make([]int64, 0, len(a.Citations))
	for _, c := range a.Citations {
		sources = append(sources, c.DocumentID)
	}
	if _, err := s.logs.LogQuery(ctx, models.QueryLog{
		Query:        question,
		Response:     a.Text,
		SourcesUsed:  sources,
		ResponseTime: a.ProcessingTime,
		SessionID:    a.SessionID,
	}); err != nil {
		s.log.Warn("log query", "error", err)
	}
}

// Citations lists each source file once, keeping its best-ranked match.
// Matches must already be ordered by rank.
func Citations(matches []retrieval.Match) []Citation {
	seen := make(map[string]struct{}, len(matches))
	out := make([]Citation, 0, len(matches))
	for _, m := range matches {
		key := m.Source
		if key == "" {
			key = fmt.Sprintf("document %d", m.DocumentID)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Citation{
			SourceFile: key,
			DocumentID: m.DocumentID,
			Excerpt:    m.Text,
			Score:      m.Score,
		})
	}
	return out
}

func contextBlocks(matches []retrieval.Match) []ai.ContextBlock {
	blocks := make([]ai.ContextBlock, len(matches))
	for i, m := range matches {
		src := m.Source
		if src == "" {
			src = fmt.Sprintf("Document %d", i+1)
		}
		blocks[i] = ai.ContextBlock{Source: src, Content: m.Text}
	}
	return blocks
}
