// Package embedding provides eino embedders for document chunks and
// questions.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"

	"edurag/internal/config"
	"edurag/internal/logger"
	"edurag/internal/retry"
)

// ErrUnavailable wraps every failure to produce vectors.
var ErrUnavailable = errors.New("embedding service unavailable")

// Dimensioned is implemented by embedders that know their vector width.
type Dimensioned interface {
	Dimension() int
}

// New builds the configured embedder wrapped with retries.
//
// "openai" and "compatible" both go through the eino-ext OpenAI embedder;
// "compatible" only differs in requiring a base_url.
func New(ctx context.Context, cfg config.EmbeddingConfig, policy retry.Policy, log *logger.Logger) (embedding.Embedder, error) {
	var base embedding.Embedder
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	switch strings.ToLower(cfg.Provider) {
	case "", "local":
		base = NewLocal(cfg.Dimensions)
	case "openai", "compatible":
		h, err := NewHostedOpenAI(ctx, OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    timeout,
		})
		if err != nil {
			return nil, err
		}
		base = h
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
	return NewRetrying(base, policy, log), nil
}

// Retrying retries transient failures and maps every final error to
// ErrUnavailable.
type Retrying struct {
	inner  embedding.Embedder
	policy retry.Policy
	log    *logger.Logger
}

func NewRetrying(inner embedding.Embedder, policy retry.Policy, log *logger.Logger) *Retrying {
	if log == nil {
		log = logger.NewNop()
	}
	return &Retrying{inner: inner, policy: policy, log: log}
}

func (r *Retrying) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	vectors, err := retry.Do(ctx, r.policy, func(ctx context.Context) ([][]float64, error) {
		out, err := r.inner.EmbedStrings(ctx, texts, opts...)
		if err != nil {
			return nil, err
		}
		if len(out) != len(texts) {
			return nil, retry.Permanent(fmt.Errorf("got %d vectors for %d texts", len(out), len(texts)))
		}
		return out, nil
	}, func(err error, wait time.Duration) {
		r.log.Warn("embedding call failed, retrying", "error", err, "backoff", wait, "texts", len(texts))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return vectors, nil
}

// Dimension forwards to the wrapped embedder when it reports one.
func (r *Retrying) Dimension() int {
	if d, ok := r.inner.(Dimensioned); ok {
		return d.Dimension()
	}
	return 0
}
