package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openaiemb "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"edurag/internal/retry"
)

const DefaultOpenAIModel = "text-embedding-ada-002"

var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HostedOpenAI is the eino-ext OpenAI embedder plus the width of the
// vectors it produces. With a BaseURL it serves any OpenAI-style
// /embeddings endpoint (vLLM, TEI, llama.cpp).
type HostedOpenAI struct {
	inner      *openaiemb.Embedder
	dimensions int
}

func NewHostedOpenAI(ctx context.Context, cfg OpenAIConfig) (*HostedOpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai embeddings: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = modelDimensions[cfg.Model]
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *client
	wrapped.Transport = rejectTransport{next: base}

	ecfg := &openaiemb.EmbeddingConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		Model:      cfg.Model,
		Timeout:    cfg.Timeout,
		HTTPClient: &wrapped,
	}
	// ada-002 rejects the dimensions field.
	if strings.HasPrefix(cfg.Model, "text-embedding-3") && cfg.Dimensions > 0 {
		dim := cfg.Dimensions
		ecfg.Dimensions = &dim
	}
	emb, err := openaiemb.NewEmbedder(ctx, ecfg)
	if err != nil {
		return nil, fmt.Errorf("init openai embedder: %w", err)
	}
	return &HostedOpenAI{inner: emb, dimensions: cfg.Dimensions}, nil
}

func (h *HostedOpenAI) Dimension() int { return h.dimensions }

// EmbedStrings marks rejected requests permanent so they are not retried.
func (h *HostedOpenAI) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out, err := h.inner.EmbedStrings(ctx, texts, opts...)
	if err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			return nil, retry.Permanent(rejected)
		}
		return nil, err
	}
	return out, nil
}

// RejectedError is a 4xx answer other than 429.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("openai embeddings failed: status %d: %s", e.Status, e.Message)
}

type rejectTransport struct {
	next http.RoundTripper
}

func (t rejectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 400 || resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return resp, nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()
	return nil, &RejectedError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
