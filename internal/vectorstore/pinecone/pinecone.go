// Package pinecone talks to a Pinecone serverless index over its REST API.
package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"edurag/internal/logger"
	"edurag/internal/vectorstore"
)

const backend = "pinecone"

type Config struct {
	APIKey     string
	IndexName  string
	Host       string // data plane host; resolved via describe_index when empty
	Namespace  string
	BaseURL    string // control plane
	APIVersion string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Store struct {
	log  *logger.Logger
	cfg  Config
	http *http.Client

	mu        sync.Mutex
	host      string
	dimension int
}

func New(log *logger.Logger, cfg Config) (*Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing Pinecone API key")
	}
	if strings.TrimSpace(cfg.IndexName) == "" && strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("pinecone index name or host required")
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = "2025-10"
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.pinecone.io"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Store{
		log:  log.With("service", "PineconeVectorStore", "index", cfg.IndexName),
		cfg:  cfg,
		http: client,
		host: strings.TrimSpace(cfg.Host),
	}, nil
}

type indexDescription struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Status    struct {
		Ready bool   `json:"ready"`
		State string `json:"state"`
	} `json:"status"`
}

type pcVector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type upsertRequest struct {
	Vectors   []pcVector `json:"vectors"`
	Namespace string     `json:"namespace,omitempty"`
}

type upsertResponse struct {
	UpsertedCount int64 `json:"upsertedCount"`
}

type queryRequest struct {
	Namespace       string         `json:"namespace,omitempty"`
	Vector          []float32      `json:"vector"`
	TopK            int            `json:"topK"`
	Filter          map[string]any `json:"filter,omitempty"`
	IncludeMetadata bool           `json:"includeMetadata"`
}

type queryResponse struct {
	Matches []struct {
		ID       string         `json:"id"`
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata,omitempty"`
	} `json:"matches"`
}

type deleteRequest struct {
	IDs       []string       `json:"ids,omitempty"`
	Filter    map[string]any `json:"filter,omitempty"`
	Namespace string         `json:"namespace,omitempty"`
}

func (s *Store) describeIndex(ctx context.Context) (*indexDescription, error) {
	u := strings.TrimRight(s.cfg.BaseURL, "/") + "/indexes/" + s.cfg.IndexName
	return doJSON[indexDescription](s, ctx, "describe_index", http.MethodGet, u, nil)
}

// dataHost resolves the index host once.
func (s *Store) dataHost(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.host != "" {
		return s.host, nil
	}
	desc, err := s.describeIndex(ctx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(desc.Host) == "" {
		return "", &vectorstore.OperationError{Backend: backend, Op: "describe_index", Message: "describe_index returned empty host"}
	}
	s.host = strings.TrimSpace(desc.Host)
	s.dimension = desc.Dimension
	s.log.Info("pinecone host resolved via describe_index", "index_host", s.host)
	return s.host, nil
}

func (s *Store) dataURL(ctx context.Context, path string) (string, error) {
	host, err := s.dataHost(ctx)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return strings.TrimRight(host, "/") + path, nil
	}
	return "https://" + host + path, nil
}

func (s *Store) Upsert(ctx context.Context, vectors []vectorstore.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	u, err := s.dataURL(ctx, "/vectors/upsert")
	if err != nil {
		return err
	}
	req := upsertRequest{Namespace: s.cfg.Namespace, Vectors: make([]pcVector, 0, len(vectors))}
	for _, v := range vectors {
		req.Vectors = append(req.Vectors, pcVector{ID: v.ID, Values: toFloat32(v.Values), Metadata: v.Metadata})
	}
	resp, err := doJSON[upsertResponse](s, ctx, "upsert", http.MethodPost, u, req)
	if err != nil {
		return err
	}
	if resp.UpsertedCount != int64(len(vectors)) {
		s.log.Warn("pinecone upsert count mismatch", "sent", len(vectors), "upserted", resp.UpsertedCount)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, vector []float64, topK int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	if len(vector) == 0 {
		return nil, &vectorstore.OperationError{Backend: backend, Op: "query", Message: "query vector required"}
	}
	if topK <= 0 {
		topK = 10
	}
	u, err := s.dataURL(ctx, "/query")
	if err != nil {
		return nil, err
	}
	req := queryRequest{
		Namespace:       s.cfg.Namespace,
		Vector:          toFloat32(vector),
		TopK:            topK,
		IncludeMetadata: true,
	}
	if len(filter.DocumentIDs) > 0 {
		req.Filter = map[string]any{vectorstore.MetaDocID: map[string]any{"$in": filter.DocumentIDs}}
	}
	resp, err := doJSON[queryResponse](s, ctx, "query", http.MethodPost, u, req)
	if err != nil {
		return nil, err
	}
	out := make([]vectorstore.Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		out = append(out, vectorstore.Match{ID: m.ID, Score: m.Score, Metadata: m.Metadata})
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	u, err := s.dataURL(ctx, "/vectors/delete")
	if err != nil {
		return err
	}
	// The data plane caps one delete at 1000 ids.
	for start := 0; start < len(ids); start += 1000 {
		end := min(start+1000, len(ids))
		if _, err := doJSON[json.RawMessage](s, ctx, "delete", http.MethodPost, u, deleteRequest{IDs: ids[start:end], Namespace: s.cfg.Namespace}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteByDocument(ctx context.Context, docID int64) error {
	u, err := s.dataURL(ctx, "/vectors/delete")
	if err != nil {
		return err
	}
	req := deleteRequest{
		Namespace: s.cfg.Namespace,
		Filter:    map[string]any{vectorstore.MetaDocID: map[string]any{"$eq": docID}},
	}
	_, err = doJSON[json.RawMessage](s, ctx, "delete", http.MethodPost, u, req)
	return err
}

func (s *Store) Describe(ctx context.Context) (vectorstore.Info, error) {
	if s.cfg.IndexName == "" {
		return vectorstore.Info{Backend: backend}, nil
	}
	desc, err := s.describeIndex(ctx)
	if err != nil {
		return vectorstore.Info{}, err
	}
	s.mu.Lock()
	if s.host == "" {
		s.host = strings.TrimSpace(desc.Host)
	}
	s.dimension = desc.Dimension
	s.mu.Unlock()
	return vectorstore.Info{Backend: backend, Dimension: desc.Dimension}, nil
}

func doJSON[T any](s *Store, ctx context.Context, op, method, url string, body any) (*T, error) {
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, &vectorstore.OperationError{Backend: backend, Op: op, Message: "encode request", Cause: err}
		}
		reader = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &vectorstore.OperationError{Backend: backend, Op: op, Message: "build request", Cause: err}
	}
	req.Header.Set("Api-Key", s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pinecone-Api-Version", s.cfg.APIVersion)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, &vectorstore.OperationError{Backend: backend, Op: op, Cause: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &vectorstore.OperationError{Backend: backend, Op: op, StatusCode: resp.StatusCode, Message: truncate(string(raw))}
	}

	var out T
	if len(bytes.TrimSpace(raw)) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &vectorstore.OperationError{Backend: backend, Op: op, StatusCode: resp.StatusCode, Message: "decode response", Cause: err}
	}
	return &out, nil
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

func truncate(s string) string {
	if len(s) > 1024 {
		return s[:1024] + "..."
	}
	return s
}
