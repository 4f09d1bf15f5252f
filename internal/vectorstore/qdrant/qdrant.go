// Package qdrant stores chunk vectors in a Qdrant collection over REST.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"edurag/internal/logger"
	"edurag/internal/vectorstore"
)

const (
	backend            = "qdrant"
	payloadVectorIDKey = "vector_id"
	maxErrorBodyBytes  = 1024
)

// Qdrant point ids must be integers or UUIDs; chunk ids are derived from
// the string vector id under this namespace.
var pointIDNamespace = uuid.MustParse("6f1d7b0a-3c4e-4f57-9a55-1f0d2c8e7b61")

type Config struct {
	URL              string
	APIKey           string
	Collection       string
	Dimension        int
	CreateCollection bool
	Timeout          time.Duration
	HTTPClient       *http.Client
}

type Store struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type searchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

type collectionInfo struct {
	PointsCount int64 `json:"points_count"`
	Config      struct {
		Params struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		} `json:"params"`
	} `json:"config"`
}

func New(log *logger.Logger, cfg Config) (*Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("qdrant url required")
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, fmt.Errorf("qdrant collection required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Store{
		log:     log.With("service", "QdrantVectorStore", "collection", cfg.Collection),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    client,
	}, nil
}

// PointID maps a vector id onto the UUID stored in Qdrant.
func PointID(vectorID string) string {
	return uuid.NewSHA1(pointIDNamespace, []byte(vectorID)).String()
}

func (s *Store) Upsert(ctx context.Context, vectors []vectorstore.Vector) error {
	const op = "upsert"
	if len(vectors) == 0 {
		return nil
	}
	points := make([]map[string]any, 0, len(vectors))
	for _, v := range vectors {
		if strings.TrimSpace(v.ID) == "" {
			return &vectorstore.OperationError{Backend: backend, Op: op, Message: "vector id is required"}
		}
		if s.cfg.Dimension > 0 && len(v.Values) != s.cfg.Dimension {
			return &vectorstore.OperationError{Backend: backend, Op: op,
				Message: fmt.Sprintf("vector %q dimension mismatch: expected=%d got=%d", v.ID, s.cfg.Dimension, len(v.Values))}
		}
		payload := make(map[string]any, len(v.Metadata)+1)
		for k, val := range v.Metadata {
			payload[k] = val
		}
		payload[payloadVectorIDKey] = v.ID
		points = append(points, map[string]any{
			"id":      PointID(v.ID),
			"vector":  v.Values,
			"payload": payload,
		})
	}
	return s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), map[string]any{"points": points}, nil)
}

func (s *Store) Query(ctx context.Context, vector []float64, topK int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	const op = "query"
	if len(vector) == 0 {
		return nil, &vectorstore.OperationError{Backend: backend, Op: op, Message: "query vector required"}
	}
	if topK <= 0 {
		topK = 10
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"with_vector":  false,
	}
	if len(filter.DocumentIDs) > 0 {
		req["filter"] = map[string]any{
			"must": []any{
				map[string]any{"key": vectorstore.MetaDocID, "match": map[string]any{"any": filter.DocumentIDs}},
			},
		}
	}
	var raw []searchResultItem
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/search"), req, &raw); err != nil {
		return nil, err
	}
	out := make([]vectorstore.Match, 0, len(raw))
	for _, item := range raw {
		id, _ := item.Payload[payloadVectorIDKey].(string)
		if id == "" {
			id = decodePointID(item.ID)
		}
		if id == "" {
			continue
		}
		meta := make(map[string]any, len(item.Payload))
		for k, v := range item.Payload {
			if k != payloadVectorIDKey {
				meta[k] = v
			}
		}
		out = append(out, vectorstore.Match{ID: id, Score: item.Score, Metadata: meta})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	return out, nil
}

func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	points := make([]string, 0, len(ids))
	for _, id := range ids {
		pid := PointID(id)
		if _, ok := seen[pid]; ok {
			continue
		}
		seen[pid] = struct{}{}
		points = append(points, pid)
	}
	return s.doJSON(ctx, "delete", http.MethodPost, s.collectionPath("/points/delete?wait=true"), map[string]any{"points": points}, nil)
}

func (s *Store) DeleteByDocument(ctx context.Context, docID int64) error {
	req := map[string]any{
		"filter": map[string]any{
			"must": []any{
				map[string]any{"key": vectorstore.MetaDocID, "match": map[string]any{"value": docID}},
			},
		},
	}
	return s.doJSON(ctx, "delete", http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil)
}

// Describe reads the collection; with CreateCollection set a missing
// collection is created with cosine distance at the configured dimension.
func (s *Store) Describe(ctx context.Context) (vectorstore.Info, error) {
	var info collectionInfo
	err := s.doJSON(ctx, "describe", http.MethodGet, s.collectionPath(""), nil, &info)
	var opErr *vectorstore.OperationError
	if errors.As(err, &opErr) && opErr.StatusCode == http.StatusNotFound && s.cfg.CreateCollection && s.cfg.Dimension > 0 {
		if err := s.createCollection(ctx); err != nil {
			return vectorstore.Info{}, err
		}
		return vectorstore.Info{Backend: backend, Dimension: s.cfg.Dimension}, nil
	}
	if err != nil {
		return vectorstore.Info{}, err
	}
	return vectorstore.Info{Backend: backend, Dimension: info.Config.Params.Vectors.Size, Count: info.PointsCount}, nil
}

func (s *Store) createCollection(ctx context.Context) error {
	req := map[string]any{
		"vectors": map[string]any{"size": s.cfg.Dimension, "distance": "Cosine"},
	}
	if err := s.doJSON(ctx, "create_collection", http.MethodPut, s.collectionPath(""), req, nil); err != nil {
		return err
	}
	index := map[string]any{"field_name": vectorstore.MetaDocID, "field_schema": "integer"}
	if err := s.doJSON(ctx, "create_index", http.MethodPut, s.collectionPath("/index?wait=true"), index, nil); err != nil {
		s.log.Warn("qdrant payload index creation failed", "error", err)
	}
	s.log.Info("qdrant collection created", "dimension", s.cfg.Dimension)
	return nil
}

func (s *Store) collectionPath(suffix string) string {
	return "/collections/" + s.cfg.Collection + suffix
}

func (s *Store) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return &vectorstore.OperationError{Backend: backend, Op: op, Message: "encode request failed", Cause: err}
		}
		body = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return &vectorstore.OperationError{Backend: backend, Op: op, Message: "build request failed", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return &vectorstore.OperationError{Backend: backend, Op: op, Message: "qdrant request failed", Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return &vectorstore.OperationError{Backend: backend, Op: op, StatusCode: resp.StatusCode, Message: "read response failed", Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &vectorstore.OperationError{Backend: backend, Op: op, StatusCode: resp.StatusCode,
			Message: fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw))}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &vectorstore.OperationError{Backend: backend, Op: op, StatusCode: resp.StatusCode, Message: "decode qdrant envelope failed", Cause: err}
	}
	if msg := envelopeError(env.Status); msg != "" {
		return &vectorstore.OperationError{Backend: backend, Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return &vectorstore.OperationError{Backend: backend, Op: op, StatusCode: resp.StatusCode, Message: "decode qdrant result failed", Cause: err}
	}
	return nil
}

func envelopeError(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if strings.EqualFold(str, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", str)
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && strings.TrimSpace(obj.Error) != "" {
		return strings.TrimSpace(obj.Error)
	}
	return "qdrant status=" + status
}

func decodePointID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return fmt.Sprintf("%d", n)
	}
	return ""
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}
