// Package vectorstore defines the similarity index used for document chunks.
package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrUnavailable is matched by every backend failure.
var ErrUnavailable = errors.New("vector store unavailable")

// Payload keys written with every chunk vector.
const (
	MetaSource      = "source"
	MetaDocID       = "doc_id"
	MetaChunkID     = "chunk_id"
	MetaFileType    = "file_type"
	MetaTotalChunks = "total_chunks"
	MetaText        = "text"
)

type Vector struct {
	ID       string
	Values   []float64
	Metadata map[string]any
}

type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Filter restricts a query. An empty DocumentIDs means no restriction.
type Filter struct {
	DocumentIDs []int64
}

type Info struct {
	Backend   string
	Dimension int
	Count     int64
}

// Store is implemented by the memory, pinecone and qdrant backends.
type Store interface {
	Upsert(ctx context.Context, vectors []Vector) error
	Query(ctx context.Context, vector []float64, topK int, filter Filter) ([]Match, error)
	Delete(ctx context.Context, ids []string) error
	DeleteByDocument(ctx context.Context, docID int64) error
	Describe(ctx context.Context) (Info, error)
}

// OperationError describes a failed backend call.
type OperationError struct {
	Backend    string
	Op         string
	StatusCode int
	Message    string
	Cause      error
}

func (e *OperationError) Error() string {
	if e == nil {
		return "vector store operation failed"
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	return fmt.Sprintf("%s %s failed (status=%d): %s", e.Backend, e.Op, e.StatusCode, msg)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is lets errors.Is(err, ErrUnavailable) match any OperationError.
func (e *OperationError) Is(target error) bool {
	return target == ErrUnavailable
}

// VectorID is the deterministic id of chunk index of document docID.
func VectorID(docID int64, index int) string {
	return strconv.FormatInt(docID, 10) + "_" + strconv.Itoa(index)
}

// VerifyDimension refuses a store whose index width differs from want.
// A zero reported dimension (empty or unknown index) is accepted.
func VerifyDimension(ctx context.Context, s Store, want int) error {
	info, err := s.Describe(ctx)
	if err != nil {
		return fmt.Errorf("describe vector store: %w", err)
	}
	if info.Dimension != 0 && want > 0 && info.Dimension != want {
		return fmt.Errorf("%s index dimension %d does not match embedding dimension %d", info.Backend, info.Dimension, want)
	}
	return nil
}

// DocID reads the document id from payload metadata. JSON backends hand
// numbers back as float64.
func DocID(meta map[string]any) (int64, bool) {
	return toInt64(meta[MetaDocID])
}

// ChunkIndex reads the chunk position from payload metadata; -1 when absent.
func ChunkIndex(meta map[string]any) int {
	v, ok := toInt64(meta[MetaChunkID])
	if !ok {
		return -1
	}
	return int(v)
}

// MetaString reads a string payload field.
func MetaString(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
