// Package memory is an in-process vector store for development and tests.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"edurag/internal/vectorstore"
)

type Store struct {
	mu        sync.RWMutex
	dimension int
	vectors   map[string]vectorstore.Vector
}

// New returns an empty store. A positive dimension is enforced on upsert.
func New(dimension int) *Store {
	return &Store{dimension: dimension, vectors: make(map[string]vectorstore.Vector)}
}

func (s *Store) Upsert(ctx context.Context, vectors []vectorstore.Vector) error {
	for _, v := range vectors {
		if v.ID == "" {
			return &vectorstore.OperationError{Backend: "memory", Op: "upsert", Message: "vector id is required"}
		}
		if s.dimension > 0 && len(v.Values) != s.dimension {
			return &vectorstore.OperationError{Backend: "memory", Op: "upsert",
				Message: fmt.Sprintf("vector %q dimension mismatch: expected=%d got=%d", v.ID, s.dimension, len(v.Values))}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vectors {
		meta := make(map[string]any, len(v.Metadata))
		for k, val := range v.Metadata {
			meta[k] = val
		}
		s.vectors[v.ID] = vectorstore.Vector{ID: v.ID, Values: append([]float64(nil), v.Values...), Metadata: meta}
	}
	return nil
}

func (s *Store) Query(ctx context.Context, vector []float64, topK int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	if topK <= 0 {
		topK = 10
	}
	allowed := make(map[int64]struct{}, len(filter.DocumentIDs))
	for _, id := range filter.DocumentIDs {
		allowed[id] = struct{}{}
	}

	s.mu.RLock()
	matches := make([]vectorstore.Match, 0, len(s.vectors))
	for _, v := range s.vectors {
		if len(allowed) > 0 {
			docID, ok := vectorstore.DocID(v.Metadata)
			if !ok {
				continue
			}
			if _, ok := allowed[docID]; !ok {
				continue
			}
		}
		matches = append(matches, vectorstore.Match{ID: v.ID, Score: cosine(vector, v.Values), Metadata: v.Metadata})
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *Store) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.vectors, id)
	}
	return nil
}

func (s *Store) DeleteByDocument(ctx context.Context, docID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range s.vectors {
		if d, ok := vectorstore.DocID(v.Metadata); ok && d == docID {
			delete(s.vectors, id)
		}
	}
	return nil
}

func (s *Store) Describe(ctx context.Context) (vectorstore.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return vectorstore.Info{Backend: "memory", Dimension: s.dimension, Count: int64(len(s.vectors))}, nil
}

// IDs returns the stored ids, sorted.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.vectors))
	for id := range s.vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
