package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type describeOnly struct {
	Store
	info Info
	err  error
}

func (d describeOnly) Describe(context.Context) (Info, error) { return d.info, d.err }

func TestOperationErrorMatchesUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("upsert batch: %w", &OperationError{Backend: "qdrant", Op: "upsert", Cause: cause})

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "qdrant upsert failed")
}

func TestVerifyDimension(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, VerifyDimension(ctx, describeOnly{info: Info{Dimension: 1536}}, 1536))
	require.NoError(t, VerifyDimension(ctx, describeOnly{info: Info{Dimension: 0}}, 1536))
	require.Error(t, VerifyDimension(ctx, describeOnly{info: Info{Backend: "pinecone", Dimension: 768}}, 1536))
	require.ErrorIs(t, VerifyDimension(ctx, describeOnly{err: ErrUnavailable}, 1536), ErrUnavailable)
}

func TestMetadataHelpers(t *testing.T) {
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"doc_id":42,"chunk_id":3,"source":"a.pdf"}`), &decoded))

	id, ok := DocID(decoded)
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, 3, ChunkIndex(decoded))
	assert.Equal(t, "a.pdf", MetaString(decoded, MetaSource))
	assert.Equal(t, -1, ChunkIndex(map[string]any{}))
	assert.Equal(t, "42_3", VectorID(42, 3))
}
