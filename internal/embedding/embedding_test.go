package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edurag/internal/config"
	"edurag/internal/retry"
)

var testPolicy = retry.Policy{MaxRetries: 2, Initial: time.Millisecond, Max: 2 * time.Millisecond}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestLocalEmbedderDeterministicAndNormalised(t *testing.T) {
	l := NewLocal(64)
	out, err := l.EmbedStrings(context.Background(), []string{"Newton's laws of motion", "Newton's laws of motion"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Len(t, out[0], 64)
	assert.Equal(t, out[0], out[1])
	assert.InDelta(t, 1.0, cosine(out[0], out[0]), 1e-9)
}

func TestLocalEmbedderRanksRelatedTextHigher(t *testing.T) {
	l := NewLocal(512)
	out, err := l.EmbedStrings(context.Background(), []string{
		"photosynthesis in plants converts light energy",
		"how do plants perform photosynthesis with light",
		"the french revolution began in 1789",
	})
	require.NoError(t, err)
	assert.Greater(t, cosine(out[0], out[1]), cosine(out[0], out[2]))
}

func TestLocalEmbedderEmptyText(t *testing.T) {
	out, err := NewLocal(8).EmbedStrings(context.Background(), []string{""})
	require.NoError(t, err)
	assert.Equal(t, make([]float64, 8), out[0])
}

func newOpenAIServer(t *testing.T, handler http.HandlerFunc) *HostedOpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewHostedOpenAI(context.Background(), OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "text-embedding-3-small", Dimensions: 3})
	require.NoError(t, err)
	return c
}

func embeddingReply(vectors ...string) string {
	data := make([]string, len(vectors))
	for i, v := range vectors {
		data[i] = fmt.Sprintf(`{"object":"embedding","index":%d,"embedding":%s}`, i, v)
	}
	return `{"object":"list","model":"text-embedding-3-small","data":[` + strings.Join(data, ",") +
		`],"usage":{"prompt_tokens":1,"total_tokens":1}}`
}

func TestCompatibleEmbedderSendsBatchToBaseURL(t *testing.T) {
	c := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req struct {
			Input      []string `json:"input"`
			Dimensions int      `json:"dimensions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b"}, req.Input)
		assert.Equal(t, 3, req.Dimensions)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(embeddingReply("[1,0,0]", "[0,1,0]")))
	})

	out, err := c.EmbedStrings(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0, 0}, {0, 1, 0}}, out)
	assert.Equal(t, 3, c.Dimension())
}

func TestRetryingRecoversFromServerError(t *testing.T) {
	var calls atomic.Int32
	c := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(embeddingReply("[1,2,3]")))
	})

	out, err := NewRetrying(c, testPolicy, nil).EmbedStrings(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2, 3}}, out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetryingDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	c := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"auth"}}`))
	})

	_, err := NewRetrying(c, testPolicy, nil).EmbedStrings(context.Background(), []string{"x"})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "bad key")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryingGivesUpAfterBudget(t *testing.T) {
	var calls atomic.Int32
	c := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := NewRetrying(c, testPolicy, nil).EmbedStrings(context.Background(), []string{"x"})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNewFactory(t *testing.T) {
	ctx := context.Background()
	e, err := New(ctx, config.EmbeddingConfig{Provider: "local", Dimensions: 16}, testPolicy, nil)
	require.NoError(t, err)
	assert.Equal(t, 16, e.(Dimensioned).Dimension())

	e, err = New(ctx, config.EmbeddingConfig{Provider: "openai", APIKey: "sk-test", Model: "text-embedding-3-small"}, testPolicy, nil)
	require.NoError(t, err)
	assert.Equal(t, 1536, e.(Dimensioned).Dimension())

	_, err = New(ctx, config.EmbeddingConfig{Provider: "openai"}, testPolicy, nil)
	assert.Error(t, err, "missing api key")

	_, err = New(ctx, config.EmbeddingConfig{Provider: "compatible"}, testPolicy, nil)
	assert.Error(t, err, "missing api key")

	e, err = New(ctx, config.EmbeddingConfig{Provider: "compatible", APIKey: "local", BaseURL: "http://127.0.0.1:8081/v1", Model: "bge-small", Dimensions: 384}, testPolicy, nil)
	require.NoError(t, err)
	assert.Equal(t, 384, e.(Dimensioned).Dimension())

	_, err = New(ctx, config.EmbeddingConfig{Provider: "cohere"}, testPolicy, nil)
	assert.Error(t, err)
}

func TestHostedOpenAIEmbedStrings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",
			"data":[{"object":"embedding","index":0,"embedding":[0.5,0.25,1]}],
			"usage":{"prompt_tokens":1,"total_tokens":1}}`))
	}))
	t.Cleanup(srv.Close)

	h, err := NewHostedOpenAI(context.Background(), OpenAIConfig{
		APIKey: "sk-test", BaseURL: srv.URL, Model: "text-embedding-3-small", Dimensions: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, h.Dimension())

	vecs, err := h.EmbedStrings(context.Background(), []string{"photosynthesis"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, []float64{0.5, 0.25, 1}, vecs[0])
}
