package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
)

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// Local is an offline embedder: unigrams and bigrams hashed into a fixed
// number of buckets, L2-normalised. Vectors of texts sharing vocabulary get
// a positive cosine similarity, which is enough for development and tests.
type Local struct {
	dim int
}

func NewLocal(dim int) *Local {
	if dim <= 0 {
		dim = 384
	}
	return &Local{dim: dim}
}

func (l *Local) Dimension() int { return l.dim }

func (l *Local) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = l.embed(text)
	}
	return out, nil
}

func (l *Local) embed(text string) []float64 {
	vec := make([]float64, l.dim)
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	for i, tok := range tokens {
		l.add(vec, tok, 1)
		if i > 0 {
			l.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

func (l *Local) add(vec []float64, term string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(term))
	sum := h.Sum64()
	idx := int(sum % uint64(l.dim))
	// The top bit picks the sign so unrelated collisions tend to cancel.
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
