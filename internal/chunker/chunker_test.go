package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleText(n int) string {
	words := []string{"photosynthesis", "converts", "light", "energy", "into", "chemical", "energy", "within", "chloroplasts."}
	var b strings.Builder
	for i := 0; b.Len() < n; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(words[i%len(words)])
	}
	return b.String()[:n]
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	for name, opts := range map[string][]Option{
		"zero size":        {WithChunkSize(0)},
		"negative overlap": {WithOverlap(-1)},
		"overlap == size":  {WithChunkSize(100), WithOverlap(100)},
		"overlap > size":   {WithChunkSize(100), WithOverlap(150)},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(opts...)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestSplitEmptyAndWhitespace(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	assert.Empty(t, c.Split(""))
	assert.Empty(t, c.Split("   \n\n\t "))
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	got := c.Split("Mitochondria are the powerhouse of the cell.")
	assert.Equal(t, []string{"Mitochondria are the powerhouse of the cell."}, got)
}

func TestSplitHardCutProducesThreeChunks(t *testing.T) {
	c, err := New(WithChunkSize(1000), WithOverlap(200))
	require.NoError(t, err)
	text := strings.Repeat("x", 2400)

	chunks := c.Chunks(text)
	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 800, chunks[1].Start)
	assert.Equal(t, 1600, chunks[2].Start)
	assert.Equal(t, 2400, chunks[2].End)
}

func TestSplitSentenceText2400(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	chunks := c.Split(sampleText(2400))
	assert.Len(t, chunks, 3)
}

func TestSplitRespectsSizeAndOverlap(t *testing.T) {
	c, err := New(WithChunkSize(120), WithOverlap(30))
	require.NoError(t, err)
	text := sampleText(2000)

	chunks := c.Chunks(text)
	require.Greater(t, len(chunks), 1)
	runes := []rune(text)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 120)
		assert.Equal(t, string(runes[ch.Start:ch.End]), ch.Text)
		if i == 0 {
			continue
		}
		prev := chunks[i-1]
		assert.Equal(t, prev.End-30, ch.Start, "chunk %d must start overlap runes before previous end", i)
		assert.True(t, strings.HasSuffix(prev.Text, string(runes[ch.Start:prev.End])))
	}
	assert.Equal(t, len(runes), chunks[len(chunks)-1].End)
}

func TestSplitPrefersHigherPrioritySeparator(t *testing.T) {
	c, err := New(WithChunkSize(40), WithOverlap(5))
	require.NoError(t, err)
	text := "First paragraph here.\n\nSecond one is a bit longer than that."

	chunks := c.Split(text)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "First paragraph here.\n\n", chunks[0])
}

func TestSplitIsDeterministic(t *testing.T) {
	c, err := New(WithChunkSize(200), WithOverlap(40))
	require.NoError(t, err)
	text := sampleText(5000)
	assert.Equal(t, c.Chunks(text), c.Chunks(text))
}

func TestSplitCountsRunes(t *testing.T) {
	c, err := New(WithChunkSize(10), WithOverlap(2), WithSeparators())
	require.NoError(t, err)
	text := strings.Repeat("é", 25)

	chunks := c.Split(text)
	require.Len(t, chunks, 3)
	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch), 10)
	}
}

func TestWhitespaceWindowIsSkipped(t *testing.T) {
	c, err := New(WithChunkSize(4), WithOverlap(1), WithSeparators())
	require.NoError(t, err)
	text := "abcd" + strings.Repeat(" ", 6) + "efgh"
	runes := []rune(text)

	chunks := c.Chunks(text)
	require.Equal(t, []string{"abcd", "d   ", " efg", "gh"}, c.Split(text))
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
	}
	for i := 1; i < len(chunks); i++ {
		prev, next := chunks[i-1], chunks[i]
		if next.Start < prev.End {
			assert.Equal(t, 1, prev.End-next.Start)
			continue
		}
		assert.Empty(t, strings.TrimSpace(string(runes[prev.End:next.Start])))
	}
}
