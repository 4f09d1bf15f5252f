// Package chunker splits extracted text into overlapping windows.
//
// Sizes are counted in runes. A window never exceeds the configured size and
// consecutive windows share exactly Overlap runes, so a sentence cut at one
// boundary is still whole in one of its neighbours. Windows holding only
// whitespace are not emitted; the chunks on either side of such a window are
// separated by whitespace instead of overlapping.
package chunker

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

// DefaultSeparators are tried in order; the first one found inside the
// usable part of a window decides the cut.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", " "}

var ErrInvalidConfig = errors.New("chunker: invalid configuration")

// Chunk is one window of the source text.
type Chunk struct {
	Index int
	Text  string
	Start int // rune offset, inclusive
	End   int // rune offset, exclusive
}

type Chunker struct {
	size       int
	overlap    int
	separators [][]rune
}

type Option func(*Chunker)

func WithChunkSize(n int) Option {
	return func(c *Chunker) { c.size = n }
}

func WithOverlap(n int) Option {
	return func(c *Chunker) { c.overlap = n }
}

// WithSeparators replaces the separator priority list. Empty strings are ignored.
func WithSeparators(seps ...string) Option {
	return func(c *Chunker) {
		c.separators = c.separators[:0]
		for _, s := range seps {
			if s != "" {
				c.separators = append(c.separators, []rune(s))
			}
		}
	}
}

func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{size: DefaultChunkSize, overlap: DefaultOverlap}
	WithSeparators(DefaultSeparators...)(c)
	for _, opt := range opts {
		opt(c)
	}
	if c.size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.size)
	}
	if c.overlap < 0 || c.overlap >= c.size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidConfig, c.overlap, c.size)
	}
	return c, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the chunk texts in order.
func (c *Chunker) Split(text string) []string {
	chunks := c.Chunks(text)
	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Text
	}
	return out
}

// Chunks returns windows with their offsets. Whitespace-only windows are
// dropped and the remaining ones are numbered from zero.
func (c *Chunker) Chunks(text string) []Chunk {
	runes := []rune(text)
	n := len(runes)
	var out []Chunk
	for start := 0; start < n; {
		end := min(start+c.size, n)
		if end < n {
			end = c.cut(runes, start, end)
		}
		if piece := string(runes[start:end]); strings.TrimSpace(piece) != "" {
			out = append(out, Chunk{Index: len(out), Text: piece, Start: start, End: end})
		}
		if end >= n {
			break
		}
		start = max(end-c.overlap, start+1)
	}
	return out
}

// cut picks the end of the window [start, limit). The cut must land beyond
// start+overlap or the next window would not advance.
func (c *Chunker) cut(runes []rune, start, limit int) int {
	floor := start + c.overlap
	for _, sep := range c.separators {
		for i := limit - len(sep); i >= start && i+len(sep) > floor; i-- {
			if hasPrefixAt(runes, i, sep) {
				return i + len(sep)
			}
		}
	}
	return limit
}

func hasPrefixAt(runes []rune, at int, sep []rune) bool {
	if at+len(sep) > len(runes) {
		return false
	}
	for j, r := range sep {
		if runes[at+j] != r {
			return false
		}
	}
	return true
}
