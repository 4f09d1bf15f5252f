package extract

import (
	"context"
	"fmt"
	"io"

	pdfparser "github.com/cloudwego/eino-ext/components/document/parser/pdf"
	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
)

// pdfParser wraps the eino-ext PDF parser so malformed files surface as
// ErrExtraction instead of a panic or a library error.
type pdfParser struct {
	inner parser.Parser
}

func newPDFParser(ctx context.Context) (pdfParser, error) {
	p, err := pdfparser.NewPDFParser(ctx, &pdfparser.Config{ToPages: false})
	if err != nil {
		return pdfParser{}, fmt.Errorf("init pdf parser: %w", err)
	}
	return pdfParser{inner: p}, nil
}

func (p pdfParser) Parse(ctx context.Context, r io.Reader, opts ...parser.Option) (docs []*schema.Document, err error) {
	// The underlying reader panics on some malformed inputs.
	defer func() {
		if rec := recover(); rec != nil {
			docs, err = nil, fmt.Errorf("%w: malformed pdf: %v", ErrExtraction, rec)
		}
	}()
	docs, err = p.inner.Parse(ctx, r, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: pdf: %v", ErrExtraction, err)
	}
	return docs, nil
}
