// Package extract turns uploaded files into plain text.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrExtraction        = errors.New("text extraction failed")
)

// SupportedFormats lists every declared format the extractor can read.
var SupportedFormats = []string{"pdf", "docx", "doc", "txt", "csv", "xlsx"}

// Extractor dispatches on the file extension through an eino ExtParser.
type Extractor struct {
	parser parser.Parser
	loader *file.FileLoader
}

func New(ctx context.Context) (*Extractor, error) {
	pdf, err := newPDFParser(ctx)
	if err != nil {
		return nil, err
	}
	ext, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		Parsers: map[string]parser.Parser{
			".pdf":  pdf,
			".docx": docxParser{},
			".doc":  docxParser{},
			".txt":  parser.TextParser{},
			".csv":  tableParser{format: "csv"},
			".xlsx": tableParser{format: "xlsx"},
		},
		FallbackParser: unsupportedParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("init ext parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      ext,
	})
	if err != nil {
		return nil, fmt.Errorf("init file loader: %w", err)
	}
	return &Extractor{parser: ext, loader: loader}, nil
}

// Supported reports whether format (an extension without the dot) is readable.
func Supported(format string) bool {
	format = normalize(format)
	for _, f := range SupportedFormats {
		if f == format {
			return true
		}
	}
	return false
}

// Extract reads raw bytes of the declared format.
func (e *Extractor) Extract(ctx context.Context, data []byte, format string) (string, error) {
	format = normalize(format)
	if !Supported(format) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	docs, err := e.parser.Parse(ctx, bytes.NewReader(data), parser.WithURI("upload."+format))
	if err != nil {
		return "", wrapErr(err)
	}
	return joinDocs(docs), nil
}

// Load reads a stored file through the eino file loader. The extension of
// path selects the parser.
func (e *Extractor) Load(ctx context.Context, path string) (string, error) {
	if !Supported(filepath.Ext(path)) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
	}
	docs, err := e.loader.Load(ctx, document.Source{URI: path})
	if err != nil {
		return "", wrapErr(err)
	}
	return joinDocs(docs), nil
}

func wrapErr(err error) error {
	if errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, ErrExtraction) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrExtraction, err)
}

func joinDocs(docs []*schema.Document) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if d == nil || strings.TrimSpace(d.Content) == "" {
			continue
		}
		parts = append(parts, d.Content)
	}
	return strings.Join(parts, "\n\n")
}

func normalize(format string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
}

type unsupportedParser struct{}

func (unsupportedParser) Parse(ctx context.Context, _ io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	o := parser.GetCommonOptions(&parser.Options{}, opts...)
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, o.URI)
}

func newDoc(content string, opts ...parser.Option) []*schema.Document {
	o := parser.GetCommonOptions(&parser.Options{}, opts...)
	meta := make(map[string]any, len(o.ExtraMeta)+1)
	for k, v := range o.ExtraMeta {
		meta[k] = v
	}
	if o.URI != "" {
		meta["_source"] = o.URI
	}
	return []*schema.Document{{Content: content, MetaData: meta}}
}
