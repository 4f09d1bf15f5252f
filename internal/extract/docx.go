package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
)

// docxParser reads paragraph text out of word/document.xml. Legacy binary
// .doc files are not zip archives and fail with ErrExtraction.
type docxParser struct{}

func (docxParser) Parse(ctx context.Context, r io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read docx: %v", ErrExtraction, err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: not a docx archive: %v", ErrExtraction, err)
	}
	body, err := readZipEntry(zr, "word/document.xml")
	if err != nil {
		return nil, err
	}
	text, err := docxText(body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse document.xml: %v", ErrExtraction, err)
	}
	return newDoc(text, opts...), nil
}

// docxText emits one line per w:p, honouring w:tab and w:br.
func docxText(body []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var (
		b      strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}

func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", ErrExtraction, name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrExtraction, name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: missing %s", ErrExtraction, name)
}
