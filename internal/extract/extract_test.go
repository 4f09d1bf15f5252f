package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := New(context.Background())
	require.NoError(t, err)
	return e
}

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const docxBody = `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>Cell biology</w:t></w:r></w:p>
<w:p><w:r><w:t xml:space="preserve">Ribosomes </w:t></w:r><w:r><w:t>build proteins.</w:t></w:r></w:p>
</w:body>
</w:document>`

func TestExtractText(t *testing.T) {
	e := newExtractor(t)
	got, err := e.Extract(context.Background(), []byte("plain notes"), "TXT")
	require.NoError(t, err)
	assert.Equal(t, "plain notes", got)
}

func TestExtractDocx(t *testing.T) {
	e := newExtractor(t)
	data := zipOf(t, map[string]string{"word/document.xml": docxBody})

	got, err := e.Extract(context.Background(), data, "docx")
	require.NoError(t, err)
	assert.Equal(t, "Cell biology\nRibosomes build proteins.\n", got)
}

func TestExtractLegacyDocFails(t *testing.T) {
	e := newExtractor(t)
	_, err := e.Extract(context.Background(), []byte{0xD0, 0xCF, 0x11, 0xE0}, "doc")
	require.ErrorIs(t, err, ErrExtraction)
}

func TestExtractCSVSummary(t *testing.T) {
	e := newExtractor(t)
	csvData := "name,score,grade\nana,90,A\nben,70,C\ncai,80,B\n"

	got, err := e.Extract(context.Background(), []byte(csvData), "csv")
	require.NoError(t, err)
	assert.Contains(t, got, "Data Summary:\nrows: 3, columns: 3\n")
	assert.Contains(t, got, "score: count=3 mean=80 min=70 max=90")
	assert.NotContains(t, got, "name: count")
	assert.Contains(t, got, "Column Names: name, score, grade")
	assert.Contains(t, got, "Sample Data:\nname\tscore\tgrade\nana\t90\tA\n")
}

func TestExtractCSVSampleLimitedToTenRows(t *testing.T) {
	e := newExtractor(t)
	var b bytes.Buffer
	b.WriteString("n\n")
	for i := 0; i < 25; i++ {
		b.WriteString("row\n")
	}
	got, err := e.Extract(context.Background(), b.Bytes(), "csv")
	require.NoError(t, err)
	assert.Equal(t, 10, bytes.Count([]byte(got[bytes.Index([]byte(got), []byte("Sample Data:")):]), []byte("row\n")))
}

func xlsxOf(t *testing.T, sheets map[string][][]any, order ...string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, name := range order {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", name))
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for r, row := range sheets[name] {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestExtractXLSX(t *testing.T) {
	e := newExtractor(t)
	data := xlsxOf(t, map[string][][]any{
		"Study": {
			{"topic", "hours"},
			{"algebra", 4.5},
			{"geometry", 3.5},
		},
	}, "Study")

	got, err := e.Extract(context.Background(), data, "xlsx")
	require.NoError(t, err)
	assert.Contains(t, got, "rows: 2, columns: 2")
	assert.Contains(t, got, "hours: count=2 mean=4 min=3.5 max=4.5")
	assert.Contains(t, got, "Column Names: topic, hours")
	assert.Contains(t, got, "geometry\t3.5")
}

func TestExtractXLSXUsesFirstSheetInWorkbookOrder(t *testing.T) {
	e := newExtractor(t)
	data := xlsxOf(t, map[string][][]any{
		"Zeta":  {{"subject"}, {"chemistry"}},
		"Alpha": {{"ignored"}, {"physics"}},
	}, "Zeta", "Alpha")

	got, err := e.Extract(context.Background(), data, "xlsx")
	require.NoError(t, err)
	assert.Contains(t, got, "Column Names: subject")
	assert.NotContains(t, got, "physics")
}

func TestExtractMalformedXLSX(t *testing.T) {
	e := newExtractor(t)
	// a worksheet with lower-case cell references and no workbook part
	data := zipOf(t, map[string]string{
		"xl/worksheets/sheet1.xml": `<worksheet><sheetData><row r="1"><c r="a1"><v>1</v></c></row></sheetData></worksheet>`,
	})
	require.NotPanics(t, func() {
		_, err := e.Extract(context.Background(), data, "xlsx")
		require.ErrorIs(t, err, ErrExtraction)
	})

	_, err := e.Extract(context.Background(), []byte("not a zip"), "xlsx")
	require.ErrorIs(t, err, ErrExtraction)
}

func TestExtractUnsupported(t *testing.T) {
	e := newExtractor(t)
	_, err := e.Extract(context.Background(), []byte("x"), "exe")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExtractBrokenPDF(t *testing.T) {
	e := newExtractor(t)
	_, err := e.Extract(context.Background(), []byte("%PDF-1.4 not really"), "pdf")
	require.ErrorIs(t, err, ErrExtraction)
}

func TestLoadStoredFile(t *testing.T) {
	e := newExtractor(t)
	path := filepath.Join(t.TempDir(), "1700000000_notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("stored upload"), 0o600))

	got, err := e.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "stored upload", got)

	_, err = e.Load(context.Background(), filepath.Join(t.TempDir(), "noext"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}
