package extract

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"github.com/xuri/excelize/v2"
)

const sampleRows = 10

// tableParser renders csv and xlsx sheets as a text summary: numeric column
// statistics, the header and the first rows.
type tableParser struct {
	format string
}

func (p tableParser) Parse(ctx context.Context, r io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	var (
		rows [][]string
		err  error
	)
	switch p.format {
	case "csv":
		rows, err = readCSV(r)
	case "xlsx":
		rows, err = readXLSX(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, p.format)
	}
	if err != nil {
		return nil, err
	}
	return newDoc(summarizeTable(rows), opts...), nil
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: parse csv: %v", ErrExtraction, err)
	}
	return rows, nil
}

// summarizeTable treats the first row as the header.
func summarizeTable(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	header := rows[0]
	data := rows[1:]

	var b strings.Builder
	b.WriteString("Data Summary:\n")
	fmt.Fprintf(&b, "rows: %d, columns: %d\n", len(data), len(header))
	for col, name := range header {
		var (
			count      int
			sum        float64
			lo, hi     = math.Inf(1), math.Inf(-1)
			nonNumeric bool
		)
		for _, row := range data {
			if col >= len(row) || strings.TrimSpace(row[col]) == "" {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(row[col]), 64)
			if err != nil {
				nonNumeric = true
				break
			}
			count++
			sum += v
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if nonNumeric || count == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s: count=%d mean=%s min=%s max=%s\n", name, count,
			formatNum(sum/float64(count)), formatNum(lo), formatNum(hi))
	}

	b.WriteString("\nColumn Names: ")
	b.WriteString(strings.Join(header, ", "))
	b.WriteString("\n\nSample Data:\n")
	b.WriteString(strings.Join(header, "\t"))
	b.WriteByte('\n')
	for i, row := range data {
		if i == sampleRows {
			break
		}
		fmt.Fprintf(&b, "%s\n", strings.Join(row, "\t"))
	}
	return b.String()
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// readXLSX returns the formatted cell values of the first worksheet in
// workbook order.
func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open xlsx: %v", ErrExtraction, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no worksheets", ErrExtraction)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %v", ErrExtraction, sheets[0], err)
	}
	return rows, nil
}
