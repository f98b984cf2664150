// Package extract turns PDF handbook bytes into normalized, page-numbered text.
package extract

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/sha1n/mcp-handbook-server/internal/domain"
)

const (
	// defaultFontSize is assumed when the PDF does not report one for a text run.
	defaultFontSize = 10.0

	// maxColumnPad caps the spaces emitted for a single horizontal gap.
	maxColumnPad = 24
)

// RawPage is a page of text as read from the document, before normalization.
type RawPage struct {
	Number int
	Text   string
}

// PageReader reads the raw per-page text of a document.
type PageReader func(data []byte) ([]RawPage, error)

// Extractor converts document bytes into an ordered list of normalized pages.
type Extractor struct {
	readPages PageReader
}

// New creates an extractor backed by the PDF reader.
func New() *Extractor {
	return &Extractor{readPages: ReadPDFPages}
}

// NewWithReader creates an extractor with a custom page reader (for testing).
func NewWithReader(reader PageReader) *Extractor {
	return &Extractor{readPages: reader}
}

// Extract reads every page, normalizes it and fences table-like regions.
// Pages that are blank after normalization are dropped. Any read failure, or a
// document with no text at all, is reported as a *domain.ExtractionError.
func (e *Extractor) Extract(data []byte) ([]domain.Page, error) {
	raw, err := e.readPages(data)
	if err != nil {
		return nil, &domain.ExtractionError{Err: err}
	}

	pages := make([]domain.Page, 0, len(raw))
	for _, p := range raw {
		text := FenceTables(Normalize(p.Text))
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, domain.Page{Number: p.Number, Text: text})
	}

	if len(pages) == 0 {
		return nil, &domain.ExtractionError{Err: domain.ErrEmptyDocument}
	}
	return pages, nil
}

// ReadPDFPages reads positioned text runs from every page of a PDF and rebuilds
// lines in reading order (top to bottom, left to right). Wide horizontal gaps
// are kept as runs of spaces so column layouts survive.
func ReadPDFPages(data []byte) (pages []RawPage, err error) {
	// The PDF parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	if len(data) == 0 {
		return nil, fmt.Errorf("empty document")
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	numPages := reader.NumPage()
	pages = make([]RawPage, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		rows, err := page.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d: %w", i, err)
		}

		lines := make([]string, 0, len(rows))
		for _, row := range rows {
			lines = append(lines, rowText(row.Content))
		}
		pages = append(pages, RawPage{Number: i, Text: strings.Join(lines, "\n")})
	}

	return pages, nil
}

// rowText joins the text runs of one row, padding large gaps with spaces.
func rowText(runs pdf.TextHorizontal) string {
	sorted := make([]pdf.Text, len(runs))
	copy(sorted, runs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	var sb strings.Builder
	for i, t := range sorted {
		if i > 0 {
			prev := sorted[i-1]
			size := prev.FontSize
			if size <= 0 {
				size = defaultFontSize
			}
			width := prev.W
			if width <= 0 {
				width = float64(len([]rune(prev.S))) * size * 0.5
			}

			gap := t.X - (prev.X + width)
			switch {
			case gap > size*1.5:
				pad := int(gap / (size * 0.5))
				sb.WriteString(strings.Repeat(" ", min(max(pad, 2), maxColumnPad)))
			case gap > size*0.15:
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(t.S)
	}
	return sb.String()
}
