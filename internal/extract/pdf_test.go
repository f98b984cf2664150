package extract

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

// textLine is one text run placed with an absolute text matrix.
type textLine struct {
	X, Y float64
	Text string
}

// buildPDF writes a minimal uncompressed PDF with one Helvetica font and one
// content stream per page. Lines are emitted in the order given.
func buildPDF(t *testing.T, pages ...[]textLine) []byte {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	var offsets []int
	addObject := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}

	addObject("<< /Type /Catalog /Pages 2 0 R >>")
	addObject(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	addObject("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	for i, lines := range pages {
		addObject(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
			"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i))

		var content strings.Builder
		content.WriteString("BT\n/F1 10 Tf\n")
		for _, line := range lines {
			fmt.Fprintf(&content, "1 0 0 1 %g %g Tm\n(%s) Tj\n", line.X, line.Y, line.Text)
		}
		content.WriteString("ET")
		addObject(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

// leavePolicyPDF has a prose page written bottom line first, a page without
// text, and a page with a three-column roster.
func leavePolicyPDF(t *testing.T) []byte {
	return buildPDF(t,
		[]textLine{
			{X: 72, Y: 660, Text: "Maternity leave is 26 weeks"},
			{X: 72, Y: 700, Text: "Leave policy appro-"},
			{X: 72, Y: 680, Text: "val required"},
		},
		nil,
		[]textLine{
			{X: 72, Y: 700, Text: "Leave roster"},
			{X: 72, Y: 680, Text: "Name"},
			{X: 200, Y: 680, Text: "Days"},
			{X: 320, Y: 680, Text: "Approver"},
			{X: 72, Y: 660, Text: "Anna"},
			{X: 200, Y: 660, Text: "26"},
			{X: 320, Y: 660, Text: "HR"},
		},
	)
}

func TestReadPDFPages_ReadingOrder(t *testing.T) {
	pages, err := ReadPDFPages(leavePolicyPDF(t))
	if err != nil {
		t.Fatalf("ReadPDFPages failed: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("Expected 3 pages, got %d", len(pages))
	}
	for i, p := range pages {
		if p.Number != i+1 {
			t.Errorf("Page %d numbered %d", i+1, p.Number)
		}
	}

	want := "Leave policy appro-\nval required\nMaternity leave is 26 weeks"
	if pages[0].Text != want {
		t.Errorf("Page 1 text = %q, want %q", pages[0].Text, want)
	}
	if strings.TrimSpace(pages[1].Text) != "" {
		t.Errorf("Expected no text on page 2, got %q", pages[1].Text)
	}
}

func TestExtract_PDFDocument(t *testing.T) {
	pages, err := New().Extract(leavePolicyPDF(t))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("Expected the blank page to be dropped, got %d pages", len(pages))
	}

	if pages[0].Number != 1 {
		t.Errorf("First page numbered %d, want 1", pages[0].Number)
	}
	if want := "Leave policy approval required\nMaternity leave is 26 weeks"; pages[0].Text != want {
		t.Errorf("Page 1 text = %q, want %q", pages[0].Text, want)
	}

	roster := pages[1]
	if roster.Number != 3 {
		t.Errorf("Roster page numbered %d, want 3", roster.Number)
	}
	lines := strings.Split(roster.Text, "\n")
	if len(lines) != 5 {
		t.Fatalf("Expected title, fenced two-row table, got:\n%s", roster.Text)
	}
	if lines[0] != "Leave roster" || lines[1] != TableFence || lines[4] != TableFence {
		t.Errorf("Expected the roster rows to be fenced, got:\n%s", roster.Text)
	}
	if got := strings.Fields(lines[2]); strings.Join(got, ",") != "Name,Days,Approver" {
		t.Errorf("Unexpected header row %q", lines[2])
	}
	if got := strings.Fields(lines[3]); strings.Join(got, ",") != "Anna,26,HR" {
		t.Errorf("Unexpected data row %q", lines[3])
	}
	if !IsTableRow(lines[3]) {
		t.Errorf("Expected column gaps to survive in %q", lines[3])
	}
}
