// Package chunker packs handbook pages into large, overlapping chunks.
package chunker

import (
	"fmt"
	"strings"

	"github.com/sha1n/mcp-handbook-server/internal/domain"
)

const (
	// DefaultTargetChars is the packing budget for one chunk.
	DefaultTargetChars = 16000

	// DefaultOverlapPages is how many trailing pages each chunk repeats from its predecessor.
	DefaultOverlapPages = 1
)

// Span is a packed run of pages.
type Span struct {
	PageStart int
	PageEnd   int
	Content   string
}

// Chunker groups consecutive pages under a character budget.
type Chunker struct {
	targetChars  int
	overlapPages int
}

// New creates a chunker. Non-positive targetChars falls back to the default
// and negative overlap is treated as zero.
func New(targetChars, overlapPages int) *Chunker {
	if targetChars <= 0 {
		targetChars = DefaultTargetChars
	}
	if overlapPages < 0 {
		overlapPages = 0
	}
	return &Chunker{
		targetChars:  targetChars,
		overlapPages: overlapPages,
	}
}

// PageMarker returns the delimiter line placed before each page's text.
func PageMarker(pageNumber int) string {
	return fmt.Sprintf("=== PAGE %d ===", pageNumber)
}

// Chunk packs pages greedily: a chunk starts at the cursor page and keeps
// appending whole pages while the buffer stays within the target budget.
// The next chunk starts OverlapPages before the end of the previous one, but
// the cursor always moves forward by at least one page. A single page larger
// than the budget still forms its own chunk.
func (c *Chunker) Chunk(pages []domain.Page) []Span {
	if len(pages) == 0 {
		return nil
	}

	var spans []Span
	start := 0
	for {
		var buf strings.Builder
		buf.WriteString(PageMarker(pages[start].Number))
		buf.WriteByte('\n')
		buf.WriteString(pages[start].Text)

		end := start + 1
		for end < len(pages) {
			piece := "\n\n" + PageMarker(pages[end].Number) + "\n" + pages[end].Text
			if buf.Len()+len(piece) > c.targetChars {
				break
			}
			buf.WriteString(piece)
			end++
		}

		spans = append(spans, Span{
			PageStart: pages[start].Number,
			PageEnd:   pages[end-1].Number,
			Content:   buf.String(),
		})

		if end >= len(pages) {
			return spans
		}

		next := end - c.overlapPages
		if next <= start {
			next = start + 1
		}
		start = next
	}
}
