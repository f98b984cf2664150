package llm

import (
	"context"
	"strings"
)

// DefaultNoteInputChars caps how much chunk text is sent to the summarizer.
const DefaultNoteInputChars = 12000

// IndexNotePrompt is the system prompt for generating retrieval-oriented chunk notes.
const IndexNotePrompt = `You write index notes for an employee policy handbook search engine.
Given an excerpt of the handbook, produce a short note in exactly this format:

Title: <a specific title for the excerpt>
Key topics:
- <topic>
- <topic>
Keywords: <comma-separated keywords, including policy names, numbers, dates and codes that appear verbatim>

Use only information present in the excerpt. Do not answer questions or add commentary.`

// Summarizer produces a short retrieval-oriented summary of a text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// IndexNoter generates index notes with a language model.
type IndexNoter struct {
	completer     Completer
	maxInputChars int
}

var _ Summarizer = (*IndexNoter)(nil)

// NewIndexNoter creates an index-note summarizer. Non-positive maxInputChars uses the default.
func NewIndexNoter(completer Completer, maxInputChars int) *IndexNoter {
	if maxInputChars <= 0 {
		maxInputChars = DefaultNoteInputChars
	}
	return &IndexNoter{completer: completer, maxInputChars: maxInputChars}
}

// Summarize returns the index note for text, truncated to the input cap first.
func (n *IndexNoter) Summarize(ctx context.Context, text string) (string, error) {
	excerpt, _ := Truncate(text, n.maxInputChars)
	note, err := n.completer.Complete(ctx, IndexNotePrompt, excerpt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(note), nil
}
