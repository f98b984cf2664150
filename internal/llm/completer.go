// Package llm wraps language-model completion for index notes and answers.
package llm

import (
	"context"
	"errors"
	"unicode/utf8"
)

// ErrEmptyResponse indicates the model returned no text.
var ErrEmptyResponse = errors.New("language model returned an empty response")

// Completer produces a completion for a system prompt and a user prompt.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, systemPrompt, userPrompt)
}

// Truncate cuts s to at most maxBytes bytes without splitting a UTF-8 sequence.
// It reports whether anything was cut.
func Truncate(s string, maxBytes int) (string, bool) {
	if maxBytes < 0 {
		maxBytes = 0
	}
	if len(s) <= maxBytes {
		return s, false
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}
