package domain

import (
	"errors"
	"fmt"
)

// ErrEmptyDocument indicates that a document yielded no extractable text.
var ErrEmptyDocument = errors.New("document has no extractable text")

// ExtractionError reports unreadable or corrupt source bytes.
// It aborts an ingestion run before anything is written.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// IndexingError reports a persistence failure while writing chunks or vectors.
type IndexingError struct {
	Op     string
	Source string
	Err    error
}

func (e *IndexingError) Error() string {
	return fmt.Sprintf("indexing %s: %s: %v", e.Source, e.Op, e.Err)
}

func (e *IndexingError) Unwrap() error {
	return e.Err
}

// AnswerGenerationError reports a failed language-model call while answering.
type AnswerGenerationError struct {
	Err error
}

func (e *AnswerGenerationError) Error() string {
	return fmt.Sprintf("answer generation failed: %v", e.Err)
}

func (e *AnswerGenerationError) Unwrap() error {
	return e.Err
}
