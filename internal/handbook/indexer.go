package handbook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sha1n/mcp-handbook-server/internal/chunker"
	"github.com/sha1n/mcp-handbook-server/internal/domain"
	"github.com/sha1n/mcp-handbook-server/internal/keyword"
	"github.com/sha1n/mcp-handbook-server/internal/llm"
	"github.com/sha1n/mcp-handbook-server/internal/vector"
)

const (
	// DefaultMaxChunkChars caps the embedding text of a chunk.
	DefaultMaxChunkChars = 22000

	// DefaultLockTimeout bounds how long an indexing run waits for its source tag.
	DefaultLockTimeout = 5 * time.Minute

	// TruncatedMarker ends an embedding text that was cut to the cap.
	TruncatedMarker = "[TRUNCATED]"

	noteHeader    = "INDEX NOTE:"
	contentHeader = "RAW CONTENT:"
)

// PageExtractor turns document bytes into normalized pages.
type PageExtractor interface {
	Extract(data []byte) ([]domain.Page, error)
}

// IndexerConfig wires the indexing pipeline.
type IndexerConfig struct {
	Extractor  PageExtractor
	Chunker    *chunker.Chunker
	Summarizer llm.Summarizer
	Keyword    KeywordIndex
	Vectors    VectorIndex

	// EmbedderID names the vector space of Vectors' embedder. A generation
	// recorded under another identity is re-embedded even if unchanged.
	EmbedderID string

	Manifest     *Manifest
	ManifestPath string

	// LockDir holds one lock file per source tag.
	LockDir     string
	LockTimeout time.Duration

	MaxChunkChars int
	Metrics       *Metrics
}

// IndexResult summarizes one indexing run.
type IndexResult struct {
	Source       string
	DocHash      string
	Skipped      bool
	Chunks       int
	NoteFailures int
	Duration     time.Duration
}

// Indexer runs extraction, chunking, index-note generation and dual writes.
// Runs for the same source tag are serialized.
type Indexer struct {
	extractor     PageExtractor
	chunker       *chunker.Chunker
	summarizer    llm.Summarizer
	keyword       KeywordIndex
	vectors       VectorIndex
	embedderID    string
	manifest      *Manifest
	manifestPath  string
	locks         *tagLocks
	maxChunkChars int
	metrics       *Metrics
	newID         func() string
	now           func() time.Time
}

// NewIndexer creates an indexer.
func NewIndexer(cfg IndexerConfig) (*Indexer, error) {
	switch {
	case cfg.Extractor == nil:
		return nil, fmt.Errorf("extractor cannot be nil")
	case cfg.Summarizer == nil:
		return nil, fmt.Errorf("summarizer cannot be nil")
	case cfg.Keyword == nil:
		return nil, fmt.Errorf("keyword index cannot be nil")
	case cfg.Vectors == nil:
		return nil, fmt.Errorf("vector index cannot be nil")
	case cfg.Manifest == nil || cfg.ManifestPath == "":
		return nil, fmt.Errorf("manifest and manifest path are required")
	case cfg.LockDir == "":
		return nil, fmt.Errorf("lock directory is required")
	}

	if cfg.Chunker == nil {
		cfg.Chunker = chunker.New(chunker.DefaultTargetChars, chunker.DefaultOverlapPages)
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.MaxChunkChars <= 0 {
		cfg.MaxChunkChars = DefaultMaxChunkChars
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}

	return &Indexer{
		extractor:     cfg.Extractor,
		chunker:       cfg.Chunker,
		summarizer:    cfg.Summarizer,
		keyword:       cfg.Keyword,
		vectors:       cfg.Vectors,
		embedderID:    cfg.EmbedderID,
		manifest:      cfg.Manifest,
		manifestPath:  cfg.ManifestPath,
		locks:         newTagLocks(cfg.LockDir, cfg.LockTimeout),
		maxChunkChars: cfg.MaxChunkChars,
		metrics:       cfg.Metrics,
		newID:         uuid.NewString,
		now:           time.Now,
	}, nil
}

// DocumentHash returns the hex SHA-256 of the document bytes.
func DocumentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Index ingests a document under a source tag.
//
// The new generation is written next to the active one, the manifest is
// swapped to point at it, and only then are older generations purged. A run
// that fails before the swap removes what it staged and leaves the previous
// generation queryable. Re-indexing the active bytes is a no-op.
//
// Extraction failures are returned as *domain.ExtractionError and store
// failures as *domain.IndexingError.
func (ix *Indexer) Index(ctx context.Context, data []byte, source string) (IndexResult, error) {
	if strings.TrimSpace(source) == "" {
		return IndexResult{}, fmt.Errorf("source tag cannot be empty")
	}

	start := ix.now()
	docHash := DocumentHash(data)
	result := IndexResult{Source: source, DocHash: docHash}

	release, err := ix.locks.Acquire(ctx, source)
	if err != nil {
		return result, err
	}
	defer release()

	skip, err := ix.alreadyIndexed(ctx, source, docHash)
	if err != nil {
		ix.metrics.IndexRuns.WithLabelValues(ix.metrics.SourceLabel(source), OutcomeFailed).Inc()
		return result, &domain.IndexingError{Op: "check existing generation", Source: source, Err: err}
	}
	if skip {
		slog.Info("Handbook unchanged, skipping", "source", source, "doc_hash", docHash)
		ix.metrics.IndexRuns.WithLabelValues(ix.metrics.SourceLabel(source), OutcomeSkipped).Inc()
		result.Skipped = true
		result.Duration = ix.now().Sub(start)
		return result, nil
	}

	slog.Info("Indexing handbook", "source", source, "doc_hash", docHash, "bytes", len(data))
	if err := ix.run(ctx, data, &result); err != nil {
		ix.recordFailure(source, err)
		return result, err
	}

	result.Duration = ix.now().Sub(start)
	ix.metrics.IndexRuns.WithLabelValues(ix.metrics.SourceLabel(source), OutcomeIndexed).Inc()
	slog.Info("Handbook indexed",
		"source", source,
		"doc_hash", docHash,
		"chunks", result.Chunks,
		"note_failures", result.NoteFailures,
		"duration", result.Duration)
	return result, nil
}

// alreadyIndexed reports whether docHash is the active generation of source,
// was embedded by the current embedder and still has chunks in the keyword
// store.
func (ix *Indexer) alreadyIndexed(ctx context.Context, source, docHash string) (bool, error) {
	state, ok := ix.manifest.State(source)
	if !ok || state.DocHash == "" || state.DocHash != docHash {
		return false, nil
	}
	if state.Embedder != ix.embedderID {
		slog.Info("Embedder changed, re-indexing",
			"source", source,
			"previous", state.Embedder,
			"current", ix.embedderID)
		return false, nil
	}
	count, err := ix.keyword.Count(ctx, keyword.Scope{Source: source, DocHash: docHash})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (ix *Indexer) run(ctx context.Context, data []byte, result *IndexResult) error {
	source, docHash := result.Source, result.DocHash

	pages, err := ix.extractor.Extract(data)
	if err != nil {
		var extractErr *domain.ExtractionError
		if !errors.As(err, &extractErr) {
			err = &domain.ExtractionError{Err: err}
		}
		return err
	}
	spans := ix.chunker.Chunk(pages)

	// Leftovers of an interrupted run share the hash; clear them first.
	if err := ix.purgeGeneration(ctx, source, docHash); err != nil {
		return &domain.IndexingError{Op: "clear staged generation", Source: source, Err: err}
	}

	chunks := make([]domain.Chunk, 0, len(spans))
	docs := make([]domain.EmbeddingDocument, 0, len(spans))
	for _, span := range spans {
		if err := ctx.Err(); err != nil {
			return &domain.IndexingError{Op: "generate index notes", Source: source, Err: err}
		}

		note, err := ix.summarizer.Summarize(ctx, span.Content)
		if err != nil || strings.TrimSpace(note) == "" {
			slog.Warn("Index note failed, continuing",
				"source", source,
				"page_start", span.PageStart,
				"page_end", span.PageEnd,
				"error", err)
			note = ""
			result.NoteFailures++
			ix.metrics.NoteFailures.Inc()
		}

		chunk := domain.Chunk{
			ChunkID:   ix.newID(),
			Source:    source,
			DocHash:   docHash,
			PageStart: span.PageStart,
			PageEnd:   span.PageEnd,
			Content:   span.Content,
		}
		chunks = append(chunks, chunk)
		docs = append(docs, domain.EmbeddingDocument{
			Text: BuildEmbeddingText(note, chunk.Content, ix.maxChunkChars),
			Metadata: domain.EmbeddingMetadata{
				Source:    source,
				DocHash:   docHash,
				ChunkID:   chunk.ChunkID,
				PageStart: chunk.PageStart,
				PageEnd:   chunk.PageEnd,
			},
		})
	}

	if _, err := ix.keyword.Put(ctx, chunks); err != nil {
		ix.rollback(ctx, source, docHash)
		return &domain.IndexingError{Op: "write chunks", Source: source, Err: err}
	}
	if err := ix.vectors.Add(ctx, docs); err != nil {
		ix.rollback(ctx, source, docHash)
		return &domain.IndexingError{Op: "write vectors", Source: source, Err: err}
	}

	previous, existed := ix.manifest.SetState(source, SourceState{
		DocHash:    docHash,
		ChunkCount: len(chunks),
		Embedder:   ix.embedderID,
		IndexedAt:  ix.now().UTC(),
	})
	if err := ix.manifest.Save(ix.manifestPath); err != nil {
		ix.manifest.RestoreState(source, previous, existed)
		ix.rollback(ctx, source, docHash)
		return &domain.IndexingError{Op: "activate generation", Source: source, Err: err}
	}
	result.Chunks = len(chunks)
	ix.metrics.ChunksWritten.Add(float64(len(chunks)))

	// The new generation is live; stale rows are invisible to readers, so a
	// failed purge only costs disk space until the next run.
	cleanupCtx := context.WithoutCancel(ctx)
	if n, err := ix.keyword.DeleteOtherGenerations(cleanupCtx, source, docHash); err != nil {
		slog.Warn("Failed to purge old chunks", "source", source, "error", err)
	} else if n > 0 {
		slog.Info("Purged old chunks", "source", source, "count", n)
	}
	if _, err := ix.vectors.DeleteOtherGenerations(cleanupCtx, source, docHash); err != nil {
		slog.Warn("Failed to purge old vectors", "source", source, "error", err)
	}
	return nil
}

func (ix *Indexer) purgeGeneration(ctx context.Context, source, docHash string) error {
	if _, err := ix.keyword.DeleteGeneration(ctx, keyword.Scope{Source: source, DocHash: docHash}); err != nil {
		return err
	}
	if _, err := ix.vectors.DeleteGeneration(ctx, vector.Scope{Source: source, DocHash: docHash}); err != nil {
		return err
	}
	return nil
}

// rollback removes a staged generation after a failed run.
func (ix *Indexer) rollback(ctx context.Context, source, docHash string) {
	if err := ix.purgeGeneration(context.WithoutCancel(ctx), source, docHash); err != nil {
		slog.Error("Failed to remove staged generation", "source", source, "doc_hash", docHash, "error", err)
	}
}

func (ix *Indexer) recordFailure(source string, err error) {
	slog.Error("Handbook indexing failed", "source", source, "error", err)
	ix.metrics.IndexRuns.WithLabelValues(ix.metrics.SourceLabel(source), OutcomeFailed).Inc()
	ix.manifest.SetError(source, err.Error())
	if saveErr := ix.manifest.Save(ix.manifestPath); saveErr != nil {
		slog.Error("Failed to save manifest", "error", saveErr)
	}
}

// BuildEmbeddingText joins the index note and raw content under section
// headers and cuts the result to maxChars, ending it with TruncatedMarker.
func BuildEmbeddingText(note, content string, maxChars int) string {
	text := noteHeader + "\n" + note + "\n\n" + contentHeader + "\n" + content
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	suffix := "\n" + TruncatedMarker
	cut, _ := llm.Truncate(text, max(0, maxChars-len(suffix)))
	return cut + suffix
}
