package handbook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sha1n/mcp-handbook-server/internal/chunker"
	"github.com/sha1n/mcp-handbook-server/internal/config"
	"github.com/sha1n/mcp-handbook-server/internal/domain"
	"github.com/sha1n/mcp-handbook-server/internal/extract"
	"github.com/sha1n/mcp-handbook-server/internal/keyword"
	"github.com/sha1n/mcp-handbook-server/internal/llm"
	"github.com/sha1n/mcp-handbook-server/internal/vector"
)

const (
	// IndexesDirName holds the keyword index under the base directory
	IndexesDirName = "indexes"

	// VectorsDirName holds the vector database under the base directory
	VectorsDirName = "vectors"

	// LocksDirName holds per-source lock files under the base directory
	LocksDirName = "locks"
)

var (
	// ErrServiceClosed is returned by operations on a closed service.
	ErrServiceClosed = errors.New("handbook service is closed")

	// ErrDocumentPathNotAllowed is returned for document paths outside the
	// documents directory.
	ErrDocumentPathNotAllowed = errors.New("document path is outside the handbook documents directory")
)

// Dependencies are the external capabilities the service is built on.
type Dependencies struct {
	Completer llm.Completer
	Embedder  vector.Embedder

	// Extractor defaults to the PDF extractor.
	Extractor PageExtractor

	// Registerer receives the service metrics when set.
	Registerer prometheus.Registerer
}

// Service is the handbook entry point: indexing, match probing and answering.
type Service struct {
	settings  *config.HandbookSettings
	keyword   *keyword.Store
	vectors   *vector.Store
	manifest  *Manifest
	indexer   *Indexer
	retriever *Retriever
	answerer  *Answerer
	metrics   *Metrics
	mu        sync.RWMutex
	closed    bool
}

// NewService opens the stores under the configured base directory and wires
// the indexing and retrieval pipelines.
func NewService(settings *config.HandbookSettings, deps Dependencies) (*Service, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings cannot be nil")
	}
	if settings.BaseDir == "" {
		return nil, fmt.Errorf("base directory cannot be empty")
	}
	if settings.SourceTag == "" {
		return nil, fmt.Errorf("source tag cannot be empty")
	}
	if deps.Completer == nil {
		return nil, fmt.Errorf("completer cannot be nil")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.New()
	}

	if err := os.MkdirAll(settings.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	manifestPath := filepath.Join(settings.BaseDir, ManifestFilename)
	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}

	keywordStore, err := keyword.OpenWithTimeout(filepath.Join(settings.BaseDir, IndexesDirName), settings.OpenTimeout)
	if errors.Is(err, keyword.ErrIndexLocked) {
		return nil, fmt.Errorf("base directory %s is in use by another handbook process: %w", settings.BaseDir, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open keyword index: %w", err)
	}

	vectorStore, err := vector.Open(filepath.Join(settings.BaseDir, VectorsDirName), deps.Embedder)
	if err != nil {
		_ = keywordStore.Close()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	metrics := NewMetrics(deps.Registerer, settings.SourceTag)

	indexer, err := NewIndexer(IndexerConfig{
		Extractor:     deps.Extractor,
		Chunker:       chunker.New(settings.Chunking.TargetChars, settings.Chunking.OverlapPages),
		Summarizer:    llm.NewIndexNoter(deps.Completer, settings.Chunking.SummaryInputChars),
		Keyword:       keywordStore,
		Vectors:       vectorStore,
		EmbedderID:    vector.Identity(deps.Embedder),
		Manifest:      manifest,
		ManifestPath:  manifestPath,
		LockDir:       filepath.Join(settings.BaseDir, LocksDirName),
		LockTimeout:   settings.LockTimeout,
		MaxChunkChars: settings.Chunking.MaxChunkChars,
		Metrics:       metrics,
	})
	if err != nil {
		_ = keywordStore.Close()
		_ = vectorStore.Close()
		return nil, err
	}

	retriever := NewRetriever(keywordStore, vectorStore, manifest, RetrieverOptions{
		VectorTopK:         settings.Retrieval.VectorTopK,
		KeywordTopK:        settings.Retrieval.KeywordTopK,
		FinalContextChunks: settings.Retrieval.FinalContextChunks,
		MinSimilarity:      settings.Retrieval.MinSimilarity,
		Weights:            DefaultWeights(),
	})

	return &Service{
		settings:  settings,
		keyword:   keywordStore,
		vectors:   vectorStore,
		manifest:  manifest,
		indexer:   indexer,
		retriever: retriever,
		answerer:  NewAnswerer(deps.Completer),
		metrics:   metrics,
	}, nil
}

// Initialize indexes the configured document, if any. An unchanged document
// is skipped by the hash gate.
func (s *Service) Initialize(ctx context.Context) error {
	if s.settings.Document == "" {
		slog.Info("No handbook document configured, serving existing index", "source", s.settings.SourceTag)
		return nil
	}
	_, err := s.IndexFile(ctx, s.settings.Document, "")
	return err
}

// IndexFile reads a PDF from disk and indexes it.
func (s *Service) IndexFile(ctx context.Context, path, source string) (IndexResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return IndexResult{}, fmt.Errorf("failed to read document: %w", err)
	}
	return s.Index(ctx, data, source)
}

// ResolveDocumentPath resolves path against the documents directory and
// rejects anything that lands outside it. Relative paths are taken relative
// to the directory. Without a configured directory, the directory of the
// configured document is used; with neither, every path is rejected.
func (s *Service) ResolveDocumentPath(path string) (string, error) {
	root := s.documentsDir()
	if root == "" {
		return "", fmt.Errorf("%w: no documents directory configured", ErrDocumentPathNotAllowed)
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve documents directory: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	} else if dir, err := filepath.EvalSymlinks(filepath.Dir(path)); err == nil {
		path = filepath.Join(dir, filepath.Base(path))
	}

	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrDocumentPathNotAllowed, path)
	}
	return path, nil
}

func (s *Service) documentsDir() string {
	if s.settings.DocumentsDir != "" {
		return s.settings.DocumentsDir
	}
	if s.settings.Document != "" {
		return filepath.Dir(s.settings.Document)
	}
	return ""
}

// Index ingests document bytes under source; an empty source means the
// configured source tag.
func (s *Service) Index(ctx context.Context, data []byte, source string) (IndexResult, error) {
	if err := s.checkOpen(); err != nil {
		return IndexResult{}, err
	}
	defer s.mu.RUnlock()
	return s.indexer.Index(ctx, data, s.source(source))
}

// HasMatches reports whether either search finds anything for query.
func (s *Service) HasMatches(ctx context.Context, source, query string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	defer s.mu.RUnlock()

	found, err := s.retriever.HasMatches(ctx, s.source(source), query)
	switch {
	case err != nil:
		s.metrics.Probes.WithLabelValues(OutcomeError).Inc()
	case found:
		s.metrics.Probes.WithLabelValues("true").Inc()
	default:
		s.metrics.Probes.WithLabelValues("false").Inc()
	}
	return found, err
}

// Retrieve returns the ranked context chunks for query.
func (s *Service) Retrieve(ctx context.Context, source, query string) ([]domain.ScoredChunk, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()
	return s.retrieve(ctx, s.source(source), query)
}

// Answer retrieves context for query and asks the language model. When no
// chunk matches it returns FallbackAnswer; search and model failures are
// returned as errors.
func (s *Service) Answer(ctx context.Context, source, query string) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	defer s.mu.RUnlock()

	chunks, err := s.retrieve(ctx, s.source(source), query)
	if err != nil {
		s.metrics.Queries.WithLabelValues(OutcomeError).Inc()
		return "", err
	}

	answer, err := s.answerer.Answer(ctx, query, chunks)
	switch {
	case err != nil:
		s.metrics.Queries.WithLabelValues(OutcomeError).Inc()
		return "", err
	case len(chunks) == 0:
		s.metrics.Queries.WithLabelValues(OutcomeFallback).Inc()
	default:
		s.metrics.Queries.WithLabelValues(OutcomeAnswered).Inc()
	}
	return answer, nil
}

func (s *Service) retrieve(ctx context.Context, source, query string) ([]domain.ScoredChunk, error) {
	start := time.Now()
	defer func() { s.metrics.RetrievalSeconds.Observe(time.Since(start).Seconds()) }()
	return s.retriever.Retrieve(ctx, source, query)
}

// Status returns the recorded index state of a source.
func (s *Service) Status(source string) (SourceState, bool) {
	return s.manifest.State(s.source(source))
}

// SourceTag returns the configured default source tag.
func (s *Service) SourceTag() string {
	return s.settings.SourceTag
}

// Close releases the stores. It waits for in-flight operations.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.keyword.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close keyword index: %w", err))
	}
	if err := s.vectors.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close vector store: %w", err))
	}
	return errors.Join(errs...)
}

// checkOpen takes the read lock and keeps it when the service is open.
func (s *Service) checkOpen() error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrServiceClosed
	}
	return nil
}

func (s *Service) source(source string) string {
	if source == "" {
		return s.settings.SourceTag
	}
	return source
}
