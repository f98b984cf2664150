// Package keyword stores raw handbook chunks in a Bleve full-text index.
package keyword

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/sha1n/mcp-handbook-server/internal/domain"
	bolterrors "go.etcd.io/bbolt/errors"
)

const (
	// IndexDirName is the directory name of the chunk index under the indexes dir.
	IndexDirName = "chunks.bleve"

	// MaxBatchSize is the maximum number of documents per batch
	MaxBatchSize = 100

	// MaxBatchBytes is the maximum bytes per batch (10MB)
	MaxBatchBytes = 10 * 1024 * 1024

	// scanPageSize is the page size used when collecting document IDs for deletion.
	scanPageSize = 1000

	// DefaultOpenTimeout bounds the wait for the index file lock on open.
	DefaultOpenTimeout = 5 * time.Second
)

// ErrIndexLocked is returned when the index is held open elsewhere.
var ErrIndexLocked = errors.New("keyword index is locked by another process")

// Scope restricts keyword operations to one generation of one source.
// An empty DocHash matches every generation of the source.
type Scope struct {
	Source  string
	DocHash string
}

// Hit is a keyword search result with the engine's native relevance score.
type Hit struct {
	ChunkID string
	Rank    float64
}

// Store is the keyword-searchable raw chunk store.
type Store struct {
	index bleve.Index
	path  string
}

// CreateIndexMapping creates the Bleve index mapping for chunk documents.
func CreateIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	// Content field - analyzed for full-text search
	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = standard.Name
	contentField.Store = true
	contentField.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt(domain.ChunkFieldContent, contentField)

	// Source and hash - keyword (not analyzed), used as scope filters
	sourceField := bleve.NewTextFieldMapping()
	sourceField.Analyzer = keyword.Name
	sourceField.Store = true
	docMapping.AddFieldMappingsAt(domain.ChunkFieldSource, sourceField)

	hashField := bleve.NewTextFieldMapping()
	hashField.Analyzer = keyword.Name
	hashField.Store = true
	docMapping.AddFieldMappingsAt(domain.ChunkFieldDocHash, hashField)

	// Page range - numeric, stored for citations
	pageStartField := bleve.NewNumericFieldMapping()
	pageStartField.Store = true
	docMapping.AddFieldMappingsAt(domain.ChunkFieldPageStart, pageStartField)

	pageEndField := bleve.NewNumericFieldMapping()
	pageEndField.Store = true
	docMapping.AddFieldMappingsAt(domain.ChunkFieldPageEnd, pageEndField)

	// ID - stored but not indexed (we use the document ID)
	idField := bleve.NewTextFieldMapping()
	idField.Index = false
	idField.Store = true
	docMapping.AddFieldMappingsAt(domain.ChunkFieldID, idField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name

	return indexMapping
}

// Open opens the chunk index under dir, creating it if it does not exist.
func Open(dir string) (*Store, error) {
	return OpenWithTimeout(dir, DefaultOpenTimeout)
}

// OpenWithTimeout is Open with an explicit bound on the index file lock wait.
// A base directory belongs to one process at a time: when another process
// holds the index, the open fails with ErrIndexLocked after timeout.
func OpenWithTimeout(dir string, timeout time.Duration) (*Store, error) {
	if timeout <= 0 {
		timeout = DefaultOpenTimeout
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create indexes directory: %w", err)
	}
	indexPath := filepath.Join(dir, IndexDirName)

	index, err := bleve.OpenUsing(indexPath, map[string]interface{}{
		"bolt_timeout": timeout.String(),
	})
	switch {
	case err == nil:
	case errors.Is(err, bleve.ErrorIndexPathDoesNotExist):
		index, err = bleve.New(indexPath, CreateIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
	case errors.Is(err, bolterrors.ErrTimeout):
		return nil, fmt.Errorf("%w: %s", ErrIndexLocked, indexPath)
	default:
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	return &Store{index: index, path: indexPath}, nil
}

// Path returns the on-disk location of the index.
func (s *Store) Path() string {
	return s.path
}

// Close releases the index.
func (s *Store) Close() error {
	return s.index.Close()
}

// Put indexes chunks in size- and byte-bounded batches.
// Returns the number of chunks written.
func (s *Store) Put(ctx context.Context, chunks []domain.Chunk) (int, error) {
	batch := s.index.NewBatch()
	batchSize := 0
	batchBytes := 0
	total := 0

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		if err := batch.Index(chunk.ChunkID, chunk); err != nil {
			return total, fmt.Errorf("failed to add chunk %s to batch: %w", chunk.ChunkID, err)
		}
		batchSize++
		batchBytes += len(chunk.Content)

		if batchSize >= MaxBatchSize || batchBytes >= MaxBatchBytes {
			if err := s.index.Batch(batch); err != nil {
				return total, fmt.Errorf("batch index failed: %w", err)
			}
			total += batchSize
			batch = s.index.NewBatch()
			batchSize = 0
			batchBytes = 0
		}
	}

	if batchSize > 0 {
		if err := s.index.Batch(batch); err != nil {
			return total, fmt.Errorf("final batch index failed: %w", err)
		}
		total += batchSize
	}

	return total, nil
}

// Search runs a full-text match over chunk content within scope and returns
// up to topK hits ordered by relevance.
func (s *Store) Search(ctx context.Context, text string, topK int, scope Scope) ([]Hit, error) {
	if text == "" || topK <= 0 {
		return nil, nil
	}

	contentQuery := bleve.NewMatchQuery(text)
	contentQuery.SetField(domain.ChunkFieldContent)

	must := append([]query.Query{contentQuery}, scopeQueries(scope)...)
	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(must...), topK, 0, false)

	results, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	hits := make([]Hit, 0, len(results.Hits))
	for _, hit := range results.Hits {
		hits = append(hits, Hit{ChunkID: hit.ID, Rank: hit.Score})
	}
	return hits, nil
}

// Fetch loads the chunks with the given IDs in a single request.
// IDs that are not in the index are absent from the result.
func (s *Store) Fetch(ctx context.Context, ids []string) (map[string]domain.Chunk, error) {
	if len(ids) == 0 {
		return map[string]domain.Chunk{}, nil
	}

	req := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery(ids), len(ids), 0, false)
	req.Fields = []string{
		domain.ChunkFieldSource,
		domain.ChunkFieldDocHash,
		domain.ChunkFieldPageStart,
		domain.ChunkFieldPageEnd,
		domain.ChunkFieldContent,
	}

	results, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chunk fetch failed: %w", err)
	}

	chunks := make(map[string]domain.Chunk, len(results.Hits))
	for _, hit := range results.Hits {
		chunk := domain.Chunk{ChunkID: hit.ID}
		if val, ok := hit.Fields[domain.ChunkFieldSource].(string); ok {
			chunk.Source = val
		}
		if val, ok := hit.Fields[domain.ChunkFieldDocHash].(string); ok {
			chunk.DocHash = val
		}
		if val, ok := hit.Fields[domain.ChunkFieldPageStart].(float64); ok {
			chunk.PageStart = int(val)
		}
		if val, ok := hit.Fields[domain.ChunkFieldPageEnd].(float64); ok {
			chunk.PageEnd = int(val)
		}
		if val, ok := hit.Fields[domain.ChunkFieldContent].(string); ok {
			chunk.Content = val
		}
		chunks[hit.ID] = chunk
	}
	return chunks, nil
}

// Count returns the number of chunks in scope.
func (s *Store) Count(ctx context.Context, scope Scope) (uint64, error) {
	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(scopeQueries(scope)...), 0, 0, false)
	results, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("chunk count failed: %w", err)
	}
	return results.Total, nil
}

// DeleteGeneration removes every chunk in scope.
func (s *Store) DeleteGeneration(ctx context.Context, scope Scope) (int, error) {
	return s.deleteMatching(ctx, bleve.NewConjunctionQuery(scopeQueries(scope)...))
}

// DeleteOtherGenerations removes every chunk of source whose hash is not keepHash.
func (s *Store) DeleteOtherGenerations(ctx context.Context, source, keepHash string) (int, error) {
	q := bleve.NewBooleanQuery()
	q.AddMust(scopeQueries(Scope{Source: source})...)
	keep := bleve.NewTermQuery(keepHash)
	keep.SetField(domain.ChunkFieldDocHash)
	q.AddMustNot(keep)
	return s.deleteMatching(ctx, q)
}

// deleteMatching collects all matching IDs first, then deletes them in batches.
func (s *Store) deleteMatching(ctx context.Context, q query.Query) (int, error) {
	var ids []string
	for from := 0; ; from += scanPageSize {
		req := bleve.NewSearchRequestOptions(q, scanPageSize, from, false)
		req.SortBy([]string{"_id"})
		results, err := s.index.SearchInContext(ctx, req)
		if err != nil {
			return 0, fmt.Errorf("failed to scan chunks for deletion: %w", err)
		}
		for _, hit := range results.Hits {
			ids = append(ids, hit.ID)
		}
		if len(results.Hits) < scanPageSize {
			break
		}
	}

	deleted := 0
	for start := 0; start < len(ids); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(ids))
		batch := s.index.NewBatch()
		for _, id := range ids[start:end] {
			batch.Delete(id)
		}
		if err := s.index.Batch(batch); err != nil {
			return deleted, fmt.Errorf("batch delete failed: %w", err)
		}
		deleted += end - start
	}
	return deleted, nil
}

func scopeQueries(scope Scope) []query.Query {
	sourceQuery := bleve.NewTermQuery(scope.Source)
	sourceQuery.SetField(domain.ChunkFieldSource)
	queries := []query.Query{sourceQuery}

	if scope.DocHash != "" {
		hashQuery := bleve.NewTermQuery(scope.DocHash)
		hashQuery.SetField(domain.ChunkFieldDocHash)
		queries = append(queries, hashQuery)
	}
	return queries
}
