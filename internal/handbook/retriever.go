package handbook

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/sha1n/mcp-handbook-server/internal/domain"
	"github.com/sha1n/mcp-handbook-server/internal/keyword"
	"github.com/sha1n/mcp-handbook-server/internal/vector"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultVectorTopK         = 8
	DefaultKeywordTopK        = 8
	DefaultFinalContextChunks = 4
)

// KeywordIndex is the raw chunk store used for full-text search and fetches.
type KeywordIndex interface {
	Put(ctx context.Context, chunks []domain.Chunk) (int, error)
	Search(ctx context.Context, text string, topK int, scope keyword.Scope) ([]keyword.Hit, error)
	Fetch(ctx context.Context, ids []string) (map[string]domain.Chunk, error)
	Count(ctx context.Context, scope keyword.Scope) (uint64, error)
	DeleteGeneration(ctx context.Context, scope keyword.Scope) (int, error)
	DeleteOtherGenerations(ctx context.Context, source, keepHash string) (int, error)
}

// VectorIndex is the embedding document store used for similarity search.
type VectorIndex interface {
	Add(ctx context.Context, docs []domain.EmbeddingDocument) error
	Search(ctx context.Context, query string, topK int, scope vector.Scope, minSimilarity float64) ([]vector.Hit, error)
	DeleteGeneration(ctx context.Context, scope vector.Scope) (int, error)
	DeleteOtherGenerations(ctx context.Context, source, keepHash string) (int, error)
}

// Generations resolves the active document hash of a source tag.
type Generations interface {
	ActiveHash(source string) (string, bool)
}

// RetrieverOptions configures result sizes and scoring.
type RetrieverOptions struct {
	VectorTopK         int
	KeywordTopK        int
	FinalContextChunks int

	// MinSimilarity drops vector hits at or below this cosine similarity.
	MinSimilarity float64

	Weights Weights
}

// DefaultRetrieverOptions returns the standard retrieval options.
func DefaultRetrieverOptions() RetrieverOptions {
	return RetrieverOptions{
		VectorTopK:         DefaultVectorTopK,
		KeywordTopK:        DefaultKeywordTopK,
		FinalContextChunks: DefaultFinalContextChunks,
		Weights:            DefaultWeights(),
	}
}

// Retriever runs hybrid vector + keyword retrieval over the active generation
// of a source tag. It only reads and is safe for concurrent use.
type Retriever struct {
	keyword     KeywordIndex
	vectors     VectorIndex
	generations Generations
	opts        RetrieverOptions
}

// NewRetriever creates a retriever. Non-positive sizes fall back to defaults.
func NewRetriever(keywordIndex KeywordIndex, vectors VectorIndex, generations Generations, opts RetrieverOptions) *Retriever {
	if opts.VectorTopK <= 0 {
		opts.VectorTopK = DefaultVectorTopK
	}
	if opts.KeywordTopK <= 0 {
		opts.KeywordTopK = DefaultKeywordTopK
	}
	if opts.FinalContextChunks <= 0 {
		opts.FinalContextChunks = DefaultFinalContextChunks
	}
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}
	return &Retriever{
		keyword:     keywordIndex,
		vectors:     vectors,
		generations: generations,
		opts:        opts,
	}
}

// Retrieve returns up to FinalContextChunks chunks for the query, best first.
// A blank query or a source with no active generation yields no chunks.
func (r *Retriever) Retrieve(ctx context.Context, source, query string) ([]domain.ScoredChunk, error) {
	vectorHits, keywordHits, err := r.search(ctx, source, query)
	if err != nil {
		return nil, err
	}

	candidates, order := mergeCandidates(vectorHits, keywordHits, r.opts.Weights)
	if len(order) == 0 {
		return nil, nil
	}

	rows, err := r.keyword.Fetch(ctx, order)
	if err != nil {
		return nil, err
	}

	literals := literalTokens(query)
	scored := make([]domain.ScoredChunk, 0, len(order))
	for _, id := range order {
		chunk, ok := rows[id]
		if !ok {
			continue
		}
		scored = append(scored, domain.ScoredChunk{
			ChunkID:    id,
			FinalScore: r.opts.Weights.fuse(candidates[id], chunk.Content, literals),
			Chunk:      chunk,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].FinalScore > scored[j].FinalScore })
	if len(scored) > r.opts.FinalContextChunks {
		scored = scored[:r.opts.FinalContextChunks]
	}

	slog.Debug("Hybrid retrieval",
		"source", source,
		"vector_hits", len(vectorHits),
		"keyword_hits", len(keywordHits),
		"candidates", len(order),
		"selected", len(scored))
	return scored, nil
}

// HasMatches reports whether either search returns anything for the query.
// It never fetches or scores chunks.
func (r *Retriever) HasMatches(ctx context.Context, source, query string) (bool, error) {
	vectorHits, keywordHits, err := r.search(ctx, source, query)
	if err != nil {
		return false, err
	}
	return len(vectorHits) > 0 || len(keywordHits) > 0, nil
}

// search runs the vector and keyword searches concurrently, both scoped to
// the active generation of source.
func (r *Retriever) search(ctx context.Context, source, query string) ([]vector.Hit, []keyword.Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil, nil
	}
	docHash, ok := r.generations.ActiveHash(source)
	if !ok {
		return nil, nil, nil
	}

	var vectorHits []vector.Hit
	var keywordHits []keyword.Hit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := r.vectors.Search(gctx, query, r.opts.VectorTopK,
			vector.Scope{Source: source, DocHash: docHash}, r.opts.MinSimilarity)
		vectorHits = hits
		return err
	})
	g.Go(func() error {
		hits, err := r.keyword.Search(gctx, query, r.opts.KeywordTopK,
			keyword.Scope{Source: source, DocHash: docHash})
		keywordHits = hits
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return vectorHits, keywordHits, nil
}

// mergeCandidates unions both hit lists. The returned order lists vector hits
// by rank, then keyword-only hits by rank.
func mergeCandidates(vectorHits []vector.Hit, keywordHits []keyword.Hit, w Weights) (map[string]domain.Candidate, []string) {
	candidates := make(map[string]domain.Candidate, len(vectorHits)+len(keywordHits))
	var order []string

	for rank, hit := range vectorHits {
		if _, seen := candidates[hit.ID]; seen {
			continue
		}
		candidates[hit.ID] = domain.Candidate{ChunkID: hit.ID, VectorScore: w.rankScore(rank)}
		order = append(order, hit.ID)
	}

	for rank, hit := range keywordHits {
		c, seen := candidates[hit.ChunkID]
		if !seen {
			c = domain.Candidate{ChunkID: hit.ChunkID}
			order = append(order, hit.ChunkID)
		} else if c.KeywordScore > 0 {
			continue
		}
		c.KeywordScore = hit.Rank + w.rankScore(rank)
		candidates[hit.ChunkID] = c
	}

	return candidates, order
}
