package handbook

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/sha1n/mcp-handbook-server/internal/domain"
	"github.com/sha1n/mcp-handbook-server/internal/keyword"
	"github.com/sha1n/mcp-handbook-server/internal/llm"
	"github.com/sha1n/mcp-handbook-server/internal/vector"
)

// extractorFunc adapts a function to PageExtractor.
type extractorFunc func(data []byte) ([]domain.Page, error)

func (f extractorFunc) Extract(data []byte) ([]domain.Page, error) {
	return f(data)
}

// documents maps document bytes to pre-extracted pages; unknown bytes are
// reported as an empty document.
func documents(docs map[string][]domain.Page) PageExtractor {
	return extractorFunc(func(data []byte) ([]domain.Page, error) {
		pages, ok := docs[string(data)]
		if !ok {
			return nil, &domain.ExtractionError{Err: domain.ErrEmptyDocument}
		}
		return pages, nil
	})
}

// numberedPages returns one page per text, numbered from first.
func numberedPages(first int, texts ...string) []domain.Page {
	pages := make([]domain.Page, len(texts))
	for i, text := range texts {
		pages[i] = domain.Page{Number: first + i, Text: text}
	}
	return pages
}

// policyPages generates n pages of distinct filler policy text.
func policyPages(n int) []domain.Page {
	texts := make([]string, n)
	for i := range texts {
		texts[i] = fmt.Sprintf("Section %d covers workplace policy topic number %d. %s",
			i+1, i+1, strings.Repeat("Employees follow the documented procedure. ", 3))
	}
	return numberedPages(1, texts...)
}

// recordingCompleter answers index-note and answer prompts and records calls.
type recordingCompleter struct {
	mu          sync.Mutex
	noteCalls   int
	answerCalls []string
	note        func(text string) (string, error)
	answer      func(userPrompt string) (string, error)
}

var _ llm.Completer = (*recordingCompleter)(nil)

func (c *recordingCompleter) Complete(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if systemPrompt == llm.IndexNotePrompt {
		c.noteCalls++
		if c.note != nil {
			return c.note(userPrompt)
		}
		return "Title: Handbook excerpt\nKeywords: policy", nil
	}

	c.answerCalls = append(c.answerCalls, userPrompt)
	if c.answer != nil {
		return c.answer(userPrompt)
	}
	return "answer", nil
}

func (c *recordingCompleter) answers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.answerCalls...)
}

func (c *recordingCompleter) notes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.noteCalls
}

// summarizerFunc adapts a function to llm.Summarizer.
type summarizerFunc func(ctx context.Context, text string) (string, error)

func (f summarizerFunc) Summarize(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// recordingKeyword wraps a real keyword store and counts writes.
type recordingKeyword struct {
	*keyword.Store
	puts    int
	deletes int
	putErr  error
}

func (r *recordingKeyword) Put(ctx context.Context, chunks []domain.Chunk) (int, error) {
	r.puts++
	if r.putErr != nil {
		return 0, r.putErr
	}
	return r.Store.Put(ctx, chunks)
}

func (r *recordingKeyword) DeleteGeneration(ctx context.Context, scope keyword.Scope) (int, error) {
	r.deletes++
	return r.Store.DeleteGeneration(ctx, scope)
}

func (r *recordingKeyword) DeleteOtherGenerations(ctx context.Context, source, keepHash string) (int, error) {
	r.deletes++
	return r.Store.DeleteOtherGenerations(ctx, source, keepHash)
}

// recordingVectors wraps a real vector store and counts writes.
type recordingVectors struct {
	*vector.Store
	adds    int
	deletes int
	addErr  error
}

func (r *recordingVectors) Add(ctx context.Context, docs []domain.EmbeddingDocument) error {
	r.adds++
	if r.addErr != nil {
		return r.addErr
	}
	return r.Store.Add(ctx, docs)
}

func (r *recordingVectors) DeleteGeneration(ctx context.Context, scope vector.Scope) (int, error) {
	r.deletes++
	return r.Store.DeleteGeneration(ctx, scope)
}

func (r *recordingVectors) DeleteOtherGenerations(ctx context.Context, source, keepHash string) (int, error) {
	r.deletes++
	return r.Store.DeleteOtherGenerations(ctx, source, keepHash)
}

func (r *recordingKeyword) resetCounters() { r.puts, r.deletes = 0, 0 }
func (r *recordingVectors) resetCounters() { r.adds, r.deletes = 0, 0 }

// openStores opens real keyword and vector stores in a temp directory.
func openStores(t *testing.T) (*recordingKeyword, *recordingVectors) {
	t.Helper()
	dir := t.TempDir()

	kw, err := keyword.Open(dir + "/indexes")
	if err != nil {
		t.Fatalf("keyword.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = kw.Close() })

	vec, err := vector.Open(dir+"/vectors", vector.NewHashEmbedder(0))
	if err != nil {
		t.Fatalf("vector.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = vec.Close() })

	return &recordingKeyword{Store: kw}, &recordingVectors{Store: vec}
}

// fakeKeyword is an in-memory KeywordIndex returning canned hits.
type fakeKeyword struct {
	hits      []keyword.Hit
	rows      map[string]domain.Chunk
	searchErr error
	searches  int
	fetches   int
	lastScope keyword.Scope
}

func (f *fakeKeyword) Put(_ context.Context, chunks []domain.Chunk) (int, error) {
	return len(chunks), nil
}

func (f *fakeKeyword) Search(_ context.Context, _ string, topK int, scope keyword.Scope) ([]keyword.Hit, error) {
	f.searches++
	f.lastScope = scope
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.hits) > topK {
		return f.hits[:topK], nil
	}
	return f.hits, nil
}

func (f *fakeKeyword) Fetch(_ context.Context, ids []string) (map[string]domain.Chunk, error) {
	f.fetches++
	out := make(map[string]domain.Chunk)
	for _, id := range ids {
		if row, ok := f.rows[id]; ok {
			out[id] = row
		}
	}
	return out, nil
}

func (f *fakeKeyword) Count(context.Context, keyword.Scope) (uint64, error) {
	return uint64(len(f.rows)), nil
}

func (f *fakeKeyword) DeleteGeneration(context.Context, keyword.Scope) (int, error) {
	return 0, nil
}

func (f *fakeKeyword) DeleteOtherGenerations(context.Context, string, string) (int, error) {
	return 0, nil
}

// fakeVectors is an in-memory VectorIndex returning canned hits.
type fakeVectors struct {
	hits      []vector.Hit
	searchErr error
	searches  int
	lastScope vector.Scope
}

func (f *fakeVectors) Add(context.Context, []domain.EmbeddingDocument) error {
	return nil
}

func (f *fakeVectors) Search(_ context.Context, _ string, topK int, scope vector.Scope, _ float64) ([]vector.Hit, error) {
	f.searches++
	f.lastScope = scope
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.hits) > topK {
		return f.hits[:topK], nil
	}
	return f.hits, nil
}

func (f *fakeVectors) DeleteGeneration(context.Context, vector.Scope) (int, error) {
	return 0, nil
}

func (f *fakeVectors) DeleteOtherGenerations(context.Context, string, string) (int, error) {
	return 0, nil
}

// staticGenerations maps source tags to active hashes.
type staticGenerations map[string]string

func (g staticGenerations) ActiveHash(source string) (string, bool) {
	h, ok := g[source]
	return h, ok
}

// chunkRows builds fetchable rows for the given IDs and contents.
func chunkRows(contents map[string]string) map[string]domain.Chunk {
	rows := make(map[string]domain.Chunk, len(contents))
	for id, content := range contents {
		rows[id] = domain.Chunk{ChunkID: id, Source: "handbook", DocHash: "h1", PageStart: 1, PageEnd: 2, Content: content}
	}
	return rows
}

func vectorHits(ids ...string) []vector.Hit {
	hits := make([]vector.Hit, len(ids))
	for i, id := range ids {
		hits[i] = vector.Hit{ID: id, Similarity: 0.9 - float64(i)*0.05}
	}
	return hits
}
