package domain

// Page is one page of extracted handbook text.
type Page struct {
	// Number is the 1-based page number in the source document.
	Number int

	// Text is the normalized page text, with table-like regions fenced.
	Text string
}

// Chunk is a contiguous, page-bounded slice of a source document.
// It is the document stored in the keyword (Bleve) index.
type Chunk struct {
	// ChunkID is a freshly generated UUID, shared with the matching vector entry.
	ChunkID string `json:"chunk_id"`

	// Source is the logical corpus tag, e.g. "handbook".
	Source string `json:"source"`

	// DocHash is the hex SHA-256 of the source document bytes.
	DocHash string `json:"doc_hash"`

	PageStart int `json:"page_start"`
	PageEnd   int `json:"page_end"`

	// Content is the raw chunk text including page delimiter markers.
	Content string `json:"content"`
}

// EmbeddingMetadata links a vector entry back to its raw chunk.
type EmbeddingMetadata struct {
	Source    string `json:"source"`
	DocHash   string `json:"doc_hash"`
	ChunkID   string `json:"chunk_id"`
	PageStart int    `json:"page_start"`
	PageEnd   int    `json:"page_end"`
}

// EmbeddingDocument is the text embedded into the vector store for a chunk:
// the index note followed by the (capped) raw content.
type EmbeddingDocument struct {
	Text     string
	Metadata EmbeddingMetadata
}

// Candidate is a retrieval-time merge of vector and keyword scores for one chunk.
type Candidate struct {
	ChunkID      string
	VectorScore  float64
	KeywordScore float64
}

// ScoredChunk is a reranked chunk ready to be placed in the answer context.
type ScoredChunk struct {
	ChunkID    string
	FinalScore float64
	Chunk      Chunk
}

// Bleve field name constants for consistent field references in queries and mappings.
const (
	ChunkFieldID        = "chunk_id"
	ChunkFieldSource    = "source"
	ChunkFieldDocHash   = "doc_hash"
	ChunkFieldPageStart = "page_start"
	ChunkFieldPageEnd   = "page_end"
	ChunkFieldContent   = "content"
)
