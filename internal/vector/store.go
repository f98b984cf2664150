package vector

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/sha1n/mcp-handbook-server/internal/domain"
	"github.com/sha1n/mcp-handbook-server/internal/vector/migrations"
)

// DBFilename is the name of the vector database file under the store directory.
const DBFilename = "vectors.db"

// Scope restricts vector operations to one generation of one source.
// An empty DocHash matches every generation of the source.
type Scope struct {
	Source  string
	DocHash string
}

// Hit is a similarity search result.
type Hit struct {
	ID         string
	Metadata   domain.EmbeddingMetadata
	Content    string
	Similarity float64
}

// Store persists embedding documents in SQLite and answers similarity
// queries by exact cosine scan over the rows in scope.
type Store struct {
	db       *sql.DB
	path     string
	embedder Embedder
}

// Open opens (or creates) the vector database under dir.
func Open(dir string, embedder Embedder) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating vector directory: %w", err)
	}

	dbPath := filepath.Join(dir, DBFilename)
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, path: dbPath, embedder: embedder}
	if err := s.migrate(migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}

	return nil
}

// Add embeds and stores documents in one transaction. Documents are keyed by
// their chunk ID; re-adding an ID replaces the previous row.
func (s *Store) Add(ctx context.Context, docs []domain.EmbeddingDocument) error {
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(docs))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO vectors (chunk_id, source, doc_hash, page_start, page_end, content, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, doc := range docs {
		m := doc.Metadata
		if _, err := stmt.ExecContext(ctx, m.ChunkID, m.Source, m.DocHash, m.PageStart, m.PageEnd,
			doc.Text, float32SliceToBytes(vectors[i])); err != nil {
			return fmt.Errorf("inserting vector %s: %w", m.ChunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing vectors: %w", err)
	}
	return nil
}

// Search embeds the query and returns the topK most similar documents in
// scope, most similar first. Rows whose similarity is not above minSimilarity
// are excluded.
func (s *Store) Search(ctx context.Context, query string, topK int, scope Scope, minSimilarity float64) ([]Hit, error) {
	if strings.TrimSpace(query) == "" || topK <= 0 {
		return nil, nil
	}

	queryVec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	where, args := scopeClause(scope)
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, source, doc_hash, page_start, page_end, content, embedding
		FROM vectors WHERE `+where+` ORDER BY chunk_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var blob []byte
		if err := rows.Scan(&h.ID, &h.Metadata.Source, &h.Metadata.DocHash, &h.Metadata.PageStart,
			&h.Metadata.PageEnd, &h.Content, &blob); err != nil {
			return nil, fmt.Errorf("scanning vector row: %w", err)
		}
		h.Metadata.ChunkID = h.ID
		h.Similarity = cosine(queryVec, bytesToFloat32Slice(blob))
		if h.Similarity <= minSimilarity {
			continue
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vector rows: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Count returns the number of documents in scope.
func (s *Store) Count(ctx context.Context, scope Scope) (int, error) {
	where, args := scopeClause(scope)
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vectors WHERE "+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting vectors: %w", err)
	}
	return count, nil
}

// DeleteGeneration removes every document in scope.
func (s *Store) DeleteGeneration(ctx context.Context, scope Scope) (int, error) {
	where, args := scopeClause(scope)
	return s.exec(ctx, "DELETE FROM vectors WHERE "+where, args...)
}

// DeleteOtherGenerations removes every document of source whose hash is not keepHash.
func (s *Store) DeleteOtherGenerations(ctx context.Context, source, keepHash string) (int, error) {
	return s.exec(ctx, "DELETE FROM vectors WHERE source = ? AND doc_hash <> ?", source, keepHash)
}

func (s *Store) exec(ctx context.Context, stmt string, args ...any) (int, error) {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting vectors: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return int(n), nil
}

func scopeClause(scope Scope) (string, []any) {
	if scope.DocHash == "" {
		return "source = ?", []any{scope.Source}
	}
	return "source = ? AND doc_hash = ?", []any{scope.Source, scope.DocHash}
}

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
