package reasonbank

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the bundled MemoryStore backed by a local SQLite file.
// Vectors are stored as little-endian float32 blobs and similarity is
// computed in Go; at the scale of a personal reasoning bank (hundreds to a
// few thousand records) a linear scan beats the operational cost of a
// dedicated vector database.
//
// Implements MemoryStore and GenealogyStore.
type SQLiteStore struct {
	db       *sql.DB
	embedder Embedder
}

// NewSQLiteStore opens (or creates) the database at path and runs
// migrations. embedder may be nil; records are then stored without vectors
// and queries surface no similarity signal.
func NewSQLiteStore(path string, embedder Embedder) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("reasonbank: mkdir %s: %w", filepath.Dir(path), err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("reasonbank: open db: %w", err)
	}

	// Single connection avoids write contention for our scale
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, embedder: embedder}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("reasonbank: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	// Version tracking
	s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)

	var version int
	s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)

	if version < 1 {
		if _, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS memories (
				id               TEXT PRIMARY KEY,
				title            TEXT    NOT NULL,
				description      TEXT    NOT NULL DEFAULT '',
				content          TEXT    NOT NULL,
				error_context    TEXT,
				parent_id        TEXT    NOT NULL DEFAULT '',
				derived_from     TEXT    NOT NULL DEFAULT '[]',
				evolution_stage  INTEGER NOT NULL DEFAULT 0,
				pattern_tags     TEXT    NOT NULL DEFAULT '[]',
				difficulty_level TEXT    NOT NULL DEFAULT '',
				domain_category  TEXT    NOT NULL DEFAULT '',
				created_at       TEXT    NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_memories_domain  ON memories(domain_category);
			CREATE INDEX IF NOT EXISTS idx_memories_parent  ON memories(parent_id);
			CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);

			CREATE TABLE IF NOT EXISTS vectors (
				memory_id       TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
				vector          BLOB NOT NULL,
				embedding_model TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS idx_vectors_memory_id ON vectors(memory_id);

			PRAGMA foreign_keys = ON;
		`); err != nil {
			return err
		}
		s.db.Exec(`INSERT INTO schema_version (version) VALUES (1)`)
	}

	return nil
}

// --- Vector encoding ---

// EncodeVector converts a float32 slice to a little-endian byte blob.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector converts a little-endian byte blob back to a float32 slice.
func DecodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// --- MemoryStore ---

// Add stores a record. A missing ID is assigned a fresh UUID and a zero
// CreatedAt becomes the current time, so callers can hand in sparse records.
func (s *SQLiteStore) Add(ctx context.Context, rec MemoryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var errCtx any
	if rec.ErrorContext != nil {
		data, err := json.Marshal(rec.ErrorContext)
		if err != nil {
			return fmt.Errorf("reasonbank: marshal error context: %w", err)
		}
		errCtx = string(data)
	}
	derived, _ := json.Marshal(orEmpty(rec.DerivedFrom))
	tags, _ := json.Marshal(orEmpty(rec.PatternTags))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, title, description, content, error_context,
			parent_id, derived_from, evolution_stage, pattern_tags,
			difficulty_level, domain_category, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Title, rec.Description, rec.Content, errCtx,
		rec.ParentID, string(derived), rec.EvolutionStage, string(tags),
		rec.DifficultyLevel, rec.DomainCategory,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("reasonbank: insert memory: %w", err)
	}

	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, embeddingText(rec))
		if err != nil {
			// The record is already stored; it just ranks on defaults.
			return nil
		}
		s.db.ExecContext(ctx,
			`INSERT INTO vectors (memory_id, vector) VALUES (?, ?)`,
			rec.ID, EncodeVector(vec))
	}
	return nil
}

// Delete removes a record and its vector.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	// Cascade does not fire without foreign_keys on every connection, so
	// delete both rows explicitly.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vectors WHERE memory_id = ?`, id); err != nil {
		return fmt.Errorf("reasonbank: delete vectors: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("reasonbank: delete memory: %w", err)
	}
	return nil
}

// QuerySimilar returns up to limit records matching the filters. With an
// embedder configured, records are ordered by cosine similarity to the
// query; without one they come back newest first with no similarity signal.
func (s *SQLiteStore) QuerySimilar(ctx context.Context, query string, limit int, f Filters) ([]ScoredRecord, error) {
	where := `1=1`
	var args []any
	if f.Domain != "" {
		where += ` AND m.domain_category = ?`
		args = append(args, f.Domain)
	}
	if f.ExcludeErrors {
		where += ` AND m.error_context IS NULL`
	}
	if f.ErrorsOnly {
		where += ` AND m.error_context IS NOT NULL`
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryCols+`, v.vector
		FROM memories m
		LEFT JOIN vectors v ON v.memory_id = m.id
		WHERE `+where+`
		ORDER BY m.created_at DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("reasonbank: query memories: %w", err)
	}
	defer rows.Close()

	var queryVec []float32
	if s.embedder != nil {
		queryVec, err = s.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("reasonbank: embed query: %w", err)
		}
	}

	var results []ScoredRecord
	for rows.Next() {
		rec, vec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		sr := ScoredRecord{Record: rec}
		if queryVec != nil && vec != nil {
			sr.Similarity = clamp01(CosineSimilarity(queryVec, vec))
			sr.HasSimilarity = true
		}
		results = append(results, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reasonbank: scan memories: %w", err)
	}

	if queryVec != nil {
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Similarity > results[j].Similarity
		})
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// --- GenealogyStore ---

// GetRecord loads one record by ID.
func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryCols+`, NULL
		FROM memories m WHERE m.id = ?`, id)
	if err != nil {
		return MemoryRecord{}, fmt.Errorf("reasonbank: get memory: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return MemoryRecord{}, fmt.Errorf("reasonbank: memory %s not found", id)
	}
	rec, _, err := scanRecord(rows)
	return rec, err
}

// ListDescendants returns records that name id as their parent or list it
// in derivedFrom, oldest first.
func (s *SQLiteStore) ListDescendants(ctx context.Context, id string) ([]MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryCols+`, NULL
		FROM memories m
		WHERE m.parent_id = ? OR m.derived_from LIKE '%"' || ? || '"%'
		ORDER BY m.created_at ASC`,
		id, id)
	if err != nil {
		return nil, fmt.Errorf("reasonbank: list descendants: %w", err)
	}
	defer rows.Close()

	var results []MemoryRecord
	for rows.Next() {
		rec, _, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// --- Statistics ---

// StoreStats summarizes what the store holds.
type StoreStats struct {
	TotalRecords int            `json:"total_records"`
	ErrorRecords int            `json:"error_records"`
	ByDomain     map[string]int `json:"by_domain"`
}

// Stats counts stored records overall, with error context, and per domain.
func (s *SQLiteStore) Stats(ctx context.Context) (StoreStats, error) {
	st := StoreStats{ByDomain: make(map[string]int)}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(error_context) FROM memories`).
		Scan(&st.TotalRecords, &st.ErrorRecords)
	if err != nil {
		return st, fmt.Errorf("reasonbank: count memories: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT domain_category, COUNT(*) FROM memories
		WHERE domain_category != '' GROUP BY domain_category`)
	if err != nil {
		return st, fmt.Errorf("reasonbank: count domains: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var domain string
		var count int
		if err := rows.Scan(&domain, &count); err != nil {
			return st, err
		}
		st.ByDomain[domain] = count
	}
	return st, rows.Err()
}

// Close shuts down the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Row scanning ---

const memoryCols = `m.id, m.title, m.description, m.content, m.error_context,
	m.parent_id, m.derived_from, m.evolution_stage, m.pattern_tags,
	m.difficulty_level, m.domain_category, m.created_at`

func scanRecord(rows *sql.Rows) (MemoryRecord, []float32, error) {
	var rec MemoryRecord
	var errCtx sql.NullString
	var derived, tags, created string
	var vecBlob []byte

	if err := rows.Scan(
		&rec.ID, &rec.Title, &rec.Description, &rec.Content, &errCtx,
		&rec.ParentID, &derived, &rec.EvolutionStage, &tags,
		&rec.DifficultyLevel, &rec.DomainCategory, &created,
		&vecBlob,
	); err != nil {
		return rec, nil, fmt.Errorf("reasonbank: scan memory: %w", err)
	}

	if errCtx.Valid && errCtx.String != "" {
		var ec ErrorContext
		if json.Unmarshal([]byte(errCtx.String), &ec) == nil {
			rec.ErrorContext = &ec
		}
	}
	json.Unmarshal([]byte(derived), &rec.DerivedFrom)
	json.Unmarshal([]byte(tags), &rec.PatternTags)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)

	var vec []float32
	if vecBlob != nil {
		vec = DecodeVector(vecBlob)
	}
	return rec, vec, nil
}

// embeddingText is what gets vectorized for a record: title and description
// carry the retrievable essence, content the detail.
func embeddingText(rec MemoryRecord) string {
	return rec.Title + "\n" + rec.Description + "\n" + rec.Content
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
