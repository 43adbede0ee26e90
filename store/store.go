// Package store persists annotated corpora, trained step models and a run
// log in SQLite.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/petnlp/document"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Model is a row of the models table.
type Model struct {
	Name      string `json:"name"`
	State     []byte `json:"-"`
	NumDocs   int    `json:"num_docs"`
	UpdatedAt string `json:"updated_at"`
}

// Corpus summarizes the documents of one corpus.
type Corpus struct {
	Name      string `json:"name"`
	Documents int    `json:"documents"`
}

// RunLog represents a row in the run_log table.
type RunLog struct {
	ID         int64   `json:"id"`
	Kind       string  `json:"kind"`
	Model      string  `json:"model"`
	NumDocs    int     `json:"num_docs"`
	F1         float64 `json:"f1"`
	Details    any     `json:"details,omitempty"`
	DurationMS int64   `json:"duration_ms"`
	CreatedAt  string  `json:"created_at"`
}

// Store wraps the SQLite database for all petnlp persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Corpus operations ---

// AddDocuments appends docs to corpus in order. Documents whose content is
// already in the corpus are skipped. It returns the number added.
func (s *Store) AddDocuments(ctx context.Context, corpus string, docs []*document.Document) (int, error) {
	added := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for i, d := range docs {
			data, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("encoding document %d: %w", i, err)
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO documents (corpus, doc_id, name, category, content_hash, data)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(corpus, content_hash) DO NOTHING
			`, corpus, d.ID, d.Name, d.Category, contentHash(data), string(data))
			if err != nil {
				return fmt.Errorf("inserting document %d: %w", i, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			added += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// ListDocuments returns the first limit documents of corpus in insertion
// order, or all of them when limit <= 0.
func (s *Store) ListDocuments(ctx context.Context, corpus string, limit int) ([]*document.Document, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM documents WHERE corpus = ? ORDER BY id LIMIT ?
	`, corpus, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*document.Document
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		d := &document.Document{}
		if err := json.Unmarshal([]byte(data), d); err != nil {
			return nil, fmt.Errorf("decoding stored document %d: %w", len(docs), err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// GetDocument returns the most recently stored document of corpus with the
// given external id.
func (s *Store) GetDocument(ctx context.Context, corpus, docID string) (*document.Document, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM documents WHERE corpus = ? AND doc_id = ? ORDER BY id DESC LIMIT 1
	`, corpus, docID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %q in corpus %q", ErrNotFound, docID, corpus)
	}
	if err != nil {
		return nil, err
	}
	d := &document.Document{}
	if err := json.Unmarshal([]byte(data), d); err != nil {
		return nil, fmt.Errorf("decoding stored document: %w", err)
	}
	return d, nil
}

// CountDocuments returns the number of documents in corpus.
func (s *Store) CountDocuments(ctx context.Context, corpus string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE corpus = ?", corpus).Scan(&n)
	return n, err
}

// Corpora lists all corpora with their sizes.
func (s *Store) Corpora(ctx context.Context) ([]Corpus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT corpus, COUNT(*) FROM documents GROUP BY corpus ORDER BY corpus
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Corpus
	for rows.Next() {
		var c Corpus
		if err := rows.Scan(&c.Name, &c.Documents); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCorpus removes every document of corpus and returns how many were
// removed.
func (s *Store) DeleteCorpus(ctx context.Context, corpus string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE corpus = ?", corpus)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Model operations ---

// SaveModel inserts or replaces the state stored under name.
func (s *Store) SaveModel(ctx context.Context, name string, state []byte, numDocs int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO models (name, state, num_docs) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			state = excluded.state,
			num_docs = excluded.num_docs,
			updated_at = CURRENT_TIMESTAMP
	`, name, state, numDocs)
	return err
}

// LoadModel returns the model stored under name.
func (s *Store) LoadModel(ctx context.Context, name string) (*Model, error) {
	m := &Model{}
	err := s.db.QueryRowContext(ctx, `
		SELECT name, state, num_docs, updated_at FROM models WHERE name = ?
	`, name).Scan(&m.Name, &m.State, &m.NumDocs, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: model %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListModels returns all stored models without their state.
func (s *Store) ListModels(ctx context.Context) ([]Model, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, num_docs, updated_at FROM models ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Model
	for rows.Next() {
		var m Model
		if err := rows.Scan(&m.Name, &m.NumDocs, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Run log ---

// LogRun writes an entry to the run log.
func (s *Store) LogRun(ctx context.Context, r RunLog) error {
	var details sql.NullString
	if r.Details != nil {
		data, err := json.Marshal(r.Details)
		if err != nil {
			return fmt.Errorf("encoding run details: %w", err)
		}
		details = sql.NullString{String: string(data), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_log (kind, model, num_docs, f1, details, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.Kind, r.Model, r.NumDocs, r.F1, details, r.DurationMS)
	return err
}

// RecentRuns returns up to limit run log entries, newest first. Details are
// returned as raw JSON.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, model, num_docs, COALESCE(f1, 0), details, duration_ms, created_at
		FROM run_log ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunLog
	for rows.Next() {
		var r RunLog
		var details sql.NullString
		if err := rows.Scan(&r.ID, &r.Kind, &r.Model, &r.NumDocs, &r.F1, &details, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, err
		}
		if details.Valid {
			r.Details = json.RawMessage(details.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DBStats holds row counts for the main tables.
type DBStats struct {
	Documents int `json:"documents"`
	Models    int `json:"models"`
	Runs      int `json:"runs"`
}

// Stats returns counts of documents, models and logged runs.
func (s *Store) Stats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM documents", &stats.Documents},
		{"SELECT COUNT(*) FROM models", &stats.Models},
		{"SELECT COUNT(*) FROM run_log", &stats.Runs},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func contentHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
