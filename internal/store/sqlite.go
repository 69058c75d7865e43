package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// maxSQLVars keeps IN lists below SQLite's bound-parameter limit.
const maxSQLVars = 500

const schema = `
CREATE TABLE IF NOT EXISTS resources (
	id             TEXT PRIMARY KEY,
	title          TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	body           TEXT NOT NULL DEFAULT '',
	classification TEXT NOT NULL DEFAULT '',
	type           TEXT NOT NULL DEFAULT '',
	language       TEXT NOT NULL DEFAULT '',
	quality_score  REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS postings (
	term        TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	weight      REAL NOT NULL,
	PRIMARY KEY (term, resource_id)
);
CREATE INDEX IF NOT EXISTS idx_postings_resource ON postings(resource_id);

CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteStore holds resource metadata and the sparse postings index in one
// SQLite database. It implements MetadataStore and SparseIndex.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens or creates the database at path. An empty path
// creates an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		if verr := validateSQLiteIntegrity(path); verr != nil {
			slog.Warn("sqlite_store_corrupted", slog.String("path", path), slog.String("error", verr.Error()))
			if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
				return nil, fmt.Errorf("store corrupted at %s and cannot remove: %w (original error: %v)", path, rerr, verr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: keeps the in-memory database alive and avoids
	// writer contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	if path != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// Save upserts resources.
func (s *SQLiteStore) Save(ctx context.Context, resources []*Resource) error {
	if len(resources) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO resources (id, title, description, body, classification, type, language, quality_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			body = excluded.body,
			classification = excluded.classification,
			type = excluded.type,
			language = excluded.language,
			quality_score = excluded.quality_score`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range resources {
		_, err := stmt.ExecContext(ctx, r.ID, r.Title, r.Description, r.Text,
			r.Classification, r.Type, r.Language, r.QualityScore)
		if err != nil {
			return fmt.Errorf("failed to save resource %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Get returns the stored resources among ids.
func (s *SQLiteStore) Get(ctx context.Context, ids []string) (map[string]*Resource, error) {
	out := make(map[string]*Resource, len(ids))
	for start := 0; start < len(ids); start += maxSQLVars {
		end := min(start+maxSQLVars, len(ids))
		batch := ids[start:end]

		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		query := `SELECT id, title, description, body, classification, type, language, quality_score
			FROM resources WHERE id IN (` + placeholders(len(batch)) + `)`

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query resources: %w", err)
		}
		for rows.Next() {
			r := &Resource{}
			if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.Text,
				&r.Classification, &r.Type, &r.Language, &r.QualityScore); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan resource: %w", err)
			}
			out[r.ID] = r
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read resources: %w", err)
		}
	}
	return out, nil
}

// All returns every stored resource ordered by id.
func (s *SQLiteStore) All(ctx context.Context) ([]*Resource, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, description, body, classification, type, language, quality_score
		FROM resources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	var out []*Resource
	for rows.Next() {
		r := &Resource{}
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.Text,
			&r.Classification, &r.Type, &r.Language, &r.QualityScore); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of stored resources.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM resources").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count resources: %w", err)
	}
	return n, nil
}

// Upsert replaces the postings of each resource in vectors.
func (s *SQLiteStore) Upsert(ctx context.Context, vectors map[string]SparseVector) error {
	if len(vectors) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	del, err := tx.PrepareContext(ctx, "DELETE FROM postings WHERE resource_id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer del.Close()
	ins, err := tx.PrepareContext(ctx, "INSERT INTO postings (term, resource_id, weight) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer ins.Close()

	for id, vec := range vectors {
		if _, err := del.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("failed to clear postings for %s: %w", id, err)
		}
		for term, w := range vec {
			if w == 0 {
				continue
			}
			if _, err := ins.ExecContext(ctx, term, id, w); err != nil {
				return fmt.Errorf("failed to insert posting %s/%s: %w", id, term, err)
			}
		}
	}
	return tx.Commit()
}

// Search scores resources by Σ query[t] * posting[t], best first, ties by id.
func (s *SQLiteStore) Search(ctx context.Context, query SparseVector, limit int) ([]Hit, error) {
	if len(query) == 0 || limit <= 0 {
		return []Hit{}, nil
	}

	terms := make([]string, 0, len(query))
	for t, w := range query {
		if w != 0 {
			terms = append(terms, t)
		}
	}
	if len(terms) == 0 {
		return []Hit{}, nil
	}
	sort.Strings(terms)
	if len(terms) > maxSQLVars/2 {
		terms = terms[:maxSQLVars/2]
	}

	values := make([]string, len(terms))
	args := make([]any, 0, 2*len(terms)+1)
	for i, t := range terms {
		values[i] = "(?, ?)"
		args = append(args, t, query[t])
	}
	args = append(args, limit)

	q := `WITH q(term, weight) AS (VALUES ` + strings.Join(values, ", ") + `)
		SELECT p.resource_id, SUM(p.weight * q.weight) AS score
		FROM postings p JOIN q ON p.term = q.term
		GROUP BY p.resource_id
		HAVING score > 0
		ORDER BY score DESC, p.resource_id ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sparse search failed: %w", err)
	}
	defer rows.Close()

	hits := make([]Hit, 0, limit)
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan sparse hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// GetState returns a stored state value, or "" if unset.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM state WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read state %s: %w", key, err)
	}
	return v, nil
}

// SetState stores a state value.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write state %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

var (
	_ MetadataStore = (*SQLiteStore)(nil)
	_ SparseIndex   = (*SQLiteStore)(nil)
)
