package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/dmsystem/dms/internal/apperror"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS records (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	doc        TEXT NOT NULL,
	UNIQUE (collection, id)
)`

// SQLiteStore is an embedded implementation of Store backed by a single
// SQLite database file. Writes are serialized through one connection.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating when needed) the database at path.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "dms.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create records table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert stores a document.
func (s *SQLiteStore) Insert(ctx context.Context, collection string, doc Document) (string, error) {
	stored, id := prepareInsert(doc)
	data, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (collection, id, doc) VALUES (?, ?, ?)`,
		collection, id, string(data),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", apperror.Conflict("duplicate id %s in %s", id, collection)
		}
		return "", apperror.Unavailable("insert "+collection, err)
	}
	return id, nil
}

// FindOne returns the first matching document.
func (s *SQLiteStore) FindOne(ctx context.Context, collection string, filter Filter) (Document, error) {
	docs, err := s.Find(ctx, collection, filter, FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

// Find returns matching documents.
func (s *SQLiteStore) Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	q, err := selectQuery(dialectSQLite, collection, filter, opts)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, apperror.Unavailable("find "+collection, err)
	}
	defer func() { _ = rows.Close() }()

	docs := []Document{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, apperror.Unavailable("scan "+collection, err)
		}
		var doc Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Unavailable("find "+collection, err)
	}
	return docs, nil
}

// Count returns the number of matching documents.
func (s *SQLiteStore) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	q, err := countQuery(dialectSQLite, collection, filter)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, q.String(), q.args...).Scan(&n); err != nil {
		return 0, apperror.Unavailable("count "+collection, err)
	}
	return n, nil
}

// UpdateOne merges patch into the first matching document.
func (s *SQLiteStore) UpdateOne(ctx context.Context, collection string, filter Filter, patch Document) (int64, error) {
	q, err := updateQuery(dialectSQLite, collection, filter, normalizeDocument(patch))
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, "update "+collection, q)
}

// DeleteOne removes the first matching document.
func (s *SQLiteStore) DeleteOne(ctx context.Context, collection string, filter Filter) (int64, error) {
	q, err := deleteQuery(dialectSQLite, collection, filter, true)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, "delete "+collection, q)
}

// DeleteMany removes all matching documents.
func (s *SQLiteStore) DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error) {
	q, err := deleteQuery(dialectSQLite, collection, filter, false)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, "delete "+collection, q)
}

// Distinct returns the distinct non-null values of a field.
func (s *SQLiteStore) Distinct(ctx context.Context, collection, field string) ([]any, error) {
	q, err := distinctQuery(dialectSQLite, collection, field)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, apperror.Unavailable("distinct "+collection, err)
	}
	defer func() { _ = rows.Close() }()

	values := []any{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, apperror.Unavailable("scan "+collection, err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode value: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Unavailable("distinct "+collection, err)
	}
	return values, nil
}

// Increment atomically adds delta to a numeric field.
func (s *SQLiteStore) Increment(ctx context.Context, collection, id, field string, delta int64) (int64, error) {
	q, err := incrementQuery(dialectSQLite, collection, id, field, delta)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, q.String(), q.args...).Scan(&n); err != nil {
		return 0, apperror.Unavailable("increment "+collection, err)
	}
	return n, nil
}

func (s *SQLiteStore) exec(ctx context.Context, op string, q *query) (int64, error) {
	res, err := s.db.ExecContext(ctx, q.String(), q.args...)
	if err != nil {
		return 0, apperror.Unavailable(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperror.Unavailable(op, err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)
