package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmsystem/dms/internal/apperror"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS records (
		seq        BIGSERIAL,
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		doc        JSONB NOT NULL,
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS records_collection_seq_idx ON records (collection, seq);
`

// uniqueViolation is the PostgreSQL error code for unique constraint failures.
const uniqueViolation = "23505"

// PostgresStore is a PostgreSQL implementation of Store that keeps every
// collection in a single JSONB table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the records table when it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return apperror.Unavailable("create records table", err)
	}
	return nil
}

// Insert stores a document.
func (s *PostgresStore) Insert(ctx context.Context, collection string, doc Document) (string, error) {
	stored, id := prepareInsert(doc)
	data, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO records (collection, id, doc) VALUES ($1, $2, $3::jsonb)`,
		collection, id, string(data),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", apperror.Conflict("duplicate id %s in %s", id, collection)
		}
		return "", apperror.Unavailable("insert "+collection, err)
	}
	return id, nil
}

// FindOne returns the first matching document.
func (s *PostgresStore) FindOne(ctx context.Context, collection string, filter Filter) (Document, error) {
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
func (s *PostgresStore) Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	q, err := selectQuery(dialectPostgres, collection, filter, opts)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, apperror.Unavailable("find "+collection, err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, apperror.Unavailable("scan "+collection, err)
		}
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
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
func (s *PostgresStore) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	q, err := countQuery(dialectPostgres, collection, filter)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.pool.QueryRow(ctx, q.String(), q.args...).Scan(&n); err != nil {
		return 0, apperror.Unavailable("count "+collection, err)
	}
	return n, nil
}

// UpdateOne merges patch into the first matching document.
func (s *PostgresStore) UpdateOne(ctx context.Context, collection string, filter Filter, patch Document) (int64, error) {
	q, err := updateQuery(dialectPostgres, collection, filter, patch)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, "update "+collection, q)
}

// DeleteOne removes the first matching document.
func (s *PostgresStore) DeleteOne(ctx context.Context, collection string, filter Filter) (int64, error) {
	q, err := deleteQuery(dialectPostgres, collection, filter, true)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, "delete "+collection, q)
}

// DeleteMany removes all matching documents.
func (s *PostgresStore) DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error) {
	q, err := deleteQuery(dialectPostgres, collection, filter, false)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, "delete "+collection, q)
}

// Distinct returns the distinct non-null values of a field.
func (s *PostgresStore) Distinct(ctx context.Context, collection, field string) ([]any, error) {
	q, err := distinctQuery(dialectPostgres, collection, field)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, apperror.Unavailable("distinct "+collection, err)
	}
	defer rows.Close()

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
func (s *PostgresStore) Increment(ctx context.Context, collection, id, field string, delta int64) (int64, error) {
	q, err := incrementQuery(dialectPostgres, collection, id, field, delta)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.pool.QueryRow(ctx, q.String(), q.args...).Scan(&n); err != nil {
		return 0, apperror.Unavailable("increment "+collection, err)
	}
	return n, nil
}

func (s *PostgresStore) exec(ctx context.Context, op string, q *query) (int64, error) {
	tag, err := s.pool.Exec(ctx, q.String(), q.args...)
	if err != nil {
		return 0, apperror.Unavailable(op, err)
	}
	return tag.RowsAffected(), nil
}

// prepareInsert normalizes doc and assigns a primary key when absent.
func prepareInsert(doc Document) (Document, string) {
	stored := normalizeDocument(doc)
	id := stored.ID()
	if id == "" {
		id = newID()
		stored[FieldID] = id
	}
	return stored, id
}

// Ensure PostgresStore implements Store interface.
var _ Store = (*PostgresStore)(nil)
