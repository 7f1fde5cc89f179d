// Package store provides the schemaless record store the custody services persist through.
//
// A store holds named collections of JSON-shaped documents. Every document
// carries a store-assigned primary key under FieldID. Implementations exist
// for memory (tests, local development), PostgreSQL (JSONB) and SQLite.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmsystem/dms/internal/apperror"
)

// FieldID is the document key holding the primary key.
const FieldID = "id"

// ErrNotFound is returned by FindOne when no document matches.
var ErrNotFound = apperror.NotFound("record not found")

// Document is a single stored record.
type Document map[string]any

// ID returns the primary key of the document.
func (d Document) ID() string {
	id, _ := d[FieldID].(string)
	return id
}

// SortField orders Find results by a document field.
type SortField struct {
	Field string
	Desc  bool
}

// FindOptions controls paging and ordering of Find.
type FindOptions struct {
	Skip  int
	Limit int // 0 means no limit
	Sort  []SortField

	// Newest orders documents by insertion, most recent first. It applies
	// after Sort, so it breaks ties between equal sort keys.
	Newest bool
}

// Store is the record store contract.
type Store interface {
	// Insert stores doc and returns its primary key, assigning one when absent.
	Insert(ctx context.Context, collection string, doc Document) (string, error)

	// FindOne returns the first document matching filter, or ErrNotFound.
	FindOne(ctx context.Context, collection string, filter Filter) (Document, error)

	// Find returns all documents matching filter.
	Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error)

	// Count returns the number of documents matching filter.
	Count(ctx context.Context, collection string, filter Filter) (int64, error)

	// UpdateOne merges patch into the first document matching filter.
	// Returns the number of matched documents (0 or 1).
	UpdateOne(ctx context.Context, collection string, filter Filter, patch Document) (int64, error)

	// DeleteOne removes the first document matching filter.
	DeleteOne(ctx context.Context, collection string, filter Filter) (int64, error)

	// DeleteMany removes every document matching filter.
	DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error)

	// Distinct returns the distinct non-null values of field.
	Distinct(ctx context.Context, collection, field string) ([]any, error)

	// Increment atomically adds delta to a numeric field of the document with
	// the given id, creating the document when missing, and returns the new value.
	Increment(ctx context.Context, collection, id, field string, delta int64) (int64, error)
}

// Encode converts a JSON-tagged value into a Document.
func Encode(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return doc, nil
}

// Decode fills v from a Document.
func Decode(doc Document, v any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

func newID() string {
	return uuid.NewString()
}

// normalize converts v to its JSON-native representation
// (string, float64, bool, nil, []any, map[string]any).
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func normalizeDocument(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = normalize(v)
	}
	return out
}
