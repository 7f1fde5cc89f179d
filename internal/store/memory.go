package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/dmsystem/dms/internal/apperror"
)

// MemoryStore is an in-memory implementation of Store.
// This is intended for testing and local development. Production should use
// PostgresStore or SQLiteStore.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	order []string // ids in insertion order
	docs  map[string]Document
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*memCollection),
	}
}

func (s *MemoryStore) collection(name string) *memCollection {
	c, ok := s.collections[name]
	if !ok {
		c = &memCollection{docs: make(map[string]Document)}
		s.collections[name] = c
	}
	return c
}

// Insert stores a document.
func (s *MemoryStore) Insert(_ context.Context, collection string, doc Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, id := prepareInsert(doc)
	c := s.collection(collection)
	if _, exists := c.docs[id]; exists {
		return "", apperror.Conflict("duplicate id %s in %s", id, collection)
	}
	c.docs[id] = stored
	c.order = append(c.order, id)
	return id, nil
}

// FindOne returns the first matching document.
func (s *MemoryStore) FindOne(_ context.Context, collection string, filter Filter) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil, ErrNotFound
	}
	for _, id := range c.order {
		if doc := c.docs[id]; filter.Matches(doc) {
			return copyDocument(doc), nil
		}
	}
	return nil, ErrNotFound
}

// Find returns matching documents.
func (s *MemoryStore) Find(_ context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return []Document{}, nil
	}

	var matched []Document
	for _, id := range c.order {
		if doc := c.docs[id]; filter.Matches(doc) {
			matched = append(matched, doc)
		}
	}
	if opts.Newest {
		slices.Reverse(matched)
	}

	if len(opts.Sort) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, sf := range opts.Sort {
				cmp := compareValues(matched[i][sf.Field], matched[j][sf.Field])
				if cmp == 0 {
					continue
				}
				if sf.Desc {
					return cmp > 0
				}
				return cmp < 0
			}
			return false
		})
	}

	if opts.Skip > 0 {
		if opts.Skip >= len(matched) {
			matched = nil
		} else {
			matched = matched[opts.Skip:]
		}
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	result := make([]Document, 0, len(matched))
	for _, doc := range matched {
		result = append(result, copyDocument(doc))
	}
	return result, nil
}

// Count returns the number of matching documents.
func (s *MemoryStore) Count(_ context.Context, collection string, filter Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return 0, nil
	}
	var n int64
	for _, doc := range c.docs {
		if filter.Matches(doc) {
			n++
		}
	}
	return n, nil
}

// UpdateOne merges patch into the first matching document.
func (s *MemoryStore) UpdateOne(_ context.Context, collection string, filter Filter, patch Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		return 0, nil
	}
	for _, id := range c.order {
		doc := c.docs[id]
		if !filter.Matches(doc) {
			continue
		}
		for k, v := range normalizeDocument(patch) {
			if k == FieldID {
				continue
			}
			doc[k] = v
		}
		return 1, nil
	}
	return 0, nil
}

// DeleteOne removes the first matching document.
func (s *MemoryStore) DeleteOne(_ context.Context, collection string, filter Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		return 0, nil
	}
	for i, id := range c.order {
		if filter.Matches(c.docs[id]) {
			delete(c.docs, id)
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

// DeleteMany removes all matching documents.
func (s *MemoryStore) DeleteMany(_ context.Context, collection string, filter Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		return 0, nil
	}
	kept := c.order[:0]
	var n int64
	for _, id := range c.order {
		if filter.Matches(c.docs[id]) {
			delete(c.docs, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
	return n, nil
}

// Distinct returns the distinct non-null values of a field.
func (s *MemoryStore) Distinct(_ context.Context, collection, field string) ([]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values := []any{}
	c, ok := s.collections[collection]
	if !ok {
		return values, nil
	}
	for _, id := range c.order {
		v := c.docs[id][field]
		if v == nil {
			continue
		}
		seen := false
		for _, existing := range values {
			if valuesEqual(existing, v) {
				seen = true
				break
			}
		}
		if !seen {
			values = append(values, v)
		}
	}
	return values, nil
}

// Increment atomically adds delta to a numeric field.
func (s *MemoryStore) Increment(_ context.Context, collection, id, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(collection)
	doc, ok := c.docs[id]
	if !ok {
		doc = Document{FieldID: id}
		c.docs[id] = doc
		c.order = append(c.order, id)
	}
	current, _ := doc[field].(float64)
	next := int64(current) + delta
	doc[field] = float64(next)
	return next, nil
}

// copyDocument returns a deep copy so callers cannot mutate stored state.
func copyDocument(doc Document) Document {
	return normalizeDocument(doc)
}

// Ensure MemoryStore implements Store interface.
var _ Store = (*MemoryStore)(nil)
