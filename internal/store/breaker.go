package store

import (
	"context"
	"errors"

	"github.com/sony/gobreaker/v2"

	"github.com/dmsystem/dms/internal/apperror"
	"github.com/dmsystem/dms/internal/resilience"
)

// BreakerStore guards a Store with a circuit breaker. Only driver failures
// (apperror.ErrUnavailable) count against the breaker; while it is open every
// call fails fast with ErrUnavailable.
type BreakerStore struct {
	next    Store
	breaker *gobreaker.CircuitBreaker[any]
}

// WithBreaker wraps next with a circuit breaker built from cfg.
func WithBreaker(next Store, cfg resilience.CircuitBreakerConfig) *BreakerStore {
	cfg.IsSuccessful = func(err error) bool {
		return err == nil || !errors.Is(err, apperror.ErrUnavailable)
	}
	return &BreakerStore{
		next:    next,
		breaker: resilience.NewCircuitBreaker[any](cfg),
	}
}

// Breaker exposes the underlying breaker for health reporting.
func (s *BreakerStore) Breaker() resilience.Breaker {
	return s.breaker
}

func guard[T any](s *BreakerStore, op string, fn func() (T, error)) (T, error) {
	res, err := s.breaker.Execute(func() (any, error) {
		v, err := fn()
		return v, err
	})
	if err != nil {
		var zero T
		if resilience.IsOpen(err) {
			return zero, apperror.Unavailable(op, err)
		}
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}

// Insert stores a document.
func (s *BreakerStore) Insert(ctx context.Context, collection string, doc Document) (string, error) {
	return guard(s, "insert "+collection, func() (string, error) {
		return s.next.Insert(ctx, collection, doc)
	})
}

// FindOne returns the first matching document.
func (s *BreakerStore) FindOne(ctx context.Context, collection string, filter Filter) (Document, error) {
	return guard(s, "find "+collection, func() (Document, error) {
		return s.next.FindOne(ctx, collection, filter)
	})
}

// Find returns matching documents.
func (s *BreakerStore) Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	return guard(s, "find "+collection, func() ([]Document, error) {
		return s.next.Find(ctx, collection, filter, opts)
	})
}

// Count returns the number of matching documents.
func (s *BreakerStore) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	return guard(s, "count "+collection, func() (int64, error) {
		return s.next.Count(ctx, collection, filter)
	})
}

// UpdateOne merges patch into the first matching document.
func (s *BreakerStore) UpdateOne(ctx context.Context, collection string, filter Filter, patch Document) (int64, error) {
	return guard(s, "update "+collection, func() (int64, error) {
		return s.next.UpdateOne(ctx, collection, filter, patch)
	})
}

// DeleteOne removes the first matching document.
func (s *BreakerStore) DeleteOne(ctx context.Context, collection string, filter Filter) (int64, error) {
	return guard(s, "delete "+collection, func() (int64, error) {
		return s.next.DeleteOne(ctx, collection, filter)
	})
}

// DeleteMany removes all matching documents.
func (s *BreakerStore) DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error) {
	return guard(s, "delete "+collection, func() (int64, error) {
		return s.next.DeleteMany(ctx, collection, filter)
	})
}

// Distinct returns the distinct non-null values of a field.
func (s *BreakerStore) Distinct(ctx context.Context, collection, field string) ([]any, error) {
	return guard(s, "distinct "+collection, func() ([]any, error) {
		return s.next.Distinct(ctx, collection, field)
	})
}

// Increment atomically adds delta to a numeric field.
func (s *BreakerStore) Increment(ctx context.Context, collection, id, field string, delta int64) (int64, error) {
	return guard(s, "increment "+collection, func() (int64, error) {
		return s.next.Increment(ctx, collection, id, field, delta)
	})
}

// Ensure BreakerStore implements Store interface.
var _ Store = (*BreakerStore)(nil)
