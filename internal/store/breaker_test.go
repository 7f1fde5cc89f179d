package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmsystem/dms/internal/apperror"
	"github.com/dmsystem/dms/internal/resilience"
	"github.com/dmsystem/dms/internal/store"
)

// failingStore fails every read with ErrUnavailable.
type failingStore struct {
	store.Store
	calls int
}

func (f *failingStore) FindOne(context.Context, string, store.Filter) (store.Document, error) {
	f.calls++
	return nil, apperror.Unavailable("find devices", errors.New("connection refused"))
}

func tripAfterOne() resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig("store")
	cfg.ReadyToTrip = func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 1 }
	return cfg
}

func TestBreakerStore_OpensOnUnavailable(t *testing.T) {
	inner := &failingStore{Store: store.NewMemoryStore()}
	s := store.WithBreaker(inner, tripAfterOne())
	ctx := context.Background()

	_, err := s.FindOne(ctx, "devices", store.ByID("d1"))
	require.ErrorIs(t, err, apperror.ErrUnavailable)
	assert.Equal(t, 1, inner.calls)

	_, err = s.FindOne(ctx, "devices", store.ByID("d1"))
	require.ErrorIs(t, err, apperror.ErrUnavailable)
	assert.Equal(t, 1, inner.calls, "open breaker must not reach the store")
	assert.Equal(t, gobreaker.StateOpen, s.Breaker().State())
}

func TestBreakerStore_NotFoundDoesNotTrip(t *testing.T) {
	s := store.WithBreaker(store.NewMemoryStore(), tripAfterOne())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.FindOne(ctx, "devices", store.ByID("missing"))
		require.ErrorIs(t, err, store.ErrNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, s.Breaker().State())
}

func TestBreakerStore_PassesThrough(t *testing.T) {
	s := store.WithBreaker(store.NewMemoryStore(), resilience.DefaultCircuitBreakerConfig("store"))
	ctx := context.Background()

	id, err := s.Insert(ctx, "devices", store.Document{"serial_number": "SN-1"})
	require.NoError(t, err)

	doc, err := s.FindOne(ctx, "devices", store.ByID(id))
	require.NoError(t, err)
	assert.Equal(t, "SN-1", doc["serial_number"])

	n, err := s.Increment(ctx, "counters", "c", "value", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}
