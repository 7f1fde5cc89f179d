package featureflags

import (
	"context"
	"errors"
	"time"

	"github.com/dmsystem/dms/internal/apperror"
	"github.com/dmsystem/dms/internal/store"
)

// Collection is the record store collection holding flag overrides.
const Collection = "feature_flags"

// ErrFlagNotFound is returned when a switch has no override.
var ErrFlagNotFound = apperror.NotFound("feature flag not found")

// Repository stores switch overrides.
type Repository interface {
	// List returns every stored override keyed by switch.
	List(ctx context.Context) (map[string]Override, error)

	// Save creates or replaces an override.
	Save(ctx context.Context, o Override) error

	// Delete removes the override of key.
	Delete(ctx context.Context, key string) error
}

// StoreRepository keeps overrides in the record store, one document per key
// with the key as primary key.
type StoreRepository struct {
	store store.Store
}

// NewStoreRepository creates a flag repository over s.
func NewStoreRepository(s store.Store) *StoreRepository {
	return &StoreRepository{store: s}
}

type overrideDocument struct {
	ID        string    `json:"id"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// List returns every stored override.
func (r *StoreRepository) List(ctx context.Context) (map[string]Override, error) {
	docs, err := r.store.Find(ctx, Collection, store.Filter{}, store.FindOptions{})
	if err != nil {
		return nil, err
	}

	out := make(map[string]Override, len(docs))
	for _, doc := range docs {
		var od overrideDocument
		if err := store.Decode(doc, &od); err != nil {
			return nil, err
		}
		out[od.ID] = Override{Key: od.ID, Enabled: od.Enabled, UpdatedAt: od.UpdatedAt, UpdatedBy: od.UpdatedBy, Reason: od.Reason}
	}
	return out, nil
}

// Save upserts o. The record store has no upsert, so an update that matches
// nothing falls through to an insert.
func (r *StoreRepository) Save(ctx context.Context, o Override) error {
	patch := store.Document{
		"enabled":    o.Enabled,
		"updated_at": o.UpdatedAt,
		"updated_by": o.UpdatedBy,
		"reason":     o.Reason,
	}

	matched, err := r.store.UpdateOne(ctx, Collection, store.ByID(o.Key), patch)
	if err != nil || matched > 0 {
		return err
	}

	doc, err := store.Encode(overrideDocument{ID: o.Key, Enabled: o.Enabled, UpdatedAt: o.UpdatedAt, UpdatedBy: o.UpdatedBy, Reason: o.Reason})
	if err != nil {
		return err
	}
	_, err = r.store.Insert(ctx, Collection, doc)
	if errors.Is(err, apperror.ErrConflict) {
		// Inserted concurrently; apply ours on top.
		_, err = r.store.UpdateOne(ctx, Collection, store.ByID(o.Key), patch)
	}
	return err
}

// Delete removes the override of key.
func (r *StoreRepository) Delete(ctx context.Context, key string) error {
	deleted, err := r.store.DeleteOne(ctx, Collection, store.ByID(key))
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrFlagNotFound
	}
	return nil
}

var _ Repository = (*StoreRepository)(nil)
