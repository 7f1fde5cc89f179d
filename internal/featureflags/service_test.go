package featureflags_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/apperror"
	"github.com/dmsystem/dms/internal/featureflags"
	"github.com/dmsystem/dms/internal/store"
)

func newService(ttl time.Duration) (*featureflags.Service, *featureflags.StoreRepository) {
	repo := featureflags.NewStoreRepository(store.NewMemoryStore())
	return featureflags.NewService(featureflags.ServiceConfig{
		Repository: repo,
		Logger:     zerolog.Nop(),
		CacheTTL:   ttl,
	}), repo
}

func on(v bool) *bool { return &v }

// flakyRepository fails List once broken is set and counts List calls.
type flakyRepository struct {
	*featureflags.StoreRepository
	broken bool
	lists  int
}

func (r *flakyRepository) List(ctx context.Context) (map[string]featureflags.Override, error) {
	r.lists++
	if r.broken {
		return nil, apperror.Unavailable("list feature flags", errors.New("connection reset"))
	}
	return r.StoreRepository.List(ctx)
}

func TestService_Defaults(t *testing.T) {
	service, _ := newService(time.Minute)
	ctx := context.Background()

	if service.StrictTransitions(ctx) || service.ChainAwareReturns(ctx) || service.NotificationsDisabled(ctx) {
		t.Error("expected every switch to be off by default")
	}
	if service.Enabled(ctx, "unknown") {
		t.Error("expected unknown switch to be off")
	}

	flags := service.List(ctx)
	if len(flags) != len(featureflags.Definitions) {
		t.Fatalf("expected %d flags, got %d", len(featureflags.Definitions), len(flags))
	}
	for i := 1; i < len(flags); i++ {
		if flags[i-1].Key >= flags[i].Key {
			t.Errorf("expected flags ordered by key, got %q before %q", flags[i-1].Key, flags[i].Key)
		}
	}
	for _, f := range flags {
		if f.Overridden || f.UpdatedAt != nil || f.Description == "" {
			t.Errorf("unexpected default flag %+v", f)
		}
	}
}

func TestService_Set(t *testing.T) {
	service, repo := newService(time.Minute)
	ctx := context.Background()

	err := service.Set(ctx, "admin-1", "pilot region rollout", []featureflags.FlagUpdate{
		{Key: featureflags.FlagStrictStatusTransitions, Enabled: on(true)},
		{Key: featureflags.FlagDisableNotifications, Enabled: on(true)},
	})
	if err != nil {
		t.Fatalf("failed to set flags: %v", err)
	}
	if !service.StrictTransitions(ctx) || !service.NotificationsDisabled(ctx) {
		t.Error("expected both switches on after update")
	}

	stored, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("failed to list overrides: %v", err)
	}
	if o := stored[featureflags.FlagStrictStatusTransitions]; !o.Enabled || o.UpdatedBy != "admin-1" || o.Reason != "pilot region rollout" {
		t.Errorf("unexpected stored override %+v", o)
	}

	// Overwrite an existing document.
	if err := service.Set(ctx, "admin-2", "", []featureflags.FlagUpdate{{Key: featureflags.FlagStrictStatusTransitions, Enabled: on(false)}}); err != nil {
		t.Fatalf("failed to overwrite flag: %v", err)
	}
	if service.StrictTransitions(ctx) {
		t.Error("expected strict transitions off after overwrite")
	}
	stored, _ = repo.List(ctx)
	if len(stored) != 2 {
		t.Errorf("expected 2 overrides, got %d", len(stored))
	}

	for _, f := range service.List(ctx) {
		if f.Key == featureflags.FlagStrictStatusTransitions && (!f.Overridden || f.UpdatedBy != "admin-2") {
			t.Errorf("expected override metadata on %+v", f)
		}
	}
	if active := service.Active(ctx); len(active) != 1 || active[0] != featureflags.FlagDisableNotifications {
		t.Errorf("unexpected active switches %v", active)
	}
}

func TestService_SetRejectsWholeBatch(t *testing.T) {
	service, _ := newService(time.Minute)
	ctx := context.Background()

	err := service.Set(ctx, "admin-1", "", []featureflags.FlagUpdate{
		{Key: featureflags.FlagDisableNotifications, Enabled: on(true)},
		{Key: "disable_everything", Enabled: on(true)},
		{Key: featureflags.FlagChainAwareReturns},
	})
	var vErr *apperror.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(vErr.Errors) != 2 || vErr.Errors[0].Field != "updates[1].key" || vErr.Errors[1].Field != "updates[2].enabled" {
		t.Errorf("unexpected field errors %+v", vErr.Errors)
	}
	if service.NotificationsDisabled(ctx) {
		t.Error("expected no switch to change when the batch is rejected")
	}

	if err := service.Set(ctx, "admin-1", "", nil); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("expected validation error for empty batch, got %v", err)
	}
}

func TestService_Reset(t *testing.T) {
	service, _ := newService(time.Hour)
	ctx := context.Background()

	if err := service.Set(ctx, "admin-1", "", []featureflags.FlagUpdate{{Key: featureflags.FlagChainAwareReturns, Enabled: on(true)}}); err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}
	if !service.ChainAwareReturns(ctx) {
		t.Fatal("expected chain aware returns on")
	}

	if err := service.Reset(ctx, featureflags.FlagChainAwareReturns); err != nil {
		t.Fatalf("failed to reset flag: %v", err)
	}
	if service.ChainAwareReturns(ctx) {
		t.Error("expected default after reset")
	}
	if err := service.Reset(ctx, featureflags.FlagChainAwareReturns); err != nil {
		t.Errorf("expected reset of a default switch to succeed, got %v", err)
	}
	if err := service.Reset(ctx, "nope"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("expected not found for unknown switch, got %v", err)
	}
}

func TestService_InvalidateCache(t *testing.T) {
	service, repo := newService(time.Hour)
	ctx := context.Background()

	if service.NotificationsDisabled(ctx) {
		t.Fatal("expected notifications enabled")
	}

	// Bypass the service so the cache goes stale.
	_ = repo.Save(ctx, featureflags.Override{Key: featureflags.FlagDisableNotifications, Enabled: true, UpdatedAt: time.Now()})
	if service.NotificationsDisabled(ctx) {
		t.Error("expected cached value before invalidation")
	}

	service.InvalidateCache()
	if !service.NotificationsDisabled(ctx) {
		t.Error("expected updated value after cache invalidation")
	}
}

func TestService_KeepsLastValuesWhenStoreFails(t *testing.T) {
	repo := &flakyRepository{StoreRepository: featureflags.NewStoreRepository(store.NewMemoryStore())}
	service := featureflags.NewService(featureflags.ServiceConfig{Repository: repo, Logger: zerolog.Nop(), CacheTTL: time.Nanosecond})
	ctx := context.Background()

	if err := service.Set(ctx, "admin-1", "", []featureflags.FlagUpdate{{Key: featureflags.FlagStrictStatusTransitions, Enabled: on(true)}}); err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}
	if !service.StrictTransitions(ctx) {
		t.Fatal("expected strict transitions on")
	}

	repo.broken = true
	time.Sleep(time.Millisecond)
	if !service.StrictTransitions(ctx) {
		t.Error("expected last loaded value while the store is unavailable")
	}
}

func TestService_BacksOffWhileStoreFails(t *testing.T) {
	repo := &flakyRepository{StoreRepository: featureflags.NewStoreRepository(store.NewMemoryStore())}
	service := featureflags.NewService(featureflags.ServiceConfig{
		Repository:    repo,
		Logger:        zerolog.Nop(),
		CacheTTL:      time.Nanosecond,
		RetryInterval: time.Hour,
	})
	ctx := context.Background()

	repo.broken = true
	for i := 0; i < 5; i++ {
		if service.StrictTransitions(ctx) || service.ChainAwareReturns(ctx) {
			t.Fatal("expected defaults while the store is unavailable")
		}
	}
	if repo.lists != 1 {
		t.Errorf("expected one store read during the retry interval, got %d", repo.lists)
	}

	repo.broken = false
	service.InvalidateCache()
	service.StrictTransitions(ctx)
	if repo.lists != 2 {
		t.Errorf("expected invalidation to force a reload, got %d reads", repo.lists)
	}
}

func TestService_NilUsesDefaults(t *testing.T) {
	var service *featureflags.Service
	if service.StrictTransitions(context.Background()) {
		t.Error("expected nil service to report defaults")
	}
}

func TestStoreRepository_Delete(t *testing.T) {
	_, repo := newService(time.Minute)
	ctx := context.Background()

	if err := repo.Save(ctx, featureflags.Override{Key: featureflags.FlagChainAwareReturns, Enabled: true, UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("failed to save override: %v", err)
	}
	if err := repo.Delete(ctx, featureflags.FlagChainAwareReturns); err != nil {
		t.Fatalf("failed to delete override: %v", err)
	}
	if err := repo.Delete(ctx, featureflags.FlagChainAwareReturns); !errors.Is(err, featureflags.ErrFlagNotFound) {
		t.Errorf("expected ErrFlagNotFound after delete, got %v", err)
	}
}
