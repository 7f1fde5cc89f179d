package featureflags

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/apperror"
)

// ServiceConfig holds configuration for the feature flag service.
type ServiceConfig struct {
	Repository Repository
	Logger     zerolog.Logger

	// CacheTTL is how long overrides are served from memory. Default: 1 minute.
	CacheTTL time.Duration

	// RetryInterval is how long a failed load is remembered before the
	// store is queried again. Default: 5 seconds.
	RetryInterval time.Duration
}

// Service evaluates switches. Overrides are read in one batch and cached;
// when the store cannot be read the last loaded overrides, or the defaults,
// stay in effect.
type Service struct {
	repo          Repository
	logger        zerolog.Logger
	cacheTTL      time.Duration
	retryInterval time.Duration
	now           func() time.Time

	mu        sync.RWMutex
	overrides map[string]Override
	expiresAt time.Time
}

// NewService creates a new feature flag service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = 5 * time.Second
	}
	return &Service{
		repo:          cfg.Repository,
		logger:        cfg.Logger,
		cacheTTL:      cacheTTL,
		retryInterval: retryInterval,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Enabled reports whether the switch key is on. Unknown keys are off, and a
// nil Service reports every switch at its default.
func (s *Service) Enabled(ctx context.Context, key string) bool {
	d, ok := Lookup(key)
	if !ok {
		return false
	}
	if s == nil {
		return d.Default
	}
	if o, ok := s.load(ctx)[key]; ok {
		return o.Enabled
	}
	return d.Default
}

// List returns the effective state of every switch, ordered by key.
func (s *Service) List(ctx context.Context) []Flag {
	overrides := s.load(ctx)
	flags := make([]Flag, 0, len(Definitions))
	for _, d := range Definitions {
		var o *Override
		if v, ok := overrides[d.Key]; ok {
			o = &v
		}
		flags = append(flags, effective(d, o))
	}
	return flags
}

// Active returns the keys of the switches that are on.
func (s *Service) Active(ctx context.Context) []string {
	var keys []string
	for _, f := range s.List(ctx) {
		if f.Enabled {
			keys = append(keys, f.Key)
		}
	}
	return keys
}

// Set stores the updates on behalf of actorID, recording reason on each
// override. Nothing is written unless every update names a known switch and
// a state.
func (s *Service) Set(ctx context.Context, actorID, reason string, updates []FlagUpdate) error {
	var fieldErrs []apperror.FieldError
	if len(updates) == 0 {
		fieldErrs = append(fieldErrs, apperror.FieldError{Field: "updates", Message: "is empty"})
	}
	for i, u := range updates {
		if _, ok := Lookup(u.Key); !ok {
			fieldErrs = append(fieldErrs, apperror.FieldError{Field: fmt.Sprintf("updates[%d].key", i), Message: fmt.Sprintf("unknown feature flag %q", u.Key)})
		}
		if u.Enabled == nil {
			fieldErrs = append(fieldErrs, apperror.FieldError{Field: fmt.Sprintf("updates[%d].enabled", i), Message: "is required"})
		}
	}
	if len(fieldErrs) > 0 {
		return &apperror.ValidationError{Errors: fieldErrs}
	}

	now := s.now()
	defer s.InvalidateCache()
	for _, u := range updates {
		o := Override{Key: u.Key, Enabled: *u.Enabled, UpdatedAt: now, UpdatedBy: actorID, Reason: reason}
		if err := s.repo.Save(ctx, o); err != nil {
			return err
		}
	}
	s.logger.Info().
		Str("user_id", actorID).
		Int("count", len(updates)).
		Str("reason", reason).
		Msg("feature flags updated")
	return nil
}

// Reset removes the override of key so the default applies again.
func (s *Service) Reset(ctx context.Context, key string) error {
	if _, ok := Lookup(key); !ok {
		return ErrFlagNotFound
	}
	defer s.InvalidateCache()
	if err := s.repo.Delete(ctx, key); err != nil && !errors.Is(err, ErrFlagNotFound) {
		return err
	}
	return nil
}

// InvalidateCache forces the next evaluation to reload overrides.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresAt = time.Time{}
}

// load returns the current overrides. The returned map is never mutated.
// A failed load keeps the previous overrides for retryInterval.
func (s *Service) load(ctx context.Context) map[string]Override {
	s.mu.RLock()
	cached, fresh := s.overrides, s.now().Before(s.expiresAt)
	s.mu.RUnlock()
	if fresh {
		return cached
	}

	overrides, err := s.repo.List(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Dur("retry_in", s.retryInterval).Msg("failed to load feature flags, keeping previous values")
		s.mu.Lock()
		s.expiresAt = s.now().Add(s.retryInterval)
		s.mu.Unlock()
		return cached
	}

	s.mu.Lock()
	s.overrides = overrides
	s.expiresAt = s.now().Add(s.cacheTTL)
	s.mu.Unlock()
	return overrides
}

// StrictTransitions returns true if workflow status changes must follow the
// allowed transition table.
func (s *Service) StrictTransitions(ctx context.Context) bool {
	return s.Enabled(ctx, FlagStrictStatusTransitions)
}

// ChainAwareReturns returns true if returns go to the previous holder.
func (s *Service) ChainAwareReturns(ctx context.Context) bool {
	return s.Enabled(ctx, FlagChainAwareReturns)
}

// NotificationsDisabled returns true if notification delivery is suppressed.
func (s *Service) NotificationsDisabled(ctx context.Context) bool {
	return s.Enabled(ctx, FlagDisableNotifications)
}
