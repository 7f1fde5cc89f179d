package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Breaker is the read side of a circuit breaker.
type Breaker interface {
	State() gobreaker.State
	Counts() gobreaker.Counts
}

// DependencyHealth represents the health status of a guarded dependency.
type DependencyHealth struct {
	// Name is the dependency identifier.
	Name string `json:"name"`

	// CircuitState is the current circuit breaker state.
	CircuitState gobreaker.State `json:"-"`

	// State is CircuitState rendered as text.
	State string `json:"state"`

	// Counts contains circuit breaker statistics.
	Counts gobreaker.Counts `json:"-"`

	// LastFailureAt is the timestamp of the last failed call.
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`

	// LastError is the most recent error message, if any.
	LastError string `json:"last_error,omitempty"`
}

// IsHealthy returns true if the dependency is considered healthy.
func (h *DependencyHealth) IsHealthy() bool {
	return h.CircuitState == gobreaker.StateClosed
}

// IsDegraded returns true if the dependency is in a degraded state (half-open).
func (h *DependencyHealth) IsDegraded() bool {
	return h.CircuitState == gobreaker.StateHalfOpen
}

// IsUnhealthy returns true if the dependency is unhealthy (circuit open).
func (h *DependencyHealth) IsUnhealthy() bool {
	return h.CircuitState == gobreaker.StateOpen
}

// Registry tracks guarded dependencies and their health status.
type Registry struct {
	mu   sync.RWMutex
	deps map[string]*registeredDependency
}

type registeredDependency struct {
	breaker       Breaker
	lastFailureAt *time.Time
	lastError     string
}

// NewRegistry creates a new dependency registry.
func NewRegistry() *Registry {
	return &Registry{
		deps: make(map[string]*registeredDependency),
	}
}

// Register adds a dependency breaker to the registry.
func (r *Registry) Register(name string, b Breaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deps[name] = &registeredDependency{breaker: b}
}

// RecordFailure records a failed call to a dependency.
func (r *Registry) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.deps[name]; ok {
		now := time.Now()
		d.lastFailureAt = &now
		if err != nil {
			d.lastError = err.Error()
		}
	}
}

// GetHealth returns the health status of a specific dependency.
func (r *Registry) GetHealth(name string) *DependencyHealth {
	r.mu.RLock()
	d, ok := r.deps[name]
	var snap registeredDependency
	if ok {
		snap = *d
	}
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	return snap.health(name)
}

// GetAllHealth returns the health status of all registered dependencies, sorted by name.
// Breakers are queried outside the registry lock since their state change
// hooks may call back into RecordFailure.
func (r *Registry) GetAllHealth() []*DependencyHealth {
	r.mu.RLock()
	snaps := make(map[string]registeredDependency, len(r.deps))
	for name, d := range r.deps {
		snaps[name] = *d
	}
	r.mu.RUnlock()

	health := make([]*DependencyHealth, 0, len(snaps))
	for name, d := range snaps {
		health = append(health, d.health(name))
	}
	sort.Slice(health, func(i, j int) bool { return health[i].Name < health[j].Name })
	return health
}

// Healthy reports whether no registered breaker is open.
func (r *Registry) Healthy() bool {
	for _, h := range r.GetAllHealth() {
		if h.IsUnhealthy() {
			return false
		}
	}
	return true
}

func (d *registeredDependency) health(name string) *DependencyHealth {
	state := d.breaker.State()
	return &DependencyHealth{
		Name:          name,
		CircuitState:  state,
		State:         state.String(),
		Counts:        d.breaker.Counts(),
		LastFailureAt: d.lastFailureAt,
		LastError:     d.lastError,
	}
}
