// Package bizid issues human-readable business identifiers of the form
// PREFIX-YYYY-NNNN. NNNN is a per-prefix, per-year counter kept in the
// record store, so identifiers never repeat.
package bizid

import (
	"context"
	"fmt"
	"time"

	"github.com/dmsystem/dms/internal/store"
)

// Identifier prefixes for workflow entities.
const (
	PrefixDistribution = "DIST"
	PrefixDefect       = "DEF"
	PrefixReturn       = "RET"
	PrefixOperator     = "OP"
)

const (
	countersCollection = "counters"
	counterField       = "value"
)

var devicePrefixes = map[string]string{
	"ONU":          "ONU",
	"ONT":          "ONT",
	"Router":       "RTR",
	"Switch":       "SWT",
	"Modem":        "MDM",
	"Access Point": "AP",
}

// DevicePrefix returns the identifier prefix for a device type.
func DevicePrefix(deviceType string) string {
	if p, ok := devicePrefixes[deviceType]; ok {
		return p
	}
	return "DEV"
}

// Generator issues identifiers.
type Generator struct {
	store store.Store
	now   func() time.Time
}

// NewGenerator creates a generator backed by s.
func NewGenerator(s store.Store) *Generator {
	return &Generator{store: s, now: time.Now}
}

// WithClock returns a copy of the generator that reads the year from now.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	return &Generator{store: g.store, now: now}
}

// Next returns the next identifier for prefix.
func (g *Generator) Next(ctx context.Context, prefix string) (string, error) {
	year := g.now().UTC().Year()
	key := fmt.Sprintf("%s-%d", prefix, year)

	n, err := g.store.Increment(ctx, countersCollection, key, counterField, 1)
	if err != nil {
		return "", fmt.Errorf("next %s id: %w", prefix, err)
	}
	return fmt.Sprintf("%s-%04d", key, n), nil
}
