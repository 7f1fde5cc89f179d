// Package featureflags provides runtime switches for custody workflow policy.
//
// Every switch is declared in Definitions with its default. The record store
// only holds overrides; removing an override restores the default.
package featureflags

import (
	"time"
)

// Well-known feature flag keys.
const (
	// FlagStrictStatusTransitions rejects distribution and return status
	// changes outside the allowed transition table.
	FlagStrictStatusTransitions = "strict_status_transitions"

	// FlagChainAwareReturns routes returns to the previous holder in the
	// custody chain instead of the central stock.
	FlagChainAwareReturns = "chain_aware_returns"

	// FlagDisableNotifications suppresses notification delivery.
	FlagDisableNotifications = "disable_notifications"
)

// Definition declares a switch and its default state.
type Definition struct {
	Key         string
	Description string
	Default     bool
}

// Definitions lists every switch the services consult.
var Definitions = []Definition{
	{
		Key:         FlagChainAwareReturns,
		Description: "Route return approvals to the previous holder in the custody chain",
	},
	{
		Key:         FlagDisableNotifications,
		Description: "Suppress notification delivery on every sink",
	},
	{
		Key:         FlagStrictStatusTransitions,
		Description: "Reject workflow status changes outside the transition table",
	},
}

// Lookup returns the definition of key.
func Lookup(key string) (Definition, bool) {
	for _, d := range Definitions {
		if d.Key == key {
			return d, true
		}
	}
	return Definition{}, false
}

// Flag is the effective state of a switch.
type Flag struct {
	Key         string `json:"key"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`

	// Overridden is false while the switch sits at its default.
	Overridden bool       `json:"overridden"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
	UpdatedBy  string     `json:"updated_by,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// Override is a stored deviation from a switch's default.
type Override struct {
	Key       string
	Enabled   bool
	UpdatedAt time.Time
	UpdatedBy string
	Reason    string
}

// FlagList represents a list of feature flags.
type FlagList struct {
	Items []Flag `json:"items"`
}

// FlagUpdate sets one switch. Enabled is required.
type FlagUpdate struct {
	Key     string `json:"key"`
	Enabled *bool  `json:"enabled"`
}

// FlagUpdateRequest represents a request to update feature flags.
type FlagUpdateRequest struct {
	Updates []FlagUpdate `json:"updates"`
	Reason  string       `json:"reason"`
}

func effective(d Definition, o *Override) Flag {
	f := Flag{Key: d.Key, Enabled: d.Default, Description: d.Description}
	if o != nil {
		updated := o.UpdatedAt
		f.Enabled = o.Enabled
		f.Overridden = true
		f.UpdatedAt = &updated
		f.UpdatedBy = o.UpdatedBy
		f.Reason = o.Reason
	}
	return f
}
