// Package device provides the device ledger: identity, status, and current
// holder of every network equipment unit, plus its append-only history.
package device

import (
	"time"

	"github.com/dmsystem/dms/internal/user"
)

// Type is the kind of equipment.
type Type string

const (
	TypeONU         Type = "ONU"
	TypeONT         Type = "ONT"
	TypeRouter      Type = "Router"
	TypeSwitch      Type = "Switch"
	TypeModem       Type = "Modem"
	TypeAccessPoint Type = "Access Point"
	TypeOther       Type = "Other"
)

// Valid reports whether t is a known device type.
func (t Type) Valid() bool {
	switch t {
	case TypeONU, TypeONT, TypeRouter, TypeSwitch, TypeModem, TypeAccessPoint, TypeOther:
		return true
	}
	return false
}

// Status is the custody state of a device. The ledger accepts any status
// from any status; callers own transition policy.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusDistributed Status = "distributed"
	StatusInUse       Status = "in_use"
	StatusDefective   Status = "defective"
	StatusReturned    Status = "returned"
	StatusMaintenance Status = "maintenance"
)

// Valid reports whether s is a known device status.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusDistributed, StatusInUse, StatusDefective, StatusReturned, StatusMaintenance:
		return true
	}
	return false
}

// HolderType is the coarse custody-chain level of a holder.
type HolderType string

const (
	HolderNOC            HolderType = "noc"
	HolderDistributor    HolderType = "distributor"
	HolderSubDistributor HolderType = "sub_distributor"
	HolderOperator       HolderType = "operator"
)

// HolderTypeFor maps an account role to its holder type, returning fallback
// for unknown roles.
func HolderTypeFor(role user.Role, fallback HolderType) HolderType {
	switch role {
	case user.RoleAdmin, user.RoleManager:
		return HolderNOC
	case user.RoleDistributor:
		return HolderDistributor
	case user.RoleSubDistributor:
		return HolderSubDistributor
	case user.RoleOperator:
		return HolderOperator
	}
	return fallback
}

// Location of devices held by the central stock.
const LocationNOC = "NOC"

// Device is a tracked equipment unit.
type Device struct {
	ID                string         `json:"id"`
	DeviceID          string         `json:"device_id"`
	DeviceType        Type           `json:"device_type"`
	Model             string         `json:"model"`
	SerialNumber      string         `json:"serial_number"`
	MACAddress        string         `json:"mac_address"`
	Manufacturer      string         `json:"manufacturer"`
	Status            Status         `json:"status"`
	CurrentLocation   string         `json:"current_location,omitempty"`
	CurrentHolderID   string         `json:"current_holder_id,omitempty"`
	CurrentHolderName string         `json:"current_holder_name,omitempty"`
	CurrentHolderType HolderType     `json:"current_holder_type,omitempty"`
	PurchaseDate      *time.Time     `json:"purchase_date,omitempty"`
	WarrantyExpiry    *time.Time     `json:"warranty_expiry,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Holder returns the current holder of the device.
func (d *Device) Holder() Holder {
	return Holder{ID: d.CurrentHolderID, Name: d.CurrentHolderName, Type: d.CurrentHolderType}
}

// Action tags a history entry.
type Action string

const (
	ActionRegistered     Action = "registered"
	ActionStatusChanged  Action = "status_changed"
	ActionDistributed    Action = "distributed"
	ActionReturned       Action = "returned"
	ActionDefectReported Action = "defect_reported"
)

// History is one immutable record of a device transition.
type History struct {
	ID              string    `json:"id"`
	DeviceID        string    `json:"device_id"`
	Action          Action    `json:"action"`
	FromUserID      string    `json:"from_user_id,omitempty"`
	FromUserName    string    `json:"from_user_name,omitempty"`
	ToUserID        string    `json:"to_user_id,omitempty"`
	ToUserName      string    `json:"to_user_name,omitempty"`
	StatusBefore    Status    `json:"status_before,omitempty"`
	StatusAfter     Status    `json:"status_after,omitempty"`
	Location        string    `json:"location,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	PerformedBy     string    `json:"performed_by"`
	PerformedByName string    `json:"performed_by_name"`
	Timestamp       time.Time `json:"timestamp"`
}

// Holder identifies who possesses a device. An empty ID is the central stock.
type Holder struct {
	ID   string     `json:"id,omitempty"`
	Name string     `json:"name,omitempty"`
	Type HolderType `json:"type"`
}

// HolderChange describes a custody transfer applied by SetHolder.
type HolderChange struct {
	To       Holder
	From     Holder
	Location string
	Status   Status
	Note     string

	// Action tags the history entry. Defaults to ActionDistributed.
	Action Action
}

// CreateInput is the input for registering a device.
type CreateInput struct {
	DeviceType     Type           `json:"device_type"`
	Model          string         `json:"model"`
	SerialNumber   string         `json:"serial_number"`
	MACAddress     string         `json:"mac_address"`
	Manufacturer   string         `json:"manufacturer"`
	PurchaseDate   *time.Time     `json:"purchase_date,omitempty"`
	WarrantyExpiry *time.Time     `json:"warranty_expiry,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// UpdateInput holds optional descriptive attribute changes.
// Status and holder changes go through SetStatus and SetHolder.
type UpdateInput struct {
	DeviceType      *Type          `json:"device_type,omitempty"`
	Model           *string        `json:"model,omitempty"`
	Manufacturer    *string        `json:"manufacturer,omitempty"`
	CurrentLocation *string        `json:"current_location,omitempty"`
	WarrantyExpiry  *time.Time     `json:"warranty_expiry,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// ListOptions filters a device listing.
type ListOptions struct {
	Status     Status
	DeviceType Type
	HolderID   string
	Search     string
	Page       int
	Size       int
}

// Tracking is a device with its most recent history.
type Tracking struct {
	Device  *Device    `json:"device"`
	History []*History `json:"history"`
}

// Stats counts devices per status.
type Stats struct {
	Total       int64 `json:"total"`
	Available   int64 `json:"available"`
	Distributed int64 `json:"distributed"`
	InUse       int64 `json:"in_use"`
	Defective   int64 `json:"defective"`
	Returned    int64 `json:"returned"`
	Maintenance int64 `json:"maintenance"`
}
