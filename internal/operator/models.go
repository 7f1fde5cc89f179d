// Package operator keeps the registry of field operators. Operators are the
// last link of the custody chain: sub-distributors register them and hand
// them devices, which the ledger then shows as held by the operator.
package operator

import (
	"time"
)

// Status is the lifecycle state of an operator.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	}
	return false
}

// ConnectionType is the access technology an operator serves.
type ConnectionType string

const (
	ConnectionFiber     ConnectionType = "fiber"
	ConnectionBroadband ConnectionType = "broadband"
	ConnectionDSL       ConnectionType = "dsl"
	ConnectionWireless  ConnectionType = "wireless"
	ConnectionOther     ConnectionType = "other"
)

// Valid reports whether c is a known connection type.
func (c ConnectionType) Valid() bool {
	switch c {
	case ConnectionFiber, ConnectionBroadband, ConnectionDSL, ConnectionWireless, ConnectionOther:
		return true
	}
	return false
}

// Operator is a registered field operator. AssignedTo is the account that
// registered and manages it.
type Operator struct {
	ID             string         `json:"id"`
	OperatorID     string         `json:"operator_id"`
	Name           string         `json:"name"`
	Phone          string         `json:"phone"`
	Email          string         `json:"email,omitempty"`
	Address        string         `json:"address,omitempty"`
	Area           string         `json:"area,omitempty"`
	City           string         `json:"city,omitempty"`
	AssignedTo     string         `json:"assigned_to"`
	AssignedToName string         `json:"assigned_to_name"`
	Status         Status         `json:"status"`
	DeviceCount    int64          `json:"device_count"`
	ConnectionType ConnectionType `json:"connection_type,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Location is where devices held by the operator are recorded.
func (o *Operator) Location() string {
	switch {
	case o.Area != "" && o.City != "":
		return o.Area + ", " + o.City
	case o.Area != "":
		return o.Area
	}
	return o.City
}

// CreateInput is the input for registering an operator.
type CreateInput struct {
	Name           string         `json:"name"`
	Phone          string         `json:"phone"`
	Email          string         `json:"email,omitempty"`
	Address        string         `json:"address,omitempty"`
	Area           string         `json:"area,omitempty"`
	City           string         `json:"city,omitempty"`
	ConnectionType ConnectionType `json:"connection_type,omitempty"`
}

// UpdateInput holds optional changes.
type UpdateInput struct {
	Name           *string         `json:"name,omitempty"`
	Phone          *string         `json:"phone,omitempty"`
	Email          *string         `json:"email,omitempty"`
	Address        *string         `json:"address,omitempty"`
	Area           *string         `json:"area,omitempty"`
	City           *string         `json:"city,omitempty"`
	ConnectionType *ConnectionType `json:"connection_type,omitempty"`
	Status         *Status         `json:"status,omitempty"`
}

// ListOptions filters an operator listing.
type ListOptions struct {
	AssignedTo string
	Status     Status
	Search     string
	Page       int
	Size       int
}

// Stats counts operators.
type Stats struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Inactive int64 `json:"inactive"`
}
