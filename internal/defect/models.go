// Package defect implements defect reports. Filing a report takes the
// device out of service immediately; resolving it sends the device to
// maintenance.
package defect

import (
	"time"

	"github.com/dmsystem/dms/internal/device"
)

// Type classifies a defect.
type Type string

const (
	TypeHardware       Type = "hardware"
	TypeSoftware       Type = "software"
	TypePhysicalDamage Type = "physical_damage"
	TypePerformance    Type = "performance"
	TypeConnectivity   Type = "connectivity"
	TypeOther          Type = "other"
)

// Valid reports whether t is a known defect type.
func (t Type) Valid() bool {
	switch t {
	case TypeHardware, TypeSoftware, TypePhysicalDamage, TypePerformance, TypeConnectivity, TypeOther:
		return true
	}
	return false
}

// Severity ranks how badly a defect affects the device.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Severities lists every known severity, most severe first.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	for _, known := range Severities {
		if s == known {
			return true
		}
	}
	return false
}

// Urgent reports whether reviewers should be warned rather than informed.
func (s Severity) Urgent() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// Status is the state of a defect report.
type Status string

const (
	StatusReported    Status = "reported"
	StatusUnderReview Status = "under_review"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusResolved    Status = "resolved"
)

// Statuses lists every known status.
var Statuses = []Status{StatusReported, StatusUnderReview, StatusApproved, StatusRejected, StatusResolved}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Report is a defect filed against a device. The device serial and type
// are copied at creation.
type Report struct {
	ID             string      `json:"id"`
	ReportID       string      `json:"report_id"`
	DeviceID       string      `json:"device_id"`
	DeviceSerial   string      `json:"device_serial"`
	DeviceType     device.Type `json:"device_type"`
	ReportedBy     string      `json:"reported_by"`
	ReportedByName string      `json:"reported_by_name"`
	DefectType     Type        `json:"defect_type"`
	Severity       Severity    `json:"severity"`
	Description    string      `json:"description"`
	Symptoms       string      `json:"symptoms,omitempty"`
	Status         Status      `json:"status"`
	StatusNotes    string      `json:"status_notes,omitempty"`
	Resolution     string      `json:"resolution,omitempty"`
	ResolvedBy     string      `json:"resolved_by,omitempty"`
	ResolvedByName string      `json:"resolved_by_name,omitempty"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty"`
	Images         []string    `json:"images"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// CreateInput is the input for filing a defect report.
type CreateInput struct {
	DeviceID    string   `json:"device_id"`
	DefectType  Type     `json:"defect_type"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Symptoms    string   `json:"symptoms,omitempty"`
	Images      []string `json:"images,omitempty"`
}

// UpdateInput holds optional attribute changes.
type UpdateInput struct {
	DefectType  *Type     `json:"defect_type,omitempty"`
	Severity    *Severity `json:"severity,omitempty"`
	Description *string   `json:"description,omitempty"`
	Symptoms    *string   `json:"symptoms,omitempty"`
	Status      *Status   `json:"status,omitempty"`
}

// ListOptions filters a defect listing.
type ListOptions struct {
	Status     Status
	Severity   Severity
	DefectType Type
	ReportedBy string
	Search     string
	Page       int
	Size       int
}

// Stats counts defect reports.
type Stats struct {
	Total      int64              `json:"total"`
	ByStatus   map[Status]int64   `json:"by_status"`
	BySeverity map[Severity]int64 `json:"by_severity"`
}
