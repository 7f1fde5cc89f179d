// Package notification delivers user-scoped messages produced by the custody
// workflows. Delivery is best-effort: a notification that cannot be delivered
// never fails the operation that produced it.
package notification

import "time"

// Type is the severity of a notification.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	switch t {
	case TypeInfo, TypeSuccess, TypeWarning, TypeError:
		return true
	}
	return false
}

// Category groups notifications by the workflow that produced them.
type Category string

const (
	CategoryDistribution Category = "distribution"
	CategoryReturn       Category = "return"
	CategoryDefect       Category = "defect"
	CategoryApproval     Category = "approval"
	CategorySystem       Category = "system"
	CategoryUser         Category = "user"
)

// Message is a notification addressed to one user.
type Message struct {
	UserID   string         `json:"user_id"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Type     Type           `json:"type"`
	Category Category       `json:"category"`
	Link     string         `json:"link,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Notification is a persisted message.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      Type           `json:"type"`
	Category  Category       `json:"category"`
	IsRead    bool           `json:"is_read"`
	Link      string         `json:"link,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListOptions filters a user's notifications.
type ListOptions struct {
	IsRead *bool
	Page   int
	Size   int
}
