package models

// TokenRequest asks for a development access token.
type TokenRequest struct {
	UserID string `json:"user_id"`
}

// StatusChangeRequest moves a workflow entity or device to a new status.
type StatusChangeRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

// DecisionRequest carries an approver's decision details.
type DecisionRequest struct {
	Notes  string `json:"notes,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// AssignDeviceRequest hands a device to an operator.
type AssignDeviceRequest struct {
	DeviceID string `json:"device_id"`
}

// ResolveRequest closes a defect report.
type ResolveRequest struct {
	Resolution string `json:"resolution"`
}

// CleanupResponse reports a notification retention cleanup.
type CleanupResponse struct {
	Days    int   `json:"days"`
	Queued  bool  `json:"queued"`
	Deleted int64 `json:"deleted"`
}

// CountResponse wraps a single count.
type CountResponse struct {
	Count int64 `json:"count"`
}
