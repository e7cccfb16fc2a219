package model

import (
	"encoding/json"
	"time"
)

// PushTypeNotification tags a socket frame that carries a notification.
const PushTypeNotification = "notification"

// Notification is a server-assigned alert addressed to one user of a tenant.
// Everything except Read/ReadAt is immutable once created on the server.
type Notification struct {
	// ID is the opaque server-assigned identifier.
	ID string `json:"id"`

	// TenantID is the farm the notification belongs to.
	TenantID string `json:"tenant_id"`

	// UserID is the recipient.
	UserID string `json:"user_id"`

	// Type is an open routing tag (e.g. "milk_delivery", "health_event").
	Type string `json:"type"`

	// Title and Message are display text.
	Title   string `json:"title"`
	Message string `json:"message"`

	// Data is a type-dependent payload, kept undecoded.
	Data json.RawMessage `json:"data,omitempty"`

	// Read reports whether the user has seen this notification.
	Read bool `json:"read"`

	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// MarkRead flips the notification to read, stamping ReadAt. It reports
// false when the notification was already read; read never goes back to
// unread.
func (n *Notification) MarkRead(at time.Time) bool {
	if n.Read {
		return false
	}
	n.Read = true
	stamp := at.UTC()
	n.ReadAt = &stamp
	return true
}

// NotificationPage is one page of the paginated listing endpoint.
type NotificationPage struct {
	Notifications []Notification `json:"notifications"`
	Total         int            `json:"total"`
	UnreadCount   int            `json:"unread_count"`
}

// MarkReadRequest is the body of the mark-read call.
type MarkReadRequest struct {
	NotificationIDs []string `json:"notification_ids"`
}

// MarkResult is returned by both mark-read endpoints.
type MarkResult struct {
	MarkedCount int `json:"marked_count"`
}

// PushMessage is a decoded socket frame. Only frames whose Type is
// PushTypeNotification are routed; other types are ignored.
type PushMessage struct {
	Type         string        `json:"type"`
	Notification *Notification `json:"notification,omitempty"`
}

// DeviceRegistration binds a native push token to the current user.
type DeviceRegistration struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}
