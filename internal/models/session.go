package models

import "time"

type SessionStatus string

const (
	SessionPendingApproval SessionStatus = "pending_approval"
	SessionApproved        SessionStatus = "approved"
	SessionDeclined        SessionStatus = "declined"
	SessionCancelled       SessionStatus = "cancelled"
	SessionConfirmed       SessionStatus = "confirmed"
	SessionInProgress      SessionStatus = "in_progress"
	SessionCompleted       SessionStatus = "completed"
)

type SessionRecord struct {
	ID          string        `json:"id"`
	ClientID    string        `json:"client_id"`
	ProviderID  string        `json:"provider_id"`
	SessionType string        `json:"session_type"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	Price       int64         `json:"price"` // minor currency units
	Status      SessionStatus `json:"status"`
	PaymentID   *string       `json:"payment_id,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// VideoCallStatus is the third state machine the authority and stuck-state
// tables cover; the signaling itself lives elsewhere.
type VideoCallStatus string

const (
	VideoCallWaiting VideoCallStatus = "waiting"
	VideoCallActive  VideoCallStatus = "active"
	VideoCallEnded   VideoCallStatus = "ended"
)
