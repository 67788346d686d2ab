package models

import "time"

// AuditLog entries are append-only; nothing updates or deletes them.
type AuditLog struct {
	ID              int64     `json:"id"`
	EntityType      string    `json:"entity_type"`
	EntityID        *string   `json:"entity_id"`
	FromState       string    `json:"from_state"`
	ToState         string    `json:"to_state"`
	ActingSubsystem string    `json:"acting_subsystem"`
	Reason          *string   `json:"reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
