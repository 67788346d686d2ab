package services

import "errors"

var (
	// ErrAuthorityViolation marks a transition denied under strict
	// enforcement. Surfaced to the caller; the mutation did not happen.
	ErrAuthorityViolation = errors.New("authority violation")
)

// Attempt outcomes recorded against payments.
const (
	outcomeApplied   = "applied"
	outcomeDuplicate = "duplicate"
	outcomeStale     = "stale"
	outcomeRejected  = "rejected"
)
