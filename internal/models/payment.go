package models

import "time"

type PaymentStatus string

const (
	PaymentNotStarted PaymentStatus = "not_started"
	PaymentInitiated  PaymentStatus = "initiated"
	PaymentProcessing PaymentStatus = "processing"
	PaymentConfirmed  PaymentStatus = "confirmed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

// Rank orders statuses along the lifecycle:
// not_started < initiated < processing < {confirmed|failed} < refunded.
// Events proposing a lower-ranked status than the current one are stale.
func (s PaymentStatus) Rank() int {
	switch s {
	case PaymentNotStarted:
		return 0
	case PaymentInitiated:
		return 1
	case PaymentProcessing:
		return 2
	case PaymentConfirmed, PaymentFailed:
		return 3
	case PaymentRefunded:
		return 4
	}
	return -1
}

func (s PaymentStatus) Terminal() bool {
	return s == PaymentConfirmed || s == PaymentFailed || s == PaymentRefunded
}

// PaymentAttempt is one observed delivery for a payment, append-only.
type PaymentAttempt struct {
	At      time.Time `json:"at"`
	Outcome string    `json:"outcome"` // applied | duplicate | stale | rejected
	Detail  string    `json:"detail,omitempty"`
}

type PaymentRecord struct {
	ID                     string           `json:"id"`
	SessionID              *string          `json:"session_id,omitempty"`
	ExternalRequestRef     string           `json:"external_request_ref"`
	ExternalTransactionRef *string          `json:"external_transaction_ref,omitempty"`
	AmountExpected         int64            `json:"amount_expected"` // minor currency units
	AmountConfirmed        *int64           `json:"amount_confirmed,omitempty"`
	PayerIdentifier        string           `json:"-"` // masked in any export
	Status                 PaymentStatus    `json:"status"`
	ResultCode             *int             `json:"result_code,omitempty"`
	InitiatedAt            time.Time        `json:"initiated_at"`
	ConfirmedAt            *time.Time       `json:"confirmed_at,omitempty"`
	UpdatedAt              time.Time        `json:"updated_at"`
	Attempts               []PaymentAttempt `json:"attempts,omitempty"`
}
