package models

import "time"

type ReconCategory string

const (
	ReconDiscrepancy ReconCategory = "discrepancy"
	ReconUnmatched   ReconCategory = "unmatched"
	ReconPending     ReconCategory = "pending"
	ReconMatched     ReconCategory = "matched"
)

// Priority orders categories for reporting: problems first.
func (c ReconCategory) Priority() int {
	switch c {
	case ReconDiscrepancy:
		return 0
	case ReconUnmatched:
		return 1
	case ReconPending:
		return 2
	case ReconMatched:
		return 3
	}
	return 4
}

// Issue codes attached to reconciliation items.
const (
	IssueAmountMismatch        = "amount_mismatch"
	IssueStatusMismatch        = "status_mismatch"
	IssueResultCodeMismatch    = "result_code_mismatch"
	IssueDuplicateTransaction  = "duplicate_transaction"
	IssueTransactionRefChanged = "transaction_ref_changed"
	IssueGatewayUnreachable    = "gateway_unreachable"
	IssueNotFoundAtGateway     = "not_found_at_gateway"
	IssueStuckPending          = "stuck_pending"
)

type ReconItem struct {
	SessionID       *string       `json:"session_id,omitempty"`
	PaymentID       string        `json:"payment_id"`
	RequestRef      string        `json:"request_ref"`
	TransactionRef  *string       `json:"transaction_ref,omitempty"`
	LocalStatus     PaymentStatus `json:"local_status"`
	ExternalStatus  string        `json:"external_status"`
	LocalAmount     int64         `json:"local_amount"`
	ExternalAmount  *int64        `json:"external_amount,omitempty"`
	PayerIdentifier string        `json:"payer"` // stored already masked
	ConfirmedAt     *time.Time    `json:"confirmed_at,omitempty"`
	Category        ReconCategory `json:"category"`
	Issues          []string      `json:"issues,omitempty"`
}

type ReconSummary struct {
	Discrepancies        int   `json:"discrepancies"`
	Unmatched            int   `json:"unmatched"`
	Pending              int   `json:"pending"`
	Matched              int   `json:"matched"`
	TotalAmountConfirmed int64 `json:"total_amount_confirmed"`
}

type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
)

// ReconciliationRun is immutable once persisted; later runs supersede it.
type ReconciliationRun struct {
	ID          string       `json:"id"`
	WindowStart time.Time    `json:"window_start"`
	WindowEnd   time.Time    `json:"window_end"`
	ExecutedAt  time.Time    `json:"executed_at"`
	TriggeredBy string       `json:"triggered_by"` // scheduler | admin
	Status      RunStatus    `json:"status"`
	Items       []ReconItem  `json:"items"`
	Summary     ReconSummary `json:"summary"`
}
