// Package report renders reconciliation runs for humans and spreadsheets.
// Exports are deterministic: the same run always produces the same bytes.
package report

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/afyalink/afyalink-backend/internal/models"
)

// csvHeader is a contract: column order never changes without a version bump
// in the export consumers.
var csvHeader = []string{
	"category", "payment_id", "session_id", "request_ref", "transaction_ref",
	"local_status", "external_status", "local_amount", "external_amount",
	"payer", "confirmed_at", "issues",
}

// MaskPayer keeps only the last four characters of the payer identifier.
func MaskPayer(s string) string {
	if len(s) <= 4 {
		return s
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// WriteCSV renders the run as a flat table, one row per item, ordered by
// category (problems first) then confirmation time then payment id.
func WriteCSV(w io.Writer, run models.ReconciliationRun) error {
	items := ordered(run.Items)

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, it := range items {
		row := []string{
			string(it.Category),
			it.PaymentID,
			deref(it.SessionID),
			it.RequestRef,
			deref(it.TransactionRef),
			string(it.LocalStatus),
			it.ExternalStatus,
			strconv.FormatInt(it.LocalAmount, 10),
			amount(it.ExternalAmount),
			MaskPayer(it.PayerIdentifier),
			stamp(it.ConfirmedAt),
			strings.Join(it.Issues, ";"),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Summary is the structured view of a run: counts, confirmed total, and the
// discrepancy items spelled out with their reasons.
type Summary struct {
	RunID         string              `json:"run_id"`
	WindowStart   time.Time           `json:"window_start"`
	WindowEnd     time.Time           `json:"window_end"`
	ExecutedAt    time.Time           `json:"executed_at"`
	TriggeredBy   string              `json:"triggered_by"`
	Status        models.RunStatus    `json:"status"`
	Counts        models.ReconSummary `json:"counts"`
	Discrepancies []DiscrepancyItem   `json:"discrepancies"`
}

type DiscrepancyItem struct {
	PaymentID      string   `json:"payment_id"`
	SessionID      string   `json:"session_id,omitempty"`
	RequestRef     string   `json:"request_ref"`
	TransactionRef string   `json:"transaction_ref,omitempty"`
	LocalStatus    string   `json:"local_status"`
	ExternalStatus string   `json:"external_status,omitempty"`
	LocalAmount    int64    `json:"local_amount"`
	ExternalAmount *int64   `json:"external_amount,omitempty"`
	Payer          string   `json:"payer"`
	Issues         []string `json:"issues"`
}

func BuildSummary(run models.ReconciliationRun) Summary {
	s := Summary{
		RunID:       run.ID,
		WindowStart: run.WindowStart,
		WindowEnd:   run.WindowEnd,
		ExecutedAt:  run.ExecutedAt,
		TriggeredBy: run.TriggeredBy,
		Status:      run.Status,
		Counts:      run.Summary,
	}
	for _, it := range ordered(run.Items) {
		if it.Category != models.ReconDiscrepancy {
			continue
		}
		s.Discrepancies = append(s.Discrepancies, DiscrepancyItem{
			PaymentID:      it.PaymentID,
			SessionID:      deref(it.SessionID),
			RequestRef:     it.RequestRef,
			TransactionRef: deref(it.TransactionRef),
			LocalStatus:    string(it.LocalStatus),
			ExternalStatus: it.ExternalStatus,
			LocalAmount:    it.LocalAmount,
			ExternalAmount: it.ExternalAmount,
			Payer:          MaskPayer(it.PayerIdentifier),
			Issues:         it.Issues,
		})
	}
	return s
}

// ordered re-sorts a copy; export order must not depend on how the run was
// produced or stored.
func ordered(items []models.ReconItem) []models.ReconItem {
	out := make([]models.ReconItem, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Category.Priority() != b.Category.Priority() {
			return a.Category.Priority() < b.Category.Priority()
		}
		at, bt := timeOrZero(a.ConfirmedAt), timeOrZero(b.ConfirmedAt)
		if !at.Equal(bt) {
			return at.Before(bt)
		}
		return a.PaymentID < b.PaymentID
	})
	return out
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func amount(a *int64) string {
	if a == nil {
		return ""
	}
	return strconv.FormatInt(*a, 10)
}

func stamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
