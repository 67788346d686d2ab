package services

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/afyalink/afyalink-backend/internal/authority"
	"github.com/afyalink/afyalink-backend/internal/gateway"
	"github.com/afyalink/afyalink-backend/internal/metrics"
	"github.com/afyalink/afyalink-backend/internal/models"
	"github.com/afyalink/afyalink-backend/internal/report"
	repo "github.com/afyalink/afyalink-backend/internal/repository"
	"github.com/afyalink/afyalink-backend/internal/stuck"
	"github.com/google/uuid"
)

type Window struct {
	Start time.Time
	End   time.Time
}

type ReconFilters struct {
	ClientID   string
	ProviderID string
}

// ReconcileService diffs local payment records against the gateway's ground
// truth for a window and reports every divergence. It never corrects
// anything: money-related discrepancies are surfaced, not fixed.
type ReconcileService struct {
	payments repo.Payments
	sessions repo.Sessions
	runs     repo.ReconRuns
	gw       gateway.Client
	workers  int
}

func NewReconcileService(p repo.Payments, s repo.Sessions, r repo.ReconRuns, gw gateway.Client, workers int) *ReconcileService {
	if workers < 1 {
		workers = 1
	}
	return &ReconcileService{payments: p, sessions: s, runs: r, gw: gw, workers: workers}
}

// Reconcile runs the engine over [win.Start, win.End]. The engine holds no
// locks and tolerates eventually-consistent reads: a payment confirmed
// mid-run shows up as pending now and matched next run. Cancelling ctx stops
// new gateway lookups, lets in-flight ones finish, and persists a partial
// run marked cancelled.
func (s *ReconcileService) Reconcile(ctx context.Context, win Window, filters ReconFilters, trigger string) (models.ReconciliationRun, error) {
	records, err := s.payments.ListWindow(ctx, win.Start, win.End)
	if err != nil {
		return models.ReconciliationRun{}, err
	}
	records, err = s.applyFilters(ctx, records, filters)
	if err != nil {
		return models.ReconciliationRun{}, err
	}

	// transaction refs must be unique; any group >1 is a discrepancy
	// before the gateway is even consulted
	refCount := map[string]int{}
	for _, p := range records {
		if p.ExternalTransactionRef != nil {
			refCount[*p.ExternalTransactionRef]++
		}
	}

	items := make([]models.ReconItem, len(records))
	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.workers)
	)
	// cancellation stops new launches only; a lookup already in flight runs
	// to completion under the gateway client's own timeout, so its item is
	// classified from a real answer rather than a severed connection
	lookupCtx := context.WithoutCancel(ctx)
	cancelled := false
	for i, p := range records {
		if ctx.Err() != nil {
			cancelled = true
			items = items[:i]
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, p models.PaymentRecord) {
			defer wg.Done()
			defer func() { <-sem }()
			items[i] = s.classify(lookupCtx, p, refCount)
		}(i, p)
	}
	wg.Wait()

	sortItems(items)

	run := models.ReconciliationRun{
		ID:          uuid.NewString(),
		WindowStart: win.Start,
		WindowEnd:   win.End,
		ExecutedAt:  time.Now().UTC(),
		TriggeredBy: trigger,
		Status:      models.RunCompleted,
		Items:       items,
		Summary:     summarize(items),
	}
	if cancelled {
		run.Status = models.RunCancelled
	}

	// persist even when the caller's ctx is gone; partial work counts
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.runs.Create(persistCtx, run); err != nil {
		return models.ReconciliationRun{}, err
	}

	metrics.ReconRunsTotal.WithLabelValues(trigger).Inc()
	for _, it := range items {
		metrics.ReconItemsTotal.WithLabelValues(string(it.Category)).Inc()
	}
	slog.Info("reconciliation run",
		"id", run.ID, "trigger", trigger, "status", run.Status,
		"discrepancies", run.Summary.Discrepancies, "unmatched", run.Summary.Unmatched,
		"pending", run.Summary.Pending, "matched", run.Summary.Matched)
	return run, nil
}

func (s *ReconcileService) LatestForWindow(ctx context.Context, win Window) (models.ReconciliationRun, error) {
	return s.runs.LatestForWindow(ctx, win.Start, win.End)
}

// classify puts one payment into exactly one category. Gateway failures are
// isolated per item: a timed-out lookup makes this record unmatched and
// leaves the rest of the run alone.
func (s *ReconcileService) classify(ctx context.Context, p models.PaymentRecord, refCount map[string]int) models.ReconItem {
	item := models.ReconItem{
		SessionID:       p.SessionID,
		PaymentID:       p.ID,
		RequestRef:      p.ExternalRequestRef,
		TransactionRef:  p.ExternalTransactionRef,
		LocalStatus:     p.Status,
		LocalAmount:     localAmount(p),
		PayerIdentifier: report.MaskPayer(p.PayerIdentifier),
		ConfirmedAt:     p.ConfirmedAt,
	}

	if p.ExternalTransactionRef != nil && refCount[*p.ExternalTransactionRef] > 1 {
		item.Category = models.ReconDiscrepancy
		item.Issues = []string{models.IssueDuplicateTransaction}
		return item
	}

	ref := p.ExternalRequestRef
	if p.ExternalTransactionRef != nil {
		ref = *p.ExternalTransactionRef
	}
	ext, err := s.gw.QueryStatus(ctx, ref)
	if err != nil {
		item.Category = models.ReconUnmatched
		item.Issues = []string{models.IssueGatewayUnreachable}
		return item
	}
	item.ExternalStatus = ext.Status

	if !ext.Found {
		if p.Status != models.PaymentConfirmed && withinProcessingBudget(p) {
			item.Category = models.ReconPending
			return item
		}
		item.Category = models.ReconUnmatched
		item.Issues = []string{models.IssueNotFoundAtGateway}
		return item
	}

	extAmount := ext.Amount
	item.ExternalAmount = &extAmount

	var issues []string
	if p.ExternalTransactionRef != nil && ext.TransactionRef != "" && ext.TransactionRef != *p.ExternalTransactionRef {
		// gateway-side correction; never silently adopt the new ref
		issues = append(issues, models.IssueTransactionRefChanged)
	}
	if extAmount != item.LocalAmount {
		issues = append(issues, models.IssueAmountMismatch)
	}
	if p.Status == models.PaymentConfirmed && ext.ResultCode != 0 {
		issues = append(issues, models.IssueResultCodeMismatch)
	}
	if p.Status != models.PaymentConfirmed && p.Status != models.PaymentRefunded && ext.ResultCode == 0 {
		// gateway says paid, local state never advanced: orphaned payment
		issues = append(issues, models.IssueStatusMismatch)
	}

	if len(issues) > 0 {
		item.Category = models.ReconDiscrepancy
		item.Issues = issues
		return item
	}
	if p.Status.Terminal() {
		item.Category = models.ReconMatched
		return item
	}
	if withinProcessingBudget(p) {
		item.Category = models.ReconPending
		return item
	}
	item.Category = models.ReconUnmatched
	item.Issues = []string{models.IssueStuckPending}
	return item
}

func (s *ReconcileService) applyFilters(ctx context.Context, records []models.PaymentRecord, f ReconFilters) ([]models.PaymentRecord, error) {
	if f.ClientID == "" && f.ProviderID == "" {
		return records, nil
	}
	var out []models.PaymentRecord
	for _, p := range records {
		if p.SessionID == nil {
			continue
		}
		sess, err := s.sessions.GetByID(ctx, *p.SessionID)
		if err != nil {
			return nil, err
		}
		if f.ClientID != "" && sess.ClientID != f.ClientID {
			continue
		}
		if f.ProviderID != "" && sess.ProviderID != f.ProviderID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// withinProcessingBudget says whether an unconfirmed payment is still inside
// its expected processing time, per the stuck-state table.
func withinProcessingBudget(p models.PaymentRecord) bool {
	v := stuck.Check(authority.EntityPayment, string(p.Status), p.InitiatedAt, time.Now().UTC())
	return v.ExpectedDuration > 0 && !v.IsStuck
}

func localAmount(p models.PaymentRecord) int64 {
	if p.AmountConfirmed != nil {
		return *p.AmountConfirmed
	}
	return p.AmountExpected
}

// sortItems fixes the reporting order: discrepancies first, then unmatched,
// pending, matched; inside a category by confirmation time then payment id,
// so repeated exports of the same run come out identical.
func sortItems(items []models.ReconItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Category.Priority() != b.Category.Priority() {
			return a.Category.Priority() < b.Category.Priority()
		}
		at, bt := confirmedOrZero(a), confirmedOrZero(b)
		if !at.Equal(bt) {
			return at.Before(bt)
		}
		return a.PaymentID < b.PaymentID
	})
}

func confirmedOrZero(it models.ReconItem) time.Time {
	if it.ConfirmedAt == nil {
		return time.Time{}
	}
	return *it.ConfirmedAt
}

func summarize(items []models.ReconItem) models.ReconSummary {
	var sum models.ReconSummary
	for _, it := range items {
		switch it.Category {
		case models.ReconDiscrepancy:
			sum.Discrepancies++
		case models.ReconUnmatched:
			sum.Unmatched++
		case models.ReconPending:
			sum.Pending++
		case models.ReconMatched:
			sum.Matched++
		}
		if it.LocalStatus == models.PaymentConfirmed {
			sum.TotalAmountConfirmed += it.LocalAmount
		}
	}
	return sum
}
