package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/afyalink/afyalink-backend/internal/gateway"
	"github.com/afyalink/afyalink-backend/internal/models"
)

var (
	winStart = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	winEnd   = time.Date(2025, 6, 1, 23, 59, 59, 0, time.UTC)
	reconWin = Window{Start: winStart, End: winEnd}
)

type reconFixture struct {
	payments *fakePayments
	sessions *fakeSessions
	runs     *fakeRuns
	gw       *fakeGateway
	svc      *ReconcileService
}

func newReconFixture() *reconFixture {
	sessions := newFakeSessions()
	f := &reconFixture{
		payments: newFakePayments(sessions),
		sessions: sessions,
		runs:     &fakeRuns{},
		gw:       newFakeGateway(),
	}
	f.svc = NewReconcileService(f.payments, f.sessions, f.runs, f.gw, 4)
	return f
}

func (f *reconFixture) confirmedPayment(t *testing.T, txRef string, amount int64, at time.Time) models.PaymentRecord {
	t.Helper()
	p, err := f.payments.Create(context.Background(), models.PaymentRecord{
		ExternalRequestRef:     "REQ-" + txRef,
		ExternalTransactionRef: &txRef,
		AmountExpected:         amount,
		AmountConfirmed:        &amount,
		PayerIdentifier:        "254712345678",
		Status:                 models.PaymentConfirmed,
		ResultCode:             ptr(0),
		InitiatedAt:            at.Add(-2 * time.Minute),
		ConfirmedAt:            &at,
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func (f *reconFixture) gatewayAgrees(txRef string, amount int64) {
	f.gw.statuses[txRef] = gateway.StatusResult{
		Found: true, Amount: amount, ResultCode: 0, TransactionRef: txRef, Status: "completed",
	}
}

func itemFor(t *testing.T, run models.ReconciliationRun, paymentID string) models.ReconItem {
	t.Helper()
	for _, it := range run.Items {
		if it.PaymentID == paymentID {
			return it
		}
	}
	t.Fatalf("no item for payment %s", paymentID)
	return models.ReconItem{}
}

func TestReconcileMatched(t *testing.T) {
	f := newReconFixture()
	p := f.confirmedPayment(t, "TXN1", 2500, winStart.Add(10*time.Hour))
	f.gatewayAgrees("TXN1", 2500)

	run, err := f.svc.Reconcile(context.Background(), reconWin, ReconFilters{}, "admin")
	if err != nil {
		t.Fatal(err)
	}
	it := itemFor(t, run, p.ID)
	if it.Category != models.ReconMatched {
		t.Errorf("category = %s, want matched, issues %v", it.Category, it.Issues)
	}
	if run.Summary.Matched != 1 || run.Summary.TotalAmountConfirmed != 2500 {
		t.Errorf("summary = %+v", run.Summary)
	}
	if run.Status != models.RunCompleted {
		t.Errorf("status = %s", run.Status)
	}
}

func TestReconcileAmountMismatch(t *testing.T) {
	f := newReconFixture()
	// local recorded 2550 in minor units, gateway settled 2500
	p := f.confirmedPayment(t, "TXN1", 2550, winStart.Add(time.Hour))
	f.gatewayAgrees("TXN1", 2500)

	run, err := f.svc.Reconcile(context.Background(), reconWin, ReconFilters{}, "admin")
	if err != nil {
		t.Fatal(err)
	}
	it := itemFor(t, run, p.ID)
	if it.Category != models.ReconDiscrepancy {
		t.Fatalf("category = %s, want discrepancy", it.Category)
	}
	if !hasIssue(it, models.IssueAmountMismatch) {
		t.Errorf("issues = %v, want amount_mismatch", it.Issues)
	}
}

func TestReconcileResultCodeMismatch(t *testing.T) {
	f := newReconFixture()
	p := f.confirmedPayment(t, "TXN1", 2500, winStart.Add(time.Hour))
	f.gw.statuses["TXN1"] = gateway.StatusResult{
		Found: true, Amount: 2500, ResultCode: 1032, TransactionRef: "TXN1", Status: "cancelled",
	}

	run, _ := f.svc.Reconcile(context.Background(), reconWin, ReconFilters{}, "admin")
	it := itemFor(t, run, p.ID)
	if it.Category != models.ReconDiscrepancy || !hasIssue(it, models.IssueResultCodeMismatch) {
		t.Errorf("got %s %v, want discrepancy with result_code_mismatch", it.Category, it.Issues)
	}
}

func TestReconcileTransactionRefChanged(t *testing.T) {
	f := newReconFixture()
	p := f.confirmedPayment(t, "TXN1", 2500, winStart.Add(time.Hour))
	f.gw.statuses["TXN1"] = gateway.StatusResult{
		Found: true, Amount: 2500, ResultCode: 0, TransactionRef: "TXN1-CORRECTED", Status: "completed",
	}

	run, _ := f.svc.Reconcile(context.Background(), reconWin, ReconFilters{}, "admin")
	it := itemFor(t, run, p.ID)
	if it.Category != models.ReconDiscrepancy || !hasIssue(it, models.IssueTransactionRefChanged) {
		t.Errorf("got %s %v, want discrepancy with transaction_ref_changed", it.Category, it.Issues)
	}
}

func TestReconcileDuplicateTransactionRefs(t *testing.T) {
	f := newReconFixture()
	dup := "TXN-DUP"
	var ids []string
	for i := 0; i < 2; i++ {
		p, err := f.payments.Create(context.Background(), models.PaymentRecord{
			ExternalRequestRef:     fmt.Sprintf("REQ-%d", i),
			ExternalTransactionRef: &dup,
			AmountExpected:         2500,
			AmountConfirmed:        ptr(int64(2500)),
			PayerIdentifier:        "254712345678",
			Status:                 models.PaymentConfirmed,
			InitiatedAt:            winStart.Add(time.Hour),
			ConfirmedAt:            ptr(winStart.Add(2 * time.Hour)),
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, p.ID)
	}
	f.gatewayAgrees(dup, 2500)

	run, _ := f.svc.Reconcile(context.Background(), reconWin, ReconFilters{}, "admin")
	for _, id := range ids {
		it := itemFor(t, run, id)
		if it.Category != models.ReconDiscrepancy || !hasIssue(it, models.IssueDuplicateTransaction) {
			t.Errorf("payment %s: got %s %v, want duplicate_transaction discrepancy", id, it.Category, it.Issues)
		}
	}
	if run.Summary.Discrepancies != 2 {
		t.Errorf("discrepancies = %d, want 2", run.Summary.Discrepancies)
	}
}

func TestReconcileOrphanedPayment(t *testing.T) {
	f := newReconFixture()
	// stuck in processing well past its budget, but the gateway says paid
	p, _ := f.payments.Create(context.Background(), models.PaymentRecord{
		ExternalRequestRef: "REQ-orphan",
		AmountExpected:     3000,
		PayerIdentifier:    "254700111222",
		Status:             models.PaymentProcessing,
		InitiatedAt:        winStart.Add(time.Hour),
	})
	f.gw.statuses["REQ-orphan"] = gateway.StatusResult{
		Found: true, Amount: 3000, ResultCode: 0, TransactionRef: "TXN9", Status: "completed",
	}

	run, _ := f.svc.Reconcile(context.Background(), reconWin, ReconFilters{}, "admin")
	it := itemFor(t, run, p.ID)
	if it.Category != models.ReconDiscrepancy || !hasIssue(it, models.IssueStatusMismatch) {
		t.Errorf("got %s %v, want discrepancy with status_mismatch", it.Category, it.Issues)
	}
}

func TestReconcilePendingWithinBudget(t *testing.T) {
	f := newReconFixture()
	now := time.Now().UTC()
	p, _ := f.payments.Create(context.Background(), models.PaymentRecord{
		ExternalRequestRef: "REQ-fresh",
		AmountExpected:     2000,
		PayerIdentifier:    "254700111222",
		Status:             models.PaymentInitiated,
		InitiatedAt:        now.Add(-time.Minute),
	})
	// gateway has nothing yet

	win := Window{Start: now.Add(-time.Hour), End: now.Add(time.Hour)}
	run, _ := f.svc.Reconcile(context.Background(), win, ReconFilters{}, "admin")
	it := itemFor(t, run, p.ID)
	if it.Category != models.ReconPending {
		t.Errorf("category = %s, want pending (issues %v)", it.Category, it.Issues)
	}
}

func TestReconcileGatewayFailureIsolation(t *testing.T) {
	f := newReconFixture()
	var failing string
	for i := 0; i < 50; i++ {
		ref := fmt.Sprintf("TXN-%02d", i)
		p := f.confirmedPayment(t, ref, 2500, winStart.Add(time.Duration(i)*time.Minute))
		if i == 7 {
			failing = p.ID
			f.gw.errs[ref] = errors.New("dial tcp: i/o timeout")
		} else {
			f.gatewayAgrees(ref, 2500)
		}
	}

	run, err := f.svc.Reconcile(context.Background(), reconWin, ReconFilters{}, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != models.RunCompleted {
		t.Fatalf("run status = %s, want completed", run.Status)
	}
	it := itemFor(t, run, failing)
	if it.Category != models.ReconUnmatched || !hasIssue(it, models.IssueGatewayUnreachable) {
		t.Errorf("failing item: got %s %v", it.Category, it.Issues)
	}
	if run.Summary.Matched != 49 || run.Summary.Unmatched != 1 {
		t.Errorf("summary = %+v, want 49 matched / 1 unmatched", run.Summary)
	}
}

func TestReconcileCategoriesExhaustiveAndOrdered(t *testing.T) {
	f := newReconFixture()
	m := f.confirmedPayment(t, "TXN-OK", 2500, winStart.Add(20*time.Hour))
	f.gatewayAgrees("TXN-OK", 2500)
	d := f.confirmedPayment(t, "TXN-BAD", 2500, winStart.Add(22*time.Hour))
	f.gatewayAgrees("TXN-BAD", 9999)
	u := f.confirmedPayment(t, "TXN-GONE", 2500, winStart.Add(1*time.Hour))
	// TXN-GONE absent at the gateway entirely

	run, _ := f.svc.Reconcile(context.Background(), reconWin, ReconFilters{}, "admin")
	if len(run.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(run.Items))
	}
	// every record in exactly one category
	total := run.Summary.Discrepancies + run.Summary.Unmatched + run.Summary.Pending + run.Summary.Matched
	if total != 3 {
		t.Errorf("summary total = %d, want 3", total)
	}
	// problems first
	if run.Items[0].PaymentID != d.ID {
		t.Errorf("first item = %s, want discrepancy %s", run.Items[0].PaymentID, d.ID)
	}
	if run.Items[1].PaymentID != u.ID {
		t.Errorf("second item = %s, want unmatched %s", run.Items[1].PaymentID, u.ID)
	}
	if run.Items[2].PaymentID != m.ID {
		t.Errorf("third item = %s, want matched %s", run.Items[2].PaymentID, m.ID)
	}
}

func TestReconcileFilters(t *testing.T) {
	f := newReconFixture()
	sessA, _ := f.sessions.Create(context.Background(), models.SessionRecord{ClientID: "client-a", ProviderID: "prov-1", Status: models.SessionConfirmed})
	sessB, _ := f.sessions.Create(context.Background(), models.SessionRecord{ClientID: "client-b", ProviderID: "prov-1", Status: models.SessionConfirmed})

	pa := f.confirmedPayment(t, "TXN-A", 2500, winStart.Add(time.Hour))
	pb := f.confirmedPayment(t, "TXN-B", 2500, winStart.Add(2*time.Hour))
	linkSession := func(p models.PaymentRecord, sessID string) {
		rec, _ := f.payments.GetByID(context.Background(), p.ID)
		rec.SessionID = &sessID
		_ = f.payments.Update(context.Background(), rec)
	}
	linkSession(pa, sessA.ID)
	linkSession(pb, sessB.ID)
	f.gatewayAgrees("TXN-A", 2500)
	f.gatewayAgrees("TXN-B", 2500)

	run, err := f.svc.Reconcile(context.Background(), reconWin, ReconFilters{ClientID: "client-a"}, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Items) != 1 || run.Items[0].PaymentID != pa.ID {
		t.Errorf("filtered run should only contain client-a's payment, got %d items", len(run.Items))
	}
}

func TestReconcileCancelLetsInFlightLookupFinish(t *testing.T) {
	f := newReconFixture()
	p := f.confirmedPayment(t, "TXN1", 2500, winStart.Add(time.Hour))
	f.gatewayAgrees("TXN1", 2500)

	// cancel lands while the lookup is in flight; the lookup must still
	// complete and classify from the gateway's answer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.gw.onQuery = func(string) { cancel() }

	run, err := f.svc.Reconcile(ctx, reconWin, ReconFilters{}, "admin")
	if err != nil {
		t.Fatal(err)
	}
	it := itemFor(t, run, p.ID)
	if it.Category != models.ReconMatched {
		t.Errorf("category = %s (issues %v), want matched", it.Category, it.Issues)
	}
}

func TestReconcileCancelledRunPersistsPartial(t *testing.T) {
	f := newReconFixture()
	f.confirmedPayment(t, "TXN1", 2500, winStart.Add(time.Hour))
	f.gatewayAgrees("TXN1", 2500)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := f.svc.Reconcile(ctx, reconWin, ReconFilters{}, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != models.RunCancelled {
		t.Errorf("status = %s, want cancelled", run.Status)
	}
	// the partial run is still persisted
	if got, err := f.runs.LatestForWindow(context.Background(), winStart, winEnd); err != nil || got.ID != run.ID {
		t.Errorf("cancelled run not persisted: %v", err)
	}
}

func TestOrphanCheck(t *testing.T) {
	f := newReconFixture()
	integrity := NewIntegrityService(f.payments, f.sessions, f.gw)

	p, _ := f.payments.Create(context.Background(), models.PaymentRecord{
		ExternalRequestRef: "REQ-1",
		AmountExpected:     2500,
		Status:             models.PaymentProcessing,
		InitiatedAt:        time.Now().Add(-time.Hour),
	})
	f.gw.statuses["REQ-1"] = gateway.StatusResult{
		Found: true, Amount: 2500, ResultCode: 0, TransactionRef: "TXN1", Status: "completed",
	}

	v, err := integrity.OrphanCheck(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsOrphaned {
		t.Errorf("verdict = %+v, want orphaned", v)
	}
	if len(v.Reasons) == 0 {
		t.Error("expected reasons")
	}

	// a confirmed payment is never orphaned
	c := f.confirmedPayment(t, "TXN-OK", 2500, time.Now().UTC())
	v, err = integrity.OrphanCheck(context.Background(), c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if v.IsOrphaned {
		t.Error("confirmed payment flagged orphaned")
	}
}

func TestSweepFindsStuckEntities(t *testing.T) {
	f := newReconFixture()
	integrity := NewIntegrityService(f.payments, f.sessions, f.gw)

	stuckP, _ := f.payments.Create(context.Background(), models.PaymentRecord{
		ExternalRequestRef: "REQ-stuck",
		Status:             models.PaymentInitiated,
		InitiatedAt:        time.Now().Add(-time.Hour),
	})
	f.payments.mu.Lock()
	f.payments.byID[stuckP.ID].UpdatedAt = time.Now().Add(-time.Hour)
	f.payments.mu.Unlock()
	_, _ = f.payments.Create(context.Background(), models.PaymentRecord{
		ExternalRequestRef: "REQ-fresh",
		Status:             models.PaymentInitiated,
		InitiatedAt:        time.Now(),
	})

	out, err := integrity.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].EntityID != stuckP.ID {
		t.Errorf("sweep = %+v, want only %s", out, stuckP.ID)
	}
}

func hasIssue(it models.ReconItem, issue string) bool {
	for _, i := range it.Issues {
		if i == issue {
			return true
		}
	}
	return false
}
