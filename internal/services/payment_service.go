package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/afyalink/afyalink-backend/internal/authority"
	"github.com/afyalink/afyalink-backend/internal/gateway"
	"github.com/afyalink/afyalink-backend/internal/metrics"
	"github.com/afyalink/afyalink-backend/internal/models"
	repo "github.com/afyalink/afyalink-backend/internal/repository"
	"github.com/afyalink/afyalink-backend/internal/worker"
	"github.com/google/uuid"
)

// Notifier is the seam to whatever delivers user-facing notifications.
// Delivery mechanics live outside this service.
type Notifier interface {
	SessionConfirmed(s models.SessionRecord)
}

// PaymentEvent is one delivery from the gateway, already transport-decoded.
// The same real-world event may arrive any number of times, in any order.
type PaymentEvent struct {
	RequestRef      string
	TransactionRef  string // empty for non-terminal events
	ResultCode      int
	ResultDesc      string
	Amount          *int64
	PayerIdentifier string
	OccurredAt      time.Time
}

// PaymentService is the single funnel for payment mutations. Everything the
// gateway tells us goes through ApplyPaymentEvent, which guarantees each
// real-world event changes state exactly once.
type PaymentService struct {
	payments repo.Payments
	sessions repo.Sessions
	logs     repo.AuditLogs
	enf      *authority.Enforcer
	gw       gateway.Client
	wp       *worker.Pool
	notify   Notifier

	// per-request-ref serialization; concurrent deliveries of the same
	// callback take turns here, so the duplicate check cannot race itself.
	locks sync.Map
}

func NewPaymentService(p repo.Payments, s repo.Sessions, l repo.AuditLogs,
	enf *authority.Enforcer, gw gateway.Client, wp *worker.Pool, n Notifier) *PaymentService {
	return &PaymentService{payments: p, sessions: s, logs: l, enf: enf, gw: gw, wp: wp, notify: n}
}

func (s *PaymentService) lock(requestRef string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(requestRef, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Initiate creates the local record and asks the gateway to push a payment
// prompt to the payer. The session must already be provider-approved.
func (s *PaymentService) Initiate(ctx context.Context, sessionID, payerIdentifier string) (models.PaymentRecord, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return models.PaymentRecord{}, err
	}
	if sess.Status != models.SessionApproved {
		return models.PaymentRecord{}, fmt.Errorf("session %s is %s, not approved", sessionID, sess.Status)
	}

	id := uuid.NewString()
	requestRef, err := s.gw.InitiatePayment(ctx, gateway.InitiateRequest{
		Amount:          sess.Price,
		PayerIdentifier: payerIdentifier,
		CorrelationRef:  id,
	})
	if err != nil {
		return models.PaymentRecord{}, fmt.Errorf("initiate payment: %w", err)
	}

	res := s.enf.Validate(authority.Request{
		EntityType:      authority.EntityPayment,
		EntityID:        id,
		CurrentState:    string(models.PaymentNotStarted),
		ProposedState:   string(models.PaymentInitiated),
		ActingSubsystem: authority.SubsystemPayment,
	})
	if !res.Allowed {
		return models.PaymentRecord{}, fmt.Errorf("%w: %s", ErrAuthorityViolation, res.Err)
	}

	rec, err := s.payments.CreateForSession(ctx, models.PaymentRecord{
		ID:                 id,
		ExternalRequestRef: requestRef,
		AmountExpected:     sess.Price,
		PayerIdentifier:    payerIdentifier,
		Status:             models.PaymentInitiated,
		InitiatedAt:        time.Now().UTC(),
	}, sess.ID)
	if err != nil {
		return models.PaymentRecord{}, err
	}
	writeAudit(s.logs, authority.EntityPayment, rec.ID,
		string(models.PaymentNotStarted), string(models.PaymentInitiated),
		authority.SubsystemPayment, "stk push sent")
	return rec, nil
}

// ApplyPaymentEvent applies one gateway event idempotently. Duplicates and
// stale deliveries are absorbed (recorded, never applied) and reported as
// success so the gateway stops retrying.
func (s *PaymentService) ApplyPaymentEvent(ctx context.Context, ev PaymentEvent) (models.PaymentRecord, error) {
	if ev.RequestRef == "" {
		return models.PaymentRecord{}, errors.New("event missing request ref")
	}
	mu := s.lock(ev.RequestRef)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.payments.GetByRequestRef(ctx, ev.RequestRef)
	if errors.Is(err, repo.ErrNotFound) {
		// a callback for a request we never recorded: create the attempt
		// so reconciliation sees it, rather than dropping money on the floor
		rec, err = s.payments.Create(ctx, models.PaymentRecord{
			ExternalRequestRef: ev.RequestRef,
			AmountExpected:     amountOrZero(ev.Amount),
			PayerIdentifier:    ev.PayerIdentifier,
			Status:             models.PaymentInitiated,
			InitiatedAt:        occurredAt(ev),
		})
		if err != nil {
			return models.PaymentRecord{}, err
		}
		writeAudit(s.logs, authority.EntityPayment, rec.ID,
			string(models.PaymentNotStarted), string(models.PaymentInitiated),
			authority.SubsystemPayment, "created from callback")
	} else if err != nil {
		return models.PaymentRecord{}, err
	}

	// duplicate delivery: this transaction ref is already confirmed
	if ev.TransactionRef != "" {
		existing, err := s.payments.FindByTransactionRef(ctx, ev.TransactionRef)
		if err != nil {
			return models.PaymentRecord{}, err
		}
		for _, e := range existing {
			if e.Status == models.PaymentConfirmed {
				s.recordAttempt(ctx, e.ID, outcomeDuplicate, "redelivery of "+ev.TransactionRef)
				slog.Info("duplicate delivery ignored", "payment", e.ID, "transaction_ref", ev.TransactionRef)
				return e, nil
			}
		}
	}

	proposed := statusForEvent(ev)

	// ignored-stale: never move status backward, never flip a terminal state
	if proposed.Rank() < rec.Status.Rank() || (rec.Status.Terminal() && proposed != rec.Status) {
		s.recordAttempt(ctx, rec.ID, outcomeStale, fmt.Sprintf("%s after %s", proposed, rec.Status))
		slog.Info("stale event ignored", "payment", rec.ID, "current", rec.Status, "proposed", proposed)
		return rec, nil
	}
	if proposed == rec.Status {
		s.recordAttempt(ctx, rec.ID, outcomeDuplicate, "repeat "+string(proposed))
		return rec, nil
	}

	res := s.enf.Validate(authority.Request{
		EntityType:      authority.EntityPayment,
		EntityID:        rec.ID,
		CurrentState:    string(rec.Status),
		ProposedState:   string(proposed),
		ActingSubsystem: authority.SubsystemPayment,
	})
	if !res.Allowed {
		s.recordAttempt(ctx, rec.ID, outcomeRejected, res.Err)
		return rec, fmt.Errorf("%w: %s", ErrAuthorityViolation, res.Err)
	}

	from := rec.Status
	rec.Status = proposed
	rec.ResultCode = &ev.ResultCode
	if proposed == models.PaymentConfirmed {
		txRef := ev.TransactionRef
		rec.ExternalTransactionRef = &txRef
		confirmed := amountOrZero(ev.Amount)
		if confirmed == 0 {
			confirmed = rec.AmountExpected
		}
		rec.AmountConfirmed = &confirmed
		at := occurredAt(ev)
		rec.ConfirmedAt = &at
	}
	if err := s.payments.Update(ctx, rec); err != nil {
		return models.PaymentRecord{}, err
	}
	s.recordAttempt(ctx, rec.ID, outcomeApplied, ev.ResultDesc)
	writeAudit(s.logs, authority.EntityPayment, rec.ID, string(from), string(proposed),
		authority.SubsystemPayment, ev.ResultDesc)
	metrics.PaymentEventsTotal.WithLabelValues(outcomeApplied).Inc()

	if proposed == models.PaymentConfirmed && rec.SessionID != nil {
		s.confirmSession(ctx, *rec.SessionID, rec.ID)
	}
	return rec, nil
}

// confirmSession is the one downstream side effect of a confirmed payment.
// It runs at most once per payment because ApplyPaymentEvent only reaches it
// on the first transition into Confirmed.
func (s *PaymentService) confirmSession(ctx context.Context, sessionID, paymentID string) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		slog.Error("confirm session lookup", "session", sessionID, "err", err)
		return
	}
	res := s.enf.Validate(authority.Request{
		EntityType:      authority.EntitySession,
		EntityID:        sess.ID,
		CurrentState:    string(sess.Status),
		ProposedState:   string(models.SessionConfirmed),
		ActingSubsystem: authority.SubsystemPayment,
	})
	if !res.Allowed {
		slog.Error("session confirm denied", "session", sess.ID, "status", sess.Status, "err", res.Err)
		return
	}
	if err := s.sessions.UpdateStatus(ctx, sess.ID, models.SessionConfirmed); err != nil {
		slog.Error("session confirm", "session", sess.ID, "err", err)
		return
	}
	writeAudit(s.logs, authority.EntitySession, sess.ID,
		string(sess.Status), string(models.SessionConfirmed),
		authority.SubsystemPayment, "payment "+paymentID+" confirmed")

	sess.Status = models.SessionConfirmed
	if s.notify != nil {
		s.wp.Submit(func() { s.notify.SessionConfirmed(sess) })
	}
}

func (s *PaymentService) GetByID(ctx context.Context, id string) (models.PaymentRecord, error) {
	return s.payments.GetByID(ctx, id)
}

func (s *PaymentService) recordAttempt(ctx context.Context, paymentID, outcome, detail string) {
	if err := s.payments.AppendAttempt(ctx, paymentID, models.PaymentAttempt{
		At:      time.Now().UTC(),
		Outcome: outcome,
		Detail:  detail,
	}); err != nil {
		slog.Error("append attempt", "payment", paymentID, "err", err)
	}
	if outcome != outcomeApplied {
		metrics.PaymentEventsTotal.WithLabelValues(outcome).Inc()
	}
}

func statusForEvent(ev PaymentEvent) models.PaymentStatus {
	switch {
	case ev.ResultCode == 0 && ev.TransactionRef != "":
		return models.PaymentConfirmed
	case ev.ResultCode != 0:
		return models.PaymentFailed
	default:
		return models.PaymentProcessing
	}
}

func amountOrZero(a *int64) int64 {
	if a == nil {
		return 0
	}
	return *a
}

func occurredAt(ev PaymentEvent) time.Time {
	if ev.OccurredAt.IsZero() {
		return time.Now().UTC()
	}
	return ev.OccurredAt
}
