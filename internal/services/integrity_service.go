package services

import (
	"context"
	"fmt"
	"time"

	"github.com/afyalink/afyalink-backend/internal/authority"
	"github.com/afyalink/afyalink-backend/internal/gateway"
	"github.com/afyalink/afyalink-backend/internal/metrics"
	"github.com/afyalink/afyalink-backend/internal/models"
	repo "github.com/afyalink/afyalink-backend/internal/repository"
	"github.com/afyalink/afyalink-backend/internal/stuck"
)

type OrphanVerdict struct {
	IsOrphaned bool     `json:"is_orphaned"`
	Reasons    []string `json:"reasons,omitempty"`
}

type StuckEntity struct {
	EntityType       string        `json:"entity_type"`
	EntityID         string        `json:"entity_id"`
	State            string        `json:"state"`
	Elapsed          time.Duration `json:"elapsed"`
	ExpectedDuration time.Duration `json:"expected_duration"`
}

// IntegrityService owns the read-only health checks: the stuck-state sweep
// and the per-payment orphan check. It never mutates state.
type IntegrityService struct {
	payments repo.Payments
	sessions repo.Sessions
	gw       gateway.Client
}

func NewIntegrityService(p repo.Payments, s repo.Sessions, gw gateway.Client) *IntegrityService {
	return &IntegrityService{payments: p, sessions: s, gw: gw}
}

// OrphanCheck asks whether a payment succeeded at the gateway while the
// local record never advanced to match.
func (s *IntegrityService) OrphanCheck(ctx context.Context, paymentID string) (OrphanVerdict, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return OrphanVerdict{}, err
	}
	if p.Status == models.PaymentConfirmed || p.Status == models.PaymentRefunded {
		return OrphanVerdict{}, nil
	}

	var reasons []string
	if v := stuck.Check(authority.EntityPayment, string(p.Status), p.InitiatedAt, time.Now().UTC()); v.IsStuck {
		reasons = append(reasons, fmt.Sprintf("stuck in %s for %s", p.Status, v.Elapsed.Round(time.Second)))
	}

	ref := p.ExternalRequestRef
	if p.ExternalTransactionRef != nil {
		ref = *p.ExternalTransactionRef
	}
	ext, err := s.gw.QueryStatus(ctx, ref)
	if err != nil {
		reasons = append(reasons, models.IssueGatewayUnreachable)
		return OrphanVerdict{Reasons: reasons}, nil
	}
	if ext.Found && ext.ResultCode == 0 {
		reasons = append(reasons, fmt.Sprintf("gateway confirmed %s but local status is %s", ext.TransactionRef, p.Status))
		return OrphanVerdict{IsOrphaned: true, Reasons: reasons}, nil
	}
	return OrphanVerdict{Reasons: reasons}, nil
}

// Sweep flags every non-terminal payment and session that has overstayed
// its expected duration. Read-only; follow-up is manual or fed into the
// reconciliation engine's unmatched category.
func (s *IntegrityService) Sweep(ctx context.Context) ([]StuckEntity, error) {
	var out []StuckEntity
	now := time.Now().UTC()

	payments, err := s.payments.ListNonTerminal(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range payments {
		enteredAt := p.InitiatedAt
		if p.UpdatedAt.After(enteredAt) {
			enteredAt = p.UpdatedAt
		}
		if v := stuck.Check(authority.EntityPayment, string(p.Status), enteredAt, now); v.IsStuck {
			out = append(out, StuckEntity{
				EntityType: string(authority.EntityPayment), EntityID: p.ID,
				State: string(p.Status), Elapsed: v.Elapsed, ExpectedDuration: v.ExpectedDuration,
			})
		}
	}

	sessions, err := s.sessions.ListNonTerminal(ctx)
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		if v := stuck.Check(authority.EntitySession, string(sess.Status), sess.UpdatedAt, now); v.IsStuck {
			out = append(out, StuckEntity{
				EntityType: string(authority.EntitySession), EntityID: sess.ID,
				State: string(sess.Status), Elapsed: v.Elapsed, ExpectedDuration: v.ExpectedDuration,
			})
		}
	}

	metrics.StuckEntities.Reset()
	for _, e := range out {
		metrics.StuckEntities.WithLabelValues(e.EntityType, e.State).Inc()
	}
	return out, nil
}
