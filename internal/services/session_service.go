package services

import (
	"context"
	"fmt"
	"time"

	"github.com/afyalink/afyalink-backend/internal/authority"
	"github.com/afyalink/afyalink-backend/internal/models"
	repo "github.com/afyalink/afyalink-backend/internal/repository"
)

type SessionService struct {
	sessions repo.Sessions
	logs     repo.AuditLogs
	enf      *authority.Enforcer
}

func NewSessionService(s repo.Sessions, l repo.AuditLogs, enf *authority.Enforcer) *SessionService {
	return &SessionService{sessions: s, logs: l, enf: enf}
}

func (s *SessionService) Book(ctx context.Context, clientID, providerID, sessionType string, scheduledAt time.Time, price int64) (models.SessionRecord, error) {
	if price < 0 {
		return models.SessionRecord{}, fmt.Errorf("price must be >= 0")
	}
	return s.sessions.Create(ctx, models.SessionRecord{
		ClientID:    clientID,
		ProviderID:  providerID,
		SessionType: sessionType,
		ScheduledAt: scheduledAt,
		Price:       price,
		Status:      models.SessionPendingApproval,
	})
}

func (s *SessionService) Approve(ctx context.Context, id string, reason string) (models.SessionRecord, error) {
	return s.transition(ctx, id, models.SessionApproved, authority.SubsystemProvider, reason)
}

func (s *SessionService) Decline(ctx context.Context, id string, reason string) (models.SessionRecord, error) {
	return s.transition(ctx, id, models.SessionDeclined, authority.SubsystemProvider, reason)
}

func (s *SessionService) Cancel(ctx context.Context, id string, acting authority.Subsystem, reason string) (models.SessionRecord, error) {
	return s.transition(ctx, id, models.SessionCancelled, acting, reason)
}

func (s *SessionService) Start(ctx context.Context, id string) (models.SessionRecord, error) {
	return s.transition(ctx, id, models.SessionInProgress, authority.SubsystemProvider, "")
}

func (s *SessionService) Complete(ctx context.Context, id string) (models.SessionRecord, error) {
	return s.transition(ctx, id, models.SessionCompleted, authority.SubsystemProvider, "")
}

func (s *SessionService) GetByID(ctx context.Context, id string) (models.SessionRecord, error) {
	return s.sessions.GetByID(ctx, id)
}

func (s *SessionService) transition(ctx context.Context, id string, to models.SessionStatus, acting authority.Subsystem, reason string) (models.SessionRecord, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return models.SessionRecord{}, err
	}
	res := s.enf.Validate(authority.Request{
		EntityType:      authority.EntitySession,
		EntityID:        sess.ID,
		CurrentState:    string(sess.Status),
		ProposedState:   string(to),
		ActingSubsystem: acting,
	})
	if !res.Allowed {
		return models.SessionRecord{}, fmt.Errorf("%w: %s", ErrAuthorityViolation, res.Err)
	}
	if err := s.sessions.UpdateStatus(ctx, sess.ID, to); err != nil {
		return models.SessionRecord{}, err
	}
	writeAudit(s.logs, authority.EntitySession, sess.ID, string(sess.Status), string(to), acting, reason)
	sess.Status = to
	return sess, nil
}
