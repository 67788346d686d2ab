package services

import (
	"context"
	"log/slog"

	"github.com/afyalink/afyalink-backend/internal/authority"
	"github.com/afyalink/afyalink-backend/internal/models"
	repo "github.com/afyalink/afyalink-backend/internal/repository"
)

func writeAudit(logs repo.AuditLogs, entity authority.EntityType, entityID string, from, to string, acting authority.Subsystem, reason string) {
	var rp *string
	if reason != "" {
		rp = &reason
	}
	idp := &entityID
	if entityID == "" {
		idp = nil
	}
	if err := logs.Create(context.Background(), models.AuditLog{
		EntityType:      string(entity),
		EntityID:        idp,
		FromState:       from,
		ToState:         to,
		ActingSubsystem: string(acting),
		Reason:          rp,
	}); err != nil {
		slog.Error("audit write", "entity", entity, "id", entityID, "err", err)
	}
}

// EnforcementAudit records enforcement-level changes as audit entries, so
// emergency bypasses leave the same trail as any other mutation.
type EnforcementAudit struct {
	logs repo.AuditLogs
}

func NewEnforcementAudit(logs repo.AuditLogs) *EnforcementAudit {
	return &EnforcementAudit{logs: logs}
}

func (a *EnforcementAudit) LevelChanged(from, to authority.Level, actor, reason string) {
	r := reason
	if err := a.logs.Create(context.Background(), models.AuditLog{
		EntityType:      "enforcement",
		FromState:       string(from),
		ToState:         string(to),
		ActingSubsystem: actor,
		Reason:          &r,
	}); err != nil {
		slog.Error("enforcement audit write", "err", err)
	}
}
