package postgres

import (
	"context"

	"github.com/afyalink/afyalink-backend/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type auditLogsRepo struct{ pool *pgxpool.Pool }

// Insert only. The table has no UPDATE or DELETE path anywhere in the code.
func (r *auditLogsRepo) Create(ctx context.Context, l models.AuditLog) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_logs(entity_type, entity_id, from_state, to_state, acting_subsystem, reason)
		 VALUES($1,$2,$3,$4,$5,$6)`,
		l.EntityType, l.EntityID, l.FromState, l.ToState, l.ActingSubsystem, l.Reason)
	return err
}
