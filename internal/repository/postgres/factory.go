package postgres

import (
	repo "github.com/afyalink/afyalink-backend/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repositories struct {
	Payments  repo.Payments
	Sessions  repo.Sessions
	AuditLogs repo.AuditLogs
	ReconRuns repo.ReconRuns
}

func NewRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Payments:  &paymentsRepo{pool},
		Sessions:  &sessionsRepo{pool},
		AuditLogs: &auditLogsRepo{pool},
		ReconRuns: &reconRunsRepo{pool},
	}
}
