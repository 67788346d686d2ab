package repository

import (
	"context"
	"errors"
	"time"

	"github.com/afyalink/afyalink-backend/internal/models"
)

// ErrNotFound is returned by lookups that match no row; services branch on
// this instead of storage-specific errors.
var ErrNotFound = errors.New("not found")

type Payments interface {
	Create(ctx context.Context, p models.PaymentRecord) (models.PaymentRecord, error)
	// CreateForSession creates the payment and links it to its session in
	// one transaction; neither row changes if either write fails.
	CreateForSession(ctx context.Context, p models.PaymentRecord, sessionID string) (models.PaymentRecord, error)
	GetByID(ctx context.Context, id string) (models.PaymentRecord, error)
	GetByRequestRef(ctx context.Context, requestRef string) (models.PaymentRecord, error)
	// FindByTransactionRef returns every record carrying the ref; more than
	// one is a uniqueness violation the reconciliation engine must surface.
	FindByTransactionRef(ctx context.Context, transactionRef string) ([]models.PaymentRecord, error)
	// ListWindow returns records confirmed inside the window plus
	// unconfirmed records initiated inside it, ascending by confirmation
	// (falling back to initiation) time.
	ListWindow(ctx context.Context, start, end time.Time) ([]models.PaymentRecord, error)
	ListNonTerminal(ctx context.Context) ([]models.PaymentRecord, error)
	Update(ctx context.Context, p models.PaymentRecord) error
	AppendAttempt(ctx context.Context, paymentID string, a models.PaymentAttempt) error
}

type Sessions interface {
	Create(ctx context.Context, s models.SessionRecord) (models.SessionRecord, error)
	GetByID(ctx context.Context, id string) (models.SessionRecord, error)
	UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error
	ListNonTerminal(ctx context.Context) ([]models.SessionRecord, error)
}

type AuditLogs interface {
	Create(ctx context.Context, l models.AuditLog) error
}

type ReconRuns interface {
	Create(ctx context.Context, run models.ReconciliationRun) error
	GetByID(ctx context.Context, id string) (models.ReconciliationRun, error)
	LatestForWindow(ctx context.Context, start, end time.Time) (models.ReconciliationRun, error)
}
