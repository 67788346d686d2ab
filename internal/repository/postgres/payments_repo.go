package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/afyalink/afyalink-backend/internal/models"
	repo "github.com/afyalink/afyalink-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type paymentsRepo struct{ pool *pgxpool.Pool }

const paymentCols = `id, session_id, external_request_ref, external_transaction_ref,
	amount_expected, amount_confirmed, payer_identifier, status, result_code,
	initiated_at, confirmed_at, updated_at`

func (r *paymentsRepo) scan(row pgx.Row) (models.PaymentRecord, error) {
	var p models.PaymentRecord
	err := row.Scan(&p.ID, &p.SessionID, &p.ExternalRequestRef, &p.ExternalTransactionRef,
		&p.AmountExpected, &p.AmountConfirmed, &p.PayerIdentifier, &p.Status, &p.ResultCode,
		&p.InitiatedAt, &p.ConfirmedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, repo.ErrNotFound
	}
	return p, err
}

// rowQuerier is satisfied by both the pool and a pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *paymentsRepo) insert(ctx context.Context, q rowQuerier, p models.PaymentRecord) (models.PaymentRecord, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	const sql = `
INSERT INTO payments (
  id, session_id, external_request_ref, external_transaction_ref,
  amount_expected, amount_confirmed, payer_identifier, status, result_code,
  initiated_at, confirmed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING ` + paymentCols
	return r.scan(q.QueryRow(ctx, sql,
		p.ID, p.SessionID, p.ExternalRequestRef, p.ExternalTransactionRef,
		p.AmountExpected, p.AmountConfirmed, p.PayerIdentifier, p.Status, p.ResultCode,
		p.InitiatedAt, p.ConfirmedAt,
	))
}

func (r *paymentsRepo) Create(ctx context.Context, p models.PaymentRecord) (models.PaymentRecord, error) {
	return r.insert(ctx, r.pool, p)
}

// CreateForSession writes the payment row and the session's payment link in
// one transaction, so a failed link never leaves a dangling payment.
func (r *paymentsRepo) CreateForSession(ctx context.Context, p models.PaymentRecord, sessionID string) (models.PaymentRecord, error) {
	sid := sessionID
	p.SessionID = &sid

	var out models.PaymentRecord
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		rec, err := r.insert(ctx, tx, p)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE sessions SET payment_id=$2, updated_at=now() WHERE id=$1`, sessionID, rec.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return repo.ErrNotFound
		}
		out = rec
		return nil
	})
	return out, err
}

func (r *paymentsRepo) GetByID(ctx context.Context, id string) (models.PaymentRecord, error) {
	p, err := r.scan(r.pool.QueryRow(ctx, `SELECT `+paymentCols+` FROM payments WHERE id=$1`, id))
	if err != nil {
		return p, err
	}
	return r.withAttempts(ctx, p)
}

func (r *paymentsRepo) GetByRequestRef(ctx context.Context, requestRef string) (models.PaymentRecord, error) {
	p, err := r.scan(r.pool.QueryRow(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE external_request_ref=$1`, requestRef))
	if err != nil {
		return p, err
	}
	return r.withAttempts(ctx, p)
}

func (r *paymentsRepo) FindByTransactionRef(ctx context.Context, transactionRef string) ([]models.PaymentRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE external_transaction_ref=$1 ORDER BY initiated_at`, transactionRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *paymentsRepo) ListWindow(ctx context.Context, start, end time.Time) ([]models.PaymentRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentCols+` FROM payments
		  WHERE (confirmed_at >= $1 AND confirmed_at <= $2)
		     OR (confirmed_at IS NULL AND initiated_at >= $1 AND initiated_at <= $2)
		  ORDER BY COALESCE(confirmed_at, initiated_at), id`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *paymentsRepo) ListNonTerminal(ctx context.Context) ([]models.PaymentRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentCols+` FROM payments
		  WHERE status NOT IN ('confirmed','failed','refunded')
		  ORDER BY initiated_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *paymentsRepo) Update(ctx context.Context, p models.PaymentRecord) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE payments
		    SET external_transaction_ref=$2, amount_confirmed=$3, status=$4,
		        result_code=$5, confirmed_at=$6, updated_at=now()
		  WHERE id=$1`,
		p.ID, p.ExternalTransactionRef, p.AmountConfirmed, p.Status, p.ResultCode, p.ConfirmedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *paymentsRepo) AppendAttempt(ctx context.Context, paymentID string, a models.PaymentAttempt) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO payment_attempts(payment_id, at, outcome, detail) VALUES($1,$2,$3,$4)`,
		paymentID, a.At, a.Outcome, a.Detail)
	return err
}

func (r *paymentsRepo) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (r *paymentsRepo) collect(rows pgx.Rows) ([]models.PaymentRecord, error) {
	var out []models.PaymentRecord
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *paymentsRepo) withAttempts(ctx context.Context, p models.PaymentRecord) (models.PaymentRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT at, outcome, detail FROM payment_attempts WHERE payment_id=$1 ORDER BY at, id`, p.ID)
	if err != nil {
		return p, err
	}
	defer rows.Close()
	for rows.Next() {
		var a models.PaymentAttempt
		if err := rows.Scan(&a.At, &a.Outcome, &a.Detail); err != nil {
			return p, err
		}
		p.Attempts = append(p.Attempts, a)
	}
	return p, rows.Err()
}
