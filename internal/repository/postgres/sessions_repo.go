package postgres

import (
	"context"
	"errors"

	"github.com/afyalink/afyalink-backend/internal/models"
	repo "github.com/afyalink/afyalink-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type sessionsRepo struct{ pool *pgxpool.Pool }

const sessionCols = `id, client_id, provider_id, session_type, scheduled_at, price,
	status, payment_id, created_at, updated_at`

func (r *sessionsRepo) scan(row pgx.Row) (models.SessionRecord, error) {
	var s models.SessionRecord
	err := row.Scan(&s.ID, &s.ClientID, &s.ProviderID, &s.SessionType, &s.ScheduledAt,
		&s.Price, &s.Status, &s.PaymentID, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, repo.ErrNotFound
	}
	return s, err
}

func (r *sessionsRepo) Create(ctx context.Context, s models.SessionRecord) (models.SessionRecord, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	const q = `
INSERT INTO sessions (id, client_id, provider_id, session_type, scheduled_at, price, status, payment_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING ` + sessionCols
	return r.scan(r.pool.QueryRow(ctx, q,
		s.ID, s.ClientID, s.ProviderID, s.SessionType, s.ScheduledAt, s.Price, s.Status, s.PaymentID))
}

func (r *sessionsRepo) GetByID(ctx context.Context, id string) (models.SessionRecord, error) {
	return r.scan(r.pool.QueryRow(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id=$1`, id))
}

func (r *sessionsRepo) UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET status=$2, updated_at=now() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *sessionsRepo) ListNonTerminal(ctx context.Context) ([]models.SessionRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionCols+` FROM sessions
		  WHERE status NOT IN ('declined','cancelled','completed')
		  ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SessionRecord
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
