package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/afyalink/afyalink-backend/internal/models"
	repo "github.com/afyalink/afyalink-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type reconRunsRepo struct{ pool *pgxpool.Pool }

func (r *reconRunsRepo) Create(ctx context.Context, run models.ReconciliationRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	items, err := json.Marshal(run.Items)
	if err != nil {
		return err
	}
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO reconciliation_runs(id, window_start, window_end, executed_at, triggered_by, status, items, summary)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		run.ID, run.WindowStart, run.WindowEnd, run.ExecutedAt, run.TriggeredBy, run.Status, items, summary)
	return err
}

func (r *reconRunsRepo) GetByID(ctx context.Context, id string) (models.ReconciliationRun, error) {
	return r.scan(r.pool.QueryRow(ctx,
		`SELECT id, window_start, window_end, executed_at, triggered_by, status, items, summary
		   FROM reconciliation_runs WHERE id=$1`, id))
}

func (r *reconRunsRepo) LatestForWindow(ctx context.Context, start, end time.Time) (models.ReconciliationRun, error) {
	return r.scan(r.pool.QueryRow(ctx,
		`SELECT id, window_start, window_end, executed_at, triggered_by, status, items, summary
		   FROM reconciliation_runs
		  WHERE window_start=$1 AND window_end=$2
		  ORDER BY executed_at DESC
		  LIMIT 1`, start, end))
}

func (r *reconRunsRepo) scan(row pgx.Row) (models.ReconciliationRun, error) {
	var run models.ReconciliationRun
	var items, summary []byte
	err := row.Scan(&run.ID, &run.WindowStart, &run.WindowEnd, &run.ExecutedAt,
		&run.TriggeredBy, &run.Status, &items, &summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return run, repo.ErrNotFound
	}
	if err != nil {
		return run, err
	}
	if err := json.Unmarshal(items, &run.Items); err != nil {
		return run, err
	}
	if err := json.Unmarshal(summary, &run.Summary); err != nil {
		return run, err
	}
	return run, nil
}
