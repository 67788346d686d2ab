// Package scheduler drives the periodic jobs: the daily reconciliation run
// and the stuck-state sweep.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/afyalink/afyalink-backend/internal/services"
	"github.com/robfig/cron/v3"
)

type Scheduler struct {
	cron      *cron.Cron
	recon     *services.ReconcileService
	integrity *services.IntegrityService
}

// New wires the cron entries. reconcileSpec is a standard 5-field cron spec
// for the daily run; sweepEvery is the stuck-sweep cadence.
func New(recon *services.ReconcileService, integrity *services.IntegrityService, reconcileSpec string, sweepEvery time.Duration) (*Scheduler, error) {
	s := &Scheduler{cron: cron.New(), recon: recon, integrity: integrity}

	if _, err := s.cron.AddFunc(reconcileSpec, s.runDaily); err != nil {
		return nil, fmt.Errorf("reconcile cron %q: %w", reconcileSpec, err)
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", sweepEvery), s.runSweep); err != nil {
		return nil, fmt.Errorf("sweep cadence: %w", err)
	}
	return s, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// runDaily reconciles yesterday: [00:00:00, 23:59:59] UTC.
func (s *Scheduler) runDaily() {
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	win := services.Window{
		Start: dayStart,
		End:   dayStart.Add(24*time.Hour - time.Second),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	if _, err := s.recon.Reconcile(ctx, win, services.ReconFilters{}, "scheduler"); err != nil {
		slog.Error("scheduled reconciliation", "err", err)
	}
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	stuck, err := s.integrity.Sweep(ctx)
	if err != nil {
		slog.Error("stuck sweep", "err", err)
		return
	}
	for _, e := range stuck {
		slog.Warn("stuck entity", "entity", e.EntityType, "id", e.EntityID,
			"state", e.State, "elapsed", e.Elapsed, "expected", e.ExpectedDuration)
	}
}
