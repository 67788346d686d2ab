package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/afyalink/afyalink-backend/internal/api"
	"github.com/afyalink/afyalink-backend/internal/auth"
	"github.com/afyalink/afyalink-backend/internal/authority"
	"github.com/afyalink/afyalink-backend/internal/config"
	"github.com/afyalink/afyalink-backend/internal/db"
	"github.com/afyalink/afyalink-backend/internal/gateway"
	"github.com/afyalink/afyalink-backend/internal/logger"
	"github.com/afyalink/afyalink-backend/internal/metrics"
	"github.com/afyalink/afyalink-backend/internal/models"
	"github.com/afyalink/afyalink-backend/internal/repository/postgres"
	"github.com/afyalink/afyalink-backend/internal/scheduler"
	"github.com/afyalink/afyalink-backend/internal/services"
	"github.com/afyalink/afyalink-backend/internal/worker"
)

// logNotifier stands in for the real notification pipeline; delivery
// mechanics live in another service.
type logNotifier struct{}

func (logNotifier) SessionConfirmed(s models.SessionRecord) {
	slog.Info("session confirmed", "session", s.ID, "client", s.ClientID, "provider", s.ProviderID)
}

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if os.Getenv("APP_MIGRATE") == "true" {
		if err := db.RunMigrations(ctx, pool); err != nil {
			log.Error("migrations", "err", err)
			os.Exit(1)
		}
	}

	metrics.Init()

	repos := postgres.NewRepositories(pool)
	wp := worker.NewPool(4)
	defer wp.Stop()

	level, err := authority.ParseLevel(cfg.Enforcement)
	if err != nil {
		log.Error("enforcement config", "err", err)
		os.Exit(1)
	}
	enf := authority.NewEnforcer(level, services.NewEnforcementAudit(repos.AuditLogs))

	gw := gateway.NewHTTPClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayTimeout)
	tm := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, 12*time.Hour)

	paymentSvc := services.NewPaymentService(repos.Payments, repos.Sessions, repos.AuditLogs, enf, gw, wp, logNotifier{})
	sessionSvc := services.NewSessionService(repos.Sessions, repos.AuditLogs, enf)
	reconSvc := services.NewReconcileService(repos.Payments, repos.Sessions, repos.ReconRuns, gw, cfg.ReconcileWorkers)
	integritySvc := services.NewIntegrityService(repos.Payments, repos.Sessions, gw)

	sched, err := scheduler.New(reconSvc, integritySvc, cfg.ReconcileCron, cfg.StuckSweepEvery)
	if err != nil {
		log.Error("scheduler", "err", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	r := api.NewRouter(api.RouterDeps{
		Cfg:          cfg,
		TM:           tm,
		Enforcer:     enf,
		PaymentSvc:   paymentSvc,
		SessionSvc:   sessionSvc,
		ReconSvc:     reconSvc,
		IntegritySvc: integritySvc,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort, "enforcement", enf.Level())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
