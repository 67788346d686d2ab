package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/afyalink/afyalink-backend/internal/api/httpx"
	"github.com/afyalink/afyalink-backend/internal/api/validate"
	"github.com/afyalink/afyalink-backend/internal/auth"
	"github.com/afyalink/afyalink-backend/internal/authority"
	"github.com/afyalink/afyalink-backend/internal/config"
	"github.com/afyalink/afyalink-backend/internal/gateway"
	"github.com/afyalink/afyalink-backend/internal/metrics"
	"github.com/afyalink/afyalink-backend/internal/middleware"
	repo "github.com/afyalink/afyalink-backend/internal/repository"
	"github.com/afyalink/afyalink-backend/internal/report"
	"github.com/afyalink/afyalink-backend/internal/services"
)

type RouterDeps struct {
	Cfg          config.Config
	TM           *auth.TokenManager
	Enforcer     *authority.Enforcer
	PaymentSvc   *services.PaymentService
	SessionSvc   *services.SessionService
	ReconSvc     *services.ReconcileService
	IntegritySvc *services.IntegrityService
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics, middleware.RateLimit(d.Cfg.RateRPS))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	authMW := middleware.NewAuthMiddleware(d.TM)

	// health & metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// ---------- auth ----------
		r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			var req struct{ Email, Password string }
			if !httpx.DecodeJSON(w, r, &req) {
				return
			}
			if req.Email != d.Cfg.AdminEmail ||
				auth.VerifyPassword(req.Password, d.Cfg.AdminPasswordHash) != nil {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials", nil)
				return
			}
			tok, err := d.TM.Generate(req.Email, "admin")
			if err != nil {
				httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "token generation failed", nil)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]string{"token": tok})
		})

		// ---------- gateway webhook ----------
		// The gateway retries until it gets a 200, so anything absorbed
		// (duplicate, stale) still acks success.
		r.Post("/gateway/callback", func(w http.ResponseWriter, r *http.Request) {
			if d.Cfg.GatewaySecret != "" && r.Header.Get("X-Gateway-Signature") != d.Cfg.GatewaySecret {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "bad signature", nil)
				return
			}
			var cb gateway.Callback
			if !httpx.DecodeJSON(w, r, &cb) {
				return
			}
			if cb.RequestRef == "" {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "bad callback payload", nil)
				return
			}
			_, err := d.PaymentSvc.ApplyPaymentEvent(r.Context(), services.PaymentEvent{
				RequestRef:      cb.RequestRef,
				TransactionRef:  cb.TransactionRef,
				ResultCode:      cb.ResultCode,
				ResultDesc:      cb.ResultDesc,
				Amount:          cb.Amount,
				PayerIdentifier: cb.PayerIdentifier,
				OccurredAt:      time.Now().UTC(),
			})
			if errors.Is(err, services.ErrAuthorityViolation) {
				httpx.WriteError(w, http.StatusUnprocessableEntity, "authority_violation", err.Error(), nil)
				return
			}
			if err != nil {
				httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "event not recorded", nil)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"result_code": 0, "result_desc": "accepted"})
		})

		// ---------- payments ----------
		r.Group(func(r chi.Router) {
			r.Use(authMW.Auth)

			r.Post("/payments/initiate", func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					SessionID string `json:"session_id"`
					Payer     string `json:"payer"`
				}
				if !httpx.DecodeJSON(w, r, &req) {
					return
				}
				var errs validate.Errs
				if e := validate.Required("session_id", req.SessionID); e != nil {
					errs = append(errs, *e)
				}
				if e := validate.Required("payer", req.Payer); e != nil {
					errs = append(errs, *e)
				}
				if len(errs) > 0 {
					httpx.WriteError(w, http.StatusBadRequest, "validation", errs.Error(), errs)
					return
				}
				p, err := d.PaymentSvc.Initiate(r.Context(), req.SessionID, req.Payer)
				if err != nil {
					httpx.WriteError(w, http.StatusBadRequest, "initiate_failed", err.Error(), nil)
					return
				}
				httpx.WriteJSON(w, http.StatusAccepted, p)
			})

			r.Get("/payments/{id}", func(w http.ResponseWriter, r *http.Request) {
				p, err := d.PaymentSvc.GetByID(r.Context(), chi.URLParam(r, "id"))
				if err != nil {
					httpx.WriteError(w, http.StatusNotFound, "not_found", "payment not found", nil)
					return
				}
				httpx.WriteJSON(w, http.StatusOK, p)
			})

			r.With(middleware.RequireRole("admin")).
				Get("/payments/{id}/orphan-check", func(w http.ResponseWriter, r *http.Request) {
					v, err := d.IntegritySvc.OrphanCheck(r.Context(), chi.URLParam(r, "id"))
					if errors.Is(err, repo.ErrNotFound) {
						httpx.WriteError(w, http.StatusNotFound, "not_found", "payment not found", nil)
						return
					}
					if err != nil {
						httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
						return
					}
					httpx.WriteJSON(w, http.StatusOK, v)
				})
		})

		// ---------- sessions ----------
		r.Group(func(r chi.Router) {
			r.Use(authMW.Auth)

			r.Post("/sessions", func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					ClientID    string    `json:"client_id"`
					ProviderID  string    `json:"provider_id"`
					SessionType string    `json:"session_type"`
					ScheduledAt time.Time `json:"scheduled_at"`
					Price       int64     `json:"price"`
				}
				if !httpx.DecodeJSON(w, r, &req) {
					return
				}
				var errs validate.Errs
				if e := validate.Required("client_id", req.ClientID); e != nil {
					errs = append(errs, *e)
				}
				if e := validate.Required("provider_id", req.ProviderID); e != nil {
					errs = append(errs, *e)
				}
				if e := validate.MinInt("price", req.Price, 0); e != nil {
					errs = append(errs, *e)
				}
				if len(errs) > 0 {
					httpx.WriteError(w, http.StatusBadRequest, "validation", errs.Error(), errs)
					return
				}
				s, err := d.SessionSvc.Book(r.Context(), req.ClientID, req.ProviderID, req.SessionType, req.ScheduledAt, req.Price)
				if err != nil {
					httpx.WriteError(w, http.StatusBadRequest, "book_failed", err.Error(), nil)
					return
				}
				httpx.WriteJSON(w, http.StatusCreated, s)
			})

			r.Get("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
				s, err := d.SessionSvc.GetByID(r.Context(), chi.URLParam(r, "id"))
				if err != nil {
					httpx.WriteError(w, http.StatusNotFound, "not_found", "session not found", nil)
					return
				}
				httpx.WriteJSON(w, http.StatusOK, s)
			})

			transition := func(fn func(*http.Request, string, string) error) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					var req struct{ Reason string }
					_ = json.NewDecoder(r.Body).Decode(&req)
					err := fn(r, chi.URLParam(r, "id"), req.Reason)
					switch {
					case errors.Is(err, services.ErrAuthorityViolation):
						httpx.WriteError(w, http.StatusForbidden, "authority_violation", err.Error(), nil)
					case errors.Is(err, repo.ErrNotFound):
						httpx.WriteError(w, http.StatusNotFound, "not_found", "session not found", nil)
					case err != nil:
						httpx.WriteError(w, http.StatusBadRequest, "transition_failed", err.Error(), nil)
					default:
						httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
					}
				}
			}

			r.With(middleware.RequireRole("provider", "admin")).
				Post("/sessions/{id}/approve", transition(func(r *http.Request, id, reason string) error {
					_, err := d.SessionSvc.Approve(r.Context(), id, reason)
					return err
				}))
			r.With(middleware.RequireRole("provider", "admin")).
				Post("/sessions/{id}/decline", transition(func(r *http.Request, id, reason string) error {
					_, err := d.SessionSvc.Decline(r.Context(), id, reason)
					return err
				}))
			r.Post("/sessions/{id}/cancel", transition(func(r *http.Request, id, reason string) error {
				_, err := d.SessionSvc.Cancel(r.Context(), id, actingSubsystem(r), reason)
				return err
			}))
			r.With(middleware.RequireRole("provider", "admin")).
				Post("/sessions/{id}/start", transition(func(r *http.Request, id, _ string) error {
					_, err := d.SessionSvc.Start(r.Context(), id)
					return err
				}))
			r.With(middleware.RequireRole("provider", "admin")).
				Post("/sessions/{id}/complete", transition(func(r *http.Request, id, _ string) error {
					_, err := d.SessionSvc.Complete(r.Context(), id)
					return err
				}))
		})

		// ---------- reconciliation & integrity (admin only) ----------
		r.Group(func(r chi.Router) {
			r.Use(authMW.Auth, middleware.RequireRole("admin"))

			r.Post("/reconcile", func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					WindowStart time.Time `json:"window_start"`
					WindowEnd   time.Time `json:"window_end"`
					ClientID    string    `json:"client_id,omitempty"`
					ProviderID  string    `json:"provider_id,omitempty"`
				}
				if !httpx.DecodeJSON(w, r, &req) {
					return
				}
				if e := validate.Window("window", req.WindowStart, req.WindowEnd); e != nil {
					httpx.WriteError(w, http.StatusBadRequest, "validation", e.Msg, e)
					return
				}
				run, err := d.ReconSvc.Reconcile(r.Context(),
					services.Window{Start: req.WindowStart, End: req.WindowEnd},
					services.ReconFilters{ClientID: req.ClientID, ProviderID: req.ProviderID},
					"admin")
				if err != nil {
					httpx.WriteError(w, http.StatusInternalServerError, "reconcile_failed", err.Error(), nil)
					return
				}
				httpx.WriteJSON(w, http.StatusOK, run)
			})

			r.Get("/reconcile/report", func(w http.ResponseWriter, r *http.Request) {
				start, err1 := time.Parse(time.RFC3339, r.URL.Query().Get("window_start"))
				end, err2 := time.Parse(time.RFC3339, r.URL.Query().Get("window_end"))
				if err1 != nil || err2 != nil {
					httpx.WriteError(w, http.StatusBadRequest, "bad_request", "window_start and window_end must be RFC3339", nil)
					return
				}
				if e := validate.Window("window", start, end); e != nil {
					httpx.WriteError(w, http.StatusBadRequest, "validation", e.Msg, e)
					return
				}
				run, err := d.ReconSvc.LatestForWindow(r.Context(), services.Window{Start: start, End: end})
				if errors.Is(err, repo.ErrNotFound) {
					httpx.WriteError(w, http.StatusNotFound, "not_found", "no run for window", nil)
					return
				}
				if err != nil {
					httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
					return
				}
				if r.URL.Query().Get("format") == "csv" {
					w.Header().Set("Content-Type", "text/csv; charset=utf-8")
					w.Header().Set("Content-Disposition", `attachment; filename="reconciliation.csv"`)
					_ = report.WriteCSV(w, run)
					return
				}
				httpx.WriteJSON(w, http.StatusOK, report.BuildSummary(run))
			})

			r.Post("/integrity/enforcement", func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					Level     string `json:"level"`
					Reason    string `json:"reason"`
					Emergency bool   `json:"emergency,omitempty"`
				}
				if !httpx.DecodeJSON(w, r, &req) {
					return
				}
				if req.Reason == "" {
					httpx.WriteError(w, http.StatusBadRequest, "bad_request", "level and reason required", nil)
					return
				}
				level, err := authority.ParseLevel(req.Level)
				if err != nil {
					httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
					return
				}
				actor, _ := middleware.Subject(r.Context())
				switch {
				case req.Emergency && level == authority.LevelOff:
					d.Enforcer.EmergencyDisable(req.Reason, actor)
				case req.Emergency && level == authority.LevelStrict:
					d.Enforcer.EmergencyEnable(req.Reason, actor)
				default:
					d.Enforcer.SetLevel(level, actor, req.Reason)
				}
				httpx.WriteJSON(w, http.StatusOK, map[string]string{"level": string(level)})
			})

			r.Get("/integrity/stuck", func(w http.ResponseWriter, r *http.Request) {
				entities, err := d.IntegritySvc.Sweep(r.Context())
				if err != nil {
					httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
					return
				}
				httpx.WriteJSON(w, http.StatusOK, map[string]any{"stuck": entities, "count": len(entities)})
			})
		})
	})

	return r
}

func actingSubsystem(r *http.Request) authority.Subsystem {
	role, _ := middleware.RoleFrom(r.Context())
	switch role {
	case "provider":
		return authority.SubsystemProvider
	case "admin":
		return authority.SubsystemAdmin
	default:
		return authority.SubsystemClient
	}
}
