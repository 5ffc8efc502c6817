// Package app wires configuration, storage and services into the HTTP API.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/studiobook/backend/internal/audit"
	"github.com/studiobook/backend/internal/config"
	"github.com/studiobook/backend/internal/handlers"
	mW "github.com/studiobook/backend/internal/middleware"
	"github.com/studiobook/backend/internal/services"
	httpSwagger "github.com/swaggo/http-swagger"
)

type App struct {
	Config *config.Config
	Log    *logrus.Entry
	DB     *sql.DB
	Redis  *redis.Client

	Ledger         *services.LedgerService
	Wallets        *services.WalletService
	Credits        *services.CreditService
	Pricing        *services.PricingService
	GiftCards      *services.GiftCardService
	CashDrawers    *services.CashDrawerService
	Reconciliation *services.ReconciliationService
	Review         *services.ReviewQueue
	Sweeper        *services.ExpirySweeper
}

// New builds every service on top of db and rdb. rdb may be nil.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client, log *logrus.Entry) *App {
	auditLogger := audit.NewLogger(log)
	ledger := services.NewLedgerService(db, cfg.Ledger, log)
	review := services.NewReviewQueue(rdb, cfg.Reconciliation.ReviewQueueKey, log)
	credits := services.NewCreditService(db, ledger, auditLogger, log)
	giftCards := services.NewGiftCardService(db, rdb, ledger, auditLogger, cfg.GiftCard, log)

	return &App{
		Config:         cfg,
		Log:            log,
		DB:             db,
		Redis:          rdb,
		Ledger:         ledger,
		Wallets:        services.NewWalletService(db, ledger, auditLogger, log),
		Credits:        credits,
		Pricing:        services.NewPricingService(db, ledger, auditLogger, log),
		GiftCards:      giftCards,
		CashDrawers:    services.NewCashDrawerService(db, ledger, review, auditLogger, cfg.Cash, log),
		Reconciliation: services.NewReconciliationService(db, ledger, review, auditLogger, cfg.Reconciliation, log),
		Review:         review,
		Sweeper:        services.NewExpirySweeper(db, giftCards, credits, cfg.Sweeper.Interval, log),
	}
}

// Router returns the HTTP API. Everything under /api/v1 requires a bearer token.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", a.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.Auth(a.Config.JWT))

		handlers.NewWalletHandler(a.Wallets, a.Credits).Routes(r)
		handlers.NewPricingHandler(a.Pricing).Routes(r)
		handlers.NewGiftCardHandler(a.GiftCards).Routes(r)
		handlers.NewCashDrawerHandler(a.CashDrawers).Routes(r)
		handlers.NewReconciliationHandler(a.Reconciliation, a.Review).Routes(r)
	})

	return r
}

// health reports 503 when Postgres is unreachable. Redis is optional and
// only reported.
func (a *App) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "healthy", "database": "up", "redis": "disabled"}
	code := http.StatusOK
	if err := a.DB.PingContext(ctx); err != nil {
		a.Log.WithError(err).Warn("health check: database unreachable")
		status["status"], status["database"] = "unhealthy", "down"
		code = http.StatusServiceUnavailable
	}
	if a.Redis != nil {
		status["redis"] = "up"
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			status["redis"] = "down"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
