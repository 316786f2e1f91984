package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/giftledger-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/giftledger-backend/api/controllers/webhooks"
	"github.com/angelmondragon/giftledger-backend/api/middleware"
	"github.com/angelmondragon/giftledger-backend/internal/balance"
	checkoutsvc "github.com/angelmondragon/giftledger-backend/internal/checkout"
	"github.com/angelmondragon/giftledger-backend/internal/contributions"
	"github.com/angelmondragon/giftledger-backend/internal/redemptions"
	"github.com/angelmondragon/giftledger-backend/internal/registries"
	"github.com/angelmondragon/giftledger-backend/pkg/config"
	"github.com/angelmondragon/giftledger-backend/pkg/enums"
	"github.com/angelmondragon/giftledger-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/giftledger-backend/pkg/redis"
)

// How long a completed mutating request can be replayed by key.
const (
	checkoutReplayWindow = 24 * time.Hour
	ledgerReplayWindow   = 7 * 24 * time.Hour
)

// Dependencies are the services the HTTP surface is built on.
type Dependencies struct {
	DB               controllers.Pinger
	Redis            *pkgredis.Client
	Issuer           checkoutsvc.Issuer
	Reconciler       webhookcontrollers.Reconciler
	Registries       registries.Service
	Contributions    contributions.Service
	Projector        *balance.Projector
	Redemptions      *redemptions.Gate
	MetricsHandler   http.Handler
	IdempotencyStore pkgredis.IdempotencyStore
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS),
	)

	idempotencyStore := deps.IdempotencyStore
	if idempotencyStore == nil && deps.Redis != nil {
		idempotencyStore = deps.Redis
	}
	checkoutOnce := middleware.Idempotent(idempotencyStore, logg, checkoutReplayWindow)
	ledgerOnce := middleware.Idempotent(idempotencyStore, logg, ledgerReplayWindow)

	readiness := map[string]controllers.Pinger{}
	if deps.DB != nil {
		readiness["db"] = deps.DB
	}
	if deps.Redis != nil {
		readiness["redis"] = deps.Redis
	}
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
	})

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Post("/api/v1/webhooks/stripe", webhookcontrollers.StripeWebhook(deps.Reconciler, logg))

	r.Route("/api/public/v1", func(r chi.Router) {
		r.With(checkoutOnce).Post("/checkout/sessions", controllers.CreateCheckoutSession(deps.Issuer, logg))
		r.Route("/registries/{registryId}", func(r chi.Router) {
			r.Get("/items/{itemId}/progress", controllers.ItemProgress(deps.Projector, logg))
			r.Get("/contributions", controllers.PublicContributions(deps.Contributions, logg))
		})
	})

	r.Route("/api/v1/registries/{registryId}", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Get("/balance", controllers.RegistryBalance(deps.Registries, deps.Projector, logg))
		r.Get("/contributions", controllers.OwnerContributions(deps.Contributions, logg))
		r.Get("/contributions/export", controllers.ExportContributions(deps.Contributions, logg))
		r.With(ledgerOnce).Post("/redemptions", controllers.RequestRedemption(deps.Redemptions, logg))
		r.Get("/redemptions", controllers.ListRedemptions(deps.Redemptions, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(enums.RoleAdmin, logg))
		r.Get("/flagged-transactions", controllers.AdminListFlags(deps.Redemptions, logg))
		r.With(ledgerOnce).Post("/flagged-transactions/{flagId}/resolve", controllers.AdminResolveFlag(deps.Redemptions, logg))
	})

	return r
}
