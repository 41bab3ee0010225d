package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soihtufest/soihtufest-backend/api/controllers"
	"github.com/soihtufest/soihtufest-backend/api/middleware"
	"github.com/soihtufest/soihtufest-backend/internal/ledger"
	"github.com/soihtufest/soihtufest-backend/internal/settlement"
	"github.com/soihtufest/soihtufest-backend/internal/store"
	"github.com/soihtufest/soihtufest-backend/pkg/config"
	"github.com/soihtufest/soihtufest-backend/pkg/db"
	"github.com/soihtufest/soihtufest-backend/pkg/logger"
	"github.com/soihtufest/soihtufest-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	storeService store.Service,
	storeRepo store.Repository,
	ledgerService ledger.Service,
	settlementService *settlement.Service,
	paymentVerifier middleware.CallbackVerifier,
	promRegistry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	if promRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/store", func(r chi.Router) {
		r.Get("/items", controllers.StoreItems(storeService, logg))
		r.Post("/checkout", controllers.Checkout(ledgerService, settlementService, storeRepo, logg))
		r.Get("/transactions/{key}", controllers.TransactionDetail(ledgerService, storeRepo, logg))
	})

	// Provider-facing endpoints. The redirect pair serves the buyer's
	// browser; the callback is server-to-server and authoritative. The
	// guard rejects unsigned and unaddressed requests before any handler.
	r.Route("/api/v1/payment", func(r chi.Router) {
		r.Use(middleware.PaymentGuard(paymentVerifier, logg))
		r.Get("/success", controllers.PaymentSuccess(settlementService, logg))
		r.Get("/cancel", controllers.PaymentCancel(settlementService, logg))
		r.Get("/callback", controllers.PaymentCallback(settlementService, logg))
	})

	return r
}
