package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/storefront-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/webhooks"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/storefront-backend/pkg/redis"
)

// RedisStore is the redis surface the HTTP layer needs.
type RedisStore interface {
	pkgredis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	Ping(ctx context.Context) error
}

// OrderService covers both shopper and staff order operations.
type OrderService interface {
	ordercontrollers.CustomerService
	ordercontrollers.AdminService
}

// Services bundles the domain services mounted on the router.
type Services struct {
	Cart       controllers.CartManager
	Checkout   ordercontrollers.Creator
	Orders     OrderService
	Reconciler ordercontrollers.PaymentVerifier
	Inventory  controllers.StockAdmin
	Webhooks   webhookcontrollers.GatewayIngestor
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient RedisStore,
	metricsHandler http.Handler,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	var (
		cachePinger      controllers.Pinger
		idempotencyStore pkgredis.IdempotencyStore
		limiterStore     middleware.RateLimitStore
	)
	if redisClient != nil {
		cachePinger, idempotencyStore, limiterStore = redisClient, redisClient, redisClient
	}
	idempotent := middleware.Idempotency(idempotencyStore, logg)
	lookupLimit := middleware.RateLimit(
		middleware.NewRateLimitPolicy("order-lookup", cfg.App.LookupRateWindow, cfg.App.LookupRateLimit),
		limiterStore,
		logg,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, dbP, cachePinger, logg))
	})

	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/gateway", webhookcontrollers.GatewayWebhook(svc.Webhooks, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.OptionalAuth(cfg.JWT, logg))
			r.Use(middleware.CartSession)

			r.Get("/cart", controllers.CartFetch(svc.Cart, logg))
			r.Post("/cart/items", controllers.CartAddItem(svc.Cart, logg))
			r.Patch("/cart/items/{variantId}", controllers.CartUpdateItem(svc.Cart, logg))
			r.Delete("/cart/items/{variantId}", controllers.CartRemoveItem(svc.Cart, logg))

			r.With(idempotent).Post("/orders", ordercontrollers.Create(svc.Checkout, logg))
			r.With(lookupLimit).Get("/orders/{orderNumber}", ordercontrollers.Lookup(svc.Orders, logg))
			r.With(lookupLimit, idempotent).Post("/orders/{orderNumber}/cancel", ordercontrollers.Cancel(svc.Orders, logg))
			r.With(lookupLimit, idempotent).Post("/orders/{orderNumber}/retry-payment", ordercontrollers.RetryPayment(svc.Orders, logg))
		})

		r.With(middleware.Auth(cfg.JWT, logg)).
			Post("/orders/{orderNumber}/verify", ordercontrollers.Verify(svc.Orders, svc.Reconciler, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(string(enums.RoleAdmin), logg))

		r.With(idempotent).Post("/orders/{orderNumber}/refund", ordercontrollers.AdminRefund(svc.Orders, logg))
		r.With(idempotent).Post("/orders/{orderNumber}/ship", ordercontrollers.AdminShip(svc.Orders, logg))
		r.With(idempotent).Post("/orders/{orderNumber}/deliver", ordercontrollers.AdminDeliver(svc.Orders, logg))
		r.With(idempotent).Post("/variants/{variantId}/adjust", controllers.AdminAdjustStock(svc.Inventory, logg))
		r.Get("/variants/{variantId}/movements", controllers.AdminStockMovements(svc.Inventory, logg))
	})

	return r
}
