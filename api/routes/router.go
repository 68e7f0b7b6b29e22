package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukalink/dukalink-backend/api/controllers"
	"github.com/dukalink/dukalink-backend/api/middleware"
	"github.com/dukalink/dukalink-backend/internal/bidding"
	"github.com/dukalink/dukalink-backend/internal/credit"
	"github.com/dukalink/dukalink-backend/internal/ingest"
	"github.com/dukalink/dukalink-backend/internal/orders"
	"github.com/dukalink/dukalink-backend/internal/queue"
	"github.com/dukalink/dukalink-backend/pkg/config"
	"github.com/dukalink/dukalink-backend/pkg/db"
	"github.com/dukalink/dukalink-backend/pkg/logger"
	"github.com/dukalink/dukalink-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	registry *prometheus.Registry,
	creditSvc credit.Service,
	orderSvc orders.Service,
	biddingSvc bidding.Service,
	ingestSvc ingest.Service,
	queueRepo queue.Repository,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/messages", func(r chi.Router) {
			r.Post("/", controllers.MessagesIngest(ingestSvc, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.OrderCreate(orderSvc, logg))
			r.Get("/{orderID}", controllers.OrderGet(orderSvc, logg))
			r.Post("/{orderID}/transition", controllers.OrderTransition(orderSvc, logg))
			r.Post("/{orderID}/transition/validate", controllers.OrderValidateTransition(orderSvc, logg))
			r.Post("/{orderID}/route", controllers.BiddingRoute(biddingSvc, logg))
			r.Post("/{orderID}/offers", controllers.BiddingSubmitOffer(biddingSvc, logg))
			r.Get("/{orderID}/offers", controllers.BiddingListOffers(biddingSvc, logg))
			r.Post("/{orderID}/select-winner", controllers.BiddingSelectWinner(biddingSvc, logg))
		})

		r.Route("/credit", func(r chi.Router) {
			r.Post("/reserve", controllers.CreditReserve(creditSvc, logg))
			r.Post("/reverse", controllers.CreditReverse(creditSvc, logg))
			r.Post("/payments", controllers.CreditRecordPayment(creditSvc, logg))
			r.Get("/exposure/{retailerID}/{wholesalerID}", controllers.CreditExposure(creditSvc, logg))
		})

		r.Route("/queues", func(r chi.Router) {
			r.Get("/depths", controllers.QueueDepths(queueRepo, logg))
			r.Get("/dead-letters", controllers.DeadLetters(queueRepo, logg))
		})
	})

	return r
}
