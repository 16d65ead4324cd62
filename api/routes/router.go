package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keystonerealty/keystone-backend/api/controllers"
	"github.com/keystonerealty/keystone-backend/api/middleware"
	"github.com/keystonerealty/keystone-backend/internal/commissions"
	listing "github.com/keystonerealty/keystone-backend/internal/listings"
	"github.com/keystonerealty/keystone-backend/internal/security"
	"github.com/keystonerealty/keystone-backend/pkg/auth/session"
	"github.com/keystonerealty/keystone-backend/pkg/config"
	"github.com/keystonerealty/keystone-backend/pkg/db"
	"github.com/keystonerealty/keystone-backend/pkg/logger"
	pkgredis "github.com/keystonerealty/keystone-backend/pkg/redis"
	"github.com/keystonerealty/keystone-backend/pkg/storage/gcs"
)

type sessionManager interface {
	session.Checker
	session.Revoker
}

type cacheStore interface {
	pkgredis.IdempotencyStore
	pkgredis.RateLimiter
	Ping(ctx context.Context) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	cache cacheStore,
	gcsClient gcs.Pinger,
	sessionManager sessionManager,
	alerts security.Reporter,
	listingService listing.Service,
	commissionService commissions.Service,
	places controllers.PlaceLookup,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	geocodePolicy := middleware.NewRateLimitPolicy("geocode", time.Minute, cfg.Security.GeocodePerMinute)
	idempotent := middleware.Idempotency(cache, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"postgres": dbP,
			"redis":    cache,
			"gcs":      gcsClient,
		}))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, sessionManager, alerts, logg))

		r.Post("/auth/logout", controllers.AuthLogout(sessionManager, logg))

		r.Route("/listings", func(r chi.Router) {
			r.With(idempotent).Post("/", controllers.CreateListing(listingService, logg))
			r.Get("/", controllers.ListListings(listingService, logg))
			r.Get("/mine", controllers.MyListings(listingService, logg))
			r.With(idempotent).Post("/import", controllers.ImportListings(listingService, logg))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", controllers.GetListing(listingService, logg))
				r.Put("/", controllers.UpdateListing(listingService, logg))
				r.Delete("/", controllers.DeleteListing(listingService, logg))
				r.Get("/form", controllers.GetListingForm(listingService, logg))

				r.With(idempotent).Post("/images", controllers.UploadListingImage(listingService, cfg.Listings.MaxUploadBytes(), logg))
				r.Delete("/images/{imageId}", controllers.DeleteListingImage(listingService, logg))
				r.Post("/images/{imageId}/featured", controllers.FeatureListingImage(listingService, logg))

				r.With(idempotent).Post("/documents", controllers.UploadListingDocument(listingService, cfg.Listings.MaxUploadBytes(), logg))
				r.Delete("/documents/{documentId}", controllers.DeleteListingDocument(listingService, logg))

				r.With(idempotent).Post("/commission", controllers.AttachCommission(commissionService, logg))
				r.Get("/commission", controllers.GetCommission(commissionService, logg))
			})
		})

		r.Route("/commissions/{id}", func(r chi.Router) {
			r.Patch("/", controllers.UpdateCommissionTerms(commissionService, logg))
			r.Put("/visibility", controllers.SetCommissionVisibility(commissionService, logg))
			r.Post("/sign", controllers.SignCommission(commissionService, logg))
			r.Post("/lock", controllers.LockCommission(commissionService, logg))
		})

		r.Route("/geocode", func(r chi.Router) {
			r.Use(middleware.RateLimit(geocodePolicy, cache, logg))
			r.Post("/", controllers.Geocode(places, logg))
			r.Get("/suggestions", controllers.GeocodeSuggestions(places, logg))
		})
	})

	return r
}
