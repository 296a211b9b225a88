package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/ksred/fhenergy-api/internal/auth"
	"github.com/ksred/fhenergy-api/internal/config"
	"github.com/ksred/fhenergy-api/internal/decryption"
	"github.com/ksred/fhenergy-api/internal/ledger"
	"github.com/ksred/fhenergy-api/internal/offers"
	"github.com/ksred/fhenergy-api/internal/reconcile"
	"github.com/ksred/fhenergy-api/pkg/middleware"
)

// Server holds the services behind the HTTP API
type Server struct {
	cfg        *config.Config
	ledger     ledger.Ledger
	auth       *auth.Service
	offers     *offers.Service
	authorizer *decryption.Authorizer
	reconciler *reconcile.Processor
}

// New builds the services over l. A fresh decryption session starting at
// now is created for the lifetime of the server.
func New(cfg *config.Config, l ledger.Ledger, now time.Time) (*Server, error) {
	session, err := decryption.NewSession(l.Address(), cfg.NetworkID, now, cfg.Session.DurationDays)
	if err != nil {
		return nil, fmt.Errorf("create decryption session: %w", err)
	}

	var (
		offerMetrics      = offers.NopMetrics()
		decryptionMetrics = decryption.NopMetrics()
		reconcileMetrics  = reconcile.NopMetrics()
	)
	// Prometheus collectors register globally, so at most one server per
	// process may enable them.
	if cfg.Metrics.Enabled {
		offerMetrics = offers.PrometheusMetrics(cfg.Metrics.Namespace)
		decryptionMetrics = decryption.PrometheusMetrics(cfg.Metrics.Namespace)
		reconcileMetrics = reconcile.PrometheusMetrics(cfg.Metrics.Namespace)
	}

	offerService := offers.NewService(l, offers.WithMetrics(offerMetrics))
	reconciler := reconcile.NewProcessor(offerService.GetStore(), cfg.Reconcile.Interval)
	reconciler.SetMetrics(reconcileMetrics)

	return &Server{
		cfg:    cfg,
		ledger: l,
		auth:   auth.NewService(cfg.JWTSecret),
		offers: offerService,
		authorizer: decryption.NewAuthorizer(session, decryption.Policy{
			VerifySignatures: cfg.Decryption.VerifySignatures,
			BindRecord:       cfg.Decryption.BindRecord,
			OwnerOnly:        cfg.Decryption.OwnerOnly,
		}, decryption.WithMetrics(decryptionMetrics)),
		reconciler: reconciler,
	}, nil
}

// Offers exposes the offer service
func (s *Server) Offers() *offers.Service {
	return s.offers
}

// Reconciler exposes the background reconcile processor
func (s *Server) Reconciler() *reconcile.Processor {
	return s.reconciler
}

// Session returns the decryption session clients sign against
func (s *Server) Session() decryption.SessionContext {
	return s.authorizer.Session()
}

// Router builds the gin engine with every API route registered
func (s *Server) Router() *gin.Engine {
	router := gin.Default()

	if s.cfg.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	setupRoutes(
		router,
		s.cfg,
		auth.NewGinHandlers(s.auth),
		offers.NewGinHandlers(s.offers),
		decryption.NewGinHandlers(s.authorizer, s.offers),
		reconcile.NewGinHandlers(s.reconciler),
	)
	return router
}

// Handler returns the router wrapped for browser clients. Without allowed
// origins the router is returned as is.
func (s *Server) Handler() http.Handler {
	router := s.Router()
	if len(s.cfg.CORS.AllowedOrigins) == 0 {
		return router
	}
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "Accept", "Content-Type", "Authorization"},
	})
	return corsMiddleware.Handler(router)
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth and session routes: public, rate limited per IP
// - Offer reads and decryption: public, decryption is gated by signatures
// - Offer writes: protected by JWT authentication, rate limited per wallet
// - Internal routes: protected by operator tokens
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authHandlers *auth.GinHandlers,
	offerHandlers *offers.GinHandlers,
	decryptionHandlers *decryption.GinHandlers,
	reconcileHandlers *reconcile.GinHandlers,
) {
	var limit []gin.HandlerFunc
	if cfg.RateLimit {
		limit = append(limit, middleware.RateLimit())
	}

	v1 := router.Group("/api/v1")
	{
		public := v1.Group("", limit...)

		// Auth routes
		auth := public.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		public.GET("/session", decryptionHandlers.SessionHandler())

		// Offer routes
		offers := public.Group("/offers")
		{
			offers.GET("", offerHandlers.ListOffersHandler())
			offers.GET("/stats", offerHandlers.MarketStatsHandler())
			offers.GET("/:offer_id", offerHandlers.GetOfferHandler())
			offers.GET("/:offer_id/challenge", decryptionHandlers.ChallengeHandler())
			offers.POST("/:offer_id/decrypt", decryptionHandlers.DecryptHandler())
		}

		trading := v1.Group("/offers")
		trading.Use(middleware.JWTAuth(cfg.JWTSecret))
		trading.Use(limit...)
		{
			trading.POST("", offerHandlers.CreateOfferHandler())
			trading.POST("/:offer_id/match", offerHandlers.MatchOfferHandler())
			trading.POST("/:offer_id/complete", offerHandlers.CompleteOfferHandler())
		}

		// Internal routes
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(cfg.InternalSecret))
		{
			internal.POST("/reconcile", reconcileHandlers.ReconcileHandler())
			internal.GET("/reconcile", reconcileHandlers.LastReportHandler())
		}
	}
}
