package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/realestate-escrow/backend/internal/config"
	"github.com/realestate-escrow/backend/internal/http/handlers"
	"github.com/realestate-escrow/backend/internal/metrics"
	"github.com/realestate-escrow/backend/internal/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Handlers struct {
	Auth     *handlers.AuthHandler
	Listing  *handlers.ListingHandler
	Property *handlers.PropertyHandler
	Meta     *handlers.MetaHandler
	WSHub    *handlers.WSHub
}

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	m *metrics.Metrics,
	h Handlers,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSAllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log, m))

	SetupOpsRoutes(app, m)

	api := app.Group("/api/v1")

	// Rate limits are per wallet when the request carries a valid token
	api.Use(middleware.IdentifyMiddleware(cfg.JWTSecret, log))
	api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMin, time.Minute))

	// Auth (public)
	api.Post("/auth/nonce", h.Auth.Nonce)
	api.Post("/auth/wallet", h.Auth.WalletAuth)

	// Meta
	api.Get("/meta/roles", h.Meta.GetRoles)

	// Properties (read)
	api.Get("/properties", h.Property.ListProperties)
	api.Get("/properties/:tokenId", h.Property.GetProperty)
	api.Get("/properties/:tokenId/transfers", h.Property.GetTransfers)

	// Listings (read)
	api.Get("/listings", h.Listing.ListListings)
	api.Get("/listings/:tokenId", h.Listing.GetListing)
	api.Get("/listings/:tokenId/owner", h.Listing.GetOwner)
	api.Get("/listings/:tokenId/remaining", h.Listing.GetRemaining)
	api.Get("/listings/:tokenId/listed", h.Listing.GetListed)
	api.Get("/listings/:tokenId/payments", h.Listing.GetPayments)
	api.Get("/listings/:tokenId/events", h.Listing.GetEvents)

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg.JWTSecret, log))

	protected.Get("/me", h.Meta.GetMe)

	protected.Post("/properties", h.Property.RegisterProperty)
	protected.Post("/properties/:tokenId/refresh", h.Property.RefreshMetadata)

	protected.Post("/listings", h.Listing.CreateListing)
	protected.Post("/listings/:tokenId/earnest", h.Listing.DepositEarnest)
	protected.Post("/listings/:tokenId/inspection", h.Listing.UpdateInspection)
	protected.Post("/listings/:tokenId/approve", h.Listing.ApproveSale)
	protected.Post("/listings/:tokenId/loan", h.Listing.FundLoan)
	protected.Post("/listings/:tokenId/finalize", h.Listing.FinalizeSale)
	protected.Post("/listings/:tokenId/payments", h.Listing.MakePayment)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(h.WSHub.HandleWS))
}
