package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/impact-escrow/backend/internal/config"
	"github.com/impact-escrow/backend/internal/http/handlers"
	"github.com/impact-escrow/backend/internal/middleware"
	"github.com/impact-escrow/backend/internal/rbac"
)

type Handlers struct {
	Escrow       *handlers.EscrowHandler
	Distribution *handlers.DistributionHandler
	Donation     *handlers.DonationHandler
	Recipient    *handlers.RecipientHandler
}

// SetupRouter mounts the API. rdb may be nil, which disables rate limiting.
func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb redis.UniversalClient,
	gatherer prometheus.Gatherer,
	h Handlers,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := app.Group("/api/v1")

	// Meta (public, no auth required)
	metaHandler := handlers.NewMetaHandler()
	api.Get("/meta/categories", metaHandler.GetCategories)
	api.Get("/meta/tiers", metaHandler.GetTiers)

	// Protected endpoints, rate limited per subject
	protected := api.Group("", middleware.AuthMiddleware(cfg.JWTSecret, log))
	if rdb != nil {
		protected.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute))
	}
	can := func(perm string) fiber.Handler { return middleware.RequirePermission(perm, log) }

	// Escrows
	protected.Post("/escrows", can(rbac.PermCreateEscrow), h.Escrow.CreateEscrow)
	protected.Post("/escrows/milestones", can(rbac.PermCreateEscrow), h.Escrow.CreateMilestoneEscrows)
	protected.Get("/escrows/stuck", can(rbac.PermCancelEscrow), h.Escrow.ListStuck)
	protected.Get("/escrows/:id", can(rbac.PermViewEscrow), h.Escrow.GetEscrow)
	protected.Get("/escrows/:id/audit", can(rbac.PermCancelEscrow), h.Escrow.AuditTrail)
	protected.Post("/escrows/:id/fund", can(rbac.PermCreateEscrow), h.Escrow.FundEscrow)
	protected.Post("/escrows/:id/cancel", can(rbac.PermCancelEscrow), h.Escrow.CancelExpired)
	protected.Post("/escrows/:id/abort", can(rbac.PermCancelEscrow), h.Escrow.Abort)

	// Oracle
	protected.Post("/escrows/:id/verdicts", can(rbac.PermSubmitVerdict), h.Escrow.SubmitVerdict)
	protected.Get("/escrows/:id/verdicts", can(rbac.PermViewEscrow), h.Escrow.ListVerdicts)
	protected.Post("/escrows/:id/evaluate", can(rbac.PermSubmitVerdict), h.Escrow.Evaluate)

	// Distributions
	protected.Post("/distributions", can(rbac.PermRunDistribution), h.Distribution.Run)
	protected.Get("/distributions/:id", can(rbac.PermRunDistribution), h.Distribution.GetBatch)
	protected.Get("/pool", h.Distribution.GetPool)

	// Donations
	protected.Post("/donations", can(rbac.PermDonate), h.Donation.Donate)
	protected.Get("/donors/:address", can(rbac.PermViewDonors), h.Donation.GetDonor)

	// Recipients
	protected.Post("/recipients", can(rbac.PermManageRecipients), h.Recipient.Register)
	protected.Get("/recipients", can(rbac.PermViewRecipients), h.Recipient.List)
	protected.Get("/recipients/:id", can(rbac.PermViewRecipients), h.Recipient.Get)
	protected.Put("/recipients/:id/impact", can(rbac.PermScoreRecipients), h.Recipient.UpdateImpact)
}
