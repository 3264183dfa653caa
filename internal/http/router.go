package http

import (
	"time"

	"github.com/civic-cleanup/escrow/internal/config"
	"github.com/civic-cleanup/escrow/internal/http/handlers"
	"github.com/civic-cleanup/escrow/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Handlers struct {
	User         *handlers.UserHandler
	Job          *handlers.JobHandler
	Contribution *handlers.ContributionHandler
	Application  *handlers.ApplicationHandler
	Proof        *handlers.ProofHandler
	Dispute      *handlers.DisputeHandler
	Wallet       *handlers.WalletHandler
	Admin        *handlers.AdminHandler
	WSHub        *handlers.WSHub
}

// SetupRouter mounts every route. rdb may be nil, which disables rate
// limiting.
func SetupRouter(app *fiber.App, cfg *config.Config, log *zap.Logger, rdb *redis.Client, h Handlers) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))
	app.Use(middleware.MetricsMiddleware())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")

	// Public
	api.Post("/auth/dev-token", h.User.DevToken)
	api.Post("/webhooks/payment", h.Wallet.PaymentWebhook)

	metaHandler := handlers.NewMetaHandler()
	api.Get("/meta/job-statuses", metaHandler.GetJobStatuses)
	api.Get("/meta/execution-modes", metaHandler.GetExecutionModes)

	protected := api.Group("", middleware.AuthMiddleware(cfg, log))
	protected.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute, log))

	// User
	protected.Get("/me", h.User.GetMe)

	// Jobs
	protected.Post("/jobs", h.Job.CreateJob)
	protected.Get("/jobs", h.Job.ListJobs)
	protected.Get("/jobs/:id", h.Job.GetJob)
	protected.Patch("/jobs/:id", h.Job.UpdateJob)
	protected.Get("/jobs/:id/events", h.Job.GetJobEvents)
	protected.Post("/jobs/:id/expenses", h.Job.CreateExpense)
	protected.Get("/jobs/:id/ledger", h.Job.GetLedger)

	// Proofs
	protected.Post("/jobs/:id/proof", h.Proof.SubmitProof)
	protected.Get("/jobs/:id/proof", h.Proof.GetProof)
	protected.Post("/jobs/:id/proof-draft", h.Proof.SaveDraft)
	protected.Get("/jobs/:id/proof-draft", h.Proof.GetDraft)

	// Contributions
	protected.Post("/contributions", h.Contribution.CreateContribution)
	protected.Get("/contributions", h.Contribution.ListContributions)

	// Applications
	protected.Post("/applications", h.Application.CreateApplication)
	protected.Get("/applications", h.Application.ListApplications)
	protected.Patch("/applications/:id", h.Application.UpdateApplication)

	// Disputes
	protected.Post("/disputes", h.Dispute.RaiseDispute)
	protected.Get("/disputes", h.Dispute.ListDisputes)
	protected.Get("/disputes/:id", h.Dispute.GetDispute)
	protected.Post("/disputes/:id/worker-response", h.Dispute.WorkerResponse)
	protected.Post("/disputes/:id/leader-clarification", h.Dispute.LeaderClarification)

	// Wallet
	protected.Get("/wallet", h.Wallet.GetWallet)
	protected.Post("/wallet/add-money", h.Wallet.AddMoney)
	protected.Post("/wallet/contribute", h.Wallet.Contribute)
	protected.Get("/wallet/transactions", h.Wallet.ListTransactions)
	protected.Post("/wallet/withdraw", h.Wallet.Withdraw)
	protected.Get("/wallet/withdrawals", h.Wallet.ListWithdrawals)

	// Admin
	admin := protected.Group("/admin", middleware.AdminMiddleware())
	admin.Post("/disputes/:id/decision", h.Dispute.AdminDecision)
	admin.Get("/withdrawals", h.Wallet.ListWithdrawals)
	admin.Patch("/withdrawals/:id", h.Wallet.ProcessWithdrawal)
	admin.Post("/sweep", h.Admin.RunSweep)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(h.WSHub.HandleWS))
}
