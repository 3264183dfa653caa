package http

import (
	"errors"

	"github.com/civic-cleanup/escrow/internal/config"
	"github.com/civic-cleanup/escrow/internal/events"
	"github.com/civic-cleanup/escrow/internal/http/dto"
	"github.com/civic-cleanup/escrow/internal/http/handlers"
	"github.com/civic-cleanup/escrow/internal/middleware"
	"github.com/civic-cleanup/escrow/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewApp builds the fiber app with every handler mounted. The returned hub
// still needs Start to receive events.
func NewApp(cfg *config.Config, log *zap.Logger, svc *services.Registry, sub events.Subscriber, rdb *redis.Client) (*fiber.App, *handlers.WSHub) {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			msg := err.Error()
			if code == fiber.StatusInternalServerError {
				log.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
				msg = "internal server error"
			}
			return c.Status(code).JSON(dto.ErrorResponse{Error: msg, RequestID: middleware.GetRequestID(c)})
		},
	})

	hub := handlers.NewWSHub(cfg, sub, log)
	SetupRouter(app, cfg, log, rdb, Handlers{
		User:         handlers.NewUserHandler(svc.Users, cfg, log),
		Job:          handlers.NewJobHandler(svc.Jobs, svc.Accounting, log),
		Contribution: handlers.NewContributionHandler(svc.Accounting, log),
		Application:  handlers.NewApplicationHandler(svc.Applications, log),
		Proof:        handlers.NewProofHandler(svc.Proofs, log),
		Dispute:      handlers.NewDisputeHandler(svc.Disputes, log),
		Wallet:       handlers.NewWalletHandler(svc.Wallets, svc.Accounting, cfg, log),
		Admin:        handlers.NewAdminHandler(svc.Sweeper, log),
		WSHub:        hub,
	})
	return app, hub
}
