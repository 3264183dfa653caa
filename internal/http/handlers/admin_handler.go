package handlers

import (
	"github.com/civic-cleanup/escrow/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type AdminHandler struct {
	sweeper *services.Sweeper
	log     *zap.Logger
}

func NewAdminHandler(sweeper *services.Sweeper, log *zap.Logger) *AdminHandler {
	return &AdminHandler{sweeper: sweeper, log: log}
}

// RunSweep POST /admin/sweep finalizes lapsed reviews now instead of waiting
// for the worker's next tick.
func (h *AdminHandler) RunSweep(c *fiber.Ctx) error {
	res, err := h.sweeper.SweepExpiredReviews(c.UserContext())
	if err != nil {
		return respondErr(c, h.log, "review sweep", err)
	}
	return respondOK(c, res)
}
