package handlers

import (
	"github.com/civic-cleanup/escrow/internal/http/dto"
	"github.com/civic-cleanup/escrow/internal/middleware"
	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/civic-cleanup/escrow/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ContributionHandler struct {
	accounting *services.AccountingService
	log        *zap.Logger
}

func NewContributionHandler(accounting *services.AccountingService, log *zap.Logger) *ContributionHandler {
	return &ContributionHandler{accounting: accounting, log: log}
}

// CreateContribution POST /contributions
func (h *ContributionHandler) CreateContribution(c *fiber.Ctx) error {
	var req dto.CreateContributionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		return badRequest(c, "invalid job_id")
	}

	contrib, err := h.accounting.CreateContribution(c.UserContext(), middleware.GetActor(c), jobID, req.Amount, req.PaymentReference)
	if err != nil {
		return respondErr(c, h.log, "create contribution", err)
	}
	return respondCreated(c, contrib)
}

// ListContributions GET /contributions?job_id=&user_id=
func (h *ContributionHandler) ListContributions(c *fiber.Ctx) error {
	var (
		f     services.ContributionFilter
		valid bool
	)
	if f.JobID, valid = queryUUID(c, "job_id"); !valid {
		return badRequest(c, "invalid job_id")
	}
	if f.UserID, valid = queryUUID(c, "user_id"); !valid {
		return badRequest(c, "invalid user_id")
	}

	list, err := h.accounting.ListContributions(c.UserContext(), middleware.GetActor(c), f)
	if err != nil {
		return respondErr(c, h.log, "list contributions", err)
	}
	if list == nil {
		list = []models.Contribution{}
	}
	return respondOK(c, list)
}
