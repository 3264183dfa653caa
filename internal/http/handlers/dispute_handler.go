package handlers

import (
	"context"

	"github.com/civic-cleanup/escrow/internal/http/dto"
	"github.com/civic-cleanup/escrow/internal/middleware"
	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/civic-cleanup/escrow/internal/repositories"
	"github.com/civic-cleanup/escrow/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type DisputeHandler struct {
	disputes *services.DisputeService
	log      *zap.Logger
}

func NewDisputeHandler(disputes *services.DisputeService, log *zap.Logger) *DisputeHandler {
	return &DisputeHandler{disputes: disputes, log: log}
}

// RaiseDispute POST /disputes
func (h *DisputeHandler) RaiseDispute(c *fiber.Ctx) error {
	var req dto.RaiseDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		return badRequest(c, "invalid job_id")
	}

	d, err := h.disputes.Raise(c.UserContext(), middleware.GetActor(c), jobID, services.RaiseDisputeInput{
		Reason:   req.Reason,
		Evidence: req.Evidence,
	})
	if err != nil {
		return respondErr(c, h.log, "raise dispute", err)
	}
	return respondCreated(c, d)
}

// WorkerResponse POST /disputes/:id/worker-response
func (h *DisputeHandler) WorkerResponse(c *fiber.Ctx) error {
	return h.appendMessage(c, "worker response", h.disputes.AddWorkerResponse)
}

// LeaderClarification POST /disputes/:id/leader-clarification
func (h *DisputeHandler) LeaderClarification(c *fiber.Ctx) error {
	return h.appendMessage(c, "leader clarification", h.disputes.AddLeaderClarification)
}

type appendFunc func(ctx context.Context, actor models.Actor, disputeID uuid.UUID, message string) (*models.Dispute, error)

func (h *DisputeHandler) appendMessage(c *fiber.Ctx, op string, fn appendFunc) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid dispute id")
	}
	var req dto.DisputeMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	d, err := fn(c.UserContext(), middleware.GetActor(c), id, req.Message)
	if err != nil {
		return respondErr(c, h.log, op, err)
	}
	return respondOK(c, d)
}

// AdminDecision POST /disputes/:id/admin-decision
func (h *DisputeHandler) AdminDecision(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid dispute id")
	}
	var req dto.AdminDecisionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	d, err := h.disputes.Decide(c.UserContext(), middleware.GetActor(c), id, models.AdminDecision(req.Decision), req.Note)
	if err != nil {
		return respondErr(c, h.log, "dispute decision", err)
	}
	return respondOK(c, d)
}

// ListDisputes GET /disputes?job_id=&status=
func (h *DisputeHandler) ListDisputes(c *fiber.Ctx) error {
	limit, offset := page(c)
	f := repositories.DisputeFilter{Limit: limit, Offset: offset}

	var valid bool
	if f.JobID, valid = queryUUID(c, "job_id"); !valid {
		return badRequest(c, "invalid job_id")
	}
	if v := c.Query("status"); v != "" {
		st := models.DisputeStatus(v)
		switch st {
		case models.DisputeStatusOpen, models.DisputeStatusResolved, models.DisputeStatusRejected:
		default:
			return badRequest(c, "invalid status")
		}
		f.Status = &st
	}

	list, err := h.disputes.List(c.UserContext(), middleware.GetActor(c), f)
	if err != nil {
		return respondErr(c, h.log, "list disputes", err)
	}
	if list == nil {
		list = []models.Dispute{}
	}
	return respondOK(c, list)
}

// GetDispute GET /disputes/:id
func (h *DisputeHandler) GetDispute(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid dispute id")
	}
	d, err := h.disputes.Get(c.UserContext(), middleware.GetActor(c), id)
	if err != nil {
		return respondErr(c, h.log, "get dispute", err)
	}
	return respondOK(c, d)
}
