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

type ApplicationHandler struct {
	applications *services.ApplicationService
	log          *zap.Logger
}

func NewApplicationHandler(applications *services.ApplicationService, log *zap.Logger) *ApplicationHandler {
	return &ApplicationHandler{applications: applications, log: log}
}

// CreateApplication POST /applications
func (h *ApplicationHandler) CreateApplication(c *fiber.Ctx) error {
	var req dto.CreateApplicationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		return badRequest(c, "invalid job_id")
	}

	app, err := h.applications.Create(c.UserContext(), middleware.GetActor(c), jobID, req.BidAmount, req.Message)
	if err != nil {
		return respondErr(c, h.log, "create application", err)
	}
	return respondCreated(c, app)
}

// ListApplications GET /applications?job_id=
func (h *ApplicationHandler) ListApplications(c *fiber.Ctx) error {
	jobID, valid := queryUUID(c, "job_id")
	if !valid || jobID == nil {
		return badRequest(c, "job_id is required")
	}

	list, err := h.applications.ListByJob(c.UserContext(), middleware.GetActor(c), *jobID)
	if err != nil {
		return respondErr(c, h.log, "list applications", err)
	}
	if list == nil {
		list = []models.WorkerApplication{}
	}
	return respondOK(c, list)
}

// UpdateApplication PATCH /applications/:id with status ACCEPTED or REJECTED
func (h *ApplicationHandler) UpdateApplication(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid application id")
	}
	var req dto.UpdateApplicationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	app, err := h.applications.UpdateStatus(c.UserContext(), middleware.GetActor(c), id, models.ApplicationStatus(req.Status))
	if err != nil {
		return respondErr(c, h.log, "update application", err)
	}
	return respondOK(c, app)
}
