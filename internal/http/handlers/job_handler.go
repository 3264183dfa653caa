package handlers

import (
	"github.com/civic-cleanup/escrow/internal/http/dto"
	"github.com/civic-cleanup/escrow/internal/middleware"
	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/civic-cleanup/escrow/internal/repositories"
	"github.com/civic-cleanup/escrow/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type JobHandler struct {
	jobs       *services.JobService
	accounting *services.AccountingService
	log        *zap.Logger
}

func NewJobHandler(jobs *services.JobService, accounting *services.AccountingService, log *zap.Logger) *JobHandler {
	return &JobHandler{jobs: jobs, accounting: accounting, log: log}
}

// CreateJob POST /jobs
func (h *JobHandler) CreateJob(c *fiber.Ctx) error {
	var req dto.CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	job, err := h.jobs.Create(c.UserContext(), middleware.GetActor(c), services.CreateJobInput{
		Title:         req.Title,
		Description:   req.Description,
		Location:      req.Location,
		TargetAmount:  req.TargetAmount,
		ExecutionMode: models.ExecutionMode(req.ExecutionMode),
		IsPrivate:     req.IsPrivate,
	})
	if err != nil {
		return respondErr(c, h.log, "create job", err)
	}
	return respondCreated(c, job)
}

// ListJobs GET /jobs?status=&leader_id=&contributor_id=&limit=&offset=
func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	limit, offset := page(c)
	f := repositories.JobFilter{Limit: limit, Offset: offset}

	if v := c.Query("status"); v != "" {
		st := models.NormalizeStatus(v)
		if !st.IsValid() {
			return badRequest(c, "invalid status")
		}
		f.Status = &st
	}
	var valid bool
	if f.LeaderID, valid = queryUUID(c, "leader_id"); !valid {
		return badRequest(c, "invalid leader_id")
	}
	if f.ContributorID, valid = queryUUID(c, "contributor_id"); !valid {
		return badRequest(c, "invalid contributor_id")
	}

	jobs, err := h.jobs.List(c.UserContext(), middleware.GetActor(c), f)
	if err != nil {
		return respondErr(c, h.log, "list jobs", err)
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	return respondOK(c, jobs)
}

// GetJob GET /jobs/:id, settles the job first if its review window lapsed.
func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid job id")
	}
	job, err := h.jobs.Get(c.UserContext(), middleware.GetActor(c), id)
	if err != nil {
		return respondErr(c, h.log, "get job", err)
	}
	return respondOK(c, job)
}

// UpdateJob PATCH /jobs/:id
func (h *JobHandler) UpdateJob(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid job id")
	}
	var req dto.UpdateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	in := services.UpdateJobInput{
		Title:          req.Title,
		Description:    req.Description,
		Location:       req.Location,
		TargetAmount:   req.TargetAmount,
		IsPrivate:      req.IsPrivate,
		SubmissionNote: req.SubmissionNote,
	}
	if req.ExecutionMode != nil {
		mode := models.ExecutionMode(*req.ExecutionMode)
		in.ExecutionMode = &mode
	}
	if req.Status != nil {
		st := models.NormalizeStatus(*req.Status)
		in.Status = &st
	}

	job, err := h.jobs.Update(c.UserContext(), middleware.GetActor(c), id, in)
	if err != nil {
		return respondErr(c, h.log, "update job", err)
	}
	return respondOK(c, job)
}

// GetJobEvents GET /jobs/:id/events
func (h *JobHandler) GetJobEvents(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid job id")
	}
	limit, offset := page(c)
	logs, err := h.jobs.Events(c.UserContext(), middleware.GetActor(c), id, limit, offset)
	if err != nil {
		return respondErr(c, h.log, "job events", err)
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	return respondOK(c, logs)
}

// CreateExpense POST /jobs/:id/expenses
func (h *JobHandler) CreateExpense(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid job id")
	}
	var req dto.CreateExpenseRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	exp, err := h.accounting.CreateJobExpense(c.UserContext(), middleware.GetActor(c), id, services.ExpenseInput{
		Amount:      req.Amount,
		Description: req.Description,
		ProofURL:    req.ProofURL,
	})
	if err != nil {
		return respondErr(c, h.log, "create expense", err)
	}
	return respondCreated(c, exp)
}

// GetLedger GET /jobs/:id/ledger
func (h *JobHandler) GetLedger(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid job id")
	}
	ledger, err := h.accounting.GetLedger(c.UserContext(), middleware.GetActor(c), id)
	if err != nil {
		return respondErr(c, h.log, "job ledger", err)
	}
	return respondOK(c, ledger)
}
