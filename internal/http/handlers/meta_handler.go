package handlers

import (
	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/gofiber/fiber/v2"
)

type MetaHandler struct{}

func NewMetaHandler() *MetaHandler {
	return &MetaHandler{}
}

type MetaOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

var jobStatusLabels = map[models.JobStatus]string{
	models.JobStatusFundingOpen:          "Funding open",
	models.JobStatusFundingComplete:      "Funding complete",
	models.JobStatusWorkerSelected:       "Worker selected",
	models.JobStatusInProgress:           "In progress",
	models.JobStatusAwaitingVerification: "Awaiting verification",
	models.JobStatusUnderReview:          "Under review",
	models.JobStatusDisputed:             "Disputed",
	models.JobStatusCompleted:            "Completed",
	models.JobStatusCancelled:            "Cancelled",
}

var executionModes = []MetaOption{
	{ID: string(models.ExecutionModeWorker), Label: "Hire a worker"},
	{ID: string(models.ExecutionModeLeader), Label: "Leader does the work"},
}

func (h *MetaHandler) GetJobStatuses(c *fiber.Ctx) error {
	out := make([]MetaOption, 0, len(models.AllJobStatuses))
	for _, st := range models.AllJobStatuses {
		out = append(out, MetaOption{ID: string(st), Label: jobStatusLabels[st]})
	}
	return respondOK(c, out)
}

func (h *MetaHandler) GetExecutionModes(c *fiber.Ctx) error {
	return respondOK(c, executionModes)
}
