package handlers

import (
	"github.com/civic-cleanup/escrow/internal/http/dto"
	"github.com/civic-cleanup/escrow/internal/middleware"
	"github.com/civic-cleanup/escrow/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type ProofHandler struct {
	proofs *services.ProofService
	log    *zap.Logger
}

func NewProofHandler(proofs *services.ProofService, log *zap.Logger) *ProofHandler {
	return &ProofHandler{proofs: proofs, log: log}
}

func proofInput(req dto.ProofRequest) services.ProofInput {
	return services.ProofInput{
		BeforePhoto:   req.BeforePhoto,
		AfterPhoto:    req.AfterPhoto,
		DisposalPhoto: req.DisposalPhoto,
		CapturedAt:    req.CapturedAt,
		Note:          req.Note,
	}
}

// SubmitProof POST /jobs/:id/proof
func (h *ProofHandler) SubmitProof(c *fiber.Ctx) error {
	jobID, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid job id")
	}
	var req dto.ProofRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	proof, err := h.proofs.SubmitProof(c.UserContext(), middleware.GetActor(c), jobID, proofInput(req))
	if err != nil {
		return respondErr(c, h.log, "submit proof", err)
	}
	return respondCreated(c, proof)
}

// SaveDraft POST /jobs/:id/proof-draft
func (h *ProofHandler) SaveDraft(c *fiber.Ctx) error {
	jobID, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid job id")
	}
	var req dto.ProofRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	draft, err := h.proofs.SaveDraft(c.UserContext(), middleware.GetActor(c), jobID, proofInput(req))
	if err != nil {
		return respondErr(c, h.log, "save proof draft", err)
	}
	return respondOK(c, draft)
}

// GetProof GET /jobs/:id/proof
func (h *ProofHandler) GetProof(c *fiber.Ctx) error {
	jobID, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid job id")
	}
	proof, err := h.proofs.GetProof(c.UserContext(), middleware.GetActor(c), jobID)
	if err != nil {
		return respondErr(c, h.log, "get proof", err)
	}
	return respondOK(c, proof)
}

// GetDraft GET /jobs/:id/proof-draft
func (h *ProofHandler) GetDraft(c *fiber.Ctx) error {
	jobID, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid job id")
	}
	draft, err := h.proofs.GetDraft(c.UserContext(), middleware.GetActor(c), jobID)
	if err != nil {
		return respondErr(c, h.log, "get proof draft", err)
	}
	return respondOK(c, draft)
}
