package handlers

import (
	"github.com/civic-cleanup/escrow/internal/auth"
	"github.com/civic-cleanup/escrow/internal/config"
	"github.com/civic-cleanup/escrow/internal/http/dto"
	"github.com/civic-cleanup/escrow/internal/middleware"
	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/civic-cleanup/escrow/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type UserHandler struct {
	users *services.UserService
	cfg   *config.Config
	log   *zap.Logger
}

func NewUserHandler(users *services.UserService, cfg *config.Config, log *zap.Logger) *UserHandler {
	return &UserHandler{users: users, cfg: cfg, log: log}
}

// GetMe GET /me returns the caller's account and wallet.
func (h *UserHandler) GetMe(c *fiber.Ctx) error {
	p, err := h.users.Me(c.UserContext(), middleware.GetActor(c))
	if err != nil {
		return respondErr(c, h.log, "get me", err)
	}
	return respondOK(c, p)
}

// DevToken POST /auth/dev-token mints a token for local setups where no
// identity provider is wired in. A missing user_id creates a new user.
func (h *UserHandler) DevToken(c *fiber.Ctx) error {
	if !h.cfg.DevTokens {
		return fail(c, fiber.StatusNotFound, "not found")
	}
	var req dto.DevTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	userID := uuid.New()
	if req.UserID != "" {
		id, err := uuid.Parse(req.UserID)
		if err != nil {
			return badRequest(c, "invalid user_id")
		}
		userID = id
	}
	role := models.Role(req.Role)
	if !role.IsValid() {
		return badRequest(c, "invalid role")
	}

	user, err := h.users.Register(c.UserContext(), models.Actor{UserID: userID, Role: role})
	if err != nil {
		return respondErr(c, h.log, "register user", err)
	}
	token, err := auth.GenerateJWT(h.cfg.JWTSecret, userID, role, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("failed to generate jwt", zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "internal server error")
	}
	return c.JSON(dto.AuthResponse{Token: token, User: user})
}
