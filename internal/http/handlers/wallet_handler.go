package handlers

import (
	"crypto/subtle"
	"strings"

	"github.com/civic-cleanup/escrow/internal/config"
	"github.com/civic-cleanup/escrow/internal/http/dto"
	"github.com/civic-cleanup/escrow/internal/middleware"
	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/civic-cleanup/escrow/internal/repositories"
	"github.com/civic-cleanup/escrow/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const webhookSecretHeader = "X-Webhook-Secret"

type WalletHandler struct {
	wallets    *services.WalletService
	accounting *services.AccountingService
	cfg        *config.Config
	log        *zap.Logger
}

func NewWalletHandler(wallets *services.WalletService, accounting *services.AccountingService, cfg *config.Config, log *zap.Logger) *WalletHandler {
	return &WalletHandler{wallets: wallets, accounting: accounting, cfg: cfg, log: log}
}

// GetWallet GET /wallet
func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	w, err := h.wallets.GetOrCreateWallet(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return respondErr(c, h.log, "get wallet", err)
	}
	return respondOK(c, w)
}

// AddMoney POST /wallet/add-money credits the caller directly. Disabled
// unless configured; the payment webhook is the production path.
func (h *WalletHandler) AddMoney(c *fiber.Ctx) error {
	if !h.cfg.DirectTopUpEnabled {
		return fail(c, fiber.StatusForbidden, "direct top-up is disabled")
	}
	var req dto.AddMoneyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	ref := strings.TrimSpace(req.Reference)
	if ref == "" {
		return badRequest(c, "reference is required")
	}

	w, applied, err := h.wallets.AddMoney(c.UserContext(), middleware.GetUserID(c), req.Amount, "topup:"+ref)
	if err != nil {
		return respondErr(c, h.log, "add money", err)
	}
	return respondOK(c, dto.AddMoneyResponse{Wallet: w, Applied: applied})
}

// Contribute POST /wallet/contribute funds a job from the wallet.
func (h *WalletHandler) Contribute(c *fiber.Ctx) error {
	var req dto.WalletContributeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		return badRequest(c, "invalid job_id")
	}

	contrib, w, err := h.accounting.ContributeFromWallet(c.UserContext(), middleware.GetActor(c), jobID, req.Amount)
	if err != nil {
		return respondErr(c, h.log, "wallet contribute", err)
	}
	return respondCreated(c, dto.WalletContributeResponse{Contribution: contrib, Wallet: w})
}

// ListTransactions GET /wallet/transactions?job_id=&type=
func (h *WalletHandler) ListTransactions(c *fiber.Ctx) error {
	limit, offset := page(c)
	f := repositories.TransactionFilter{Limit: limit, Offset: offset}

	var valid bool
	if f.JobID, valid = queryUUID(c, "job_id"); !valid {
		return badRequest(c, "invalid job_id")
	}
	if v := c.Query("type"); v != "" {
		t := models.TransactionType(strings.ToUpper(v))
		f.Type = &t
	}

	list, err := h.wallets.ListTransactions(c.UserContext(), middleware.GetUserID(c), f)
	if err != nil {
		return respondErr(c, h.log, "list transactions", err)
	}
	if list == nil {
		list = []models.WalletTransaction{}
	}
	return respondOK(c, list)
}

// Withdraw POST /wallet/withdraw
func (h *WalletHandler) Withdraw(c *fiber.Ctx) error {
	var req dto.WithdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	wr, err := h.wallets.RequestWithdrawal(c.UserContext(), middleware.GetActor(c), req.Amount, req.BankAccount)
	if err != nil {
		return respondErr(c, h.log, "request withdrawal", err)
	}
	return respondCreated(c, wr)
}

// ListWithdrawals GET /wallet/withdrawals, and GET /admin/withdrawals?status=
func (h *WalletHandler) ListWithdrawals(c *fiber.Ctx) error {
	limit, offset := page(c)
	var status *models.WithdrawalStatus
	if v := c.Query("status"); v != "" {
		st := models.WithdrawalStatus(strings.ToUpper(v))
		status = &st
	}

	list, err := h.wallets.ListWithdrawals(c.UserContext(), middleware.GetActor(c), status, limit, offset)
	if err != nil {
		return respondErr(c, h.log, "list withdrawals", err)
	}
	if list == nil {
		list = []models.WithdrawalRequest{}
	}
	return respondOK(c, list)
}

// ProcessWithdrawal PATCH /admin/withdrawals/:id
func (h *WalletHandler) ProcessWithdrawal(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid withdrawal id")
	}
	var req dto.ProcessWithdrawalRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	wr, err := h.wallets.ProcessWithdrawal(c.UserContext(), middleware.GetActor(c), id,
		models.WithdrawalStatus(strings.ToUpper(req.Status)), req.Note)
	if err != nil {
		return respondErr(c, h.log, "process withdrawal", err)
	}
	return respondOK(c, wr)
}

// PaymentWebhook POST /webhooks/payment is called by the payment gateway
// with the shared secret in a header.
func (h *WalletHandler) PaymentWebhook(c *fiber.Ctx) error {
	if h.cfg.PaymentWebhookSecret == "" {
		return fail(c, fiber.StatusServiceUnavailable, "payment webhook is not configured")
	}
	got := c.Get(webhookSecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.PaymentWebhookSecret)) != 1 {
		return fail(c, fiber.StatusUnauthorized, "invalid webhook secret")
	}

	var n services.PaymentNotification
	if err := c.BodyParser(&n); err != nil {
		return badRequest(c, "invalid request body")
	}

	applied, err := h.wallets.HandlePaymentWebhook(c.UserContext(), n)
	if err != nil {
		return respondErr(c, h.log, "payment webhook", err)
	}
	return respondOK(c, dto.WebhookResponse{Applied: applied})
}
