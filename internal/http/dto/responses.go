package dto

import "github.com/civic-cleanup/escrow/internal/models"

type AuthResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type WalletContributeResponse struct {
	Contribution *models.Contribution `json:"contribution"`
	Wallet       *models.Wallet       `json:"wallet"`
}

type AddMoneyResponse struct {
	Wallet  *models.Wallet `json:"wallet"`
	Applied bool           `json:"applied"`
}

type WebhookResponse struct {
	Applied bool `json:"applied"`
}
