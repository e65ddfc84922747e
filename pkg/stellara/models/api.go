package models

import "github.com/stellara-labs/stellara/pkg/stellara/domain"

type NonceRequest struct {
	PublicKey string `json:"publicKey" validate:"required,stellar_account"`
}

// WalletLoginRequest carries the base64 ed25519 signature of the nonce challenge message.
type WalletLoginRequest struct {
	PublicKey string `json:"publicKey" validate:"required,stellar_account"`
	Nonce     string `json:"nonce" validate:"required,max=64"`
	Signature string `json:"signature" validate:"required,base64,max=256"`
}

type PasswordLoginRequest struct {
	Username string `json:"username" validate:"required,max=100"`
	Password string `json:"password" validate:"required,max=200"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required,max=200"`
}

type BindWalletRequest struct {
	PublicKey string `json:"publicKey" validate:"required,stellar_account"`
	Nonce     string `json:"nonce" validate:"required,max=64"`
	Signature string `json:"signature" validate:"required,base64,max=256"`
	Label     string `json:"label" validate:"max=100"`
}

// CreateApiTokenRequest: ExpiresIn is a Go duration ("720h"); empty never expires.
type CreateApiTokenRequest struct {
	Name      string   `json:"name" validate:"required,max=100"`
	Scopes    []string `json:"scopes" validate:"max=20,dive,required,max=50"`
	ExpiresIn string   `json:"expiresIn" validate:"max=20"`
}

type MeResponse struct {
	User    *domain.User           `json:"user"`
	Wallets []domain.WalletBinding `json:"wallets"`
}

type CreateUserRequest struct {
	Username string      `json:"username" validate:"required,min=3,max=100"`
	Password string      `json:"password" validate:"required,min=8,max=200"`
	Role     domain.Role `json:"role" validate:"omitempty,oneof=user admin"`
}

type UpdateUserRequest struct {
	Role    *domain.Role `json:"role" validate:"omitempty,oneof=user admin"`
	Enabled *bool        `json:"enabled"`
}

type CreateSubscriptionRequest struct {
	Account    string   `json:"account" validate:"required,stellar_account"`
	WebhookURL string   `json:"webhookUrl" validate:"required,url,max=2048"`
	EventTypes []string `json:"eventTypes" validate:"max=30,dive,required,max=64"`
}

type UpdateSubscriptionRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type CreateVoiceJobRequest struct {
	AudioURL string `json:"audioUrl" validate:"required,url,max=2048"`
	Language string `json:"language" validate:"omitempty,max=16"`
}

type GrantConsentRequest struct {
	Version string `json:"version" validate:"max=20"`
}

type ErasureResponse struct {
	WorkflowID int64  `json:"workflowId"`
	ExternalID string `json:"externalId"`
	State      string `json:"state"`
	Status     string `json:"status"`
}
