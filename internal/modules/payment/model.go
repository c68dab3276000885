package payment

import (
	"time"

	"github.com/google/uuid"
)

// Provider represents a supported payment rail. The set is closed: adding a
// rail means adding a Gateway implementation and a registry entry.
type Provider string

const (
	ProviderCardBank Provider = "CARD_BANK"
	ProviderMpesa    Provider = "MPESA"
	ProviderAirtel   Provider = "AIRTEL_MONEY"
	ProviderPayPal   Provider = "PAYPAL"
)

// methodToProvider maps the public "method" field on initiate requests to a
// provider. Unknown methods are rejected before any gateway call.
var methodToProvider = map[string]Provider{
	"card_bank": ProviderCardBank,
	"mpesa":     ProviderMpesa,
	"airtel":    ProviderAirtel,
	"paypal":    ProviderPayPal,
}

// TxStatus is the internal three-state lifecycle of a transaction.
type TxStatus string

const (
	TxPending TxStatus = "PENDING"
	TxSuccess TxStatus = "SUCCESS"
	TxFailed  TxStatus = "FAILED"
)

// IsTerminal reports whether s is an absorbing state.
func (s TxStatus) IsTerminal() bool { return s == TxSuccess || s == TxFailed }

// CanTransition reports whether moving from one status to another is legal.
// Only PENDING -> SUCCESS and PENDING -> FAILED are allowed; terminal states
// never change.
func CanTransition(from, to TxStatus) bool {
	if from != TxPending {
		return false
	}
	return to == TxSuccess || to == TxFailed
}

// Transaction is the provider-agnostic record of one payment attempt. ID is
// generated by this service at initiation time; provider-side identifiers
// live in ReferenceID and are never exposed as the primary key.
type Transaction struct {
	ID                uuid.UUID              `json:"transaction_id"`
	UserID            string                 `json:"user_id"`
	Provider          Provider               `json:"provider"`
	Status            TxStatus               `json:"status"`
	Amount            float64                `json:"amount"`
	Currency          string                 `json:"currency"`
	ReferenceID       string                 `json:"reference_id,omitempty"`
	RedirectURL       string                 `json:"redirect_url,omitempty"`
	PhoneNumber       string                 `json:"phone_number,omitempty"`
	Description       string                 `json:"description,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	WebhookReceivedAt *time.Time             `json:"webhook_received_at,omitempty"`
	WebhookPayload    interface{}            `json:"webhook_payload,omitempty"`
	LastError         string                 `json:"last_error,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// ── Request/Response DTOs ─────────────────────────────────────────────────────

// InitiateRequest is the payload to start a new payment.
type InitiateRequest struct {
	UserID      string  `json:"user_id"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Method      string  `json:"method"` // card_bank | mpesa | airtel | paypal
	OrderID     string  `json:"order_id,omitempty"`
	Description string  `json:"description,omitempty"`
	PhoneNumber string  `json:"phone_number,omitempty"`
	CallbackURL string  `json:"callback_url,omitempty"`
}

// InitiateResponse is returned to the caller verbatim from the normalized
// gateway result. RedirectURL is present for hosted-checkout rails only.
type InitiateResponse struct {
	TransactionID string                 `json:"transaction_id"`
	Provider      Provider               `json:"provider"`
	Status        TxStatus               `json:"status"`
	Amount        float64                `json:"amount"`
	Currency      string                 `json:"currency"`
	RedirectURL   string                 `json:"redirect_url,omitempty"`
	ReferenceID   string                 `json:"reference_id,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// StatusResponse is the polling read model.
type StatusResponse struct {
	TransactionID string   `json:"transaction_id"`
	Provider      Provider `json:"provider"`
	Status        TxStatus `json:"status"`
	Amount        float64  `json:"amount"`
	Currency      string   `json:"currency"`
	RedirectURL   string   `json:"redirect_url,omitempty"`
}

// ProviderResult is what a gateway adapter returns after initiating a payment.
type ProviderResult struct {
	TransactionID uuid.UUID
	ReferenceID   string
	RedirectURL   string
	Metadata      map[string]interface{}
}

// Confirmation is the normalized outcome of a verified webhook: which
// transaction it concerns and what the provider's native status maps to.
type Confirmation struct {
	TransactionID string
	ReferenceID   string
	Status        TxStatus
	RawPayload    map[string]interface{}
}

func statusView(tx *Transaction) *StatusResponse {
	return &StatusResponse{
		TransactionID: tx.ID.String(),
		Provider:      tx.Provider,
		Status:        tx.Status,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		RedirectURL:   tx.RedirectURL,
	}
}

func initiateView(tx *Transaction) *InitiateResponse {
	return &InitiateResponse{
		TransactionID: tx.ID.String(),
		Provider:      tx.Provider,
		Status:        tx.Status,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		RedirectURL:   tx.RedirectURL,
		ReferenceID:   tx.ReferenceID,
		Metadata:      tx.Metadata,
	}
}
