package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ── Card/Bank Gateway Adapter ─────────────────────────────────────────────────
// Hosted-checkout rail: initiate acquires a bearer token, submits an order and
// hands the payer a redirect URL. Confirmation arrives on the webhook with an
// HMAC signature over the raw body.

type cardBankGateway struct {
	consumerKey    string
	consumerSecret string
	baseURL        string
	callbackURL    string
	client         *http.Client
	signer         webhookSigner
}

func NewCardBankGateway(consumerKey, consumerSecret, baseURL, callbackURL, webhookSecret string, allowUnsigned bool) Gateway {
	return &cardBankGateway{
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		baseURL:        baseURL,
		callbackURL:    callbackURL,
		client:         newHTTPClient(),
		signer:         newWebhookSigner(webhookSecret, allowUnsigned),
	}
}

func (g *cardBankGateway) token(ctx context.Context) (string, error) {
	resp, err := postJSON(ctx, g.client, g.baseURL+"/api/Auth/RequestToken", map[string]string{
		"consumer_key":    g.consumerKey,
		"consumer_secret": g.consumerSecret,
	}, nil)
	if err != nil {
		return "", err
	}
	var tokenResp struct {
		Token string `json:"token"`
	}
	if err := decodeOK(resp, &tokenResp); err != nil {
		return "", err
	}
	if tokenResp.Token == "" {
		return "", fmt.Errorf("%w: empty auth token", ErrProvider)
	}
	return tokenResp.Token, nil
}

func (g *cardBankGateway) Initiate(ctx context.Context, txID string, req *InitiateRequest) (*ProviderResult, error) {
	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}

	orderReq := map[string]interface{}{
		"id":           txID,
		"amount":       req.Amount,
		"currency":     req.Currency,
		"description":  req.Description,
		"callback_url": g.callbackURL,
	}
	resp, err := postJSON(ctx, g.client, g.baseURL+"/api/Transactions/SubmitOrderRequest", orderReq, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if err != nil {
		return nil, err
	}
	var orderResp struct {
		OrderTrackingID string `json:"order_tracking_id"`
		RedirectURL     string `json:"redirect_url"`
	}
	if err := decodeOK(resp, &orderResp); err != nil {
		return nil, err
	}
	if orderResp.RedirectURL == "" {
		return nil, fmt.Errorf("%w: no redirect url in order response", ErrProvider)
	}

	return &ProviderResult{
		ReferenceID: orderResp.OrderTrackingID,
		RedirectURL: orderResp.RedirectURL,
		Metadata:    map[string]interface{}{"order_tracking_id": orderResp.OrderTrackingID},
	}, nil
}

func (g *cardBankGateway) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) (*Confirmation, error) {
	if err := g.signer.verify(body, headers.Get("X-Signature")); err != nil {
		return nil, err
	}

	var payload struct {
		TransactionID   string `json:"transaction_id"`
		MerchantRef     string `json:"merchant_reference"`
		OrderTrackingID string `json:"order_tracking_id"`
		Status          string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed callback body", ErrNoTransactionRef)
	}
	txID := payload.TransactionID
	if txID == "" {
		txID = payload.MerchantRef
	}
	if txID == "" {
		return nil, ErrNoTransactionRef
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(body, &raw)

	return &Confirmation{
		TransactionID: txID,
		ReferenceID:   payload.OrderTrackingID,
		Status:        normaliseCardBankStatus(payload.Status),
		RawPayload:    raw,
	}, nil
}
