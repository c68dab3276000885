package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ── Airtel Money Gateway Adapter ──────────────────────────────────────────────
// Device-prompt rail like M-Pesa: no redirect URL, the payer confirms with a
// PIN prompt and the outcome arrives on the webhook.

type airtelGateway struct {
	clientID     string
	clientSecret string
	baseURL      string
	country      string
	client       *http.Client
	signer       webhookSigner
}

func NewAirtelGateway(clientID, clientSecret, baseURL, country, webhookSecret string, allowUnsigned bool) Gateway {
	return &airtelGateway{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      baseURL,
		country:      country,
		client:       newHTTPClient(),
		signer:       newWebhookSigner(webhookSecret, allowUnsigned),
	}
}

func (g *airtelGateway) token(ctx context.Context) (string, error) {
	resp, err := postJSON(ctx, g.client, g.baseURL+"/auth/oauth2/token", map[string]string{
		"client_id":     g.clientID,
		"client_secret": g.clientSecret,
		"grant_type":    "client_credentials",
	}, nil)
	if err != nil {
		return "", err
	}
	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := decodeOK(resp, &tokenResp); err != nil {
		return "", err
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrProvider)
	}
	return tokenResp.AccessToken, nil
}

func (g *airtelGateway) Initiate(ctx context.Context, txID string, req *InitiateRequest) (*ProviderResult, error) {
	if req.PhoneNumber == "" {
		return nil, fmt.Errorf("%w: phone_number is required for Airtel Money", ErrValidation)
	}

	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}

	payReq := map[string]interface{}{
		"reference": req.OrderID,
		"subscriber": map[string]interface{}{
			"country":  g.country,
			"currency": req.Currency,
			"msisdn":   req.PhoneNumber,
		},
		"transaction": map[string]interface{}{
			"amount":   req.Amount,
			"country":  g.country,
			"currency": req.Currency,
			"id":       txID,
		},
	}
	resp, err := postJSON(ctx, g.client, g.baseURL+"/merchant/v2/payments/", payReq, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
		r.Header.Set("X-Country", g.country)
		r.Header.Set("X-Currency", req.Currency)
	})
	if err != nil {
		return nil, err
	}
	var payResp struct {
		Data struct {
			Transaction struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"transaction"`
		} `json:"data"`
		Status struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
		} `json:"status"`
	}
	if err := decodeOK(resp, &payResp); err != nil {
		return nil, err
	}

	return &ProviderResult{
		ReferenceID: payResp.Data.Transaction.ID,
		Metadata: map[string]interface{}{
			"provider_status":  payResp.Data.Transaction.Status,
			"provider_message": payResp.Status.Message,
		},
	}, nil
}

func (g *airtelGateway) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) (*Confirmation, error) {
	if err := g.signer.verify(body, headers.Get("X-Signature")); err != nil {
		return nil, err
	}

	// Airtel wraps callback data in a "transaction" object.
	var payload struct {
		Transaction struct {
			ID            string `json:"id"`
			Status        string `json:"status"`
			AirtelMoneyID string `json:"airtel_money_id"`
		} `json:"transaction"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed callback body", ErrNoTransactionRef)
	}
	if payload.Transaction.ID == "" {
		return nil, ErrNoTransactionRef
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(body, &raw)

	// transaction.id carries the id this service generated at initiate time.
	return &Confirmation{
		TransactionID: payload.Transaction.ID,
		ReferenceID:   payload.Transaction.AirtelMoneyID,
		Status:        normaliseAirtelStatus(payload.Transaction.Status),
		RawPayload:    raw,
	}, nil
}
