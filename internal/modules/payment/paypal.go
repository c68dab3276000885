package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ── PayPal Gateway Adapter ────────────────────────────────────────────────────
// Hosted-checkout rail: initiate exchanges client credentials for a token,
// creates an order resource and hands back the "approve" link. Webhook
// authenticity is established by a round-trip to PayPal's own
// verify-webhook-signature endpoint rather than a shared-secret HMAC.

type paypalGateway struct {
	clientID     string
	clientSecret string
	baseURL      string
	webhookID    string
	returnURL    string
	cancelURL    string
	client       *http.Client
}

func NewPayPalGateway(clientID, clientSecret, baseURL, webhookID, returnURL, cancelURL string) Gateway {
	return &paypalGateway{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      baseURL,
		webhookID:    webhookID,
		returnURL:    returnURL,
		cancelURL:    cancelURL,
		client:       newHTTPClient(),
	}
}

func (g *paypalGateway) token(ctx context.Context) (string, error) {
	resp, err := doWithRetry(g.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			g.baseURL+"/v1/oauth2/token", strings.NewReader("grant_type=client_credentials"))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Authorization", "Basic "+
			base64.StdEncoding.EncodeToString([]byte(g.clientID+":"+g.clientSecret)))
		return req, nil
	})
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

func (g *paypalGateway) Initiate(ctx context.Context, txID string, req *InitiateRequest) (*ProviderResult, error) {
	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}

	orderReq := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"custom_id": txID,
				"amount": map[string]interface{}{
					"currency_code": req.Currency,
					"value":         fmt.Sprintf("%.2f", req.Amount),
				},
				"description": req.Description,
			},
		},
		"application_context": map[string]interface{}{
			"return_url": g.returnURL,
			"cancel_url": g.cancelURL,
		},
	}
	resp, err := postJSON(ctx, g.client, g.baseURL+"/v2/checkout/orders", orderReq, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if err != nil {
		return nil, err
	}
	var orderResp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Links  []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := decodeOK(resp, &orderResp); err != nil {
		return nil, err
	}

	var approveURL string
	for _, link := range orderResp.Links {
		if link.Rel == "approve" {
			approveURL = link.Href
			break
		}
	}
	if approveURL == "" {
		return nil, fmt.Errorf("%w: order %s has no approve link", ErrProvider, orderResp.ID)
	}

	return &ProviderResult{
		ReferenceID: orderResp.ID,
		RedirectURL: approveURL,
		Metadata:    map[string]interface{}{"paypal_order_status": orderResp.Status},
	}, nil
}

// VerifyWebhook calls PayPal's signature-verification API with the five
// transmission headers and the original event body. Anything other than a
// "SUCCESS" verification_status is an authentication failure.
func (g *paypalGateway) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) (*Confirmation, error) {
	token, err := g.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	var event map[string]interface{}
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: malformed event body", ErrVerificationFailed)
	}

	verifyReq := map[string]interface{}{
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"transmission_id":   headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        g.webhookID,
		"webhook_event":     event,
	}
	resp, err := postJSON(ctx, g.client, g.baseURL+"/v1/notifications/verify-webhook-signature", verifyReq, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	var verifyResp struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := decodeOK(resp, &verifyResp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if verifyResp.VerificationStatus != "SUCCESS" {
		return nil, fmt.Errorf("%w: verification_status %q", ErrVerificationFailed, verifyResp.VerificationStatus)
	}

	var parsed struct {
		EventType string `json:"event_type"`
		Resource  struct {
			ID       string `json:"id"`
			Status   string `json:"status"`
			CustomID string `json:"custom_id"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed event body", ErrNoTransactionRef)
	}
	if parsed.Resource.CustomID == "" && parsed.Resource.ID == "" {
		return nil, ErrNoTransactionRef
	}

	// custom_id echoes the transaction id attached to the purchase unit at
	// order creation; resource.id is PayPal's own order/capture id.
	return &Confirmation{
		TransactionID: parsed.Resource.CustomID,
		ReferenceID:   parsed.Resource.ID,
		Status:        normalisePayPalEvent(parsed.EventType, parsed.Resource.Status),
		RawPayload:    event,
	}, nil
}
