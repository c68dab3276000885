package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ── M-Pesa (Daraja) Gateway Adapter ───────────────────────────────────────────
// Device-prompt rail: initiate fires an STK push at the payer's handset and
// returns no redirect URL; the client polls status until the asynchronous
// callback lands. The CheckoutRequestID is the provider-side correlation id.

type mpesaGateway struct {
	consumerKey    string
	consumerSecret string
	shortCode      string
	passkey        string
	baseURL        string
	callbackURL    string
	client         *http.Client
	signer         webhookSigner
	now            func() time.Time
}

func NewMpesaGateway(consumerKey, consumerSecret, shortCode, passkey, baseURL, callbackURL, webhookSecret string, allowUnsigned bool) Gateway {
	return &mpesaGateway{
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		shortCode:      shortCode,
		passkey:        passkey,
		baseURL:        baseURL,
		callbackURL:    callbackURL,
		client:         newHTTPClient(),
		signer:         newWebhookSigner(webhookSecret, allowUnsigned),
		now:            time.Now,
	}
}

func (g *mpesaGateway) token(ctx context.Context) (string, error) {
	resp, err := doWithRetry(g.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			g.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Basic "+
			base64.StdEncoding.EncodeToString([]byte(g.consumerKey+":"+g.consumerSecret)))
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

func (g *mpesaGateway) Initiate(ctx context.Context, txID string, req *InitiateRequest) (*ProviderResult, error) {
	if req.PhoneNumber == "" {
		return nil, fmt.Errorf("%w: phone_number is required for M-Pesa", ErrValidation)
	}

	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := g.now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(g.shortCode + g.passkey + timestamp))

	stkReq := map[string]interface{}{
		"BusinessShortCode": g.shortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            req.Amount,
		"PartyA":            req.PhoneNumber,
		"PartyB":            g.shortCode,
		"PhoneNumber":       req.PhoneNumber,
		"CallBackURL":       g.callbackURL,
		"AccountReference":  txID,
		"TransactionDesc":   req.Description,
	}
	resp, err := postJSON(ctx, g.client, g.baseURL+"/mpesa/stkpush/v1/processrequest", stkReq, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if err != nil {
		return nil, err
	}
	var stkResp struct {
		CheckoutRequestID string `json:"CheckoutRequestID"`
		MerchantRequestID string `json:"MerchantRequestID"`
		ResponseCode      string `json:"ResponseCode"`
		CustomerMessage   string `json:"CustomerMessage"`
	}
	if err := decodeOK(resp, &stkResp); err != nil {
		return nil, err
	}
	if stkResp.ResponseCode != "" && stkResp.ResponseCode != "0" {
		return nil, fmt.Errorf("%w: stk push rejected with code %s", ErrProvider, stkResp.ResponseCode)
	}

	return &ProviderResult{
		ReferenceID: stkResp.CheckoutRequestID,
		Metadata: map[string]interface{}{
			"merchant_request_id": stkResp.MerchantRequestID,
			"customer_message":    stkResp.CustomerMessage,
		},
	}, nil
}

func (g *mpesaGateway) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) (*Confirmation, error) {
	if err := g.signer.verify(body, headers.Get("X-Signature")); err != nil {
		return nil, err
	}

	var payload struct {
		TransactionID string `json:"transaction_id"`
		Body          struct {
			StkCallback struct {
				CheckoutRequestID string `json:"CheckoutRequestID"`
				ResultCode        *int   `json:"ResultCode"`
				ResultDesc        string `json:"ResultDesc"`
			} `json:"stkCallback"`
		} `json:"Body"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed callback body", ErrNoTransactionRef)
	}
	cb := payload.Body.StkCallback
	if payload.TransactionID == "" && cb.CheckoutRequestID == "" {
		return nil, ErrNoTransactionRef
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(body, &raw)

	return &Confirmation{
		TransactionID: payload.TransactionID,
		ReferenceID:   cb.CheckoutRequestID,
		Status:        normaliseMpesaResult(cb.ResultCode),
		RawPayload:    raw,
	}, nil
}
