package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Gateway is the provider-agnostic interface every payment adapter must
// implement. Initiate performs the provider handshake for a new payment;
// VerifyWebhook authenticates an inbound callback and normalises it.
type Gateway interface {
	// Initiate sends a payment request to the provider and returns the
	// provider-side references for the freshly generated transaction id.
	Initiate(ctx context.Context, txID string, req *InitiateRequest) (*ProviderResult, error)
	// VerifyWebhook authenticates the raw callback and maps it onto the
	// internal status vocabulary. It returns ErrVerificationFailed when the
	// payload cannot be authenticated and ErrNoTransactionRef when authentic
	// but unattributable.
	VerifyWebhook(ctx context.Context, headers http.Header, body []byte) (*Confirmation, error)
}

// GatewayRegistry maps provider names to their Gateway implementations.
type GatewayRegistry map[Provider]Gateway

// ── Outbound HTTP plumbing shared by the adapters ─────────────────────────────

const (
	providerCallTimeout = 10 * time.Second
	maxAttempts         = 3
)

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: providerCallTimeout}
}

// doWithRetry performs a provider call up to maxAttempts times with linear
// backoff. Transport errors and 5xx responses are retryable; any 4xx is
// returned immediately since retrying a rejected request cannot succeed.
// The caller owns closing the response body.
func doWithRetry(client *http.Client, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := build()
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
		} else if resp.StatusCode >= 500 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(body))
		} else {
			return resp, nil
		}
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrProvider, lastErr)
}

// postJSON marshals payload and POSTs it, applying extra headers via decorate.
func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}, decorate func(*http.Request)) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request for %s: %w", url, err)
	}
	return doWithRetry(client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if decorate != nil {
			decorate(req)
		}
		return req, nil
	})
}

// decodeOK decodes a 2xx response into out, or returns the provider's error
// body as an ErrProvider.
func decodeOK(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrProvider, err)
	}
	return nil
}
