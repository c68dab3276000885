package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// webhookSigner verifies the HMAC-SHA256 signature a provider computes over
// the raw callback body. Verification fails closed: a signer built without a
// secret rejects everything unless allowUnsigned was set explicitly at
// construction time.
type webhookSigner struct {
	secret        []byte
	allowUnsigned bool
}

func newWebhookSigner(secret string, allowUnsigned bool) webhookSigner {
	return webhookSigner{secret: []byte(secret), allowUnsigned: allowUnsigned}
}

// verify checks the hex-encoded signature against the raw body. The empty
// signature is never valid when a secret is configured.
func (s webhookSigner) verify(body []byte, signature string) error {
	if len(s.secret) == 0 {
		if s.allowUnsigned {
			return nil
		}
		return fmt.Errorf("%w: no webhook secret configured", ErrVerificationFailed)
	}
	if signature == "" {
		return fmt.Errorf("%w: missing signature header", ErrVerificationFailed)
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	want := mac.Sum(nil)
	got, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrVerificationFailed)
	}
	if !hmac.Equal(want, got) {
		return fmt.Errorf("%w: signature mismatch", ErrVerificationFailed)
	}
	return nil
}

// sign produces the hex signature for a body. Used by tests and by outbound
// callback_url notifications.
func (s webhookSigner) sign(body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
