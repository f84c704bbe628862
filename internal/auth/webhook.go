package auth

import (
	"errors"
	"fmt"
	"net/http"

	svix "github.com/svix/svix-webhooks/go"
)

// ErrMissingSignature is returned when the svix headers are absent.
var ErrMissingSignature = errors.New("missing svix headers")

// WebhookVerifier checks the svix signature the identity provider puts on its
// webhook deliveries.
type WebhookVerifier struct {
	wh *svix.Webhook
}

// NewWebhookVerifier builds a verifier for a "whsec_..." signing secret.
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	if secret == "" {
		return nil, errors.New("webhook signing secret must be configured")
	}
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("webhook secret: %w", err)
	}
	return &WebhookVerifier{wh: wh}, nil
}

// Verify checks payload against the svix-id, svix-timestamp and svix-signature headers.
func (v *WebhookVerifier) Verify(payload []byte, headers http.Header) error {
	if headers.Get("svix-id") == "" || headers.Get("svix-timestamp") == "" || headers.Get("svix-signature") == "" {
		return ErrMissingSignature
	}
	if err := v.wh.Verify(payload, headers); err != nil {
		return fmt.Errorf("verify webhook: %w", err)
	}
	return nil
}
