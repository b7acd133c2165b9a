package sinks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/rs/zerolog"
)

// Retry policy: 5xx and transport errors retry with linear backoff, 4xx is
// the caller's bug and never retries.
const (
	webhookMaxRetries = 3
	webhookBackoff    = 2 * time.Second
)

// signatureHeader carries the HMAC of the body when a secret is configured.
const signatureHeader = "X-PSI-Signature"

// webhookEvent is the generic webhook envelope.
type webhookEvent struct {
	EventType string            `json:"event_type"`
	Timestamp string            `json:"timestamp"`
	Alert     domain.Alert      `json:"alert"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// WebhookSink POSTs alerts to one or more generic HTTP endpoints, signing
// the body when a shared secret is configured.
type WebhookSink struct {
	http       *resty.Client
	endpoints  []string
	secret     string
	authHeader string
	log        zerolog.Logger

	sleep func(time.Duration)
}

// NewWebhookSink creates a generic webhook sink. secret and authHeader may be
// empty.
func NewWebhookSink(endpoints []string, secret, authHeader string, log zerolog.Logger) *WebhookSink {
	return &WebhookSink{
		http:       resty.New().SetTimeout(10 * time.Second),
		endpoints:  endpoints,
		secret:     secret,
		authHeader: authHeader,
		log:        log.With().Str("client", "webhook").Logger(),
		sleep:      time.Sleep,
	}
}

// Name implements Sink.
func (s *WebhookSink) Name() string { return "webhook" }

// Sign computes the hex-encoded HMAC-SHA256 of body under secret, in the
// "sha256=<hex>" header format.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Send delivers the alert to every endpoint; true when at least one accepted.
func (s *WebhookSink) Send(ctx context.Context, alert domain.Alert) bool {
	body, err := json.Marshal(webhookEvent{
		EventType: string(alert.Type),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Alert:     alert,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Could not encode webhook event")
		return false
	}

	ok := false
	for _, endpoint := range s.endpoints {
		if s.deliver(ctx, endpoint, body) {
			ok = true
		}
	}
	return ok
}

// deliver posts body to one endpoint with the retry policy.
func (s *WebhookSink) deliver(ctx context.Context, endpoint string, body []byte) bool {
	for attempt := 0; attempt <= webhookMaxRetries; attempt++ {
		if attempt > 0 {
			s.sleep(time.Duration(attempt) * webhookBackoff)
		}

		req := s.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(body)
		if s.secret != "" {
			req.SetHeader(signatureHeader, Sign(s.secret, body))
		}
		if s.authHeader != "" {
			req.SetHeader("Authorization", s.authHeader)
		}

		resp, err := req.Post(endpoint)
		if err != nil {
			s.log.Warn().Err(err).Str("endpoint", endpoint).Int("attempt", attempt).Msg("Webhook delivery error")
			continue
		}
		status := resp.StatusCode()
		switch {
		case status < 300:
			return true
		case status >= 500:
			s.log.Warn().Int("status", status).Str("endpoint", endpoint).Int("attempt", attempt).Msg("Webhook server error")
			continue
		default:
			// 4xx: our payload is wrong, retrying cannot help.
			s.log.Error().Int("status", status).Str("endpoint", endpoint).Msg("Webhook rejected payload")
			return false
		}
	}
	return false
}
