// Package sinks implements the notification destinations the dispatcher fans
// out to: a chat webhook with rich embeds, a bot messaging API, and signed
// generic HTTP webhooks.
package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/rs/zerolog"
)

// marketViewURL links an alert to the market it concerns.
const marketViewURL = "https://polymarket.com/market/%s"

// Embed colors by severity.
const (
	colorCritical = 0xe74c3c // red
	colorHigh     = 0xe67e22 // orange
	colorMedium   = 0xf1c40f // yellow
	colorLow      = 0x2ecc71 // green
)

func severityColor(s domain.Severity) int {
	switch s {
	case domain.SeverityCritical:
		return colorCritical
	case domain.SeverityHigh:
		return colorHigh
	case domain.SeverityMedium:
		return colorMedium
	default:
		return colorLow
	}
}

// embed is one rich-message block in the webhook payload.
type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// ChatSink posts rich embeds to a chat webhook URL.
type ChatSink struct {
	http *resty.Client
	url  string
	log  zerolog.Logger
}

// NewChatSink creates a chat-webhook sink.
func NewChatSink(url string, log zerolog.Logger) *ChatSink {
	return &ChatSink{
		http: resty.New().SetTimeout(10 * time.Second),
		url:  url,
		log:  log.With().Str("client", "chat-webhook").Logger(),
	}
}

// Name implements Sink.
func (s *ChatSink) Name() string { return "chat-webhook" }

// Send posts the alert as one embed. Typed payloads get richer field lists.
func (s *ChatSink) Send(ctx context.Context, alert domain.Alert) bool {
	switch p := alert.Payload.(type) {
	case *domain.ConsensusPayload:
		return s.SendConsensus(ctx, alert, p)
	case *domain.DecayPayload:
		return s.SendDecay(ctx, alert, p)
	case *domain.GemPayload:
		return s.SendGem(ctx, alert, p)
	}
	return s.post(ctx, s.baseEmbed(alert))
}

// SendConsensus formats a consensus signal with direction and volume fields.
func (s *ChatSink) SendConsensus(ctx context.Context, alert domain.Alert, p *domain.ConsensusPayload) bool {
	e := s.baseEmbed(alert)
	e.Fields = []embedField{
		{Name: "Direction", Value: p.Direction, Inline: true},
		{Name: "Strength", Value: p.Strength, Inline: true},
		{Name: "Agreement", Value: fmt.Sprintf("%.0f%%", p.AgreementPct*100), Inline: true},
		{Name: "Traders", Value: fmt.Sprintf("%d", p.TraderCount), Inline: true},
		{Name: "Volume", Value: fmt.Sprintf("$%.0f", p.TotalVolume), Inline: true},
		{Name: "Confidence", Value: fmt.Sprintf("%.2f", p.Confidence), Inline: true},
	}
	return s.post(ctx, e)
}

// SendDecay formats an edge-decay signal with the before/after values.
func (s *ChatSink) SendDecay(ctx context.Context, alert domain.Alert, p *domain.DecayPayload) bool {
	e := s.baseEmbed(alert)
	e.Fields = []embedField{
		{Name: "Signal", Value: p.Signal, Inline: true},
		{Name: "Baseline", Value: fmt.Sprintf("%.3f", p.BaselineValue), Inline: true},
		{Name: "Recent", Value: fmt.Sprintf("%.3f", p.RecentValue), Inline: true},
	}
	return s.post(ctx, e)
}

// SendGem formats a hidden-gem discovery.
func (s *ChatSink) SendGem(ctx context.Context, alert domain.Alert, p *domain.GemPayload) bool {
	e := s.baseEmbed(alert)
	e.Fields = []embedField{
		{Name: "Score", Value: fmt.Sprintf("%.1f", p.Score), Inline: true},
		{Name: "Sharpe", Value: fmt.Sprintf("%.2f", p.Sharpe), Inline: true},
		{Name: "Win rate", Value: fmt.Sprintf("%.0f%%", p.WinRate*100), Inline: true},
	}
	return s.post(ctx, e)
}

func (s *ChatSink) baseEmbed(alert domain.Alert) embed {
	e := embed{
		Title:       alert.Title,
		Description: alert.Message,
		Color:       severityColor(alert.Severity),
		Timestamp:   alert.CreatedAt.Format(time.RFC3339),
	}
	if alert.MarketID != "" {
		e.URL = fmt.Sprintf(marketViewURL, alert.MarketID)
	}
	return e
}

func (s *ChatSink) post(ctx context.Context, e embed) bool {
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"embeds": []embed{e}}).
		Post(s.url)
	if err != nil {
		s.log.Warn().Err(err).Msg("Chat webhook post failed")
		return false
	}
	if resp.IsError() {
		s.log.Warn().Int("status", resp.StatusCode()).Msg("Chat webhook rejected message")
		return false
	}
	return true
}
