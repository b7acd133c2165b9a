package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/rs/zerolog"
)

// botAPIBase is the bot messaging API host.
const botAPIBase = "https://api.telegram.org"

func severityEmoji(s domain.Severity) string {
	switch s {
	case domain.SeverityCritical:
		return "🚨"
	case domain.SeverityHigh:
		return "🔴"
	case domain.SeverityMedium:
		return "🟡"
	default:
		return "🟢"
	}
}

// BotSink sends alerts as markup messages through the bot API, optionally
// routed to a thread. LOW alerts are sent silently.
type BotSink struct {
	http     *resty.Client
	token    string
	chatID   string
	threadID string
	log      zerolog.Logger
}

// NewBotSink creates a bot-API sink. threadID may be empty.
func NewBotSink(token, chatID, threadID string, log zerolog.Logger) *BotSink {
	return &BotSink{
		http:     resty.New().SetBaseURL(botAPIBase).SetTimeout(10 * time.Second),
		token:    token,
		chatID:   chatID,
		threadID: threadID,
		log:      log.With().Str("client", "bot-api").Logger(),
	}
}

// Name implements Sink.
func (s *BotSink) Name() string { return "bot-api" }

// Send posts the alert text via sendMessage.
func (s *BotSink) Send(ctx context.Context, alert domain.Alert) bool {
	text := fmt.Sprintf("%s *%s*\n%s", severityEmoji(alert.Severity), alert.Title, alert.Message)
	if alert.MarketID != "" {
		text += fmt.Sprintf("\n[market](%s)", fmt.Sprintf(marketViewURL, alert.MarketID))
	}

	body := map[string]any{
		"chat_id":    s.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	if s.threadID != "" {
		body["message_thread_id"] = s.threadID
	}
	if alert.Severity == domain.SeverityLow {
		body["disable_notification"] = true
	}

	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(fmt.Sprintf("/bot%s/sendMessage", s.token))
	if err != nil {
		s.log.Warn().Err(err).Msg("Bot API send failed")
		return false
	}
	if resp.IsError() {
		s.log.Warn().Int("status", resp.StatusCode()).Msg("Bot API rejected message")
		return false
	}
	return true
}
