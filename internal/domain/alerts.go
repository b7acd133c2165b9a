package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Severity orders alerts from informational to critical.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityRank returns the ordinal position of a severity, LOW being lowest.
// Unknown severities rank below LOW so they never pass a minimum-severity gate.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	case SeverityLow:
		return 0
	default:
		return -1
	}
}

// ParseSeverity converts a config string into a Severity, defaulting to LOW.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s)
	default:
		return SeverityLow
	}
}

// AlertType identifies the detector that produced an alert.
type AlertType string

const (
	AlertConsensus         AlertType = "CONSENSUS"
	AlertEdgeDecay         AlertType = "EDGE_DECAY"
	AlertWinRateAnomaly    AlertType = "WIN_RATE_ANOMALY"
	AlertTimingPattern     AlertType = "TIMING_PATTERN"
	AlertVolumeWash        AlertType = "VOLUME_CONCENTRATION"
	AlertImpossibleSharpe  AlertType = "IMPOSSIBLE_SHARPE"
	AlertWinStreak         AlertType = "WIN_STREAK"
	AlertNewAccountWhale   AlertType = "NEW_ACCOUNT_WHALE"
	AlertVolumeSpike       AlertType = "VOLUME_SPIKE"
	AlertSmartDivergence   AlertType = "SMART_MONEY_DIVERGENCE"
	AlertWhaleAnomaly      AlertType = "WHALE_ANOMALY"
	AlertCoordinatedEntry  AlertType = "COORDINATED_ENTRY"
	AlertLateConviction    AlertType = "LATE_ENTRY_CONVICTION"
	AlertHiddenGem         AlertType = "HIDDEN_GEM"
)

// AlertPayload is the closed set of typed alert bodies. Each variant reports
// its tag for the tagged-union JSON encoding.
type AlertPayload interface {
	PayloadTag() string
}

// ConsensusPayload carries a smart-money consensus signal for one market.
type ConsensusPayload struct {
	MarketSlug   string  `json:"market_slug"`
	Direction    string  `json:"direction"` // YES or NO
	Strength     string  `json:"strength"`
	AgreementPct float64 `json:"agreement_pct"`
	TraderCount  int     `json:"trader_count"`
	TotalVolume  float64 `json:"total_volume"`
	Confidence   float64 `json:"confidence"`
}

func (ConsensusPayload) PayloadTag() string { return "consensus" }

// DecayPayload reports degradation of a wallet's edge.
type DecayPayload struct {
	Signal        string  `json:"signal"` // win_rate_drop, sharpe_degradation, pnl_decline, strategy_drift
	RecentValue   float64 `json:"recent_value"`
	BaselineValue float64 `json:"baseline_value"`
	Magnitude     float64 `json:"magnitude"`
	Action        string  `json:"recommended_action"` // informational only
}

func (DecayPayload) PayloadTag() string { return "decay" }

// AnomalyPayload carries one suspicious-pattern detection with its
// detector-specific measurements.
type AnomalyPayload struct {
	Pattern     string             `json:"pattern"`
	Confidence  float64            `json:"confidence"` // [0,1]
	Direction   string             `json:"direction,omitempty"`
	Volume      float64            `json:"volume,omitempty"`
	Measurement map[string]float64 `json:"measurement,omitempty"`
}

func (AnomalyPayload) PayloadTag() string { return "anomaly" }

// GemPayload flags an under-ranked wallet worth watching.
type GemPayload struct {
	Score      float64 `json:"score"`
	Sharpe     float64 `json:"sharpe"`
	WinRate    float64 `json:"win_rate"`
	DaysActive int     `json:"days_active"`
}

func (GemPayload) PayloadTag() string { return "gem" }

// Alert is the shared envelope around a typed payload. AlertID is a content
// hash so identical detections collapse under deduplication.
type Alert struct {
	AlertID     string       `json:"alert_id"`
	Type        AlertType    `json:"type"`
	Severity    Severity     `json:"severity"`
	Title       string       `json:"title"`
	Message     string       `json:"message"`
	WalletID    string       `json:"wallet_id,omitempty"`
	MarketID    string       `json:"market_id,omitempty"`
	Payload     AlertPayload `json:"-"`
	CreatedAt   time.Time    `json:"created_at"`
	DeliveredAt *time.Time   `json:"delivered_at,omitempty"`
}

// MarshalJSON encodes the alert with its payload as a tagged union under
// "data": {"kind": <tag>, ...payload fields}.
func (a Alert) MarshalJSON() ([]byte, error) {
	type envelope Alert // avoid recursion
	var data json.RawMessage
	if a.Payload != nil {
		body, err := json.Marshal(a.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal alert payload: %w", err)
		}
		tagged := map[string]json.RawMessage{}
		if err := json.Unmarshal(body, &tagged); err != nil {
			return nil, fmt.Errorf("re-read alert payload: %w", err)
		}
		tag, _ := json.Marshal(a.Payload.PayloadTag())
		tagged["kind"] = tag
		data, err = json.Marshal(tagged)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(struct {
		envelope
		Data json.RawMessage `json:"data,omitempty"`
	}{envelope(a), data})
}

// NewAlert builds an alert envelope and assigns its content-hash id.
func NewAlert(t AlertType, sev Severity, title, message, walletID, marketID string, payload AlertPayload) Alert {
	a := Alert{
		Type:      t,
		Severity:  sev,
		Title:     title,
		Message:   message,
		WalletID:  walletID,
		MarketID:  marketID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	a.AlertID = a.contentHash()
	return a
}

func (a Alert) contentHash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s", a.Type, a.Severity, a.WalletID, a.MarketID, a.Title)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// DedupKey computes the dispatcher's deduplication key: volume is bucketed to
// the nearest $1000 so near-identical detections within the TTL collapse.
func (a Alert) DedupKey() string {
	direction := ""
	volume := 0.0
	switch p := a.Payload.(type) {
	case *ConsensusPayload:
		direction = p.Direction
		volume = p.TotalVolume
	case *AnomalyPayload:
		direction = p.Direction
		volume = p.Volume
	}
	bucket := math.Round(volume/1000.0) * 1000.0
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%.0f", a.Type, a.MarketID, a.WalletID, direction, bucket)
	return hex.EncodeToString(h.Sum(nil))[:24]
}
