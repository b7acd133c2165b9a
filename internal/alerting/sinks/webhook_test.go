package sinks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAlert() domain.Alert {
	return domain.NewAlert(domain.AlertVolumeSpike, domain.SeverityHigh,
		"Directional volume spike", "Market m running hot",
		"", "some-market", &domain.AnomalyPayload{Pattern: "volume_spike", Volume: 47_500, Direction: "YES"})
}

func TestSign(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	got := Sign("topsecret", body)

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, got)
}

func TestWebhookSignsAndDelivers(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-PSI-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink([]string{srv.URL}, "topsecret", "", zerolog.Nop())
	ok := sink.Send(context.Background(), testAlert())
	require.True(t, ok)

	// Signature verifies against the delivered body.
	assert.Equal(t, Sign("topsecret", gotBody), gotSig)
	assert.Contains(t, string(gotBody), `"event_type":"VOLUME_SPIKE"`)
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink([]string{srv.URL}, "", "", zerolog.Nop())
	sink.sleep = func(time.Duration) {} // no real backoff in tests

	ok := sink.Send(context.Background(), testAlert())
	assert.True(t, ok)
	assert.Equal(t, 3, attempts)
}

func TestWebhookDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sink := NewWebhookSink([]string{srv.URL}, "", "", zerolog.Nop())
	sink.sleep = func(time.Duration) {}

	ok := sink.Send(context.Background(), testAlert())
	assert.False(t, ok)
	assert.Equal(t, 1, attempts)
}

func TestWebhookFanOutSucceedsIfAnyEndpointAccepts(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer good.Close()

	sink := NewWebhookSink([]string{bad.URL, good.URL}, "", "", zerolog.Nop())
	sink.sleep = func(time.Duration) {}

	assert.True(t, sink.Send(context.Background(), testAlert()))
}

func TestChatSinkPostsEmbeds(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewChatSink(srv.URL, zerolog.Nop())
	alert := domain.NewAlert(domain.AlertConsensus, domain.SeverityMedium,
		"STRONG consensus on m", "8 wallets lean YES", "", "m",
		&domain.ConsensusPayload{Direction: "YES", Strength: "STRONG", AgreementPct: 0.8, TraderCount: 10, TotalVolume: 60_000, Confidence: 0.81})

	require.True(t, sink.Send(context.Background(), alert))
	assert.Contains(t, string(body), `"embeds"`)
	assert.Contains(t, string(body), `"Direction"`)
	assert.Contains(t, string(body), `"YES"`)
}

func TestSeverityColor(t *testing.T) {
	assert.Equal(t, colorCritical, severityColor(domain.SeverityCritical))
	assert.Equal(t, colorHigh, severityColor(domain.SeverityHigh))
	assert.Equal(t, colorMedium, severityColor(domain.SeverityMedium))
	assert.Equal(t, colorLow, severityColor(domain.SeverityLow))
}
