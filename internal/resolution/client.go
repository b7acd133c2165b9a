// Package resolution tracks market settlement. It polls the external market
// metadata API for closed markets, determines winning outcomes and persists
// resolutions so the P&L pass can settle positions.
package resolution

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Paging limits. The API is paged newest-closed-first; the cap bounds one
// pass even if the remote keeps returning full pages.
const (
	pageSize = 100
	maxPages = 50
)

// FlexFloats decodes a JSON field that may be a native array of numbers, an
// array of numeric strings, or a JSON-encoded string containing either.
type FlexFloats []float64

// UnmarshalJSON implements the three accepted encodings.
func (f *FlexFloats) UnmarshalJSON(data []byte) error {
	// Try a quoted string first: "[\"0.99\", \"0.01\"]"
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		data = []byte(s)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("outcome prices: %w", err)
	}

	out := make([]float64, 0, len(raw))
	for _, item := range raw {
		var v float64
		if err := json.Unmarshal(item, &v); err == nil {
			out = append(out, v)
			continue
		}
		var vs string
		if err := json.Unmarshal(item, &vs); err != nil {
			return fmt.Errorf("outcome price element %q", item)
		}
		parsed, err := strconv.ParseFloat(vs, 64)
		if err != nil {
			return fmt.Errorf("outcome price %q: %w", vs, err)
		}
		out = append(out, parsed)
	}
	*f = out
	return nil
}

// FlexStrings decodes a JSON field that may be a native string array or a
// JSON-encoded string containing one.
type FlexStrings []string

// UnmarshalJSON implements both accepted encodings.
func (f *FlexStrings) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		data = []byte(s)
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("outcomes: %w", err)
	}
	*f = out
	return nil
}

// Market is one market row from the metadata API.
type Market struct {
	ConditionID   string      `json:"conditionId"`
	Slug          string      `json:"slug"`
	Question      string      `json:"question"`
	Closed        bool        `json:"closed"`
	OutcomePrices FlexFloats  `json:"outcomePrices"`
	Outcomes      FlexStrings `json:"outcomes"`
	EndDate       *time.Time  `json:"endDate"`
}

// Client fetches closed markets from the metadata API. Calls are spaced at
// least 200ms apart.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewClient creates a metadata API client against baseURL.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Accept", "application/json")

	return &Client{
		http:    http,
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		log:     log.With().Str("client", "market-metadata").Logger(),
	}
}

// ClosedMarkets fetches one page of closed markets ordered by close time,
// newest first.
func (c *Client) ClosedMarkets(ctx context.Context, limit, offset int) ([]Market, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var markets []Market
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"closed":    "true",
			"limit":     strconv.Itoa(limit),
			"offset":    strconv.Itoa(offset),
			"order":     "closedTime",
			"ascending": "false",
		}).
		SetResult(&markets).
		Get("/markets")
	if err != nil {
		return nil, fmt.Errorf("metadata API request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("metadata API returned status %d", resp.StatusCode())
	}

	c.log.Debug().Int("offset", offset).Int("count", len(markets)).Msg("Fetched closed markets page")
	return markets, nil
}
