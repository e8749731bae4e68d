package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultNAVURL = "https://fundgz.1234567.com.cn"

// NAVOptions parameterise the reference value fetcher.
type NAVOptions struct {
	BaseURL string
}

// NAV reads the published unit NAV from the eastmoney fund estimate feed.
type NAV struct {
	client  *Client
	logger  zerolog.Logger
	baseURL string
}

// NewNAV constructs a NAV fetcher.
func NewNAV(opts NAVOptions, client *Client, logger zerolog.Logger) *NAV {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultNAVURL
	}
	return &NAV{
		client:  client,
		logger:  logger.With().Str("component", "nav_fetcher").Logger(),
		baseURL: baseURL,
	}
}

type navPayload struct {
	FundCode string `json:"fundcode"`
	Name     string `json:"name"`
	NAVDate  string `json:"jzrq"`
	NAV      string `json:"dwjz"`
}

// FetchReference returns the latest unit NAV and its date.
func (n *NAV) FetchReference(ctx context.Context, id string) (decimal.Decimal, string, error) {
	url := fmt.Sprintf("%s/js/%s.js?rt=%s", n.baseURL, id, strconv.FormatInt(time.Now().UnixMilli(), 10))
	resp, err := n.client.Get(ctx, url, nil)
	if err != nil {
		return decimal.Decimal{}, "", fmt.Errorf("fetch nav %s: %w", id, err)
	}

	payload, err := unwrapJSONP(resp.Body)
	if err != nil {
		return decimal.Decimal{}, "", fmt.Errorf("fetch nav %s: %w", id, err)
	}
	if len(payload) == 0 {
		return decimal.Decimal{}, "", ErrNoQuote
	}

	var data navPayload
	if err := json.Unmarshal(payload, &data); err != nil {
		return decimal.Decimal{}, "", fmt.Errorf("decode nav %s: %w", id, err)
	}

	nav, err := decimal.NewFromString(strings.TrimSpace(data.NAV))
	if err != nil {
		return decimal.Decimal{}, "", fmt.Errorf("parse nav %s: %w", id, err)
	}
	return nav, data.NAVDate, nil
}

// unwrapJSONP extracts the argument of a callback(...) wrapper; "callback();" yields nil.
func unwrapJSONP(body []byte) ([]byte, error) {
	s := strings.TrimSpace(string(body))
	open := strings.IndexByte(s, '(')
	closing := strings.LastIndexByte(s, ')')
	if open < 0 || closing < open {
		return nil, fmt.Errorf("malformed jsonp payload")
	}
	inner := strings.TrimSpace(s[open+1 : closing])
	if inner == "" {
		return nil, nil
	}
	return []byte(inner), nil
}

var _ ReferenceFetcher = (*NAV)(nil)
