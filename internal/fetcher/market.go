package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultMarketListURL = "https://vip.stock.finance.sina.com.cn/quotes_service/api/json_v2.php"
	marketListPath       = "/Market_Center.getHQNodeData"
	maxMarketListPages   = 50
)

// MarketListOptions parameterise the listing fetcher.
type MarketListOptions struct {
	BaseURL  string
	Node     string
	PageSize int
}

// MarketList pages through the Sina market-center node listing, which carries
// code, name and latest price for every fund of a category.
type MarketList struct {
	opts    MarketListOptions
	client  *Client
	logger  zerolog.Logger
	baseURL string
}

// NewMarketList constructs a listing fetcher.
func NewMarketList(opts MarketListOptions, client *Client, logger zerolog.Logger) *MarketList {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultMarketListURL
	}
	if opts.Node == "" {
		opts.Node = "lof_hq_fund"
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}

	return &MarketList{
		opts:    opts,
		client:  client,
		logger:  logger.With().Str("component", "market_list").Logger(),
		baseURL: baseURL,
	}
}

type marketItem struct {
	Symbol string `json:"symbol"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Trade  string `json:"trade"`
}

// ListInstruments returns every instrument in the configured node.
func (m *MarketList) ListInstruments(ctx context.Context) ([]Instrument, error) {
	out := make([]Instrument, 0, m.opts.PageSize)
	seen := make(map[string]struct{})

	for page := 1; page <= maxMarketListPages; page++ {
		items, err := m.fetchPage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("list instruments page %d: %w", page, err)
		}

		for _, item := range items {
			inst := toInstrument(item)
			if inst.ID == "" {
				continue
			}
			if _, dup := seen[inst.ID]; dup {
				continue
			}
			seen[inst.ID] = struct{}{}
			out = append(out, inst)
		}

		if len(items) < m.opts.PageSize {
			break
		}
	}

	m.logger.Debug().Int("instruments", len(out)).Msg("instrument listing fetched")
	return out, nil
}

func (m *MarketList) fetchPage(ctx context.Context, page int) ([]marketItem, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("num", strconv.Itoa(m.opts.PageSize))
	q.Set("sort", "symbol")
	q.Set("asc", "1")
	q.Set("node", m.opts.Node)

	resp, err := m.client.Get(ctx, m.baseURL+marketListPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	body := strings.TrimSpace(string(resp.Body))
	if body == "" || body == "null" {
		return nil, nil
	}

	var items []marketItem
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	return items, nil
}

func toInstrument(item marketItem) Instrument {
	exchange, code := splitSymbol(item.Symbol)
	if code == "" {
		code = strings.TrimSpace(item.Code)
	}

	inst := Instrument{ID: code, Name: strings.TrimSpace(item.Name), Exchange: exchange}
	if p, err := decimal.NewFromString(strings.TrimSpace(item.Trade)); err == nil {
		inst.LastPrice = nullDecimal(p)
	}
	return inst
}

// splitSymbol strips the sz/sh exchange prefix from a symbol such as "sz160216".
func splitSymbol(symbol string) (string, string) {
	symbol = strings.TrimSpace(symbol)
	for _, prefix := range []string{"sz", "sh"} {
		if strings.HasPrefix(symbol, prefix) {
			return prefix, symbol[len(prefix):]
		}
	}
	return "", symbol
}

var _ Lister = (*MarketList)(nil)
