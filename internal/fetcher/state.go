package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

const (
	defaultStateURL = "https://fund.eastmoney.com"
	stateLabel      = "交易状态"
)

// StateOptions parameterise the trading-status scraper.
type StateOptions struct {
	BaseURL string
}

// StateScraper reads the trading status ("交易状态") label from the fund page.
type StateScraper struct {
	client  *Client
	logger  zerolog.Logger
	baseURL string
}

// NewStateScraper constructs a StateScraper.
func NewStateScraper(opts StateOptions, client *Client, logger zerolog.Logger) *StateScraper {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultStateURL
	}
	return &StateScraper{
		client:  client,
		logger:  logger.With().Str("component", "state_scraper").Logger(),
		baseURL: baseURL,
	}
}

// FetchState returns the status text, or "" when the page carries none.
func (s *StateScraper) FetchState(ctx context.Context, id string) (string, error) {
	resp, err := s.client.Get(ctx, fmt.Sprintf("%s/%s.html", s.baseURL, id), nil)
	if err != nil {
		return "", fmt.Errorf("fetch fund page %s: %w", id, err)
	}

	reader, err := charset.NewReader(bytes.NewReader(resp.Body), resp.ContentType)
	if err != nil {
		return "", fmt.Errorf("detect charset %s: %w", id, err)
	}
	doc, err := html.Parse(reader)
	if err != nil {
		return "", fmt.Errorf("parse fund page %s: %w", id, err)
	}

	return extractState(doc), nil
}

func extractState(doc *html.Node) string {
	var found string
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "staticItem") {
			text := nodeText(n)
			if strings.Contains(text, stateLabel) {
				found = cleanState(text)
				return true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(doc)
	return found
}

func cleanState(text string) string {
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = strings.Replace(text, stateLabel+"：", "", 1)
	text = strings.Replace(text, stateLabel+":", "", 1)
	return strings.TrimSpace(text)
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

// nodeText concatenates the trimmed text of all descendants.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(strings.TrimSpace(n.Data))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

var _ StateFetcher = (*StateScraper)(nil)
