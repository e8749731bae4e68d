package alerting

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DingTalkNotifier posts markdown messages to a DingTalk robot webhook.
type DingTalkNotifier struct {
	webhook string
	secret  string
	client  *http.Client
	logger  zerolog.Logger
	now     func() time.Time
}

// NewDingTalkNotifier builds a DingTalk notifier. secret enables signed requests.
func NewDingTalkNotifier(webhook, secret string, timeout time.Duration, logger zerolog.Logger) *DingTalkNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DingTalkNotifier{
		webhook: strings.TrimSpace(webhook),
		secret:  strings.TrimSpace(secret),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "alert_dingtalk").Logger(),
		now:     time.Now,
	}
}

// Notify sends the alert; success requires errcode 0.
func (n *DingTalkNotifier) Notify(ctx context.Context, note Notification) error {
	if n.webhook == "" {
		return fmt.Errorf("dingtalk webhook not configured")
	}

	endpoint, err := n.signedURL()
	if err != nil {
		return err
	}

	payload := map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": kindTitle(note.Kind),
			"text":  renderMarkdown(note),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal dingtalk payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create dingtalk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send dingtalk request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("dingtalk: unexpected status %d", resp.StatusCode)
	}

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode dingtalk response: %w", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("dingtalk errcode=%d: %s", result.ErrCode, result.ErrMsg)
	}

	n.logger.Info().Str("instrument", note.InstrumentID).
		Str("kind", note.Kind).
		Msg("alert sent (DingTalk)")
	return nil
}

func (n *DingTalkNotifier) signedURL() (string, error) {
	if n.secret == "" {
		return n.webhook, nil
	}

	u, err := url.Parse(n.webhook)
	if err != nil {
		return "", fmt.Errorf("parse dingtalk webhook: %w", err)
	}
	timestamp := strconv.FormatInt(n.now().UnixMilli(), 10)
	q := u.Query()
	q.Set("timestamp", timestamp)
	q.Set("sign", sign(timestamp, n.secret))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// sign computes base64(HMAC-SHA256(secret, timestamp + "\n" + secret)).
func sign(timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "\n" + secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

var _ Notifier = (*DingTalkNotifier)(nil)
