package notify

import (
	"context"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/seenimoa/stockwatch/internal/infra"
)

// Per-channel message budgets, in bytes of UTF-8. Character-capped channels
// use their character cap as a byte budget, which is strictly conservative.
const (
	feishuBudget   = 20000
	wecomBudget    = 4000
	wecomTextCap   = 2048
	telegramBudget = 4096
	discordBudget  = 4096
	pushoverBudget = 1024
	webhookBudget  = 8192
)

// Channel is one delivery target. Send receives a single pre-chunked
// markdown piece and is responsible for its own dialect translation.
type Channel interface {
	Name() string
	Budget() int
	Send(ctx context.Context, text string) error
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	_, err := infra.DoPostJSON(ctx, client, url, payload, nil)
	return err
}

// --- Feishu ---

// FeishuChannel posts to a Feishu group-bot webhook. MaxBytes overrides
// the default chunk budget when positive.
type FeishuChannel struct {
	WebhookURL string
	MaxBytes   int
	Client     *http.Client
}

func (c *FeishuChannel) Name() string { return "feishu" }

func (c *FeishuChannel) Budget() int {
	if c.MaxBytes > 0 {
		return c.MaxBytes
	}
	return feishuBudget
}

func (c *FeishuChannel) Send(ctx context.Context, text string) error {
	payload := map[string]any{
		"msg_type": "text",
		"content":  map[string]string{"text": text},
	}
	return postJSON(ctx, c.Client, c.WebhookURL, payload)
}

// --- WeCom ---

// WeComChannel posts to an enterprise-WeChat group-bot webhook. Markdown
// mode carries 4000 bytes; plain text mode is capped harder upstream.
type WeComChannel struct {
	WebhookURL string
	TextMode   bool
	MaxBytes   int
	Client     *http.Client
}

func (c *WeComChannel) Name() string { return "wecom" }

func (c *WeComChannel) Budget() int {
	if c.MaxBytes > 0 {
		return c.MaxBytes
	}
	if c.TextMode {
		return wecomTextCap
	}
	return wecomBudget
}

func (c *WeComChannel) Send(ctx context.Context, text string) error {
	var payload map[string]any
	if c.TextMode {
		payload = map[string]any{
			"msgtype": "text",
			"text":    map[string]string{"content": ToPlain(text)},
		}
	} else {
		payload = map[string]any{
			"msgtype":  "markdown",
			"markdown": map[string]string{"content": text},
		}
	}
	return postJSON(ctx, c.Client, c.WebhookURL, payload)
}

// --- Telegram ---

// TelegramChannel sends through the bot API. A markdown parse failure is
// retried as plain text, since Telegram rejects the whole message on any
// dialect violation.
type TelegramChannel struct {
	Token   string
	ChatID  string
	Client  *http.Client
	baseURL string // test override
}

func (c *TelegramChannel) Name() string { return "telegram" }
func (c *TelegramChannel) Budget() int  { return telegramBudget }

func (c *TelegramChannel) api() string {
	base := c.baseURL
	if base == "" {
		base = "https://api.telegram.org"
	}
	return fmt.Sprintf("%s/bot%s/sendMessage", base, c.Token)
}

func (c *TelegramChannel) Send(ctx context.Context, text string) error {
	err := postJSON(ctx, c.Client, c.api(), map[string]any{
		"chat_id":    c.ChatID,
		"text":       ToTelegram(text),
		"parse_mode": "Markdown",
	})
	if err == nil {
		return nil
	}
	return postJSON(ctx, c.Client, c.api(), map[string]any{
		"chat_id": c.ChatID,
		"text":    ToPlain(text),
	})
}

// --- Discord ---

// DiscordChannel posts webhook embeds; the description field carries the
// report, one embed per chunk.
type DiscordChannel struct {
	WebhookURL string
	Client     *http.Client
}

func (c *DiscordChannel) Name() string { return "discord" }
func (c *DiscordChannel) Budget() int  { return discordBudget }

func (c *DiscordChannel) Send(ctx context.Context, text string) error {
	payload := map[string]any{
		"embeds": []map[string]any{{
			"description": text,
			"color":       0x2b6cb0,
		}},
	}
	return postJSON(ctx, c.Client, c.WebhookURL, payload)
}

// --- Pushover ---

// PushoverChannel sends plain-text pushes through the Pushover message API.
type PushoverChannel struct {
	Token   string
	UserKey string
	Client  *http.Client
	baseURL string // test override
}

func (c *PushoverChannel) Name() string { return "pushover" }
func (c *PushoverChannel) Budget() int  { return pushoverBudget }

func (c *PushoverChannel) Send(ctx context.Context, text string) error {
	base := c.baseURL
	if base == "" {
		base = "https://api.pushover.net"
	}
	form := neturl.Values{
		"token":   {c.Token},
		"user":    {c.UserKey},
		"message": {ToPlain(text)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		base+"/1/messages.json", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &infra.StatusError{URL: base, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return nil
}

// --- Generic webhook ---

// WebhookChannel posts {"text": chunk} to an arbitrary URL, for self-hosted
// receivers and session-reply bridges.
type WebhookChannel struct {
	URL    string
	Label  string
	Client *http.Client
}

func (c *WebhookChannel) Name() string {
	if c.Label != "" {
		return c.Label
	}
	return "webhook"
}
func (c *WebhookChannel) Budget() int { return webhookBudget }

func (c *WebhookChannel) Send(ctx context.Context, text string) error {
	return postJSON(ctx, c.Client, c.URL, map[string]string{"text": text})
}

// interChunkDelay returns the pause between chunks for a channel. Bot APIs
// throttle harder than plain webhooks.
func interChunkDelay(name string) time.Duration {
	switch name {
	case "telegram", "discord":
		return 2500 * time.Millisecond
	case "pushover":
		return 2 * time.Second
	default:
		return time.Second
	}
}
