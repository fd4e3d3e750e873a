// Package config loads the runtime configuration from environment
// variables, with an optional YAML file underneath. The configuration is
// immutable after Load except for the watchlist, which has an explicit
// hot-reload path.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/seenimoa/stockwatch/internal/infra"
)

// SourcePriorities holds the failover order knobs, lower wins.
type SourcePriorities struct {
	Eastmoney int `mapstructure:"eastmoney_priority"`
	Tencent   int `mapstructure:"tencent_priority"`
	Tushare   int `mapstructure:"tushare_priority"`
	Baostock  int `mapstructure:"baostock_priority"`
	Yahoo     int `mapstructure:"yahoo_priority"`
}

// NotifyConfig carries every delivery-channel credential. Empty means the
// channel is disabled.
type NotifyConfig struct {
	FeishuWebhook  string   `mapstructure:"feishu_webhook_url"`
	WeComWebhook   string   `mapstructure:"wecom_webhook_url"`
	WeChatMsgType  string   `mapstructure:"wechat_msg_type"` // "markdown" or "text"
	TelegramToken  string   `mapstructure:"telegram_bot_token"`
	TelegramChatID string   `mapstructure:"telegram_chat_id"`
	DiscordWebhook string   `mapstructure:"discord_webhook_url"`
	PushoverToken  string   `mapstructure:"pushover_token"`
	PushoverUser   string   `mapstructure:"pushover_user_key"`
	CustomWebhooks []string `mapstructure:"custom_webhook_urls"`
	EmailSender    string   `mapstructure:"email_sender"`
	EmailPassword  string   `mapstructure:"email_password"`
	EmailTo        []string `mapstructure:"email_to"`
	FeishuMaxBytes int      `mapstructure:"feishu_max_bytes"`
	WeChatMaxBytes int      `mapstructure:"wechat_max_bytes"`
}

// Enabled reports whether any channel has credentials.
func (n NotifyConfig) Enabled() bool {
	return n.FeishuWebhook != "" || n.WeComWebhook != "" ||
		(n.TelegramToken != "" && n.TelegramChatID != "") ||
		n.DiscordWebhook != "" ||
		(n.PushoverToken != "" && n.PushoverUser != "") ||
		len(n.CustomWebhooks) > 0 ||
		(n.EmailSender != "" && len(n.EmailTo) > 0)
}

// Config is the full runtime configuration.
type Config struct {
	StockList []string `mapstructure:"stock_list"`

	TushareToken string `mapstructure:"tushare_token"`
	FinmindToken string `mapstructure:"finmind_token"`

	OpenAIKey     string `mapstructure:"openai_api_key"`
	OpenAIBaseURL string `mapstructure:"openai_base_url"`
	OpenAIModel   string `mapstructure:"openai_model"`
	GeminiKey     string `mapstructure:"gemini_api_key"`
	GeminiModel   string `mapstructure:"gemini_model"`

	TavilyKeys  string `mapstructure:"tavily_api_keys"`
	BochaKeys   string `mapstructure:"bocha_api_keys"`
	BraveKeys   string `mapstructure:"brave_api_keys"`
	SerpAPIKeys string `mapstructure:"serpapi_api_keys"`

	Priorities             SourcePriorities `mapstructure:",squash"`
	RealtimePriority       []string         `mapstructure:"realtime_source_priority"`
	RealtimeCacheTTL       time.Duration    `mapstructure:"realtime_cache_ttl"`
	CircuitBreakerCooldown time.Duration    `mapstructure:"circuit_breaker_cooldown"`
	EnableRealtimeQuote    bool             `mapstructure:"enable_realtime_quote"`
	EnableChips            bool             `mapstructure:"enable_chip_distribution"`
	SleepMin               time.Duration    `mapstructure:"akshare_sleep_min"`
	SleepMax               time.Duration    `mapstructure:"akshare_sleep_max"`
	TushareRatePerMinute   int              `mapstructure:"tushare_rate_limit_per_minute"`

	MaxWorkers          int           `mapstructure:"max_workers"`
	AnalysisDelay       time.Duration `mapstructure:"analysis_delay"`
	ScheduleEnabled     bool          `mapstructure:"schedule_enabled"`
	ScheduleTime        string        `mapstructure:"schedule_time"`
	MarketReviewEnabled bool          `mapstructure:"market_review_enabled"`

	Notify NotifyConfig `mapstructure:",squash"`

	LogDir              string `mapstructure:"log_dir"`
	LogLevel            string `mapstructure:"log_level"`
	DatabasePath        string `mapstructure:"database_path"`
	ReportDir           string `mapstructure:"report_dir"`
	SaveContextSnapshot bool   `mapstructure:"save_context_snapshot"`
	HTTPProxy           string `mapstructure:"http_proxy"`
	HTTPSProxy          string `mapstructure:"https_proxy"`

	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	mu sync.RWMutex
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindKnownKeys(v)
	return v
}

// Load builds the configuration from the environment, with an optional
// YAML file (config.yaml in the working directory) underneath. When a
// proxy is configured, the NO_PROXY bypass for the domestic data sources
// is injected immediately.
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.StockList = splitList(cfg.StockList)
	cfg.RealtimePriority = splitList(cfg.RealtimePriority)
	cfg.Notify.CustomWebhooks = splitList(cfg.Notify.CustomWebhooks)
	cfg.Notify.EmailTo = splitList(cfg.Notify.EmailTo)

	if cfg.HTTPProxy != "" || cfg.HTTPSProxy != "" {
		infra.InjectNoProxy()
	}
	return &cfg, nil
}

// splitList normalizes viper's handling of comma-separated env values,
// which arrive as a single element.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, p := range strings.Split(item, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("wechat_msg_type", "markdown")
	v.SetDefault("realtime_cache_ttl", "10m")
	v.SetDefault("circuit_breaker_cooldown", "60s")
	v.SetDefault("enable_realtime_quote", true)
	v.SetDefault("enable_chip_distribution", false)
	v.SetDefault("akshare_sleep_min", "300ms")
	v.SetDefault("akshare_sleep_max", "800ms")
	v.SetDefault("tushare_rate_limit_per_minute", 180)
	v.SetDefault("max_workers", 3)
	v.SetDefault("analysis_delay", "0s")
	v.SetDefault("schedule_enabled", false)
	v.SetDefault("schedule_time", "18:00")
	v.SetDefault("market_review_enabled", true)
	v.SetDefault("openai_model", "gpt-4o-mini")
	v.SetDefault("gemini_model", "gemini-2.0-flash")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_dir", "logs")
	v.SetDefault("database_path", "data/stockwatch.db")
	v.SetDefault("report_dir", "reports")
	v.SetDefault("save_context_snapshot", false)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)

	v.SetDefault("eastmoney_priority", 1)
	v.SetDefault("tencent_priority", 2)
	v.SetDefault("baostock_priority", 3)
	v.SetDefault("tushare_priority", 4)
	v.SetDefault("yahoo_priority", 5)
}

// bindKnownKeys registers every recognized variable so AutomaticEnv sees
// keys that have no default.
func bindKnownKeys(v *viper.Viper) {
	for _, key := range []string{
		"stock_list", "tushare_token", "finmind_token",
		"openai_api_key", "openai_base_url", "gemini_api_key",
		"tavily_api_keys", "bocha_api_keys", "brave_api_keys", "serpapi_api_keys",
		"realtime_source_priority",
		"feishu_webhook_url", "wecom_webhook_url",
		"telegram_bot_token", "telegram_chat_id",
		"discord_webhook_url", "pushover_token", "pushover_user_key",
		"custom_webhook_urls", "email_sender", "email_password", "email_to",
		"feishu_max_bytes", "wechat_max_bytes",
		"http_proxy", "https_proxy",
	} {
		v.BindEnv(key) //nolint:errcheck // only errors on empty key
	}
}

// Stocks returns the current watchlist.
func (c *Config) Stocks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.StockList))
	copy(out, c.StockList)
	return out
}

// ReloadStockList re-reads STOCK_LIST from the environment. This is the
// only mutable piece of configuration after startup.
func (c *Config) ReloadStockList() []string {
	raw := os.Getenv("STOCK_LIST")
	if raw == "" {
		return c.Stocks()
	}
	fresh := splitList([]string{raw})
	c.mu.Lock()
	c.StockList = fresh
	c.mu.Unlock()
	return c.Stocks()
}

// HasLLM reports whether any model backend is configured.
func (c *Config) HasLLM() bool { return c.OpenAIKey != "" || c.GeminiKey != "" }

// Validate returns startup warnings. None of them is fatal: the system
// degrades (template reports, no notifications) rather than refusing to run.
func (c *Config) Validate() []string {
	var warnings []string
	if len(c.StockList) == 0 {
		warnings = append(warnings, "STOCK_LIST is empty; nothing to analyze on scheduled runs")
	}
	if !c.HasLLM() {
		warnings = append(warnings, "no LLM key configured (OPENAI_API_KEY/GEMINI_API_KEY); reports will be template-only")
	}
	if !c.Notify.Enabled() {
		warnings = append(warnings, "no notification channel configured; reports go to ./reports only")
	}
	if c.TushareToken == "" && c.Priorities.Tushare <= 1 {
		warnings = append(warnings, "tushare prioritized but TUSHARE_TOKEN is missing; source will be skipped")
	}
	if c.SleepMin > c.SleepMax {
		warnings = append(warnings, "AKSHARE_SLEEP_MIN exceeds AKSHARE_SLEEP_MAX; using min for both")
	}
	if c.ScheduleEnabled {
		if _, err := parseHHMM(c.ScheduleTime); err != nil {
			warnings = append(warnings, fmt.Sprintf("invalid SCHEDULE_TIME %q: %v", c.ScheduleTime, err))
		}
	}
	return warnings
}

func parseHHMM(s string) (time.Time, error) {
	return time.Parse("15:04", strings.TrimSpace(s))
}
