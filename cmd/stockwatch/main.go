// stockwatch — watchlist stock analysis with multi-source market data,
// LLM-written reports and multi-channel delivery.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/seenimoa/stockwatch/api"
	"github.com/seenimoa/stockwatch/internal/analysis"
	"github.com/seenimoa/stockwatch/internal/config"
	"github.com/seenimoa/stockwatch/internal/fetcher"
	"github.com/seenimoa/stockwatch/internal/fetcher/baostock"
	"github.com/seenimoa/stockwatch/internal/fetcher/eastmoney"
	"github.com/seenimoa/stockwatch/internal/fetcher/tencent"
	"github.com/seenimoa/stockwatch/internal/fetcher/tushare"
	"github.com/seenimoa/stockwatch/internal/fetcher/yahoo"
	"github.com/seenimoa/stockwatch/internal/infra"
	"github.com/seenimoa/stockwatch/internal/llm"
	"github.com/seenimoa/stockwatch/internal/logging"
	"github.com/seenimoa/stockwatch/internal/market"
	"github.com/seenimoa/stockwatch/internal/notify"
	"github.com/seenimoa/stockwatch/internal/review"
	"github.com/seenimoa/stockwatch/internal/sched"
	"github.com/seenimoa/stockwatch/internal/search"
	"github.com/seenimoa/stockwatch/internal/store"
	"github.com/seenimoa/stockwatch/internal/task"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// errInterrupted maps a keyboard interrupt to exit code 130.
var errInterrupted = errors.New("interrupted")

var flags struct {
	debug             bool
	dryRun            bool
	stocks            string
	noNotify          bool
	singleNotify      bool
	workers           int
	schedule          bool
	marketReview      bool
	noMarketReview    bool
	serve             bool
	serveOnly         bool
	port              int
	host              string
	noContextSnapshot bool
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errInterrupted) {
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stockwatch",
	Short: "stockwatch — watchlist stock analysis and reporting",
	Long: `stockwatch pulls daily history, realtime quotes and chip distribution
for a watchlist from failover market-data sources, has an LLM write a
per-stock report (template fallback without one), and delivers the results
over the configured notification channels.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.BoolVar(&flags.debug, "debug", false, "debug logging")
	f.BoolVar(&flags.dryRun, "dry-run", false, "analyze without notifying or persisting; print the dashboard")
	f.StringVar(&flags.stocks, "stocks", "", "comma-separated codes overriding STOCK_LIST")
	f.BoolVar(&flags.noNotify, "no-notify", false, "skip all notification channels")
	f.BoolVar(&flags.singleNotify, "single-notify", false, "send each stock's report as it completes")
	f.IntVar(&flags.workers, "workers", 0, "worker count override")
	f.BoolVar(&flags.schedule, "schedule", false, "run the daily scheduler instead of one shot")
	f.BoolVar(&flags.marketReview, "market-review", false, "force the market review phase on")
	f.BoolVar(&flags.noMarketReview, "no-market-review", false, "skip the market review phase")
	f.BoolVar(&flags.serve, "serve", false, "expose the HTTP API alongside the run mode")
	f.BoolVar(&flags.serveOnly, "serve-only", false, "expose the HTTP API without a batch run")
	f.IntVar(&flags.port, "port", 0, "API port override")
	f.StringVar(&flags.host, "host", "", "API host override")
	f.BoolVar(&flags.noContextSnapshot, "no-context-snapshot", false, "never archive model inputs")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stockwatch %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlagOverrides(cfg)

	closeLog, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return err
	}
	defer closeLog()
	for _, w := range cfg.Validate() {
		log.Warn().Msg(w)
	}
	log.Info().Str("version", version).Int("stocks", len(cfg.Stocks())).Msg("stockwatch starting")

	proxy := cfg.HTTPSProxy
	if proxy == "" {
		proxy = cfg.HTTPProxy
	}
	client, err := infra.NewHTTPClient(20*time.Second, proxy)
	if err != nil {
		return err
	}

	mgr := buildManager(cfg, client)
	var data analysis.MarketData = mgr
	if !cfg.EnableRealtimeQuote {
		data = noQuoteData{mgr}
	}

	chat := buildLLMRouter(cfg, client)

	var searcher analysis.Searcher
	if engines := search.BuildEngines(search.EngineConfig{
		TavilyKeys:  cfg.TavilyKeys,
		BochaKeys:   cfg.BochaKeys,
		BraveKeys:   cfg.BraveKeys,
		SerpAPIKeys: cfg.SerpAPIKeys,
	}, client); len(engines) > 0 {
		searcher = search.NewService(client, true, engines...)
	}

	var st *store.Store
	if !flags.dryRun {
		st, err = store.Open(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()
	}

	var dispatcher *notify.Dispatcher
	if !flags.noNotify && !flags.dryRun {
		dispatcher = notify.NewDispatcher(buildChannels(cfg, client)...)
	}
	notifier := &notify.PipelineNotifier{
		Dispatcher: dispatcher,
		ReportDir:  cfg.ReportDir,
		WriteFiles: !flags.dryRun,
	}

	opts := analysis.PipelineOptions{
		Data:         data,
		Analyzer:     analysis.NewAnalyzer(chat, nil),
		Notify:       notifier,
		Workers:      cfg.MaxWorkers,
		SingleNotify: flags.singleNotify,
	}
	if searcher != nil {
		opts.Search = searcher
	}
	if st != nil {
		opts.Store = st
		if cfg.SaveContextSnapshot && !flags.noContextSnapshot {
			opts.Snapshots = st
		}
	}
	pipe := analysis.NewPipeline(opts)

	marketReview := cfg.MarketReviewEnabled
	if flags.marketReview {
		marketReview = true
	}
	if flags.noMarketReview {
		marketReview = false
	}
	reviewOpts := review.Options{
		Source:     mgr,
		Chat:       chat,
		Delay:      cfg.AnalysisDelay,
		ReportDir:  cfg.ReportDir,
		WriteFiles: !flags.dryRun,
	}
	if dispatcher != nil && dispatcher.Enabled() {
		reviewOpts.Send = dispatcher
	}
	reviewer := review.New(reviewOpts)

	runBatch := func(ctx context.Context) {
		codes := cfg.Stocks()
		if len(codes) == 0 {
			log.Warn().Msg("watchlist is empty, nothing to analyze")
			return
		}
		results := pipe.Run(ctx, codes)
		if flags.dryRun {
			fmt.Println(notify.BuildDashboard(results))
		}
		if marketReview {
			if _, err := reviewer.Run(ctx); err != nil {
				log.Error().Err(err).Msg("market review failed")
			}
		}
	}

	ctx, interrupted, stop := signalContext()
	defer stop()

	scheduleMode := cfg.ScheduleEnabled || flags.schedule
	serveMode := flags.serve || flags.serveOnly

	if !flags.serveOnly && !scheduleMode {
		runBatch(ctx)
		if interrupted.Load() {
			return errInterrupted
		}
		if !serveMode {
			return nil
		}
	}

	if scheduleMode {
		job := func() {
			cfg.ReloadStockList()
			runBatch(context.Background())
		}
		scheduler, err := sched.New(cfg.ScheduleTime, !flags.serveOnly, job)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	if serveMode {
		var ledger task.Ledger
		if st != nil {
			ledger = st
		}
		tasks := task.New(pipe, ledger, cfg.MaxWorkers)
		defer tasks.Stop()

		server := api.NewServer(tasks)
		defer server.Close()
		if err := server.ListenAndServe(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)); err != nil {
			return err
		}
	} else {
		<-ctx.Done()
	}

	if interrupted.Load() {
		return errInterrupted
	}
	return nil
}

// applyFlagOverrides folds CLI flags into the loaded configuration.
func applyFlagOverrides(cfg *config.Config) {
	if flags.debug {
		cfg.LogLevel = "debug"
	}
	if flags.stocks != "" {
		os.Setenv("STOCK_LIST", flags.stocks)
		cfg.ReloadStockList()
	}
	if flags.workers > 0 {
		cfg.MaxWorkers = flags.workers
	}
	if flags.port > 0 {
		cfg.Port = flags.port
	}
	if flags.host != "" {
		cfg.Host = flags.host
	}
}

// buildManager registers the five sources behind the failover manager. A
// tushare credential elevates that source one rank.
func buildManager(cfg *config.Config, client *http.Client) *fetcher.Manager {
	gate := infra.NewRateGate(cfg.SleepMin, cfg.SleepMax, 0)
	tsGate := infra.NewRateGate(cfg.SleepMin, cfg.SleepMax, cfg.TushareRatePerMinute)

	ts := tushare.New(cfg.Priorities.Tushare, tsGate, client, cfg.TushareToken)
	if ts.HasToken() {
		ts.SetPriority(cfg.Priorities.Tushare - 1)
	}

	mgr := fetcher.NewManager(fetcher.ManagerOptions{
		Breakers:      infra.NewBreakerSet(cfg.CircuitBreakerCooldown),
		QuotePriority: cfg.RealtimePriority,
		EnableChips:   cfg.EnableChips,
	})
	mgr.Register(eastmoney.New(cfg.Priorities.Eastmoney, gate, client, cfg.RealtimeCacheTTL))
	mgr.Register(tencent.New(cfg.Priorities.Tencent, gate, client))
	mgr.Register(baostock.New(cfg.Priorities.Baostock, gate, client))
	mgr.Register(ts)
	mgr.Register(yahoo.New(cfg.Priorities.Yahoo, gate, client))
	return mgr
}

// buildLLMRouter assembles the configured model backends in preference
// order openai, gemini. An empty router degrades to template reports.
func buildLLMRouter(cfg *config.Config, client *http.Client) *llm.Router {
	var providers []llm.Provider
	if cfg.OpenAIKey != "" {
		opts := []llm.OpenAIOption{
			llm.WithOpenAIModel(cfg.OpenAIModel),
			llm.WithOpenAIHTTPClient(client),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, llm.WithOpenAIBaseURL(cfg.OpenAIBaseURL))
		}
		p, err := llm.NewOpenAIProvider(cfg.OpenAIKey, opts...)
		if err != nil {
			log.Warn().Err(err).Msg("openai backend unavailable")
		} else {
			providers = append(providers, p)
		}
	}
	if cfg.GeminiKey != "" {
		p, err := llm.NewGeminiProvider(cfg.GeminiKey,
			llm.WithGeminiModel(cfg.GeminiModel),
			llm.WithGeminiHTTPClient(client))
		if err != nil {
			log.Warn().Err(err).Msg("gemini backend unavailable")
		} else {
			providers = append(providers, p)
		}
	}
	return llm.NewRouter(providers...)
}

// buildChannels turns the notification credentials into channels; empty
// credentials leave a channel out.
func buildChannels(cfg *config.Config, client *http.Client) []notify.Channel {
	n := cfg.Notify
	var chs []notify.Channel
	if n.FeishuWebhook != "" {
		chs = append(chs, &notify.FeishuChannel{WebhookURL: n.FeishuWebhook, MaxBytes: n.FeishuMaxBytes, Client: client})
	}
	if n.WeComWebhook != "" {
		chs = append(chs, &notify.WeComChannel{
			WebhookURL: n.WeComWebhook,
			TextMode:   n.WeChatMsgType == "text",
			MaxBytes:   n.WeChatMaxBytes,
			Client:     client,
		})
	}
	if n.TelegramToken != "" && n.TelegramChatID != "" {
		chs = append(chs, &notify.TelegramChannel{Token: n.TelegramToken, ChatID: n.TelegramChatID, Client: client})
	}
	if n.DiscordWebhook != "" {
		chs = append(chs, &notify.DiscordChannel{WebhookURL: n.DiscordWebhook, Client: client})
	}
	if n.PushoverToken != "" && n.PushoverUser != "" {
		chs = append(chs, &notify.PushoverChannel{Token: n.PushoverToken, UserKey: n.PushoverUser, Client: client})
	}
	for _, u := range n.CustomWebhooks {
		chs = append(chs, &notify.WebhookChannel{URL: u, Client: client})
	}
	if n.EmailSender != "" && len(n.EmailTo) > 0 {
		chs = append(chs, &notify.EmailChannel{Sender: n.EmailSender, Password: n.EmailPassword, To: n.EmailTo})
	}
	return chs
}

// noQuoteData drops realtime quote lookups when the feature is disabled;
// reports then carry history-only data.
type noQuoteData struct {
	*fetcher.Manager
}

func (noQuoteData) Quote(context.Context, market.Symbol) (*market.RealtimeQuote, error) {
	return nil, nil
}

func (noQuoteData) PrefetchQuotes(context.Context, []market.Symbol) {}

// signalContext cancels on SIGINT/SIGTERM and records whether the cause
// was a keyboard interrupt.
func signalContext() (context.Context, *atomic.Bool, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	interrupted := &atomic.Bool{}
	go func() {
		s, ok := <-sigCh
		if !ok {
			return
		}
		if s == syscall.SIGINT {
			interrupted.Store(true)
		}
		cancel()
	}()
	stop := func() {
		signal.Stop(sigCh)
		close(sigCh)
		cancel()
	}
	return ctx, interrupted, stop
}
