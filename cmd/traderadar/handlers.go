package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sebastian-ames3/traderadar/internal/alerting"
	"github.com/sebastian-ames3/traderadar/internal/config"
	"github.com/sebastian-ames3/traderadar/internal/confluence"
	"github.com/sebastian-ames3/traderadar/internal/health"
	"github.com/sebastian-ames3/traderadar/internal/ingest"
	"github.com/sebastian-ames3/traderadar/internal/jobs"
	"github.com/sebastian-ames3/traderadar/internal/logging"
	"github.com/sebastian-ames3/traderadar/internal/metrics"
	"github.com/sebastian-ames3/traderadar/internal/scheduler"
	"github.com/sebastian-ames3/traderadar/internal/store"
	"github.com/sebastian-ames3/traderadar/pkg/alert"
	"github.com/sebastian-ames3/traderadar/pkg/harvest"
	"github.com/sebastian-ames3/traderadar/pkg/server"
	"github.com/sebastian-ames3/traderadar/pkg/source"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func buildSources(cfg *config.Config) []source.Source {
	filter := source.NewSymbolFilter(cfg.Collect.Symbols, cfg.Collect.RequireMatch)
	lookback := cfg.Collect.ParseLookback()

	var sources []source.Source
	if cfg.Sources.YouTube.Enabled {
		sources = append(sources, source.NewYouTube(
			cfg.Sources.YouTube.APIKey,
			cfg.Sources.YouTube.ChannelID,
			cfg.Sources.YouTube.MaxResults,
			lookback,
			filter,
		))
	}
	if cfg.Sources.Blog.Enabled {
		sources = append(sources, source.NewBlog(cfg.Sources.Blog.FeedURL, lookback, filter))
	}
	if cfg.Sources.Reports.Enabled {
		sources = append(sources, source.NewReports(cfg.Sources.Reports.FeedURL, cfg.Sources.Reports.ParseLookback(), filter))
	}
	if cfg.Sources.Discord.Enabled {
		sources = append(sources, source.NewDiscord(
			cfg.Sources.Discord.BotToken,
			cfg.Sources.Discord.GuildID,
			cfg.Sources.Discord.Channels,
			cfg.Sources.Discord.Limit,
			lookback,
			filter,
		))
	}

	return sources
}

func buildAlertManager(cfg *config.Config, met *metrics.Metrics) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Notify.Slack.Enabled && cfg.Notify.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Notify.Slack.WebhookURL))
	}
	if cfg.Notify.Discord.Enabled && cfg.Notify.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Notify.Discord.WebhookURL))
	}
	if cfg.Notify.Webhook.Enabled && cfg.Notify.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Notify.Webhook.URL, cfg.Notify.Webhook.Secret))
	}

	return alert.NewManager(notifiers, met)
}

func alertThresholds(cfg *config.Config) alerting.Thresholds {
	return alerting.Thresholds{
		ConsecutiveFailures: cfg.Alerting.FailureStreak,
		StaleAfter:          cfg.Health.ParseStaleThreshold(),
		ErrorSpike:          cfg.Alerting.ErrorSpike,
		BacklogAge:          cfg.Alerting.ParseBacklogAge(),
		TTL:                 cfg.Alerting.ParseTTL(),
	}
}

func runDaemon(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	log := logging.WithComponent(logger, "daemon")

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	met := metrics.New()
	tracker := health.NewTracker(db, cfg.Health.ParseStaleThreshold(), cfg.Health.ParseEventRetention(), logging.WithComponent(logger, "health"))
	conf := confluence.NewEngine(db, cfg.Confluence.StalenessDays, logging.WithComponent(logger, "confluence"))

	harvester := harvest.New(harvest.Options{
		TranscriberURL: cfg.Harvest.TranscriberURL,
		AnthropicKey:   cfg.Harvest.AnthropicKey,
		Model:          cfg.Harvest.Model,
		MaxTokens:      cfg.Harvest.MaxTokens,
		MaxRetries:     cfg.Harvest.MaxRetries,
		Timeout:        cfg.Harvest.ParseTimeout(),
	}, logging.WithComponent(logger, "harvest"))

	sources := buildSources(cfg)
	if len(sources) == 0 {
		log.Warn("no sources enabled; collection cycles will be empty")
	}

	var analyzer ingest.Analyzer
	if harvester.AnalyzeEnabled() {
		analyzer = harvester
	}
	ing := ingest.NewService(sources, db, tracker, analyzer, conf, logging.WithComponent(logger, "ingest"), met)

	alertMgr := buildAlertManager(cfg, met)
	alerts := alerting.NewEngine(db, tracker, alertMgr, alertThresholds(cfg), logging.WithComponent(logger, "alerting"), met)

	worker := jobs.NewWorker(jobs.Options{
		PollInterval:     cfg.Queue.ParsePollInterval(),
		WatchdogInterval: cfg.Queue.ParseWatchdogInterval(),
		StuckThreshold:   cfg.Queue.ParseStuckThreshold(),
		MaxConcurrent:    cfg.Queue.MaxConcurrent,
		MaxRetries:       cfg.Queue.MaxRetries,
		RetryBackoff:     cfg.Queue.ParseRetryBackoff(),
	}, db, harvester, conf, logging.WithComponent(logger, "worker"), met)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(logging.WithComponent(logger, "scheduler"))
	jobSpecs := []struct {
		name string
		spec string
		fn   scheduler.Job
	}{
		{"collect", fmt.Sprintf("@every %s", cfg.Collect.ParseInterval()), func(ctx context.Context) error {
			_, err := ing.CollectAll(ctx)
			return err
		}},
		{"alert-check", fmt.Sprintf("@every %s", cfg.Alerting.ParseCheckInterval()), func(ctx context.Context) error {
			_, err := alerts.RunCheck(ctx)
			return err
		}},
		{"alert-expiry", "@every 1h", func(ctx context.Context) error {
			_, err := alerts.ExpireSweep(ctx)
			return err
		}},
		{"staleness-sweep", cfg.Confluence.SweepSchedule, func(ctx context.Context) error {
			_, err := conf.SweepStale(ctx)
			return err
		}},
		{"event-purge", "@daily", func(ctx context.Context) error {
			_, err := tracker.PurgeEvents(ctx)
			return err
		}},
	}
	for _, j := range jobSpecs {
		if err := sched.Add(j.name, j.spec, j.fn); err != nil {
			return err
		}
	}

	// Cron fires only after the first interval elapses; collect once
	// right away so a fresh daemon is not empty for 15 minutes.
	go func() {
		if _, err := ing.CollectAll(ctx); err != nil {
			log.WithError(err).Warn("initial collection")
		}
	}()

	worker.Start(ctx)
	sched.Start(ctx)

	srv := server.New(db, alerts, ing, met, logging.WithComponent(logger, "server"), port)
	go func() {
		if err := srv.Start(); err != nil {
			log.WithError(err).Error("http server")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	sched.Stop()
	worker.Stop()
	return nil
}

func runCollect(filterSources []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	all := buildSources(cfg)
	sources := all
	if len(filterSources) > 0 {
		wanted := make(map[string]bool)
		for _, s := range filterSources {
			wanted[strings.ToLower(strings.TrimSpace(s))] = true
		}
		sources = nil
		for _, s := range all {
			if wanted[string(s.Name())] {
				sources = append(sources, s)
			}
		}
		if len(sources) == 0 {
			return fmt.Errorf("no matching sources for: %s", strings.Join(filterSources, ", "))
		}
	}
	if len(sources) == 0 {
		return fmt.Errorf("no sources enabled; check config")
	}

	met := metrics.New()
	tracker := health.NewTracker(db, cfg.Health.ParseStaleThreshold(), cfg.Health.ParseEventRetention(), logging.WithComponent(logger, "health"))
	conf := confluence.NewEngine(db, cfg.Confluence.StalenessDays, logging.WithComponent(logger, "confluence"))
	harvester := harvest.New(harvest.Options{
		TranscriberURL: cfg.Harvest.TranscriberURL,
		AnthropicKey:   cfg.Harvest.AnthropicKey,
		Model:          cfg.Harvest.Model,
		MaxTokens:      cfg.Harvest.MaxTokens,
		MaxRetries:     cfg.Harvest.MaxRetries,
		Timeout:        cfg.Harvest.ParseTimeout(),
	}, logging.WithComponent(logger, "harvest"))

	var analyzer ingest.Analyzer
	if harvester.AnalyzeEnabled() {
		analyzer = harvester
	}
	ing := ingest.NewService(sources, db, tracker, analyzer, conf, logging.WithComponent(logger, "ingest"), met)

	summaries, err := ing.CollectAll(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "health bookkeeping: %v\n", err)
	}

	rows := make([][]string, 0, len(summaries))
	for _, sum := range summaries {
		status := "ok"
		if sum.Err != nil {
			status = truncate(sum.Err.Error(), 60)
		}
		rows = append(rows, []string{
			string(sum.Source),
			strconv.Itoa(sum.Collected),
			strconv.Itoa(sum.Ingested),
			strconv.Itoa(sum.Duplicates),
			strconv.Itoa(sum.Enqueued),
			status,
		})
	}
	fmt.Println(renderTable(
		[]string{"Source", "Collected", "New", "Dup", "Queued", "Status"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
	))
	return nil
}

func runStatus(jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	sources, err := db.ListSourceHealth(ctx)
	if err != nil {
		return fmt.Errorf("list source health: %w", err)
	}
	totals, err := db.CountItemsBySource(ctx)
	if err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	stats, err := db.JobStats(ctx)
	if err != nil {
		return fmt.Errorf("job stats: %w", err)
	}
	open, err := db.ListAlerts(ctx, false, 100)
	if err != nil {
		return fmt.Errorf("list alerts: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"sources":     sources,
			"jobs":        stats,
			"open_alerts": open,
		})
	}

	if len(sources) == 0 {
		fmt.Println("no collection history yet (run: traderadar collect)")
	} else {
		rows := make([][]string, 0, len(sources))
		for _, h := range sources {
			rows = append(rows, []string{
				string(h.Source),
				formatTimePtr(h.LastCollectedAt),
				strconv.Itoa(h.ConsecutiveFailures),
				strconv.Itoa(totals[h.Source]),
				strconv.Itoa(h.ItemsCollected24h),
				strconv.Itoa(h.ItemsTranscribed24h),
				strconv.Itoa(h.Errors24h),
				yesNo(h.IsStale),
			})
		}
		fmt.Println(renderTable(
			[]string{"Source", "Last Success", "Fail Streak", "Items", "24h Items", "24h Transcribed", "24h Errors", "Stale"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
		))
	}

	queueRows := make([][]string, 0, len(jobs.AllStatuses()))
	for _, st := range jobs.AllStatuses() {
		queueRows = append(queueRows, []string{string(st), strconv.Itoa(stats[st])})
	}
	fmt.Println(renderTable(
		[]string{"Queue Status", "Count"},
		queueRows,
		[]columnAlignment{alignLeft, alignRight},
	))

	fmt.Printf("open alerts: %d\n", len(open))
	return nil
}

func runJobs(status string, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	var filter jobs.Status
	if status != "" {
		filter = jobs.Status(status)
		if !filter.Valid() {
			return fmt.Errorf("unknown status %q", status)
		}
	}

	list, err := db.ListJobs(context.Background(), filter, limit)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("no jobs")
		return nil
	}

	rows := make([][]string, 0, len(list))
	for _, j := range list {
		rows = append(rows, []string{
			shortID(j.ID),
			strconv.FormatInt(j.ContentID, 10),
			string(j.Source),
			string(j.Status),
			strconv.Itoa(j.RetryCount),
			formatAge(j.CreatedAt),
			truncate(j.ErrorMessage, 40),
		})
	}
	fmt.Println(renderTable(
		[]string{"ID", "Content", "Source", "Status", "Retries", "Age", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	))
	return nil
}

func runJobsRetry(ids []string, all bool) error {
	if len(ids) == 0 && !all {
		return fmt.Errorf("pass job IDs or --all")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	if all {
		ids = nil
	}
	n, err := db.RetryJobs(context.Background(), ids...)
	if err != nil {
		return fmt.Errorf("retry jobs: %w", err)
	}
	fmt.Printf("reset %d job(s) to pending\n", n)
	return nil
}

func runAlerts(all bool, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	list, err := db.ListAlerts(context.Background(), all, limit)
	if err != nil {
		return fmt.Errorf("list alerts: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("no alerts")
		return nil
	}

	rows := make([][]string, 0, len(list))
	for _, a := range list {
		acked := ""
		if a.Acknowledged {
			acked = a.AcknowledgedBy
		}
		rows = append(rows, []string{
			shortID(a.ID),
			string(a.Severity),
			string(a.Type),
			string(a.Source),
			formatAge(a.CreatedAt),
			acked,
			truncate(a.Message, 60),
		})
	}
	fmt.Println(renderTable(
		[]string{"ID", "Severity", "Type", "Source", "Age", "Acked By", "Message"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
	return nil
}

func runAlertsAck(id, by string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	engine := alerting.NewEngine(db, nil, nil, alertThresholds(cfg), logging.WithComponent(logger, "alerting"), nil)
	if err := engine.Acknowledge(context.Background(), id, by); err != nil {
		return err
	}
	fmt.Printf("acknowledged %s\n", id)
	return nil
}

func runSymbols() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	states, err := db.ListSymbolStates(context.Background())
	if err != nil {
		return fmt.Errorf("list symbol states: %w", err)
	}
	if len(states) == 0 {
		fmt.Println("no tracked symbols yet")
		return nil
	}

	rows := make([][]string, 0, len(states))
	for _, st := range states {
		rows = append(rows, []string{
			st.Symbol,
			fmt.Sprintf("%.2f", st.ConfluenceScore),
			yesNo(st.DirectionallyAligned),
			staleTag(string(st.KTBias), st.KTIsStale),
			staleTag(string(st.DiscordBias), st.DiscordIsStale),
			truncate(st.TradeSetup, 50),
		})
	}
	fmt.Println(renderTable(
		[]string{"Symbol", "Score", "Aligned", "KT", "Discord", "Setup"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
	))
	return nil
}

func runSymbolDetail(symbol string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	symbol = strings.ToUpper(symbol)
	state, err := db.GetSymbolState(ctx, symbol)
	if err != nil {
		return fmt.Errorf("get symbol state: %w", err)
	}
	if state == nil {
		return fmt.Errorf("no opinions recorded for %s", symbol)
	}

	fmt.Printf("%s  score %.2f  aligned %s\n", state.Symbol, state.ConfluenceScore, yesNo(state.DirectionallyAligned))
	if state.TradeSetup != "" {
		fmt.Printf("setup: %s\n", state.TradeSetup)
	}
	fmt.Printf("kt: %s %s (updated %s)\n",
		staleTag(string(state.KTBias), state.KTIsStale), state.KTDirection, formatTimePtr(state.KTLastUpdated))
	fmt.Printf("discord: %s %s %s (updated %s)\n\n",
		staleTag(string(state.DiscordBias), state.DiscordIsStale), state.DiscordQuadrant, state.DiscordStrategy,
		formatTimePtr(state.DiscordLastUpdated))

	levels, err := db.ListSymbolLevels(ctx, symbol, 20)
	if err != nil {
		return fmt.Errorf("list symbol levels: %w", err)
	}
	if len(levels) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(levels))
	for _, lvl := range levels {
		rows = append(rows, []string{
			string(lvl.Source),
			lvl.Direction,
			formatFloatPtr(lvl.Target),
			formatFloatPtr(lvl.Support),
			formatFloatPtr(lvl.Invalidation),
			lvl.Strategy,
			yesNo(lvl.IsStale),
			formatAge(lvl.CreatedAt),
		})
	}
	fmt.Println(renderTable(
		[]string{"Source", "Direction", "Target", "Support", "Invalidation", "Strategy", "Stale", "Age"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft, alignRight},
	))
	return nil
}

func runCheck() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	met := metrics.New()
	tracker := health.NewTracker(db, cfg.Health.ParseStaleThreshold(), cfg.Health.ParseEventRetention(), logging.WithComponent(logger, "health"))
	alertMgr := buildAlertManager(cfg, met)
	engine := alerting.NewEngine(db, tracker, alertMgr, alertThresholds(cfg), logging.WithComponent(logger, "alerting"), met)

	created, err := engine.RunCheck(context.Background())
	if err != nil {
		return fmt.Errorf("alert check: %w", err)
	}
	if len(created) == 0 {
		fmt.Println("no new alerts")
		return nil
	}
	for _, a := range created {
		fmt.Printf("%s [%s] %s: %s\n", a.Severity, a.Type, a.Source, a.Message)
	}
	return nil
}
