package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"intraday_trader/internal/config"
	"intraday_trader/internal/cooldown"
	"intraday_trader/internal/groups"
	"intraday_trader/internal/journal"
	"intraday_trader/internal/logger"
	"intraday_trader/internal/market/alpaca"
	"intraday_trader/internal/metrics"
	"intraday_trader/internal/scanner"
	"intraday_trader/internal/storage"
	"intraday_trader/internal/supervisor"
	"intraday_trader/internal/telegram"
	"intraday_trader/internal/watcher"

	"github.com/prometheus/client_golang/prometheus"
)

const VersionFile = "version.latest"

func main() {
	// 1. Initialization
	cfg := config.Load()
	cfg.Version = readVersion()

	if rot := logger.Setup(cfg.LogFile, cfg.MaxLogSizeMB, cfg.MaxLogBackups); rot != nil {
		defer rot.Close()
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Dependencies
	gateway := alpaca.NewProvider(alpaca.Options{
		APIKey:    cfg.APIKeyID,
		APISecret: cfg.APISecretKey,
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.GatewayTimeout,
		Feed:      cfg.DataFeed,
	})

	groupMap, err := groups.Load(cfg.GroupMapFile)
	if err != nil {
		logger.Warnf("Group map unavailable, GROUP_FOLLOW disabled: %v", err)
		groupMap = groups.Empty()
	}

	var tradeJournal watcher.Journal
	store, err := journal.Open(cfg.JournalPath)
	if err != nil {
		logger.Errorf("Trade journal unavailable, trades will not be recorded: %v", err)
	} else {
		defer store.Close()
		tradeJournal = store
	}

	reg := prometheus.NewRegistry()
	m := metrics.New("intraday_trader", reg)
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, reg); err != nil {
				logger.Errorf("metrics server: %v", err)
			}
		}()
	}

	notifier := telegram.New(cfg.TelegramToken, cfg.TelegramChatID).
		WithPrefix("[" + strings.ToUpper(cfg.Mode) + "]")

	state := storage.New(cfg.StatePath)
	ledger := cooldown.New(cfg.ReentryDelay)
	w := watcher.New(cfg, watcher.Deps{
		Gateway:  gateway,
		Ledger:   ledger,
		Journal:  tradeJournal,
		State:    state,
		Notifier: notifier,
		Metrics:  m,
	})

	// 3. Restart recovery: saved book first, then the broker has the last word
	if snap, err := state.Load(); err != nil {
		logger.Warnf("State file unusable, holdings will be adopted as UNKNOWN: %v", err)
	} else if n := w.Restore(snap.Positions); n > 0 {
		logger.Infof("Restored %d positions saved at %s", n, snap.SavedAt.Format("2006-01-02 15:04:05"))
	}
	if err := w.Mirror(); err != nil {
		logger.Errorf("Startup sync failed, relying on periodic reconciliation: %v", err)
	}
	w.SendStartupNotification(cfg.Version, cfg.Mode)

	scan := scanner.New(cfg, gateway, w, ledger, groupMap, notifier)

	// 4. Supervised loops
	sup := supervisor.New(cfg.MaxRestarts, cfg.RestartBackoff, notifier, m)
	sup.Add("monitor", w.RunMonitor)
	sup.Add("commands", func(ctx context.Context) error {
		return notifier.Listen(ctx, w.HandleCommand)
	})
	sup.Add("scan", scan.Run)

	log.Printf("Intraday trader %s running [%s] with %d slots", cfg.Version, cfg.Mode, cfg.MaxSlots)
	if err := sup.Run(ctx); err != nil {
		logger.Errorf("supervisor: %v", err)
	}

	log.Println("⚠️ Shutting down: system signal received.")
	w.SendShutdownNotification()
}

func readVersion() string {
	version, err := os.ReadFile(VersionFile)
	if err != nil {
		return "v0.0.0-dev"
	}
	return strings.TrimSpace(string(version))
}
