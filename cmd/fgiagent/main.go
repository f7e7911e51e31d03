package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/skalibog/fgiagent/internal/agent"
	"github.com/skalibog/fgiagent/internal/config"
	"github.com/skalibog/fgiagent/internal/exchange"
	"github.com/skalibog/fgiagent/internal/metrics"
	"github.com/skalibog/fgiagent/internal/notify"
	"github.com/skalibog/fgiagent/internal/solana"
	"github.com/skalibog/fgiagent/internal/storage"
	"github.com/skalibog/fgiagent/internal/ui"
	"github.com/skalibog/fgiagent/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	once := flag.Bool("once", false, "выполнить один цикл и выйти")
	withUI := flag.Bool("tui", false, "запустить терминальную панель")
	history := flag.Int("history", 0, "вывести последние N сделок из InfluxDB и выйти")
	flag.Parse()

	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Файл конфигурации не найден: %s\n", *configPath)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:    cfg.Log.Level,
		File:     cfg.Log.File,
		JSONFile: cfg.Log.JSONFile,
		Console:  !*withUI,
		Truncate: *withUI,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Контекст отменяется по SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *history > 0 {
		if err := printHistory(ctx, cfg, *history); err != nil {
			logger.Fatal("Ошибка чтения истории", zap.Error(err))
		}
		return
	}

	if err := run(ctx, cfg, *once, *withUI); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("Агент остановлен с ошибкой", zap.Error(err))
	}
	logger.Info("Завершение работы")
}

func run(ctx context.Context, cfg *config.Config, once, withUI bool) error {
	deps, cleanup, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := agent.New(cfg, deps)
	if err != nil {
		return fmt.Errorf("ошибка создания агента: %w", err)
	}
	if err := a.Load(ctx); err != nil {
		return err
	}

	if cfg.Metrics.Enabled && !once {
		srv := startMetrics(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if once {
		report, err := a.RunCycle(ctx)
		if report != nil {
			fmt.Printf("Цикл %s: %s, %s (%.1f), цена %.4f\n", report.ID, report.Result, report.Sentiment, report.Value, report.Price)
		}
		return err
	}

	if !withUI {
		return a.Run(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	panel := ui.NewTermUI(cfg.UI, cfg.Pair, cfg.Log.JSONFile, a)
	uiErr := panel.Start(ctx)
	cancel()
	<-done
	return uiErr
}

// buildDeps собирает внешние зависимости агента по режиму площадки
func buildDeps(ctx context.Context, cfg *config.Config) (agent.Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (agent.Deps, func(), error) {
		cleanup()
		return agent.Deps{}, func() {}, err
	}

	deps := agent.Deps{Signal: exchange.NewFearGreedClient(cfg.Signal)}

	switch strings.ToLower(cfg.Price.Source) {
	case "static":
		deps.Prices = exchange.StaticPrice(cfg.Price.StaticPrice)
	default:
		deps.Prices = exchange.NewBinancePriceSource(cfg.Price)
	}

	switch strings.ToLower(cfg.Venue.Mode) {
	case "live":
		wallet, err := solana.ParseWallet(cfg.Venue.PrivateKey)
		if err != nil {
			return fail(fmt.Errorf("ошибка загрузки кошелька: %w", err))
		}
		deps.Quoter = exchange.NewJupiterQuoter(cfg.Venue.QuoteURL, cfg.Execution.QuoteTimeout())
		deps.Builder = wallet
		deps.Relay = exchange.NewJitoRelay(cfg.Venue.RelayURL, cfg.Execution.SubmitTimeout())
		if cfg.Venue.TipFloorURL != "" {
			deps.FeeOracle = exchange.NewTipFloorOracle(cfg.Venue.TipFloorURL, cfg.Execution.FeeOracleTimeout())
		}
		deps.Balances = exchange.NewSolanaRPC(cfg.Venue.RPCURL, wallet.PublicKey(), cfg.Pair, cfg.Execution.StatusTimeout())
		logger.Info("Режим live", zap.String("wallet", wallet.PublicKey()))
	default:
		paper := exchange.NewPaperVenue(cfg.Pair, deps.Prices, cfg.Venue.PaperLandPoll)
		deps.Quoter, deps.Builder, deps.Relay = paper, paper, paper
		logger.Info("Режим paper",
			zap.Float64("base", cfg.Paper.BaseBalance),
			zap.Float64("quote", cfg.Paper.QuoteBalance))
	}

	store, err := storage.NewStateStore(ctx, cfg.Storage)
	if err != nil {
		return fail(fmt.Errorf("ошибка инициализации хранилища: %w", err))
	}
	closers = append(closers, store.Close)
	deps.Store = store

	if cfg.Storage.Influx.Enabled {
		recorder, err := storage.NewInfluxDBRecorder(ctx, cfg.Storage)
		if err != nil {
			// история не обязательна для торговли
			logger.Warn("InfluxDB недоступна, история не пишется", zap.Error(err))
		} else {
			closers = append(closers, recorder.Close)
			deps.Recorder = recorder
		}
	}

	sinks := []notify.Notifier{notify.LogNotifier{}}
	if cfg.Notify.DiscordWebhook != "" {
		sinks = append(sinks, notify.NewDiscordNotifier(cfg.Notify.DiscordWebhook, cfg.Notify.Timeout()))
	}
	dispatcher := notify.NewDispatcher(cfg.Notify.Timeout(), sinks...)
	closers = append(closers, dispatcher.Wait)
	deps.Events = dispatcher

	return deps, cleanup, nil
}

func startMetrics(port int) *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("HTTP-сервер метрик запущен", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Ошибка HTTP-сервера метрик", zap.Error(err))
		}
	}()
	return srv
}

func printHistory(ctx context.Context, cfg *config.Config, limit int) error {
	recorder, err := storage.NewInfluxDBRecorder(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer recorder.Close()

	trades, err := recorder.RecentTrades(ctx, 90*24*time.Hour, limit)
	if err != nil {
		return err
	}
	for _, t := range trades {
		fmt.Printf("%s  %-13s %-4s %12.6f @ %10.4f  P&L %+.4f  %s\n",
			t.Timestamp.Format(time.RFC3339), t.Type, t.Direction, t.BaseAmount, t.Price, t.RealizedPnL, t.LotID)
	}
	return nil
}
