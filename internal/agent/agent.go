// Package agent планирует торговые циклы и связывает классификатор,
// стратегию, исполнение и леджеры. Одновременно активен только один цикл.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skalibog/fgiagent/internal/analysis/sentiment"
	"github.com/skalibog/fgiagent/internal/config"
	"github.com/skalibog/fgiagent/internal/exchange"
	"github.com/skalibog/fgiagent/internal/execution"
	"github.com/skalibog/fgiagent/internal/ledger"
	"github.com/skalibog/fgiagent/internal/storage"
	"github.com/skalibog/fgiagent/internal/strategy"
	"github.com/skalibog/fgiagent/pkg/logger"
	"github.com/skalibog/fgiagent/pkg/models"
	"go.uber.org/zap"
)

// ErrCycleInProgress предыдущий цикл еще не завершен
var ErrCycleInProgress = errors.New("цикл уже выполняется")

// Recorder журнал истории циклов и сделок
type Recorder interface {
	RecordCycle(ctx context.Context, rec models.CycleRecord) error
	RecordTrade(ctx context.Context, ev models.TradeEvent) error
}

// EventSink получатель уведомлений, доставка не должна блокировать цикл
type EventSink interface {
	Send(ev models.TradeEvent)
}

// Deps внешние зависимости агента
type Deps struct {
	Signal   exchange.SignalSource
	Prices   exchange.PriceSource
	Balances exchange.BalanceSource

	Quoter    execution.Quoter
	Builder   execution.Builder
	Relay     execution.Relay
	FeeOracle execution.FeeOracle

	Store    storage.StateStore
	Recorder Recorder
	Events   EventSink
}

// Agent планировщик циклов и внешний API агента
type Agent struct {
	cfg        *config.Config
	deps       Deps
	classifier *sentiment.Classifier
	smoother   *sentiment.Smoother
	engine     *strategy.Engine
	books      *ledger.Books
	controller *execution.Controller

	running atomic.Bool

	mu        sync.RWMutex
	state     models.StrategyState
	lastPrice float64
	last      *CycleReport
	callbacks []func(models.TradeEvent)

	now   func() time.Time
	newID func() string
}

// New собирает агента по конфигурации
func New(cfg *config.Config, deps Deps) (*Agent, error) {
	if deps.Signal == nil || deps.Prices == nil {
		return nil, errors.New("не заданы источники индекса и цены")
	}
	if deps.Quoter == nil || deps.Builder == nil || deps.Relay == nil {
		return nil, errors.New("не задана площадка исполнения")
	}

	lots := ledger.NewLotBook()
	books := ledger.NewBooks(lots, ledger.NewPosition(models.PositionState{}))

	engine, err := strategy.New(cfg.Strategy, lots)
	if err != nil {
		return nil, err
	}

	controller := execution.NewController(cfg.Execution, cfg.Pair, execution.Deps{
		Quoter:      deps.Quoter,
		Builder:     deps.Builder,
		Relay:       deps.Relay,
		FeeOracle:   deps.FeeOracle,
		Books:       books,
		TipAccounts: cfg.Venue.TipAccounts,
	})

	return &Agent{
		cfg:        cfg,
		deps:       deps,
		classifier: sentiment.NewClassifier(cfg.Sentiment.Boundaries()),
		smoother:   sentiment.NewSmoother(cfg.Sentiment.SmoothingPeriod, cfg.Sentiment.HistorySize),
		engine:     engine,
		books:      books,
		controller: controller,
		state:      models.StrategyState{Streak: models.StreakState{Threshold: cfg.Strategy.Streak.Threshold}},
		now:        time.Now,
		newID:      newCycleID,
	}, nil
}

// Load восстанавливает состояние из хранилища. Отсутствие снимка не ошибка.
func (a *Agent) Load(ctx context.Context) error {
	if a.deps.Store == nil {
		return nil
	}
	snap, err := a.deps.Store.Load(ctx)
	if errors.Is(err, storage.ErrNoSnapshot) {
		logger.Info("Снимок состояния не найден, агент начнет с нуля")
		return nil
	}
	if err != nil {
		return fmt.Errorf("ошибка загрузки состояния: %w", err)
	}

	a.books.Restore(*snap)
	a.smoother.Restore(snap.SignalHistory)

	a.mu.Lock()
	a.state = snap.Strategy
	if a.state.Streak.Threshold == 0 {
		a.state.Streak.Threshold = a.cfg.Strategy.Streak.Threshold
	}
	a.lastPrice = snap.Position.InitialPrice
	a.mu.Unlock()

	logger.Info("Состояние восстановлено",
		zap.Int("lots", len(snap.Lots)),
		zap.Int("cycle_count", snap.Position.CycleCount),
		zap.Time("saved_at", snap.SavedAt))
	return nil
}

// Strategy имя активного варианта стратегии
func (a *Agent) Strategy() string {
	return a.engine.Name()
}

// Running возвращает true во время цикла
func (a *Agent) Running() bool {
	return a.running.Load()
}

// LastCycle отчет последнего завершенного цикла
func (a *Agent) LastCycle() *CycleReport {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.last == nil {
		return nil
	}
	c := *a.last
	return &c
}

// StrategyState копия состояния стратегии
func (a *Agent) StrategyState() models.StrategyState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return cloneState(a.state)
}

// GetStatistics статистика лотов и портфеля по последней известной цене
func (a *Agent) GetStatistics() models.Statistics {
	a.mu.RLock()
	price := a.lastPrice
	a.mu.RUnlock()
	return a.books.Statistics(price)
}

// GetOpenLots открытые лоты в порядке открытия
func (a *Agent) GetOpenLots() []models.Lot {
	return a.books.Lots.OpenLots()
}

// GetClosedLots закрытые лоты
func (a *Agent) GetClosedLots() []models.Lot {
	return a.books.Lots.ClosedLots()
}

// OnTradeConfirmed регистрирует обработчик подтвержденных сделок.
// Обработчик вызывается после сверки с леджерами, паника в нем не ломает цикл.
func (a *Agent) OnTradeConfirmed(cb func(models.TradeEvent)) {
	if cb == nil {
		return
	}
	a.mu.Lock()
	a.callbacks = append(a.callbacks, cb)
	a.mu.Unlock()
}

// CancelInFlight запрашивает отмену текущего исполнения.
// Намерение не повторяется, следующий цикл выведет новое.
func (a *Agent) CancelInFlight() {
	logger.Info("Запрошена отмена текущего исполнения", zap.Bool("running", a.running.Load()))
	a.controller.CancelFlag().Cancel()
}

// Run выполняет первый цикл сразу, затем по интервалу до отмены контекста.
// Ошибка цикла логируется, планировщик продолжает работу.
func (a *Agent) Run(ctx context.Context) error {
	interval := a.cfg.Scheduler.Interval()
	logger.Info("Планировщик запущен",
		zap.String("strategy", a.engine.Name()),
		zap.Duration("interval", interval))

	a.emit(models.TradeEvent{
		Type:    models.EventAgentStarted,
		Message: fmt.Sprintf("стратегия %s, интервал %s", a.engine.Name(), interval),
	})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := a.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Цикл завершился с ошибкой", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			logger.Info("Планировщик остановлен")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Agent) emit(ev models.TradeEvent) {
	if a.deps.Events != nil {
		a.deps.Events.Send(ev)
	}
}

func (a *Agent) notifyConfirmed(ev models.TradeEvent) {
	a.mu.RLock()
	callbacks := append(([]func(models.TradeEvent))(nil), a.callbacks...)
	a.mu.RUnlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Паника в обработчике сделки",
						zap.String("cycle_id", ev.CycleID),
						zap.String("panic", fmt.Sprint(r)))
				}
			}()
			cb(ev)
		}()
	}
	a.emit(ev)
}

func cloneState(s models.StrategyState) models.StrategyState {
	s.Streak.Readings = append([]models.StreakReading(nil), s.Streak.Readings...)
	return s
}
