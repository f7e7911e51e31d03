package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/skalibog/fgiagent/internal/execution"
	"github.com/skalibog/fgiagent/internal/metrics"
	"github.com/skalibog/fgiagent/internal/storage"
	"github.com/skalibog/fgiagent/internal/strategy"
	"github.com/skalibog/fgiagent/pkg/logger"
	"github.com/skalibog/fgiagent/pkg/models"
	"go.uber.org/zap"
)

// Итог цикла
const (
	CycleTraded    = "traded"
	CycleNoop      = "noop"
	CycleCancelled = "cancelled"
	CycleFailed    = "failed"
)

// CycleReport отчет одного цикла
type CycleReport struct {
	ID         string
	StartedAt  time.Time
	Duration   time.Duration
	Result     string
	RawValue   float64
	Value      float64
	Sentiment  models.Sentiment
	Flagged    bool
	Price      float64
	Intent     models.Intent
	Completion float64
	BundleID   string
	Trade      *models.TradeEvent
	Error      string
}

func newCycleID() string { return uuid.NewString() }

// RunCycle выполняет один цикл: индекс, цена, решение стратегии, исполнение, сохранение.
// Повторный вызов во время активного цикла возвращает ErrCycleInProgress.
func (a *Agent) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !a.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer a.running.Store(false)

	report := &CycleReport{ID: a.newID(), StartedAt: a.now()}
	log := logger.GetLogger().With(zap.String("cycle_id", report.ID))

	if d := a.cfg.Scheduler.CycleTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	a.controller.CancelFlag().Reset()

	err := a.cycle(ctx, report, log)
	report.Duration = a.now().Sub(report.StartedAt)
	if err != nil {
		report.Result = CycleFailed
		report.Error = err.Error()
	}

	metrics.Cycle(report.Result)
	a.record(ctx, report, log)

	a.mu.Lock()
	a.last = report
	a.mu.Unlock()

	if err != nil {
		log.Error("Ошибка цикла", zap.Error(err))
		a.emit(models.TradeEvent{
			Type:      models.EventCycleFailed,
			CycleID:   report.ID,
			Sentiment: report.Sentiment,
			Price:     report.Price,
			Message:   err.Error(),
			Timestamp: a.now(),
		})
		return report, err
	}

	log.Info("Цикл завершен",
		zap.String("result", report.Result),
		zap.String("sentiment", string(report.Sentiment)),
		zap.Float64("value", report.Value),
		zap.Float64("price", report.Price),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (a *Agent) cycle(ctx context.Context, report *CycleReport, log *zap.Logger) error {
	reading, err := a.deps.Signal.Reading(ctx)
	if err != nil {
		return fmt.Errorf("ошибка получения индекса: %w", err)
	}
	report.RawValue = reading.Value
	value := a.smoother.Add(reading.Value)
	class := a.classifier.Classify(value)
	report.Value, report.Sentiment, report.Flagged = class.Value, class.Sentiment, class.Flagged
	if !class.Flagged {
		metrics.SetSentiment(class.Value)
	}

	price, err := a.deps.Prices.Price(ctx)
	if err != nil {
		return fmt.Errorf("ошибка получения цены: %w", err)
	}
	report.Price = price
	a.mu.Lock()
	a.lastPrice = price
	a.mu.Unlock()

	if err := a.prepareBalances(ctx, price, log); err != nil {
		return err
	}

	position := a.books.Position
	count := position.IncrementCycle()
	a.books.Lots.MarkToMarket(price)
	base, quote := position.Balances()

	a.mu.Lock()
	intent, next := a.engine.Decide(a.state, strategy.Input{
		Sentiment:    class.Sentiment,
		Value:        class.Value,
		Flagged:      class.Flagged,
		Price:        price,
		BaseBalance:  base,
		QuoteBalance: quote,
	})
	// состояние стратегии фиксируется независимо от исхода исполнения
	a.state = next
	a.mu.Unlock()
	report.Intent = intent

	log.Debug("Решение стратегии",
		zap.Int("cycle", count),
		zap.String("strategy", a.engine.Name()),
		zap.String("intent", string(intent.Direction)),
		zap.Float64("amount", intent.Amount),
		zap.String("closing_lot", intent.ClosingLotID),
		zap.String("reason", intent.Reason))

	res, execErr := a.controller.Execute(ctx, intent, price)
	report.Result = a.outcome(ctx, report, res, execErr, log)

	if err := a.persist(ctx); err != nil {
		if execErr == nil {
			return err
		}
		log.Error("Ошибка сохранения состояния", zap.Error(err))
	}
	if report.Result == CycleFailed {
		return execErr
	}
	return nil
}

// prepareBalances синхронизирует балансы с площадкой и задает начальное состояние нового агента
func (a *Agent) prepareBalances(ctx context.Context, price float64, log *zap.Logger) error {
	position := a.books.Position

	if !position.Initialized() {
		base, quote := a.cfg.Paper.BaseBalance, a.cfg.Paper.QuoteBalance
		if a.deps.Balances != nil {
			var err error
			base, quote, err = a.deps.Balances.Balances(ctx)
			if err != nil {
				return fmt.Errorf("ошибка получения начальных балансов: %w", err)
			}
		}
		position.Bootstrap(base, quote, price)
		log.Info("Начальное состояние задано",
			zap.Float64("base", base),
			zap.Float64("quote", quote),
			zap.Float64("price", price))
		return nil
	}

	if a.deps.Balances == nil || !a.cfg.Venue.SyncBalances {
		return nil
	}
	base, quote, err := a.deps.Balances.Balances(ctx)
	if err != nil {
		log.Warn("Не удалось синхронизировать балансы, используются леджерные", zap.Error(err))
		return nil
	}
	position.SetBalances(base, quote)
	return nil
}

func (a *Agent) outcome(ctx context.Context, report *CycleReport, res *execution.Result, err error, log *zap.Logger) string {
	if res != nil {
		report.BundleID = res.BundleID
		report.Completion = res.Completeness
	}

	switch {
	case errors.Is(err, execution.ErrCancelled):
		log.Info("Исполнение отменено, намерение не повторяется", zap.String("bundle_id", report.BundleID))
		return CycleCancelled
	case err != nil:
		if res != nil && res.Status == execution.ResultLanded {
			log.Error("Бандл подтвержден, но сверка не выполнена", zap.String("bundle_id", res.BundleID), zap.Error(err))
		}
		return CycleFailed
	case res == nil || res.Status == execution.ResultSkipped:
		return CycleNoop
	}

	ev := tradeEvent(report, res, a.now())
	report.Trade = &ev
	metrics.Trade(string(ev.Direction), string(ev.Type))
	a.notifyConfirmed(ev)
	if a.deps.Recorder != nil {
		if err := a.deps.Recorder.RecordTrade(context.WithoutCancel(ctx), ev); err != nil {
			log.Warn("Ошибка записи сделки в историю", zap.Error(err))
		}
	}
	return CycleTraded
}

func tradeEvent(report *CycleReport, res *execution.Result, now time.Time) models.TradeEvent {
	ev := models.TradeEvent{
		Type:      models.EventTradeOpened,
		CycleID:   report.ID,
		BundleID:  res.BundleID,
		Sentiment: report.Sentiment,
		Timestamp: now,
	}
	if f := res.Fill; f != nil {
		ev.Direction = f.Direction
		ev.BaseAmount = f.BaseAmount
		ev.QuoteAmount = f.QuoteAmount
		ev.Price = f.Price
		ev.LotID = f.ClosingLotID
	}
	if o := res.Outcome; o != nil {
		if o.Lot.ID != "" {
			ev.LotID = o.Lot.ID
		}
		ev.RealizedPnL = o.RealizedPnL
		switch {
		case o.Partial:
			ev.Type = models.EventTradePartial
		case o.Closed:
			ev.Type = models.EventTradeClosed
		}
	}
	if ev.Type == models.EventTradeOpened && res.Intent.IsClose() {
		ev.Type = models.EventTradeClosed
	}
	ev.Message = fmt.Sprintf("%s %.6f по %.4f", ev.Direction, ev.BaseAmount, ev.Price)
	return ev
}

func (a *Agent) persist(ctx context.Context) error {
	if a.deps.Store == nil {
		return nil
	}
	position, lots := a.books.Snapshot()
	snap := models.Snapshot{
		Version:       storage.SnapshotVersion,
		Position:      position,
		Lots:          lots,
		Strategy:      a.StrategyState(),
		SignalHistory: a.smoother.History(),
		SavedAt:       a.now(),
	}
	// сохранение не прерывается отменой цикла, подтвержденное исполнение уже в леджерах
	if err := a.deps.Store.Save(context.WithoutCancel(ctx), snap); err != nil {
		return fmt.Errorf("ошибка сохранения состояния: %w", err)
	}
	return nil
}

func (a *Agent) record(ctx context.Context, report *CycleReport, log *zap.Logger) {
	position := a.books.Position
	open := len(a.books.Lots.OpenLots())
	value := 0.0
	if report.Price > 0 {
		value = position.CurrentValue(report.Price)
		metrics.SetPortfolioValue(value)
	}
	metrics.SetOpenLots(open)

	if a.deps.Recorder == nil {
		return
	}
	err := a.deps.Recorder.RecordCycle(context.WithoutCancel(ctx), models.CycleRecord{
		CycleID:        report.ID,
		Result:         report.Result,
		Sentiment:      report.Sentiment,
		Value:          report.Value,
		Price:          report.Price,
		PortfolioValue: value,
		OpenLots:       open,
		Timestamp:      report.StartedAt,
	})
	if err != nil {
		log.Warn("Ошибка записи цикла в историю", zap.Error(err))
	}
}
