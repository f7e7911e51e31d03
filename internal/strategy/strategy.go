// Package strategy превращает категорию индекса в торговое намерение.
//
// Варианты стратегии чистые: Decide получает состояние и вход цикла
// и возвращает новое состояние вместе с сигналом. Самостоятельного
// изменяемого состояния у них нет.
package strategy

import (
	"fmt"
	"strings"

	"github.com/skalibog/fgiagent/internal/config"
	"github.com/skalibog/fgiagent/pkg/logger"
	"github.com/skalibog/fgiagent/pkg/models"
	"go.uber.org/zap"
)

// Input вход одного цикла стратегии
type Input struct {
	Sentiment    models.Sentiment
	Value        float64
	// Flagged показание отклонено классификатором, варианты его не учитывают
	Flagged      bool
	Price        float64
	BaseBalance  float64
	QuoteBalance float64
}

// Signal решение варианта до расчета размера
type Signal struct {
	Direction models.Direction
	// Category определяет долю баланса для сделки
	Category  models.Sentiment
	Sentiment models.Sentiment
	// Pct явная доля баланса в процентах, ноль - брать по категории
	Pct float64
	// SkipMatch отключает закрытие противоположного лота
	SkipMatch bool
	Reason    string
}

// Variant один вариант стратегии
type Variant interface {
	Name() string
	Evaluate(state models.StrategyState, in Input) (*Signal, models.StrategyState)
}

// LotFinder ищет самый старый открытый лот противоположного направления
type LotFinder interface {
	FindOldestOpposite(direction models.Direction, currentPrice float64) (models.Lot, bool)
}

// Engine объединяет вариант, правило close-before-open и расчет размера
type Engine struct {
	variant         Variant
	sizer           *Sizer
	lots            LotFinder
	closeBeforeOpen bool
}

// NewEngine создает движок стратегии
func NewEngine(variant Variant, sizer *Sizer, lots LotFinder, closeBeforeOpen bool) *Engine {
	return &Engine{
		variant:         variant,
		sizer:           sizer,
		lots:            lots,
		closeBeforeOpen: closeBeforeOpen,
	}
}

// New создает движок по конфигурации
func New(cfg config.StrategyConfig, lots LotFinder) (*Engine, error) {
	var v Variant
	switch strings.ToLower(cfg.Mode) {
	case "direct":
		v = Direct{}
	case "streak":
		v = NewStreak(cfg.Streak.Threshold)
	case "threshold":
		v = NewAllocation(cfg.Allocation)
	default:
		return nil, fmt.Errorf("неизвестный режим стратегии: %s", cfg.Mode)
	}
	return NewEngine(v, NewSizer(cfg.Sizing), lots, cfg.CloseBeforeOpen), nil
}

// Name возвращает имя активного варианта
func (e *Engine) Name() string {
	return e.variant.Name()
}

// Decide возвращает намерение цикла и новое состояние стратегии
func (e *Engine) Decide(state models.StrategyState, in Input) (models.Intent, models.StrategyState) {
	signal, next := e.variant.Evaluate(state, in)
	if signal == nil {
		return models.Noop("нет сигнала"), next
	}

	if e.closeBeforeOpen && !signal.SkipMatch && e.lots != nil {
		if lot, ok := e.lots.FindOldestOpposite(signal.Direction, in.Price); ok {
			intent := e.sizer.Close(lot, in)
			intent.Sentiment = signal.Sentiment
			if intent.IsNoop() {
				logger.Warn("Не удалось рассчитать закрытие лота",
					zap.String("lot_id", lot.ID),
					zap.String("reason", intent.Reason))
			}
			return intent, next
		}
	}

	category := signal.Category
	if category == "" {
		category = signal.Sentiment
	}
	intent := e.sizer.Open(signal.Direction, category, signal.Pct, in)
	intent.Sentiment = signal.Sentiment
	if intent.Reason == "" {
		intent.Reason = signal.Reason
	}
	return intent, next
}

// directionFor возвращает направление для стороны индекса: страх покупает, жадность продает
func directionFor(s models.Sentiment) (models.Direction, bool) {
	switch {
	case s.IsFear():
		return models.Buy, true
	case s.IsGreed():
		return models.Sell, true
	}
	return "", false
}
