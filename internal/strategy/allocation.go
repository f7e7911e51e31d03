package strategy

import (
	"fmt"

	"github.com/skalibog/fgiagent/internal/config"
	"github.com/skalibog/fgiagent/pkg/logger"
	"github.com/skalibog/fgiagent/pkg/models"
	"go.uber.org/zap"
)

// Allocation переключает аллокацию после N циклов подряд по одну сторону порога.
// Выше порога держим quote, ниже - base.
type Allocation struct {
	threshold float64
	cycles    int
	pct       float64
}

// NewAllocation создает вариант порогового гистерезиса
func NewAllocation(cfg config.AllocationConfig) Allocation {
	cycles := cfg.Cycles
	if cycles < 1 {
		cycles = 1
	}
	return Allocation{threshold: cfg.Threshold, cycles: cycles, pct: cfg.AllocationPct}
}

func (a Allocation) Name() string { return "threshold" }

// Evaluate обновляет счетчики и возвращает сигнал при смене стороны
func (a Allocation) Evaluate(state models.StrategyState, in Input) (*Signal, models.StrategyState) {
	if in.Flagged {
		return nil, state
	}
	alloc := state.Allocation

	var side models.AllocationSide
	switch {
	case in.Value > a.threshold:
		side = models.SideAbove
		alloc.AboveCount++
		alloc.BelowCount = 0
	case in.Value < a.threshold:
		side = models.SideBelow
		alloc.BelowCount++
		alloc.AboveCount = 0
	default:
		// NaN и значение ровно на пороге не меняют счетчики
		return nil, state
	}

	if side == alloc.Side {
		state.Allocation = alloc
		return nil, state
	}

	count := alloc.AboveCount
	if side == models.SideBelow {
		count = alloc.BelowCount
	}
	if count < a.cycles {
		state.Allocation = alloc
		return nil, state
	}

	logger.Info("Смена аллокации",
		zap.String("from", string(alloc.Side)),
		zap.String("to", string(side)),
		zap.Int("cycles", count))

	state.Allocation = models.AllocationState{Side: side}

	dir := models.Buy
	if side == models.SideAbove {
		dir = models.Sell
	}
	return &Signal{
		Direction: dir,
		Sentiment: in.Sentiment,
		Pct:       a.pct,
		SkipMatch: true,
		Reason:    fmt.Sprintf("аллокация %s после %d циклов", side, count),
	}, state
}
