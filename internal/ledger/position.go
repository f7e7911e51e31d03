package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/skalibog/fgiagent/internal/sizing"
	"github.com/skalibog/fgiagent/pkg/models"
)

// Position позиционный леджер: балансы, средние цены и накопленные объемы
type Position struct {
	mu    sync.RWMutex
	state models.PositionState
	now   func() time.Time
}

// NewPosition создает леджер из сохраненного состояния
func NewPosition(state models.PositionState) *Position {
	return &Position{state: state, now: time.Now}
}

// Bootstrap задает начальные балансы и цену для нового агента
func (p *Position) Bootstrap(base, quote, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = models.PositionState{
		BaseBalance:         base,
		QuoteBalance:        quote,
		InitialBaseBalance:  base,
		InitialQuoteBalance: quote,
		InitialPrice:        price,
		StartTime:           p.now(),
	}
}

// Initialized возвращает true, если начальная цена уже задана
func (p *Position) Initialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.InitialPrice > 0
}

// ApplyFill применяет подтвержденное исполнение
func (p *Position) ApplyFill(direction models.Direction, baseAmount, quoteAmount, price float64) error {
	for _, v := range []float64{baseAmount, quoteAmount, price} {
		if !sizing.Valid(v) || v <= 0 {
			return fmt.Errorf("некорректные данные исполнения: base=%v quote=%v price=%v", baseAmount, quoteAmount, price)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	s := &p.state
	switch direction {
	case models.Buy:
		s.AvgEntryPrice = sizing.WeightedAverage(s.AvgEntryPrice, s.TotalBaseBought, price, baseAmount)
		s.BaseBalance += baseAmount
		s.QuoteBalance -= quoteAmount
		s.TotalBaseBought += baseAmount
		s.TotalQuoteSpent += quoteAmount
	case models.Sell:
		s.AvgExitPrice = sizing.WeightedAverage(s.AvgExitPrice, s.TotalBaseSold, price, baseAmount)
		s.BaseBalance -= baseAmount
		s.QuoteBalance += quoteAmount
		s.TotalBaseSold += baseAmount
		s.TotalQuoteReceived += quoteAmount
	default:
		return fmt.Errorf("некорректное направление: %q", direction)
	}
	return nil
}

// SetBalances заменяет балансы подтвержденными данными площадки
func (p *Position) SetBalances(base, quote float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.BaseBalance = base
	p.state.QuoteBalance = quote
}

// IncrementCycle увеличивает счетчик циклов
func (p *Position) IncrementCycle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.CycleCount++
	return p.state.CycleCount
}

// Balances возвращает текущие балансы
func (p *Position) Balances() (base, quote float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.BaseBalance, p.state.QuoteBalance
}

// State возвращает копию состояния
func (p *Position) State() models.PositionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Restore заменяет состояние снимком
func (p *Position) Restore(state models.PositionState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
}

// CurrentValue стоимость портфеля в quote по цене
func (p *Position) CurrentValue(price float64) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.BaseBalance*price + p.state.QuoteBalance
}

// EnhancedStatistics считает производную статистику портфеля. Состояние не меняется.
func (p *Position) EnhancedStatistics(price float64) models.PortfolioStatistics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.state

	st := models.PortfolioStatistics{
		CurrentPrice:     price,
		InitialValue:     s.InitialBaseBalance*s.InitialPrice + s.InitialQuoteBalance,
		CurrentValue:     s.BaseBalance*price + s.QuoteBalance,
		HoldValue:        s.InitialBaseBalance*price + s.InitialQuoteBalance,
		BaseChange:       s.BaseBalance - s.InitialBaseBalance,
		QuoteChange:      s.QuoteBalance - s.InitialQuoteBalance,
		TotalVolumeQuote: s.TotalQuoteSpent + s.TotalQuoteReceived,
		TotalBaseBought:  s.TotalBaseBought,
		TotalBaseSold:    s.TotalBaseSold,
		AvgEntryPrice:    s.AvgEntryPrice,
		AvgExitPrice:     s.AvgExitPrice,
		CycleCount:       s.CycleCount,
		BaseBalance:      s.BaseBalance,
		QuoteBalance:     s.QuoteBalance,
	}
	st.NetChangeQuote = st.CurrentValue - st.InitialValue
	if st.InitialValue > 0 {
		st.PortfolioChangePct = st.NetChangeQuote / st.InitialValue * 100
	}
	if st.HoldValue > 0 {
		st.VsHoldPct = (st.CurrentValue - st.HoldValue) / st.HoldValue * 100
	}
	if !s.StartTime.IsZero() {
		st.Runtime = p.now().Sub(s.StartTime)
	}
	return st
}
