package models

import (
	"math"
	"time"
)

// Sentiment представляет категорию индекса страха и жадности
type Sentiment string

const (
	ExtremeFear  Sentiment = "EXTREME_FEAR"
	Fear         Sentiment = "FEAR"
	Neutral      Sentiment = "NEUTRAL"
	Greed        Sentiment = "GREED"
	ExtremeGreed Sentiment = "EXTREME_GREED"
)

// Valid проверяет, что категория входит в перечисление
func (s Sentiment) Valid() bool {
	switch s {
	case ExtremeFear, Fear, Neutral, Greed, ExtremeGreed:
		return true
	}
	return false
}

// IsFear возвращает true для сторон страха
func (s Sentiment) IsFear() bool { return s == Fear || s == ExtremeFear }

// IsGreed возвращает true для сторон жадности
func (s Sentiment) IsGreed() bool { return s == Greed || s == ExtremeGreed }

// IsExtreme возвращает true для крайних категорий
func (s Sentiment) IsExtreme() bool { return s == ExtremeFear || s == ExtremeGreed }

// Direction представляет направление сделки
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// Valid проверяет направление
func (d Direction) Valid() bool { return d == Buy || d == Sell }

// Opposite возвращает противоположное направление
func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

// SwapMode режим свопа на площадке
type SwapMode string

const (
	ExactIn  SwapMode = "ExactIn"
	ExactOut SwapMode = "ExactOut"
)

// Intent представляет торговое намерение одного цикла.
// Amount задан во входном активе для ExactIn и в выходном для ExactOut.
type Intent struct {
	Direction    Direction
	Mode         SwapMode
	Amount       float64
	ClosingLotID string
	Sentiment    Sentiment
	Reason       string
}

// Noop возвращает пустое намерение с причиной
func Noop(reason string) Intent {
	return Intent{Reason: reason}
}

// IsNoop возвращает true, если торговать не нужно
func (i Intent) IsNoop() bool {
	return !i.Direction.Valid() || !(i.Amount > 0) || math.IsInf(i.Amount, 0)
}

// IsClose возвращает true для закрывающего намерения
func (i Intent) IsClose() bool { return i.ClosingLotID != "" }

// AmountIsBase возвращает true, если Amount выражен в базовом активе
func (i Intent) AmountIsBase() bool {
	if i.Mode == ExactOut {
		return i.Direction == Buy
	}
	return i.Direction == Sell
}

// LotStatus статус лота
type LotStatus string

const (
	LotOpen   LotStatus = "open"
	LotClosed LotStatus = "closed"
)

// Lot представляет одну позиционную единицу (лот)
type Lot struct {
	ID            string     `json:"id"`
	ParentID      string     `json:"parent_id,omitempty"`
	Direction     Direction  `json:"direction"`
	OpenedAt      time.Time  `json:"opened_at"`
	EntryPrice    float64    `json:"entry_price"`
	BaseAmount    float64    `json:"base_amount"`
	QuoteValue    float64    `json:"quote_value"`
	Status        LotStatus  `json:"status"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
	RealizedPnL   float64    `json:"realized_pnl"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	ClosePrice    *float64   `json:"close_price,omitempty"`
}

// IsOpen возвращает true для открытого лота
func (l Lot) IsOpen() bool { return l.Status == LotOpen }

// PnLAt считает P&L лота по цене: для длинного (price-entry)*base, для короткого со знаком минус
func (l Lot) PnLAt(price float64) float64 {
	pnl := (price - l.EntryPrice) * l.BaseAmount
	if l.Direction == Sell {
		return -pnl
	}
	return pnl
}

// SignalReading представляет одно показание индекса
type SignalReading struct {
	Value     float64
	Raw       string
	Timestamp time.Time
}

// PositionState представляет сохраняемое состояние позиционного леджера
type PositionState struct {
	BaseBalance         float64   `json:"base_balance"`
	QuoteBalance        float64   `json:"quote_balance"`
	InitialBaseBalance  float64   `json:"initial_base_balance"`
	InitialQuoteBalance float64   `json:"initial_quote_balance"`
	InitialPrice        float64   `json:"initial_price"`
	CycleCount          int       `json:"cycle_count"`
	TotalBaseBought     float64   `json:"total_base_bought"`
	TotalQuoteSpent     float64   `json:"total_quote_spent"`
	TotalBaseSold       float64   `json:"total_base_sold"`
	TotalQuoteReceived  float64   `json:"total_quote_received"`
	AvgEntryPrice       float64   `json:"avg_entry_price"`
	AvgExitPrice        float64   `json:"avg_exit_price"`
	StartTime           time.Time `json:"start_time"`
}

// StreakReading одно показание внутри серии
type StreakReading struct {
	Sentiment Sentiment `json:"sentiment"`
	Value     float64   `json:"value"`
}

// StreakState состояние серии показаний для гистерезиса
type StreakState struct {
	Readings  []StreakReading `json:"readings"`
	Threshold int             `json:"threshold"`
}

// Len возвращает длину серии
func (s StreakState) Len() int { return len(s.Readings) }

// Last возвращает последнее показание серии
func (s StreakState) Last() (StreakReading, bool) {
	if len(s.Readings) == 0 {
		return StreakReading{}, false
	}
	return s.Readings[len(s.Readings)-1], true
}

// AllocationSide сторона порога в режиме аллокации
type AllocationSide string

const (
	SideUnset AllocationSide = ""
	SideAbove AllocationSide = "above"
	SideBelow AllocationSide = "below"
)

// AllocationState счетчики режима порогового гистерезиса
type AllocationState struct {
	Side       AllocationSide `json:"side"`
	AboveCount int            `json:"above_count"`
	BelowCount int            `json:"below_count"`
}

// StrategyState объединяет состояние всех вариантов стратегии
type StrategyState struct {
	Streak     StreakState     `json:"streak"`
	Allocation AllocationState `json:"allocation"`
}

// Snapshot представляет сериализуемый снимок состояния агента
type Snapshot struct {
	Version       int           `json:"version"`
	Position      PositionState `json:"position"`
	Lots          []Lot         `json:"lots"`
	Strategy      StrategyState `json:"strategy"`
	SignalHistory []float64     `json:"signal_history,omitempty"`
	SavedAt       time.Time     `json:"saved_at"`
}

// LotStatistics производная статистика по лотам
type LotStatistics struct {
	WinRate            float64 `json:"win_rate"`
	TotalTrades        int     `json:"total_trades"`
	OpenCount          int     `json:"open_count"`
	ClosedCount        int     `json:"closed_count"`
	TotalRealizedPnL   float64 `json:"total_realized_pnl"`
	TotalUnrealizedPnL float64 `json:"total_unrealized_pnl"`
	TotalVolume        float64 `json:"total_volume"`
}

// PortfolioStatistics производная статистика портфеля
type PortfolioStatistics struct {
	CurrentPrice        float64       `json:"current_price"`
	InitialValue        float64       `json:"initial_value"`
	CurrentValue        float64       `json:"current_value"`
	HoldValue           float64       `json:"hold_value"`
	PortfolioChangePct  float64       `json:"portfolio_change_pct"`
	VsHoldPct           float64       `json:"vs_hold_pct"`
	NetChangeQuote      float64       `json:"net_change_quote"`
	BaseChange          float64       `json:"base_change"`
	QuoteChange         float64       `json:"quote_change"`
	TotalVolumeQuote    float64       `json:"total_volume_quote"`
	TotalBaseBought     float64       `json:"total_base_bought"`
	TotalBaseSold       float64       `json:"total_base_sold"`
	AvgEntryPrice       float64       `json:"avg_entry_price"`
	AvgExitPrice        float64       `json:"avg_exit_price"`
	CycleCount          int           `json:"cycle_count"`
	Runtime             time.Duration `json:"runtime"`
	BaseBalance         float64       `json:"base_balance"`
	QuoteBalance        float64       `json:"quote_balance"`
}

// Statistics объединенная статистика агента
type Statistics struct {
	Lots      LotStatistics       `json:"lots"`
	Portfolio PortfolioStatistics `json:"portfolio"`
}

// EventType тип события для уведомлений
type EventType string

const (
	EventAgentStarted EventType = "agent_started"
	EventTradeOpened  EventType = "trade_opened"
	EventTradeClosed  EventType = "trade_closed"
	EventTradePartial EventType = "trade_partial"
	EventCycleFailed  EventType = "cycle_failed"
)

// TradeEvent представляет подтвержденную сделку или событие цикла
type TradeEvent struct {
	Type        EventType
	CycleID     string
	BundleID    string
	LotID       string
	Direction   Direction
	Sentiment   Sentiment
	BaseAmount  float64
	QuoteAmount float64
	Price       float64
	RealizedPnL float64
	Message     string
	Timestamp   time.Time
}

// CycleRecord итог одного цикла для истории
type CycleRecord struct {
	CycleID        string
	Result         string
	Sentiment      Sentiment
	Value          float64
	Price          float64
	PortfolioValue float64
	OpenLots       int
	Timestamp      time.Time
}
