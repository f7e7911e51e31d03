package strategy

import (
	"fmt"

	"github.com/skalibog/fgiagent/internal/config"
	"github.com/skalibog/fgiagent/internal/sizing"
	"github.com/skalibog/fgiagent/pkg/logger"
	"github.com/skalibog/fgiagent/pkg/models"
	"go.uber.org/zap"
)

// Sizer рассчитывает размер намерения.
// Любой некорректный вход дает пустое намерение, а не ошибку.
type Sizer struct {
	cfg config.SizingConfig
}

// NewSizer создает расчетчик размера
func NewSizer(cfg config.SizingConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// PctFor возвращает долю баланса для категории
func (s *Sizer) PctFor(category models.Sentiment) (float64, bool) {
	var pct float64
	switch category {
	case models.ExtremeFear:
		pct = s.cfg.ExtremeFearPct
	case models.Fear:
		pct = s.cfg.FearPct
	case models.Greed:
		pct = s.cfg.GreedPct
	case models.ExtremeGreed:
		pct = s.cfg.ExtremeGreedPct
	default:
		return 0, false
	}
	return pct, pct > 0
}

// Open рассчитывает открывающее намерение. Покупка тратит долю quote, продажа - долю base.
func (s *Sizer) Open(direction models.Direction, category models.Sentiment, pct float64, in Input) models.Intent {
	if pct <= 0 {
		var ok bool
		pct, ok = s.PctFor(category)
		if !ok {
			return reject("нет настройки размера для категории", zap.String("category", string(category)))
		}
	}
	if !sizing.Valid(in.Price) || in.Price <= 0 {
		return reject("некорректная цена", zap.Float64("price", in.Price))
	}

	var amount, notional float64
	switch direction {
	case models.Buy:
		if !(in.QuoteBalance > 0) {
			return reject("нулевой баланс quote", zap.Float64("quote_balance", in.QuoteBalance))
		}
		amount = sizing.Percent(in.QuoteBalance, pct)
		notional = amount
	case models.Sell:
		if !(in.BaseBalance > 0) {
			return reject("нулевой баланс base", zap.Float64("base_balance", in.BaseBalance))
		}
		amount = sizing.Percent(in.BaseBalance, pct)
		notional = amount * in.Price
	default:
		return reject("некорректное направление", zap.String("direction", string(direction)))
	}

	if notional < s.cfg.MinQuoteTrade || amount <= 0 {
		return reject("сделка меньше минимального объема",
			zap.Float64("notional", notional),
			zap.Float64("min", s.cfg.MinQuoteTrade))
	}

	return models.Intent{
		Direction: direction,
		Mode:      models.ExactIn,
		Amount:    amount,
		Reason:    fmt.Sprintf("открытие %s %.2f%%", direction, pct),
	}
}

// Close рассчитывает намерение, полностью закрывающее лот.
// Короткий лот выкупается ExactOut на его base, длинный продается ExactIn.
func (s *Sizer) Close(lot models.Lot, in Input) models.Intent {
	if !lot.IsOpen() || !(lot.BaseAmount > 0) {
		return reject("лот нельзя закрыть", zap.String("lot_id", lot.ID))
	}

	intent := models.Intent{
		Direction:    lot.Direction.Opposite(),
		Amount:       lot.BaseAmount,
		ClosingLotID: lot.ID,
		Reason:       fmt.Sprintf("закрытие лота %s", lot.ID),
	}

	switch lot.Direction {
	case models.Sell:
		intent.Mode = models.ExactOut
		if !(in.QuoteBalance > 0) {
			return reject("нулевой баланс quote для закрытия", zap.String("lot_id", lot.ID))
		}
	case models.Buy:
		intent.Mode = models.ExactIn
		if !(in.BaseBalance > 0) {
			return reject("нулевой баланс base для закрытия", zap.String("lot_id", lot.ID))
		}
		if in.BaseBalance < intent.Amount {
			intent.Amount = in.BaseBalance
		}
	default:
		return reject("некорректное направление лота", zap.String("lot_id", lot.ID))
	}
	return intent
}

func reject(reason string, fields ...zap.Field) models.Intent {
	logger.Warn("Намерение отклонено: "+reason, fields...)
	return models.Noop(reason)
}
