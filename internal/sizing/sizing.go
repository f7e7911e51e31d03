// Package sizing содержит общую денежную математику: доли баланса,
// базисные пункты, комиссию с прибыли и перевод в атомарные единицы.
package sizing

import (
	"math"

	"github.com/shopspring/decimal"
)

// LamportsPerSOL число лампортов в одном SOL
const LamportsPerSOL = 1_000_000_000

var bpsDenominator = decimal.NewFromInt(10_000)

// Valid проверяет, что число конечное
func Valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Percent возвращает pct% от amount. Некорректный вход дает ноль.
func Percent(amount, pct float64) float64 {
	if !Valid(amount) || !Valid(pct) || amount <= 0 || pct <= 0 {
		return 0
	}
	v, _ := decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(pct)).Div(decimal.NewFromInt(100)).Float64()
	return v
}

// ApplyBps уменьшает amount на bps базисных пунктов
func ApplyBps(amount float64, bps int) float64 {
	if !Valid(amount) || amount <= 0 {
		return 0
	}
	if bps <= 0 {
		return amount
	}
	factor := decimal.NewFromInt(int64(10_000 - bps)).Div(bpsDenominator)
	v, _ := decimal.NewFromFloat(amount).Mul(factor).Float64()
	return v
}

// ProfitFeeBps считает комиссию с положительной прибыли в базисных пунктах от объема сделки.
// pct процент от прибыли, maxBps ограничение сверху. Для убытка комиссия нулевая.
func ProfitFeeBps(pnl, notional, pct float64, maxBps int) int {
	if !Valid(pnl) || !Valid(notional) || pnl <= 0 || notional <= 0 || pct <= 0 {
		return 0
	}
	fee := decimal.NewFromFloat(pnl).
		Mul(decimal.NewFromFloat(pct)).
		Div(decimal.NewFromInt(100))
	bps := fee.Div(decimal.NewFromFloat(notional)).Mul(bpsDenominator).Floor().IntPart()
	if bps < 0 {
		return 0
	}
	if maxBps >= 0 && bps > int64(maxBps) {
		return maxBps
	}
	return int(bps)
}

// ToAtomic переводит человеческое количество в атомарные единицы с округлением вниз
func ToAtomic(amount float64, decimals int32) uint64 {
	if !Valid(amount) || amount <= 0 {
		return 0
	}
	return uint64(decimal.NewFromFloat(amount).Shift(decimals).Floor().IntPart())
}

// FromAtomic переводит атомарные единицы в человеческое количество
func FromAtomic(amount uint64, decimals int32) float64 {
	v, _ := decimal.NewFromUint64(amount).Shift(-decimals).Float64()
	return v
}

// SOLToLamports переводит SOL в лампорты
func SOLToLamports(sol float64) uint64 {
	return ToAtomic(sol, 9)
}

// WeightedAverage возвращает (oldAvg*oldQty + price*qty) / (oldQty+qty).
// При нулевом суммарном количестве возвращает oldAvg.
func WeightedAverage(oldAvg, oldQty, price, qty float64) float64 {
	total := oldQty + qty
	if total == 0 || !Valid(total) {
		return oldAvg
	}
	return (oldAvg*oldQty + price*qty) / total
}
