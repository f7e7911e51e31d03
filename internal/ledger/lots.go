// Package ledger ведет книгу лотов FIFO и позиционный леджер.
// Изменяются они только подтвержденными исполнениями.
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/skalibog/fgiagent/internal/sizing"
	"github.com/skalibog/fgiagent/pkg/models"
)

// ErrLotNotFound лот с таким идентификатором отсутствует
var ErrLotNotFound = errors.New("лот не найден")

// LotBook упорядоченная по вставке коллекция лотов
type LotBook struct {
	mu   sync.RWMutex
	lots []models.Lot
	now  func() time.Time
}

// NewLotBook создает пустую книгу лотов
func NewLotBook() *LotBook {
	return &LotBook{now: time.Now}
}

// Open добавляет лот в конец коллекции. Повторное открытие с тем же ref
// возвращает уже существующий лот, чтобы дубли исполнения не удваивали позицию.
func (b *LotBook) Open(direction models.Direction, baseAmount, quoteValue, price float64, ref string) models.Lot {
	b.mu.Lock()
	defer b.mu.Unlock()

	if i := b.indexOf(ref); i >= 0 {
		return b.lots[i]
	}

	lot := models.Lot{
		ID:         ref,
		Direction:  direction,
		OpenedAt:   b.now(),
		EntryPrice: price,
		BaseAmount: baseAmount,
		QuoteValue: quoteValue,
		Status:     models.LotOpen,
	}
	b.lots = append(b.lots, lot)
	return lot
}

// FindOldestOpposite возвращает первый по порядку вставки открытый лот противоположного направления.
// currentPrice используется только для заполнения UnrealizedPnL в возвращаемой копии.
func (b *LotBook) FindOldestOpposite(direction models.Direction, currentPrice float64) (models.Lot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	want := direction.Opposite()
	for _, l := range b.lots {
		if l.IsOpen() && l.Direction == want {
			if sizing.Valid(currentPrice) && currentPrice > 0 {
				l.UnrealizedPnL = l.PnLAt(currentPrice)
			}
			return l, true
		}
	}
	return models.Lot{}, false
}

// Lot возвращает копию лота по идентификатору
func (b *LotBook) Lot(id string) (models.Lot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i := b.indexOf(id); i >= 0 {
		return b.lots[i], true
	}
	return models.Lot{}, false
}

// Close переводит лот в закрытое состояние и возвращает реализованный P&L.
// Закрытие уже закрытого лота ничего не меняет и возвращает сохраненное значение.
func (b *LotBook) Close(id string, closePrice float64) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.indexOf(id)
	if i < 0 {
		return 0, fmt.Errorf("%w: %s", ErrLotNotFound, id)
	}
	if !b.lots[i].IsOpen() {
		return b.lots[i].RealizedPnL, nil
	}
	b.closeAt(i, closePrice)
	return b.lots[i].RealizedPnL, nil
}

// PartialClose закрывает часть лота объемом closedBase.
// Лот делится: закрытая часть сохраняет идентификатор, остаток остается открытым
// сразу за ней с тем же OpenedAt и ценой входа.
func (b *LotBook) PartialClose(id string, closedBase, closePrice float64) (float64, models.Lot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.indexOf(id)
	if i < 0 {
		return 0, models.Lot{}, fmt.Errorf("%w: %s", ErrLotNotFound, id)
	}
	lot := b.lots[i]
	if !lot.IsOpen() {
		return lot.RealizedPnL, models.Lot{}, nil
	}
	if !sizing.Valid(closedBase) || closedBase <= 0 {
		return 0, models.Lot{}, fmt.Errorf("некорректный объем частичного закрытия: %v", closedBase)
	}
	if closedBase >= lot.BaseAmount {
		b.closeAt(i, closePrice)
		return b.lots[i].RealizedPnL, models.Lot{}, nil
	}

	share := closedBase / lot.BaseAmount
	remainder := lot
	remainder.ID = b.remainderID(lot)
	remainder.ParentID = lot.ID
	if lot.ParentID != "" {
		remainder.ParentID = lot.ParentID
	}
	remainder.BaseAmount = lot.BaseAmount - closedBase
	remainder.QuoteValue = lot.QuoteValue * (1 - share)
	remainder.UnrealizedPnL = 0

	b.lots[i].BaseAmount = closedBase
	b.lots[i].QuoteValue = lot.QuoteValue * share
	b.closeAt(i, closePrice)

	b.lots = append(b.lots, models.Lot{})
	copy(b.lots[i+2:], b.lots[i+1:])
	b.lots[i+1] = remainder

	return b.lots[i].RealizedPnL, remainder, nil
}

// MarkToMarket пересчитывает нереализованный P&L всех открытых лотов
func (b *LotBook) MarkToMarket(currentPrice float64) {
	if !sizing.Valid(currentPrice) || currentPrice <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.lots {
		if b.lots[i].IsOpen() {
			b.lots[i].UnrealizedPnL = b.lots[i].PnLAt(currentPrice)
		}
	}
}

// Statistics считает статистику заново по коллекции лотов
func (b *LotBook) Statistics() models.LotStatistics {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var st models.LotStatistics
	wins := 0
	for _, l := range b.lots {
		st.TotalTrades++
		st.TotalVolume += l.QuoteValue
		if l.IsOpen() {
			st.OpenCount++
			st.TotalUnrealizedPnL += l.UnrealizedPnL
			continue
		}
		st.ClosedCount++
		st.TotalRealizedPnL += l.RealizedPnL
		if l.ClosePrice != nil {
			st.TotalVolume += *l.ClosePrice * l.BaseAmount
		}
		if l.RealizedPnL > 0 {
			wins++
		}
	}
	if st.ClosedCount > 0 {
		st.WinRate = float64(wins) / float64(st.ClosedCount) * 100
	}
	return st
}

// OpenLots возвращает копии открытых лотов в порядке FIFO
func (b *LotBook) OpenLots() []models.Lot {
	return b.filter(models.LotOpen)
}

// ClosedLots возвращает копии закрытых лотов
func (b *LotBook) ClosedLots() []models.Lot {
	return b.filter(models.LotClosed)
}

// All возвращает копию всей коллекции
func (b *LotBook) All() []models.Lot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Lot, len(b.lots))
	for i, l := range b.lots {
		out[i] = cloneLot(l)
	}
	return out
}

// Restore заменяет коллекцию лотами из снимка
func (b *LotBook) Restore(lots []models.Lot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lots = make([]models.Lot, len(lots))
	for i, l := range lots {
		b.lots[i] = cloneLot(l)
	}
}

func (b *LotBook) filter(status models.LotStatus) []models.Lot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []models.Lot
	for _, l := range b.lots {
		if l.Status == status {
			out = append(out, cloneLot(l))
		}
	}
	return out
}

func (b *LotBook) indexOf(id string) int {
	for i := range b.lots {
		if b.lots[i].ID == id {
			return i
		}
	}
	return -1
}

func (b *LotBook) closeAt(i int, closePrice float64) {
	at := b.now()
	price := closePrice
	l := &b.lots[i]
	l.Status = models.LotClosed
	l.RealizedPnL = l.PnLAt(closePrice)
	l.UnrealizedPnL = 0
	l.ClosedAt = &at
	l.ClosePrice = &price
}

func (b *LotBook) remainderID(lot models.Lot) string {
	root := lot.ID
	if lot.ParentID != "" {
		root = lot.ParentID
	}
	n := 1
	for _, l := range b.lots {
		if strings.HasPrefix(l.ID, root+"/r") {
			n++
		}
	}
	return fmt.Sprintf("%s/r%d", root, n)
}

func cloneLot(l models.Lot) models.Lot {
	if l.ClosedAt != nil {
		at := *l.ClosedAt
		l.ClosedAt = &at
	}
	if l.ClosePrice != nil {
		p := *l.ClosePrice
		l.ClosePrice = &p
	}
	return l
}
