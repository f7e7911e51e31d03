package ledger

import (
	"fmt"
	"sync"

	"github.com/skalibog/fgiagent/pkg/logger"
	"github.com/skalibog/fgiagent/pkg/models"
	"go.uber.org/zap"
)

// FillSource источник данных об объемах исполнения
type FillSource string

const (
	FillFromQuote     FillSource = "quote"
	FillFromRoute     FillSource = "route"
	FillFromRequested FillSource = "requested"
)

// Fill подтвержденное исполнение, переданное контроллером после Landed
type Fill struct {
	Ref          string
	Direction    models.Direction
	BaseAmount   float64
	QuoteAmount  float64
	Price        float64
	ClosingLotID string
	// Complete false означает закрытие ниже порога полноты
	Complete bool
	Source   FillSource
}

// Outcome результат сверки исполнения с леджерами
type Outcome struct {
	Lot         models.Lot
	Closed      bool
	Partial     bool
	RealizedPnL float64
	Remainder   *models.Lot
	// Duplicate исполнение уже было учтено, леджеры не менялись
	Duplicate bool
}

// Books объединяет книгу лотов и позиционный леджер.
// Reconcile единственная точка изменения обоих.
type Books struct {
	mu       sync.Mutex
	Lots     *LotBook
	Position *Position
}

// NewBooks создает леджеры
func NewBooks(lots *LotBook, position *Position) *Books {
	return &Books{Lots: lots, Position: position}
}

// Lot возвращает лот по идентификатору
func (b *Books) Lot(id string) (models.Lot, bool) {
	return b.Lots.Lot(id)
}

// Reconcile применяет подтвержденное исполнение к позиции и лотам
func (b *Books) Reconcile(fill Fill) (Outcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if out, dup := b.duplicate(fill); dup {
		logger.Warn("Исполнение уже учтено, повторная сверка пропущена",
			zap.String("ref", fill.Ref),
			zap.String("lot_id", out.Lot.ID))
		return out, nil
	}

	if err := b.Position.ApplyFill(fill.Direction, fill.BaseAmount, fill.QuoteAmount, fill.Price); err != nil {
		return Outcome{}, fmt.Errorf("ошибка применения исполнения %s: %w", fill.Ref, err)
	}

	if fill.ClosingLotID == "" {
		lot := b.Lots.Open(fill.Direction, fill.BaseAmount, fill.QuoteAmount, fill.Price, fill.Ref)
		return Outcome{Lot: lot}, nil
	}

	lot, ok := b.Lots.Lot(fill.ClosingLotID)
	if !ok {
		// исполнение уже в балансах, лота для закрытия нет
		logger.Warn("Закрываемый лот не найден, исполнение учтено только в балансах",
			zap.String("lot_id", fill.ClosingLotID),
			zap.String("ref", fill.Ref))
		return Outcome{}, nil
	}

	if fill.Complete {
		pnl, err := b.Lots.Close(lot.ID, fill.Price)
		if err != nil {
			return Outcome{}, err
		}
		closed, _ := b.Lots.Lot(lot.ID)
		return Outcome{Lot: closed, Closed: true, RealizedPnL: pnl}, nil
	}

	pnl, remainder, err := b.Lots.PartialClose(lot.ID, fill.BaseAmount, fill.Price)
	if err != nil {
		return Outcome{}, err
	}
	closed, _ := b.Lots.Lot(lot.ID)
	out := Outcome{Lot: closed, Closed: true, Partial: true, RealizedPnL: pnl}
	if remainder.ID != "" {
		out.Remainder = &remainder
	}
	return out, nil
}

// duplicate распознает повторную сверку: лот открытия с тем же ref уже есть
// или закрываемый лот уже закрыт
func (b *Books) duplicate(fill Fill) (Outcome, bool) {
	if fill.ClosingLotID == "" {
		if fill.Ref == "" {
			return Outcome{}, false
		}
		lot, ok := b.Lots.Lot(fill.Ref)
		return Outcome{Lot: lot, Duplicate: true}, ok
	}
	lot, ok := b.Lots.Lot(fill.ClosingLotID)
	if !ok || lot.IsOpen() {
		return Outcome{}, false
	}
	return Outcome{Lot: lot, Closed: true, RealizedPnL: lot.RealizedPnL, Duplicate: true}, true
}

// Snapshot возвращает согласованную копию позиции и лотов
func (b *Books) Snapshot() (models.PositionState, []models.Lot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Position.State(), b.Lots.All()
}

// Restore восстанавливает оба леджера из снимка
func (b *Books) Restore(snap models.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Position.Restore(snap.Position)
	b.Lots.Restore(snap.Lots)
}

// Statistics объединенная статистика по цене
func (b *Books) Statistics(price float64) models.Statistics {
	st := models.Statistics{
		Lots:      b.Lots.Statistics(),
		Portfolio: b.Position.EnhancedStatistics(price),
	}
	return st
}
