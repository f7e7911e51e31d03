// Package notify рассылает события агента во внешние каналы.
// Доставка асинхронная и никогда не влияет на состояние агента.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skalibog/fgiagent/pkg/logger"
	"github.com/skalibog/fgiagent/pkg/models"
	"go.uber.org/zap"
)

// Notifier канал доставки событий
type Notifier interface {
	Notify(ctx context.Context, ev models.TradeEvent) error
}

// Dispatcher рассылает события по всем каналам, каждый в своей горутине
type Dispatcher struct {
	sinks   []Notifier
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher создает рассыльщик
func NewDispatcher(timeout time.Duration, sinks ...Notifier) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{sinks: sinks, timeout: timeout}
}

// Send отправляет событие и сразу возвращается. Ошибки и паники каналов только логируются.
func (d *Dispatcher) Send(ev models.TradeEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	for _, sink := range d.sinks {
		d.wg.Add(1)
		go func(sink Notifier) {
			defer d.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Паника в канале уведомлений",
						zap.String("event", string(ev.Type)),
						zap.String("panic", fmt.Sprint(r)))
				}
			}()

			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := sink.Notify(ctx, ev); err != nil {
				logger.Warn("Ошибка отправки уведомления",
					zap.String("event", string(ev.Type)),
					zap.String("cycle_id", ev.CycleID),
					zap.Error(err))
			}
		}(sink)
	}
}

// Wait ждет завершения отправок, начатых до вызова
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// LogNotifier пишет события в лог
type LogNotifier struct{}

// Notify логирует событие
func (LogNotifier) Notify(_ context.Context, ev models.TradeEvent) error {
	logger.Info("Событие агента",
		zap.String("event", string(ev.Type)),
		zap.String("cycle_id", ev.CycleID),
		zap.String("bundle_id", ev.BundleID),
		zap.String("lot_id", ev.LotID),
		zap.String("direction", string(ev.Direction)),
		zap.Float64("base", ev.BaseAmount),
		zap.Float64("quote", ev.QuoteAmount),
		zap.Float64("price", ev.Price),
		zap.Float64("realized_pnl", ev.RealizedPnL),
		zap.String("message", ev.Message))
	return nil
}
