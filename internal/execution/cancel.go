package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// CancelFlag общий флаг отмены исполнения.
// Cancel может вызываться из любой горутины, Reset вызывает только планировщик перед циклом.
type CancelFlag struct {
	set  atomic.Bool
	mu   sync.Mutex
	done chan struct{}
}

// NewCancelFlag создает сброшенный флаг
func NewCancelFlag() *CancelFlag {
	return &CancelFlag{done: make(chan struct{})}
}

// Cancel выставляет флаг
func (f *CancelFlag) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set.CompareAndSwap(false, true) {
		close(f.done)
	}
}

// Reset сбрасывает флаг
func (f *CancelFlag) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set.CompareAndSwap(true, false) {
		f.done = make(chan struct{})
	}
}

// Cancelled возвращает true, если отмена запрошена
func (f *CancelFlag) Cancelled() bool {
	return f.set.Load()
}

// Done закрывается при отмене
func (f *CancelFlag) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// check возвращает ErrCancelled при выставленном флаге или отмененном контексте.
// Истекший срок контекста это не отмена, а ошибка ErrDeadline.
func (f *CancelFlag) check(ctx context.Context) error {
	if f.Cancelled() {
		return ErrCancelled
	}
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return ErrCancelled
	default:
		return fmt.Errorf("%w: %w", ErrDeadline, err)
	}
}

// sleep ждет d, прерываясь флагом или контекстом. Флаг проверяется до и после ожидания.
func (f *CancelFlag) sleep(ctx context.Context, d time.Duration) error {
	if err := f.check(ctx); err != nil {
		return err
	}
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-f.Done():
		case <-ctx.Done():
		}
	}
	return f.check(ctx)
}
