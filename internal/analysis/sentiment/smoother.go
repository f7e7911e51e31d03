package sentiment

import (
	"math"
	"sync"

	"github.com/markcheno/go-talib"
)

// Smoother сглаживает последовательность показаний экспоненциальной скользящей средней
type Smoother struct {
	mu      sync.Mutex
	period  int
	size    int
	history []float64
}

// NewSmoother создает сглаживатель. period <= 1 отключает сглаживание.
func NewSmoother(period, historySize int) *Smoother {
	if historySize < period {
		historySize = period
	}
	if historySize < 1 {
		historySize = 1
	}
	return &Smoother{period: period, size: historySize}
}

// Add добавляет показание и возвращает сглаженное значение.
// Нечисловые и выходящие за 0..100 показания не попадают в историю
// и возвращаются как есть, чтобы классификатор их пометил.
func (s *Smoother) Add(value float64) float64 {
	if !inRange(value) {
		return value
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, value)
	if len(s.history) > s.size {
		s.history = s.history[len(s.history)-s.size:]
	}

	if s.period <= 1 || len(s.history) < s.period {
		return value
	}

	ema := talib.Ema(s.history, s.period)
	return ema[len(ema)-1]
}

// History возвращает копию истории для сохранения в снимок
func (s *Smoother) History() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.history))
	copy(out, s.history)
	return out
}

// Restore восстанавливает историю из снимка
func (s *Smoother) Restore(history []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	for _, v := range history {
		if inRange(v) {
			s.history = append(s.history, v)
		}
	}
	if len(s.history) > s.size {
		s.history = s.history[len(s.history)-s.size:]
	}
}

func inRange(v float64) bool {
	return !math.IsNaN(v) && v >= minValue && v <= maxValue
}
