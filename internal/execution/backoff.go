package execution

import (
	"math/rand"
	"time"

	"github.com/jpillora/backoff"
)

// BackoffPolicy задержка перед повтором: base*2^attempt с ограничением сверху и разбросом ±jitter
type BackoffPolicy struct {
	b      backoff.Backoff
	jitter float64
	rand   func() float64
}

// NewBackoffPolicy создает политику. jitter задается долей, например 0.25.
func NewBackoffPolicy(base, max time.Duration, jitter float64) *BackoffPolicy {
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return &BackoffPolicy{
		b:      backoff.Backoff{Min: base, Max: max, Factor: 2},
		jitter: jitter,
		rand:   rand.Float64,
	}
}

// Delay возвращает задержку для попытки с номером attempt, начиная с нуля
func (p *BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.b.ForAttempt(float64(attempt))
	if p.jitter == 0 {
		return d
	}
	f := 1 + p.jitter*(2*p.rand()-1)
	return time.Duration(float64(d) * f)
}
