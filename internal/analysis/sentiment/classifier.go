package sentiment

import (
	"math"
	"strconv"
	"strings"

	"github.com/skalibog/fgiagent/pkg/logger"
	"github.com/skalibog/fgiagent/pkg/models"
	"go.uber.org/zap"
)

const (
	minValue = 0.0
	maxValue = 100.0
)

// Result результат классификации показания
type Result struct {
	Sentiment models.Sentiment
	Value     float64
	// Flagged выставляется, если вход или границы некорректны и выдан NEUTRAL
	Flagged bool
	Reason  string
}

// Classifier переводит значение индекса в одну из пяти категорий
type Classifier struct {
	boundaries [4]float64
}

// NewClassifier создает классификатор с границами b1<b2<b3<b4.
// Некорректные границы не приводят к ошибке: каждая классификация вернет NEUTRAL.
func NewClassifier(boundaries [4]float64) *Classifier {
	return &Classifier{boundaries: boundaries}
}

// Boundaries возвращает текущие границы
func (c *Classifier) Boundaries() [4]float64 {
	return c.boundaries
}

// ValidBoundaries проверяет, что границы конечны и строго возрастают
func ValidBoundaries(b [4]float64) bool {
	for i, v := range b {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
		if i > 0 && !(b[i-1] < v) {
			return false
		}
	}
	return true
}

// Classify классифицирует значение. Никогда не паникует и не возвращает ошибку.
func (c *Classifier) Classify(value float64) Result {
	if !ValidBoundaries(c.boundaries) {
		return flag(value, "границы не возрастают строго")
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return flag(value, "значение не является числом")
	}
	if value < minValue || value > maxValue {
		return flag(value, "значение вне диапазона 0..100")
	}

	b := c.boundaries
	var s models.Sentiment
	switch {
	case value < b[0]:
		s = models.ExtremeFear
	case value < b[1]:
		s = models.Fear
	case value < b[2]:
		s = models.Neutral
	case value < b[3]:
		s = models.Greed
	default:
		s = models.ExtremeGreed
	}
	return Result{Sentiment: s, Value: value}
}

func flag(value float64, reason string) Result {
	logger.Warn("Некорректное показание индекса, используется NEUTRAL",
		zap.Float64("value", value),
		zap.String("reason", reason))
	return Result{Sentiment: models.Neutral, Value: value, Flagged: true, Reason: reason}
}

// ParseValue разбирает строковое значение индекса. Нечисловой вход дает NaN.
func ParseValue(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
