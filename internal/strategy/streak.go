package strategy

import (
	"fmt"

	"github.com/skalibog/fgiagent/pkg/logger"
	"github.com/skalibog/fgiagent/pkg/models"
	"go.uber.org/zap"
)

// Streak торгует только после серии смежных показаний, завершившейся NEUTRAL
type Streak struct {
	threshold int
}

// NewStreak создает вариант с порогом длины серии
func NewStreak(threshold int) Streak {
	if threshold < 1 {
		threshold = 1
	}
	return Streak{threshold: threshold}
}

func (s Streak) Name() string { return "streak" }

// Adjacent проверяет правило смежности: то же показание или его пара на той же стороне
func Adjacent(last, next models.Sentiment) bool {
	if last == next {
		return true
	}
	return (last.IsFear() && next.IsFear()) || (last.IsGreed() && next.IsGreed())
}

// Evaluate продлевает, сбрасывает или расходует серию
func (s Streak) Evaluate(state models.StrategyState, in Input) (*Signal, models.StrategyState) {
	if in.Flagged {
		// некорректное показание не продлевает и не расходует серию
		logger.Debug("Показание отклонено, серия без изменений", zap.Int("length", state.Streak.Len()))
		return nil, state
	}
	streak := state.Streak
	streak.Threshold = s.threshold
	readings := append([]models.StreakReading(nil), streak.Readings...)

	if in.Sentiment == models.Neutral {
		if len(readings) >= s.threshold {
			signal := streakSignal(readings)
			logger.Info("Серия исчерпана, сделка",
				zap.Int("length", len(readings)),
				zap.String("direction", string(signal.Direction)))
			state.Streak = models.StreakState{Threshold: s.threshold}
			return signal, state
		}
		if len(readings) > 0 {
			logger.Debug("Серия прервана NEUTRAL до порога", zap.Int("length", len(readings)))
		}
		state.Streak = models.StreakState{Threshold: s.threshold}
		return nil, state
	}

	if !in.Sentiment.Valid() {
		state.Streak = models.StreakState{Threshold: s.threshold}
		return nil, state
	}

	reading := models.StreakReading{Sentiment: in.Sentiment, Value: in.Value}
	if last, ok := streak.Last(); ok && Adjacent(last.Sentiment, in.Sentiment) {
		readings = append(readings, reading)
	} else {
		readings = []models.StreakReading{reading}
	}

	state.Streak = models.StreakState{Readings: readings, Threshold: s.threshold}
	return nil, state
}

// streakSignal строит сигнал по исчерпанной серии.
// Серия страха покупает, серия жадности продает. Крайнее показание в серии дает крайний размер.
func streakSignal(readings []models.StreakReading) *Signal {
	first := readings[0].Sentiment
	category := models.Fear
	dir := models.Buy
	if first.IsGreed() {
		category = models.Greed
		dir = models.Sell
	}
	for _, r := range readings {
		if r.Sentiment.IsExtreme() {
			category = r.Sentiment
			break
		}
	}
	return &Signal{
		Direction: dir,
		Category:  category,
		Sentiment: models.Neutral,
		Reason:    fmt.Sprintf("серия %s длиной %d", first, len(readings)),
	}
}
