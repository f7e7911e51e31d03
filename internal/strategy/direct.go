package strategy

import (
	"github.com/skalibog/fgiagent/pkg/models"
)

// Direct действует на любое не нейтральное показание
type Direct struct{}

func (Direct) Name() string { return "direct" }

// Evaluate возвращает сигнал для каждой не нейтральной категории
func (Direct) Evaluate(state models.StrategyState, in Input) (*Signal, models.StrategyState) {
	dir, ok := directionFor(in.Sentiment)
	if !ok || in.Flagged {
		return nil, state
	}
	return &Signal{
		Direction: dir,
		Sentiment: in.Sentiment,
		Reason:    "показание " + string(in.Sentiment),
	}, state
}
