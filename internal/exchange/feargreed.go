package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/skalibog/fgiagent/internal/analysis/sentiment"
	"github.com/skalibog/fgiagent/internal/config"
	"github.com/skalibog/fgiagent/pkg/models"
)

// SignalSource источник показаний индекса
type SignalSource interface {
	Reading(ctx context.Context) (models.SignalReading, error)
}

// FearGreedClient клиент индекса страха и жадности
type FearGreedClient struct {
	url  string
	http *http.Client
}

type fearGreedResponse struct {
	Data []struct {
		Value          string `json:"value"`
		Classification string `json:"value_classification"`
		Timestamp      string `json:"timestamp"`
	} `json:"data"`
}

// NewFearGreedClient создает клиент индекса
func NewFearGreedClient(cfg config.SignalConfig) *FearGreedClient {
	return &FearGreedClient{url: cfg.URL, http: newHTTPClient(cfg.Timeout())}
}

// Reading получает текущее показание. Нечисловое значение возвращается как NaN,
// классификатор сам пометит его и выдаст NEUTRAL.
func (c *FearGreedClient) Reading(ctx context.Context) (models.SignalReading, error) {
	var resp fearGreedResponse
	if err := doJSON(ctx, c.http, "fear_greed", http.MethodGet, c.url, nil, &resp); err != nil {
		return models.SignalReading{}, err
	}
	if len(resp.Data) == 0 {
		return models.SignalReading{}, fmt.Errorf("fear_greed: пустой ответ")
	}

	d := resp.Data[0]
	reading := models.SignalReading{
		Value:     sentiment.ParseValue(d.Value),
		Raw:       d.Value,
		Timestamp: time.Now(),
	}
	if sec, err := strconv.ParseInt(d.Timestamp, 10, 64); err == nil && sec > 0 {
		reading.Timestamp = time.Unix(sec, 0)
	}
	return reading, nil
}
