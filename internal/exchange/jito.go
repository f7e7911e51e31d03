package exchange

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/skalibog/fgiagent/internal/execution"
	"github.com/skalibog/fgiagent/internal/sizing"
	"github.com/skalibog/fgiagent/internal/solana"
)

// JitoRelay релей бандлов в формате Jito block engine
type JitoRelay struct {
	url  string
	http *http.Client
}

// NewJitoRelay создает клиент релея
func NewJitoRelay(url string, timeout time.Duration) *JitoRelay {
	return &JitoRelay{url: url, http: newHTTPClient(timeout)}
}

// SendBundle отправляет подписанные транзакции одним бандлом
func (r *JitoRelay) SendBundle(ctx context.Context, txs [][]byte) (string, error) {
	params := []any{solana.EncodeBase64(txs), map[string]string{"encoding": "base64"}}
	var id string
	if err := callRPC(ctx, r.http, r.url, "sendBundle", params, &id); err != nil {
		return "", err
	}
	return id, nil
}

type inflightStatuses struct {
	Value []struct {
		BundleID string `json:"bundle_id"`
		Status   string `json:"status"`
	} `json:"value"`
}

// BundleStatus возвращает статус бандла. Pending, Invalid и отсутствие записи
// означают, что бандл еще не найден.
func (r *JitoRelay) BundleStatus(ctx context.Context, bundleID string) (execution.BundleStatus, error) {
	var res inflightStatuses
	if err := callRPC(ctx, r.http, r.url, "getInflightBundleStatuses", []any{[]string{bundleID}}, &res); err != nil {
		return execution.StatusUnknown, err
	}
	for _, v := range res.Value {
		if v.BundleID != bundleID {
			continue
		}
		switch v.Status {
		case string(execution.StatusLanded):
			return execution.StatusLanded, nil
		case string(execution.StatusFailed):
			return execution.StatusFailed, nil
		}
	}
	return execution.StatusUnknown, nil
}

// TipFloorOracle рекомендуемый tip по медиане последних включенных бандлов
type TipFloorOracle struct {
	url  string
	http *http.Client
}

// NewTipFloorOracle создает оракул комиссии
func NewTipFloorOracle(url string, timeout time.Duration) *TipFloorOracle {
	return &TipFloorOracle{url: url, http: newHTTPClient(timeout)}
}

type tipFloor struct {
	P50 float64 `json:"landed_tips_50th_percentile"`
}

// SuggestedTip возвращает медианный tip в лампортах
func (o *TipFloorOracle) SuggestedTip(ctx context.Context) (uint64, error) {
	var floors []tipFloor
	if err := doJSON(ctx, o.http, "tip_floor", http.MethodGet, o.url, nil, &floors); err != nil {
		return 0, err
	}
	if len(floors) == 0 {
		return 0, fmt.Errorf("tip_floor: пустой ответ")
	}
	return sizing.SOLToLamports(floors[0].P50), nil
}
