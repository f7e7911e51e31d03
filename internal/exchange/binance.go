package exchange

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/skalibog/fgiagent/internal/config"
)

// PriceSource источник текущей цены пары
type PriceSource interface {
	Price(ctx context.Context) (float64, error)
}

// BinancePriceSource спотовая цена пары с Binance
type BinancePriceSource struct {
	spot   *binance.Client
	symbol string
}

// NewBinancePriceSource создает источник цены Binance
func NewBinancePriceSource(cfg config.PriceConfig) *BinancePriceSource {
	spot := binance.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		spot.BaseURL = cfg.BaseURL
	}
	spot.HTTPClient = newHTTPClient(cfg.Timeout())

	return &BinancePriceSource{
		spot:   spot,
		symbol: cfg.Symbol,
	}
}

// Price получает последнюю цену символа
func (c *BinancePriceSource) Price(ctx context.Context) (float64, error) {
	prices, err := c.spot.NewListPricesService().
		Symbol(c.symbol).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения цены: %w", err)
	}

	for _, p := range prices {
		if p.Symbol != c.symbol {
			continue
		}
		v, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			return 0, fmt.Errorf("ошибка разбора цены %q: %w", p.Price, err)
		}
		if v <= 0 {
			return 0, fmt.Errorf("некорректная цена %s: %v", c.symbol, v)
		}
		return v, nil
	}
	return 0, fmt.Errorf("не найдена цена для %s", c.symbol)
}

// StaticPrice фиксированная цена для бумажной торговли без сети
type StaticPrice float64

// Price возвращает фиксированную цену
func (p StaticPrice) Price(context.Context) (float64, error) {
	if p <= 0 {
		return 0, fmt.Errorf("статическая цена не задана")
	}
	return float64(p), nil
}
