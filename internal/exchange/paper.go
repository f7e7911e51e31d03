package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/skalibog/fgiagent/internal/config"
	"github.com/skalibog/fgiagent/internal/execution"
	"github.com/skalibog/fgiagent/internal/sizing"
	"github.com/skalibog/fgiagent/pkg/models"
)

// PaperVenue бумажная площадка: котирует по текущей цене с проскальзыванием,
// бандлы «приземляются» после заданного числа запросов статуса.
type PaperVenue struct {
	mu        sync.Mutex
	pair      config.PairConfig
	prices    PriceSource
	landAfter int
	bundles   map[string]int
}

// NewPaperVenue создает бумажную площадку
func NewPaperVenue(pair config.PairConfig, prices PriceSource, landAfterPolls int) *PaperVenue {
	if landAfterPolls < 1 {
		landAfterPolls = 1
	}
	return &PaperVenue{
		pair:      pair,
		prices:    prices,
		landAfter: landAfterPolls,
		bundles:   make(map[string]int),
	}
}

// Quote котирует своп по текущей цене. Проскальзывание и комиссия ухудшают вторую сторону.
func (p *PaperVenue) Quote(ctx context.Context, req execution.QuoteRequest) (*execution.Quote, error) {
	price, err := p.prices.Price(ctx)
	if err != nil {
		return nil, fmt.Errorf("paper: %w", err)
	}

	baseIn := req.InputMint == p.pair.Base.Mint
	inDec, outDec := p.pair.Quote.Decimals, p.pair.Base.Decimals
	if baseIn {
		inDec, outDec = p.pair.Base.Decimals, p.pair.Quote.Decimals
	}
	cost := req.SlippageBps/2 + req.PlatformFeeBps

	convert := func(v float64) float64 {
		if baseIn {
			return v * price
		}
		return v / price
	}

	var in, out uint64
	switch req.SwapMode {
	case models.ExactOut:
		want := sizing.FromAtomic(req.Amount, outDec)
		// вход считается обратным пересчетом с надбавкой
		need := want * price
		if baseIn {
			need = want / price
		}
		need /= sizing.ApplyBps(1, cost)
		in, out = sizing.ToAtomic(need, inDec), req.Amount
	default:
		got := sizing.ApplyBps(convert(sizing.FromAtomic(req.Amount, inDec)), cost)
		in, out = req.Amount, sizing.ToAtomic(got, outDec)
	}

	quote := &execution.Quote{
		InputMint:  req.InputMint,
		OutputMint: req.OutputMint,
		InAmount:   in,
		OutAmount:  out,
		SwapMode:   req.SwapMode,
		Route: []execution.RouteLeg{{
			Label:      "paper",
			InputMint:  req.InputMint,
			OutputMint: req.OutputMint,
			InAmount:   in,
			OutAmount:  out,
		}},
	}
	quote.UnsignedTransaction, err = json.Marshal(quote.Route[0])
	if err != nil {
		return nil, err
	}
	return quote, nil
}

// PublicKey адрес бумажного кошелька
func (p *PaperVenue) PublicKey() string { return "paper" }

// BuildBundle возвращает транзакцию без подписи
func (p *PaperVenue) BuildBundle(unsignedSwap []byte, _ execution.Tip) ([][]byte, error) {
	return [][]byte{unsignedSwap}, nil
}

// SendBundle регистрирует бандл
func (p *PaperVenue) SendBundle(_ context.Context, txs [][]byte) (string, error) {
	if len(txs) == 0 {
		return "", fmt.Errorf("paper: пустой бандл")
	}
	id := uuid.NewString()
	p.mu.Lock()
	p.bundles[id] = 0
	p.mu.Unlock()
	return id, nil
}

// BundleStatus возвращает Landed после landAfter запросов
func (p *PaperVenue) BundleStatus(_ context.Context, bundleID string) (execution.BundleStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	polls, ok := p.bundles[bundleID]
	if !ok {
		return execution.StatusUnknown, nil
	}
	polls++
	p.bundles[bundleID] = polls
	if polls >= p.landAfter {
		delete(p.bundles, bundleID)
		return execution.StatusLanded, nil
	}
	return execution.StatusUnknown, nil
}
