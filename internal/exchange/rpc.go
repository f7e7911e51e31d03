package exchange

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/skalibog/fgiagent/internal/config"
	"github.com/skalibog/fgiagent/internal/sizing"
)

// NativeMint адрес wrapped SOL. Для него баланс берется с системного аккаунта кошелька.
const NativeMint = "So11111111111111111111111111111111111111112"

// BalanceSource подтвержденные балансы кошелька
type BalanceSource interface {
	Balances(ctx context.Context) (base, quote float64, err error)
}

// SolanaRPC клиент RPC-узла для запроса балансов
type SolanaRPC struct {
	url   string
	owner string
	pair  config.PairConfig
	http  *http.Client
	// ReserveLamports не учитывается в балансе SOL, остается на комиссии сети
	ReserveLamports uint64
}

// NewSolanaRPC создает клиент балансов для владельца
func NewSolanaRPC(url, owner string, pair config.PairConfig, timeout time.Duration) *SolanaRPC {
	return &SolanaRPC{
		url:             url,
		owner:           owner,
		pair:            pair,
		http:            newHTTPClient(timeout),
		ReserveLamports: 10_000_000,
	}
}

type balanceResult struct {
	Value uint64 `json:"value"`
}

type tokenAccountsResult struct {
	Value []struct {
		Account struct {
			Data struct {
				Parsed struct {
					Info struct {
						TokenAmount struct {
							Amount   string `json:"amount"`
							Decimals int32  `json:"decimals"`
						} `json:"tokenAmount"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"account"`
	} `json:"value"`
}

// Balances возвращает балансы base и quote в человеческих единицах
func (c *SolanaRPC) Balances(ctx context.Context) (float64, float64, error) {
	base, err := c.balance(ctx, c.pair.Base)
	if err != nil {
		return 0, 0, fmt.Errorf("баланс %s: %w", c.pair.Base.Symbol, err)
	}
	quote, err := c.balance(ctx, c.pair.Quote)
	if err != nil {
		return 0, 0, fmt.Errorf("баланс %s: %w", c.pair.Quote.Symbol, err)
	}
	return base, quote, nil
}

func (c *SolanaRPC) balance(ctx context.Context, asset config.AssetConfig) (float64, error) {
	if asset.Mint == NativeMint {
		var res balanceResult
		if err := callRPC(ctx, c.http, c.url, "getBalance", []any{c.owner, map[string]string{"commitment": "confirmed"}}, &res); err != nil {
			return 0, err
		}
		lamports := res.Value
		if lamports > c.ReserveLamports {
			lamports -= c.ReserveLamports
		} else {
			lamports = 0
		}
		return sizing.FromAtomic(lamports, 9), nil
	}

	var res tokenAccountsResult
	params := []any{
		c.owner,
		map[string]string{"mint": asset.Mint},
		map[string]string{"encoding": "jsonParsed", "commitment": "confirmed"},
	}
	if err := callRPC(ctx, c.http, c.url, "getTokenAccountsByOwner", params, &res); err != nil {
		return 0, err
	}

	var total float64
	for _, acc := range res.Value {
		amt := acc.Account.Data.Parsed.Info.TokenAmount
		total += sizing.FromAtomic(parseAmount(amt.Amount), amt.Decimals)
	}
	return total, nil
}
