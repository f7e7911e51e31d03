package exchange

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/skalibog/fgiagent/internal/execution"
	"github.com/skalibog/fgiagent/pkg/models"
)

// JupiterQuoter площадка котировок в формате Jupiter: /quote и /swap
type JupiterQuoter struct {
	baseURL string
	http    *http.Client
}

// NewJupiterQuoter создает клиент площадки котировок
func NewJupiterQuoter(baseURL string, timeout time.Duration) *JupiterQuoter {
	return &JupiterQuoter{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newHTTPClient(timeout),
	}
}

type jupiterQuote struct {
	InputMint  string `json:"inputMint"`
	InAmount   string `json:"inAmount"`
	OutputMint string `json:"outputMint"`
	OutAmount  string `json:"outAmount"`
	SwapMode   string `json:"swapMode"`
	RoutePlan  []struct {
		SwapInfo struct {
			Label      string `json:"label"`
			InputMint  string `json:"inputMint"`
			OutputMint string `json:"outputMint"`
			InAmount   string `json:"inAmount"`
			OutAmount  string `json:"outAmount"`
		} `json:"swapInfo"`
	} `json:"routePlan"`
}

type jupiterSwapRequest struct {
	QuoteResponse    json.RawMessage `json:"quoteResponse"`
	UserPublicKey    string          `json:"userPublicKey"`
	WrapAndUnwrapSol bool            `json:"wrapAndUnwrapSol"`
}

type jupiterSwapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// Quote получает котировку и неподписанную транзакцию свопа
func (q *JupiterQuoter) Quote(ctx context.Context, req execution.QuoteRequest) (*execution.Quote, error) {
	params := url.Values{}
	params.Set("inputMint", req.InputMint)
	params.Set("outputMint", req.OutputMint)
	params.Set("amount", strconv.FormatUint(req.Amount, 10))
	params.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	params.Set("swapMode", string(req.SwapMode))
	if req.PlatformFeeBps > 0 {
		params.Set("platformFeeBps", strconv.Itoa(req.PlatformFeeBps))
	}

	var raw json.RawMessage
	if err := doJSON(ctx, q.http, "quote", http.MethodGet, q.baseURL+"/quote?"+params.Encode(), nil, &raw); err != nil {
		return nil, err
	}

	var jq jupiterQuote
	if err := json.Unmarshal(raw, &jq); err != nil {
		return nil, &execution.MalformedQuoteError{Message: err.Error()}
	}

	quote := &execution.Quote{
		InputMint:  jq.InputMint,
		OutputMint: jq.OutputMint,
		InAmount:   parseAmount(jq.InAmount),
		OutAmount:  parseAmount(jq.OutAmount),
		SwapMode:   models.SwapMode(jq.SwapMode),
	}
	for _, step := range jq.RoutePlan {
		quote.Route = append(quote.Route, execution.RouteLeg{
			Label:      step.SwapInfo.Label,
			InputMint:  step.SwapInfo.InputMint,
			OutputMint: step.SwapInfo.OutputMint,
			InAmount:   parseAmount(step.SwapInfo.InAmount),
			OutAmount:  parseAmount(step.SwapInfo.OutAmount),
		})
	}

	var swap jupiterSwapResponse
	body := jupiterSwapRequest{QuoteResponse: raw, UserPublicKey: req.UserPublicKey, WrapAndUnwrapSol: true}
	if err := doJSON(ctx, q.http, "swap", http.MethodPost, q.baseURL+"/swap", body, &swap); err != nil {
		return nil, err
	}
	if swap.SwapTransaction == "" {
		return nil, &execution.MalformedQuoteError{Message: "пустая swapTransaction"}
	}
	tx, err := base64.StdEncoding.DecodeString(swap.SwapTransaction)
	if err != nil {
		return nil, &execution.MalformedQuoteError{Message: fmt.Sprintf("swapTransaction не base64: %v", err)}
	}
	quote.UnsignedTransaction = tx
	return quote, nil
}

// parseAmount разбирает атомарную сумму, некорректная строка дает ноль
func parseAmount(s string) uint64 {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
