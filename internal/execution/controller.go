// Package execution исполняет торговое намерение на площадке:
// котировка, сборка и подпись бандла, отправка в релей, ожидание
// подтверждения и сверка с леджерами только после Landed.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/skalibog/fgiagent/internal/config"
	"github.com/skalibog/fgiagent/internal/ledger"
	"github.com/skalibog/fgiagent/internal/metrics"
	"github.com/skalibog/fgiagent/internal/sizing"
	"github.com/skalibog/fgiagent/pkg/logger"
	"github.com/skalibog/fgiagent/pkg/models"
	"go.uber.org/zap"
)

// Deps внешние зависимости контроллера
type Deps struct {
	Quoter      Quoter
	Builder     Builder
	Relay       Relay
	FeeOracle   FeeOracle
	Books       Books
	Cancel      *CancelFlag
	TipAccounts []string
}

// Controller контроллер исполнения намерений
type Controller struct {
	cfg         config.ExecutionConfig
	pair        config.PairConfig
	quoter      Quoter
	builder     Builder
	relay       Relay
	oracle      FeeOracle
	books       Books
	cancel      *CancelFlag
	backoff     *BackoffPolicy
	tipAccounts []string
	pick        func(n int) int
}

// NewController создает контроллер исполнения
func NewController(cfg config.ExecutionConfig, pair config.PairConfig, deps Deps) *Controller {
	cancel := deps.Cancel
	if cancel == nil {
		cancel = NewCancelFlag()
	}
	return &Controller{
		cfg:         cfg,
		pair:        pair,
		quoter:      deps.Quoter,
		builder:     deps.Builder,
		relay:       deps.Relay,
		oracle:      deps.FeeOracle,
		books:       deps.Books,
		cancel:      cancel,
		backoff:     NewBackoffPolicy(cfg.BackoffBase(), cfg.BackoffMax(), cfg.BackoffJitter),
		tipAccounts: deps.TipAccounts,
		pick:        rand.Intn,
	}
}

// CancelFlag возвращает общий флаг отмены
func (c *Controller) CancelFlag() *CancelFlag {
	return c.cancel
}

// Execute исполняет намерение по текущей цене.
// Леджеры меняются только при статусе Landed.
func (c *Controller) Execute(ctx context.Context, intent models.Intent, price float64) (*Result, error) {
	res := &Result{Intent: intent}
	if intent.IsNoop() {
		res.Status = ResultSkipped
		return res, nil
	}

	log := logger.GetLogger().With(
		zap.String("direction", string(intent.Direction)),
		zap.String("mode", string(intent.Mode)),
		zap.Float64("amount", intent.Amount),
		zap.String("closing_lot", intent.ClosingLotID))

	if err := c.cancel.check(ctx); err != nil {
		return c.interrupted(res, "quote", err)
	}

	req, lot, err := c.request(intent, price)
	if err != nil {
		res.Status = ResultFailed
		return res, err
	}
	res.FeeBps = req.PlatformFeeBps

	// 1. котировка
	quote, err := c.quote(ctx, req)
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			return c.cancelled(res, "quote")
		}
		res.Status = ResultFailed
		return res, err
	}
	res.Quote = quote
	log.Debug("Получена котировка",
		zap.Uint64("in_amount", quote.InAmount),
		zap.Uint64("out_amount", quote.OutAmount),
		zap.Int("route_legs", len(quote.Route)))

	// 2. сборка и подпись
	if err := c.cancel.check(ctx); err != nil {
		return c.interrupted(res, "sign", err)
	}
	tip := c.tip(ctx)
	res.TipLamports = tip.Lamports
	txs, err := c.builder.BuildBundle(quote.UnsignedTransaction, tip)
	if err != nil {
		res.Status = ResultFailed
		return res, &FatalVenueError{Stage: "sign", Err: err}
	}

	// 3. отправка
	bundleID, err := c.submit(ctx, txs)
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			return c.cancelled(res, "submit")
		}
		res.Status = ResultFailed
		return res, err
	}
	res.BundleID = bundleID
	log = log.With(zap.String("bundle_id", bundleID))
	log.Info("Бандл отправлен", zap.Uint64("tip_lamports", tip.Lamports))

	// 4. подтверждение
	if err := c.confirm(ctx, bundleID); err != nil {
		switch {
		case errors.Is(err, ErrCancelled):
			return c.cancelled(res, "confirm")
		case errors.Is(err, ErrBundleFailed):
			metrics.BundleOutcome("failed")
		case errors.Is(err, ErrConfirmTimeout), errors.Is(err, ErrDeadline):
			metrics.BundleOutcome("timeout")
		default:
			metrics.BundleOutcome("error")
		}
		res.Status = ResultFailed
		return res, err
	}
	metrics.BundleOutcome("landed")

	// 5. сверка
	fill, completeness := c.fill(intent, req, quote, price, lot)
	fill.Ref = bundleID
	res.Fill = &fill
	res.Completeness = completeness
	res.Status = ResultLanded

	if intent.IsClose() && !fill.Complete {
		log.Warn("Закрытие лота неполное",
			zap.Float64("completeness", completeness),
			zap.Float64("threshold", c.cfg.CloseCompleteness))
	}

	outcome, err := c.books.Reconcile(fill)
	if err != nil {
		log.Error("Ошибка сверки подтвержденного бандла", zap.Error(err))
		return res, fmt.Errorf("сверка бандла %s: %w", bundleID, err)
	}
	res.Outcome = &outcome

	log.Info("Исполнение подтверждено",
		zap.Float64("base", fill.BaseAmount),
		zap.Float64("quote", fill.QuoteAmount),
		zap.Float64("price", fill.Price),
		zap.String("fill_source", string(fill.Source)))
	return res, nil
}

// interrupted разделяет отмену и истекший срок контекста на точке проверки
func (c *Controller) interrupted(res *Result, stage string, err error) (*Result, error) {
	if errors.Is(err, ErrCancelled) {
		return c.cancelled(res, stage)
	}
	res.Status = ResultFailed
	return res, err
}

func (c *Controller) cancelled(res *Result, stage string) (*Result, error) {
	res.Status = ResultCancelled
	metrics.BundleOutcome("cancelled")
	logger.Info("Исполнение отменено", zap.String("stage", stage), zap.String("bundle_id", res.BundleID))
	return res, ErrCancelled
}

type side struct {
	mint     string
	decimals int32
}

func (c *Controller) sides(d models.Direction) (in, out side) {
	base := side{mint: c.pair.Base.Mint, decimals: c.pair.Base.Decimals}
	quote := side{mint: c.pair.Quote.Mint, decimals: c.pair.Quote.Decimals}
	if d == models.Buy {
		return quote, base
	}
	return base, quote
}

// request строит запрос котировки. Для закрытия добавляется комиссия с прибыли.
func (c *Controller) request(intent models.Intent, price float64) (QuoteRequest, *models.Lot, error) {
	in, out := c.sides(intent.Direction)
	decimals := in.decimals
	if intent.Mode == models.ExactOut {
		decimals = out.decimals
	}
	amount := sizing.ToAtomic(intent.Amount, decimals)
	if amount == 0 {
		return QuoteRequest{}, nil, fmt.Errorf("объем намерения меньше атомарной единицы: %v", intent.Amount)
	}

	req := QuoteRequest{
		InputMint:      in.mint,
		OutputMint:     out.mint,
		Amount:         amount,
		SlippageBps:    c.cfg.SlippageBps,
		PlatformFeeBps: c.cfg.PlatformFeeBps,
		SwapMode:       intent.Mode,
		UserPublicKey:  c.builder.PublicKey(),
	}

	if !intent.IsClose() {
		return req, nil, nil
	}

	lot, ok := c.books.Lot(intent.ClosingLotID)
	if !ok || !lot.IsOpen() {
		return QuoteRequest{}, nil, fmt.Errorf("лот %s не открыт", intent.ClosingLotID)
	}
	if sizing.Valid(price) && price > 0 {
		req.PlatformFeeBps += sizing.ProfitFeeBps(lot.PnLAt(price), lot.BaseAmount*price, c.cfg.ProfitFeePct, c.cfg.MaxProfitFeeBps)
	}
	return req, &lot, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (c *Controller) quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	attempts := max(c.cfg.QuoteAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.cancel.check(ctx); err != nil {
			return nil, err
		}

		callCtx, cancel := withTimeout(ctx, c.cfg.QuoteTimeout())
		q, err := c.quoter.Quote(callCtx, req)
		cancel()
		if err == nil {
			err = validateQuote(q, req)
		}
		if err == nil {
			return q, nil
		}
		lastErr = err

		logger.Warn("Ошибка получения котировки",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err))
		if attempt < attempts {
			metrics.Retry("quote")
			if err := c.cancel.sleep(ctx, c.cfg.QuoteRetryDelay()); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("котировка не получена за %d попыток: %w", attempts, lastErr)
}

func validateQuote(q *Quote, req QuoteRequest) error {
	if q == nil {
		return &MalformedQuoteError{Message: "пустой ответ"}
	}
	if len(q.UnsignedTransaction) == 0 {
		return &MalformedQuoteError{Message: "нет транзакции"}
	}
	if q.InputMint != "" && q.InputMint != req.InputMint {
		return &MalformedQuoteError{Message: "не тот входной актив " + q.InputMint}
	}
	if q.OutputMint != "" && q.OutputMint != req.OutputMint {
		return &MalformedQuoteError{Message: "не тот выходной актив " + q.OutputMint}
	}
	return nil
}

// tip запрашивает tip у оракула с ограничением сверху и статическим значением при ошибке
func (c *Controller) tip(ctx context.Context) Tip {
	lamports := c.cfg.TipStaticLamports
	if c.oracle != nil {
		callCtx, cancel := withTimeout(ctx, c.cfg.FeeOracleTimeout())
		v, err := c.oracle.SuggestedTip(callCtx)
		cancel()
		switch {
		case err != nil:
			logger.Warn("Оракул комиссии недоступен, используется статический tip", zap.Error(err))
		case v == 0:
			logger.Warn("Оракул вернул нулевой tip, используется статический")
		default:
			lamports = v
		}
	}
	if c.cfg.TipMaxLamports > 0 && lamports > c.cfg.TipMaxLamports {
		lamports = c.cfg.TipMaxLamports
	}

	tip := Tip{Lamports: lamports}
	if len(c.tipAccounts) > 0 {
		tip.Account = c.tipAccounts[c.pick(len(c.tipAccounts))]
	}
	return tip
}

func (c *Controller) submit(ctx context.Context, txs [][]byte) (string, error) {
	attempts := max(c.cfg.SubmitAttempts, 1)
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.cancel.check(ctx); err != nil {
			return "", err
		}

		callCtx, cancel := withTimeout(ctx, c.cfg.SubmitTimeout())
		id, err := c.relay.SendBundle(callCtx, txs)
		cancel()
		if err == nil && id == "" {
			err = errors.New("релей не вернул идентификатор бандла")
		}
		if err == nil {
			return id, nil
		}
		lastErr = err

		if !Retryable(err) {
			logger.Error("Релей отклонил бандл", zap.Int("attempt", attempt+1), zap.Error(err))
			return "", &FatalVenueError{Stage: "submit", Err: err}
		}
		if attempt == attempts-1 {
			break
		}

		delay := c.backoff.Delay(attempt)
		metrics.Retry("submit")
		logger.Warn("Повтор отправки бандла",
			zap.Int("attempt", attempt+1),
			zap.Bool("rate_limited", RateLimited(err)),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := c.cancel.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("бандл не отправлен за %d попыток: %w", attempts, lastErr)
}

func (c *Controller) confirm(ctx context.Context, bundleID string) error {
	attempts := max(c.cfg.ConfirmAttempts, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.cancel.check(ctx); err != nil {
			return err
		}

		callCtx, cancel := withTimeout(ctx, c.cfg.StatusTimeout())
		status, err := c.relay.BundleStatus(callCtx, bundleID)
		cancel()

		switch {
		case err != nil:
			if !Retryable(err) {
				return &FatalVenueError{Stage: "confirm", Err: err}
			}
			metrics.Retry("confirm")
			logger.Warn("Ошибка запроса статуса бандла", zap.String("bundle_id", bundleID), zap.Int("attempt", attempt), zap.Error(err))
		case status == StatusLanded:
			return nil
		case status == StatusFailed:
			return fmt.Errorf("%w: %s", ErrBundleFailed, bundleID)
		default:
			logger.Debug("Бандл еще не найден", zap.String("bundle_id", bundleID), zap.Int("attempt", attempt))
		}

		if attempt < attempts {
			if err := c.cancel.sleep(ctx, c.cfg.ConfirmInterval()); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: %s после %d запросов", ErrConfirmTimeout, bundleID, attempts)
}

// fill определяет фактические объемы: итоги котировки, затем сумма шагов маршрута,
// затем запрошенный объем с оценкой второй стороны по цене.
func (c *Controller) fill(intent models.Intent, req QuoteRequest, q *Quote, price float64, lot *models.Lot) (ledger.Fill, float64) {
	in, out := c.sides(intent.Direction)

	fill := ledger.Fill{
		Direction:    intent.Direction,
		ClosingLotID: intent.ClosingLotID,
		Complete:     true,
	}

	inAtomic, outAtomic := q.InAmount, q.OutAmount
	fill.Source = ledger.FillFromQuote
	if inAtomic == 0 || outAtomic == 0 {
		inAtomic, outAtomic = routeTotals(q.Route, req.InputMint, req.OutputMint)
		fill.Source = ledger.FillFromRoute
	}

	if inAtomic > 0 && outAtomic > 0 {
		inAmount := sizing.FromAtomic(inAtomic, in.decimals)
		outAmount := sizing.FromAtomic(outAtomic, out.decimals)
		if intent.Direction == models.Buy {
			fill.QuoteAmount, fill.BaseAmount = inAmount, outAmount
		} else {
			fill.BaseAmount, fill.QuoteAmount = inAmount, outAmount
		}
	} else {
		fill.Source = ledger.FillFromRequested
		if intent.AmountIsBase() {
			fill.BaseAmount = intent.Amount
			fill.QuoteAmount = intent.Amount * price
		} else {
			fill.QuoteAmount = intent.Amount
			if price > 0 {
				fill.BaseAmount = intent.Amount / price
			}
		}
		logger.Warn("Объемы исполнения оценены по запрошенной сумме",
			zap.Float64("base", fill.BaseAmount),
			zap.Float64("quote", fill.QuoteAmount))
	}

	fill.Price = price
	if fill.BaseAmount > 0 {
		fill.Price = fill.QuoteAmount / fill.BaseAmount
	}

	completeness := 0.0
	if lot != nil && lot.BaseAmount > 0 {
		completeness = fill.BaseAmount / lot.BaseAmount
		fill.Complete = completeness >= c.cfg.CloseCompleteness
	}
	return fill, completeness
}

// routeTotals суммирует входы шагов из входного актива и выходы шагов в выходной актив
func routeTotals(route []RouteLeg, inputMint, outputMint string) (in, out uint64) {
	for _, leg := range route {
		if leg.InputMint == inputMint {
			in += leg.InAmount
		}
		if leg.OutputMint == outputMint {
			out += leg.OutAmount
		}
	}
	return in, out
}
