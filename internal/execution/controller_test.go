package execution

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/skalibog/fgiagent/internal/config"
	"github.com/skalibog/fgiagent/internal/ledger"
	"github.com/skalibog/fgiagent/pkg/models"
)

type fakeQuoter struct {
	mu    sync.Mutex
	calls int
	errs  []error
	reqs  []QuoteRequest
	quote func(req QuoteRequest) *Quote
}

func (f *fakeQuoter) Quote(_ context.Context, req QuoteRequest) (*Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.reqs = append(f.reqs, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.quote(req), nil
}

// atPrice котирует по цене 100 quote за base без проскальзывания
func atPrice(req QuoteRequest) *Quote {
	q := &Quote{InputMint: req.InputMint, OutputMint: req.OutputMint, SwapMode: req.SwapMode, UnsignedTransaction: []byte{1}}
	// 1e9 атомов base стоят 1e8 атомов quote
	baseIn := req.InputMint == "BASE"
	switch {
	case req.SwapMode == models.ExactIn && baseIn:
		q.InAmount, q.OutAmount = req.Amount, req.Amount/10
	case req.SwapMode == models.ExactIn:
		q.InAmount, q.OutAmount = req.Amount, req.Amount*10
	case baseIn:
		q.InAmount, q.OutAmount = req.Amount*10, req.Amount
	default:
		q.InAmount, q.OutAmount = req.Amount/10, req.Amount
	}
	return q
}

type fakeBuilder struct {
	tips []Tip
}

func (f *fakeBuilder) PublicKey() string { return "wallet" }

func (f *fakeBuilder) BuildBundle(unsigned []byte, tip Tip) ([][]byte, error) {
	f.tips = append(f.tips, tip)
	return [][]byte{unsigned, {2}}, nil
}

type fakeRelay struct {
	mu         sync.Mutex
	sendErrs   []error
	sends      int
	polls      int
	statuses   []BundleStatus
	onSend     func()
	pollErrors []error
}

func (f *fakeRelay) SendBundle(_ context.Context, _ [][]byte) (string, error) {
	f.mu.Lock()
	f.sends++
	var err error
	if len(f.sendErrs) > 0 {
		err = f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
	}
	onSend := f.onSend
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	if onSend != nil {
		onSend()
	}
	return "bundle-1", nil
}

func (f *fakeRelay) BundleStatus(_ context.Context, _ string) (BundleStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if len(f.pollErrors) > 0 {
		err := f.pollErrors[0]
		f.pollErrors = f.pollErrors[1:]
		if err != nil {
			return StatusUnknown, err
		}
	}
	if len(f.statuses) == 0 {
		return StatusUnknown, nil
	}
	s := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return s, nil
}

type fakeOracle struct {
	tip uint64
	err error
}

func (f fakeOracle) SuggestedTip(context.Context) (uint64, error) { return f.tip, f.err }

func testConfig() config.ExecutionConfig {
	return config.ExecutionConfig{
		SlippageBps:       50,
		ProfitFeePct:      10,
		MaxProfitFeeBps:   100,
		CloseCompleteness: 0.985,
		QuoteAttempts:     3,
		QuoteRetryDelayMs: 1,
		SubmitAttempts:    4,
		BackoffBaseMs:     1,
		BackoffMaxMs:      4,
		BackoffJitter:     0.25,
		ConfirmIntervalMs: 1,
		ConfirmAttempts:   5,
		TipStaticLamports: 10_000,
		TipMaxLamports:    50_000,
	}
}

func testPair() config.PairConfig {
	return config.PairConfig{
		Base:  config.AssetConfig{Symbol: "SOL", Mint: "BASE", Decimals: 9},
		Quote: config.AssetConfig{Symbol: "USDC", Mint: "QUOTE", Decimals: 6},
	}
}

type harness struct {
	ctrl    *Controller
	quoter  *fakeQuoter
	builder *fakeBuilder
	relay   *fakeRelay
	books   *ledger.Books
}

func newHarness(t *testing.T, relay *fakeRelay, oracle FeeOracle) *harness {
	t.Helper()
	pos := ledger.NewPosition(models.PositionState{})
	pos.Bootstrap(10, 1000, 100)
	books := ledger.NewBooks(ledger.NewLotBook(), pos)
	h := &harness{
		quoter:  &fakeQuoter{quote: atPrice},
		builder: &fakeBuilder{},
		relay:   relay,
		books:   books,
	}
	h.ctrl = NewController(testConfig(), testPair(), Deps{
		Quoter:      h.quoter,
		Builder:     h.builder,
		Relay:       relay,
		FeeOracle:   oracle,
		Books:       books,
		TipAccounts: []string{"tip1", "tip2"},
	})
	return h
}

func (h *harness) snapshot(t *testing.T) string {
	t.Helper()
	pos, lots := h.books.Snapshot()
	data, err := json.Marshal(models.Snapshot{Position: pos, Lots: lots})
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func buyIntent() models.Intent {
	return models.Intent{Direction: models.Buy, Mode: models.ExactIn, Amount: 100}
}

func TestExecuteLandedReconciles(t *testing.T) {
	h := newHarness(t, &fakeRelay{statuses: []BundleStatus{StatusUnknown, StatusLanded}}, fakeOracle{tip: 20_000})

	res, err := h.ctrl.Execute(context.Background(), buyIntent(), 100)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != ResultLanded || res.BundleID != "bundle-1" {
		t.Fatalf("result = %+v", res)
	}
	if res.Fill.Source != ledger.FillFromQuote || res.Fill.BaseAmount != 1 || res.Fill.QuoteAmount != 100 {
		t.Fatalf("fill = %+v", res.Fill)
	}
	if base, quote := h.books.Position.Balances(); base != 11 || quote != 900 {
		t.Fatalf("balances = %v/%v", base, quote)
	}
	open := h.books.Lots.OpenLots()
	if len(open) != 1 || open[0].ID != "bundle-1" || open[0].EntryPrice != 100 {
		t.Fatalf("open lots = %+v", open)
	}
	if h.relay.polls != 2 {
		t.Fatalf("polls = %d, want 2", h.relay.polls)
	}
	if res.TipLamports != 20_000 {
		t.Fatalf("tip = %d", res.TipLamports)
	}
	if got := h.quoter.reqs[0]; got.Amount != 100_000_000 || got.InputMint != "QUOTE" || got.UserPublicKey != "wallet" {
		t.Fatalf("quote request = %+v", got)
	}
}

func TestExecuteFailedLeavesBooksUnchanged(t *testing.T) {
	h := newHarness(t, &fakeRelay{statuses: []BundleStatus{StatusUnknown, StatusFailed}}, nil)
	before := h.snapshot(t)

	res, err := h.ctrl.Execute(context.Background(), buyIntent(), 100)
	if !errors.Is(err, ErrBundleFailed) {
		t.Fatalf("err = %v, want ErrBundleFailed", err)
	}
	if res.Status != ResultFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if after := h.snapshot(t); after != before {
		t.Fatalf("books changed:\n%s\n%s", before, after)
	}
}

func TestExecuteConfirmTimeoutLeavesBooksUnchanged(t *testing.T) {
	h := newHarness(t, &fakeRelay{}, nil)
	before := h.snapshot(t)

	_, err := h.ctrl.Execute(context.Background(), buyIntent(), 100)
	if !errors.Is(err, ErrConfirmTimeout) {
		t.Fatalf("err = %v, want ErrConfirmTimeout", err)
	}
	if h.relay.polls != testConfig().ConfirmAttempts {
		t.Fatalf("polls = %d", h.relay.polls)
	}
	if after := h.snapshot(t); after != before {
		t.Fatal("books changed after timeout")
	}
}

func TestCancelBetweenSubmitAndFirstPoll(t *testing.T) {
	relay := &fakeRelay{statuses: []BundleStatus{StatusLanded}}
	h := newHarness(t, relay, nil)
	relay.onSend = h.ctrl.CancelFlag().Cancel
	before := h.snapshot(t)

	res, err := h.ctrl.Execute(context.Background(), buyIntent(), 100)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if res.Status != ResultCancelled {
		t.Fatalf("status = %s", res.Status)
	}
	if relay.polls != 0 {
		t.Fatalf("polled %d times after cancel", relay.polls)
	}
	if after := h.snapshot(t); after != before {
		t.Fatal("books changed after cancel")
	}

	// после сброса тот же контроллер снова исполняет
	h.ctrl.CancelFlag().Reset()
	relay.onSend = nil
	if _, err := h.ctrl.Execute(context.Background(), buyIntent(), 100); err != nil {
		t.Fatalf("Execute after reset: %v", err)
	}
}

func TestCancelledContextStopsBeforeQuote(t *testing.T) {
	h := newHarness(t, &fakeRelay{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.ctrl.Execute(ctx, buyIntent(), 100); !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v", err)
	}
	if h.quoter.calls != 0 {
		t.Fatalf("quoter called %d times", h.quoter.calls)
	}
}

func TestDeadlineDuringConfirmIsFailure(t *testing.T) {
	h := newHarness(t, &fakeRelay{}, nil)
	cfg := testConfig()
	cfg.ConfirmIntervalMs = 20
	cfg.ConfirmAttempts = 1000
	h.ctrl.cfg = cfg
	before := h.snapshot(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := h.ctrl.Execute(ctx, buyIntent(), 100)
	if errors.Is(err, ErrCancelled) {
		t.Fatalf("deadline reported as cancel: %v", err)
	}
	if !errors.Is(err, ErrDeadline) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want ErrDeadline", err)
	}
	if res.Status != ResultFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if after := h.snapshot(t); after != before {
		t.Fatal("books changed after deadline")
	}
}

func TestExpiredContextBeforeQuoteIsFailure(t *testing.T) {
	h := newHarness(t, &fakeRelay{}, nil)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	res, err := h.ctrl.Execute(ctx, buyIntent(), 100)
	if !errors.Is(err, ErrDeadline) || res.Status != ResultFailed {
		t.Fatalf("status = %s, err = %v", res.Status, err)
	}
	if h.quoter.calls != 0 {
		t.Fatalf("quoter called %d times", h.quoter.calls)
	}
}

func TestQuoteRetries(t *testing.T) {
	h := newHarness(t, &fakeRelay{statuses: []BundleStatus{StatusLanded}}, nil)
	h.quoter.errs = []error{&HTTPError{StatusCode: 500}, &MalformedQuoteError{Message: "x"}}

	if _, err := h.ctrl.Execute(context.Background(), buyIntent(), 100); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if h.quoter.calls != 3 {
		t.Fatalf("quote calls = %d, want 3", h.quoter.calls)
	}
}

func TestQuoteExhaustionFailsWithoutMutation(t *testing.T) {
	h := newHarness(t, &fakeRelay{statuses: []BundleStatus{StatusLanded}}, nil)
	h.quoter.errs = []error{&HTTPError{StatusCode: 502}, &HTTPError{StatusCode: 502}, &HTTPError{StatusCode: 502}}
	before := h.snapshot(t)

	res, err := h.ctrl.Execute(context.Background(), buyIntent(), 100)
	if err == nil || res.Status != ResultFailed {
		t.Fatalf("expected failure, got %v %+v", err, res)
	}
	if h.quoter.calls != 3 || h.relay.sends != 0 {
		t.Fatalf("quote calls=%d sends=%d", h.quoter.calls, h.relay.sends)
	}
	if h.snapshot(t) != before {
		t.Fatal("books changed")
	}
}

func TestSubmitRetriesOn429(t *testing.T) {
	relay := &fakeRelay{
		sendErrs: []error{&HTTPError{StatusCode: 429}, &HTTPError{StatusCode: 429}},
		statuses: []BundleStatus{StatusLanded},
	}
	h := newHarness(t, relay, nil)
	if _, err := h.ctrl.Execute(context.Background(), buyIntent(), 100); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if relay.sends != 3 {
		t.Fatalf("sends = %d, want 3", relay.sends)
	}
}

func TestSubmitFatal400NotRetried(t *testing.T) {
	relay := &fakeRelay{sendErrs: []error{&HTTPError{StatusCode: 400, Body: "bundle contains insufficient funds"}}}
	h := newHarness(t, relay, nil)

	_, err := h.ctrl.Execute(context.Background(), buyIntent(), 100)
	var fatal *FatalVenueError
	if !errors.As(err, &fatal) {
		t.Fatalf("err = %v, want FatalVenueError", err)
	}
	if relay.sends != 1 {
		t.Fatalf("sends = %d, want 1", relay.sends)
	}
}

func TestSubmitTransient400Retried(t *testing.T) {
	relay := &fakeRelay{
		sendErrs: []error{&HTTPError{StatusCode: 400, Body: "network congested, try again"}},
		statuses: []BundleStatus{StatusLanded},
	}
	h := newHarness(t, relay, nil)
	if _, err := h.ctrl.Execute(context.Background(), buyIntent(), 100); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if relay.sends != 2 {
		t.Fatalf("sends = %d, want 2", relay.sends)
	}
}

func TestTipFallbackAndCap(t *testing.T) {
	h := newHarness(t, &fakeRelay{statuses: []BundleStatus{StatusLanded}}, fakeOracle{err: errors.New("down")})
	res, _ := h.ctrl.Execute(context.Background(), buyIntent(), 100)
	if res.TipLamports != 10_000 {
		t.Fatalf("fallback tip = %d", res.TipLamports)
	}

	h = newHarness(t, &fakeRelay{statuses: []BundleStatus{StatusLanded}}, fakeOracle{tip: 1_000_000})
	res, _ = h.ctrl.Execute(context.Background(), buyIntent(), 100)
	if res.TipLamports != 50_000 {
		t.Fatalf("capped tip = %d", res.TipLamports)
	}
	if acc := h.builder.tips[0].Account; acc != "tip1" && acc != "tip2" {
		t.Fatalf("tip account = %q", acc)
	}
}

func TestCloseAddsProfitFee(t *testing.T) {
	h := newHarness(t, &fakeRelay{statuses: []BundleStatus{StatusLanded}}, nil)
	h.books.Reconcile(ledger.Fill{Ref: "long", Direction: models.Buy, BaseAmount: 1, QuoteAmount: 80, Price: 80})

	intent := models.Intent{Direction: models.Sell, Mode: models.ExactIn, Amount: 1, ClosingLotID: "long"}
	res, err := h.ctrl.Execute(context.Background(), intent, 100)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// прибыль 20 с объема 100, 10% = 2 = 200 bps, ограничено 100
	if res.FeeBps != 100 || h.quoter.reqs[0].PlatformFeeBps != 100 {
		t.Fatalf("fee bps = %d", res.FeeBps)
	}
	if !res.Outcome.Closed || res.Outcome.Partial || res.Outcome.RealizedPnL != 20 {
		t.Fatalf("outcome = %+v", res.Outcome)
	}
}

func TestPartialCloseIsReconciled(t *testing.T) {
	h := newHarness(t, &fakeRelay{statuses: []BundleStatus{StatusLanded}}, nil)
	h.books.Reconcile(ledger.Fill{Ref: "short", Direction: models.Sell, BaseAmount: 1, QuoteAmount: 100, Price: 100})
	h.quoter.quote = func(req QuoteRequest) *Quote {
		q := atPrice(req)
		q.OutAmount = q.OutAmount * 9 / 10
		return q
	}

	intent := models.Intent{Direction: models.Buy, Mode: models.ExactOut, Amount: 1, ClosingLotID: "short"}
	res, err := h.ctrl.Execute(context.Background(), intent, 100)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if math.Abs(res.Completeness-0.9) > 1e-9 || res.Fill.Complete {
		t.Fatalf("completeness = %v complete=%v", res.Completeness, res.Fill.Complete)
	}
	if !res.Outcome.Partial || res.Outcome.Remainder == nil {
		t.Fatalf("outcome = %+v", res.Outcome)
	}
	open := h.books.Lots.OpenLots()
	if len(open) != 1 || open[0].ParentID != "short" || math.Abs(open[0].BaseAmount-0.1) > 1e-9 {
		t.Fatalf("open lots = %+v", open)
	}
}

func TestFillFallbacks(t *testing.T) {
	h := newHarness(t, &fakeRelay{statuses: []BundleStatus{StatusLanded}}, nil)
	h.quoter.quote = func(req QuoteRequest) *Quote {
		return &Quote{
			UnsignedTransaction: []byte{1},
			Route: []RouteLeg{
				{InputMint: "QUOTE", OutputMint: "MID", InAmount: 60_000_000, OutAmount: 7},
				{InputMint: "QUOTE", OutputMint: "BASE", InAmount: 40_000_000, OutAmount: 400_000_000},
				{InputMint: "MID", OutputMint: "BASE", InAmount: 7, OutAmount: 600_000_000},
			},
		}
	}
	res, err := h.ctrl.Execute(context.Background(), buyIntent(), 100)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fill.Source != ledger.FillFromRoute || res.Fill.BaseAmount != 1 || res.Fill.QuoteAmount != 100 {
		t.Fatalf("route fill = %+v", res.Fill)
	}

	h = newHarness(t, &fakeRelay{statuses: []BundleStatus{StatusLanded}}, nil)
	h.quoter.quote = func(QuoteRequest) *Quote { return &Quote{UnsignedTransaction: []byte{1}} }
	res, err = h.ctrl.Execute(context.Background(), buyIntent(), 125)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fill.Source != ledger.FillFromRequested || res.Fill.QuoteAmount != 100 || res.Fill.BaseAmount != 0.8 {
		t.Fatalf("requested fill = %+v", res.Fill)
	}
}

func TestNoopIntentSkipped(t *testing.T) {
	h := newHarness(t, &fakeRelay{}, nil)
	res, err := h.ctrl.Execute(context.Background(), models.Noop("x"), 100)
	if err != nil || res.Status != ResultSkipped || h.quoter.calls != 0 {
		t.Fatalf("res=%+v err=%v calls=%d", res, err, h.quoter.calls)
	}
}

func TestClosingMissingLotFails(t *testing.T) {
	h := newHarness(t, &fakeRelay{}, nil)
	intent := models.Intent{Direction: models.Sell, Mode: models.ExactIn, Amount: 1, ClosingLotID: "ghost"}
	if _, err := h.ctrl.Execute(context.Background(), intent, 100); err == nil {
		t.Fatal("expected error for missing lot")
	}
	if h.quoter.calls != 0 {
		t.Fatal("quoted a close for a missing lot")
	}
}
