package execution

import (
	"context"

	"github.com/skalibog/fgiagent/internal/ledger"
	"github.com/skalibog/fgiagent/pkg/models"
)

// QuoteRequest запрос котировки у площадки, суммы в атомарных единицах
type QuoteRequest struct {
	InputMint      string
	OutputMint     string
	Amount         uint64
	SlippageBps    int
	PlatformFeeBps int
	SwapMode       models.SwapMode
	UserPublicKey  string
}

// RouteLeg один шаг маршрута свопа
type RouteLeg struct {
	Label      string
	InputMint  string
	OutputMint string
	InAmount   uint64
	OutAmount  uint64
}

// Quote котировка с неподписанной транзакцией
type Quote struct {
	InputMint           string
	OutputMint          string
	InAmount            uint64
	OutAmount           uint64
	SwapMode            models.SwapMode
	Route               []RouteLeg
	UnsignedTransaction []byte
}

// BundleStatus статус бандла у релея
type BundleStatus string

const (
	StatusLanded  BundleStatus = "Landed"
	StatusFailed  BundleStatus = "Failed"
	StatusUnknown BundleStatus = "unknown"
)

// Tip перевод за включение бандла
type Tip struct {
	Account  string
	Lamports uint64
}

// Quoter площадка котировок и сборки свопа
type Quoter interface {
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
}

// Builder подписывает своп и добавляет tip-транзакцию
type Builder interface {
	PublicKey() string
	BuildBundle(unsignedSwap []byte, tip Tip) ([][]byte, error)
}

// Relay релей атомарных бандлов
type Relay interface {
	SendBundle(ctx context.Context, txs [][]byte) (string, error)
	BundleStatus(ctx context.Context, bundleID string) (BundleStatus, error)
}

// FeeOracle рекомендуемый tip в лампортах
type FeeOracle interface {
	SuggestedTip(ctx context.Context) (uint64, error)
}

// Books леджеры, в которые сверяется исполнение
type Books interface {
	Lot(id string) (models.Lot, bool)
	Reconcile(fill ledger.Fill) (ledger.Outcome, error)
}

// ResultStatus итог исполнения намерения
type ResultStatus string

const (
	ResultLanded    ResultStatus = "landed"
	ResultFailed    ResultStatus = "failed"
	ResultCancelled ResultStatus = "cancelled"
	ResultSkipped   ResultStatus = "skipped"
)

// Result результат исполнения намерения
type Result struct {
	Status   ResultStatus
	Intent   models.Intent
	BundleID string
	Quote    *Quote
	Fill     *ledger.Fill
	Outcome  *ledger.Outcome
	// Completeness доля закрытого объема лота, только для закрытий
	Completeness float64
	TipLamports  uint64
	FeeBps       int
}
