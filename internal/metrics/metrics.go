// Package metrics метрики Prometheus агента.
//
//	fgi_cycles_total{result}              циклы по результату (traded, noop, failed, cancelled)
//	fgi_trades_total{direction,kind}      подтвержденные сделки (open, close, partial)
//	fgi_execution_retries_total{stage}    повторы на этапах quote, submit, confirm
//	fgi_bundle_outcomes_total{outcome}    исходы бандлов (landed, failed, timeout, cancelled)
//	fgi_portfolio_value_quote             стоимость портфеля в quote
//	fgi_sentiment_value                   последнее значение индекса
//	fgi_open_lots                         число открытых лотов
//
// Метрики регистрируются в init и отдаются через promhttp на /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fgi_cycles_total",
			Help: "Trading cycles by result",
		},
		[]string{"result"},
	)

	trades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fgi_trades_total",
			Help: "Confirmed trades by direction and kind",
		},
		[]string{"direction", "kind"},
	)

	retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fgi_execution_retries_total",
			Help: "Execution retries by stage",
		},
		[]string{"stage"},
	)

	bundles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fgi_bundle_outcomes_total",
			Help: "Submitted bundle outcomes",
		},
		[]string{"outcome"},
	)

	portfolioValue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fgi_portfolio_value_quote",
			Help: "Portfolio value in quote units",
		},
	)

	sentimentValue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fgi_sentiment_value",
			Help: "Last sentiment index reading",
		},
	)

	openLots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fgi_open_lots",
			Help: "Number of open lots",
		},
	)
)

func init() {
	prometheus.MustRegister(cycles, trades, retries, bundles, portfolioValue, sentimentValue, openLots)
}

func Cycle(result string) { cycles.WithLabelValues(result).Inc() }

func Trade(direction, kind string) { trades.WithLabelValues(direction, kind).Inc() }

func Retry(stage string) { retries.WithLabelValues(stage).Inc() }

func BundleOutcome(outcome string) { bundles.WithLabelValues(outcome).Inc() }

func SetPortfolioValue(v float64) { portfolioValue.Set(v) }

func SetSentiment(v float64) { sentimentValue.Set(v) }

func SetOpenLots(n int) { openLots.Set(float64(n)) }

// Handler возвращает mux с /metrics и /healthz
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
