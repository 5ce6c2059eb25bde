package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticksTotal       *prometheus.CounterVec
	signalsTotal     *prometheus.CounterVec
	vetoesTotal      *prometheus.CounterVec
	tradesTotal      *prometheus.CounterVec
	sessionProfit    *prometheus.GaugeVec
	breakerState     prometheus.Gauge
	openPositions    prometheus.Gauge
	streamReconnects prometheus.Counter
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		ticksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digitpilot_ticks_received_total",
				Help: "Ticks accepted into the digit windows",
			},
			[]string{"market"},
		),
		signalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digitpilot_signals_total",
				Help: "Signal candidates issued by the scheduler",
			},
			[]string{"market", "side"},
		),
		vetoesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digitpilot_vetoes_total",
				Help: "Signals refused before placement",
			},
			[]string{"stage"},
		),
		tradesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digitpilot_trades_total",
				Help: "Contracts by terminal result",
			},
			[]string{"market", "result"},
		),
		sessionProfit: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "digitpilot_session_profit",
				Help: "Realized profit per session",
			},
			[]string{"session_id"},
		),
		breakerState: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "digitpilot_breaker_state",
				Help: "Circuit breaker state: 0 closed, 1 half open, 2 open",
			},
		),
		openPositions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "digitpilot_open_positions",
				Help: "Contracts currently open at the venue",
			},
		),
		streamReconnects: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "digitpilot_stream_reconnects_total",
				Help: "Tick stream reconnect attempts",
			},
		),
	}
}

func (r *Recorder) RecordTick(market string) {
	r.ticksTotal.WithLabelValues(market).Inc()
}

func (r *Recorder) RecordSignal(market, side string) {
	r.signalsTotal.WithLabelValues(market, side).Inc()
}

// RecordVeto labels by stage only; the free-form reason stays in the logs
// so the label space stays bounded.
func (r *Recorder) RecordVeto(stage, reason string) {
	_ = reason
	r.vetoesTotal.WithLabelValues(stage).Inc()
}

func (r *Recorder) RecordTrade(market, result string) {
	r.tradesTotal.WithLabelValues(market, result).Inc()
}

func (r *Recorder) RecordProfit(sessionID string, amount float64) {
	r.sessionProfit.WithLabelValues(sessionID).Set(amount)
}

func (r *Recorder) SetBreakerState(state string) {
	var v float64
	switch state {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	r.breakerState.Set(v)
}

func (r *Recorder) SetOpenPositions(n int) {
	r.openPositions.Set(float64(n))
}

func (r *Recorder) RecordStreamReconnect() {
	r.streamReconnects.Inc()
}
