// Package telemetry defines the engine's observability sink: the set of
// diagnostic events the scheduler, state, and monitor can emit, and the
// concrete sinks (Prometheus gauges and histograms, a lossy channel for UI/debug
// consumers, or the null sink) that consume them (SPEC_FULL.md §6,
// "options").
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// ErrFull marks a Datum dropped because a sink's buffer was saturated
// (spec.md §7, "TelemetryFull"). Emit never returns it directly — the
// contract is fire-and-forget — but LossyChannelSink logs it once per
// drop so the condition is at least observable.
var ErrFull = xerrors.New("telemetry: sink buffer full, datum dropped")

// Datum is the sum type of everything the engine can report. Each
// concrete type below corresponds to one of the run options named in
// spec.md §6: local_state_trace, reactor_timing, transition_timing,
// pseudo_state, and memory_sample_period_seconds.
type Datum interface{ isDatum() }

// LocalStateDatum is one cluster's marking sample (local_state_trace).
type LocalStateDatum struct {
	Cluster string
	Count   map[string]int // place -> total tokens across all TypeTags
}

// FiringDatum reports one completed firing's latency (reactor_timing).
type FiringDatum struct {
	Cluster  string
	Duration float64 // seconds
}

// TransitionCallDatum reports one transition Call's latency
// (transition_timing).
type TransitionCallDatum struct {
	Transition string
	Case       string
	Duration   float64 // seconds
}

// PseudoStateDatum is the monitor's global marking sample (pseudo_state).
type PseudoStateDatum struct {
	Count map[string]int // place -> total tokens across all TypeTags
}

// MemorySampleDatum is an RSS-like figure taken periodically when
// memory_sample_period_seconds is set.
type MemorySampleDatum struct {
	RSSBytes uint64
}

func (LocalStateDatum) isDatum()     {}
func (FiringDatum) isDatum()         {}
func (TransitionCallDatum) isDatum() {}
func (PseudoStateDatum) isDatum()    {}
func (MemorySampleDatum) isDatum()   {}

// Sink receives Datums from anywhere in the engine. Implementations must
// not block the caller for long: a slow or full sink should drop data
// rather than stall a firing or the monitor.
type Sink interface {
	Emit(Datum)
}

// Discard is the null Sink, used when no options request telemetry.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Emit(Datum) {}

// MultiSink fans one Datum out to every member sink.
type MultiSink []Sink

func (m MultiSink) Emit(d Datum) {
	for _, s := range m {
		s.Emit(d)
	}
}

// LossyChannelSink is a bounded channel of Datums for a debug consumer
// (e.g. a test harness); a full channel drops the Datum rather than
// blocking the engine.
type LossyChannelSink struct {
	ch  chan Datum
	log *logrus.Entry
}

// NewLossyChannelSink allocates a LossyChannelSink with the given buffer
// capacity.
func NewLossyChannelSink(capacity int) *LossyChannelSink {
	return &LossyChannelSink{
		ch:  make(chan Datum, capacity),
		log: logrus.WithField("component", "telemetry"),
	}
}

// C exposes the underlying channel for a consumer to range over.
func (l *LossyChannelSink) C() <-chan Datum { return l.ch }

func (l *LossyChannelSink) Emit(d Datum) {
	select {
	case l.ch <- d:
	default:
		l.log.Warn(ErrFull.Error())
	}
}

// PrometheusSink reports Datums as Prometheus metrics, registered with
// promauto against prometheus.DefaultRegisterer.
type PrometheusSink struct {
	localState     *prometheus.GaugeVec
	firingLatency  prometheus.Histogram
	callLatency    *prometheus.HistogramVec
	pseudoState    *prometheus.GaugeVec
	memorySampleGa prometheus.Gauge
}

// NewPrometheusSink registers the engine's metric families under the
// ntpnet_ namespace.
func NewPrometheusSink() *PrometheusSink {
	return &PrometheusSink{
		localState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ntpnet_local_state_tokens",
			Help: "Per-cluster, per-place token count sample.",
		}, []string{"cluster", "place"}),
		firingLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "ntpnet_firing_duration_seconds",
			Help: "Latency of one completed transition firing.",
		}),
		callLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name: "ntpnet_transition_call_duration_seconds",
			Help: "Latency of one Transition.Call invocation.",
		}, []string{"transition", "case"}),
		pseudoState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ntpnet_pseudo_state_tokens",
			Help: "Monitor's global, eventually-consistent per-place token count.",
		}, []string{"place"}),
		memorySampleGa: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ntpnet_rss_bytes",
			Help: "Most recent RSS-like memory sample.",
		}),
	}
}

func (p *PrometheusSink) Emit(d Datum) {
	switch v := d.(type) {
	case LocalStateDatum:
		for place, count := range v.Count {
			p.localState.WithLabelValues(v.Cluster, place).Set(float64(count))
		}
	case FiringDatum:
		p.firingLatency.Observe(v.Duration)
	case TransitionCallDatum:
		p.callLatency.WithLabelValues(v.Transition, v.Case).Observe(v.Duration)
	case PseudoStateDatum:
		for place, count := range v.Count {
			p.pseudoState.WithLabelValues(place).Set(float64(count))
		}
	case MemorySampleDatum:
		p.memorySampleGa.Set(float64(v.RSSBytes))
	}
}
