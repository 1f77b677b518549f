package ntpnet

import (
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"github.com/MarshallRawson/ntpnet/telemetry"
)

// clusterDeath is reported by a WorkCluster's goroutine when it exits on
// a fatal, non-deadlock error (SPEC_FULL.md §7, MalformedProduct and
// friends). It makes the monitor skip straight to broadcasting
// termination instead of waiting for quiescence.
type clusterDeath struct {
	cluster string
	err     error
}

// Monitor is the process-global thread that maintains the union of all
// per-cluster markings as a pseudo-state, detects deadlock, and
// broadcasts termination (spec.md §4.5, "Global monitor").
type Monitor struct {
	log         *logrus.Entry
	clock       clock.Clock
	sink        telemetry.Sink
	pseudoState bool

	globalTypeNames map[PlaceTag]string
	globalCount     map[PlaceTag]int
	globalNonempty  map[PlaceTag]bool

	signatures []map[PlaceTag]bool

	terminate chan struct{}
}

// NewMonitor builds a Monitor whose pseudo-state starts at initial — the
// union of every cluster's start marking, i.e. the original net's
// marking before Partition split and cloned it. emitPseudoState gates
// whether pseudo-state samples are emitted to sink at all (spec.md §6,
// the pseudo_state option).
func NewMonitor(initial map[string]*marking, clk clock.Clock, sink telemetry.Sink, emitPseudoState bool) *Monitor {
	if clk == nil {
		clk = clock.WallClock
	}
	if sink == nil {
		sink = telemetry.Discard
	}
	m := &Monitor{
		log:             logrus.WithField("component", "monitor"),
		clock:           clk,
		sink:            sink,
		pseudoState:     emitPseudoState,
		globalTypeNames: make(map[PlaceTag]string),
		globalCount:     make(map[PlaceTag]int),
		globalNonempty:  make(map[PlaceTag]bool),
		terminate:       make(chan struct{}),
	}
	for place, mk := range initial {
		for tag, q := range mk.byTag {
			if len(q) == 0 {
				continue
			}
			k := PlaceTag{Place: place, Tag: tag}
			m.globalCount[k] = len(q)
			m.globalTypeNames[k] = q[0].TypeName()
			m.globalNonempty[k] = true
		}
	}
	return m
}

// Terminate is the channel every WorkCluster selects on to learn it must
// shut down; the monitor closes it exactly once.
func (m *Monitor) Terminate() <-chan struct{} { return m.terminate }

func (m *Monitor) broadcastTerminate(reason string) {
	m.log.WithField("reason", reason).Info("monitor broadcasting termination")
	close(m.terminate)
}

// apply folds one cluster's StateDelta into the global pseudo-state.
// Subtractions are applied before additions, matching spec.md §4.5's
// remark that the monitor's view may transiently lag but never
// over-counts in a way that would mask a still-possible firing. A count
// may dip below zero when a consumer's delta arrives before the
// producer's delta that added the token; the later Add restores it, so
// the view converges once every delta has been applied.
func (m *Monitor) apply(d *StateDelta) {
	for k := range d.Sub {
		m.globalCount[k]--
		if m.globalCount[k] <= 0 {
			delete(m.globalNonempty, k)
			delete(m.globalTypeNames, k)
		}
	}
	for k, typeName := range d.Add {
		m.globalCount[k]++
		if m.globalCount[k] > 0 {
			m.globalNonempty[k] = true
			m.globalTypeNames[k] = typeName
		}
	}
}

// deadlocked reports whether no signature (one condition of one case,
// anywhere in the net) is currently satisfiable.
func (m *Monitor) deadlocked() bool {
	for _, sig := range m.signatures {
		if m.signatureSatisfied(sig) {
			return false
		}
	}
	return true
}

func (m *Monitor) signatureSatisfied(sig map[PlaceTag]bool) bool {
	for k := range sig {
		if !m.globalNonempty[k] {
			return false
		}
	}
	return true
}

// Run collects each cluster's firing signatures over sigCh (a rendezvous
// each cluster performs exactly once, right after instantiating its live
// transitions), then loops applying state deltas and re-checking
// deadlock after each one, until either deadlock is declared or a
// cluster reports a fatal death. numClusters bounds both phases: the
// monitor expects exactly that many signature contributions and treats
// "every cluster has either blocked or died" implicitly, since a dead
// cluster's goroutine also stops feeding deltas.
func (m *Monitor) Run(sigCh <-chan []map[PlaceTag]bool, deltaCh <-chan *StateDelta, deathCh <-chan clusterDeath, numClusters int) {
	for i := 0; i < numClusters; i++ {
		select {
		case sigs := <-sigCh:
			m.signatures = append(m.signatures, sigs...)
		case death := <-deathCh:
			m.log.WithError(death.err).WithField("cluster", death.cluster).Error("cluster died during startup")
			m.broadcastTerminate("cluster died before contributing signatures")
			return
		}
	}

	// A net may start out already deadlocked (every signature's places
	// empty from the first marking), in which case no cluster will ever
	// produce a delta to trigger the check below — this has to be tested
	// once up front, or the monitor would block on the select forever.
	if m.deadlocked() {
		m.broadcastTerminate("no signature satisfiable at startup")
		return
	}

	for {
		select {
		case d := <-deltaCh:
			m.apply(d)
			if m.pseudoState {
				m.sink.Emit(telemetry.PseudoStateDatum{Count: snapshotCount(m.globalCount)})
			}
			if m.deadlocked() {
				m.broadcastTerminate("no signature satisfiable")
				return
			}
		case death := <-deathCh:
			m.log.WithError(death.err).WithField("cluster", death.cluster).Error("cluster died")
			m.broadcastTerminate("cluster died: " + death.err.Error())
			return
		}
	}
}

func snapshotCount(m map[PlaceTag]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k.Place] += v
	}
	return out
}
