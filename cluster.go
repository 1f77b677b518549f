package ntpnet

import (
	"sort"

	"github.com/juju/clock"
	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/MarshallRawson/ntpnet/telemetry"
	"github.com/MarshallRawson/ntpnet/tracing"
	"github.com/MarshallRawson/ntpnet/transition"
)

// ErrMalformedProduct is raised when a transition's Call returns an
// OutMap that does not match any declared product of the selected case;
// this is fatal to the owning cluster (spec.md §7).
var ErrMalformedProduct = xerrors.New("ntpnet: transition returned an output map matching no declared product")

// Options configures a single Engine.Run invocation (spec.md §6).
type Options struct {
	LocalStateTrace           bool
	ReactorTiming             bool
	TransitionTiming          bool
	PseudoState               bool
	MemorySamplePeriodSeconds float64
	BoundaryChannelCapacity   int
	Sink                      telemetry.Sink
	Clock                     clock.Clock
	Tracer                    opentracing.Tracer
}

// validate checks the options for internal consistency and fills in
// defaults, mirroring the validate-and-default pattern used throughout
// this codebase for config structs.
func (o *Options) validate() error {
	if o.MemorySamplePeriodSeconds < 0 {
		return xerrors.New("ntpnet: MemorySamplePeriodSeconds must not be negative")
	}
	if o.BoundaryChannelCapacity < 0 {
		return xerrors.New("ntpnet: BoundaryChannelCapacity must not be negative")
	}
	if o.Sink == nil {
		o.Sink = telemetry.Discard
	}
	if o.Clock == nil {
		o.Clock = clock.WallClock
	}
	return nil
}

// WorkCluster is the runtime for one sub-net: it owns a State, a set of
// live transitions, and runs the Scanning/Blocked firing scheduler
// described in spec.md §4.4.
type WorkCluster struct {
	name string
	log  *logrus.Entry

	plan         *clusterPlan
	live         map[string]transition.Transition
	descriptions map[string]transition.Description
	order        []string // transition names, sorted: this cluster's scan order

	state  *State
	clock  clock.Clock
	sink   telemetry.Sink
	tracer opentracing.Tracer
	opts   Options
}

// NewWorkCluster builds the WorkCluster shell and the State that backs
// it. It does not touch a single transition's factory — that happens in
// Start, called on the cluster's own goroutine (spec.md:59's lifecycle:
// "Each WorkCluster's thread instantiates its transitions exactly once
// from those factories, then runs until terminated"). A transition
// constructor is free to do real, thread-affine setup (open a camera
// handle, build an FFT plan, start an ML session, spec.md:3) and must
// see that happen on the thread that will actually call it.
func NewWorkCluster(plan *clusterPlan, deltaCh chan<- *StateDelta, terminate chan struct{}, opts Options) *WorkCluster {
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	sink := opts.Sink
	if sink == nil {
		sink = telemetry.Discard
	}

	c := &WorkCluster{
		name:   plan.name,
		log:    logrus.WithField("cluster", plan.name).WithField("component", "cluster"),
		plan:   plan,
		clock:  clk,
		sink:   sink,
		tracer: opts.Tracer,
		opts:   opts,
	}

	outputs := make(map[string]chan<- Envelope, len(plan.outbound))
	for place, ch := range plan.outbound {
		outputs[place] = ch
	}
	c.state = NewState(plan.name, plan.places, plan.inbound, outputs, deltaCh, terminate)

	return c
}

// Start instantiates every transition named in plan exactly once
// (spec.md §4.3), on the calling goroutine — callers must call Start
// from the same goroutine that will later call Run, before doing
// anything else with this cluster (notably before Signatures, which
// reads the descriptions Start fills in).
func (c *WorkCluster) Start() {
	c.live = make(map[string]transition.Transition, len(c.plan.transitions))
	c.descriptions = make(map[string]transition.Description, len(c.plan.transitions))
	for name, maker := range c.plan.transitions {
		t := maker()
		c.live[name] = t
		c.descriptions[name] = t.Description()
		c.order = append(c.order, name)
	}
	sort.Strings(c.order)
}

// Signatures returns this cluster's contribution to the monitor's
// nonblocking_signatures rendezvous (spec.md §4.5). Must be called after
// Start.
func (c *WorkCluster) Signatures() []map[PlaceTag]bool {
	return c.plan.signatures(c.descriptions)
}

// Run executes the Scanning/Blocked scheduler loop until the
// termination signal is observed or a transition misbehaves fatally. It
// returns the cluster's residual marking, and a non-nil error on
// ErrMalformedProduct or a recovered transition panic — either one
// poisons this cluster only, not the whole process (spec.md §7).
func (c *WorkCluster) Run() (residual map[string]*marking, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("panic", r).Error("transition panicked; poisoning this cluster")
			residual = c.state.TakePlaces()
			err = xerrors.Errorf("cluster %q: transition panicked: %v", c.name, r)
		}
	}()
	for {
		if exit := c.state.TryRx(); exit {
			return c.state.TakePlaces(), nil
		}
		if c.opts.LocalStateTrace {
			c.sink.Emit(telemetry.LocalStateDatum{Cluster: c.name, Count: c.placeCounts()})
		}

		fired, err := c.scanOnce()
		if err != nil {
			return c.state.TakePlaces(), err
		}
		if fired {
			continue
		}

		if exit := c.state.BlockRx(); exit {
			return c.state.TakePlaces(), nil
		}
	}
}

// scanOnce walks transitions in sorted-name order, then cases
// in declaration order, then conditions in declaration order, firing the
// first enabled condition found. It returns fired=true as soon as one
// condition fires — the caller restarts scanning from the top, per
// spec.md §4.4's fairness rule.
func (c *WorkCluster) scanOnce() (fired bool, err error) {
	for _, name := range c.order {
		d := c.descriptions[name]
		for caseIdx, cs := range d.Cases {
			for condIdx, cond := range cs.Inputs {
				key, ok := c.conditionKeys(name, cond)
				if !ok || !subsetOfNonempty(key, c.state.Nonempty()) {
					continue
				}
				if err := c.fire(name, cs, caseIdx, condIdx, cond); err != nil {
					return false, err
				}
				return true, nil
			}
		}
	}
	return false, nil
}

// conditionKeys translates a condition's (edge, TypeTag) pairs to
// (place, TypeTag) keys using this cluster's edge->place translation.
// ok is false if any edge fails to resolve (should not happen once
// Validate has passed).
func (c *WorkCluster) conditionKeys(transitionName string, cond transition.Condition) ([]PlaceTag, bool) {
	keys := make([]PlaceTag, 0, len(cond))
	for _, e := range cond {
		place, ok := c.plan.inEdgePlace[transitionName][e.Edge]
		if !ok {
			return nil, false
		}
		keys = append(keys, PlaceTag{Place: place, Tag: e.Tag})
	}
	return keys, true
}

func subsetOfNonempty(keys []PlaceTag, nonempty map[PlaceTag]bool) bool {
	for _, k := range keys {
		if !nonempty[k] {
			return false
		}
	}
	return true
}

// fire pops the condition's tokens, invokes the transition, and pushes
// the chosen product's tokens, emitting telemetry and a state delta.
func (c *WorkCluster) fire(name string, cs transition.Case, caseIdx, condIdx int, cond transition.Condition) error {
	start := c.clock.Now()

	if span := tracing.StartFiringSpan(c.tracer, name, cs.Name); span != nil {
		defer span.Finish()
	}

	keys, _ := c.conditionKeys(name, cond)
	in := make(transition.InMap, len(cond))
	for i, e := range cond {
		in[e] = c.state.Pop(keys[i])
	}

	out := make(transition.OutMap)
	callStart := c.clock.Now()
	productIdx := c.live[name].Call(cs.Name, condIdx, in, out)
	if c.opts.TransitionTiming {
		c.sink.Emit(telemetry.TransitionCallDatum{
			Transition: name,
			Case:       cs.Name,
			Duration:   c.clock.Now().Sub(callStart).Seconds(),
		})
	}

	if productIdx < 0 || productIdx >= len(cs.Outputs) {
		return xerrors.Errorf("transition %q case %q returned product index %d: %w", name, cs.Name, productIdx, ErrMalformedProduct)
	}
	product := cs.Outputs[productIdx]
	if len(product) != len(out) {
		return xerrors.Errorf("transition %q case %q product %d: expected %d outputs, got %d: %w", name, cs.Name, productIdx, len(product), len(out), ErrMalformedProduct)
	}
	for _, e := range product {
		tok, ok := out[e]
		if !ok {
			return xerrors.Errorf("transition %q case %q product %d missing edge %q: %w", name, cs.Name, productIdx, e.Edge, ErrMalformedProduct)
		}
		place, ok := c.plan.outEdgePlace[name][e.Edge]
		if !ok {
			return xerrors.Errorf("transition %q output edge %q: %w", name, e.Edge, ErrMalformedProduct)
		}
		c.state.Push(PlaceTag{Place: place, Tag: e.Tag}, tok)
	}

	c.state.StateDeltaComplete()

	if c.opts.ReactorTiming {
		c.sink.Emit(telemetry.FiringDatum{Cluster: c.name, Duration: c.clock.Now().Sub(start).Seconds()})
	}
	return nil
}

func (c *WorkCluster) placeCounts() map[string]int {
	out := make(map[string]int)
	for place, m := range c.state.TakePlaces() {
		n := 0
		for _, q := range m.byTag {
			n += len(q)
		}
		out[place] = n
	}
	return out
}
