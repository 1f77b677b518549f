// Package ntpnet implements a runtime for typed colored Petri nets used
// as a concurrent dataflow programming model. See SPEC_FULL.md for the
// full design.
package ntpnet

import (
	"hash/fnv"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/MarshallRawson/ntpnet/token"
	"github.com/MarshallRawson/ntpnet/transition"
)

// Sentinel errors surfaced during Net validation. All are fatal, before
// any transition runs (SPEC_FULL.md §7).
var (
	ErrEdgeTypeMismatch     = xerrors.New("ntpnet: edge TypeTag does not match any type the connected place can hold")
	ErrMissingEdgeWiring    = xerrors.New("ntpnet: transition edge has no wiring to a place")
	ErrDuplicateEdgeWiring  = xerrors.New("ntpnet: transition edge is wired to more than one place")
	ErrUnknownTransition    = xerrors.New("ntpnet: adjacency references a transition with no registered maker")
	ErrUnassignedTransition = xerrors.New("ntpnet: transition has no cluster assignment")
	ErrOrphanPlace          = xerrors.New("ntpnet: place ended up in no cluster's sub-net")
)

// marking is a per-TypeTag FIFO of tokens. Insertion order is preserved;
// Pop removes from the front.
type marking struct {
	byTag map[token.TypeTag][]token.Token
}

func newMarking() *marking {
	return &marking{byTag: make(map[token.TypeTag][]token.Token)}
}

func (m *marking) push(t token.Token) {
	m.byTag[t.Tag()] = append(m.byTag[t.Tag()], t)
}

func (m *marking) clone() *marking {
	out := newMarking()
	for tag, q := range m.byTag {
		cp := make([]token.Token, len(q))
		copy(cp, q)
		out.byTag[tag] = cp
	}
	return out
}

// ptEdgeKey and tpEdgeKey name the spec's pt_edges / tp_edges maps:
// (place, transition) -> edge name, and (transition, place) -> edge name.
type ptEdgeKey struct{ Place, Transition string }
type tpEdgeKey struct{ Transition, Place string }

// Net is the declaration-time object holding transitions, places,
// initial markings and the two directed edge relations
// place->transition and transition->place.
type Net struct {
	Transitions map[string]transition.Maker
	Places      map[string]*marking

	// adjacency sets
	placeToTransitions map[string]map[string]bool // place -> consuming transitions
	transitionToPlaces map[string]map[string]bool // transition -> produced-to places

	// edge wiring, keyed by (transition, edge) -> list of places (>1 is
	// a validation error; this intentionally is not map[string]string so
	// that duplicate wirings are detectable rather than silently
	// overwritten).
	inEdgeWiring  map[string]map[string][]string // transition -> edge -> places
	outEdgeWiring map[string]map[string][]string // transition -> edge -> places

	// PtEdges / TpEdges mirror spec.md §3's adjacency relations verbatim
	// for introspection (pseudo_hash, graph rendering).
	PtEdges map[ptEdgeKey]string
	TpEdges map[tpEdgeKey]string

	log *logrus.Entry
}

// Make constructs an empty Net.
func Make() *Net {
	return &Net{
		Transitions:        make(map[string]transition.Maker),
		Places:             make(map[string]*marking),
		placeToTransitions: make(map[string]map[string]bool),
		transitionToPlaces: make(map[string]map[string]bool),
		inEdgeWiring:       make(map[string]map[string][]string),
		outEdgeWiring:      make(map[string]map[string][]string),
		PtEdges:            make(map[ptEdgeKey]string),
		TpEdges:            make(map[tpEdgeKey]string),
		log:                logrus.WithField("component", "net"),
	}
}

// AddTransition registers name with the given one-shot factory and
// returns the Net, for chaining.
func (n *Net) AddTransition(name string, maker transition.Maker) *Net {
	n.Transitions[name] = maker
	if n.transitionToPlaces[name] == nil {
		n.transitionToPlaces[name] = make(map[string]bool)
	}
	return n
}

// AddPlace idempotently ensures place exists and returns the Net.
func (n *Net) AddPlace(place string) *Net {
	if n.Places[place] == nil {
		n.Places[place] = newMarking()
	}
	if n.placeToTransitions[place] == nil {
		n.placeToTransitions[place] = make(map[string]bool)
	}
	return n
}

// SetStartTokens appends tokens to place's initial marking, creating the
// place on demand.
func (n *Net) SetStartTokens(place string, tokens ...token.Token) *Net {
	n.AddPlace(place)
	for _, t := range tokens {
		n.Places[place].push(t)
	}
	return n
}

// PlaceToTransition wires an input edge: transition reads place under
// the local name edge. Both endpoints are auto-created if missing.
func (n *Net) PlaceToTransition(place, edge, transitionName string) *Net {
	n.AddPlace(place)
	if n.transitionToPlaces[transitionName] == nil {
		n.transitionToPlaces[transitionName] = make(map[string]bool)
	}
	n.placeToTransitions[place][transitionName] = true
	n.PtEdges[ptEdgeKey{Place: place, Transition: transitionName}] = edge
	if n.inEdgeWiring[transitionName] == nil {
		n.inEdgeWiring[transitionName] = make(map[string][]string)
	}
	n.inEdgeWiring[transitionName][edge] = append(n.inEdgeWiring[transitionName][edge], place)
	return n
}

// TransitionToPlace wires an output edge: transition writes place under
// the local name edge. Both endpoints are auto-created if missing.
func (n *Net) TransitionToPlace(transitionName, edge, place string) *Net {
	n.AddPlace(place)
	if n.transitionToPlaces[transitionName] == nil {
		n.transitionToPlaces[transitionName] = make(map[string]bool)
	}
	n.transitionToPlaces[transitionName][place] = true
	n.TpEdges[tpEdgeKey{Transition: transitionName, Place: place}] = edge
	if n.outEdgeWiring[transitionName] == nil {
		n.outEdgeWiring[transitionName] = make(map[string][]string)
	}
	n.outEdgeWiring[transitionName][edge] = append(n.outEdgeWiring[transitionName][edge], place)
	return n
}

// producers returns the set of transition names with an out-edge wired
// into place.
func (n *Net) producers(place string) map[string]bool {
	out := make(map[string]bool)
	for t, places := range n.transitionToPlaces {
		if places[place] {
			out[t] = true
		}
	}
	return out
}

// consumers returns the set of transition names with an in-edge wired
// from place.
func (n *Net) consumers(place string) map[string]bool {
	out := make(map[string]bool)
	for t := range n.placeToTransitions[place] {
		out[t] = true
	}
	return out
}

// availableTags returns the union of TypeTags that could ever appear at
// place: those present in its initial marking, plus every TypeTag any
// producer transition declares on the out-edge wired to this place.
func (n *Net) availableTags(place string, descriptions map[string]transition.Description) map[token.TypeTag]bool {
	avail := make(map[token.TypeTag]bool)
	for tag := range n.Places[place].byTag {
		avail[tag] = true
	}
	for prod := range n.producers(place) {
		d, ok := descriptions[prod]
		if !ok {
			continue
		}
		for _, oe := range d.OutEdges {
			if n.outEdgeWiring[prod][oe.Edge] != nil {
				for _, p := range n.outEdgeWiring[prod][oe.Edge] {
					if p == place {
						avail[oe.Tag] = true
					}
				}
			}
		}
	}
	return avail
}

// Validate checks the net's structural invariants (SPEC_FULL.md §4.1):
//  1. every transition's in/out edges resolve to exactly one wired place
//     and the edge's TypeTag matches something the place can hold
//  2. every transition named by the adjacency maps has a registered maker
//  3. unreachable places (no producer and no consumer) are permitted
//     but logged as a diagnostic
//
// Each transition's factory is instantiated once, on the calling
// goroutine, purely to read its Description; that disposable instance
// is discarded afterwards — Partition never instantiates a transition
// (it derives cluster adjacency from the net's wiring maps alone), and
// the live instance used during execution is constructed later, exactly
// once, on its assigned cluster's own goroutine (WorkCluster.Start).
func (n *Net) Validate() error {
	var errs error

	descriptions := make(map[string]transition.Description, len(n.Transitions))
	for name, maker := range n.Transitions {
		t := maker()
		descriptions[name] = t.Description()
	}

	allTransitionNames := make(map[string]bool)
	for name := range n.transitionToPlaces {
		allTransitionNames[name] = true
	}
	for name := range n.placeToTransitions {
		for t := range n.placeToTransitions[name] {
			allTransitionNames[t] = true
		}
	}
	for name := range allTransitionNames {
		if _, ok := n.Transitions[name]; !ok {
			errs = multierror.Append(errs, xerrors.Errorf("transition %q: %w", name, ErrUnknownTransition))
		}
	}

	for name, d := range descriptions {
		for _, ie := range d.InEdges {
			places := n.inEdgeWiring[name][ie.Edge]
			switch len(places) {
			case 0:
				errs = multierror.Append(errs, xerrors.Errorf("transition %q input edge %q: %w", name, ie.Edge, ErrMissingEdgeWiring))
				continue
			case 1:
				// ok
			default:
				errs = multierror.Append(errs, xerrors.Errorf("transition %q input edge %q wired to %v: %w", name, ie.Edge, places, ErrDuplicateEdgeWiring))
				continue
			}
			place := places[0]
			avail := n.availableTags(place, descriptions)
			if !avail[ie.Tag] {
				errs = multierror.Append(errs, xerrors.Errorf(
					"transition %q input edge %q expects %s, place %q can hold %v: %w",
					name, ie.Edge, ie.Tag, place, tagSet(avail), ErrEdgeTypeMismatch))
			}
		}
		for _, oe := range d.OutEdges {
			places := n.outEdgeWiring[name][oe.Edge]
			switch len(places) {
			case 0:
				errs = multierror.Append(errs, xerrors.Errorf("transition %q output edge %q: %w", name, oe.Edge, ErrMissingEdgeWiring))
			case 1:
				// ok
			default:
				errs = multierror.Append(errs, xerrors.Errorf("transition %q output edge %q wired to %v: %w", name, oe.Edge, places, ErrDuplicateEdgeWiring))
			}
		}
	}

	for place := range n.Places {
		prod, cons := n.producers(place), n.consumers(place)
		if len(prod) == 0 && len(cons) == 0 {
			n.log.WithField("place", place).Warn("unreachable place: no producer and no consumer")
		}
	}

	return errs
}

func tagSet(m map[token.TypeTag]bool) []string {
	out := make([]string, 0, len(m))
	for t := range m {
		out = append(out, t.String())
	}
	sort.Strings(out)
	return out
}

// PseudoHash hashes the canonical (sorted) form of the net's names and
// edge tuples, so that two nets differing only in insertion order hash
// identically. Used to key the graph-render artifact cache.
func (n *Net) PseudoHash() uint64 {
	h := fnv.New64a()

	transitions := sortedKeys(n.Transitions)
	for _, t := range transitions {
		h.Write([]byte(t))
		h.Write([]byte{0})
	}

	places := sortedKeys(n.Places)
	for _, p := range places {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}

	type edgeTuple struct{ a, b, edge string }
	var ptTuples []edgeTuple
	for k, edge := range n.PtEdges {
		ptTuples = append(ptTuples, edgeTuple{k.Place, k.Transition, edge})
	}
	sort.Slice(ptTuples, func(i, j int) bool {
		if ptTuples[i].a != ptTuples[j].a {
			return ptTuples[i].a < ptTuples[j].a
		}
		if ptTuples[i].b != ptTuples[j].b {
			return ptTuples[i].b < ptTuples[j].b
		}
		return ptTuples[i].edge < ptTuples[j].edge
	})
	for _, tup := range ptTuples {
		h.Write([]byte(tup.a + "|" + tup.b + "|" + tup.edge))
		h.Write([]byte{0})
	}

	var tpTuples []edgeTuple
	for k, edge := range n.TpEdges {
		tpTuples = append(tpTuples, edgeTuple{k.Transition, k.Place, edge})
	}
	sort.Slice(tpTuples, func(i, j int) bool {
		if tpTuples[i].a != tpTuples[j].a {
			return tpTuples[i].a < tpTuples[j].a
		}
		if tpTuples[i].b != tpTuples[j].b {
			return tpTuples[i].b < tpTuples[j].b
		}
		return tpTuples[i].edge < tpTuples[j].edge
	})
	for _, tup := range tpTuples {
		h.Write([]byte(tup.a + "|" + tup.b + "|" + tup.edge))
		h.Write([]byte{0})
	}

	return h.Sum64()
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AsDot renders the net's bipartite graph as a graphviz dot fragment
// (transitions as boxes, places as ellipses). See render.Render for the
// PNG-producing wrapper around this.
func (n *Net) AsDot() string {
	var out string
	for t := range n.Transitions {
		out += quoteDotNode(t) + " [shape=box];\n"
	}
	for p := range n.Places {
		out += quoteDotNode(p) + " [shape=ellipse];\n"
	}
	for k, edge := range n.PtEdges {
		out += quoteDotNode(k.Place) + " -> " + quoteDotNode(k.Transition) + " [label=" + quoteDotNode(edge) + "];\n"
	}
	for k, edge := range n.TpEdges {
		out += quoteDotNode(k.Transition) + " -> " + quoteDotNode(k.Place) + " [label=" + quoteDotNode(edge) + "];\n"
	}
	return out
}

func quoteDotNode(s string) string { return `"` + s + `"` }
