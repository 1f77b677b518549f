package ntpnet

import (
	"sort"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/xerrors"

	"github.com/MarshallRawson/ntpnet/transition"
)

// ClusterAssignment maps every transition name to the work-cluster that
// owns it. A cluster is any non-empty string; transitions sharing a
// cluster name are scheduled on the same goroutine and scan their cases
// top-to-bottom in declaration order against a single shared State
// (SPEC_FULL.md §5).
type ClusterAssignment map[string]string

// clusterPlan is the Partitioner's output for a single cluster: its
// restricted transitions, its slice of the net's places (internal
// places in full, boundary places it is the home of in full, others
// absent), and the channel endpoints wiring it to every other cluster
// that shares a boundary place with it.
type clusterPlan struct {
	name        string
	transitions map[string]transition.Maker
	places      map[string]*marking

	// inEdgePlace/outEdgePlace translate a transition's edge-local names
	// to the place they are wired to, both directions kept as spec.md
	// §4.3 requires ("edge<->place").
	inEdgePlace  map[string]map[string]string // transition -> in edge -> place
	outEdgePlace map[string]map[string]string // transition -> out edge -> place

	// inbound[place] is the channel this cluster (as home) receives
	// Envelopes on from a single remote producer cluster. Multiple
	// producer clusters for the same boundary place each get their own
	// channel, all multiplexed by State's dynamic select.
	inbound map[string][]chan Envelope

	// outbound[place] is the channel this cluster sends Envelopes on
	// toward the place's home cluster (nil if this cluster is the home).
	outbound map[string]chan Envelope
}

const defaultBoundaryChannelCapacity = 16

// Partition splits a validated Net into one clusterPlan per distinct
// cluster name in assignment, wiring a bounded channel (capacity chanCap,
// or defaultBoundaryChannelCapacity if chanCap <= 0) for every
// (boundary place, non-home cluster) pair. It returns ErrUnassignedTransition
// if any transition named by the net has no entry in assignment.
// ErrOrphanPlace is reserved for a place that a transition's wiring
// names but that ends up owned by no cluster; the construction below
// makes that structurally unreachable (every place touched by at least
// one transition is assigned a home), so the sentinel exists for API
// completeness rather than an observed failure path.
func Partition(n *Net, assignment ClusterAssignment, chanCap int) (map[string]*clusterPlan, error) {
	if chanCap <= 0 {
		chanCap = defaultBoundaryChannelCapacity
	}

	var errs error
	for name := range n.Transitions {
		if _, ok := assignment[name]; !ok {
			errs = multierror.Append(errs, xerrors.Errorf("transition %q: %w", name, ErrUnassignedTransition))
		}
	}
	if errs != nil {
		return nil, errs
	}

	clusterNames := make(map[string]bool)
	for _, c := range assignment {
		clusterNames[c] = true
	}

	plans := make(map[string]*clusterPlan, len(clusterNames))
	for c := range clusterNames {
		plans[c] = &clusterPlan{
			name:         c,
			transitions:  make(map[string]transition.Maker),
			places:       make(map[string]*marking),
			inEdgePlace:  make(map[string]map[string]string),
			outEdgePlace: make(map[string]map[string]string),
			inbound:      make(map[string][]chan Envelope),
			outbound:     make(map[string]chan Envelope),
		}
	}
	for name, maker := range n.Transitions {
		c := assignment[name]
		plans[c].transitions[name] = maker

		inMap := make(map[string]string, len(n.inEdgeWiring[name]))
		for edge, places := range n.inEdgeWiring[name] {
			if len(places) == 1 {
				inMap[edge] = places[0]
			}
		}
		plans[c].inEdgePlace[name] = inMap

		outMap := make(map[string]string, len(n.outEdgeWiring[name]))
		for edge, places := range n.outEdgeWiring[name] {
			if len(places) == 1 {
				outMap[edge] = places[0]
			}
		}
		plans[c].outEdgePlace[name] = outMap
	}

	for _, place := range sortedKeys(n.Places) {
		producerClusters := clustersOf(n.producers(place), assignment)
		consumerClusters := clustersOf(n.consumers(place), assignment)
		touching := unionSets(producerClusters, consumerClusters)
		if len(touching) == 0 {
			continue // unreferenced place; Validate logs this separately
		}

		// Home is any consumer cluster (spec.md §4.2); a place with no
		// consumers at all (a terminal sink, or one under construction) is
		// homed on a producer instead, "closing the loop" so a
		// later-added consumer always has a queue to attach to.
		var home string
		if len(consumerClusters) > 0 {
			home = firstSorted(consumerClusters)
		} else {
			home = firstSorted(producerClusters)
		}
		plans[home].places[place] = n.Places[place].clone()

		for _, c := range sortedSet(touching) {
			if c == home {
				continue
			}
			ch := make(chan Envelope, chanCap)
			plans[home].inbound[place] = append(plans[home].inbound[place], ch)
			plans[c].outbound[place] = ch
		}
	}

	return plans, nil
}

// clustersOf maps a set of transition names to the set of cluster names
// assignment puts them in.
func clustersOf(transitions map[string]bool, assignment ClusterAssignment) map[string]bool {
	out := make(map[string]bool, len(transitions))
	for t := range transitions {
		out[assignment[t]] = true
	}
	return out
}

func unionSets(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}

// signatures returns every distinct condition's (place, TypeTag) set
// across all of this cluster's transitions: one Signature per case per
// condition, in the form the Monitor compares against global_nonempty
// (spec.md §4.5, "nonblocking_signatures"). descriptions must hold one
// entry per transition in p, taken from that transition's live,
// once-instantiated instance (spec.md §4.3).
func (p *clusterPlan) signatures(descriptions map[string]transition.Description) []map[PlaceTag]bool {
	var out []map[PlaceTag]bool
	for name, d := range descriptions {
		for _, c := range d.Cases {
			for _, cond := range c.Inputs {
				sig := make(map[PlaceTag]bool, len(cond))
				for _, e := range cond {
					sig[PlaceTag{Place: p.inEdgePlace[name][e.Edge], Tag: e.Tag}] = true
				}
				out = append(out, sig)
			}
		}
	}
	return out
}

func firstSorted(m map[string]bool) string { return sortedSet(m)[0] }

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
