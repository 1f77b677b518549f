package ntpnet

import (
	"reflect"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/MarshallRawson/ntpnet/token"
)

// ErrChannelClosed is surfaced when a peer cluster's sending goroutine
// has died and its boundary channel is closed; the receiving cluster
// treats this like a Terminate on that one input (SPEC_FULL.md §7).
var ErrChannelClosed = xerrors.New("ntpnet: boundary channel closed by peer cluster")

// PlaceTag identifies one (place, TypeTag) queue, the unit the
// scheduler and the monitor both reason about.
type PlaceTag struct {
	Place string
	Tag   token.TypeTag
}

// Envelope is a token addressed to a specific TypeTag queue at the
// receiving boundary place; the place itself is implied by which
// channel carried the Envelope.
type Envelope struct {
	Tag   token.TypeTag
	Token token.Token
}

// StateDelta accumulates the (sub, add) changes a cluster made to its
// own state since the last committed firing; it is shipped to the
// Monitor so it can maintain its conservative, eventually-consistent
// pseudo-state (SPEC_FULL.md §4.5).
type StateDelta struct {
	Sub map[PlaceTag]bool
	Add map[PlaceTag]string // place/tag -> type name, for diagnostics
}

func newStateDelta() *StateDelta {
	return &StateDelta{Sub: make(map[PlaceTag]bool), Add: make(map[PlaceTag]string)}
}

// boundaryInput is one producer-cluster's feed into a boundary place
// that this cluster owns as its home.
type boundaryInput struct {
	place string
	ch    chan Envelope
}

// State is the per-cluster mutable data structure tracking, for each
// (place, TypeTag), the FIFO of tokens and a marking/nonempty mirror
// used for O(1) enablement checks by the scheduler.
type State struct {
	log *logrus.Entry

	places map[string]*marking

	markingCount map[PlaceTag]int
	typeNames    map[PlaceTag]string
	nonempty     map[PlaceTag]bool

	inputs     []boundaryInput
	inputCases []reflect.SelectCase // parallel to inputs, plus one terminate case at the end

	outputs   map[string]chan<- Envelope // boundary output places
	terminate chan struct{}

	delta   *StateDelta
	deltaCh chan<- *StateDelta
}

// NewState builds a State from this cluster's slice of the net: its
// restricted places (already holding only the initial marking for
// places internal or home to this cluster), the per-boundary-place
// inbound channels from remote producers, the per-boundary-place
// outbound channels to remote homes, the shared delta-notification
// channel to the Monitor, and the termination channel.
func NewState(
	clusterName string,
	places map[string]*marking,
	inputs map[string][]chan Envelope,
	outputs map[string]chan<- Envelope,
	deltaCh chan<- *StateDelta,
	terminate chan struct{},
) *State {
	s := &State{
		log:          logrus.WithField("cluster", clusterName).WithField("component", "state"),
		places:       places,
		markingCount: make(map[PlaceTag]int),
		typeNames:    make(map[PlaceTag]string),
		nonempty:     make(map[PlaceTag]bool),
		outputs:      outputs,
		terminate:    terminate,
		delta:        newStateDelta(),
		deltaCh:      deltaCh,
	}
	for place, m := range places {
		for tag, q := range m.byTag {
			k := PlaceTag{Place: place, Tag: tag}
			s.markingCount[k] = len(q)
			if len(q) > 0 {
				s.nonempty[k] = true
				s.typeNames[k] = q[0].TypeName()
			}
		}
	}
	for place, chans := range inputs {
		for _, ch := range chans {
			s.inputs = append(s.inputs, boundaryInput{place: place, ch: ch})
		}
	}
	s.rebuildSelectCases()
	return s
}

func (s *State) rebuildSelectCases() {
	cases := make([]reflect.SelectCase, 0, len(s.inputs)+1)
	for _, in := range s.inputs {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(in.ch)})
	}
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(s.terminate)})
	s.inputCases = cases
}

// TakePlaces returns the cluster's residual marking at shutdown.
func (s *State) TakePlaces() map[string]*marking { return s.places }

// Nonempty returns the set of (place, TypeTag) keys currently holding at
// least one token; the scheduler tests condition subsets against it.
func (s *State) Nonempty() map[PlaceTag]bool { return s.nonempty }

// Pop removes and returns the front token of the (place, TypeTag) queue
// named by k. The caller must have already established k is nonempty.
func (s *State) Pop(k PlaceTag) token.Token {
	s.delta.Sub[k] = true
	q := s.places[k.Place].byTag[k.Tag]
	t := q[0]
	s.places[k.Place].byTag[k.Tag] = q[1:]
	s.markingCount[k]--
	if s.markingCount[k] == 0 {
		delete(s.nonempty, k)
	}
	return t
}

// pushLocal appends t to the (place, TypeTag) queue without recording a
// state delta. It is called directly for tokens arriving over an inbound
// boundary channel, whose production was already recorded as a delta by
// the sending cluster's Push call, and by Push itself after Push has
// recorded the delta for a local place.
func (s *State) pushLocal(k PlaceTag, t token.Token) {
	m := s.places[k.Place]
	if m == nil {
		m = newMarking()
		s.places[k.Place] = m
	}
	m.byTag[k.Tag] = append(m.byTag[k.Tag], t)
	s.markingCount[k]++
	s.typeNames[k] = t.TypeName()
	s.nonempty[k] = true
}

// Push delivers t to the (place, TypeTag) queue named by k, recording a
// state delta in all cases. If place is a boundary output owned by a
// remote home cluster, the token is sent on that place's outbound
// channel (blocking if the channel is bounded and full, providing
// backpressure); otherwise it is appended to the local queue.
func (s *State) Push(k PlaceTag, t token.Token) {
	s.delta.Add[k] = t.TypeName()
	if out, ok := s.outputs[k.Place]; ok {
		out <- Envelope{Tag: k.Tag, Token: t}
		return
	}
	s.pushLocal(k, t)
}

// StateDeltaComplete ships the accumulated delta to the Monitor and
// resets the accumulator. Called once per successful firing.
func (s *State) StateDeltaComplete() {
	d := s.delta
	s.delta = newStateDelta()
	s.deltaCh <- d
}

// dropInput removes a closed inbound channel so neither select loop spins
// on it forever (a closed channel is always ready, with recvOK false).
func (s *State) dropInput(i int) {
	s.log.WithField("place", s.inputs[i].place).Warn(xerrors.Errorf("%s: %w", s.inputs[i].place, ErrChannelClosed).Error())
	s.inputs = append(s.inputs[:i], s.inputs[i+1:]...)
	s.rebuildSelectCases()
}

// TryRx performs a non-blocking drain of every inbound boundary channel,
// pushing any available tokens into local queues. It returns true if the
// termination signal was observed.
func (s *State) TryRx() bool {
	for {
		cases := make([]reflect.SelectCase, len(s.inputCases)+1)
		copy(cases, s.inputCases)
		cases[len(cases)-1] = reflect.SelectCase{Dir: reflect.SelectDefault}
		chosen, recv, recvOK := reflect.Select(cases)
		if chosen == len(cases)-1 {
			return false // default: nothing ready right now
		}
		if chosen == len(s.inputs) {
			return true // terminate
		}
		if !recvOK {
			s.dropInput(chosen)
			continue
		}
		env := recv.Interface().(Envelope)
		s.pushLocal(PlaceTag{Place: s.inputs[chosen].place, Tag: env.Tag}, env.Token)
	}
}

// BlockRx blocks on the set of inbound channels plus the termination
// channel using a fair ready-select (Go's native select/reflect.Select
// already makes a uniform pseudo-random choice among ready cases, which
// is exactly the "fair ready-select" the scheduler requires). It
// returns true once the termination signal has been observed.
func (s *State) BlockRx() bool {
	for {
		chosen, recv, recvOK := reflect.Select(s.inputCases)
		if chosen == len(s.inputs) {
			return true // terminate
		}
		if !recvOK {
			s.dropInput(chosen)
			continue
		}
		env := recv.Interface().(Envelope)
		s.pushLocal(PlaceTag{Place: s.inputs[chosen].place, Tag: env.Tag}, env.Token)
		return false
	}
}
