package ntpnet

import (
	"math"
	"sort"

	"golang.org/x/xerrors"
	gc "gopkg.in/check.v1"

	"github.com/MarshallRawson/ntpnet/token"
	"github.com/MarshallRawson/ntpnet/transition"
)

var _ = gc.Suite(new(EngineTestSuite))

type EngineTestSuite struct{}

var f64Tag = token.TagOf[float64]()

type unit struct{}

var unitTag = token.TagOf[unit]()

type image struct{ id int }

var imageTag = token.TagOf[image]()

// stepMaker builds the scenario-1 "single-cluster loop" transition: it
// reads the clock off place "time" and writes it back incremented by
// epsilon.
func stepMaker(epsilon float64) transition.Maker {
	return func() transition.Transition { return &stepTransition{epsilon: epsilon} }
}

type stepTransition struct{ epsilon float64 }

func (s *stepTransition) Description() transition.Description {
	return transition.Description{
		InEdges:  []transition.EdgeType{{Edge: "t", Tag: f64Tag}},
		OutEdges: []transition.EdgeType{{Edge: "t", Tag: f64Tag}},
		Cases: []transition.Case{{
			Name:    "step",
			Inputs:  []transition.Condition{{{Edge: "t", Tag: f64Tag}}},
			Outputs: []transition.Product{{{Edge: "t", Tag: f64Tag}}},
		}},
	}
}

func (s *stepTransition) Call(_ string, _ int, in transition.InMap, out transition.OutMap) int {
	v := token.MustTake[float64](in[transition.EdgeType{Edge: "t", Tag: f64Tag}])
	out[transition.EdgeType{Edge: "t", Tag: f64Tag}] = token.New(v + s.epsilon)
	return 0
}

func (s *EngineTestSuite) TestSingleClusterLoopAccumulatesEpsilonNTimes(c *gc.C) {
	n := Make().
		SetStartTokens("time", token.New(0.0)).
		PlaceToTransition("time", "t", "step").
		AddTransition("step", stepMaker(0.01)).
		TransitionToPlace("step", "t", "time")
	c.Assert(n.Validate(), gc.IsNil)

	plans, err := Partition(n, ClusterAssignment{"step": "only"}, 0)
	c.Assert(err, gc.IsNil)

	deltaCh := make(chan *StateDelta, 1024)
	terminate := make(chan struct{})
	wc := NewWorkCluster(plans["only"], deltaCh, terminate, Options{})
	wc.Start()

	const trials = 100
	for i := 0; i < trials; i++ {
		fired, err := wc.scanOnce()
		c.Assert(err, gc.IsNil)
		c.Assert(fired, gc.Equals, true)
	}

	q := wc.state.places["time"].byTag[f64Tag]
	c.Assert(len(q), gc.Equals, 1)
	got := token.MustTake[float64](q[0])
	c.Assert(math.Abs(got-1.0) < 1e-9, gc.Equals, true, gc.Commentf("got %v", got))
}

// producerMaker/consumerMaker implement the scenario-2 two-cluster
// pipeline: A emits Image tokens for every "e" it receives; B consumes
// Images and relays "e" back for the first limit-1 rounds, then stops,
// draining the pipeline to quiescence.
func producerMaker() transition.Maker {
	return func() transition.Transition { return &producerT{} }
}

type producerT struct{ n int }

func (p *producerT) Description() transition.Description {
	return transition.Description{
		InEdges:  []transition.EdgeType{{Edge: "e", Tag: unitTag}},
		OutEdges: []transition.EdgeType{{Edge: "image", Tag: imageTag}},
		Cases: []transition.Case{{
			Name:    "emit",
			Inputs:  []transition.Condition{{{Edge: "e", Tag: unitTag}}},
			Outputs: []transition.Product{{{Edge: "image", Tag: imageTag}}},
		}},
	}
}

func (p *producerT) Call(_ string, _ int, in transition.InMap, out transition.OutMap) int {
	p.n++
	out[transition.EdgeType{Edge: "image", Tag: imageTag}] = token.New(image{id: p.n})
	return 0
}

func consumerMaker(limit int) transition.Maker {
	return func() transition.Transition { return &consumerT{limit: limit} }
}

type consumerT struct {
	limit, n int
}

func (cn *consumerT) Description() transition.Description {
	return transition.Description{
		InEdges:  []transition.EdgeType{{Edge: "image", Tag: imageTag}},
		OutEdges: []transition.EdgeType{{Edge: "e", Tag: unitTag}},
		Cases: []transition.Case{{
			Name:    "relay",
			Inputs:  []transition.Condition{{{Edge: "image", Tag: imageTag}}},
			Outputs: []transition.Product{{{Edge: "e", Tag: unitTag}}, {}},
		}},
	}
}

func (cn *consumerT) Call(_ string, _ int, in transition.InMap, out transition.OutMap) int {
	cn.n++
	if cn.n < cn.limit {
		out[transition.EdgeType{Edge: "e", Tag: unitTag}] = token.New(unit{})
		return 0
	}
	return 1 // terminal round: empty product, no token fed back
}

func (s *EngineTestSuite) TestTwoClusterPipelineDrainsToEmptyResidual(c *gc.C) {
	n := Make().
		SetStartTokens("e", token.New(unit{})).
		PlaceToTransition("e", "e", "producer").
		AddTransition("producer", producerMaker()).
		TransitionToPlace("producer", "image", "img").
		PlaceToTransition("img", "image", "consumer").
		AddTransition("consumer", consumerMaker(3)).
		TransitionToPlace("consumer", "e", "e")
	c.Assert(n.Validate(), gc.IsNil)

	e, err := Build(n, ClusterAssignment{"producer": "up", "consumer": "down"}, Options{})
	c.Assert(err, gc.IsNil)

	residual, err := e.Run()
	c.Assert(err, gc.IsNil)
	c.Assert(len(residual), gc.Equals, 0, gc.Commentf("expected a fully drained residual, got %v", residual))
}

func (s *EngineTestSuite) TestDisjunctiveCaseConsumesBothQueuesToExactMultiset(c *gc.C) {
	n := Make().
		SetStartTokens("a", token.New(1), token.New(2)).
		SetStartTokens("b", token.New(10)).
		PlaceToTransition("a", "a", "sync").
		PlaceToTransition("b", "b", "sync").
		AddTransition("sync", passthroughSyncMaker()).
		TransitionToPlace("sync", "out", "out")
	c.Assert(n.Validate(), gc.IsNil)

	e, err := Build(n, ClusterAssignment{"sync": "only"}, Options{})
	c.Assert(err, gc.IsNil)

	residual, err := e.Run()
	c.Assert(err, gc.IsNil)

	out := residual["out"][intTag]
	c.Assert(len(out), gc.Equals, 3)
	got := make([]int, len(out))
	for i, t := range out {
		got[i] = token.MustTake[int](t)
	}
	sort.Ints(got)
	c.Assert(got, gc.DeepEquals, []int{1, 2, 10})
}

func passthroughSyncMaker() transition.Maker {
	return func() transition.Transition { return &passthroughSync{} }
}

type passthroughSync struct{}

func (p *passthroughSync) Description() transition.Description {
	return transition.Description{
		InEdges:  []transition.EdgeType{{Edge: "a", Tag: intTag}, {Edge: "b", Tag: intTag}},
		OutEdges: []transition.EdgeType{{Edge: "out", Tag: intTag}},
		Cases: []transition.Case{{
			Name: "sync",
			Inputs: []transition.Condition{
				{{Edge: "a", Tag: intTag}},
				{{Edge: "b", Tag: intTag}},
			},
			Outputs: []transition.Product{
				{{Edge: "out", Tag: intTag}},
				{{Edge: "out", Tag: intTag}},
			},
		}},
	}
}

func (p *passthroughSync) Call(_ string, condition int, in transition.InMap, out transition.OutMap) int {
	edge := transition.EdgeType{Edge: "a", Tag: intTag}
	if condition == 1 {
		edge = transition.EdgeType{Edge: "b", Tag: intTag}
	}
	out[transition.EdgeType{Edge: "out", Tag: intTag}] = in[edge]
	return condition
}

func (s *EngineTestSuite) TestTypeRoutingKeepsQueuesIndependent(c *gc.C) {
	n := Make().
		SetStartTokens("mixed", token.New(7), token.New(8), token.New("x")).
		PlaceToTransition("mixed", "in", "t1").
		AddTransition("t1", passthroughMaker("in", "out", intTag)).
		TransitionToPlace("t1", "out", "out1").
		PlaceToTransition("mixed", "in", "t2").
		AddTransition("t2", passthroughMaker("in", "out", strTag)).
		TransitionToPlace("t2", "out", "out2")
	c.Assert(n.Validate(), gc.IsNil)

	e, err := Build(n, ClusterAssignment{"t1": "only", "t2": "only"}, Options{})
	c.Assert(err, gc.IsNil)

	residual, err := e.Run()
	c.Assert(err, gc.IsNil)

	ints := residual["out1"][intTag]
	got := make([]int, len(ints))
	for i, t := range ints {
		got[i] = token.MustTake[int](t)
	}
	sort.Ints(got)
	c.Assert(got, gc.DeepEquals, []int{7, 8})

	strs := residual["out2"][strTag]
	c.Assert(len(strs), gc.Equals, 1)
	c.Assert(token.MustTake[string](strs[0]), gc.Equals, "x")
}

func (s *EngineTestSuite) TestBackpressureOnBoundedChannelLosesNoTokens(c *gc.C) {
	n := Make().
		SetStartTokens("e", token.New(unit{})).
		PlaceToTransition("e", "e", "producer").
		AddTransition("producer", producerMaker()).
		TransitionToPlace("producer", "image", "img").
		PlaceToTransition("img", "image", "consumer").
		AddTransition("consumer", consumerMaker(5)).
		TransitionToPlace("consumer", "e", "e")
	c.Assert(n.Validate(), gc.IsNil)

	e, err := Build(n, ClusterAssignment{"producer": "up", "consumer": "down"}, Options{BoundaryChannelCapacity: 1})
	c.Assert(err, gc.IsNil)

	residual, err := e.Run()
	c.Assert(err, gc.IsNil)
	c.Assert(len(residual), gc.Equals, 0)
}

// breakMaker builds the scenario-6 transition: it declares a one-token
// product but always leaves the out map empty, which fire() must reject
// as malformed — fatal to its own cluster only.
func breakMaker() transition.Maker {
	return func() transition.Transition { return &breakTransition{} }
}

type breakTransition struct{}

func (b *breakTransition) Description() transition.Description {
	return transition.Description{
		InEdges:  []transition.EdgeType{{Edge: "x", Tag: intTag}},
		OutEdges: []transition.EdgeType{{Edge: "out", Tag: intTag}},
		Cases: []transition.Case{{
			Name:    "break",
			Inputs:  []transition.Condition{{{Edge: "x", Tag: intTag}}},
			Outputs: []transition.Product{{{Edge: "out", Tag: intTag}}},
		}},
	}
}

func (b *breakTransition) Call(_ string, _ int, in transition.InMap, out transition.OutMap) int {
	return 0 // declared product needs one edge; out is left empty
}

// neverFiresMaker builds a transition whose condition can never be
// satisfied (it waits on a place that only its own output feeds), so its
// cluster just blocks holding its untouched start marking.
func neverFiresMaker() transition.Maker {
	return func() transition.Transition { return &neverFires{} }
}

type neverFires struct{}

func (nf *neverFires) Description() transition.Description {
	return transition.Description{
		InEdges:  []transition.EdgeType{{Edge: "y", Tag: intTag}, {Edge: "trigger", Tag: intTag}},
		OutEdges: []transition.EdgeType{{Edge: "out", Tag: intTag}},
		Cases: []transition.Case{{
			Name: "idle",
			Inputs: []transition.Condition{
				{{Edge: "y", Tag: intTag}, {Edge: "trigger", Tag: intTag}},
			},
			Outputs: []transition.Product{{{Edge: "out", Tag: intTag}}},
		}},
	}
}

func (nf *neverFires) Call(_ string, _ int, in transition.InMap, out transition.OutMap) int {
	panic("neverFires should never be called")
}

func (s *EngineTestSuite) TestMalformedProductPoisonsOnlyItsOwnCluster(c *gc.C) {
	n := Make().
		SetStartTokens("x", token.New(1)).
		PlaceToTransition("x", "x", "break").
		AddTransition("break", breakMaker()).
		TransitionToPlace("break", "out", "sink").
		SetStartTokens("y", token.New(42)).
		PlaceToTransition("y", "y", "idle").
		PlaceToTransition("trigger", "trigger", "idle").
		AddTransition("idle", neverFiresMaker()).
		TransitionToPlace("idle", "out", "trigger")
	c.Assert(n.Validate(), gc.IsNil)

	e, err := Build(n, ClusterAssignment{"break": "bad", "idle": "good"}, Options{})
	c.Assert(err, gc.IsNil)

	residual, err := e.Run()
	c.Assert(err, gc.NotNil)
	c.Assert(xerrors.Is(err, ErrMalformedProduct), gc.Equals, true)

	ys := residual["y"][intTag]
	c.Assert(len(ys), gc.Equals, 1)
	c.Assert(token.MustTake[int](ys[0]), gc.Equals, 42)
}
