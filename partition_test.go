package ntpnet

import (
	gc "gopkg.in/check.v1"

	"github.com/MarshallRawson/ntpnet/token"
)

var _ = gc.Suite(new(PartitionTestSuite))

type PartitionTestSuite struct{}

func (s *PartitionTestSuite) TestUnassignedTransitionIsFatal(c *gc.C) {
	n := Make().
		SetStartTokens("a", token.New(1)).
		PlaceToTransition("a", "in", "t1").
		AddTransition("t1", passthroughMaker("in", "out", intTag)).
		TransitionToPlace("t1", "out", "b")

	_, err := Partition(n, ClusterAssignment{}, 0)
	c.Assert(err, gc.NotNil)
}

func (s *PartitionTestSuite) TestSingleClusterHasNoBoundaryChannels(c *gc.C) {
	n := Make().
		SetStartTokens("a", token.New(1)).
		PlaceToTransition("a", "in", "t1").
		AddTransition("t1", passthroughMaker("in", "out", intTag)).
		TransitionToPlace("t1", "out", "b")

	plans, err := Partition(n, ClusterAssignment{"t1": "only"}, 0)
	c.Assert(err, gc.IsNil)
	c.Assert(len(plans), gc.Equals, 1)
	c.Assert(len(plans["only"].inbound), gc.Equals, 0)
	c.Assert(len(plans["only"].outbound), gc.Equals, 0)
	c.Assert(plans["only"].places["a"], gc.NotNil)
	c.Assert(plans["only"].places["b"], gc.NotNil)
}

func (s *PartitionTestSuite) TestTwoClusterPipelineHomesBoundaryPlaceAtConsumer(c *gc.C) {
	n := Make().
		SetStartTokens("a", token.New(1)).
		PlaceToTransition("a", "in", "producer").
		AddTransition("producer", passthroughMaker("in", "out", intTag)).
		TransitionToPlace("producer", "out", "mid").
		PlaceToTransition("mid", "in", "consumer").
		AddTransition("consumer", passthroughMaker("in", "out", intTag)).
		TransitionToPlace("consumer", "out", "c")

	assignment := ClusterAssignment{"producer": "up", "consumer": "down"}
	plans, err := Partition(n, assignment, 4)
	c.Assert(err, gc.IsNil)

	// boundary place "mid" is homed on the consumer's cluster
	c.Assert(plans["down"].places["mid"], gc.NotNil)
	c.Assert(plans["up"].places["mid"], gc.IsNil)

	// the producer cluster got an outbound channel, the consumer an inbound one
	c.Assert(plans["up"].outbound["mid"], gc.NotNil)
	c.Assert(len(plans["down"].inbound["mid"]), gc.Equals, 1)
}

func (s *PartitionTestSuite) TestBoundaryChannelCapacityDefaultsWhenNonPositive(c *gc.C) {
	n := Make().
		SetStartTokens("a", token.New(1)).
		PlaceToTransition("a", "in", "producer").
		AddTransition("producer", passthroughMaker("in", "out", intTag)).
		TransitionToPlace("producer", "out", "mid").
		PlaceToTransition("mid", "in", "consumer").
		AddTransition("consumer", passthroughMaker("in", "out", intTag)).
		TransitionToPlace("consumer", "out", "c")

	plans, err := Partition(n, ClusterAssignment{"producer": "up", "consumer": "down"}, 0)
	c.Assert(err, gc.IsNil)
	c.Assert(cap(plans["up"].outbound["mid"]), gc.Equals, defaultBoundaryChannelCapacity)
}

func (s *PartitionTestSuite) TestPureSinkPlaceHomesAtProducer(c *gc.C) {
	// "sink" has a producer but no consumer at all.
	n := Make().
		SetStartTokens("a", token.New(1)).
		PlaceToTransition("a", "in", "t1").
		AddTransition("t1", passthroughMaker("in", "out", intTag)).
		TransitionToPlace("t1", "out", "sink")

	plans, err := Partition(n, ClusterAssignment{"t1": "only"}, 0)
	c.Assert(err, gc.IsNil)
	c.Assert(plans["only"].places["sink"], gc.NotNil)
}
