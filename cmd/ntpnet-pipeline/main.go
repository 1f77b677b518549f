// Command ntpnet-pipeline is a two-cluster demo: a producer cluster
// emits one int per trigger token, a consumer cluster on the other side
// of a deliberately small boundary channel accumulates a running sum,
// exercising the cross-cluster backpressure scenario from spec.md §8.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/xerrors"

	"github.com/MarshallRawson/ntpnet"
	"github.com/MarshallRawson/ntpnet/token"
	"github.com/MarshallRawson/ntpnet/tracing"
	"github.com/MarshallRawson/ntpnet/transition"
)

var (
	appName = "ntpnet-pipeline"
	logger  *logrus.Entry
)

var intTag = token.TagOf[int]()

// producer emits its firing count, once per trigger token received.
type producer struct {
	n int
}

func (p *producer) Description() transition.Description {
	return transition.Description{
		InEdges:  []transition.EdgeType{{Edge: "trigger", Tag: intTag}},
		OutEdges: []transition.EdgeType{{Edge: "out", Tag: intTag}},
		Cases: []transition.Case{{
			Name:    "emit",
			Inputs:  []transition.Condition{{{Edge: "trigger", Tag: intTag}}},
			Outputs: []transition.Product{{{Edge: "out", Tag: intTag}}},
		}},
	}
}

func (p *producer) Call(_ string, _ int, in transition.InMap, out transition.OutMap) int {
	p.n += token.MustTake[int](in[transition.EdgeType{Edge: "trigger", Tag: intTag}])
	out[transition.EdgeType{Edge: "out", Tag: intTag}] = token.New(p.n)
	return 0
}

func producerMaker() transition.Transition { return &producer{} }

// consumer accumulates a running sum and logs it on every firing.
type consumer struct {
	log *logrus.Entry
	sum int
}

func (c *consumer) Description() transition.Description {
	return transition.Description{
		InEdges: []transition.EdgeType{{Edge: "in", Tag: intTag}},
		Cases: []transition.Case{{
			Name:    "accumulate",
			Inputs:  []transition.Condition{{{Edge: "in", Tag: intTag}}},
			Outputs: []transition.Product{{}},
		}},
	}
}

func (c *consumer) Call(_ string, _ int, in transition.InMap, _ transition.OutMap) int {
	c.sum += token.MustTake[int](in[transition.EdgeType{Edge: "in", Tag: intTag}])
	c.log.WithField("running_sum", c.sum).Info("consumed")
	return 0
}

func consumerMaker(log *logrus.Entry) transition.Maker {
	return func() transition.Transition { return &consumer{log: log} }
}

func main() {
	rootLogger := logrus.New()
	rootLogger.SetFormatter(new(logrus.JSONFormatter))
	logger = rootLogger.WithField("app", appName)

	if err := makeApp().Run(os.Args); err != nil {
		logger.WithError(err).Error("shutting down due to error")
		os.Exit(1)
	}
}

func makeApp() *cli.App {
	app := cli.NewApp()
	app.Name = appName
	app.Flags = []cli.Flag{
		cli.IntFlag{Name: "triggers", Value: 5},
		cli.IntFlag{Name: "boundary-capacity", Value: 1},
		cli.BoolFlag{Name: "pseudo-state"},
		cli.BoolFlag{Name: "tracing", Usage: "report each firing as a Jaeger span (configured via JAEGER_* env vars)"},
	}
	app.Action = runMain
	return app
}

func runMain(c *cli.Context) error {
	triggers := make([]token.Token, c.Int("triggers"))
	for i := range triggers {
		triggers[i] = token.New(1)
	}

	n := ntpnet.Make().
		SetStartTokens("triggers", triggers...).
		PlaceToTransition("triggers", "trigger", "producer").
		AddTransition("producer", producerMaker).
		TransitionToPlace("producer", "out", "nums").
		PlaceToTransition("nums", "in", "consumer").
		AddTransition("consumer", consumerMaker(logger))

	assignment := ntpnet.ClusterAssignment{
		"producer": "upstream",
		"consumer": "downstream",
	}

	opts := ntpnet.Options{
		PseudoState:             c.Bool("pseudo-state"),
		BoundaryChannelCapacity: c.Int("boundary-capacity"),
	}

	if c.Bool("tracing") {
		tracer, err := tracing.GetTracer(appName)
		if err != nil {
			return xerrors.Errorf("building tracer: %w", err)
		}
		defer tracing.Pool.Close()
		opts.Tracer = tracer
	}

	e, err := ntpnet.Build(n, assignment, opts)
	if err != nil {
		return xerrors.Errorf("building engine: %w", err)
	}
	_, err = e.Run()
	if err != nil {
		return xerrors.Errorf("running engine: %w", err)
	}
	return nil
}
