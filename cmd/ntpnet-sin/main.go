// Command ntpnet-sin is a single-cluster demo net: a generator
// transition samples a sine wave over a time span and a stats
// transition folds the samples into a running min/max/mean, the direct
// translation of the sin_gen half of original_source/ntpnets/src/bin/sin2.rs
// (the fft_real half is plotting-only and out of scope, spec.md §1).
package main

import (
	"fmt"
	"math"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/xerrors"

	"github.com/MarshallRawson/ntpnet"
	"github.com/MarshallRawson/ntpnet/telemetry"
	"github.com/MarshallRawson/ntpnet/token"
	"github.com/MarshallRawson/ntpnet/transition"
)

var (
	appName = "ntpnet-sin"
	logger  *logrus.Entry
)

// timeSpan is the generator's sole input token: a (start, end, count)
// sampling request.
type timeSpan struct {
	bot, top float64
	n        int
}

// samples is the generator's output and the stats transition's input.
type samples struct {
	t, f []float64
}

var (
	timeSpanTag = token.TagOf[timeSpan]()
	samplesTag  = token.TagOf[samples]()
)

type sinGen struct{}

func (sinGen) Description() transition.Description {
	return transition.Description{
		InEdges:  []transition.EdgeType{{Edge: "t", Tag: timeSpanTag}},
		OutEdges: []transition.EdgeType{{Edge: "f", Tag: samplesTag}},
		Cases: []transition.Case{{
			Name:    "sin",
			Inputs:  []transition.Condition{{{Edge: "t", Tag: timeSpanTag}}},
			Outputs: []transition.Product{{{Edge: "f", Tag: samplesTag}}},
		}},
	}
}

func (sinGen) Call(_ string, _ int, in transition.InMap, out transition.OutMap) int {
	span := token.MustTake[timeSpan](in[transition.EdgeType{Edge: "t", Tag: timeSpanTag}])

	t := make([]float64, span.n)
	f := make([]float64, span.n)
	for i := 0; i < span.n; i++ {
		t[i] = span.bot + float64(i)*(span.top-span.bot)/float64(span.n)
		f[i] = math.Sin(t[i])
	}

	out[transition.EdgeType{Edge: "f", Tag: samplesTag}] = token.New(samples{t: t, f: f})
	return 0
}

func sinGenMaker() transition.Transition { return sinGen{} }

type stats struct {
	log *logrus.Entry
}

func (stats) Description() transition.Description {
	return transition.Description{
		InEdges: []transition.EdgeType{{Edge: "s", Tag: samplesTag}},
		Cases: []transition.Case{{
			Name:    "fold",
			Inputs:  []transition.Condition{{{Edge: "s", Tag: samplesTag}}},
			Outputs: []transition.Product{{}},
		}},
	}
}

func (s stats) Call(_ string, _ int, in transition.InMap, _ transition.OutMap) int {
	v := token.MustTake[samples](in[transition.EdgeType{Edge: "s", Tag: samplesTag}])
	min, max, sum := v.f[0], v.f[0], 0.0
	for _, y := range v.f {
		if y < min {
			min = y
		}
		if y > max {
			max = y
		}
		sum += y
	}
	s.log.WithFields(logrus.Fields{
		"min":  min,
		"max":  max,
		"mean": sum / float64(len(v.f)),
	}).Info("sampled sin wave")
	return 0
}

func statsMaker(log *logrus.Entry) transition.Maker {
	return func() transition.Transition { return stats{log: log} }
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
		cli.BoolFlag{Name: "local-state-trace"},
		cli.BoolFlag{Name: "reactor-timing"},
		cli.BoolFlag{Name: "transition-timing"},
		cli.BoolFlag{Name: "pseudo-state"},
		cli.Float64Flag{Name: "memory-sample-period", Value: 0},
		cli.IntFlag{Name: "samples", Value: 1000},
	}
	app.Action = runMain
	return app
}

func runMain(c *cli.Context) error {
	n := ntpnet.Make().
		SetStartTokens("time", token.New(timeSpan{bot: 0, top: math.Pi * 2, n: c.Int("samples")})).
		PlaceToTransition("time", "t", "sin_gen").
		AddTransition("sin_gen", sinGenMaker).
		TransitionToPlace("sin_gen", "f", "s").
		PlaceToTransition("s", "s", "stats").
		AddTransition("stats", statsMaker(logger))

	assignment := ntpnet.ClusterAssignment{
		"sin_gen": "main",
		"stats":   "main",
	}

	opts := ntpnet.Options{
		LocalStateTrace:           c.Bool("local-state-trace"),
		ReactorTiming:             c.Bool("reactor-timing"),
		TransitionTiming:          c.Bool("transition-timing"),
		PseudoState:               c.Bool("pseudo-state"),
		MemorySamplePeriodSeconds: c.Float64("memory-sample-period"),
		Sink:                      telemetry.MultiSink{telemetry.NewPrometheusSink()},
	}

	e, err := ntpnet.Build(n, assignment, opts)
	if err != nil {
		return xerrors.Errorf("building engine: %w", err)
	}

	residual, err := e.Run()
	if err != nil {
		return xerrors.Errorf("running engine: %w", err)
	}
	fmt.Printf("residual places: %d\n", len(residual))
	return nil
}
