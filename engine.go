package ntpnet

import (
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/MarshallRawson/ntpnet/telemetry"
	"github.com/MarshallRawson/ntpnet/token"
)

// Residual is the engine's final answer: for every place with at least
// one token left, the FIFO of tokens remaining under each TypeTag
// (spec.md §6, "Engine::run").
type Residual map[string]map[token.TypeTag][]token.Token

// Engine is the top-level façade: it builds one WorkCluster per cluster
// name in a ClusterAssignment plus the Monitor, runs them to completion, and
// returns the residual marking (spec.md §2, §4.5).
type Engine struct {
	log      *logrus.Entry
	clusters []*WorkCluster
	monitor  *Monitor
	deltaCh  chan *StateDelta
	opts     Options
}

// Build validates net, partitions it per assignment, and constructs one
// WorkCluster per cluster name plus the Monitor that will watch them.
// It does not start any goroutines; call Run for that.
func Build(n *Net, assignment ClusterAssignment, opts Options) (*Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}

	plans, err := Partition(n, assignment, opts.BoundaryChannelCapacity)
	if err != nil {
		return nil, err
	}

	terminate := make(chan struct{})
	deltaCh := make(chan *StateDelta, 64)

	monitor := NewMonitor(n.Places, opts.Clock, opts.Sink, opts.PseudoState)
	monitor.terminate = terminate

	e := &Engine{
		log:     logrus.WithField("component", "engine"),
		opts:    opts,
		monitor: monitor,
		deltaCh: deltaCh,
	}
	for _, plan := range plans {
		e.clusters = append(e.clusters, NewWorkCluster(plan, deltaCh, terminate, opts))
	}
	return e, nil
}

// Run starts one goroutine per cluster plus the monitor, waits for every
// cluster to exit, and returns the union of their residual markings
// (non-empty queues only) plus every cluster's fatal error, aggregated, if any
// (spec.md §6, "Engine::run", and §7's MalformedProduct policy).
func (e *Engine) Run() (Residual, error) {
	sigCh := make(chan []map[PlaceTag]bool, len(e.clusters))
	deathCh := make(chan clusterDeath, len(e.clusters))

	var wg sync.WaitGroup
	residuals := make([]map[string]*marking, len(e.clusters))
	errs := make([]error, len(e.clusters))

	monitorDone := make(chan struct{})
	go func() {
		e.monitor.Run(sigCh, e.deltaCh, deathCh, len(e.clusters))
		close(monitorDone)
	}()

	if e.opts.MemorySamplePeriodSeconds > 0 {
		stop := make(chan struct{})
		go e.sampleMemory(time.Duration(e.opts.MemorySamplePeriodSeconds*float64(time.Second)), stop)
		defer close(stop)
	}

	for i, c := range e.clusters {
		wg.Add(1)
		go func(i int, c *WorkCluster) {
			defer wg.Done()
			c.Start()
			sigCh <- c.Signatures()
			residual, err := c.Run()
			residuals[i] = residual
			errs[i] = err
			if err != nil {
				e.log.WithError(err).WithField("cluster", c.name).Error("cluster exited with a fatal error")
				select {
				case deathCh <- clusterDeath{cluster: c.name, err: err}:
				default:
				}
			}
		}(i, c)
	}

	wg.Wait()
	<-monitorDone

	out := make(Residual)
	var merr error
	for i, residual := range residuals {
		if errs[i] != nil {
			merr = multierror.Append(merr, errs[i])
		}
		for place, m := range residual {
			for tag, q := range m.byTag {
				if len(q) == 0 {
					continue
				}
				if out[place] == nil {
					out[place] = make(map[token.TypeTag][]token.Token)
				}
				out[place][tag] = append(out[place][tag], q...)
			}
		}
	}
	return out, merr
}

// sampleMemory periodically emits an RSS-like figure until stop is
// closed, waiting on the injected clock rather than a bare time.Ticker
// so tests can drive it deterministically. The engine has no portable
// way to read process memory, so this reports zero; a caller that needs
// real RSS should supply its own periodic sampler via opts.Sink instead.
func (e *Engine) sampleMemory(period time.Duration, stop <-chan struct{}) {
	for {
		select {
		case <-e.opts.Clock.After(period):
			e.opts.Sink.Emit(telemetry.MemorySampleDatum{RSSBytes: 0})
		case <-stop:
			return
		}
	}
}
