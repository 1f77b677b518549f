// Package tracing builds the opentracing.Tracer that cluster.go's
// Options.Tracer accepts, so a demo binary can opt into per-firing spans
// without the engine itself depending on a concrete tracing backend.
package tracing

import (
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/opentracing/opentracing-go"
	"github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
)

// Pool tracks every tracer this process has constructed so a caller can
// flush and close them all on shutdown.
var Pool = new(pool)

type pool struct {
	mu            sync.Mutex
	tracerClosers []io.Closer
}

// Close flushes and closes every tracer the pool has handed out.
func (p *pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	for _, closer := range p.tracerClosers {
		if cErr := closer.Close(); cErr != nil {
			err = multierror.Append(err, cErr)
		}
	}
	p.tracerClosers = nil
	return err
}

// GetTracer builds a Jaeger tracer for serviceName, sampling every span
// (an engine run is typically short-lived and low-volume enough that
// head-based sampling would just lose the one trace that matters).
// Configuration comes from the standard JAEGER_* environment variables;
// see jaegercfg.FromEnv.
func GetTracer(serviceName string) (opentracing.Tracer, error) {
	cfg, err := jaegercfg.FromEnv()
	if err != nil {
		return nil, err
	}
	cfg.Sampler = &jaegercfg.SamplerConfig{
		Type:  jaeger.SamplerTypeConst,
		Param: 1,
	}
	cfg.ServiceName = serviceName

	tracer, closer, err := cfg.NewTracer()
	if err != nil {
		return nil, err
	}

	Pool.mu.Lock()
	Pool.tracerClosers = append(Pool.tracerClosers, closer)
	Pool.mu.Unlock()
	return tracer, nil
}

// StartFiringSpan starts the span that covers one transition firing,
// tagged with the transition and case names so a Jaeger trace reads as
// a timeline of (transition, case) firings rather than anonymous spans.
// Returns nil if tracer is nil, matching cluster.go's opt-in Options.Tracer.
func StartFiringSpan(tracer opentracing.Tracer, transitionName, caseName string) opentracing.Span {
	if tracer == nil {
		return nil
	}
	span := tracer.StartSpan("ntpnet.fire")
	span.SetTag("transition", transitionName)
	span.SetTag("case", caseName)
	return span
}
