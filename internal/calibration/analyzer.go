package calibration

import (
	"context"
	"fmt"

	"github.com/tracelab/startupcal/pkg/core"
)

// Analyzer recomputes quality metrics of a trace after its calibration changed.
// Implementations must not modify their input.
type Analyzer interface {
	Analyze(ctx context.Context, trace *core.TraceResult) (*core.TraceResult, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, trace *core.TraceResult) (*core.TraceResult, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, trace *core.TraceResult) (*core.TraceResult, error) {
	return f(ctx, trace)
}

// DelayAnalyzer derives the startup delay, the time from the manifest request to
// the first rendered frame.
type DelayAnalyzer struct{}

func (DelayAnalyzer) Analyze(ctx context.Context, trace *core.TraceResult) (*core.TraceResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if trace == nil {
		return nil, fmt.Errorf("no trace to analyze")
	}
	if trace.StartupTime < trace.ManifestRequestTime {
		return nil, fmt.Errorf("startup time %.3f precedes manifest request at %.3f",
			trace.StartupTime, trace.ManifestRequestTime)
	}

	out := trace.Clone()
	out.StartupDelay = trace.StartupTime - trace.ManifestRequestTime
	return out, nil
}
