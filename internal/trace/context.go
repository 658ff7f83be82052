package trace

import (
	"sync"

	"github.com/tracelab/startupcal/pkg/core"
)

// Context holds the trace currently under calibration and its latest analysis
type Context struct {
	mu       sync.RWMutex
	trace    *core.TraceResult
	analyzed *core.TraceResult
}

// NewContext creates a Context holding trace
func NewContext(trace *core.TraceResult) *Context {
	if trace == nil {
		trace = &core.TraceResult{Folder: "No trace loaded"}
	}
	return &Context{trace: trace}
}

// Trace returns the trace as loaded
func (tc *Context) Trace() *core.TraceResult {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.trace
}

// Folder returns the trace folder records are keyed by
func (tc *Context) Folder() string {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.trace.Folder
}

// Analyzed returns the most recent analyzer output, or the loaded trace when no
// calibration has been committed yet
func (tc *Context) Analyzed() *core.TraceResult {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	if tc.analyzed == nil {
		return tc.trace
	}
	return tc.analyzed
}

// SetAnalyzed stores the analyzer output of a commit
func (tc *Context) SetAnalyzed(result *core.TraceResult) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.analyzed = result
}
