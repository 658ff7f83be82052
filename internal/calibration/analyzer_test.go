package calibration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelab/startupcal/pkg/core"
)

func TestDelayAnalyzer(t *testing.T) {
	in := &core.TraceResult{StartupTime: 4.25, ManifestRequestTime: 1.0}

	out, err := DelayAnalyzer{}.Analyze(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, 3.25, out.StartupDelay)
	assert.Zero(t, in.StartupDelay, "input not modified")
}

func TestDelayAnalyzer_Errors(t *testing.T) {
	_, err := DelayAnalyzer{}.Analyze(context.Background(), nil)
	assert.Error(t, err)

	_, err = DelayAnalyzer{}.Analyze(context.Background(), &core.TraceResult{StartupTime: 1, ManifestRequestTime: 2})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = DelayAnalyzer{}.Analyze(ctx, &core.TraceResult{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzerFunc(t *testing.T) {
	var a Analyzer = AnalyzerFunc(func(_ context.Context, tr *core.TraceResult) (*core.TraceResult, error) {
		return tr, nil
	})
	tr := &core.TraceResult{Folder: "x"}

	out, err := a.Analyze(context.Background(), tr)

	require.NoError(t, err)
	assert.Same(t, tr, out)
}
