package extraction

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/tracelab/startupcal/internal/extraction"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
