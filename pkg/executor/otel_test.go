package executor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	metricdata "go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/veritas-run/core/pkg/audit"
	"github.com/veritas-run/core/pkg/contracts"
	"github.com/veritas-run/core/pkg/executor"
	"github.com/veritas-run/core/pkg/policy"
	"github.com/veritas-run/core/pkg/verify"
)

// TestStep_EmitsSpanAndMetric confirms the executor's OpenTelemetry
// instrumentation is wired to whatever TracerProvider/MeterProvider the
// host supplies, rather than only to the process-global no-op default.
func TestStep_EmitsSpanAndMetric(t *testing.T) {
	spanRecorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	eng, err := policy.FromTOMLString(`
[[rules]]
id = "allow-anything"
action = "*"
resource = "*"
verdict = "allow"
`)
	require.NoError(t, err)

	writer := audit.NewInMemoryAuditWriter("exec-otel")
	ex := executor.New(eng, writer, verify.NewSchemaVerifier(), contracts.OutputSchema{SchemaID: "noop"},
		executor.WithTracerProvider(tp),
		executor.WithMeterProvider(mp),
	)

	agent := &scriptedAgent{action: "step", resource: "loop", terminal: true, output: contracts.AgentOutput{Payload: map[string]any{}}}
	_, err = ex.Step(context.Background(), agent, freshState(), contracts.AgentInput{Kind: "tick"}, contracts.NewCapabilitySet())
	require.NoError(t, err)

	spans := spanRecorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "executor.step", spans[0].Name())

	var collected metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &collected))
	require.NotEmpty(t, collected.ScopeMetrics)

	var names []string
	for _, m := range collected.ScopeMetrics[0].Metrics {
		names = append(names, m.Name)
	}
	assert.Contains(t, names, "executor.steps")
	assert.Contains(t, names, "executor.step.duration")
}
