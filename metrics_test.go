package toolhost_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/emberchat/toolhost"
	"github.com/emberchat/toolhost/servers/echo"
)

func newTestMetrics(t *testing.T) (*toolhost.Metrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := toolhost.NewMetrics(provider.Meter("toolhost-test"))
	require.NoError(t, err)
	return m, reader
}

// counterValue sums all data points of the named int64 counter; 0 when the
// instrument has recorded nothing.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestMetricsRecordsCalls(t *testing.T) {
	m, reader := newTestMetrics(t)

	reg := toolhost.NewRegistry(
		toolhost.WithRegistryMetrics(m),
		toolhost.WithSessionOptions(transportPerSession(func() toolhost.Transport {
			return newEchoTransport(t)
		})),
	)
	t.Cleanup(reg.Close)
	ctx := testContext(t)

	require.NoError(t, reg.Connect(ctx, "alpha", toolhost.ServerDescriptor{}))

	_, err := reg.CallTool(ctx, "alpha", "mock_echo", json.RawMessage(`{"message":"hi"}`))
	require.NoError(t, err)

	_, err = reg.CallTool(ctx, "alpha", "no_such_tool", json.RawMessage(`{}`))
	require.Error(t, err)

	assert.Equal(t, int64(1), counterValue(t, reader, "toolhost.server.connects"))
	assert.Equal(t, int64(0), counterValue(t, reader, "toolhost.server.connect_failures"))
	assert.Equal(t, int64(2), counterValue(t, reader, "toolhost.tool.calls"))
	assert.Equal(t, int64(1), counterValue(t, reader, "toolhost.tool.call_failures"))
}

func TestMetricsRecordsConnectFailures(t *testing.T) {
	m, reader := newTestMetrics(t)

	reg := toolhost.NewRegistry(
		toolhost.WithRegistryMetrics(m),
		toolhost.WithSessionOptions(transportPerSession(func() toolhost.Transport {
			return newEchoTransport(t, echo.WithProtocolVersion("1990-01-01"))
		})),
	)
	t.Cleanup(reg.Close)
	ctx := testContext(t)

	err := reg.Connect(ctx, "alpha", toolhost.ServerDescriptor{})
	require.ErrorIs(t, err, toolhost.ErrUnsupportedProtocol)

	assert.Equal(t, int64(1), counterValue(t, reader, "toolhost.server.connects"))
	assert.Equal(t, int64(1), counterValue(t, reader, "toolhost.server.connect_failures"))
}

func TestMetricsUnknownServerCountsAsFailure(t *testing.T) {
	m, reader := newTestMetrics(t)

	reg := toolhost.NewRegistry(toolhost.WithRegistryMetrics(m))
	ctx := testContext(t)

	_, err := reg.CallTool(ctx, "ghost", "mock_echo", nil)
	require.ErrorIs(t, err, toolhost.ErrUnknownServer)

	assert.Equal(t, int64(1), counterValue(t, reader, "toolhost.tool.calls"))
	assert.Equal(t, int64(1), counterValue(t, reader, "toolhost.tool.call_failures"))
}
