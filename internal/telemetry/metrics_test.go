package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hearth/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	mu        sync.Mutex
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
	sawCancel bool
}

func (m *mockCloudWatchClient) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, params)
	if ctx.Err() != nil {
		m.sawCancel = true
	}
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func discardLogger() types.Logger {
	return types.NewSlogAdapter(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func dims(d []cwtypes.Dimension) map[string]string {
	out := make(map[string]string, len(d))
	for _, x := range d {
		out[aws.ToString(x.Name)] = aws.ToString(x.Value)
	}
	return out
}

func TestCloudWatchCollector_RecordRequest(t *testing.T) {
	cw := &mockCloudWatchClient{}
	c := NewCloudWatchCollector(cw, "Hearth", discardLogger())

	c.RecordRequest("POST", "/admin/api/blast", "200", 1500*time.Millisecond)

	require.Len(t, cw.calls, 1)
	in := cw.calls[0]
	assert.Equal(t, "Hearth", aws.ToString(in.Namespace))
	require.Len(t, in.MetricData, 2)

	count, latency := in.MetricData[0], in.MetricData[1]
	assert.Equal(t, MetricRequestCount, aws.ToString(count.MetricName))
	assert.Equal(t, 1.0, aws.ToFloat64(count.Value))
	assert.Equal(t, cwtypes.StandardUnitCount, count.Unit)

	assert.Equal(t, MetricRequestLatency, aws.ToString(latency.MetricName))
	assert.Equal(t, 1500.0, aws.ToFloat64(latency.Value))
	assert.Equal(t, cwtypes.StandardUnitMilliseconds, latency.Unit)

	want := map[string]string{DimMethod: "POST", DimRoute: "/admin/api/blast", DimStatus: "200"}
	assert.Equal(t, want, dims(count.Dimensions))
	assert.Equal(t, want, dims(latency.Dimensions))
}

func TestCloudWatchCollector_RecordBlast(t *testing.T) {
	cw := &mockCloudWatchClient{}
	c := NewCloudWatchCollector(cw, "Hearth", discardLogger())

	c.RecordBlast(context.Background(), "blast", 41, 2)

	require.Len(t, cw.calls, 1)
	data := cw.calls[0].MetricData
	require.Len(t, data, 2)
	assert.Equal(t, 41.0, aws.ToFloat64(data[0].Value))
	assert.Equal(t, map[string]string{DimMode: "blast", DimResult: "sent"}, dims(data[0].Dimensions))
	assert.Equal(t, 2.0, aws.ToFloat64(data[1].Value))
	assert.Equal(t, map[string]string{DimMode: "blast", DimResult: "failed"}, dims(data[1].Dimensions))
}

func TestCloudWatchCollector_RecordSuppression(t *testing.T) {
	cw := &mockCloudWatchClient{}
	c := NewCloudWatchCollector(cw, "Hearth", discardLogger())

	c.RecordSuppression(context.Background(), "", 3)

	require.Len(t, cw.calls, 1)
	datum := cw.calls[0].MetricData[0]
	assert.Equal(t, MetricSuppressions, aws.ToString(datum.MetricName))
	assert.Equal(t, 3.0, aws.ToFloat64(datum.Value))
	assert.Equal(t, map[string]string{DimReason: "unknown"}, dims(datum.Dimensions))
}

func TestCloudWatchCollector_CanceledContextStillPublishes(t *testing.T) {
	cw := &mockCloudWatchClient{}
	c := NewCloudWatchCollector(cw, "Hearth", discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.RecordBlast(ctx, "test", 1, 0)

	require.Len(t, cw.calls, 1)
	assert.False(t, cw.sawCancel)
}

func TestCloudWatchCollector_ErrorsAreSwallowed(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: errors.New("throttled")}
	c := NewCloudWatchCollector(cw, "Hearth", discardLogger())

	assert.NotPanics(t, func() {
		c.RecordRequest("GET", "/health", "200", time.Millisecond)
		c.RecordSuppression(context.Background(), "complaint", 1)
	})
	assert.Len(t, cw.calls, 2)
}

func TestNoop(t *testing.T) {
	var c Collector = Noop{}
	assert.NotPanics(t, func() {
		c.RecordRequest("GET", "/", "200", time.Second)
		c.RecordBlast(context.Background(), "blast", 1, 1)
		c.RecordSuppression(context.Background(), "bounce", 1)
	})
}
