// Package telemetry publishes operational metrics.
//
// Metrics emitted:
//   - RequestCount, RequestLatency: Dims {Method, Route, Status}
//   - BlastRecipients: Dims {Mode, Result}, one datum per outcome per blast
//   - Suppressions: Dims {Reason}
package telemetry

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"hearth/internal/types"
)

// Metric names and dimensions.
const (
	MetricRequestCount    = "RequestCount"
	MetricRequestLatency  = "RequestLatency"
	MetricBlastRecipients = "BlastRecipients"
	MetricSuppressions    = "Suppressions"

	DimMethod = "Method"
	DimRoute  = "Route"
	DimStatus = "Status"
	DimMode   = "Mode"
	DimResult = "Result"
	DimReason = "Reason"
)

// publishTimeout bounds every PutMetricData call.
const publishTimeout = 2 * time.Second

// Collector is everything the application records.
type Collector interface {
	RecordRequest(method, route, status string, duration time.Duration)
	RecordBlast(ctx context.Context, mode string, sent, failed int)
	RecordSuppression(ctx context.Context, reason string, n int)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ Collector = (*CloudWatchCollector)(nil)

// CloudWatchCollector publishes metrics with PutMetricData. Publishing
// failures are logged and never returned.
type CloudWatchCollector struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchCollector creates a collector publishing to namespace.
func NewCloudWatchCollector(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchCollector {
	return &CloudWatchCollector{client: client, namespace: namespace, logger: logger}
}

// RecordRequest emits a count and a latency datum for one HTTP request.
// route should be the router pattern, not the raw path.
func (c *CloudWatchCollector) RecordRequest(method, route, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		dim(DimMethod, method),
		dim(DimRoute, route),
		dim(DimStatus, status),
	}

	c.put(context.Background(), []cwtypes.MetricDatum{
		{
			MetricName: aws.String(MetricRequestCount),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
		{
			MetricName: aws.String(MetricRequestLatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		},
	}, "route", route)
}

// RecordBlast emits sent and failed recipient counts for one blast.
func (c *CloudWatchCollector) RecordBlast(ctx context.Context, mode string, sent, failed int) {
	datum := func(result string, n int) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(MetricBlastRecipients),
			Value:      aws.Float64(float64(n)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{dim(DimMode, mode), dim(DimResult, result)},
		}
	}
	c.put(ctx, []cwtypes.MetricDatum{datum("sent", sent), datum("failed", failed)}, "mode", mode)
}

// RecordSuppression emits the number of clients suppressed by one event.
func (c *CloudWatchCollector) RecordSuppression(ctx context.Context, reason string, n int) {
	c.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(MetricSuppressions),
			Value:      aws.Float64(float64(n)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{dim(DimReason, reason)},
		},
	}, "reason", reason)
}

func (c *CloudWatchCollector) put(ctx context.Context, data []cwtypes.MetricDatum, logArgs ...any) {
	// Detached: the request that triggered the datum may already be done.
	ctx = context.WithoutCancel(ctx)
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(c.namespace),
		MetricData: data,
	})
	if err != nil {
		c.logger.Error("failed to publish metrics",
			append([]any{"error", err.Error(), "metric", aws.ToString(data[0].MetricName)}, logArgs...)...)
	}
}

func dim(name, value string) cwtypes.Dimension {
	if value == "" {
		value = "unknown"
	}
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// Noop discards everything. It is used when metrics are disabled.
type Noop struct{}

var _ Collector = Noop{}

func (Noop) RecordRequest(string, string, string, time.Duration) {}
func (Noop) RecordBlast(context.Context, string, int, int)       {}
func (Noop) RecordSuppression(context.Context, string, int)      {}
