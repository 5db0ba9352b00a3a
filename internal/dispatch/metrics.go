package dispatch

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"letterdrop/internal/types"
)

// SendResult labels the outcome dimension of a dispatch attempt.
type SendResult string

const (
	ResultSent         SendResult = "sent"
	ResultFailed       SendResult = "failed"
	ResultRescheduled  SendResult = "rescheduled"
	ResultDeadLettered SendResult = "dead_lettered"
)

// Metrics is the telemetry interface for the dispatch worker. Implementations
// must be non-blocking from the worker's perspective; failures to publish are
// logged, never propagated.
type Metrics interface {
	RecordSend(ctx context.Context, provider string, result SendResult)
	RecordSendLatency(ctx context.Context, provider string, d time.Duration)
	RecordBacklog(ctx context.Context, due int64)
	RecordReaped(ctx context.Context, count int64)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics implements Metrics by emitting to AWS CloudWatch.
//
// Metrics emitted:
//   - DeliveryAttempt: Dims {Provider, Result} -- on every attempt outcome
//   - DeliveryAttemptLatency: Dims {Provider} -- provider call duration
//   - OutboxBacklog: No dims -- due pending tasks at poll time
//   - TasksReaped: No dims -- expired claims returned to pending
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// Compile-time assertion that CloudWatchMetrics implements Metrics.
var _ Metrics = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to the given
// namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordSend emits a DeliveryAttempt metric with Provider and Result dimensions.
func (m *CloudWatchMetrics) RecordSend(ctx context.Context, provider string, result SendResult) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricDeliveryAttempt),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(types.DimProvider),
						Value: aws.String(provider),
					},
					{
						Name:  aws.String("Result"),
						Value: aws.String(string(result)),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record send metric",
			"error", err.Error(),
			"provider", provider,
			"result", string(result),
		)
	}
}

// RecordSendLatency emits the provider call duration in milliseconds.
func (m *CloudWatchMetrics) RecordSendLatency(ctx context.Context, provider string, d time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricDeliveryAttempt + "Latency"),
				Value:      aws.Float64(float64(d.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(types.DimProvider),
						Value: aws.String(provider),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record latency metric",
			"error", err.Error(),
			"provider", provider,
			"duration_ms", d.Milliseconds(),
		)
	}
}

// RecordBacklog emits the count of due pending tasks.
func (m *CloudWatchMetrics) RecordBacklog(ctx context.Context, due int64) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricOutboxBacklog),
				Value:      aws.Float64(float64(due)),
				Unit:       cwtypes.StandardUnitCount,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record backlog metric", "error", err.Error())
	}
}

// RecordReaped emits the count of expired claims returned to pending.
func (m *CloudWatchMetrics) RecordReaped(ctx context.Context, count int64) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricTasksReaped),
				Value:      aws.Float64(float64(count)),
				Unit:       cwtypes.StandardUnitCount,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record reaped metric", "error", err.Error())
	}
}

// NoopMetrics is the Metrics implementation used when telemetry is disabled.
type NoopMetrics struct{}

var _ Metrics = NoopMetrics{}

func (NoopMetrics) RecordSend(context.Context, string, SendResult)           {}
func (NoopMetrics) RecordSendLatency(context.Context, string, time.Duration) {}
func (NoopMetrics) RecordBacklog(context.Context, int64)                     {}
func (NoopMetrics) RecordReaped(context.Context, int64)                      {}
