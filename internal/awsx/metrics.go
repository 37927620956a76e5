package awsx

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metrics publishes operational counters and gauges to CloudWatch.
// Publishing is best-effort: callers treat failures as cosmetic.
type Metrics struct {
	client    CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

// NewMetrics returns a Metrics publisher bound to a namespace.
func NewMetrics(client CloudWatchAPI, namespace string) *Metrics {
	return &Metrics{
		client:    client,
		namespace: namespace,
		nowFunc:   time.Now,
	}
}

// Count records an incrementing counter value.
func (m *Metrics) Count(ctx context.Context, name string, value float64) error {
	return m.put(ctx, name, value, cwtypes.StandardUnitCount)
}

// Gauge records a point-in-time level, e.g. current queue depth.
func (m *Metrics) Gauge(ctx context.Context, name string, value float64) error {
	return m.put(ctx, name, value, cwtypes.StandardUnitNone)
}

func (m *Metrics) put(ctx context.Context, name string, value float64, unit cwtypes.StandardUnit) error {
	if m == nil || m.client == nil {
		return nil
	}
	now := m.nowFunc()
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: &m.namespace,
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: &name,
				Value:      &value,
				Unit:       unit,
				Timestamp:  &now,
			},
		},
	})
	return err
}
