/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics emits operational metrics for erasure processing. Counters
// are exposed twice: on the process prometheus endpoint and, for alarm wiring,
// as CloudWatch metrics in the GDPR/Erasure namespace. CloudWatch emission is
// best-effort; a failed put never affects an erasure outcome.
package metrics

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/prometheus/client_golang/prometheus"

	sdk "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/aws"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/logging"
)

const (
	Namespace = "GDPR/Erasure"

	RequestsProcessed   = "ErasureRequestsProcessed"
	PartitionsRewritten = "PartitionsRewritten"
	ErasureDuration     = "ErasureDuration"
	ErasureFailures     = "ErasureFailures"
)

var (
	RequestsProcessedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "erasure",
		Name:      "requests_processed_total",
		Help:      "Number of erasure requests that reached COMPLETED.",
	})
	PartitionsRewrittenCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "erasure",
		Name:      "partitions_rewritten_total",
		Help:      "Number of data lake partitions rewritten to exclude a subject.",
	})
	FailuresCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "erasure",
		Name:      "failures_total",
		Help:      "Number of erasure requests that reached FAILED.",
	})
	DurationHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "erasure",
		Name:      "duration_seconds",
		Help:      "End-to-end duration of completed erasure requests.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 11),
	})
)

func init() {
	prometheus.MustRegister(RequestsProcessedCounter, PartitionsRewrittenCounter, FailuresCounter, DurationHistogram)
}

// Emitter publishes named metrics to CloudWatch scoped by environment.
type Emitter struct {
	cloudwatchapi sdk.CloudWatchAPI
	environment   string
}

func NewEmitter(cloudwatchapi sdk.CloudWatchAPI, environment string) *Emitter {
	return &Emitter{
		cloudwatchapi: cloudwatchapi,
		environment:   environment,
	}
}

// Count emits a unitless counter sample.
func (e *Emitter) Count(ctx context.Context, name string, value float64) {
	e.emit(ctx, name, value, types.StandardUnitCount)
}

// Seconds emits a timer sample.
func (e *Emitter) Seconds(ctx context.Context, name string, value float64) {
	e.emit(ctx, name, value, types.StandardUnitSeconds)
}

func (e *Emitter) emit(ctx context.Context, name string, value float64, unit types.StandardUnit) {
	_, err := e.cloudwatchapi.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(Namespace),
		MetricData: []types.MetricDatum{{
			MetricName: aws.String(name),
			Value:      aws.Float64(value),
			Unit:       unit,
			Dimensions: []types.Dimension{{
				Name:  aws.String("Environment"),
				Value: aws.String(e.environment),
			}},
		}},
	})
	if err != nil {
		logging.FromContext(ctx).Warnw("failed to emit metric", "metric", name, "error", err)
	}
}
