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

// Package operator assembles the orchestrator's runtime dependencies: the AWS
// clients, the request log store and stream reader, the step providers, and
// the trigger controller that drives them.
package operator

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"k8s.io/utils/clock"

	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/controllers/trigger"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/logging"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/metrics"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/operator/options"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/orchestrator"
	athenaprovider "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/providers/athena"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/providers/locator"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/providers/objectstore"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/providers/rewriter"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/providers/warehouse"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/requestlog"
)

// Operator holds every wired component of the running process.
type Operator struct {
	Clock clock.Clock

	Store        requestlog.Store
	Stream       *requestlog.StreamReader
	Orchestrator *orchestrator.Orchestrator
	Trigger      *trigger.Controller
}

func NewOperator(ctx context.Context, opts *options.Options) (context.Context, *Operator) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(5))
	if err != nil {
		logging.FromContext(ctx).Fatalw("failed loading AWS config", "error", err)
	}
	if cfg.Region == "" {
		logging.FromContext(ctx).Fatalw("AWS region not configured")
	}
	logging.FromContext(ctx).Debugw("loaded AWS config", "region", cfg.Region)

	clk := clock.RealClock{}
	dynamodbapi := dynamodb.NewFromConfig(cfg)

	store := requestlog.NewDefaultStore(dynamodbapi, opts.RequestsTable, clk)
	stream := requestlog.NewStreamReader(dynamodbstreams.NewFromConfig(cfg), dynamodbapi, opts.RequestsTable)

	athenaProvider := athenaprovider.NewDefaultProvider(athena.NewFromConfig(cfg), opts.AthenaWorkgroup,
		clk, opts.PollInterval, opts.QueryTimeout)
	objectstoreProvider := objectstore.NewDefaultProvider(s3.NewFromConfig(cfg), opts.CuratedBucket)
	locatorProvider := locator.NewDefaultProvider(athenaProvider, opts.GlueDatabase, opts.GlueTable)
	rewriterProvider := rewriter.NewDefaultProvider(athenaProvider, objectstoreProvider, glue.NewFromConfig(cfg),
		clk, opts.CuratedBucket, opts.GlueDatabase, opts.GlueTable)
	warehouseProvider := warehouse.NewDefaultProvider(redshiftdata.NewFromConfig(cfg), opts.RedshiftWorkgroup,
		opts.RedshiftDatabase, clk, opts.PollInterval, opts.DeleteTimeout)
	emitter := metrics.NewEmitter(cloudwatch.NewFromConfig(cfg), opts.EnvironmentName)

	orch := orchestrator.NewOrchestrator(store, locatorProvider, rewriterProvider, warehouseProvider,
		emitter, clk, opts.RequestTimeout)

	return ctx, &Operator{
		Clock:        clk,
		Store:        store,
		Stream:       stream,
		Orchestrator: orch,
		Trigger:      trigger.NewController(stream, orch, opts.PollInterval, opts.WorkerCount),
	}
}
