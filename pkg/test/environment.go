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

// Package test wires every fake AWS client into the real providers so suites
// exercise the production code paths end to end in memory.
package test

import (
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/fake"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/metrics"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/orchestrator"
	athenaprovider "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/providers/athena"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/providers/locator"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/providers/objectstore"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/providers/rewriter"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/providers/warehouse"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/requestlog"
)

const (
	CuratedBucket     = "curated-health-bucket"
	GlueDatabase      = "health_lake"
	GlueTable         = "curated_health_records"
	AthenaWorkgroup   = "gdpr-erasure"
	RedshiftWorkgroup = "gdpr-analytics"
	RedshiftDatabase  = "healthcare_analytics"
	RequestsTable     = "erasure-requests"
	EnvironmentName   = "test"
)

// StartTime is the fake clock's epoch; staging table nonces derive from it.
var StartTime = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

// Environment holds the fakes and the real components wired on top of them.
// The fakes answer asynchronous polls with terminal states on the first
// probe, so nothing in a suite ever sleeps.
type Environment struct {
	Clock *clocktesting.FakeClock

	AthenaAPI          *fake.AthenaAPI
	S3API              *fake.S3API
	GlueAPI            *fake.GlueAPI
	RedshiftDataAPI    *fake.RedshiftDataAPI
	DynamoDBAPI        *fake.DynamoDBAPI
	DynamoDBStreamsAPI *fake.DynamoDBStreamsAPI
	CloudWatchAPI      *fake.CloudWatchAPI

	Store               *requestlog.DefaultStore
	Stream              *requestlog.StreamReader
	AthenaProvider      *athenaprovider.DefaultProvider
	ObjectStoreProvider *objectstore.DefaultProvider
	LocatorProvider     *locator.DefaultProvider
	RewriterProvider    *rewriter.DefaultProvider
	WarehouseProvider   *warehouse.DefaultProvider
	Emitter             *metrics.Emitter
	Orchestrator        *orchestrator.Orchestrator
}

func NewEnvironment() *Environment {
	env := &Environment{
		Clock:              clocktesting.NewFakeClock(StartTime),
		AthenaAPI:          &fake.AthenaAPI{},
		S3API:              fake.NewS3API(),
		GlueAPI:            &fake.GlueAPI{},
		RedshiftDataAPI:    &fake.RedshiftDataAPI{},
		DynamoDBAPI:        fake.NewDynamoDBAPI(),
		DynamoDBStreamsAPI: fake.NewDynamoDBStreamsAPI(),
		CloudWatchAPI:      &fake.CloudWatchAPI{},
	}

	env.Store = requestlog.NewDefaultStore(env.DynamoDBAPI, RequestsTable, env.Clock)
	env.Stream = requestlog.NewStreamReader(env.DynamoDBStreamsAPI, env.DynamoDBAPI, RequestsTable)
	env.AthenaProvider = athenaprovider.NewDefaultProvider(env.AthenaAPI, AthenaWorkgroup,
		env.Clock, 2*time.Second, 300*time.Second)
	env.ObjectStoreProvider = objectstore.NewDefaultProvider(env.S3API, CuratedBucket)
	env.LocatorProvider = locator.NewDefaultProvider(env.AthenaProvider, GlueDatabase, GlueTable)
	env.RewriterProvider = rewriter.NewDefaultProvider(env.AthenaProvider, env.ObjectStoreProvider,
		env.GlueAPI, env.Clock, CuratedBucket, GlueDatabase, GlueTable)
	env.WarehouseProvider = warehouse.NewDefaultProvider(env.RedshiftDataAPI, RedshiftWorkgroup,
		RedshiftDatabase, env.Clock, 2*time.Second, 120*time.Second)
	env.Emitter = metrics.NewEmitter(env.CloudWatchAPI, EnvironmentName)
	env.Orchestrator = orchestrator.NewOrchestrator(env.Store, env.LocatorProvider, env.RewriterProvider,
		env.WarehouseProvider, env.Emitter, env.Clock, 900*time.Second)
	return env
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (env *Environment) Reset() {
	env.Clock.SetTime(StartTime)
	env.AthenaAPI.Reset()
	env.S3API.Reset()
	env.GlueAPI.Reset()
	env.RedshiftDataAPI.Reset()
	env.DynamoDBAPI.Reset()
	env.DynamoDBStreamsAPI.Reset()
	env.CloudWatchAPI.Reset()
}
