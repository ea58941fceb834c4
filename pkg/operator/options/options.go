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

package options

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"

	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/utils/env"
)

type optionsKey struct{}

// Options for running this binary
type Options struct {
	*flag.FlagSet

	// Process
	EnvironmentName string
	MetricsPort     int
	Debug           bool
	WorkerCount     int

	// Data lake
	CuratedBucket   string
	GlueDatabase    string
	GlueTable       string
	AthenaWorkgroup string

	// Warehouse
	RedshiftWorkgroup string
	RedshiftDatabase  string

	// Request log
	RequestsTable string

	// Timeouts
	QueryTimeout   time.Duration
	DeleteTimeout  time.Duration
	RequestTimeout time.Duration
	PollInterval   time.Duration
}

// New creates an Options struct and registers CLI flags and environment variables to fill-in the Options struct fields
func New() *Options {
	opts := &Options{}
	f := flag.NewFlagSet("erasure-orchestrator", flag.ContinueOnError)
	opts.FlagSet = f

	f.StringVar(&opts.EnvironmentName, "environment-name", env.WithDefaultString("ENVIRONMENT_NAME", "gdpr-healthcare"), "The environment name used as a metric dimension and resource-name prefix")
	f.IntVar(&opts.MetricsPort, "metrics-port", env.WithDefaultInt("METRICS_PORT", 8080), "The port the metric endpoint binds to for operating metrics about the orchestrator itself")
	f.BoolVar(&opts.Debug, "debug", env.WithDefaultBool("DEBUG", false), "Enable human-readable debug logging")
	f.IntVar(&opts.WorkerCount, "worker-count", env.WithDefaultInt("WORKER_COUNT", 4), "The maximum number of erasure requests processed in parallel")
	f.StringVar(&opts.CuratedBucket, "curated-bucket", env.WithDefaultString("CURATED_BUCKET", ""), "The S3 bucket holding the curated columnar dataset")
	f.StringVar(&opts.GlueDatabase, "glue-database", env.WithDefaultString("GLUE_DATABASE", ""), "The Glue catalog database containing the curated table")
	f.StringVar(&opts.GlueTable, "glue-table", env.WithDefaultString("GLUE_TABLE", "curated_health_records"), "The Glue catalog table name of the curated dataset")
	f.StringVar(&opts.AthenaWorkgroup, "athena-workgroup", env.WithDefaultString("ATHENA_WORKGROUP", ""), "The Athena workgroup scoping result location and encryption")
	f.StringVar(&opts.RedshiftWorkgroup, "redshift-workgroup", env.WithDefaultString("REDSHIFT_WORKGROUP", ""), "The Redshift Serverless workgroup holding the analytical tables")
	f.StringVar(&opts.RedshiftDatabase, "redshift-database", env.WithDefaultString("REDSHIFT_DATABASE", "healthcare_analytics"), "The Redshift database holding the analytical tables")
	f.StringVar(&opts.RequestsTable, "requests-table", env.WithDefaultString("REQUESTS_TABLE", ""), "The DynamoDB table storing erasure requests")
	f.DurationVar(&opts.QueryTimeout, "query-timeout", env.WithDefaultDuration("QUERY_TIMEOUT", 300*time.Second), "The per-call timeout on Athena query completion")
	f.DurationVar(&opts.DeleteTimeout, "delete-timeout", env.WithDefaultDuration("DELETE_TIMEOUT", 120*time.Second), "The per-call timeout on warehouse statement completion")
	f.DurationVar(&opts.RequestTimeout, "request-timeout", env.WithDefaultDuration("REQUEST_TIMEOUT", 900*time.Second), "The end-to-end deadline per erasure request")
	f.DurationVar(&opts.PollInterval, "poll-interval", env.WithDefaultDuration("POLL_INTERVAL", 2*time.Second), "The delay between completion polls of asynchronous statements")
	return opts
}

// MustParse reads the user passed flags, environment variables, and default values.
// Options are validated and panics if an error is returned
func (o *Options) MustParse() *Options {
	err := o.Parse(os.Args[1:])

	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		panic(err)
	}
	if err := o.Validate(); err != nil {
		panic(err)
	}
	return o
}

func (o Options) Validate() (err error) {
	for key, val := range map[string]string{
		"CURATED_BUCKET":     o.CuratedBucket,
		"GLUE_DATABASE":      o.GlueDatabase,
		"ATHENA_WORKGROUP":   o.AthenaWorkgroup,
		"REDSHIFT_WORKGROUP": o.RedshiftWorkgroup,
		"REQUESTS_TABLE":     o.RequestsTable,
	} {
		if val == "" {
			err = multierr.Append(err, fmt.Errorf("%s is required", key))
		}
	}
	if o.WorkerCount < 1 {
		err = multierr.Append(err, fmt.Errorf("worker-count must be at least 1"))
	}
	return err
}

func (o *Options) ToContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, optionsKey{}, o)
}

func FromContext(ctx context.Context) *Options {
	retval := ctx.Value(optionsKey{})
	if retval == nil {
		return nil
	}
	return retval.(*Options)
}
