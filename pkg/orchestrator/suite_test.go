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

package orchestrator_test

import (
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsathena "github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	redshifttypes "github.com/aws/aws-sdk-go-v2/service/redshiftdata/types"

	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/dataset"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/fake"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/metrics"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/requestlog"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/test"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var ctx context.Context
var env *test.Environment

func TestOrchestrator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Orchestrator")
}

var _ = BeforeSuite(func() {
	env = test.NewEnvironment()
})

var _ = BeforeEach(func() {
	ctx = context.Background()
	env.Reset()
})

var (
	validHash = strings.Repeat("ab", 32)
	partition = dataset.Partition{Year: "2024", Month: "03", Day: "15"}
)

func seedRequest(status requestlog.Status) {
	Expect(env.Store.Put(ctx, &requestlog.ErasureRequest{
		RequestID:     "req-1",
		PatientIDHash: validHash,
		Status:        status,
		Requester:     "dpo@example.org",
		RequestedAt:   test.StartTime,
		UpdatedAt:     test.StartTime,
	})).To(Succeed())
}

// seedAffectedPartition makes the locator find one partition and simulates the
// staging query's output file.
func seedAffectedPartition() {
	env.AthenaAPI.GetQueryResultsBehavior.Output.Set(&awsathena.GetQueryResultsOutput{
		ResultSet: &athenatypes.ResultSet{Rows: []athenatypes.Row{
			fake.ResultRow("year", "month", "day"),
			fake.ResultRow(partition.Year, partition.Month, partition.Day),
		}},
	})
	env.S3API.PutObjectState(partition.Prefix()+"part-0.parquet", "original")
	env.S3API.PutObjectState(
		dataset.StagingPrefix(partition.StagingTable(test.StartTime.UnixMilli()))+"rewritten-0.parquet", "staged")
}

var _ = Describe("Process", func() {
	It("should run an affected request to COMPLETED with a full audit trail", func() {
		seedRequest(requestlog.StatusApproved)
		seedAffectedPartition()
		env.RedshiftDataAPI.DescribeStatementBehavior.Output.Set(
			fake.StatementInStatus(redshifttypes.StatusStringFinished, 7, ""))

		Expect(env.Orchestrator.Process(ctx, "req-1", validHash)).To(Succeed())

		Expect(env.DynamoDBAPI.ItemStatus("req-1")).To(Equal(string(requestlog.StatusCompleted)))
		Expect(env.DynamoDBAPI.ItemAttribute("req-1", "completed_at")).ToNot(BeEmpty())

		audit := env.DynamoDBAPI.ItemAttribute("req-1", "audit_log")
		Expect(audit).To(ContainSubstring(`"step":"find_partitions"`))
		Expect(audit).To(ContainSubstring(`"partitions_found":1`))
		Expect(audit).To(ContainSubstring(`"step":"rewrite_partitions"`))
		Expect(audit).To(ContainSubstring(`"partitions_rewritten":1`))
		Expect(audit).To(ContainSubstring(`"original_files_deleted":1`))
		Expect(audit).To(ContainSubstring(`"step":"warehouse_delete"`))
		Expect(audit).To(ContainSubstring(`"rows_deleted":7`))
		Expect(audit).To(ContainSubstring(`"duration_seconds"`))

		// Destination swapped, staging drained.
		Expect(env.S3API.KeysWithPrefix(partition.Prefix())).To(ConsistOf(partition.Prefix() + "rewritten-0.parquet"))
		Expect(env.S3API.KeysWithPrefix("temp-erasure/")).To(BeEmpty())
		Expect(env.GlueAPI.DeleteTableBehavior.Calls()).To(Equal(1))
	})
	It("should emit completion metrics with the environment dimension", func() {
		seedRequest(requestlog.StatusApproved)
		seedAffectedPartition()

		Expect(env.Orchestrator.Process(ctx, "req-1", validHash)).To(Succeed())

		var names []string
		env.CloudWatchAPI.PutMetricDataBehavior.CalledWithInput.ForEach(func(input *cloudwatch.PutMetricDataInput) {
			Expect(aws.ToString(input.Namespace)).To(Equal(metrics.Namespace))
			for _, datum := range input.MetricData {
				names = append(names, aws.ToString(datum.MetricName))
				Expect(datum.Dimensions).To(HaveLen(1))
				Expect(aws.ToString(datum.Dimensions[0].Name)).To(Equal("Environment"))
				Expect(aws.ToString(datum.Dimensions[0].Value)).To(Equal(test.EnvironmentName))
			}
		})
		Expect(names).To(ContainElements(metrics.PartitionsRewritten, metrics.RequestsProcessed, metrics.ErasureDuration))
		Expect(names).ToNot(ContainElement(metrics.ErasureFailures))
	})
	It("should complete without rewrites when the subject has no lake rows", func() {
		seedRequest(requestlog.StatusApproved)
		env.RedshiftDataAPI.DescribeStatementBehavior.Output.Set(
			fake.StatementInStatus(redshifttypes.StatusStringFinished, 3, ""))

		Expect(env.Orchestrator.Process(ctx, "req-1", validHash)).To(Succeed())

		Expect(env.DynamoDBAPI.ItemStatus("req-1")).To(Equal(string(requestlog.StatusCompleted)))
		audit := env.DynamoDBAPI.ItemAttribute("req-1", "audit_log")
		Expect(audit).To(ContainSubstring(`"partitions_found":0`))
		Expect(audit).ToNot(ContainSubstring(`"step":"rewrite_partitions"`))
		Expect(audit).To(ContainSubstring(`"rows_deleted":3`))
		Expect(env.GlueAPI.DeleteTableBehavior.Calls()).To(Equal(0))
		Expect(env.S3API.DeleteObjectsBehavior.Calls()).To(Equal(0))
	})
	It("should fail an invalid hash without any data plane call", func() {
		seedRequest(requestlog.StatusApproved)

		err := env.Orchestrator.Process(ctx, "req-1", "not-a-hash")
		Expect(err).To(HaveOccurred())

		Expect(env.DynamoDBAPI.ItemStatus("req-1")).To(Equal(string(requestlog.StatusFailed)))
		Expect(env.DynamoDBAPI.ItemAttribute("req-1", "error_message")).To(ContainSubstring("INVALID_INPUT"))
		Expect(env.AthenaAPI.StartQueryExecutionBehavior.Calls()).To(Equal(0))
		Expect(env.RedshiftDataAPI.ExecuteStatementBehavior.Calls()).To(Equal(0))
	})
	It("should fail the request and skip the warehouse when staging fails", func() {
		seedRequest(requestlog.StatusApproved)
		seedAffectedPartition()
		// First execution (locator) succeeds, second (staging CTAS) fails.
		env.AthenaAPI.GetQueryExecutionBehavior.MultiOut.Add(
			fake.QueryExecutionInState(athenatypes.QueryExecutionStateSucceeded, ""))
		env.AthenaAPI.GetQueryExecutionBehavior.MultiOut.Add(
			fake.QueryExecutionInState(athenatypes.QueryExecutionStateFailed, "resource exhausted"))

		err := env.Orchestrator.Process(ctx, "req-1", validHash)
		Expect(err).To(HaveOccurred())

		Expect(env.DynamoDBAPI.ItemStatus("req-1")).To(Equal(string(requestlog.StatusFailed)))
		Expect(env.DynamoDBAPI.ItemAttribute("req-1", "error_message")).To(ContainSubstring("REWRITE_STAGING_FAILED"))
		audit := env.DynamoDBAPI.ItemAttribute("req-1", "audit_log")
		Expect(audit).To(ContainSubstring(`"step":"rewrite_partitions"`))
		Expect(audit).To(ContainSubstring(`"last_sub_step":"staging"`))
		Expect(audit).To(ContainSubstring(`"error":`))

		// Destination untouched, warehouse never reached.
		Expect(env.S3API.KeysWithPrefix(partition.Prefix())).To(ConsistOf(partition.Prefix() + "part-0.parquet"))
		Expect(env.RedshiftDataAPI.ExecuteStatementBehavior.Calls()).To(Equal(0))
	})
	It("should fail the request when the warehouse delete fails", func() {
		seedRequest(requestlog.StatusApproved)
		env.RedshiftDataAPI.DescribeStatementBehavior.Output.Set(
			fake.StatementInStatus(redshifttypes.StatusStringFailed, 0, "lock timeout"))

		err := env.Orchestrator.Process(ctx, "req-1", validHash)
		Expect(err).To(HaveOccurred())

		Expect(env.DynamoDBAPI.ItemStatus("req-1")).To(Equal(string(requestlog.StatusFailed)))
		Expect(env.DynamoDBAPI.ItemAttribute("req-1", "error_message")).To(ContainSubstring("WAREHOUSE_DELETE_FAILED"))
	})
	It("should do nothing when another worker already claimed the request", func() {
		seedRequest(requestlog.StatusProcessing)

		Expect(env.Orchestrator.Process(ctx, "req-1", validHash)).To(Succeed())

		Expect(env.DynamoDBAPI.ItemStatus("req-1")).To(Equal(string(requestlog.StatusProcessing)))
		Expect(env.AthenaAPI.StartQueryExecutionBehavior.Calls()).To(Equal(0))
	})
	It("should never reopen a terminal request", func() {
		seedRequest(requestlog.StatusCompleted)

		Expect(env.Orchestrator.Process(ctx, "req-1", validHash)).To(Succeed())
		Expect(env.DynamoDBAPI.ItemStatus("req-1")).To(Equal(string(requestlog.StatusCompleted)))
	})
	It("should drop an event for a request that no longer exists", func() {
		Expect(env.Orchestrator.Process(ctx, "req-ghost", validHash)).To(Succeed())
		Expect(env.AthenaAPI.StartQueryExecutionBehavior.Calls()).To(Equal(0))
	})
})
