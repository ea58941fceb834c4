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

package rewriter_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"

	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/dataset"
	erasureerrors "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/errors"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/fake"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/test"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var ctx context.Context
var env *test.Environment

func TestRewriter(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "RewriterProvider")
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

// stagingPrefix computes where the staging query writes its output; the fake
// clock pins the attempt nonce.
func stagingPrefix(p dataset.Partition) string {
	return dataset.StagingPrefix(p.StagingTable(test.StartTime.UnixMilli()))
}

// seedStagedOutput simulates the staging query's file set, which the fake
// query engine does not materialize itself.
func seedStagedOutput(p dataset.Partition, names ...string) {
	for _, name := range names {
		env.S3API.PutObjectState(stagingPrefix(p)+name, "staged")
	}
}

var _ = Describe("Rewrite", func() {
	It("should swap the partition file set for the staged one", func() {
		env.S3API.PutObjectState(partition.Prefix()+"part-0.parquet", "original")
		env.S3API.PutObjectState(partition.Prefix()+"part-1.parquet", "original")
		seedStagedOutput(partition, "rewritten-0.parquet")

		results, err := env.RewriterProvider.Rewrite(ctx, validHash, []dataset.Partition{partition})
		Expect(err).ToNot(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Status).To(Equal(dataset.PartitionRewriteSucceeded))
		Expect(results[0].OriginalFilesDeleted).To(Equal(2))
		Expect(results[0].NewFilesCreated).To(Equal(1))

		Expect(env.S3API.KeysWithPrefix(partition.Prefix())).To(ConsistOf(partition.Prefix() + "rewritten-0.parquet"))
		Expect(env.S3API.KeysWithPrefix("temp-erasure/")).To(BeEmpty())
	})
	It("should stage with a filtered CTAS into the staging area", func() {
		seedStagedOutput(partition, "rewritten-0.parquet")

		_, err := env.RewriterProvider.Rewrite(ctx, validHash, []dataset.Partition{partition})
		Expect(err).ToNot(HaveOccurred())

		query := aws.ToString(env.AthenaAPI.StartQueryExecutionBehavior.CalledWithInput.Pop().QueryString)
		Expect(query).To(ContainSubstring("CREATE TABLE"))
		Expect(query).To(ContainSubstring("format = 'PARQUET'"))
		Expect(query).To(ContainSubstring("parquet_compression = 'SNAPPY'"))
		Expect(query).To(ContainSubstring("external_location = 's3://" + test.CuratedBucket + "/" + stagingPrefix(partition) + "'"))
		Expect(query).To(ContainSubstring("WHERE year = '2024' AND month = '03' AND day = '15'"))
		Expect(query).To(ContainSubstring("patient_id_hash != '" + validHash + "'"))
	})
	It("should drop the staging table from the catalog after the swap", func() {
		seedStagedOutput(partition, "rewritten-0.parquet")

		_, err := env.RewriterProvider.Rewrite(ctx, validHash, []dataset.Partition{partition})
		Expect(err).ToNot(HaveOccurred())

		input := env.GlueAPI.DeleteTableBehavior.CalledWithInput.Pop()
		Expect(aws.ToString(input.DatabaseName)).To(Equal(test.GlueDatabase))
		Expect(aws.ToString(input.Name)).To(Equal(partition.StagingTable(test.StartTime.UnixMilli())))
	})
	It("should empty a partition whose only rows belonged to the subject", func() {
		env.S3API.PutObjectState(partition.Prefix()+"part-0.parquet", "original")
		// Staging produced no files.

		results, err := env.RewriterProvider.Rewrite(ctx, validHash, []dataset.Partition{partition})
		Expect(err).ToNot(HaveOccurred())
		Expect(results[0].Status).To(Equal(dataset.PartitionRewriteSucceeded))
		Expect(results[0].OriginalFilesDeleted).To(Equal(1))
		Expect(results[0].NewFilesCreated).To(Equal(0))
		Expect(env.S3API.KeysWithPrefix(partition.Prefix())).To(BeEmpty())
	})

	Context("staging failure", func() {
		It("should leave the destination untouched", func() {
			env.S3API.PutObjectState(partition.Prefix()+"part-0.parquet", "original")
			env.AthenaAPI.GetQueryExecutionBehavior.Output.Set(
				fake.QueryExecutionInState(types.QueryExecutionStateFailed, "HIVE_PARTITION_SCHEMA_MISMATCH"))

			results, err := env.RewriterProvider.Rewrite(ctx, validHash, []dataset.Partition{partition})
			Expect(err).To(HaveOccurred())
			Expect(erasureerrors.IsKind(err, erasureerrors.KindRewriteStagingFailed)).To(BeTrue())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Status).To(Equal(dataset.PartitionRewriteFailed))
			Expect(results[0].LastSubStep).To(Equal(dataset.SubStepStaging))
			Expect(results[0].Error).To(ContainSubstring("HIVE_PARTITION_SCHEMA_MISMATCH"))

			Expect(env.S3API.KeysWithPrefix(partition.Prefix())).To(ConsistOf(partition.Prefix() + "part-0.parquet"))
			Expect(env.S3API.DeleteObjectsBehavior.Calls()).To(Equal(0))
		})
	})

	Context("swap failure", func() {
		It("should classify a destination delete failure", func() {
			env.S3API.PutObjectState(partition.Prefix()+"part-0.parquet", "original")
			seedStagedOutput(partition, "rewritten-0.parquet")
			env.S3API.DeleteObjectsBehavior.Error.Set(errors.New("slow down"), fake.MaxCalls(0))

			results, err := env.RewriterProvider.Rewrite(ctx, validHash, []dataset.Partition{partition})
			Expect(err).To(HaveOccurred())
			Expect(erasureerrors.IsKind(err, erasureerrors.KindRewriteSwapFailed)).To(BeTrue())
			Expect(results[0].Status).To(Equal(dataset.PartitionRewriteFailed))
			Expect(results[0].LastSubStep).To(Equal(dataset.SubStepDestinationDelete))
		})
	})

	Context("catalog cleanup failure", func() {
		It("should not fail the rewrite", func() {
			seedStagedOutput(partition, "rewritten-0.parquet")
			env.GlueAPI.DeleteTableBehavior.Error.Set(errors.New("access denied"))

			results, err := env.RewriterProvider.Rewrite(ctx, validHash, []dataset.Partition{partition})
			Expect(err).ToNot(HaveOccurred())
			Expect(results[0].Status).To(Equal(dataset.PartitionRewriteSucceeded))
		})
	})

	Context("multiple partitions", func() {
		It("should stop at the first failure and keep earlier rewrites", func() {
			second := dataset.Partition{Year: "2024", Month: "03", Day: "16"}
			env.S3API.PutObjectState(partition.Prefix()+"part-0.parquet", "original")
			env.S3API.PutObjectState(second.Prefix()+"part-0.parquet", "original")
			seedStagedOutput(partition, "rewritten-0.parquet")
			env.AthenaAPI.GetQueryExecutionBehavior.MultiOut.Add(
				fake.QueryExecutionInState(types.QueryExecutionStateSucceeded, ""))
			env.AthenaAPI.GetQueryExecutionBehavior.MultiOut.Add(
				fake.QueryExecutionInState(types.QueryExecutionStateFailed, "exhausted resources"))

			results, err := env.RewriterProvider.Rewrite(ctx, validHash, []dataset.Partition{partition, second})
			Expect(err).To(HaveOccurred())
			Expect(erasureerrors.IsKind(err, erasureerrors.KindRewriteStagingFailed)).To(BeTrue())
			Expect(results).To(HaveLen(2))
			Expect(results[0].Status).To(Equal(dataset.PartitionRewriteSucceeded))
			Expect(results[1].Status).To(Equal(dataset.PartitionRewriteFailed))

			// First partition swapped, second untouched.
			Expect(env.S3API.KeysWithPrefix(partition.Prefix())).To(ConsistOf(partition.Prefix() + "rewritten-0.parquet"))
			Expect(env.S3API.KeysWithPrefix(second.Prefix())).To(ConsistOf(second.Prefix() + "part-0.parquet"))
		})
	})

	It("should reject a malformed hash without touching anything", func() {
		_, err := env.RewriterProvider.Rewrite(ctx, "not-a-hash", []dataset.Partition{partition})
		Expect(err).To(HaveOccurred())
		Expect(erasureerrors.IsKind(err, erasureerrors.KindInvalidInput)).To(BeTrue())
		Expect(env.AthenaAPI.StartQueryExecutionBehavior.Calls()).To(Equal(0))
	})
})
