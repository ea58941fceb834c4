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

package athena_test

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsathena "github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"k8s.io/utils/clock"

	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/fake"
	athenaprovider "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/providers/athena"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/test"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var ctx context.Context
var env *test.Environment

func TestAthena(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "AthenaProvider")
}

var _ = BeforeSuite(func() {
	env = test.NewEnvironment()
})

var _ = BeforeEach(func() {
	ctx = context.Background()
	env.Reset()
})

var _ = Describe("Submit", func() {
	It("should scope the query to the workgroup with an idempotency token", func() {
		executionID, err := env.AthenaProvider.Submit(ctx, "SELECT 1")
		Expect(err).ToNot(HaveOccurred())
		Expect(executionID).ToNot(BeEmpty())

		input := env.AthenaAPI.StartQueryExecutionBehavior.CalledWithInput.Pop()
		Expect(aws.ToString(input.WorkGroup)).To(Equal(test.AthenaWorkgroup))
		Expect(aws.ToString(input.ClientRequestToken)).ToNot(BeEmpty())
	})
})

var _ = Describe("Wait", func() {
	It("should return on the first successful probe", func() {
		Expect(env.AthenaProvider.Wait(ctx, "execution-1")).To(Succeed())
		Expect(env.AthenaAPI.GetQueryExecutionBehavior.Calls()).To(Equal(1))
	})
	It("should surface the state change reason of a failed execution", func() {
		env.AthenaAPI.GetQueryExecutionBehavior.Output.Set(
			fake.QueryExecutionInState(types.QueryExecutionStateFailed, "SYNTAX_ERROR: line 1"))

		err := env.AthenaProvider.Wait(ctx, "execution-1")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("SYNTAX_ERROR"))
	})
	It("should fail a cancelled execution", func() {
		env.AthenaAPI.GetQueryExecutionBehavior.Output.Set(
			fake.QueryExecutionInState(types.QueryExecutionStateCancelled, ""))

		Expect(env.AthenaProvider.Wait(ctx, "execution-1")).ToNot(Succeed())
	})
	It("should give up after the configured timeout", func() {
		athenaapi := &fake.AthenaAPI{}
		athenaapi.GetQueryExecutionBehavior.Output.Set(
			fake.QueryExecutionInState(types.QueryExecutionStateRunning, ""))
		provider := athenaprovider.NewDefaultProvider(athenaapi, test.AthenaWorkgroup,
			clock.RealClock{}, time.Millisecond, 10*time.Millisecond)

		err := provider.Wait(ctx, "execution-1")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("timed out"))
	})
})

var _ = Describe("Results", func() {
	It("should skip exactly the header row on a single page", func() {
		env.AthenaAPI.GetQueryResultsBehavior.Output.Set(&awsathena.GetQueryResultsOutput{
			ResultSet: &types.ResultSet{Rows: []types.Row{
				fake.ResultRow("year", "month", "day"),
				fake.ResultRow("2024", "03", "15"),
				fake.ResultRow("2024", "03", "16"),
			}},
		})

		rows, err := env.AthenaProvider.Results(ctx, "execution-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(rows).To(Equal([][]string{
			{"2024", "03", "15"},
			{"2024", "03", "16"},
		}))
	})
	It("should not skip rows on later pages", func() {
		env.AthenaAPI.GetQueryResultsBehavior.MultiOut.Add(&awsathena.GetQueryResultsOutput{
			ResultSet: &types.ResultSet{Rows: []types.Row{
				fake.ResultRow("year", "month", "day"),
				fake.ResultRow("2024", "03", "15"),
			}},
			NextToken: aws.String("page-2"),
		})
		env.AthenaAPI.GetQueryResultsBehavior.MultiOut.Add(&awsathena.GetQueryResultsOutput{
			ResultSet: &types.ResultSet{Rows: []types.Row{
				fake.ResultRow("2024", "03", "16"),
			}},
		})

		rows, err := env.AthenaProvider.Results(ctx, "execution-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(rows).To(Equal([][]string{
			{"2024", "03", "15"},
			{"2024", "03", "16"},
		}))
	})
	It("should return no rows for a header-only result", func() {
		rows, err := env.AthenaProvider.Results(ctx, "execution-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(rows).To(BeEmpty())
	})
})
