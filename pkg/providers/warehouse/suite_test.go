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

package warehouse_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata/types"
	"k8s.io/utils/clock"

	erasureerrors "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/errors"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/fake"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/providers/warehouse"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/test"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var ctx context.Context
var env *test.Environment

func TestWarehouse(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "WarehouseProvider")
}

var _ = BeforeSuite(func() {
	env = test.NewEnvironment()
})

var _ = BeforeEach(func() {
	ctx = context.Background()
	env.Reset()
})

var validHash = strings.Repeat("ab", 32)

var _ = Describe("DeleteSubject", func() {
	It("should issue the delete against the serverless workgroup", func() {
		env.RedshiftDataAPI.DescribeStatementBehavior.Output.Set(
			fake.StatementInStatus(types.StatusStringFinished, 12, ""))

		rows, err := env.WarehouseProvider.DeleteSubject(ctx, validHash)
		Expect(err).ToNot(HaveOccurred())
		Expect(rows).To(Equal(int64(12)))

		input := env.RedshiftDataAPI.ExecuteStatementBehavior.CalledWithInput.Pop()
		Expect(aws.ToString(input.WorkgroupName)).To(Equal(test.RedshiftWorkgroup))
		Expect(aws.ToString(input.Database)).To(Equal(test.RedshiftDatabase))
		Expect(aws.ToString(input.Sql)).To(Equal(
			"DELETE FROM patient_data.patient_vitals WHERE patient_id_hash = '" + validHash + "'"))
	})
	It("should treat zero deleted rows as success", func() {
		rows, err := env.WarehouseProvider.DeleteSubject(ctx, validHash)
		Expect(err).ToNot(HaveOccurred())
		Expect(rows).To(Equal(int64(0)))
	})
	It("should classify a failed statement with its error text", func() {
		env.RedshiftDataAPI.DescribeStatementBehavior.Output.Set(
			fake.StatementInStatus(types.StatusStringFailed, 0, "serializable isolation violation"))

		_, err := env.WarehouseProvider.DeleteSubject(ctx, validHash)
		Expect(err).To(HaveOccurred())
		Expect(erasureerrors.IsKind(err, erasureerrors.KindWarehouseDeleteFailed)).To(BeTrue())
		Expect(erasureerrors.IsRetryable(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("serializable isolation violation"))
	})
	It("should classify an aborted statement", func() {
		env.RedshiftDataAPI.DescribeStatementBehavior.Output.Set(
			fake.StatementInStatus(types.StatusStringAborted, 0, ""))

		_, err := env.WarehouseProvider.DeleteSubject(ctx, validHash)
		Expect(erasureerrors.IsKind(err, erasureerrors.KindWarehouseDeleteFailed)).To(BeTrue())
	})
	It("should give up after the configured timeout", func() {
		redshiftdataapi := &fake.RedshiftDataAPI{}
		redshiftdataapi.DescribeStatementBehavior.Output.Set(
			fake.StatementInStatus(types.StatusStringStarted, 0, ""))
		provider := warehouse.NewDefaultProvider(redshiftdataapi, test.RedshiftWorkgroup,
			test.RedshiftDatabase, clock.RealClock{}, time.Millisecond, 10*time.Millisecond)

		_, err := provider.DeleteSubject(ctx, validHash)
		Expect(err).To(HaveOccurred())
		Expect(erasureerrors.IsKind(err, erasureerrors.KindWarehouseDeleteFailed)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("timed out"))
	})
	It("should reject a malformed hash without touching the warehouse", func() {
		_, err := env.WarehouseProvider.DeleteSubject(ctx, "DELETE FROM everything")
		Expect(err).To(HaveOccurred())
		Expect(erasureerrors.IsKind(err, erasureerrors.KindInvalidInput)).To(BeTrue())
		Expect(env.RedshiftDataAPI.ExecuteStatementBehavior.Calls()).To(Equal(0))
	})
})
