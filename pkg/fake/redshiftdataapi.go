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

package fake

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata/types"
	"github.com/google/uuid"

	sdk "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/aws"
)

// RedshiftDataBehavior must be reset between tests otherwise tests will
// pollute each other.
type RedshiftDataBehavior struct {
	ExecuteStatementBehavior  MockedFunction[redshiftdata.ExecuteStatementInput, redshiftdata.ExecuteStatementOutput]
	DescribeStatementBehavior MockedFunction[redshiftdata.DescribeStatementInput, redshiftdata.DescribeStatementOutput]
}

type RedshiftDataAPI struct {
	sdk.RedshiftDataAPI
	RedshiftDataBehavior
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (r *RedshiftDataAPI) Reset() {
	r.ExecuteStatementBehavior.Reset()
	r.DescribeStatementBehavior.Reset()
}

func (r *RedshiftDataAPI) ExecuteStatement(_ context.Context, input *redshiftdata.ExecuteStatementInput, _ ...func(*redshiftdata.Options)) (*redshiftdata.ExecuteStatementOutput, error) {
	return r.ExecuteStatementBehavior.Invoke(input, func(_ *redshiftdata.ExecuteStatementInput) (*redshiftdata.ExecuteStatementOutput, error) {
		return &redshiftdata.ExecuteStatementOutput{
			Id: aws.String(uuid.NewString()),
		}, nil
	})
}

// DescribeStatement reports FINISHED with zero rows by default so pollers
// terminate on the first probe.
func (r *RedshiftDataAPI) DescribeStatement(_ context.Context, input *redshiftdata.DescribeStatementInput, _ ...func(*redshiftdata.Options)) (*redshiftdata.DescribeStatementOutput, error) {
	return r.DescribeStatementBehavior.Invoke(input, func(in *redshiftdata.DescribeStatementInput) (*redshiftdata.DescribeStatementOutput, error) {
		return &redshiftdata.DescribeStatementOutput{
			Id:         in.Id,
			Status:     types.StatusStringFinished,
			ResultRows: 0,
		}, nil
	})
}

// StatementInStatus builds a DescribeStatement output for queueing into
// DescribeStatementBehavior.MultiOut.
func StatementInStatus(status types.StatusString, rows int64, errMessage string) *redshiftdata.DescribeStatementOutput {
	out := &redshiftdata.DescribeStatementOutput{
		Status:     status,
		ResultRows: rows,
	}
	if errMessage != "" {
		out.Error = aws.String(errMessage)
	}
	return out
}
