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
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/google/uuid"
	"github.com/samber/lo"

	sdk "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/aws"
)

// AthenaBehavior must be reset between tests otherwise tests will
// pollute each other.
type AthenaBehavior struct {
	StartQueryExecutionBehavior MockedFunction[athena.StartQueryExecutionInput, athena.StartQueryExecutionOutput]
	GetQueryExecutionBehavior   MockedFunction[athena.GetQueryExecutionInput, athena.GetQueryExecutionOutput]
	GetQueryResultsBehavior     MockedFunction[athena.GetQueryResultsInput, athena.GetQueryResultsOutput]
}

type AthenaAPI struct {
	sdk.AthenaAPI
	AthenaBehavior
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (a *AthenaAPI) Reset() {
	a.StartQueryExecutionBehavior.Reset()
	a.GetQueryExecutionBehavior.Reset()
	a.GetQueryResultsBehavior.Reset()
}

func (a *AthenaAPI) StartQueryExecution(_ context.Context, input *athena.StartQueryExecutionInput, _ ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error) {
	return a.StartQueryExecutionBehavior.Invoke(input, func(_ *athena.StartQueryExecutionInput) (*athena.StartQueryExecutionOutput, error) {
		return &athena.StartQueryExecutionOutput{
			QueryExecutionId: aws.String(uuid.NewString()),
		}, nil
	})
}

// GetQueryExecution reports SUCCEEDED by default so pollers terminate on the
// first probe.
func (a *AthenaAPI) GetQueryExecution(_ context.Context, input *athena.GetQueryExecutionInput, _ ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error) {
	return a.GetQueryExecutionBehavior.Invoke(input, func(in *athena.GetQueryExecutionInput) (*athena.GetQueryExecutionOutput, error) {
		return &athena.GetQueryExecutionOutput{
			QueryExecution: &types.QueryExecution{
				QueryExecutionId: in.QueryExecutionId,
				Status: &types.QueryExecutionStatus{
					State: types.QueryExecutionStateSucceeded,
				},
			},
		}, nil
	})
}

// GetQueryResults returns a header-only page by default, i.e. a query that
// matched nothing.
func (a *AthenaAPI) GetQueryResults(_ context.Context, input *athena.GetQueryResultsInput, _ ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error) {
	return a.GetQueryResultsBehavior.Invoke(input, func(_ *athena.GetQueryResultsInput) (*athena.GetQueryResultsOutput, error) {
		return &athena.GetQueryResultsOutput{
			ResultSet: &types.ResultSet{
				Rows: []types.Row{ResultRow("year", "month", "day")},
			},
		}, nil
	})
}

// ResultRow builds one Athena result row from column values.
func ResultRow(values ...string) types.Row {
	return types.Row{
		Data: lo.Map(values, func(v string, _ int) types.Datum {
			return types.Datum{VarCharValue: aws.String(v)}
		}),
	}
}

// QueryExecutionInState builds a GetQueryExecution output in the given state,
// for queueing into GetQueryExecutionBehavior.MultiOut.
func QueryExecutionInState(state types.QueryExecutionState, reason string) *athena.GetQueryExecutionOutput {
	status := &types.QueryExecutionStatus{State: state}
	if reason != "" {
		status.StateChangeReason = aws.String(reason)
	}
	return &athena.GetQueryExecutionOutput{
		QueryExecution: &types.QueryExecution{Status: status},
	}
}
