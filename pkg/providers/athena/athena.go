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

// Package athena wraps asynchronous query submission against the catalog-backed
// query engine: submit, poll to a terminal state, and page through results.
package athena

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"k8s.io/utils/clock"

	sdk "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/aws"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/logging"
)

type Provider interface {
	Submit(context.Context, string) (string, error)
	Wait(context.Context, string) error
	Results(context.Context, string) ([][]string, error)
}

// DefaultProvider submits statements into a named workgroup, which scopes the
// result location and its encryption configuration.
type DefaultProvider struct {
	athenaapi sdk.AthenaAPI
	workgroup string
	clk       clock.Clock

	pollInterval time.Duration
	timeout      time.Duration
}

func NewDefaultProvider(athenaapi sdk.AthenaAPI, workgroup string, clk clock.Clock, pollInterval, timeout time.Duration) *DefaultProvider {
	return &DefaultProvider{
		athenaapi:    athenaapi,
		workgroup:    workgroup,
		clk:          clk,
		pollInterval: pollInterval,
		timeout:      timeout,
	}
}

// Submit starts a query execution and returns its handle. The client request
// token makes an accidental double submission return the original execution
// instead of running the statement twice.
func (p *DefaultProvider) Submit(ctx context.Context, sql string) (string, error) {
	out, err := p.athenaapi.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString:        aws.String(sql),
		WorkGroup:          aws.String(p.workgroup),
		ClientRequestToken: aws.String(uuid.NewString()),
	})
	if err != nil {
		return "", fmt.Errorf("starting query execution, %w", err)
	}
	executionID := aws.ToString(out.QueryExecutionId)
	logging.FromContext(ctx).Debugw("started query execution", "execution-id", executionID)
	return executionID, nil
}

// Wait polls the execution until it reaches a terminal state or the provider
// timeout elapses.
func (p *DefaultProvider) Wait(ctx context.Context, executionID string) error {
	start := p.clk.Now()
	for {
		out, err := p.athenaapi.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(executionID),
		})
		if err != nil {
			return fmt.Errorf("polling query execution %s, %w", executionID, err)
		}
		state := out.QueryExecution.Status.State
		switch state {
		case types.QueryExecutionStateSucceeded:
			return nil
		case types.QueryExecutionStateFailed, types.QueryExecutionStateCancelled:
			return fmt.Errorf("query execution %s %s: %s", executionID, state,
				lo.FromPtrOr(out.QueryExecution.Status.StateChangeReason, "unknown reason"))
		}
		if p.clk.Since(start) >= p.timeout {
			return fmt.Errorf("query execution %s timed out after %s", executionID, p.timeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("polling query execution %s, %w", executionID, ctx.Err())
		case <-p.clk.After(p.pollInterval):
		}
	}
}

// Results waits for the execution and returns every data row as a string
// slice. Athena emits the column header as the first row of the first page
// only, so exactly that row is discarded; later pages are header-less.
func (p *DefaultProvider) Results(ctx context.Context, executionID string) ([][]string, error) {
	if err := p.Wait(ctx, executionID); err != nil {
		return nil, err
	}
	var rows [][]string
	var nextToken *string
	firstPage := true
	for {
		out, err := p.athenaapi.GetQueryResults(ctx, &athena.GetQueryResultsInput{
			QueryExecutionId: aws.String(executionID),
			NextToken:        nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("fetching query results %s, %w", executionID, err)
		}
		pageRows := out.ResultSet.Rows
		if firstPage && len(pageRows) > 0 {
			pageRows = pageRows[1:]
		}
		firstPage = false
		for _, row := range pageRows {
			rows = append(rows, lo.Map(row.Data, func(datum types.Datum, _ int) string {
				return lo.FromPtr(datum.VarCharValue)
			}))
		}
		nextToken = out.NextToken
		if nextToken == nil {
			return rows, nil
		}
	}
}
