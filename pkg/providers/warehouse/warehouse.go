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

// Package warehouse removes a subject's rows from the analytical warehouse
// through the asynchronous statement API: submit the delete, then poll the
// statement to a terminal state.
package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata/types"
	"github.com/samber/lo"
	"k8s.io/utils/clock"

	sdk "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/aws"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/dataset"
	erasureerrors "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/errors"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/logging"
)

// warehouseTable is the fully qualified vitals table the subject's rows live in.
const warehouseTable = "patient_data.patient_vitals"

type Provider interface {
	DeleteSubject(context.Context, string) (int64, error)
}

type DefaultProvider struct {
	redshiftdataapi sdk.RedshiftDataAPI
	workgroup       string
	database        string
	clk             clock.Clock

	pollInterval time.Duration
	timeout      time.Duration
}

func NewDefaultProvider(redshiftdataapi sdk.RedshiftDataAPI, workgroup, database string,
	clk clock.Clock, pollInterval, timeout time.Duration) *DefaultProvider {
	return &DefaultProvider{
		redshiftdataapi: redshiftdataapi,
		workgroup:       workgroup,
		database:        database,
		clk:             clk,
		pollInterval:    pollInterval,
		timeout:         timeout,
	}
}

// DeleteSubject deletes every row belonging to the subject and returns the
// number of rows removed. Zero rows is a success; the warehouse may simply
// never have ingested the subject. The delete is idempotent, so a replayed
// request re-runs it harmlessly.
func (p *DefaultProvider) DeleteSubject(ctx context.Context, patientIDHash string) (int64, error) {
	if err := dataset.ValidateSubjectHash(patientIDHash); err != nil {
		return 0, err
	}

	sql := fmt.Sprintf(`DELETE FROM %s WHERE patient_id_hash = '%s'`, warehouseTable, patientIDHash)
	out, err := p.redshiftdataapi.ExecuteStatement(ctx, &redshiftdata.ExecuteStatementInput{
		WorkgroupName: aws.String(p.workgroup),
		Database:      aws.String(p.database),
		Sql:           aws.String(sql),
	})
	if err != nil {
		return 0, erasureerrors.Wrap(erasureerrors.KindWarehouseDeleteFailed,
			fmt.Errorf("submitting warehouse delete, %w", err))
	}
	statementID := aws.ToString(out.Id)
	logging.FromContext(ctx).Debugw("submitted warehouse delete", "statement-id", statementID)

	rows, err := p.wait(ctx, statementID)
	if err != nil {
		return 0, err
	}
	logging.FromContext(ctx).Infow("warehouse rows deleted", "count", rows)
	return rows, nil
}

func (p *DefaultProvider) wait(ctx context.Context, statementID string) (int64, error) {
	start := p.clk.Now()
	for {
		out, err := p.redshiftdataapi.DescribeStatement(ctx, &redshiftdata.DescribeStatementInput{
			Id: aws.String(statementID),
		})
		if err != nil {
			return 0, erasureerrors.Wrap(erasureerrors.KindWarehouseDeleteFailed,
				fmt.Errorf("polling warehouse statement %s, %w", statementID, err))
		}
		switch out.Status {
		case types.StatusStringFinished:
			return out.ResultRows, nil
		case types.StatusStringFailed, types.StatusStringAborted:
			return 0, erasureerrors.New(erasureerrors.KindWarehouseDeleteFailed,
				"warehouse statement %s %s: %s", statementID, out.Status,
				lo.FromPtrOr(out.Error, "unknown reason"))
		}
		if p.clk.Since(start) >= p.timeout {
			return 0, erasureerrors.New(erasureerrors.KindWarehouseDeleteFailed,
				"warehouse statement %s timed out after %s", statementID, p.timeout)
		}
		select {
		case <-ctx.Done():
			return 0, erasureerrors.Wrap(erasureerrors.KindWarehouseDeleteFailed,
				fmt.Errorf("polling warehouse statement %s, %w", statementID, ctx.Err()))
		case <-p.clk.After(p.pollInterval):
		}
	}
}
