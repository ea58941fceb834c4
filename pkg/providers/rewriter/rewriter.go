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

// Package rewriter replaces the file set of each affected partition with one
// that excludes the target subject. This is the only component that destroys
// data lake objects, and it only ever does so after the replacement file set
// is known to exist.
package rewriter

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"k8s.io/utils/clock"

	sdk "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/aws"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/dataset"
	erasureerrors "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/errors"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/logging"
	athenaprovider "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/providers/athena"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/providers/objectstore"
)

type Provider interface {
	Rewrite(context.Context, string, []dataset.Partition) ([]dataset.PartitionResult, error)
}

type DefaultProvider struct {
	athena      athenaprovider.Provider
	objectstore objectstore.Provider
	glueapi     sdk.GlueAPI
	clk         clock.Clock

	bucket   string
	database string
	table    string
}

func NewDefaultProvider(athena athenaprovider.Provider, objectstore objectstore.Provider, glueapi sdk.GlueAPI,
	clk clock.Clock, bucket, database, table string) *DefaultProvider {
	return &DefaultProvider{
		athena:      athena,
		objectstore: objectstore,
		glueapi:     glueapi,
		clk:         clk,
		bucket:      bucket,
		database:    database,
		table:       table,
	}
}

// Rewrite processes partitions strictly in order and stops at the first
// failure. Partitions rewritten before the failure stay rewritten: the
// subject is already gone from them, so rolling back would only undo
// progress toward the erasure goal. The returned results cover every
// attempted partition, the failed one included, so the audit log records
// exactly how far execution got.
func (p *DefaultProvider) Rewrite(ctx context.Context, patientIDHash string, partitions []dataset.Partition) ([]dataset.PartitionResult, error) {
	if err := dataset.ValidateSubjectHash(patientIDHash); err != nil {
		return nil, err
	}
	var results []dataset.PartitionResult
	for _, partition := range partitions {
		result, err := p.rewritePartition(ctx, patientIDHash, partition)
		results = append(results, result)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (p *DefaultProvider) rewritePartition(ctx context.Context, patientIDHash string, partition dataset.Partition) (dataset.PartitionResult, error) {
	ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("partition", partition.String()))
	result := dataset.PartitionResult{Partition: partition.String()}

	stagingTable := partition.StagingTable(p.clk.Now().UnixMilli())
	stagingPrefix := dataset.StagingPrefix(stagingTable)

	if err := p.stagePartition(ctx, patientIDHash, partition, stagingTable, stagingPrefix); err != nil {
		result.Status = dataset.PartitionRewriteFailed
		result.LastSubStep = dataset.SubStepStaging
		result.Error = err.Error()
		// Whatever the staging query left behind is cleanup debt, not a
		// blocker; the destination is untouched.
		logging.FromContext(ctx).Errorw("staging query failed, destination untouched",
			"staging-prefix", stagingPrefix, "error", err)
		return result, erasureerrors.Wrap(erasureerrors.KindRewriteStagingFailed, err)
	}

	// The staged file set exists now. From here until the move completes the
	// destination may be incomplete, so the swap must not be interrupted by
	// a request deadline; re-execution remains safe either way, but an
	// avoidable half-swap is an avoidable operator page.
	swapCtx := context.WithoutCancel(ctx)

	deleted, err := p.objectstore.DeletePrefix(swapCtx, partition.Prefix())
	result.OriginalFilesDeleted = deleted
	if err != nil {
		result.Status = dataset.PartitionRewriteFailed
		result.LastSubStep = dataset.SubStepDestinationDelete
		result.Error = err.Error()
		return result, erasureerrors.Wrap(erasureerrors.KindRewriteSwapFailed, err)
	}

	moved, err := p.objectstore.MovePrefix(swapCtx, stagingPrefix, partition.Prefix())
	result.NewFilesCreated = moved
	if err != nil {
		result.Status = dataset.PartitionRewriteFailed
		result.LastSubStep = dataset.SubStepStagingMove
		result.Error = err.Error()
		return result, erasureerrors.Wrap(erasureerrors.KindRewriteSwapFailed, err)
	}

	p.cleanupStagingTable(swapCtx, stagingTable)

	result.Status = dataset.PartitionRewriteSucceeded
	logging.FromContext(ctx).Infow("partition rewritten",
		"original-files-deleted", deleted, "new-files-created", moved)
	return result, nil
}

// stagePartition runs the CTAS producing the partition's replacement file
// set, filtered to exclude the subject, and waits for it to succeed.
func (p *DefaultProvider) stagePartition(ctx context.Context, patientIDHash string, partition dataset.Partition, stagingTable, stagingPrefix string) error {
	query := fmt.Sprintf(`CREATE TABLE "%s"."%s"
WITH (
    format = 'PARQUET',
    external_location = 's3://%s/%s',
    parquet_compression = 'SNAPPY'
) AS
SELECT *
FROM "%s"."%s"
WHERE year = '%s' AND month = '%s' AND day = '%s'
  AND patient_id_hash != '%s'`,
		p.database, stagingTable, p.bucket, stagingPrefix,
		p.database, p.table,
		partition.Year, partition.Month, partition.Day, patientIDHash)

	executionID, err := p.athena.Submit(ctx, query)
	if err != nil {
		return err
	}
	return p.athena.Wait(ctx, executionID)
}

// cleanupStagingTable drops the staging table's catalog entry. Failures leave
// catalog residue worth a warning, never a failed rewrite.
func (p *DefaultProvider) cleanupStagingTable(ctx context.Context, stagingTable string) {
	if _, err := p.glueapi.DeleteTable(ctx, &glue.DeleteTableInput{
		DatabaseName: aws.String(p.database),
		Name:         aws.String(stagingTable),
	}); err != nil {
		logging.FromContext(ctx).Warnw("failed to delete staging table from catalog",
			"kind", erasureerrors.KindCatalogCleanupWarning, "table", stagingTable, "error", err)
	}
}
