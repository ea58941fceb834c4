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

// Package orchestrator drives one erasure request end to end: claim the
// request, locate affected partitions, rewrite them, delete the subject from
// the warehouse, and persist the audit trail with the terminal status.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"
	"k8s.io/utils/clock"

	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/dataset"
	erasureerrors "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/errors"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/logging"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/metrics"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/providers/locator"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/providers/rewriter"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/providers/warehouse"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/requestlog"
)

type Orchestrator struct {
	store     requestlog.Store
	locator   locator.Provider
	rewriter  rewriter.Provider
	warehouse warehouse.Provider
	emitter   *metrics.Emitter
	clk       clock.Clock

	requestTimeout time.Duration
}

func NewOrchestrator(store requestlog.Store, locator locator.Provider, rewriter rewriter.Provider,
	warehouse warehouse.Provider, emitter *metrics.Emitter, clk clock.Clock, requestTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		store:          store,
		locator:        locator,
		rewriter:       rewriter,
		warehouse:      warehouse,
		emitter:        emitter,
		clk:            clk,
		requestTimeout: requestTimeout,
	}
}

// Process executes one approved erasure request to a terminal status. It
// returns an error only for failures worth surfacing to the dispatch loop;
// losing a claim race to another worker is a nil return, since the winner is
// already doing the work.
func (o *Orchestrator) Process(ctx context.Context, requestID, patientIDHash string) error {
	ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("request-id", requestID))

	// An invalid hash fails the request before any data plane call; the hash
	// never reaches a query string.
	if err := dataset.ValidateSubjectHash(patientIDHash); err != nil {
		logging.FromContext(ctx).Errorw("rejecting request with invalid subject hash", "error", err)
		if updateErr := o.store.UpdateStatus(ctx, requestID, requestlog.StatusFailed,
			requestlog.WithErrorMessage(err.Error())); updateErr != nil {
			return updateErr
		}
		o.recordFailure(ctx)
		return err
	}

	if err := o.store.BeginProcessing(ctx, requestID); err != nil {
		if erasureerrors.IsConditionalCheckFailed(err) {
			// Another worker claimed it, it was never approved, or the record
			// is gone. Nothing left to do here.
			logging.FromContext(ctx).Debugw("skipping request, claim not available", "error", err)
			return nil
		}
		return err
	}

	start := o.clk.Now().UTC()
	audit := requestlog.NewAuditLog(requestID, start)

	ctx, cancel := context.WithTimeout(ctx, o.requestTimeout)
	defer cancel()

	if err := o.run(ctx, patientIDHash, audit); err != nil {
		return o.fail(ctx, requestID, audit, err)
	}
	return o.complete(ctx, requestID, audit)
}

// run executes the erasure steps in order, appending a step record for every
// step that produced an observable outcome, the failed one included.
func (o *Orchestrator) run(ctx context.Context, patientIDHash string, audit *requestlog.AuditLog) error {
	partitions, err := o.locator.FindPartitions(ctx, patientIDHash)
	if err != nil {
		return err
	}
	audit.Append(requestlog.StepRecord{
		Step:            requestlog.StepFindPartitions,
		CompletedAt:     o.clk.Now().UTC(),
		PartitionsFound: lo.ToPtr(len(partitions)),
		Partitions:      partitions,
	})
	logging.FromContext(ctx).Infow("partitions located", "count", len(partitions))

	if len(partitions) > 0 {
		results, rewriteErr := o.rewriter.Rewrite(ctx, patientIDHash, partitions)
		rewritten := lo.CountBy(results, func(r dataset.PartitionResult) bool {
			return r.Status == dataset.PartitionRewriteSucceeded
		})
		audit.Append(requestlog.StepRecord{
			Step:                requestlog.StepRewritePartitions,
			CompletedAt:         o.clk.Now().UTC(),
			PartitionsRewritten: lo.ToPtr(rewritten),
			Details:             results,
		})
		metrics.PartitionsRewrittenCounter.Add(float64(rewritten))
		o.emitter.Count(context.WithoutCancel(ctx), metrics.PartitionsRewritten, float64(rewritten))
		if rewriteErr != nil {
			return rewriteErr
		}
	}

	rows, err := o.warehouse.DeleteSubject(ctx, patientIDHash)
	if err != nil {
		return err
	}
	audit.Append(requestlog.StepRecord{
		Step:        requestlog.StepWarehouseDelete,
		CompletedAt: o.clk.Now().UTC(),
		RowsDeleted: lo.ToPtr(rows),
	})
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, requestID string, audit *requestlog.AuditLog) error {
	// The terminal write and metrics outlive the request deadline.
	ctx = context.WithoutCancel(ctx)

	completedAt := o.clk.Now().UTC()
	audit.Complete(completedAt)
	serialized, err := audit.Serialize()
	if err != nil {
		return err
	}
	if err := o.store.UpdateStatus(ctx, requestID, requestlog.StatusCompleted,
		requestlog.WithCompletedAt(completedAt),
		requestlog.WithAuditLog(serialized)); err != nil {
		return err
	}

	duration := lo.FromPtr(audit.DurationSeconds)
	metrics.RequestsProcessedCounter.Inc()
	metrics.DurationHistogram.Observe(duration)
	o.emitter.Count(ctx, metrics.RequestsProcessed, 1)
	o.emitter.Seconds(ctx, metrics.ErasureDuration, duration)
	logging.FromContext(ctx).Infow("erasure request completed",
		"duration-seconds", duration, "partitions", audit.PartitionCount())
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, requestID string, audit *requestlog.AuditLog, stepErr error) error {
	ctx = context.WithoutCancel(ctx)

	if errors.Is(stepErr, context.DeadlineExceeded) {
		logging.FromContext(ctx).Errorw("request deadline exceeded mid-step",
			"timeout", o.requestTimeout, "kind", erasureerrors.KindOf(stepErr))
		// A step failure keeps its own kind; only an unclassified deadline
		// gets the generic one.
		if erasureerrors.KindOf(stepErr) == "" {
			stepErr = erasureerrors.Wrap(erasureerrors.KindDeadlineExceeded, stepErr)
		}
	}
	failedAt := o.clk.Now().UTC()
	audit.Fail(failedAt, stepErr)
	serialized, err := audit.Serialize()
	if err != nil {
		logging.FromContext(ctx).Warnw("failed to serialize audit log", "error", err)
	}
	if updateErr := o.store.UpdateStatus(ctx, requestID, requestlog.StatusFailed,
		requestlog.WithErrorMessage(stepErr.Error()),
		requestlog.WithAuditLog(serialized)); updateErr != nil {
		logging.FromContext(ctx).Errorw("failed to persist FAILED status", "error", updateErr)
	}
	o.recordFailure(ctx)
	logging.FromContext(ctx).Errorw("erasure request failed",
		"kind", erasureerrors.KindOf(stepErr), "retryable", erasureerrors.IsRetryable(stepErr), "error", stepErr)
	return stepErr
}

func (o *Orchestrator) recordFailure(ctx context.Context) {
	metrics.FailuresCounter.Inc()
	o.emitter.Count(context.WithoutCancel(ctx), metrics.ErasureFailures, 1)
}
