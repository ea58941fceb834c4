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

// Package trigger turns approved request log events into erasure executions.
// It polls the change stream, filters for the APPROVED transition, and fans
// events out to a bounded worker pool.
package trigger

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/logging"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/requestlog"
)

// dedupTTL bounds the in-process suppression window for re-delivered events.
// Expiry is harmless: the claim compare-and-set rejects any duplicate that
// outlives it.
const dedupTTL = 10 * time.Minute

type Processor interface {
	Process(ctx context.Context, requestID, patientIDHash string) error
}

type Controller struct {
	stream    *requestlog.StreamReader
	processor Processor
	dedup     *cache.Cache

	pollInterval time.Duration
	workers      int
}

func NewController(stream *requestlog.StreamReader, processor Processor, pollInterval time.Duration, workers int) *Controller {
	return &Controller{
		stream:       stream,
		processor:    processor,
		dedup:        cache.New(dedupTTL, dedupTTL),
		pollInterval: pollInterval,
		workers:      workers,
	}
}

// Run polls the change stream until the context is canceled. Poll errors are
// logged and retried on the next tick; the stream reader re-resolves failed
// shards itself.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		if err := c.PollOnce(ctx); err != nil {
			logging.FromContext(ctx).Errorw("stream poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce drains one batch of stream events and dispatches the actionable
// ones concurrently, waiting for the whole batch before returning.
func (c *Controller) PollOnce(ctx context.Context) error {
	events, pollErr := c.stream.Poll(ctx)

	group := errgroup.Group{}
	group.SetLimit(c.workers)
	for _, event := range events {
		if !event.Approved() {
			continue
		}
		if _, seen := c.dedup.Get(event.RequestID); seen {
			logging.FromContext(ctx).Debugw("suppressing duplicate event", "request-id", event.RequestID)
			continue
		}
		c.dedup.SetDefault(event.RequestID, struct{}{})

		event := event
		group.Go(func() error {
			if err := c.processor.Process(ctx, event.RequestID, event.PatientIDHash); err != nil {
				// Evict so a later re-delivery can retry the request.
				c.dedup.Delete(event.RequestID)
				return err
			}
			return nil
		})
	}
	return multierr.Append(pollErr, group.Wait())
}
