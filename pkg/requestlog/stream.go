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

package requestlog

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"go.uber.org/multierr"

	sdk "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/aws"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/logging"
)

// Event is one request log mutation as observed on the change stream,
// reduced to the fields the trigger needs. Delivery is at-least-once; the
// APPROVED to PROCESSING compare-and-set downstream absorbs duplicates.
type Event struct {
	RequestID     string
	PatientIDHash string
	NewStatus     Status
	OldStatus     Status
}

// Approved reports whether this event is the transition the trigger acts on:
// the new image is APPROVED and the prior image (if any) was not.
func (e Event) Approved() bool {
	return e.NewStatus == StatusApproved && e.OldStatus != StatusApproved
}

// StreamReader consumes the request table's change stream in commit order.
// Shard iterators start at TRIM_HORIZON: a restarted process re-reads the
// retained window, which is safe because claim CAS and idempotent steps make
// re-delivery a no-op.
type StreamReader struct {
	streamsapi  sdk.DynamoDBStreamsAPI
	dynamodbapi sdk.DynamoDBAPI
	table       string

	streamARN string
	iterators map[string]string
}

func NewStreamReader(streamsapi sdk.DynamoDBStreamsAPI, dynamodbapi sdk.DynamoDBAPI, table string) *StreamReader {
	return &StreamReader{
		streamsapi:  streamsapi,
		dynamodbapi: dynamodbapi,
		table:       table,
		iterators:   map[string]string{},
	}
}

// Poll fetches the next batch of events from every open shard. A failed shard
// read drops its iterator so the next poll re-resolves it; other shards still
// deliver.
func (r *StreamReader) Poll(ctx context.Context) ([]Event, error) {
	if err := r.resolveStreamARN(ctx); err != nil {
		return nil, err
	}
	if err := r.refreshShards(ctx); err != nil {
		return nil, err
	}

	var events []Event
	var errs error
	for shardID, iterator := range r.iterators {
		out, err := r.streamsapi.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{
			ShardIterator: aws.String(iterator),
		})
		if err != nil {
			delete(r.iterators, shardID)
			errs = multierr.Append(errs, fmt.Errorf("reading stream shard %s, %w", shardID, err))
			continue
		}
		for _, record := range out.Records {
			if event, ok := parseRecord(record); ok {
				events = append(events, event)
			} else {
				logging.FromContext(ctx).Warnw("skipping stream record with missing fields", "shard", shardID)
			}
		}
		if out.NextShardIterator == nil {
			// Shard closed.
			delete(r.iterators, shardID)
			continue
		}
		r.iterators[shardID] = *out.NextShardIterator
	}
	return events, errs
}

func (r *StreamReader) resolveStreamARN(ctx context.Context) error {
	if r.streamARN != "" {
		return nil
	}
	out, err := r.dynamodbapi.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(r.table),
	})
	if err != nil {
		return fmt.Errorf("describing requests table, %w", err)
	}
	if out.Table.LatestStreamArn == nil {
		return fmt.Errorf("requests table %q has no change stream enabled", r.table)
	}
	r.streamARN = *out.Table.LatestStreamArn
	return nil
}

func (r *StreamReader) refreshShards(ctx context.Context) error {
	var lastShardID *string
	for {
		out, err := r.streamsapi.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{
			StreamArn:             aws.String(r.streamARN),
			ExclusiveStartShardId: lastShardID,
		})
		if err != nil {
			return fmt.Errorf("describing change stream, %w", err)
		}
		for _, shard := range out.StreamDescription.Shards {
			shardID := aws.ToString(shard.ShardId)
			if _, ok := r.iterators[shardID]; ok {
				continue
			}
			iter, err := r.streamsapi.GetShardIterator(ctx, &dynamodbstreams.GetShardIteratorInput{
				StreamArn:         aws.String(r.streamARN),
				ShardId:           shard.ShardId,
				ShardIteratorType: streamtypes.ShardIteratorTypeTrimHorizon,
			})
			if err != nil {
				return fmt.Errorf("getting iterator for shard %s, %w", shardID, err)
			}
			r.iterators[shardID] = aws.ToString(iter.ShardIterator)
		}
		lastShardID = out.StreamDescription.LastEvaluatedShardId
		if lastShardID == nil {
			return nil
		}
	}
}

// parseRecord lifts a raw stream record into an Event. Only inserts and
// modifications carry a new image worth acting on; removals are dropped.
func parseRecord(record streamtypes.Record) (Event, bool) {
	if record.EventName != streamtypes.OperationTypeInsert && record.EventName != streamtypes.OperationTypeModify {
		return Event{}, false
	}
	if record.Dynamodb == nil {
		return Event{}, false
	}
	event := Event{
		RequestID:     stringAttribute(record.Dynamodb.NewImage, "request_id"),
		PatientIDHash: stringAttribute(record.Dynamodb.NewImage, "patient_id_hash"),
		NewStatus:     Status(stringAttribute(record.Dynamodb.NewImage, "status")),
		OldStatus:     Status(stringAttribute(record.Dynamodb.OldImage, "status")),
	}
	if event.RequestID == "" || event.PatientIDHash == "" {
		return Event{}, false
	}
	return event, true
}

func stringAttribute(image map[string]streamtypes.AttributeValue, name string) string {
	if attr, ok := image[name].(*streamtypes.AttributeValueMemberS); ok {
		return attr.Value
	}
	return ""
}
