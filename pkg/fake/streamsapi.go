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
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"

	sdk "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/aws"
)

const (
	fakeShardID       = "shardId-00000000000000000000-00000000"
	fakeShardIterator = "fake-shard-iterator"
)

// DynamoDBStreamsAPI is a stateful single-shard fake: queued records are
// drained by the next GetRecords call. Stream records hold interface-typed
// attribute maps that do not survive JSON cloning, hence the hand-rolled
// shape instead of MockedFunction.
type DynamoDBStreamsAPI struct {
	sdk.DynamoDBStreamsAPI

	DescribeStreamError   AtomicError
	GetShardIteratorError AtomicError
	GetRecordsError       AtomicError

	mu      sync.Mutex
	records []streamtypes.Record
}

func NewDynamoDBStreamsAPI() *DynamoDBStreamsAPI {
	return &DynamoDBStreamsAPI{}
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (d *DynamoDBStreamsAPI) Reset() {
	d.DescribeStreamError.Reset()
	d.GetShardIteratorError.Reset()
	d.GetRecordsError.Reset()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = nil
}

// QueueRecord appends a raw record for the next GetRecords call.
func (d *DynamoDBStreamsAPI) QueueRecord(record streamtypes.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, record)
}

// QueueStatusChange queues a MODIFY record for a request transitioning
// between statuses.
func (d *DynamoDBStreamsAPI) QueueStatusChange(requestID, patientIDHash, oldStatus, newStatus string) {
	d.QueueRecord(streamtypes.Record{
		EventName: streamtypes.OperationTypeModify,
		Dynamodb: &streamtypes.StreamRecord{
			NewImage: map[string]streamtypes.AttributeValue{
				"request_id":      &streamtypes.AttributeValueMemberS{Value: requestID},
				"patient_id_hash": &streamtypes.AttributeValueMemberS{Value: patientIDHash},
				"status":          &streamtypes.AttributeValueMemberS{Value: newStatus},
			},
			OldImage: map[string]streamtypes.AttributeValue{
				"request_id":      &streamtypes.AttributeValueMemberS{Value: requestID},
				"patient_id_hash": &streamtypes.AttributeValueMemberS{Value: patientIDHash},
				"status":          &streamtypes.AttributeValueMemberS{Value: oldStatus},
			},
		},
	})
}

func (d *DynamoDBStreamsAPI) DescribeStream(_ context.Context, input *dynamodbstreams.DescribeStreamInput, _ ...func(*dynamodbstreams.Options)) (*dynamodbstreams.DescribeStreamOutput, error) {
	if err := d.DescribeStreamError.Get(); err != nil {
		return nil, err
	}
	return &dynamodbstreams.DescribeStreamOutput{
		StreamDescription: &streamtypes.StreamDescription{
			StreamArn: input.StreamArn,
			Shards: []streamtypes.Shard{{
				ShardId: aws.String(fakeShardID),
			}},
		},
	}, nil
}

func (d *DynamoDBStreamsAPI) GetShardIterator(_ context.Context, _ *dynamodbstreams.GetShardIteratorInput, _ ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetShardIteratorOutput, error) {
	if err := d.GetShardIteratorError.Get(); err != nil {
		return nil, err
	}
	return &dynamodbstreams.GetShardIteratorOutput{
		ShardIterator: aws.String(fakeShardIterator),
	}, nil
}

func (d *DynamoDBStreamsAPI) GetRecords(_ context.Context, _ *dynamodbstreams.GetRecordsInput, _ ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetRecordsOutput, error) {
	if err := d.GetRecordsError.Get(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	records := d.records
	d.records = nil
	return &dynamodbstreams.GetRecordsOutput{
		Records:           records,
		NextShardIterator: aws.String(fakeShardIterator),
	}, nil
}
