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
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"k8s.io/utils/clock"

	sdk "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/aws"
	erasureerrors "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/errors"
)

// StatusIndex is the secondary index enabling bulk operational queries such
// as "all PENDING" or "all FAILED".
const StatusIndex = "status-index"

type Store interface {
	Put(context.Context, *ErasureRequest) error
	Get(context.Context, string) (*ErasureRequest, error)
	UpdateStatus(context.Context, string, Status, ...UpdateOption) error
	BeginProcessing(context.Context, string) error
	ListByStatus(context.Context, Status) ([]*ErasureRequest, error)
}

type update struct {
	errorMessage string
	auditLog     string
	completedAt  *time.Time
}

type UpdateOption func(*update)

func WithErrorMessage(message string) UpdateOption {
	return func(u *update) { u.errorMessage = message }
}

func WithAuditLog(serialized string) UpdateOption {
	return func(u *update) { u.auditLog = serialized }
}

func WithCompletedAt(at time.Time) UpdateOption {
	return func(u *update) { u.completedAt = &at }
}

// DefaultStore keeps erasure requests in a DynamoDB table. Durability,
// encryption with the customer-managed key, and point-in-time recovery are
// table properties delegated to the store.
type DefaultStore struct {
	dynamodbapi sdk.DynamoDBAPI
	table       string
	clk         clock.Clock
}

func NewDefaultStore(dynamodbapi sdk.DynamoDBAPI, table string, clk clock.Clock) *DefaultStore {
	return &DefaultStore{
		dynamodbapi: dynamodbapi,
		table:       table,
		clk:         clk,
	}
}

func (s *DefaultStore) Put(ctx context.Context, request *ErasureRequest) error {
	item, err := attributevalue.MarshalMap(request)
	if err != nil {
		return fmt.Errorf("marshaling erasure request, %w", err)
	}
	if _, err := s.dynamodbapi.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("putting erasure request, %w", err)
	}
	return nil
}

func (s *DefaultStore) Get(ctx context.Context, requestID string) (*ErasureRequest, error) {
	out, err := s.dynamodbapi.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            requestKey(requestID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting erasure request, %w", err)
	}
	if len(out.Item) == 0 {
		return nil, erasureerrors.New(erasureerrors.KindRequestNotFound, "request %q not found", requestID)
	}
	request := &ErasureRequest{}
	if err := attributevalue.UnmarshalMap(out.Item, request); err != nil {
		return nil, fmt.Errorf("unmarshaling erasure request, %w", err)
	}
	return request, nil
}

// UpdateStatus transitions the request to the given status. The conditional
// expression rejects any transition out of a terminal status, so re-issued
// updates converge instead of clobbering a finished request.
func (s *DefaultStore) UpdateStatus(ctx context.Context, requestID string, status Status, opts ...UpdateOption) error {
	u := &update{}
	for _, opt := range opts {
		opt(u)
	}

	setExprs := []string{"#status = :status", "updated_at = :updated_at"}
	values := map[string]types.AttributeValue{
		":status":     &types.AttributeValueMemberS{Value: string(status)},
		":updated_at": &types.AttributeValueMemberS{Value: s.clk.Now().UTC().Format(time.RFC3339Nano)},
		":completed":  &types.AttributeValueMemberS{Value: string(StatusCompleted)},
		":failed":     &types.AttributeValueMemberS{Value: string(StatusFailed)},
	}
	if u.completedAt != nil {
		setExprs = append(setExprs, "completed_at = :completed_at")
		values[":completed_at"] = &types.AttributeValueMemberS{Value: u.completedAt.UTC().Format(time.RFC3339Nano)}
	}
	if u.errorMessage != "" {
		setExprs = append(setExprs, "error_message = :error")
		values[":error"] = &types.AttributeValueMemberS{Value: u.errorMessage}
	}
	if u.auditLog != "" {
		setExprs = append(setExprs, "audit_log = :audit")
		values[":audit"] = &types.AttributeValueMemberS{Value: u.auditLog}
	}

	if _, err := s.dynamodbapi.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       requestKey(requestID),
		UpdateExpression:          aws.String("SET " + strings.Join(setExprs, ", ")),
		ConditionExpression:       aws.String("attribute_exists(request_id) AND #status <> :completed AND #status <> :failed"),
		ExpressionAttributeNames:  map[string]string{"#status": "status"},
		ExpressionAttributeValues: values,
	}); err != nil {
		return fmt.Errorf("updating request %q to %s, %w", requestID, status, err)
	}
	return nil
}

// BeginProcessing performs the APPROVED to PROCESSING compare-and-set that
// serializes duplicate stream deliveries: the first observer wins, every
// other observer gets a conditional check failure.
func (s *DefaultStore) BeginProcessing(ctx context.Context, requestID string) error {
	if _, err := s.dynamodbapi.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 requestKey(requestID),
		UpdateExpression:    aws.String("SET #status = :status, updated_at = :updated_at"),
		ConditionExpression: aws.String("attribute_exists(request_id) AND #status = :expected"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":     &types.AttributeValueMemberS{Value: string(StatusProcessing)},
			":updated_at": &types.AttributeValueMemberS{Value: s.clk.Now().UTC().Format(time.RFC3339Nano)},
			":expected":   &types.AttributeValueMemberS{Value: string(StatusApproved)},
		},
	}); err != nil {
		return fmt.Errorf("claiming request %q, %w", requestID, err)
	}
	return nil
}

func (s *DefaultStore) ListByStatus(ctx context.Context, status Status) ([]*ErasureRequest, error) {
	var requests []*ErasureRequest
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.dynamodbapi.Query(ctx, &dynamodb.QueryInput{
			TableName:                aws.String(s.table),
			IndexName:                aws.String(StatusIndex),
			KeyConditionExpression:   aws.String("#status = :status"),
			ExpressionAttributeNames: map[string]string{"#status": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":status": &types.AttributeValueMemberS{Value: string(status)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("querying requests by status %s, %w", status, err)
		}
		for i := range out.Items {
			request := &ErasureRequest{}
			if err := attributevalue.UnmarshalMap(out.Items[i], request); err != nil {
				return nil, fmt.Errorf("unmarshaling erasure request, %w", err)
			}
			requests = append(requests, request)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return requests, nil
}

func requestKey(requestID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"request_id": &types.AttributeValueMemberS{Value: requestID},
	}
}
