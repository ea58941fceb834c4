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
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	sdk "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/aws"
)

const FakeStreamARN = "arn:aws:dynamodb:us-east-1:000000000000:table/erasure-requests/stream/2026-01-01T00:00:00.000"

// DynamoDBAPI is a stateful fake of the request table. Items live in an
// in-memory map keyed by request_id, and UpdateItem evaluates the two
// conditional expression shapes the store issues, so compare-and-set
// semantics hold without a real table. Attribute value maps hold interface
// types that do not survive JSON cloning, hence the hand-rolled shape instead
// of MockedFunction.
type DynamoDBAPI struct {
	sdk.DynamoDBAPI

	PutItemError       AtomicError
	GetItemError       AtomicError
	UpdateItemError    AtomicError
	QueryError         AtomicError
	DescribeTableError AtomicError

	mu               sync.Mutex
	items            map[string]map[string]types.AttributeValue
	updateItemInputs []*dynamodb.UpdateItemInput
}

func NewDynamoDBAPI() *DynamoDBAPI {
	return &DynamoDBAPI{items: map[string]map[string]types.AttributeValue{}}
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (d *DynamoDBAPI) Reset() {
	d.PutItemError.Reset()
	d.GetItemError.Reset()
	d.UpdateItemError.Reset()
	d.QueryError.Reset()
	d.DescribeTableError.Reset()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = map[string]map[string]types.AttributeValue{}
	d.updateItemInputs = nil
}

// Item returns the stored attribute map for a request, or nil.
func (d *DynamoDBAPI) Item(requestID string) map[string]types.AttributeValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	item, ok := d.items[requestID]
	if !ok {
		return nil
	}
	cp := map[string]types.AttributeValue{}
	for k, v := range item {
		cp[k] = v
	}
	return cp
}

// ItemStatus returns the status attribute of a stored request, or "".
func (d *DynamoDBAPI) ItemStatus(requestID string) string {
	return stringValue(d.Item(requestID), "status")
}

// ItemAttribute returns a string attribute of a stored request, or "".
func (d *DynamoDBAPI) ItemAttribute(requestID, name string) string {
	return stringValue(d.Item(requestID), name)
}

// UpdateItemInputs returns every UpdateItem input seen, in call order.
func (d *DynamoDBAPI) UpdateItemInputs() []*dynamodb.UpdateItemInput {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*dynamodb.UpdateItemInput{}, d.updateItemInputs...)
}

func (d *DynamoDBAPI) PutItem(_ context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if err := d.PutItemError.Get(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items[stringValue(input.Item, "request_id")] = input.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (d *DynamoDBAPI) GetItem(_ context.Context, input *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if err := d.GetItemError.Get(); err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: d.Item(stringValue(input.Key, "request_id"))}, nil
}

func (d *DynamoDBAPI) UpdateItem(_ context.Context, input *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if err := d.UpdateItemError.Get(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updateItemInputs = append(d.updateItemInputs, input)

	requestID := stringValue(input.Key, "request_id")
	item, exists := d.items[requestID]
	if err := checkCondition(input, item, exists); err != nil {
		return nil, err
	}
	if !exists {
		item = map[string]types.AttributeValue{"request_id": &types.AttributeValueMemberS{Value: requestID}}
		d.items[requestID] = item
	}
	applyUpdate(input, item)
	return &dynamodb.UpdateItemOutput{}, nil
}

func (d *DynamoDBAPI) Query(_ context.Context, input *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if err := d.QueryError.Get(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	wanted := memberString(input.ExpressionAttributeValues[":status"])
	var items []map[string]types.AttributeValue
	for _, item := range d.items {
		if stringValue(item, "status") == wanted {
			items = append(items, item)
		}
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

func (d *DynamoDBAPI) DescribeTable(_ context.Context, input *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if err := d.DescribeTableError.Get(); err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{
			TableName:       input.TableName,
			LatestStreamArn: aws.String(FakeStreamARN),
		},
	}, nil
}

// checkCondition evaluates the two expression shapes the store issues:
// attribute existence plus either a status equality claim or a not-terminal
// guard.
func checkCondition(input *dynamodb.UpdateItemInput, item map[string]types.AttributeValue, exists bool) error {
	cond := aws.ToString(input.ConditionExpression)
	if cond == "" {
		return nil
	}
	if strings.Contains(cond, "attribute_exists(request_id)") && !exists {
		return &types.ConditionalCheckFailedException{Message: aws.String("item does not exist")}
	}
	status := stringValue(item, "status")
	if strings.Contains(cond, "#status = :expected") {
		if status != memberString(input.ExpressionAttributeValues[":expected"]) {
			return &types.ConditionalCheckFailedException{Message: aws.String("status is " + status)}
		}
	}
	if strings.Contains(cond, "#status <> :completed") {
		if status == memberString(input.ExpressionAttributeValues[":completed"]) ||
			status == memberString(input.ExpressionAttributeValues[":failed"]) {
			return &types.ConditionalCheckFailedException{Message: aws.String("status is terminal: " + status)}
		}
	}
	return nil
}

// applyUpdate applies a flat "SET a = :x, b = :y" expression in place.
func applyUpdate(input *dynamodb.UpdateItemInput, item map[string]types.AttributeValue) {
	expr := strings.TrimPrefix(aws.ToString(input.UpdateExpression), "SET ")
	for _, assignment := range strings.Split(expr, ", ") {
		name, placeholder, ok := strings.Cut(assignment, " = ")
		if !ok {
			continue
		}
		if resolved, aliased := input.ExpressionAttributeNames[name]; aliased {
			name = resolved
		}
		item[name] = input.ExpressionAttributeValues[placeholder]
	}
}

func stringValue(item map[string]types.AttributeValue, name string) string {
	if item == nil {
		return ""
	}
	return memberString(item[name])
}

func memberString(value types.AttributeValue) string {
	if member, ok := value.(*types.AttributeValueMemberS); ok {
		return member.Value
	}
	return ""
}
