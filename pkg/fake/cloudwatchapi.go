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

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	sdk "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/aws"
)

// CloudWatchBehavior must be reset between tests otherwise tests will
// pollute each other.
type CloudWatchBehavior struct {
	PutMetricDataBehavior MockedFunction[cloudwatch.PutMetricDataInput, cloudwatch.PutMetricDataOutput]
}

type CloudWatchAPI struct {
	sdk.CloudWatchAPI
	CloudWatchBehavior
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (c *CloudWatchAPI) Reset() {
	c.PutMetricDataBehavior.Reset()
}

func (c *CloudWatchAPI) PutMetricData(_ context.Context, input *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	return c.PutMetricDataBehavior.Invoke(input, func(_ *cloudwatch.PutMetricDataInput) (*cloudwatch.PutMetricDataOutput, error) {
		return &cloudwatch.PutMetricDataOutput{}, nil
	})
}
