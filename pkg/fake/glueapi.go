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

	"github.com/aws/aws-sdk-go-v2/service/glue"

	sdk "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/aws"
)

// GlueBehavior must be reset between tests otherwise tests will
// pollute each other.
type GlueBehavior struct {
	DeleteTableBehavior MockedFunction[glue.DeleteTableInput, glue.DeleteTableOutput]
}

type GlueAPI struct {
	sdk.GlueAPI
	GlueBehavior
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (g *GlueAPI) Reset() {
	g.DeleteTableBehavior.Reset()
}

func (g *GlueAPI) DeleteTable(_ context.Context, input *glue.DeleteTableInput, _ ...func(*glue.Options)) (*glue.DeleteTableOutput, error) {
	return g.DeleteTableBehavior.Invoke(input, func(_ *glue.DeleteTableInput) (*glue.DeleteTableOutput, error) {
		return &glue.DeleteTableOutput{}, nil
	})
}
