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
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/samber/lo"

	sdk "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/aws"
)

// S3Behavior must be reset between tests otherwise tests will
// pollute each other.
type S3Behavior struct {
	ListObjectsV2Behavior MockedFunction[s3.ListObjectsV2Input, s3.ListObjectsV2Output]
	CopyObjectBehavior    MockedFunction[s3.CopyObjectInput, s3.CopyObjectOutput]
	DeleteObjectBehavior  MockedFunction[s3.DeleteObjectInput, s3.DeleteObjectOutput]
	DeleteObjectsBehavior MockedFunction[s3.DeleteObjectsInput, s3.DeleteObjectsOutput]
}

// S3API is a stateful fake: default behaviors operate on the Objects map so a
// list-copy-delete sequence observes its own effects.
type S3API struct {
	sdk.S3API
	S3Behavior

	mu      sync.Mutex
	objects map[string]string
}

func NewS3API() *S3API {
	return &S3API{objects: map[string]string{}}
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (s *S3API) Reset() {
	s.ListObjectsV2Behavior.Reset()
	s.CopyObjectBehavior.Reset()
	s.DeleteObjectBehavior.Reset()
	s.DeleteObjectsBehavior.Reset()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = map[string]string{}
}

// PutObjectState seeds an object directly into the fake bucket.
func (s *S3API) PutObjectState(key, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = body
}

// Keys returns the sorted keys currently in the fake bucket.
func (s *S3API) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := lo.Keys(s.objects)
	sort.Strings(keys)
	return keys
}

// KeysWithPrefix returns the sorted keys under the prefix.
func (s *S3API) KeysWithPrefix(prefix string) []string {
	return lo.Filter(s.Keys(), func(key string, _ int) bool {
		return strings.HasPrefix(key, prefix)
	})
}

func (s *S3API) ListObjectsV2(_ context.Context, input *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return s.ListObjectsV2Behavior.Invoke(input, func(in *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
		keys := s.KeysWithPrefix(aws.ToString(in.Prefix))
		return &s3.ListObjectsV2Output{
			Contents: lo.Map(keys, func(key string, _ int) types.Object {
				return types.Object{Key: aws.String(key)}
			}),
			IsTruncated: aws.Bool(false),
			KeyCount:    aws.Int32(int32(len(keys))),
		}, nil
	})
}

func (s *S3API) CopyObject(_ context.Context, input *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	return s.CopyObjectBehavior.Invoke(input, func(in *s3.CopyObjectInput) (*s3.CopyObjectOutput, error) {
		// CopySource is "bucket/key".
		_, sourceKey, _ := strings.Cut(aws.ToString(in.CopySource), "/")
		s.mu.Lock()
		defer s.mu.Unlock()
		body, ok := s.objects[sourceKey]
		if !ok {
			return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: sourceKey}
		}
		s.objects[aws.ToString(in.Key)] = body
		return &s3.CopyObjectOutput{}, nil
	})
}

func (s *S3API) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	return s.DeleteObjectBehavior.Invoke(input, func(in *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.objects, aws.ToString(in.Key))
		return &s3.DeleteObjectOutput{}, nil
	})
}

func (s *S3API) DeleteObjects(_ context.Context, input *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	return s.DeleteObjectsBehavior.Invoke(input, func(in *s3.DeleteObjectsInput) (*s3.DeleteObjectsOutput, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, object := range in.Delete.Objects {
			delete(s.objects, aws.ToString(object.Key))
		}
		return &s3.DeleteObjectsOutput{}, nil
	})
}
