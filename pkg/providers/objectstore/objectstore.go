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

// Package objectstore performs the bulk object operations of a partition
// swap: prefix listing, batched deletion, and list-copy-delete moves.
package objectstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/samber/lo"

	sdk "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/aws"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/logging"
)

// deleteBatchSize is the DeleteObjects API maximum.
const deleteBatchSize = 1000

const transientAttempts = 3

type Provider interface {
	ListKeys(context.Context, string) ([]string, error)
	DeletePrefix(context.Context, string) (int, error)
	MovePrefix(context.Context, string, string) (int, error)
}

type DefaultProvider struct {
	s3api  sdk.S3API
	bucket string
}

func NewDefaultProvider(s3api sdk.S3API, bucket string) *DefaultProvider {
	return &DefaultProvider{
		s3api:  s3api,
		bucket: bucket,
	}
}

// ListKeys returns every object key under the prefix, following pagination.
func (p *DefaultProvider) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var continuationToken *string
	for {
		var out *s3.ListObjectsV2Output
		if err := retry.Do(func() error {
			var err error
			out, err = p.s3api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(p.bucket),
				Prefix:            aws.String(prefix),
				ContinuationToken: continuationToken,
			})
			return err
		}, retry.Delay(time.Second), retry.Attempts(transientAttempts), retry.LastErrorOnly(true)); err != nil {
			return nil, fmt.Errorf("listing objects under %q, %w", prefix, err)
		}
		keys = append(keys, lo.Map(out.Contents, func(object types.Object, _ int) string {
			return aws.ToString(object.Key)
		})...)
		if !aws.ToBool(out.IsTruncated) {
			return keys, nil
		}
		continuationToken = out.NextContinuationToken
	}
}

// DeletePrefix removes every object under the prefix in batches and returns
// the number of objects deleted.
func (p *DefaultProvider) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := p.ListKeys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, batch := range lo.Chunk(keys, deleteBatchSize) {
		if err := retry.Do(func() error {
			_, err := p.s3api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(p.bucket),
				Delete: &types.Delete{
					Objects: lo.Map(batch, func(key string, _ int) types.ObjectIdentifier {
						return types.ObjectIdentifier{Key: aws.String(key)}
					}),
					Quiet: aws.Bool(true),
				},
			})
			return err
		}, retry.Delay(time.Second), retry.Attempts(transientAttempts), retry.LastErrorOnly(true)); err != nil {
			return deleted, fmt.Errorf("deleting %d objects under %q, %w", len(batch), prefix, err)
		}
		deleted += len(batch)
	}
	if deleted > 0 {
		logging.FromContext(ctx).Infow("deleted objects", "prefix", prefix, "count", deleted)
	}
	return deleted, nil
}

// MovePrefix relocates every object under sourcePrefix to destPrefix,
// preserving the relative suffix, and returns the number of objects moved.
// Copies land before their sources are deleted, so an interrupted move never
// loses data, only duplicates it.
func (p *DefaultProvider) MovePrefix(ctx context.Context, sourcePrefix, destPrefix string) (int, error) {
	keys, err := p.ListKeys(ctx, sourcePrefix)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, sourceKey := range keys {
		destKey := destPrefix + strings.TrimPrefix(sourceKey, sourcePrefix)
		if err := retry.Do(func() error {
			_, err := p.s3api.CopyObject(ctx, &s3.CopyObjectInput{
				Bucket:     aws.String(p.bucket),
				Key:        aws.String(destKey),
				CopySource: aws.String(p.bucket + "/" + sourceKey),
			})
			return err
		}, retry.Delay(time.Second), retry.Attempts(transientAttempts), retry.LastErrorOnly(true)); err != nil {
			return moved, fmt.Errorf("copying %q to %q, %w", sourceKey, destKey, err)
		}
		if err := retry.Do(func() error {
			_, err := p.s3api.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(p.bucket),
				Key:    aws.String(sourceKey),
			})
			return err
		}, retry.Delay(time.Second), retry.Attempts(transientAttempts), retry.LastErrorOnly(true)); err != nil {
			return moved, fmt.Errorf("deleting moved object %q, %w", sourceKey, err)
		}
		moved++
	}
	logging.FromContext(ctx).Infow("moved objects", "source", sourcePrefix, "dest", destPrefix, "count", moved)
	return moved, nil
}
