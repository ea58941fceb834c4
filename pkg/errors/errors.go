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

package errors

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
	"github.com/samber/lo"
)

// Kind classifies a step failure so that a terminal status update and its
// operator-facing error message name the step that raised it.
type Kind string

const (
	KindInvalidInput           Kind = "INVALID_INPUT"
	KindLocatorQueryFailed     Kind = "LOCATOR_QUERY_FAILED"
	KindRewriteStagingFailed   Kind = "REWRITE_STAGING_FAILED"
	KindRewriteSwapFailed      Kind = "REWRITE_SWAP_FAILED"
	KindWarehouseDeleteFailed  Kind = "WAREHOUSE_DELETE_FAILED"
	KindRequestNotFound        Kind = "REQUEST_NOT_FOUND"
	KindDeadlineExceeded       Kind = "DEADLINE_EXCEEDED"
	KindCatalogCleanupWarning  Kind = "CATALOG_CLEANUP_WARNING"
)

// retryableKinds fail the request but converge on re-dispatch; KindInvalidInput
// and KindRequestNotFound never do.
var retryableKinds = []Kind{
	KindLocatorQueryFailed,
	KindRewriteStagingFailed,
	KindRewriteSwapFailed,
	KindWarehouseDeleteFailed,
	KindDeadlineExceeded,
}

// Error is the outcome type for every erasure step.
type Error struct {
	Kind Kind
	Err  error
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the classification from an error chain. Unclassified errors
// report an empty Kind.
func KindOf(err error) Kind {
	var erasureErr *Error
	if errors.As(err, &erasureErr) {
		return erasureErr.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether a re-dispatch of the same request could succeed.
func IsRetryable(err error) bool {
	return lo.Contains(retryableKinds, KindOf(err))
}

var conditionFailedCodes = []string{
	"ConditionalCheckFailedException",
}

var notFoundCodes = []string{
	"ResourceNotFoundException",
	"EntityNotFoundException",
	"NoSuchKey",
}

// IsConditionalCheckFailed returns true if the err is the DynamoDB rejection
// of a compare-and-set update (even if it's wrapped).
func IsConditionalCheckFailed(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return lo.Contains(conditionFailedCodes, apiErr.ErrorCode())
	}
	return false
}

// IsNotFound returns true if the err is an AWS error (even if it's wrapped)
// and is known to mean "not found" (as opposed to a more serious or
// unexpected error)
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return lo.Contains(notFoundCodes, apiErr.ErrorCode())
	}
	return false
}
