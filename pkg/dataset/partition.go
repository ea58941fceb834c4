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

// Package dataset holds the shared vocabulary of the curated data lake: the
// partition naming scheme and the pseudonymous subject identity.
package dataset

import (
	"fmt"
)

// Partition names one (year, month, day) directory of the curated columnar
// dataset. Values are kept as strings because they are partition column
// values, zero-padding included.
type Partition struct {
	Year  string `json:"year"`
	Month string `json:"month"`
	Day   string `json:"day"`
}

func (p Partition) String() string {
	return fmt.Sprintf("year=%s/month=%s/day=%s", p.Year, p.Month, p.Day)
}

// Prefix returns the destination object prefix of the partition under the
// curated bucket.
func (p Partition) Prefix() string {
	return fmt.Sprintf("curated/year=%s/month=%s/day=%s/", p.Year, p.Month, p.Day)
}

// StagingTable returns the staging table name for a rewrite attempt. The
// nonce must be fresh per attempt so that a retried rewrite never contends
// with debris from a previous one.
func (p Partition) StagingTable(nonce int64) string {
	return fmt.Sprintf("temp_erasure_%s_%s_%s_%d", p.Year, p.Month, p.Day, nonce)
}

// StagingPrefix returns the object prefix holding the rewritten file set
// before it replaces the destination.
func StagingPrefix(stagingTable string) string {
	return fmt.Sprintf("temp-erasure/%s/", stagingTable)
}

// RewriteSubStep identifies how far a partition rewrite progressed before it
// failed, so operators can reconcile a partially-rewritten partition.
type RewriteSubStep string

const (
	SubStepStaging           RewriteSubStep = "staging"
	SubStepDestinationDelete RewriteSubStep = "destination_delete"
	SubStepStagingMove       RewriteSubStep = "staging_move"
	SubStepCatalogCleanup    RewriteSubStep = "catalog_cleanup"
)

// PartitionResult records the outcome of a single partition rewrite in the
// audit log.
type PartitionResult struct {
	Partition            string         `json:"partition"`
	OriginalFilesDeleted int            `json:"original_files_deleted"`
	NewFilesCreated      int            `json:"new_files_created"`
	Status               string         `json:"status"`
	Error                string         `json:"error,omitempty"`
	LastSubStep          RewriteSubStep `json:"last_sub_step,omitempty"`
}

const (
	PartitionRewriteSucceeded = "success"
	PartitionRewriteFailed    = "failed"
)
