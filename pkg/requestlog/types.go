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

// Package requestlog owns the durable erasure request records: their state
// machine, the audit document attached to each, and the DynamoDB-backed store
// plus change stream they live in.
package requestlog

import (
	"encoding/json"
	"time"

	"github.com/samber/lo"

	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/dataset"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusApproved   Status = "APPROVED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal statuses are immutable: the store rejects any transition out of
// them.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErasureRequest is the unit record of the request log, keyed by RequestID.
type ErasureRequest struct {
	RequestID     string     `dynamodbav:"request_id" json:"request_id"`
	PatientIDHash string     `dynamodbav:"patient_id_hash" json:"patient_id_hash"`
	Status        Status     `dynamodbav:"status" json:"status"`
	Requester     string     `dynamodbav:"requester" json:"requester"`
	RequestedAt   time.Time  `dynamodbav:"requested_at" json:"requested_at"`
	UpdatedAt     time.Time  `dynamodbav:"updated_at" json:"updated_at"`
	CompletedAt   *time.Time `dynamodbav:"completed_at,omitempty" json:"completed_at,omitempty"`
	ErrorMessage  string     `dynamodbav:"error_message,omitempty" json:"error_message,omitempty"`
	// AuditLog is the serialized JSON form of the audit document.
	AuditLog string `dynamodbav:"audit_log,omitempty" json:"audit_log,omitempty"`
}

type StepName string

const (
	StepFindPartitions    StepName = "find_partitions"
	StepRewritePartitions StepName = "rewrite_partitions"
	StepWarehouseDelete   StepName = "warehouse_delete"
)

// StepRecord is one entry of the audit document. Only the fields belonging to
// the named step are populated.
type StepRecord struct {
	Step        StepName  `json:"step"`
	CompletedAt time.Time `json:"completed_at"`

	// find_partitions
	PartitionsFound *int                `json:"partitions_found,omitempty"`
	Partitions      []dataset.Partition `json:"partitions,omitempty"`

	// rewrite_partitions
	PartitionsRewritten *int                      `json:"partitions_rewritten,omitempty"`
	Details             []dataset.PartitionResult `json:"details,omitempty"`

	// warehouse_delete
	RowsDeleted *int64 `json:"rows_deleted,omitempty"`
}

// AuditLog is the ordered, append-only record of every observed step outcome
// for one request.
type AuditLog struct {
	RequestID       string       `json:"request_id"`
	StartedAt       time.Time    `json:"started_at"`
	Steps           []StepRecord `json:"steps"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	DurationSeconds *float64     `json:"duration_seconds,omitempty"`
	FailedAt        *time.Time   `json:"failed_at,omitempty"`
	Error           string       `json:"error,omitempty"`
}

func NewAuditLog(requestID string, startedAt time.Time) *AuditLog {
	return &AuditLog{
		RequestID: requestID,
		StartedAt: startedAt,
		Steps:     []StepRecord{},
	}
}

func (a *AuditLog) Append(record StepRecord) {
	a.Steps = append(a.Steps, record)
}

// Step returns the record for the named step, if it was reached. Lookups go
// by name rather than position: the rewrite step is skipped entirely when no
// partitions are found, so indexes are not stable.
func (a *AuditLog) Step(name StepName) (StepRecord, bool) {
	return lo.Find(a.Steps, func(r StepRecord) bool { return r.Step == name })
}

// PartitionCount reports how many partitions the locator found, or zero if
// that step never completed.
func (a *AuditLog) PartitionCount() int {
	record, ok := a.Step(StepFindPartitions)
	if !ok {
		return 0
	}
	return lo.FromPtr(record.PartitionsFound)
}

func (a *AuditLog) Complete(at time.Time) {
	a.CompletedAt = lo.ToPtr(at)
	a.DurationSeconds = lo.ToPtr(at.Sub(a.StartedAt).Seconds())
}

func (a *AuditLog) Fail(at time.Time, err error) {
	a.FailedAt = lo.ToPtr(at)
	a.Error = err.Error()
}

// Serialize emits the document as the JSON string persisted on the request
// row. The string form is a defensive copy: later mutation of the in-memory
// document cannot alter what was persisted.
func (a *AuditLog) Serialize() (string, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
