package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	// JobTypeQuotaPeriodReset zeroes one organization's counter and rotates
	// its period window.
	JobTypeQuotaPeriodReset JobType = "quota_period_reset"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// MarkAsProcessing marks the job as being processed
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.ProcessedAt = &now
	j.UpdatedAt = now
}

// MarkAsCompleted marks the job as completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// MarkAsFailed marks the job as failed and records the error
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.ErrorMsg = errorMsg
	j.UpdatedAt = time.Now()
}

// MarkAsRetrying bumps the retry counter and marks the job as retrying
func (j *Job) MarkAsRetrying() {
	j.RetryCount++
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}

// IsRetryable reports whether the job has retries left
func (j *Job) IsRetryable() bool {
	return j.RetryCount < j.MaxRetries
}

// QuotaResetJobPayload contains the payload for period reset jobs
type QuotaResetJobPayload struct {
	OrganizationID uint      `json:"organization_id"`
	Dimension      string    `json:"dimension"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
}

// ToMap converts the payload to a map for storage
func (p QuotaResetJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"organization_id": p.OrganizationID,
		"dimension":       p.Dimension,
		"period_start":    p.PeriodStart.Format(time.RFC3339),
		"period_end":      p.PeriodEnd.Format(time.RFC3339),
	}
}

// QuotaResetJobPayloadFromMap creates a payload from a map
func QuotaResetJobPayloadFromMap(data map[string]interface{}) (*QuotaResetJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload QuotaResetJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}
