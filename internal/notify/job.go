// Package notify submits hospital notification jobs to the backend and
// polls them to a terminal status on a fixed budget.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is a notification job status.
type Status string

// Job statuses. The backend may send them in any case.
const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// ParseStatus normalizes a backend status string. It returns false for
// values outside the job lifecycle.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return st, true
	}
	return st, false
}

// Terminal reports whether the job will not change any more.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the client's view of a notification job.
type Job struct {
	ID                string     `json:"id"`
	Status            Status     `json:"status"`
	NotificationType  string     `json:"notification_type,omitempty"`
	RetryCount        int        `json:"retry_count"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	EstimatedDelivery string     `json:"estimated_delivery,omitempty"`
	CreatedAt         time.Time  `json:"created_at,omitzero"`
	UpdatedAt         time.Time  `json:"updated_at,omitzero"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// JobID decodes a job id sent as either a JSON number or a string.
type JobID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *JobID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = JobID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid job id %s: %w", data, err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("invalid job id %s: %w", data, err)
	}
	*id = JobID(n.String())
	return nil
}

type submitPayload struct {
	JobID                  *JobID `json:"job_id"`
	Status                 string `json:"status"`
	Message                string `json:"message"`
	EstimatedDelivery      string `json:"estimated_delivery"`
	ProcessedSynchronously bool   `json:"processed_synchronously"`
}

type statusPayload struct {
	ID               *JobID     `json:"id"`
	Status           string     `json:"status"`
	NotificationType string     `json:"notification_type"`
	RetryCount       int        `json:"retry_count"`
	ErrorMessage     string     `json:"error_message"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at"`
}

func decodeStatus(body []byte, jobID string) (Job, error) {
	var p statusPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Job{}, fmt.Errorf("decoding job status: %w", err)
	}
	st, ok := ParseStatus(p.Status)
	if !ok {
		return Job{}, fmt.Errorf("unknown job status %q", p.Status)
	}
	id := jobID
	if p.ID != nil && *p.ID != "" {
		id = string(*p.ID)
	}
	return Job{
		ID:               id,
		Status:           st,
		NotificationType: p.NotificationType,
		RetryCount:       p.RetryCount,
		ErrorMessage:     p.ErrorMessage,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
		CompletedAt:      p.CompletedAt,
	}, nil
}
