package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownJobStatus is returned when a status string is not one of the four known states.
var ErrUnknownJobStatus = errors.New("unknown job status")

// JobStatus is the lifecycle state of a report-generation job owned by the backend.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// ParseJobStatus normalizes case and surrounding whitespace and rejects anything
// outside the known set. "running" is accepted as an alias of in_progress.
func ParseJobStatus(s string) (JobStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return JobStatusPending, nil
	case "in_progress", "running":
		return JobStatusInProgress, nil
	case "completed":
		return JobStatusCompleted, nil
	case "failed":
		return JobStatusFailed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownJobStatus, s)
	}
}

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) String() string { return string(s) }

// UnmarshalJSON parses through ParseJobStatus so unknown values fail loudly.
func (s *JobStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	st, err := ParseJobStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Job tracks an async report-generation job. The BFF returns a job_id on POST /api/v1/reports;
// callers poll GET /api/v1/reports/jobs/{job_id} until status is completed or failed.
// CreatedAt is kept verbatim: the backend may omit the zone and send microseconds.
type Job struct {
	ID        string        `json:"id"`
	Status    JobStatus     `json:"status"`
	Kind      string        `json:"kind,omitempty"`
	CreatedAt string        `json:"created_at"`
	Result    *ReportResult `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Terminal reports whether the job has reached completed or failed.
func (j *Job) Terminal() bool {
	return j != nil && j.Status.Terminal()
}

// ReportResult is the payload of a completed report job.
type ReportResult struct {
	Title       string `json:"title"`
	Summary     string `json:"summary"`
	DocumentURL string `json:"document_url,omitempty"`
	Pages       int    `json:"pages,omitempty"`
}

// ReportRequest is the input to a report-generation job.
type ReportRequest struct {
	Portfolio string `json:"portfolio"`
	Entity    string `json:"entity,omitempty"`
	Kind      string `json:"kind"`
	Currency  string `json:"currency,omitempty"`
}
