// Package models contains shared data models used across the folio codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ReportRecord is the BFF's history entry for a report it requested from the backend.
type ReportRecord struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	JobID        string     `db:"job_id"        json:"job_id"`
	Portfolio    string     `db:"portfolio"     json:"portfolio"`
	Entity       string     `db:"entity"        json:"entity,omitempty"`
	Kind         string     `db:"kind"          json:"kind"`
	Status       JobStatus  `db:"status"        json:"status"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	FinishedAt   *time.Time `db:"finished_at"   json:"finished_at,omitempty"`
}
