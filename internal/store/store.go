package store

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/folio/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid report status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateReport(ctx context.Context, report *models.ReportRecord) error
	GetReportByJobID(ctx context.Context, jobID string) (*models.ReportRecord, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]*models.ReportRecord, int, error)
	// MarkReportFinished moves a pending or in-progress report to completed or
	// failed. Any other transition returns ErrInvalidTransition.
	MarkReportFinished(ctx context.Context, jobID string, status models.JobStatus, opts ...FinishOption) error
}

type ReportFilter struct {
	Portfolio string
	Status    models.JobStatus
	Page      int
	Limit     int
}

// Normalize clamps pagination to the supported range.
func (f ReportFilter) Normalize() ReportFilter {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	return f
}

type finishParams struct {
	ErrorMessage *string
}

type FinishOption func(*finishParams)

func WithErrorMessage(msg string) FinishOption {
	return func(p *finishParams) {
		p.ErrorMessage = &msg
	}
}
