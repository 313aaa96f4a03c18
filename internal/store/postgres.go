package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/folio/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Report records ---

const reportColumns = `id, job_id, portfolio, entity, kind, status, error_message, created_at, finished_at`

func (s *PostgresStore) CreateReport(ctx context.Context, r *models.ReportRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO report_records (`+reportColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.JobID, r.Portfolio, r.Entity, r.Kind, string(r.Status), r.ErrorMessage, r.CreatedAt, r.FinishedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReportByJobID(ctx context.Context, jobID string) (*models.ReportRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM report_records WHERE job_id = $1`, jobID)
	r, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListReports(ctx context.Context, filter ReportFilter) ([]*models.ReportRecord, int, error) {
	filter = filter.Normalize()

	// Build WHERE clause dynamically
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.Portfolio != "" {
		conditions = append(conditions, fmt.Sprintf("portfolio = $%d", argIdx))
		args = append(args, filter.Portfolio)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(filter.Status))
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM report_records WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}

	offset := (filter.Page - 1) * filter.Limit
	dataQuery := fmt.Sprintf(
		`SELECT %s FROM report_records WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		reportColumns, where, argIdx, argIdx+1)
	args = append(args, filter.Limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	reports := []*models.ReportRecord{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, total, rows.Err()
}

func (s *PostgresStore) MarkReportFinished(ctx context.Context, jobID string, status models.JobStatus, opts ...FinishOption) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: target %s is not terminal", ErrInvalidTransition, status)
	}

	params := &finishParams{}
	for _, opt := range opts {
		opt(params)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE report_records SET status = $2, finished_at = $3, error_message = COALESCE($4, error_message)
		 WHERE job_id = $1 AND status IN ('pending', 'in_progress')`,
		jobID, string(status), time.Now().UTC(), params.ErrorMessage)
	if err != nil {
		return fmt.Errorf("mark report finished: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Nothing updated: either the report is unknown or it already finished.
	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM report_records WHERE job_id = $1`, jobID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get report status: %w", err)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
}

func scanReport(row pgx.Row) (*models.ReportRecord, error) {
	var r models.ReportRecord
	var status string
	if err := row.Scan(&r.ID, &r.JobID, &r.Portfolio, &r.Entity, &r.Kind, &status,
		&r.ErrorMessage, &r.CreatedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	st, err := models.ParseJobStatus(status)
	if err != nil {
		return nil, err
	}
	r.Status = st
	return &r, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
