package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"tabdigest/internal/domain"
	"tabdigest/internal/ports"
)

const summariesTable = "summaries"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var summaryColumns = []string{
	"id", "source_url", "title", "raw_content", "content_type", "status",
	"summary_text", "key_points", "tags", "error_detail", "created_at", "processed_at",
}

// PostgresRepository persists summary records in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

var _ ports.SummaryRepository = (*PostgresRepository)(nil)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a fresh record.
func (r *PostgresRepository) Create(ctx context.Context, sum *domain.Summary) error {
	query, args, err := psql.Insert(summariesTable).
		Columns(summaryColumns...).
		Values(sum.ID, sum.SourceURL, sum.Title, sum.RawContent, string(sum.ContentType),
			string(sum.Status), sum.SummaryText, sum.KeyPoints, pq.StringArray(sum.Tags),
			sum.ErrorDetail, sum.CreatedAt, sum.ProcessedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

// Get returns a record snapshot, or nil when the id is unknown.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*domain.Summary, error) {
	query, args, err := psql.Select(summaryColumns...).
		From(summariesTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	sum, err := scanSummary(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	return sum, nil
}

// Update overwrites the mutable fields of an existing record.
func (r *PostgresRepository) Update(ctx context.Context, sum *domain.Summary) error {
	query, args, err := psql.Update(summariesTable).
		Set("content_type", string(sum.ContentType)).
		Set("status", string(sum.Status)).
		Set("summary_text", sum.SummaryText).
		Set("key_points", sum.KeyPoints).
		Set("tags", pq.StringArray(sum.Tags)).
		Set("error_detail", sum.ErrorDetail).
		Set("processed_at", sum.ProcessedAt).
		Where(sq.Eq{"id": sum.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("summary %s not found", sum.ID)
	}
	return nil
}

// SetStatusIf performs the compare-and-set status transition the worker's
// ownership guard relies on. The WHERE clause makes it atomic in the store.
func (r *PostgresRepository) SetStatusIf(ctx context.Context, id string, from []domain.Status, next domain.Status) (bool, error) {
	states := make([]string, 0, len(from))
	for _, s := range from {
		states = append(states, string(s))
	}

	query, args, err := psql.Update(summariesTable).
		Set("status", string(next)).
		Where(sq.Eq{"id": id, "status": states}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build status update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// CountByStatus groups record counts by status.
func (r *PostgresRepository) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	query, args, err := psql.Select("status", "count(*)").
		From(summariesTable).
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	counts := map[domain.Status]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[domain.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return counts, nil
}

// ListCompleted returns completed records, most recent first, optionally
// limited to those created at or after since.
func (r *PostgresRepository) ListCompleted(ctx context.Context, limit int, since *time.Time) ([]domain.Summary, error) {
	builder := psql.Select(summaryColumns...).
		From(summariesTable).
		Where(sq.Eq{"status": string(domain.StatusCompleted)}).
		OrderBy("created_at DESC")
	if since != nil {
		builder = builder.Where(sq.GtOrEq{"created_at": *since})
	}
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query completed: %w", err)
	}
	defer rows.Close()

	var out []domain.Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, *sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (*domain.Summary, error) {
	var sum domain.Summary
	var contentType, status string
	var tags pq.StringArray
	var processedAt sql.NullTime

	err := row.Scan(&sum.ID, &sum.SourceURL, &sum.Title, &sum.RawContent, &contentType,
		&status, &sum.SummaryText, &sum.KeyPoints, &tags, &sum.ErrorDetail,
		&sum.CreatedAt, &processedAt)
	if err != nil {
		return nil, err
	}

	sum.ContentType = domain.ContentType(contentType)
	sum.Status = domain.Status(status)
	sum.Tags = []string(tags)
	if processedAt.Valid {
		t := processedAt.Time
		sum.ProcessedAt = &t
	}
	return &sum, nil
}
