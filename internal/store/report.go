package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pothole-detector/apiserver/types"
)

const reportColumns = `id, user_id, image_url, latitude, longitude, address, detection_result_percentage, created_at`

// reportRow is the flat column layout of the reports table.
type reportRow struct {
	ID                        string    `db:"id"`
	UserID                    string    `db:"user_id"`
	ImageURL                  string    `db:"image_url"`
	Latitude                  float64   `db:"latitude"`
	Longitude                 float64   `db:"longitude"`
	Address                   string    `db:"address"`
	DetectionResultPercentage float64   `db:"detection_result_percentage"`
	CreatedAt                 time.Time `db:"created_at"`
}

func (row reportRow) toReport() types.Report {
	return types.Report{
		ID:       row.ID,
		UserID:   row.UserID,
		ImageURL: row.ImageURL,
		Location: types.Location{
			Latitude:  row.Latitude,
			Longitude: row.Longitude,
			Address:   row.Address,
		},
		DetectionResultPercentage: row.DetectionResultPercentage,
		CreatedAt:                 row.CreatedAt,
	}
}

// ReportRepository handles persistence for reports.
type ReportRepository struct {
	db *sqlx.DB
}

func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

func (r *ReportRepository) Create(ctx context.Context, report types.Report) (types.Report, error) {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	query := r.db.Rebind(`
		INSERT INTO reports (` + reportColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := r.db.ExecContext(
		ctx,
		query,
		report.ID,
		report.UserID,
		report.ImageURL,
		report.Location.Latitude,
		report.Location.Longitude,
		report.Location.Address,
		report.DetectionResultPercentage,
		report.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return types.Report{}, ErrDuplicate
		}
		return types.Report{}, err
	}
	return report, nil
}

// GetForUser returns the report only when it belongs to userID.
func (r *ReportRepository) GetForUser(ctx context.Context, id, userID string) (types.Report, error) {
	if _, err := uuid.Parse(id); err != nil {
		return types.Report{}, ErrNotFound
	}

	query := r.db.Rebind(`SELECT ` + reportColumns + ` FROM reports WHERE id = ? AND user_id = ?`)
	var row reportRow
	if err := r.db.GetContext(ctx, &row, query, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Report{}, ErrNotFound
		}
		return types.Report{}, err
	}
	return row.toReport(), nil
}

// ListByUser returns the user's reports newest first. A limit below 1 returns all of them.
func (r *ReportRepository) ListByUser(ctx context.Context, userID string, limit int) ([]types.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []reportRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	reports := make([]types.Report, 0, len(rows))
	for _, row := range rows {
		reports = append(reports, row.toReport())
	}
	return reports, nil
}

func (r *ReportRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	query := r.db.Rebind(`SELECT COUNT(1) FROM reports WHERE user_id = ?`)
	var total int
	if err := r.db.GetContext(ctx, &total, query, userID); err != nil {
		return 0, err
	}
	return total, nil
}
