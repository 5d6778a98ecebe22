package services

import (
	"context"

	"github.com/pothole-detector/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
}

// ReportRepository defines persistence operations for reports.
type ReportRepository interface {
	Create(ctx context.Context, report types.Report) (types.Report, error)
	GetForUser(ctx context.Context, id, userID string) (types.Report, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]types.Report, error)
	CountByUser(ctx context.Context, userID string) (int, error)
}
