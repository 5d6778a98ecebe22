package services

import (
	"context"
	"math"
	"time"

	"github.com/pothole-detector/apiserver/internal/apperror"
	"github.com/pothole-detector/apiserver/types"
)

// DashboardService builds per-user report aggregates.
type DashboardService struct {
	users   UserRepository
	reports ReportRepository
}

func NewDashboardService(users UserRepository, reports ReportRepository) *DashboardService {
	return &DashboardService{users: users, reports: reports}
}

// GetDashboard loads every report of the user and summarizes them.
func (s *DashboardService) GetDashboard(ctx context.Context, userID string) (types.Dashboard, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return types.Dashboard{}, translate(err, apperror.ErrUserNotFound)
	}

	reports, err := s.reports.ListByUser(ctx, user.ID, 0)
	if err != nil {
		return types.Dashboard{}, translate(err, apperror.ErrUserNotFound)
	}
	if reports == nil {
		reports = []types.Report{}
	}

	return types.Dashboard{
		User:       user.Public(),
		Reports:    reports,
		Statistics: Summarize(reports),
	}, nil
}

// Summarize computes dashboard statistics. Months are taken in UTC and
// reports from different years share a bucket.
func Summarize(reports []types.Report) types.Statistics {
	stats := types.Statistics{
		TotalPotholes: len(reports),
		UserStats: types.UserStats{
			TotalReports:     len(reports),
			ConfidenceLevels: make([]types.ConfidenceLevel, 0, len(reports)),
		},
	}

	var first, last time.Time
	for _, report := range reports {
		created := report.CreatedAt.UTC()
		stats.MonthlyDetections[int(created.Month())-1]++

		level := ConfidenceLevel(report.DetectionResultPercentage)
		stats.UserStats.ConfidenceLevels = append(stats.UserStats.ConfidenceLevels, types.ConfidenceLevel{
			Confidence: report.DetectionResultPercentage,
			Level:      level,
		})
		stats.UserStats.ConfidenceHistogram[level]++

		if first.IsZero() || created.Before(first) {
			first = created
		}
		if last.IsZero() || created.After(last) {
			last = created
		}
	}

	if len(reports) > 0 {
		stats.UserStats.FirstReport = &first
		stats.UserStats.LastReport = &last
	}
	return stats
}

// ConfidenceLevel maps a percentage to floor(p/10), clamped to 0..10.
func ConfidenceLevel(percentage float64) int {
	if math.IsNaN(percentage) || percentage <= 0 {
		return 0
	}
	level := int(math.Floor(percentage / 10))
	if level > types.ConfidenceBuckets-1 {
		return types.ConfidenceBuckets - 1
	}
	return level
}
