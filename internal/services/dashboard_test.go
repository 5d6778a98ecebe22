package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pothole-detector/apiserver/internal/apperror"
	"github.com/pothole-detector/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfidenceLevel(t *testing.T) {
	cases := map[float64]int{
		-5:   0,
		0:    0,
		9.99: 0,
		10:   1,
		82.5: 8,
		99.9: 9,
		100:  10,
		150:  10,
	}
	for percentage, want := range cases {
		assert.Equal(t, want, ConfidenceLevel(percentage), "percentage %v", percentage)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	stats := Summarize(nil)

	assert.Zero(t, stats.TotalPotholes)
	assert.Equal(t, [types.MonthBuckets]int{}, stats.MonthlyDetections)
	assert.NotNil(t, stats.UserStats.ConfidenceLevels)
	assert.Empty(t, stats.UserStats.ConfidenceLevels)
	assert.Nil(t, stats.UserStats.FirstReport)
	assert.Nil(t, stats.UserStats.LastReport)
}

func TestSummarize(t *testing.T) {
	reports := []types.Report{
		{DetectionResultPercentage: 100, CreatedAt: time.Date(2025, time.March, 31, 23, 30, 0, 0, time.UTC)},
		{DetectionResultPercentage: 82.5, CreatedAt: time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)},
		{DetectionResultPercentage: 85, CreatedAt: time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)},
		// 2024-12-31 23:00 in UTC-5 is January in UTC
		{DetectionResultPercentage: 5, CreatedAt: time.Date(2024, time.December, 31, 23, 0, 0, 0, time.FixedZone("EST", -5*3600))},
	}

	stats := Summarize(reports)

	assert.Equal(t, 4, stats.TotalPotholes)
	assert.Equal(t, 4, stats.UserStats.TotalReports)
	assert.Equal(t, 3, stats.MonthlyDetections[0])
	assert.Equal(t, 1, stats.MonthlyDetections[2])
	assert.Equal(t, 0, stats.MonthlyDetections[11])

	sum := 0
	for _, n := range stats.MonthlyDetections {
		sum += n
	}
	assert.Equal(t, len(reports), sum)

	assert.Equal(t, []types.ConfidenceLevel{
		{Confidence: 100, Level: 10},
		{Confidence: 82.5, Level: 8},
		{Confidence: 85, Level: 8},
		{Confidence: 5, Level: 0},
	}, stats.UserStats.ConfidenceLevels)
	assert.Equal(t, 2, stats.UserStats.ConfidenceHistogram[8])
	assert.Equal(t, 1, stats.UserStats.ConfidenceHistogram[10])
	assert.Equal(t, 1, stats.UserStats.ConfidenceHistogram[0])

	require.NotNil(t, stats.UserStats.FirstReport)
	require.NotNil(t, stats.UserStats.LastReport)
	assert.True(t, stats.UserStats.FirstReport.Equal(reports[2].CreatedAt))
	assert.True(t, stats.UserStats.LastReport.Equal(reports[0].CreatedAt))
}

func TestGetDashboard(t *testing.T) {
	ctx := context.Background()
	users := newFakeUserRepo()
	reports := newFakeReportRepo()
	svc := NewDashboardService(users, reports)

	alice, err := users.Create(ctx, types.User{Name: "Alice", Email: "a@x.com"})
	require.NoError(t, err)

	empty, err := svc.GetDashboard(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PublicUser{Name: "Alice", Email: "a@x.com"}, empty.User)
	assert.NotNil(t, empty.Reports)
	assert.Zero(t, empty.Statistics.TotalPotholes)

	now := time.Now().UTC()
	reports.seed(alice.ID, 82.5, now)
	reports.seed(alice.ID, 40, now.Add(-time.Hour))
	reports.seed("someone-else", 90, now)

	dashboard, err := svc.GetDashboard(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, dashboard.Reports, 2)
	assert.Equal(t, 82.5, dashboard.Reports[0].DetectionResultPercentage)
	assert.Equal(t, 2, dashboard.Statistics.TotalPotholes)
	assert.GreaterOrEqual(t, dashboard.Statistics.MonthlyDetections[int(now.Month())-1], 1)

	_, err = svc.GetDashboard(ctx, "missing")
	assert.ErrorIs(t, err, apperror.ErrUserNotFound)

	reports.listErr = errors.New("connection reset")
	_, err = svc.GetDashboard(ctx, alice.ID)
	assertCode(t, err, apperror.CodeInternal)
}
