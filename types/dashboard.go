package types

import "time"

const (
	// MonthBuckets is the number of calendar-month histogram buckets.
	MonthBuckets = 12

	// ConfidenceBuckets is the number of confidence levels, floor(p/10) for p in [0, 100].
	ConfidenceBuckets = 11
)

// Dashboard is the aggregate view of a user's report history.
type Dashboard struct {
	User       PublicUser `json:"user"`
	Reports    []Report   `json:"reports"`
	Statistics Statistics `json:"statistics"`
}

// Statistics holds the dashboard aggregates.
type Statistics struct {
	// TotalPotholes is the number of reports the user has submitted.
	TotalPotholes int `json:"totalPotholes"`

	// MonthlyDetections counts reports by calendar month of creation,
	// index 0 being January. Reports from different years share buckets.
	MonthlyDetections [MonthBuckets]int `json:"monthlyDetections"`

	UserStats UserStats `json:"userStats"`
}

// UserStats holds per-report detail aggregates.
type UserStats struct {
	TotalReports int `json:"totalReports"`

	// ConfidenceLevels lists every report's confidence with its level,
	// newest report first.
	ConfidenceLevels []ConfidenceLevel `json:"confidenceLevels"`

	// ConfidenceHistogram counts reports per confidence level 0..10.
	ConfidenceHistogram [ConfidenceBuckets]int `json:"confidenceHistogram"`

	// FirstReport is the creation time of the oldest report, if any.
	FirstReport *time.Time `json:"firstReport,omitempty"`

	// LastReport is the creation time of the newest report, if any.
	LastReport *time.Time `json:"lastReport,omitempty"`
}
