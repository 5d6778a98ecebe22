package types

import "time"

// Report represents a single pothole observation submitted by a user.
// Reports are immutable once created.
type Report struct {
	// ID is the opaque unique identifier of the report.
	ID string `json:"id" db:"id"`

	// UserID identifies the user who submitted the report.
	UserID string `json:"userId" db:"user_id"`

	// ImageURL points at the uploaded photo in the blob store.
	ImageURL string `json:"imageUrl" db:"image_url"`

	// Location is where the pothole was observed.
	Location Location `json:"location" db:"-"`

	// DetectionResultPercentage is the classifier confidence on a 0-100
	// scale, stored verbatim as submitted.
	DetectionResultPercentage float64 `json:"detectionResultPercentage" db:"detection_result_percentage"`

	// CreatedAt is the timestamp when the report was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Location is a geographic point with an optional human-readable address.
type Location struct {
	// Latitude in decimal degrees, -90 to 90.
	Latitude float64 `json:"latitude"`

	// Longitude in decimal degrees, -180 to 180.
	Longitude float64 `json:"longitude"`

	// Address is the reverse-geocoded address, if the client resolved one.
	Address string `json:"address"`
}

// ConfidenceLevel buckets a report's confidence into tenths.
type ConfidenceLevel struct {
	Confidence float64 `json:"confidence"`
	Level      int     `json:"level"`
}
