package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/pothole-detector/apiserver/internal/apperror"
	"github.com/pothole-detector/apiserver/internal/goroutine"
	"github.com/pothole-detector/apiserver/internal/metrics"
	"github.com/pothole-detector/apiserver/types"
	"github.com/sirupsen/logrus"
)

const (
	// RecentReportsLimit caps the recent-reports listing.
	RecentReportsLimit = 5

	defaultShareTimeout = 10 * time.Second
)

// BlobStore persists report images and resolves their public URLs.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// SharePublisher forwards a created report to the share channel.
type SharePublisher interface {
	Publish(ctx context.Context, report types.Report) error
}

// ReportUpload carries a report submission as received from the client.
// Numeric fields stay raw so parsing failures surface as validation errors.
type ReportUpload struct {
	Image       []byte
	Filename    string
	ContentType string

	Latitude   string
	Longitude  string
	Address    string
	Confidence string

	Share bool
}

// LocationUpdate is the corrected location of a resubmitted report.
type LocationUpdate struct {
	Latitude  string
	Longitude string
	Address   string
}

type reportFields struct {
	Latitude   float64 `json:"latitude" validate:"latitude"`
	Longitude  float64 `json:"longitude" validate:"longitude"`
	Confidence float64 `json:"detectionResultPercentage" validate:"gte=0,lte=100"`
}

// ReportOptions tunes ReportService. Zero values select defaults.
type ReportOptions struct {
	MaxImageBytes int64
	ShareTimeout  time.Duration
}

// ReportService encapsulates report ingestion and lookup.
type ReportService struct {
	reports   ReportRepository
	blobs     BlobStore
	publisher SharePublisher
	async     *goroutine.RecoveryHandler
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	opts      ReportOptions
}

// NewReportService constructs a ReportService. publisher may be nil, in which
// case share requests are ignored.
func NewReportService(
	reports ReportRepository,
	blobs BlobStore,
	publisher SharePublisher,
	m *metrics.Metrics,
	log logrus.FieldLogger,
	opts ReportOptions,
) *ReportService {
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = 5 << 20
	}
	if opts.ShareTimeout <= 0 {
		opts.ShareTimeout = defaultShareTimeout
	}
	return &ReportService{
		reports:   reports,
		blobs:     blobs,
		publisher: publisher,
		async:     goroutine.NewRecoveryHandler(log),
		metrics:   m,
		log:       log,
		opts:      opts,
	}
}

// MaxImageBytes is the largest accepted image.
func (s *ReportService) MaxImageBytes() int64 {
	return s.opts.MaxImageBytes
}

// SubmitReport stores the image and creates a report owned by userID.
func (s *ReportService) SubmitReport(ctx context.Context, userID string, in ReportUpload) (types.Report, error) {
	if len(in.Image) == 0 {
		return types.Report{}, apperror.Validation("No image file provided")
	}
	if int64(len(in.Image)) > s.opts.MaxImageBytes {
		return types.Report{}, apperror.InvalidUpload(fmt.Sprintf("Image exceeds the %d byte limit", s.opts.MaxImageBytes))
	}
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(in.ContentType)), "image/") {
		return types.Report{}, apperror.InvalidUpload("Only image files are allowed")
	}
	kind, err := filetype.Match(in.Image)
	if err != nil || !filetype.IsImage(in.Image) {
		return types.Report{}, apperror.InvalidUpload("Only image files are allowed")
	}

	fields, err := parseReportFields(in.Latitude, in.Longitude, in.Confidence)
	if err != nil {
		return types.Report{}, err
	}

	key := fmt.Sprintf("reports/%s/%s.%s", userID, uuid.NewString(), kind.Extension)
	if err := s.blobs.Put(ctx, key, bytes.NewReader(in.Image), int64(len(in.Image)), kind.MIME.Value); err != nil {
		return types.Report{}, apperror.Upstream(err, "Failed to store image")
	}

	report, err := s.reports.Create(ctx, types.Report{
		UserID:   userID,
		ImageURL: s.blobs.URL(key),
		Location: types.Location{
			Latitude:  fields.Latitude,
			Longitude: fields.Longitude,
			Address:   strings.TrimSpace(in.Address),
		},
		DetectionResultPercentage: fields.Confidence,
	})
	if err != nil {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			s.log.WithError(delErr).WithField("key", key).Warn("failed to remove orphaned report image")
		}
		return types.Report{}, translate(err, apperror.ErrReportNotFound)
	}
	s.metrics.ReportSubmitted()

	if in.Share {
		s.share(ctx, report)
	}
	return report, nil
}

// GetRecentReports returns the caller's newest reports.
func (s *ReportService) GetRecentReports(ctx context.Context, userID string) ([]types.Report, error) {
	reports, err := s.reports.ListByUser(ctx, userID, RecentReportsLimit)
	if err != nil {
		return nil, translate(err, apperror.ErrReportNotFound)
	}
	return reports, nil
}

// GetReportByID returns one of the caller's reports. Reports owned by other
// users are indistinguishable from missing ones.
func (s *ReportService) GetReportByID(ctx context.Context, userID, reportID string) (types.Report, error) {
	report, err := s.reports.GetForUser(ctx, strings.TrimSpace(reportID), userID)
	if err != nil {
		return types.Report{}, translate(err, apperror.ErrReportNotFound)
	}
	return report, nil
}

// ResubmitReport records a new report for an existing image at a corrected
// location. The original report is left untouched.
func (s *ReportService) ResubmitReport(ctx context.Context, userID, reportID string, loc LocationUpdate) (types.Report, error) {
	original, err := s.GetReportByID(ctx, userID, reportID)
	if err != nil {
		return types.Report{}, err
	}

	fields := reportFields{Confidence: original.DetectionResultPercentage}
	if fields.Latitude, err = parseRequiredFloat("latitude", loc.Latitude); err != nil {
		return types.Report{}, err
	}
	if fields.Longitude, err = parseRequiredFloat("longitude", loc.Longitude); err != nil {
		return types.Report{}, err
	}
	if err := validateStruct(fields); err != nil {
		return types.Report{}, err
	}

	report, err := s.reports.Create(ctx, types.Report{
		UserID:   userID,
		ImageURL: original.ImageURL,
		Location: types.Location{
			Latitude:  fields.Latitude,
			Longitude: fields.Longitude,
			Address:   strings.TrimSpace(loc.Address),
		},
		DetectionResultPercentage: original.DetectionResultPercentage,
	})
	if err != nil {
		return types.Report{}, translate(err, apperror.ErrReportNotFound)
	}
	s.metrics.ReportSubmitted()
	return report, nil
}

// share publishes the report in the background. The task outlives the
// request and its failures are only logged.
func (s *ReportService) share(ctx context.Context, report types.Report) {
	if s.publisher == nil {
		s.log.WithField("report_id", report.ID).Debug("share requested but no publisher is configured")
		return
	}

	s.async.SafeGoWithContext(context.WithoutCancel(ctx), func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, s.opts.ShareTimeout)
		defer cancel()

		if err := s.publisher.Publish(ctx, report); err != nil {
			s.metrics.ShareFailed()
			s.log.WithError(err).WithFields(logrus.Fields{
				"report_id": report.ID,
				"user_id":   report.UserID,
			}).Warn("failed to share report")
		}
	})
}

func parseReportFields(latitude, longitude, confidence string) (reportFields, error) {
	var fields reportFields
	var err error
	if fields.Latitude, err = parseRequiredFloat("latitude", latitude); err != nil {
		return reportFields{}, err
	}
	if fields.Longitude, err = parseRequiredFloat("longitude", longitude); err != nil {
		return reportFields{}, err
	}
	if fields.Confidence, err = parseRequiredFloat("detectionResultPercentage", confidence); err != nil {
		return reportFields{}, err
	}
	if err := validateStruct(fields); err != nil {
		return reportFields{}, err
	}
	return fields, nil
}

func parseRequiredFloat(field, raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, apperror.Validationf("%s is required", field)
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, apperror.Validationf("%s must be a number", field)
	}
	return value, nil
}
