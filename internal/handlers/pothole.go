package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pothole-detector/apiserver/internal/apperror"
	"github.com/pothole-detector/apiserver/internal/services"
	"github.com/pothole-detector/apiserver/types"
	"github.com/sirupsen/logrus"
)

const (
	// form fields beyond the image are small; this bounds their total size
	multipartOverhead = 1 << 20

	formFieldImage      = "image"
	formFieldLatitude   = "latitude"
	formFieldLongitude  = "longitude"
	formFieldAddress    = "address"
	formFieldConfidence = "detectionResultPercentage"
	formFieldShare      = "share"
)

// PotholeHandler provides report and dashboard endpoints.
type PotholeHandler struct {
	reportService    *services.ReportService
	dashboardService *services.DashboardService
	log              logrus.FieldLogger
}

// NewPotholeHandler constructs a handler with the provided services.
func NewPotholeHandler(
	reportService *services.ReportService,
	dashboardService *services.DashboardService,
	log logrus.FieldLogger,
) *PotholeHandler {
	return &PotholeHandler{
		reportService:    reportService,
		dashboardService: dashboardService,
		log:              log,
	}
}

// PotholeRouter registers report routes on the given router. Every route
// requires authentication.
func PotholeRouter(
	r chi.Router,
	reportService *services.ReportService,
	dashboardService *services.DashboardService,
	authMiddleware func(http.Handler) http.Handler,
	log logrus.FieldLogger,
) {
	handler := NewPotholeHandler(reportService, dashboardService, log)

	r.Use(authMiddleware)
	r.Post("/upload", handler.Upload)
	r.Get("/dashboard", handler.Dashboard)
	r.Get("/recent-reports", handler.RecentReports)
	r.Route("/report/{reportID}", func(r chi.Router) {
		r.Get("/", handler.GetReport)
		r.Post("/resubmit", handler.Resubmit)
	})
}

// Upload accepts a multipart image with its location and confidence.
func (h *PotholeHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, h.log, apperror.ErrUnauthorized)
		return
	}

	upload, err := h.parseUploadForm(w, r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	report, err := h.reportService.SubmitReport(r.Context(), userID, upload)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, ReportResponse{Success: true, Report: report})
}

// Dashboard returns the caller's aggregated report history.
func (h *PotholeHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, h.log, apperror.ErrUnauthorized)
		return
	}

	dashboard, err := h.dashboardService.GetDashboard(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, DataResponse{Success: true, Data: dashboard})
}

// RecentReports returns the caller's newest reports.
func (h *PotholeHandler) RecentReports(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, h.log, apperror.ErrUnauthorized)
		return
	}

	reports, err := h.reportService.GetRecentReports(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, DataResponse{Success: true, Data: reports})
}

// GetReport returns one of the caller's reports.
func (h *PotholeHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, h.log, apperror.ErrUnauthorized)
		return
	}

	report, err := h.reportService.GetReportByID(r.Context(), userID, chi.URLParam(r, "reportID"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, DataResponse{Success: true, Data: report})
}

// Resubmit records a report for an existing image at a corrected location.
func (h *PotholeHandler) Resubmit(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, h.log, apperror.ErrUnauthorized)
		return
	}

	var req ResubmitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	report, err := h.reportService.ResubmitReport(r.Context(), userID, chi.URLParam(r, "reportID"), services.LocationUpdate{
		Latitude:  req.Latitude.String(),
		Longitude: req.Longitude.String(),
		Address:   req.Address,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, ReportResponse{Success: true, Report: report})
}

// ReportResponse wraps a single created report.
type ReportResponse struct {
	Success bool         `json:"success"`
	Report  types.Report `json:"report"`
}

// DataResponse wraps query results under data.
type DataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// ResubmitRequest is the corrected location. Coordinates may be sent as JSON
// numbers or numeric strings.
type ResubmitRequest struct {
	Latitude  flexibleNumber `json:"latitude"`
	Longitude flexibleNumber `json:"longitude"`
	Address   string         `json:"address"`
}

// flexibleNumber keeps the raw text of a JSON number or string.
type flexibleNumber string

func (n *flexibleNumber) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*n = ""
		return nil
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}
	*n = flexibleNumber(raw)
	return nil
}

func (n flexibleNumber) String() string {
	return string(n)
}

func (h *PotholeHandler) parseUploadForm(w http.ResponseWriter, r *http.Request) (services.ReportUpload, error) {
	maxImage := h.reportService.MaxImageBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxImage+multipartOverhead)

	if err := r.ParseMultipartForm(maxImage + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return services.ReportUpload{}, apperror.InvalidUpload(fmt.Sprintf("Upload error: file exceeds %d bytes", maxImage))
		}
		return services.ReportUpload{}, apperror.Validation("Upload error: invalid multipart form")
	}

	image, filename, contentType, err := readImage(r.MultipartForm, maxImage)
	if err != nil {
		return services.ReportUpload{}, err
	}

	share, _ := strconv.ParseBool(strings.TrimSpace(r.FormValue(formFieldShare)))

	return services.ReportUpload{
		Image:       image,
		Filename:    filename,
		ContentType: contentType,
		Latitude:    r.FormValue(formFieldLatitude),
		Longitude:   r.FormValue(formFieldLongitude),
		Address:     r.FormValue(formFieldAddress),
		Confidence:  r.FormValue(formFieldConfidence),
		Share:       share,
	}, nil
}

func readImage(form *multipart.Form, limit int64) ([]byte, string, string, error) {
	if form == nil {
		return nil, "", "", apperror.Validation("No image file provided")
	}
	files := form.File[formFieldImage]
	if len(files) == 0 {
		return nil, "", "", apperror.Validation("No image file provided")
	}
	if len(files) > 1 {
		return nil, "", "", apperror.InvalidUpload("Only one image is allowed")
	}

	header := files[0]
	if header.Size > limit {
		return nil, "", "", apperror.InvalidUpload(fmt.Sprintf("Upload error: file exceeds %d bytes", limit))
	}
	file, err := header.Open()
	if err != nil {
		return nil, "", "", apperror.InvalidUpload("Upload error: failed to read image")
	}
	data, err := readFileLimited(file, limit)
	_ = file.Close()
	if err != nil {
		return nil, "", "", err
	}
	return data, header.Filename, header.Header.Get("Content-Type"), nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, apperror.InvalidUpload("Upload error: failed to read image")
	}
	if int64(len(data)) > limit {
		return nil, apperror.InvalidUpload(fmt.Sprintf("Upload error: file exceeds %d bytes", limit))
	}
	return data, nil
}
