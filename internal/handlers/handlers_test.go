package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pothole-detector/apiserver/config"
	"github.com/pothole-detector/apiserver/internal/auth"
	"github.com/pothole-detector/apiserver/internal/db"
	"github.com/pothole-detector/apiserver/internal/handlers"
	"github.com/pothole-detector/apiserver/internal/logger"
	"github.com/pothole-detector/apiserver/internal/metrics"
	"github.com/pothole-detector/apiserver/internal/services"
	"github.com/pothole-detector/apiserver/internal/storage"
	"github.com/pothole-detector/apiserver/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "handler-test-secret"

var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x01, 0x00, 0x00, 0x01}

type envOptions struct {
	secret        string
	maxImageBytes int64
	rateLimit     int64
}

type testEnv struct {
	router http.Handler
	tokens *auth.TokenManager
}

func newTestEnv(t *testing.T, opts envOptions) testEnv {
	t.Helper()
	if opts.maxImageBytes == 0 {
		opts.maxImageBytes = 5 << 20
	}
	if opts.rateLimit == 0 {
		opts.rateLimit = 1000
	}

	dir := t.TempDir()
	cfg := config.Config{
		PublicBaseURL: "http://localhost:3000",
		Database: config.DatabaseConfig{
			Driver: db.DriverSQLite,
			Path:   filepath.Join(dir, "api.db"),
		},
		Storage: config.StorageConfig{
			Backend: storage.BackendLocal,
			Local:   config.LocalStorageConfig{Dir: filepath.Join(dir, "uploads")},
		},
	}
	require.NoError(t, db.MigrateUp(cfg.Database))
	conn, err := db.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	blobs, err := storage.Open(context.Background(), cfg)
	require.NoError(t, err)

	log := logger.Discard()
	m := metrics.New(prometheus.NewRegistry())
	users := store.NewUserRepository(conn)
	reports := store.NewReportRepository(conn)
	tokens := auth.NewTokenManager(opts.secret, 0)

	authService := services.NewAuthService(users, reports, tokens, "https://example.com/default.png", m, log)
	reportService := services.NewReportService(reports, blobs, nil, m, log, services.ReportOptions{MaxImageBytes: opts.maxImageBytes})
	dashboardService := services.NewDashboardService(users, reports)

	requireAuth := handlers.RequireAuth(tokens)
	router := chi.NewRouter()
	router.NotFound(handlers.NotFound)
	router.Use(handlers.CORS([]string{"https://app.example.com"}))
	router.Route("/api/v1/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authService, requireAuth, handlers.RateLimit(opts.rateLimit, time.Minute, log), log)
	})
	router.Route("/api/v1/pothole", func(r chi.Router) {
		handlers.PotholeRouter(r, reportService, dashboardService, requireAuth, log)
	})

	return testEnv{router: router, tokens: tokens}
}

type response struct {
	Code int
	Body map[string]any
}

func (e testEnv) do(t *testing.T, method, path, token string, body any) response {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.serve(t, req)
}

func (e testEnv) serve(t *testing.T, req *http.Request) response {
	t.Helper()
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	resp := response{Code: rec.Code}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp.Body), rec.Body.String())
	}
	return resp
}

type uploadForm struct {
	fields      map[string]string
	image       []byte
	contentType string
}

func (e testEnv) upload(t *testing.T, token string, form uploadForm) response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range form.fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if form.image != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="image"; filename="pothole.jpg"`)
		header.Set("Content-Type", form.contentType)
		part, err := mw.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(form.image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pothole/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.serve(t, req)
}

func validForm() uploadForm {
	return uploadForm{
		fields: map[string]string{
			"latitude":                  "12.9",
			"longitude":                 "77.6",
			"address":                   "MG Road",
			"detectionResultPercentage": "82.5",
		},
		image:       jpegBytes,
		contentType: "image/jpeg",
	}
}

func (e testEnv) signup(t *testing.T, name, email string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/v1/auth/signup", "", map[string]string{
		"name":     name,
		"email":    email,
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body)
	return resp.Body["token"].(string)
}

func assertError(t *testing.T, resp response, status int, code string) {
	t.Helper()
	assert.Equal(t, status, resp.Code, resp.Body)
	assert.Equal(t, false, resp.Body["success"])
	assert.Equal(t, code, resp.Body["error"])
	assert.NotEmpty(t, resp.Body["message"])
}

func TestSignupAndSignin(t *testing.T) {
	env := newTestEnv(t, envOptions{secret: testSecret})

	resp := env.do(t, http.MethodPost, "/api/v1/auth/signup", "", map[string]string{
		"name": "Alice", "email": "a@x.com", "password": "secret123",
	})
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, true, resp.Body["success"])
	assert.Equal(t, "User created successfully", resp.Body["message"])
	user := resp.Body["user"].(map[string]any)
	assert.Equal(t, "Alice", user["name"])
	assert.Equal(t, false, user["isGuest"])
	assert.NotContains(t, user, "passwordHash")

	resp = env.do(t, http.MethodPost, "/api/v1/auth/signup", "", map[string]string{
		"name": "Alice", "email": "a@x.com", "password": "secret123",
	})
	assertError(t, resp, http.StatusBadRequest, "DUPLICATE_EMAIL")

	resp = env.do(t, http.MethodPost, "/api/v1/auth/signin", "", map[string]string{
		"email": "a@x.com", "password": "secret123",
	})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "User signed in", resp.Body["message"])
	_, err := env.tokens.Verify(resp.Body["token"].(string))
	assert.NoError(t, err)

	resp = env.do(t, http.MethodPost, "/api/v1/auth/signin", "", map[string]string{
		"email": "a@x.com", "password": "wrongpass",
	})
	assertError(t, resp, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	resp = env.do(t, http.MethodPost, "/api/v1/auth/signin", "", map[string]string{
		"email": "nobody@x.com", "password": "secret123",
	})
	assertError(t, resp, http.StatusNotFound, "NOT_FOUND")

	resp = env.do(t, http.MethodPost, "/api/v1/auth/signup", "", "{not json")
	assertError(t, resp, http.StatusBadRequest, "VALIDATION_ERROR")

	resp = env.do(t, http.MethodPost, "/api/v1/auth/signup", "", map[string]string{
		"name": "Alice", "email": "b@x.com", "password": "short",
	})
	assertError(t, resp, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestGuestFlow(t *testing.T) {
	env := newTestEnv(t, envOptions{secret: testSecret})

	resp := env.do(t, http.MethodPost, "/api/v1/auth/guest-signin", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	guestToken := resp.Body["token"].(string)
	guest := resp.Body["user"].(map[string]any)
	assert.Equal(t, true, guest["isGuest"])
	assert.True(t, strings.HasSuffix(guest["email"].(string), "@guest.com"))

	resp = env.do(t, http.MethodPost, "/api/v1/auth/convert-guest", guestToken, map[string]string{
		"name": "Bob", "email": "bob@x.com", "password": "password1",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body)
	assert.Equal(t, "Account converted successfully", resp.Body["message"])
	newToken := resp.Body["token"].(string)

	guestID, err := env.tokens.Verify(guestToken)
	require.NoError(t, err)
	convertedID, err := env.tokens.Verify(newToken)
	require.NoError(t, err)
	assert.Equal(t, guestID, convertedID)

	resp = env.do(t, http.MethodGet, "/api/v1/auth/profile", newToken, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	profile := resp.Body["user"].(map[string]any)
	assert.Equal(t, false, profile["isGuest"])
	assert.Equal(t, "bob@x.com", profile["email"])

	resp = env.do(t, http.MethodPost, "/api/v1/auth/convert-guest", newToken, map[string]string{
		"name": "Bob", "email": "bob2@x.com", "password": "password1",
	})
	assertError(t, resp, http.StatusNotFound, "NOT_FOUND")
}

func TestProfile(t *testing.T) {
	env := newTestEnv(t, envOptions{secret: testSecret})
	token := env.signup(t, "Alice", "a@x.com")
	env.signup(t, "Bob", "b@x.com")

	resp := env.do(t, http.MethodGet, "/api/v1/auth/profile", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	profile := resp.Body["user"].(map[string]any)
	assert.Equal(t, "https://example.com/default.png", profile["profilePicture"])
	assert.Equal(t, float64(0), profile["reports"])

	resp = env.do(t, http.MethodPut, "/api/v1/auth/profile", token, `{"phone":"555-0100","name":"Alicia"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body)
	assert.Equal(t, "Profile updated successfully", resp.Body["message"])
	profile = resp.Body["user"].(map[string]any)
	assert.Equal(t, "555-0100", profile["phone"])
	assert.Equal(t, "Alicia", profile["name"])

	resp = env.do(t, http.MethodPut, "/api/v1/auth/profile", token, `{"phone":null}`)
	require.Equal(t, http.StatusOK, resp.Code)
	profile = resp.Body["user"].(map[string]any)
	assert.Equal(t, "", profile["phone"])
	assert.Equal(t, "Alicia", profile["name"])

	resp = env.do(t, http.MethodPut, "/api/v1/auth/profile", token, `{"name":null,"email":"","phone":"555-0111"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body)
	profile = resp.Body["user"].(map[string]any)
	assert.Equal(t, "Alicia", profile["name"])
	assert.Equal(t, "a@x.com", profile["email"])
	assert.Equal(t, "555-0111", profile["phone"])

	resp = env.do(t, http.MethodPut, "/api/v1/auth/profile", token, `{"phone":"`+strings.Repeat("5", 40)+`"}`)
	assertError(t, resp, http.StatusBadRequest, "VALIDATION_ERROR")

	resp = env.do(t, http.MethodPut, "/api/v1/auth/profile", token, `{"email":"b@x.com"}`)
	assertError(t, resp, http.StatusBadRequest, "DUPLICATE_EMAIL")
}

func TestRequireAuth(t *testing.T) {
	env := newTestEnv(t, envOptions{secret: testSecret})

	resp := env.do(t, http.MethodGet, "/api/v1/pothole/dashboard", "", nil)
	assertError(t, resp, http.StatusUnauthorized, "MISSING_TOKEN")

	resp = env.do(t, http.MethodGet, "/api/v1/pothole/dashboard", "garbage", nil)
	assertError(t, resp, http.StatusUnauthorized, "INVALID_TOKEN")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/profile", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assertError(t, env.serve(t, req), http.StatusUnauthorized, "INVALID_TOKEN")

	forged, err := auth.NewTokenManager("another-secret", 0).Issue("someone")
	require.NoError(t, err)
	resp = env.do(t, http.MethodGet, "/api/v1/pothole/recent-reports", forged, nil)
	assertError(t, resp, http.StatusUnauthorized, "INVALID_TOKEN")
}

func TestRequireAuthWithoutSecret(t *testing.T) {
	env := newTestEnv(t, envOptions{secret: ""})

	resp := env.do(t, http.MethodGet, "/api/v1/pothole/dashboard", "", nil)
	assertError(t, resp, http.StatusUnauthorized, "MISSING_TOKEN")

	token, err := auth.NewTokenManager(testSecret, 0).Issue("someone")
	require.NoError(t, err)
	resp = env.do(t, http.MethodGet, "/api/v1/pothole/dashboard", token, nil)
	assertError(t, resp, http.StatusInternalServerError, "MISSING_SECRET")

	resp = env.do(t, http.MethodPost, "/api/v1/auth/signup", "", map[string]string{
		"name": "Alice", "email": "a@x.com", "password": "secret123",
	})
	assertError(t, resp, http.StatusInternalServerError, "MISSING_SECRET")
}

func TestUploadAndDashboard(t *testing.T) {
	env := newTestEnv(t, envOptions{secret: testSecret})
	token := env.signup(t, "Alice", "a@x.com")

	resp := env.upload(t, token, validForm())
	require.Equal(t, http.StatusOK, resp.Code, resp.Body)
	assert.Equal(t, true, resp.Body["success"])
	report := resp.Body["report"].(map[string]any)
	assert.Equal(t, 82.5, report["detectionResultPercentage"])
	assert.True(t, strings.HasPrefix(report["imageUrl"].(string), "http://localhost:3000/uploads/reports/"))
	location := report["location"].(map[string]any)
	assert.Equal(t, 12.9, location["latitude"])
	assert.Equal(t, "MG Road", location["address"])

	resp = env.do(t, http.MethodGet, "/api/v1/pothole/dashboard", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	data := resp.Body["data"].(map[string]any)
	assert.Equal(t, "Alice", data["user"].(map[string]any)["name"])
	assert.Len(t, data["reports"], 1)
	stats := data["statistics"].(map[string]any)
	assert.Equal(t, float64(1), stats["totalPotholes"])
	monthly := stats["monthlyDetections"].([]any)
	require.Len(t, monthly, 12)
	assert.Equal(t, float64(1), monthly[int(time.Now().UTC().Month())-1])
	userStats := stats["userStats"].(map[string]any)
	assert.Equal(t, float64(1), userStats["totalReports"])
	assert.Len(t, userStats["confidenceHistogram"], 11)

	resp = env.do(t, http.MethodGet, "/api/v1/auth/profile", token, nil)
	assert.Equal(t, float64(1), resp.Body["user"].(map[string]any)["reports"])
}

func TestUploadRejections(t *testing.T) {
	env := newTestEnv(t, envOptions{secret: testSecret, maxImageBytes: 64})
	token := env.signup(t, "Alice", "a@x.com")

	noImage := validForm()
	noImage.image = nil
	assertError(t, env.upload(t, token, noImage), http.StatusBadRequest, "VALIDATION_ERROR")

	notImage := validForm()
	notImage.contentType = "application/pdf"
	assertError(t, env.upload(t, token, notImage), http.StatusBadRequest, "INVALID_UPLOAD")

	tooLarge := validForm()
	tooLarge.image = append(append([]byte{}, jpegBytes...), make([]byte, 128)...)
	assertError(t, env.upload(t, token, tooLarge), http.StatusBadRequest, "INVALID_UPLOAD")

	noLatitude := validForm()
	delete(noLatitude.fields, "latitude")
	assertError(t, env.upload(t, token, noLatitude), http.StatusBadRequest, "VALIDATION_ERROR")

	badConfidence := validForm()
	badConfidence.fields["detectionResultPercentage"] = "high"
	assertError(t, env.upload(t, token, badConfidence), http.StatusBadRequest, "VALIDATION_ERROR")

	assertError(t, env.upload(t, "", validForm()), http.StatusUnauthorized, "MISSING_TOKEN")
}

func TestReportLookups(t *testing.T) {
	env := newTestEnv(t, envOptions{secret: testSecret})
	alice := env.signup(t, "Alice", "a@x.com")
	bob := env.signup(t, "Bob", "b@x.com")

	var ids []string
	for i := 0; i < 6; i++ {
		form := validForm()
		form.fields["detectionResultPercentage"] = fmt.Sprintf("%d", 50+i)
		resp := env.upload(t, alice, form)
		require.Equal(t, http.StatusOK, resp.Code)
		ids = append(ids, resp.Body["report"].(map[string]any)["id"].(string))
	}

	resp := env.do(t, http.MethodGet, "/api/v1/pothole/recent-reports", alice, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, resp.Body["data"], 5)

	resp = env.do(t, http.MethodGet, "/api/v1/pothole/report/"+ids[0], alice, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, ids[0], resp.Body["data"].(map[string]any)["id"])

	resp = env.do(t, http.MethodGet, "/api/v1/pothole/report/"+ids[0], bob, nil)
	assertError(t, resp, http.StatusNotFound, "NOT_FOUND")
	assert.Equal(t, "Report not found or unauthorized", resp.Body["message"])

	resp = env.do(t, http.MethodGet, "/api/v1/pothole/report/not-a-valid-id", alice, nil)
	assertError(t, resp, http.StatusNotFound, "NOT_FOUND")

	resp = env.do(t, http.MethodGet, "/api/v1/pothole/recent-reports", bob, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, resp.Body["data"], 0)
}

func TestResubmit(t *testing.T) {
	env := newTestEnv(t, envOptions{secret: testSecret})
	token := env.signup(t, "Alice", "a@x.com")

	resp := env.upload(t, token, validForm())
	require.Equal(t, http.StatusOK, resp.Code)
	original := resp.Body["report"].(map[string]any)

	resp = env.do(t, http.MethodPost, "/api/v1/pothole/report/"+original["id"].(string)+"/resubmit", token,
		`{"latitude": 13.05, "longitude": "77.55", "address": "Corrected"}`)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body)
	report := resp.Body["report"].(map[string]any)
	assert.NotEqual(t, original["id"], report["id"])
	assert.Equal(t, original["imageUrl"], report["imageUrl"])
	assert.Equal(t, 13.05, report["location"].(map[string]any)["latitude"])

	resp = env.do(t, http.MethodPost, "/api/v1/pothole/report/"+original["id"].(string)+"/resubmit", token,
		`{"latitude": 100, "longitude": 77.55}`)
	assertError(t, resp, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, envOptions{secret: testSecret, rateLimit: 2})

	for i := 0; i < 2; i++ {
		resp := env.do(t, http.MethodPost, "/api/v1/auth/guest-signin", "", nil)
		require.Equal(t, http.StatusOK, resp.Code)
	}
	resp := env.do(t, http.MethodPost, "/api/v1/auth/guest-signin", "", nil)
	assertError(t, resp, http.StatusTooManyRequests, "RATE_LIMITED")
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, envOptions{secret: testSecret})

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/signin", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		return rec
	}

	rec := preflight("https://app.example.com")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, http.MethodPost, rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "300", rec.Header().Get("Access-Control-Max-Age"))

	rec = preflight("https://evil.example.com")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcard(t *testing.T) {
	handler := handlers.CORS([]string{" * "})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/pothole/dashboard", nil)
	req.Header.Set("Origin", "https://anywhere.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, envOptions{secret: testSecret})
	assertError(t, env.do(t, http.MethodGet, "/api/v1/nope", "", nil), http.StatusNotFound, "NOT_FOUND")
}
