package handlers

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"github.com/pothole-detector/apiserver/internal/apperror"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// RateLimit limits requests per client IP using an in-memory store. The
// X-RateLimit-* headers are set on every response.
func RateLimit(limit int64, period time.Duration, log logrus.FieldLogger) func(http.Handler) http.Handler {
	if limit <= 0 {
		limit = 30
	}
	if period <= 0 {
		period = time.Minute
	}

	instance := limiter.New(memory.NewStore(), limiter.Rate{
		Period: period,
		Limit:  limit,
	})

	middleware := stdlib.NewMiddleware(instance,
		stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			writeError(w, log, apperror.Internal(err, "Internal Server Error"))
		}),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, log, apperror.ErrRateLimited)
		}),
	)
	return middleware.Handler
}

// CORS allows browser clients from allowedOrigins. A "*" entry allows any
// origin without credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept", "Origin", "X-Requested-With"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: len(origins) > 0 && !slices.Contains(origins, "*"),
		MaxAge:           300,
	})
}
