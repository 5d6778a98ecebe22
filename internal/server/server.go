package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pothole-detector/apiserver/config"
	"github.com/pothole-detector/apiserver/internal/auth"
	"github.com/pothole-detector/apiserver/internal/db"
	"github.com/pothole-detector/apiserver/internal/goroutine"
	"github.com/pothole-detector/apiserver/internal/handlers"
	"github.com/pothole-detector/apiserver/internal/logger"
	"github.com/pothole-detector/apiserver/internal/metrics"
	"github.com/pothole-detector/apiserver/internal/mq"
	"github.com/pothole-detector/apiserver/internal/services"
	"github.com/pothole-detector/apiserver/internal/share"
	"github.com/pothole-detector/apiserver/internal/storage"
	"github.com/pothole-detector/apiserver/internal/store"
	"github.com/pothole-detector/apiserver/internal/store/mongostore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	log        *logrus.Logger
	closers    []func() error
	stopWorker context.CancelFunc
}

// New constructs a Server with its stores, services and routes.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	log := logger.New(cfg.LogLevel, cfg.Env)
	s := &Server{log: log}

	users, reports, err := s.openRepositories(ctx, cfg)
	if err != nil {
		return nil, err
	}

	blobs, err := storage.Open(ctx, cfg)
	if err != nil {
		_ = s.close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	publisher, err := s.openShare(ctx, cfg)
	if err != nil {
		_ = s.close()
		return nil, err
	}

	tokens := auth.NewTokenManager(cfg.JWTSecret, 0)
	if !tokens.Configured() {
		log.Warn("JWT_SECRET is not set; authentication will fail until it is configured")
	}

	m := metrics.New(prometheus.NewRegistry())

	authService := services.NewAuthService(users, reports, tokens, cfg.DefaultProfilePicture, m, log)
	reportService := services.NewReportService(reports, blobs, publisher, m, log, services.ReportOptions{
		MaxImageBytes: cfg.Upload.MaxImageBytes,
		ShareTimeout:  cfg.Share.Timeout,
	})
	dashboardService := services.NewDashboardService(users, reports)

	authMiddleware := handlers.RequireAuth(tokens)
	rateLimit := handlers.RateLimit(cfg.RateLimit.Limit, cfg.RateLimit.Period, log)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		logger.Middleware(log),
		middleware.Recoverer,
		m.Middleware,
		handlers.CORS(cfg.CORSOrigins),
		middleware.Timeout(60*time.Second),
	)
	router.NotFound(handlers.NotFound)
	router.MethodNotAllowed(handlers.MethodNotAllowed)

	router.Get("/healthz", handlers.Healthz)
	router.Handle("/metrics", m.Handler())
	if local, ok := blobs.Backend().(*storage.LocalStorage); ok {
		router.Handle(storage.LocalURLPrefix+"/*", http.StripPrefix(storage.LocalURLPrefix, local.FileServer()))
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			handlers.AuthRouter(r, authService, authMiddleware, rateLimit, log)
		})
		r.Route("/pothole", func(r chi.Router) {
			handlers.PotholeRouter(r, reportService, dashboardService, authMiddleware, log)
		})
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 3000
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.WithFields(logrus.Fields{
		"port":    port,
		"db":      cfg.Database.Driver,
		"storage": cfg.Storage.Backend,
	}).Info("server configured")

	return s, nil
}

func (s *Server) openRepositories(ctx context.Context, cfg config.Config) (services.UserRepository, services.ReportRepository, error) {
	switch cfg.Database.Driver {
	case db.DriverMongo:
		mongo, err := mongostore.Connect(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		s.closers = append(s.closers, mongo.Close)
		return mongo.Users(), mongo.Reports(), nil
	case db.DriverSQLite:
		// sqlite is the single-binary setup; keep its schema current on boot
		if err := db.MigrateUp(cfg.Database); err != nil {
			return nil, nil, err
		}
	}

	conn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	s.closers = append(s.closers, conn.Close)
	return store.NewUserRepository(conn), store.NewReportRepository(conn), nil
}

// openShare connects the share queue. With the in-process backend the feed
// worker runs inside the server, since nothing else can consume the queue.
func (s *Server) openShare(ctx context.Context, cfg config.Config) (services.SharePublisher, error) {
	queue, err := mq.Open(ctx, cfg.MQ)
	if errors.Is(err, mq.ErrDisabled) {
		s.log.Info("report sharing disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open mq: %w", err)
	}
	s.closers = append(s.closers, queue.Close)

	publisher, err := share.NewPublisher(queue, cfg.MQ.ShareChannel)
	if err != nil {
		return nil, err
	}

	if queue.Name() == mq.BackendMemory && cfg.Share.FeedURL == "" {
		s.log.Warn("memory share queue has no consumer; set SHARE_FEED_URL to forward shared reports")
	}
	if queue.Name() == mq.BackendMemory && cfg.Share.FeedURL != "" {
		worker, err := share.NewWorker(queue, cfg.MQ.ShareChannel, cfg.Share, s.log)
		if err != nil {
			return nil, err
		}
		workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.stopWorker = cancel
		goroutine.NewRecoveryHandler(s.log).SafeGoWithContext(workerCtx, func(ctx context.Context) {
			if err := worker.Run(ctx); err != nil {
				s.log.WithError(err).Error("share worker stopped")
			}
		})
	}
	return publisher, nil
}

// Start runs the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases stores and queues.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if closeErr := s.close(); err == nil {
		err = closeErr
	}
	return err
}

func (s *Server) close() error {
	if s.stopWorker != nil {
		s.stopWorker()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
