package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pothole-detector/apiserver/internal/apperror"
	"github.com/pothole-detector/apiserver/internal/auth"
	"github.com/pothole-detector/apiserver/internal/services"
	"github.com/pothole-detector/apiserver/types"
	"github.com/sirupsen/logrus"
)

var (
	errMissingAuthorization = errors.New("missing authorization")
	errInvalidAuthorization = errors.New("invalid authorization")
)

// AuthHandler provides account endpoints.
type AuthHandler struct {
	authService *services.AuthService
	log         logrus.FieldLogger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(authService *services.AuthService, log logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{authService: authService, log: log}
}

// AuthRouter registers auth routes on the given router. publicMiddleware
// wraps the unauthenticated routes, typically with a rate limiter.
func AuthRouter(
	r chi.Router,
	authService *services.AuthService,
	authMiddleware func(http.Handler) http.Handler,
	publicMiddleware func(http.Handler) http.Handler,
	log logrus.FieldLogger,
) {
	handler := NewAuthHandler(authService, log)

	r.Group(func(r chi.Router) {
		if publicMiddleware != nil {
			r.Use(publicMiddleware)
		}
		r.Post("/signup", handler.Register)
		r.Post("/signin", handler.Login)
		r.Post("/guest-signin", handler.GuestLogin)
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/convert-guest", handler.ConvertGuest)
		r.Get("/profile", handler.GetProfile)
		r.Put("/profile", handler.UpdateProfile)
	})
}

// RequireAuth verifies the bearer token and injects the user id into context.
func RequireAuth(tokens *auth.TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if errors.Is(err, errMissingAuthorization) {
				writeError(w, nil, apperror.ErrMissingToken)
				return
			}
			if err != nil {
				writeError(w, nil, apperror.ErrInvalidToken)
				return
			}

			subject, err := tokens.Verify(tokenString)
			if errors.Is(err, auth.ErrMissingSecret) {
				writeError(w, nil, apperror.ErrMissingSecret)
				return
			}
			if err != nil {
				writeError(w, nil, apperror.ErrInvalidToken)
				return
			}

			next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), subject)))
		})
	}
}

// Register creates a new user account and returns a token.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	session, err := h.authService.Register(r.Context(), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, newAuthResponse("User created successfully", session))
}

// Login verifies credentials and returns a token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req services.LoginInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	session, err := h.authService.Login(r.Context(), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, newAuthResponse("User signed in", session))
}

// GuestLogin provisions a guest account and returns a token.
func (h *AuthHandler) GuestLogin(w http.ResponseWriter, r *http.Request) {
	session, err := h.authService.GuestLogin(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, newAuthResponse("Guest signed in", session))
}

// ConvertGuest upgrades the caller's guest account to a full account.
func (h *AuthHandler) ConvertGuest(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, h.log, apperror.ErrUnauthorized)
		return
	}

	var req services.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	session, err := h.authService.ConvertGuest(r.Context(), userID, req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{
		Success: true,
		Message: "Account converted successfully",
		Token:   session.Token,
	})
}

// GetProfile returns the caller's profile.
func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, h.log, apperror.ErrUnauthorized)
		return
	}

	profile, err := h.authService.GetProfile(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, ProfileResponse{Success: true, User: profile})
}

// UpdateProfile applies a partial profile update.
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, h.log, apperror.ErrUnauthorized)
		return
	}

	var req types.ProfileUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	profile, err := h.authService.UpdateProfile(r.Context(), userID, req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, ProfileResponse{
		Success: true,
		Message: "Profile updated successfully",
		User:    profile,
	})
}

type AuthResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Token   string            `json:"token"`
	User    *types.PublicUser `json:"user,omitempty"`
}

type ProfileResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	User    types.Profile `json:"user"`
}

func newAuthResponse(message string, session services.Session) AuthResponse {
	user := session.User.Public()
	return AuthResponse{
		Success: true,
		Message: message,
		Token:   session.Token,
		User:    &user,
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errMissingAuthorization
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errInvalidAuthorization
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errMissingAuthorization
	}
	return token, nil
}
