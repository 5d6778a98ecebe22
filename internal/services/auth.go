package services

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"

	"github.com/pothole-detector/apiserver/internal/apperror"
	"github.com/pothole-detector/apiserver/internal/auth"
	"github.com/pothole-detector/apiserver/internal/metrics"
	"github.com/pothole-detector/apiserver/internal/store"
	"github.com/pothole-detector/apiserver/types"
	"github.com/sirupsen/logrus"
)

const (
	guestDomain         = "@guest.com"
	guestNameLength     = 6
	guestPasswordLength = 13
	guestAttempts       = 5
	base36Alphabet      = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// RegisterInput is the signup and guest-conversion payload.
type RegisterInput struct {
	Name     string `json:"name" validate:"required,max=20"`
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,min=8,max=14"`
}

// LoginInput is the signin payload.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=14"`
}

// Session is a freshly issued token together with the account it belongs to.
type Session struct {
	Token string
	User  types.User
}

// AuthService encapsulates account use-cases.
type AuthService struct {
	users          UserRepository
	reports        ReportRepository
	tokens         *auth.TokenManager
	defaultPicture string
	metrics        *metrics.Metrics
	log            logrus.FieldLogger
}

func NewAuthService(
	users UserRepository,
	reports ReportRepository,
	tokens *auth.TokenManager,
	defaultPicture string,
	m *metrics.Metrics,
	log logrus.FieldLogger,
) *AuthService {
	return &AuthService{
		users:          users,
		reports:        reports,
		tokens:         tokens,
		defaultPicture: defaultPicture,
		metrics:        m,
		log:            log,
	}
}

// Register creates a full account and signs it in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (Session, error) {
	in = normalizeRegister(in)
	if err := validateStruct(in); err != nil {
		return Session{}, err
	}
	if !s.tokens.Configured() {
		return Session{}, apperror.ErrMissingSecret
	}

	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		return Session{}, apperror.ErrDuplicateEmail
	} else if !errors.Is(err, store.ErrNotFound) {
		return Session{}, translate(err, apperror.ErrUserNotFound)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return Session{}, apperror.Internal(err, "Internal Server Error")
	}

	user, err := s.users.Create(ctx, types.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
	})
	if err != nil {
		return Session{}, translate(err, apperror.ErrUserNotFound)
	}
	s.metrics.AccountCreated("registered")

	return s.session(user)
}

// Login verifies credentials and signs the user in.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (Session, error) {
	in.Email = normalizeEmail(in.Email)
	if err := validateStruct(in); err != nil {
		return Session{}, err
	}

	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		return Session{}, translate(err, apperror.ErrUserNotFound)
	}
	if err := auth.ComparePassword(user.PasswordHash, in.Password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return Session{}, apperror.ErrInvalidCredentials
		}
		return Session{}, apperror.Internal(err, "Internal Server Error")
	}

	return s.session(user)
}

// GuestLogin provisions a throwaway guest account and signs it in. A generated
// email that is already taken is regenerated rather than reused.
func (s *AuthService) GuestLogin(ctx context.Context) (Session, error) {
	if !s.tokens.Configured() {
		return Session{}, apperror.ErrMissingSecret
	}

	var lastErr error
	for attempt := 0; attempt < guestAttempts; attempt++ {
		suffix, err := randomBase36(guestNameLength)
		if err != nil {
			return Session{}, apperror.Internal(err, "Internal Server Error")
		}
		password, err := randomBase36(guestPasswordLength)
		if err != nil {
			return Session{}, apperror.Internal(err, "Internal Server Error")
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return Session{}, apperror.Internal(err, "Internal Server Error")
		}

		name := "Guest_" + suffix
		user, err := s.users.Create(ctx, types.User{
			Name:         name,
			Email:        strings.ToLower(name) + guestDomain,
			PasswordHash: hash,
			IsGuest:      true,
		})
		if errors.Is(err, store.ErrDuplicate) {
			lastErr = err
			s.log.WithField("attempt", attempt+1).Debug("guest email collision, regenerating")
			continue
		}
		if err != nil {
			return Session{}, translate(err, apperror.ErrUserNotFound)
		}
		s.metrics.AccountCreated("guest")
		return s.session(user)
	}

	return Session{}, apperror.Internal(lastErr, "Could not allocate a guest account")
}

// ConvertGuest turns the caller's guest account into a full account, keeping
// its identifier and reports.
func (s *AuthService) ConvertGuest(ctx context.Context, userID string, in RegisterInput) (Session, error) {
	in = normalizeRegister(in)
	if err := validateStruct(in); err != nil {
		return Session{}, err
	}

	guest, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return Session{}, translate(err, apperror.ErrGuestNotFound)
	}
	if !guest.IsGuest {
		return Session{}, apperror.ErrGuestNotFound
	}

	if existing, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		if existing.ID != guest.ID {
			return Session{}, apperror.ErrDuplicateEmail
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return Session{}, translate(err, apperror.ErrGuestNotFound)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return Session{}, apperror.Internal(err, "Internal Server Error")
	}

	guest.Name = in.Name
	guest.Email = in.Email
	guest.PasswordHash = hash
	guest.IsGuest = false

	updated, err := s.users.Update(ctx, guest)
	if err != nil {
		return Session{}, translate(err, apperror.ErrGuestNotFound)
	}
	s.metrics.AccountCreated("converted")

	return s.session(updated)
}

// GetProfile returns the caller's profile with their report count.
func (s *AuthService) GetProfile(ctx context.Context, userID string) (types.Profile, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return types.Profile{}, translate(err, apperror.ErrUserNotFound)
	}
	count, err := s.reports.CountByUser(ctx, user.ID)
	if err != nil {
		return types.Profile{}, translate(err, apperror.ErrUserNotFound)
	}
	return s.profile(user, count), nil
}

// UpdateProfile applies a partial update. Absent fields are kept, values
// overwrite, and null or empty clears phone and profile picture. Name and
// email cannot be cleared.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, update types.ProfileUpdate) (types.Profile, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return types.Profile{}, translate(err, apperror.ErrUserNotFound)
	}

	// null or blank name/email keep the stored value; both are required fields
	if name := strings.TrimSpace(update.Name.Value); update.Name.IsSet() && name != "" {
		if err := validateVar("name", name, "max=20"); err != nil {
			return types.Profile{}, err
		}
		user.Name = name
	}

	if email := normalizeEmail(update.Email.Value); update.Email.IsSet() && email != "" {
		if err := validateVar("email", email, "email,max=320"); err != nil {
			return types.Profile{}, err
		}
		if email != user.Email {
			existing, err := s.users.GetByEmail(ctx, email)
			if err == nil && existing.ID != user.ID {
				return types.Profile{}, apperror.ErrDuplicateEmail
			}
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return types.Profile{}, translate(err, apperror.ErrUserNotFound)
			}
		}
		user.Email = email
	}

	if update.Phone.Present {
		phone := strings.TrimSpace(update.Phone.Value)
		if err := validateVar("phone", phone, "max=32"); err != nil {
			return types.Profile{}, err
		}
		user.Phone = phone
	}
	if update.ProfilePicture.Present {
		picture := strings.TrimSpace(update.ProfilePicture.Value)
		if picture != "" {
			if err := validateVar("profilePicture", picture, "url,max=2048"); err != nil {
				return types.Profile{}, err
			}
		}
		user.ProfilePicture = picture
	}

	updated, err := s.users.Update(ctx, user)
	if err != nil {
		return types.Profile{}, translate(err, apperror.ErrUserNotFound)
	}

	count, err := s.reports.CountByUser(ctx, updated.ID)
	if err != nil {
		return types.Profile{}, translate(err, apperror.ErrUserNotFound)
	}
	return s.profile(updated, count), nil
}

func (s *AuthService) session(user types.User) (Session, error) {
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		if errors.Is(err, auth.ErrMissingSecret) {
			return Session{}, apperror.ErrMissingSecret
		}
		return Session{}, apperror.Internal(err, "Internal Server Error")
	}
	return Session{Token: token, User: user}, nil
}

func (s *AuthService) profile(user types.User, reports int) types.Profile {
	picture := user.ProfilePicture
	if picture == "" {
		picture = s.defaultPicture
	}
	return types.Profile{
		ID:             user.ID,
		Name:           user.Name,
		Email:          user.Email,
		Phone:          user.Phone,
		ProfilePicture: picture,
		IsGuest:        user.IsGuest,
		Rating:         user.Rating,
		Reports:        reports,
	}
}

func normalizeRegister(in RegisterInput) RegisterInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	return in
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomBase36(n int) (string, error) {
	max := big.NewInt(int64(len(base36Alphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = base36Alphabet[idx.Int64()]
	}
	return string(buf), nil
}
