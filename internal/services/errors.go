package services

import (
	"errors"

	"github.com/pothole-detector/apiserver/internal/apperror"
	"github.com/pothole-detector/apiserver/internal/store"
)

// translate maps store errors onto client-facing errors. notFound is returned
// for store.ErrNotFound so each use-case can pick its own message.
func translate(err error, notFound *apperror.AppError) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return notFound
	case errors.Is(err, store.ErrDuplicate):
		return apperror.ErrDuplicateEmail
	default:
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return appErr
		}
		return apperror.Internal(err, "Internal Server Error")
	}
}
