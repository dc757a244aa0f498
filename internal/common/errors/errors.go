package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard errors that can be compared directly
var (
	// ErrNotFound indicates that a record or file was not found
	ErrNotFound = errors.New("resource not found")

	// ErrBadRequest indicates that the request was invalid
	ErrBadRequest = errors.New("bad request")

	// ErrUnauthorized indicates that the upstream rejected our credentials
	ErrUnauthorized = errors.New("unauthorized request")

	// ErrTimeout indicates that the operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrTooManyRequests indicates rate limiting
	ErrTooManyRequests = errors.New("too many requests")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal server error")

	// ErrUnavailable indicates that the service is currently unavailable
	ErrUnavailable = errors.New("service unavailable")
)

// StatusCodeToError maps HTTP status codes to the sentinels above
func StatusCodeToError(statusCode int) error {
	switch statusCode {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrTimeout
	case http.StatusTooManyRequests:
		return ErrTooManyRequests
	case http.StatusInternalServerError:
		return ErrInternal
	case http.StatusServiceUnavailable:
		return ErrUnavailable
	default:
		if statusCode >= 400 && statusCode < 500 {
			return fmt.Errorf("client error: status code %d", statusCode)
		}
		if statusCode >= 500 {
			return fmt.Errorf("server error: status code %d", statusCode)
		}
		return nil
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// As is a convenience function that wraps errors.As
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is is a convenience function that wraps errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Join is a convenience function that wraps errors.Join
func Join(errs ...error) error {
	return errors.Join(errs...)
}
