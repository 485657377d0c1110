package searchconsole

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
)

// Search Console API errors
var (
	// ErrUnauthorized indicates invalid or expired credentials.
	ErrUnauthorized = errors.New("searchconsole: unauthorised (invalid credentials)")

	// ErrForbidden indicates the account cannot read the property.
	ErrForbidden = errors.New("searchconsole: forbidden (insufficient permissions)")

	// ErrNotFound indicates the site property does not exist.
	ErrNotFound = errors.New("searchconsole: property not found")

	// ErrRateLimited indicates the API rate limit was exceeded.
	ErrRateLimited = errors.New("searchconsole: rate limit exceeded")

	// ErrNoCredentials indicates no usable token was configured.
	ErrNoCredentials = errors.New("searchconsole: no credentials configured")
)

// IsRateLimited returns true if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests
	}
	return false
}

// WrapError converts a Google API error to a more specific error type.
func WrapError(err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}

	switch gerr.Code {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return err
	}
}
