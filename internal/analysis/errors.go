package analysis

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"google.golang.org/genai"
)

var (
	ErrNoImages    = errors.New("no images to analyze")
	ErrNoKeys      = errors.New("no usable API key")
	ErrEmptyReport = errors.New("producer returned an empty report")
)

// FatalError ends an analysis without retrying.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("analysis failed: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// RetryError reports a transient failure that outlasted every retry.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("analysis failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// FragmentError is an error the producer reported inline as report text.
type FragmentError struct {
	Message string
}

func (e *FragmentError) Error() string {
	return e.Message
}

var fragmentPrefixes = []string{"HATA:", "ERROR:"}

// fragmentError recognizes text fragments that carry an error instead of
// report content.
func fragmentError(fragment string) (*FragmentError, bool) {
	trimmed := strings.TrimSpace(fragment)
	for _, prefix := range fragmentPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return &FragmentError{Message: strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))}, true
		}
	}
	return nil, false
}

func apiError(err error) (genai.APIError, bool) {
	var value genai.APIError
	if errors.As(err, &value) {
		return value, true
	}
	var pointer *genai.APIError
	if errors.As(err, &pointer) && pointer != nil {
		return *pointer, true
	}
	return genai.APIError{}, false
}

func mentionsQuota(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "quota") || strings.Contains(lower, "billing")
}

var (
	transientMarkers = []string{
		"overloaded",
		"rate limit",
		"try again later",
		"unavailable",
	}
	fatalMarkers = []string{
		"invalid_argument",
		"invalid argument",
		"api key not valid",
		"permission_denied",
		"unauthenticated",
	}
	transientCode = regexp.MustCompile(`\b(429|500|503)\b`)
)

func containsAny(lower string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// IsTransient reports whether a stream failure is worth retrying: overload,
// rate limiting, 500 and 503. Quota exhaustion, auth failures and invalid
// arguments are fatal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := apiError(err); ok {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return !mentionsQuota(apiErr.Message)
		case http.StatusInternalServerError, http.StatusServiceUnavailable:
			return true
		}
		if strings.EqualFold(apiErr.Status, "UNAVAILABLE") {
			return true
		}
		if apiErr.Code != 0 {
			return false
		}
	}
	lower := strings.ToLower(err.Error())
	if mentionsQuota(lower) || containsAny(lower, fatalMarkers) {
		return false
	}
	return containsAny(lower, transientMarkers) || transientCode.MatchString(lower)
}

// IsKeyFailure reports errors that make the current API key unusable for a
// while: rejected credentials or an exhausted quota.
func IsKeyFailure(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := apiError(err); ok {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return true
		case http.StatusTooManyRequests:
			return mentionsQuota(apiErr.Message)
		}
	}
	lower := strings.ToLower(err.Error())
	return mentionsQuota(lower) ||
		strings.Contains(lower, "api key not valid") ||
		strings.Contains(lower, "permission_denied")
}
