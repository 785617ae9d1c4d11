package github

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	gh "github.com/google/go-github/v80/github"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

// GitHub-specific errors.
var (
	// ErrWikiDisabled indicates the repository has no readable wiki.
	ErrWikiDisabled = errors.New("github: wiki is disabled for this repository")

	// ErrInvalidCursor indicates a cursor token that cannot be decoded.
	ErrInvalidCursor = errors.New("github: invalid cursor format")
)

// RateLimitError reports an exhausted quota.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("github: rate limit exceeded, resets at %s", e.ResetAt.Format(time.RFC3339))
}

// APIError is a non-2xx GitHub API response.
type APIError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: API error %d: %s (URL: %s)", e.StatusCode, e.Message, e.URL)
}

// IsNotFound reports whether err is a 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// wrapError converts go-github errors to APIError or RateLimitError.
func wrapError(err error, operation string) error {
	if err == nil {
		return nil
	}

	var rle *gh.RateLimitError
	if errors.As(err, &rle) {
		return &RateLimitError{ResetAt: rle.Rate.Reset.Time}
	}
	var abuse *gh.AbuseRateLimitError
	if errors.As(err, &abuse) {
		reset := time.Now()
		if d := abuse.GetRetryAfter(); d > 0 {
			reset = reset.Add(d)
		}
		return &RateLimitError{ResetAt: reset}
	}

	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		apiErr := &APIError{StatusCode: ghErr.Response.StatusCode, Message: ghErr.Message}
		if ghErr.Response.Request != nil {
			apiErr.URL = ghErr.Response.Request.URL.String()
		}
		return apiErr
	}

	return fmt.Errorf("%s: %w", operation, err)
}

// translate maps a client error onto the failure taxonomy.
func translate(source, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *domain.SourceError
	if errors.As(err, &se) {
		return err
	}

	var apiErr *APIError
	var rle *RateLimitError
	switch {
	case errors.As(err, &rle):
		return domain.NewSourceError(domain.ErrConnection, source, op, err)
	case errors.As(err, &apiErr):
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return domain.NewSourceError(domain.ErrAuth, source, op, err)
		case http.StatusUnprocessableEntity:
			return domain.NewSourceError(domain.ErrParse, source, op, err)
		default:
			return domain.NewSourceError(domain.ErrConnection, source, op, err)
		}
	case errors.Is(err, ErrInvalidCursor):
		return domain.NewSourceError(domain.ErrParse, source, op, err)
	}
	return domain.Translate(source, op, err)
}
