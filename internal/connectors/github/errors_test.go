package github

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"rate limit", &RateLimitError{ResetAt: time.Now()}, domain.ErrConnection},
		{"unauthorised", &APIError{StatusCode: http.StatusUnauthorized}, domain.ErrAuth},
		{"forbidden", &APIError{StatusCode: http.StatusForbidden}, domain.ErrAuth},
		{"unprocessable", &APIError{StatusCode: http.StatusUnprocessableEntity}, domain.ErrParse},
		{"server error", &APIError{StatusCode: http.StatusBadGateway}, domain.ErrConnection},
		{"invalid cursor", ErrInvalidCursor, domain.ErrParse},
		{"deadline", context.DeadlineExceeded, domain.ErrQueryTimeout},
		{"unknown", errors.New("boom"), domain.ErrConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := translate("gh", "query", tt.err)
			assert.ErrorIs(t, err, tt.kind)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, translate("gh", "query", nil))
	})

	t.Run("source errors pass through", func(t *testing.T) {
		se := domain.NewSourceError(domain.ErrAuth, "other", "connect", nil)
		assert.Same(t, se, translate("gh", "query", se))
	})
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&APIError{StatusCode: http.StatusNotFound}))
	assert.False(t, IsNotFound(&APIError{StatusCode: http.StatusForbidden}))
	assert.False(t, IsNotFound(errors.New("404")))
}
