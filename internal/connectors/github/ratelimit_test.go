package github

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rateResponse(remaining, limit int, reset time.Time) *http.Response {
	h := http.Header{}
	h.Set(headerRateRemaining, strconv.Itoa(remaining))
	h.Set(headerRateLimit, strconv.Itoa(limit))
	h.Set(headerRateReset, strconv.FormatInt(reset.Unix(), 10))
	return &http.Response{Header: h}
}

func TestRateLimiter_Observe(t *testing.T) {
	rl := NewRateLimiter(100)
	remaining, _, _ := rl.Quota()
	assert.Equal(t, -1, remaining)

	reset := time.Now().Add(time.Hour).Truncate(time.Second)
	rl.Observe(rateResponse(4000, 5000, reset))
	rl.Observe(nil)

	remaining, limit, gotReset := rl.Quota()
	assert.Equal(t, 4000, remaining)
	assert.Equal(t, 5000, limit)
	assert.True(t, gotReset.Equal(reset))
}

func TestRateLimiter_Wait(t *testing.T) {
	t.Run("passes with quota left", func(t *testing.T) {
		rl := NewRateLimiter(1000)
		rl.Observe(rateResponse(MinBuffer, 5000, time.Now().Add(time.Hour)))
		require.NoError(t, rl.Wait(context.Background()))
	})

	t.Run("holds below the reserve until reset", func(t *testing.T) {
		rl := NewRateLimiter(1000)
		rl.Observe(rateResponse(MinBuffer-1, 5000, time.Now().Add(time.Hour)))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, rl.Wait(ctx), context.DeadlineExceeded)
	})

	t.Run("passes once reset has passed", func(t *testing.T) {
		rl := NewRateLimiter(1000)
		rl.Observe(rateResponse(0, 5000, time.Now().Add(-time.Minute)))
		require.NoError(t, rl.Wait(context.Background()))
	})
}
