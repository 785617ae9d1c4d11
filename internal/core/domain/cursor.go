package domain

import "time"

// SyncCursor is the durable sync progress of one source.
// The zero value means the source has never synced.
type SyncCursor struct {
	// Source is the owning source name.
	Source string

	// Token is the adapter-encoded high-water mark.
	// Opaque to everything except the adapter that produced it.
	Token string

	// LastSuccess is when the cursor last advanced on a successful sync.
	LastSuccess time.Time

	// ConsecutiveFailures counts failed tasks since the last success.
	ConsecutiveFailures int

	// NextEligible is the earliest time the source may be synced again.
	NextEligible time.Time

	// Version is the store revision, bumped on every write.
	// Zero means the cursor has never been stored.
	Version int64
}

// IsZero reports whether the source has no recorded progress.
func (c SyncCursor) IsZero() bool {
	return c.Token == ""
}

// Eligible reports whether a scheduled sync may run at now.
func (c SyncCursor) Eligible(now time.Time) bool {
	return c.NextEligible.IsZero() || !now.Before(c.NextEligible)
}

// Advanced returns the cursor after a successful task.
// An empty token keeps the previous high-water mark.
func (c SyncCursor) Advanced(token string, now time.Time) SyncCursor {
	next := c
	if token != "" {
		next.Token = token
	}
	next.LastSuccess = now
	next.ConsecutiveFailures = 0
	next.NextEligible = time.Time{}
	return next
}

// Failed returns the cursor after a failed task.
// The token is never touched.
func (c SyncCursor) Failed(nextEligible time.Time) SyncCursor {
	next := c
	next.ConsecutiveFailures++
	next.NextEligible = nextEligible
	return next
}
