package driving

import "context"

// Scheduler runs sync cycles in the background.
type Scheduler interface {
	// Start begins running cycles.
	// Blocks until context is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Trigger requests an on-demand sync of one source.
	Trigger(source string)

	// Stop gracefully stops the scheduler and waits for running tasks.
	Stop() error
}
