package scheduler

import "context"

// Scheduler suggests, dispatches and reclaims jobs for one experiment.
type Scheduler interface {
	// Start begins the scheduling loop. Blocks until ctx is cancelled,
	// Stop is called, or a fatal error occurs.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the scheduler.
	Stop() error

	// Tick runs a single sweep over all resources. Used for testing.
	Tick(ctx context.Context) error
}
