package worker

import "errors"

var (
	// ErrNilProcessor is raised when a pool is created without a processor function
	ErrNilProcessor = errors.New("worker pool processor cannot be nil")
	// ErrPoolNotStarted is returned when submitting to a pool that has not been started
	ErrPoolNotStarted = errors.New("worker pool not started")
	// ErrPoolStopped is returned when submitting to a stopped pool
	ErrPoolStopped = errors.New("worker pool stopped")
	// ErrQueueFull is returned by Submit when the work queue is at capacity
	ErrQueueFull = errors.New("worker pool queue full")
	// ErrStopTimeout is returned when workers do not drain within the stop timeout
	ErrStopTimeout = errors.New("worker pool stop timed out")
)
