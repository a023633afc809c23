package worker

import "github.com/pkg/errors"

var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	ErrNilProcessor       = errors.New("processor function cannot be nil")
	ErrStopTimeout        = errors.New("timeout waiting for workers to stop")

	// ErrQueueFull is returned by Submit instead of blocking the caller.
	ErrQueueFull = errors.New("worker pool queue full")
)
