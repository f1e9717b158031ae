package jobs

import "errors"

// ErrQueueClosed is returned by Enqueue/Dequeue once the queue has been
// closed and drained.
var ErrQueueClosed = errors.New("jobs: queue closed")

// ErrJobNotFound is returned by Cancel/Status for an unknown job ID.
var ErrJobNotFound = errors.New("jobs: job not found")

// ErrAlreadyTerminal is returned by Cancel for a job that has already
// finished, failed, or was already canceled.
var ErrAlreadyTerminal = errors.New("jobs: job already in a terminal state")
