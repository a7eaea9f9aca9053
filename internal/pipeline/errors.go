package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrQueueFull is returned by SubmitErr when the queue is at capacity.
	// Recoverable: the caller should retry later.
	ErrQueueFull = errors.New("queue is full")

	// ErrPipelineClosed is returned by SubmitErr once shutdown has begun.
	ErrPipelineClosed = errors.New("pipeline is closed")

	// ErrInvalidConfiguration is returned by New when settings are unusable.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrShutdownTimeout is returned by Shutdown when a worker had to be
	// force-cancelled or the drain was cut short.
	ErrShutdownTimeout = errors.New("shutdown timed out")

	// ErrAlreadyStarted is returned by Start on a running or closed pipeline.
	ErrAlreadyStarted = errors.New("pipeline already started")
)

// Rejection reasons used in metrics labels.
const (
	rejectQueueFull = "queue_full"
	rejectClosed    = "closed"
)

func invalidConfig(problems ...string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, strings.Join(problems, "; "))
}
