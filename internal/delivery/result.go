package delivery

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR DEFINITIONS
// =============================================================================

var (
	// ErrClientRejected means the sink answered 4xx. Replaying the same body
	// will not change the answer, so the batch is dropped without retry.
	ErrClientRejected = errors.New("sink rejected batch")

	// ErrTransientFailure covers 5xx answers, network faults and anything else
	// that is worth another attempt.
	ErrTransientFailure = errors.New("transient delivery failure")

	// ErrExhaustedRetries is the terminal state after every attempt failed
	// without a 2xx or 4xx, or after the retry wait was cancelled.
	ErrExhaustedRetries = errors.New("delivery retries exhausted")
)

// =============================================================================
// POST RESULT - ONE ATTEMPT
// =============================================================================
//
// Every POST is classified into exactly one ResultKind. The retry loop reads
// the kind; it never inspects error types.
//
//   ┌────────────────────┬──────────────────┬──────────────┐
//   │ Response           │ ResultKind       │ Retry?       │
//   ├────────────────────┼──────────────────┼──────────────┤
//   │ 200-299            │ ResultSuccess    │ no, done     │
//   │ 400-499            │ ResultClientError│ no, drop     │
//   │ 500-599            │ ResultServerError│ yes          │
//   │ dial/timeout/reset │ ResultNetwork    │ yes          │
//   │ 1xx/3xx, encode    │ ResultOther      │ yes          │
//   └────────────────────┴──────────────────┴──────────────┘
//
// =============================================================================

// ResultKind classifies a single POST attempt.
type ResultKind int

const (
	ResultSuccess ResultKind = iota
	ResultClientError
	ResultServerError
	ResultNetworkFailure
	ResultOtherFailure
)

func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultClientError:
		return "client_error"
	case ResultServerError:
		return "server_error"
	case ResultNetworkFailure:
		return "network_failure"
	case ResultOtherFailure:
		return "other_failure"
	default:
		return "unknown"
	}
}

// PostResult is the tagged result of one POST.
type PostResult struct {
	Kind ResultKind

	// StatusCode is the HTTP status, zero when no response was received.
	StatusCode int

	// Cause is the underlying error for network and other failures.
	Cause error
}

// Retryable reports whether another attempt could succeed.
func (r PostResult) Retryable() bool {
	return r.Kind != ResultSuccess && r.Kind != ResultClientError
}

// Err converts the result into the error the retry loop understands.
// Success is nil; a client error wraps ErrClientRejected; everything else
// wraps ErrTransientFailure.
func (r PostResult) Err() error {
	switch r.Kind {
	case ResultSuccess:
		return nil
	case ResultClientError:
		return fmt.Errorf("%w: status %d", ErrClientRejected, r.StatusCode)
	case ResultServerError:
		return fmt.Errorf("%w: status %d", ErrTransientFailure, r.StatusCode)
	default:
		if r.Cause != nil {
			return fmt.Errorf("%w: %s: %v", ErrTransientFailure, r.Kind, r.Cause)
		}
		return fmt.Errorf("%w: %s (status %d)", ErrTransientFailure, r.Kind, r.StatusCode)
	}
}

// classifyStatus maps an HTTP status code onto a result kind using standard
// range boundaries. Anything outside 2xx/4xx/5xx is retryable.
func classifyStatus(code int) ResultKind {
	switch {
	case code >= 200 && code <= 299:
		return ResultSuccess
	case code >= 400 && code <= 499:
		return ResultClientError
	case code >= 500 && code <= 599:
		return ResultServerError
	default:
		return ResultOtherFailure
	}
}

// =============================================================================
// OUTCOME - ONE BATCH
// =============================================================================

// OutcomeKind is the terminal state of a batch.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeClientRejected
	OutcomeExhaustedRetries
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeClientRejected:
		return "client_rejected"
	case OutcomeExhaustedRetries:
		return "exhausted_retries"
	default:
		return "unknown"
	}
}

// Outcome is produced exactly once per delivered batch.
type Outcome struct {
	Kind OutcomeKind

	// StatusCode is set for Success and ClientRejected.
	StatusCode int

	// Attempts is the number of POSTs made for the batch.
	Attempts int

	// Err is nil on success. Otherwise it wraps ErrClientRejected or
	// ErrExhaustedRetries.
	Err error
}

// Success builds a successful outcome.
func Success(code, attempts int) Outcome {
	return Outcome{Kind: OutcomeSuccess, StatusCode: code, Attempts: attempts}
}

// ClientRejected builds a client-rejected outcome.
func ClientRejected(code, attempts int) Outcome {
	return Outcome{
		Kind:       OutcomeClientRejected,
		StatusCode: code,
		Attempts:   attempts,
		Err:        fmt.Errorf("%w: status %d", ErrClientRejected, code),
	}
}

// ExhaustedRetries builds an exhausted outcome. cause may be nil.
func ExhaustedRetries(attempts int, cause error) Outcome {
	err := fmt.Errorf("%w after %d attempt(s)", ErrExhaustedRetries, attempts)
	if cause != nil {
		err = fmt.Errorf("%w after %d attempt(s): %v", ErrExhaustedRetries, attempts, cause)
	}
	return Outcome{Kind: OutcomeExhaustedRetries, Attempts: attempts, Err: err}
}

// Fatal reports whether the outcome is ExhaustedRetries.
func (o Outcome) Fatal() bool {
	return o.Kind == OutcomeExhaustedRetries
}

func (o Outcome) String() string {
	if o.StatusCode != 0 {
		return fmt.Sprintf("%s(%d)", o.Kind, o.StatusCode)
	}
	return o.Kind.String()
}
