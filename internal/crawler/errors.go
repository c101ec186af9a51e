package crawler

import (
	"context"
	"errors"
)

// Sentinel errors shared by the pipeline.
var (
	// ErrBlocked marks a page recognised as an anti-bot interstitial.
	ErrBlocked = errors.New("bot-block detected")
	// ErrParse marks a page missing a field required for routing.
	ErrParse = errors.New("parse failure")
	// ErrRejected marks a client-error response (4xx other than 429).
	ErrRejected = errors.New("request rejected")
	// ErrPersist marks a store upsert failure.
	ErrPersist = errors.New("persist failure")
	// ErrQueueClosed is returned by Take once the queue stops handing out work.
	ErrQueueClosed = errors.New("queue closed")
	// ErrQueueDrained is returned by Take when nothing is pending or in flight.
	ErrQueueDrained = errors.New("queue drained")
)

// FailureClass groups failures for retry and metrics purposes.
type FailureClass string

// Failure classes.
const (
	ClassTransient FailureClass = "transient"
	ClassBlocked   FailureClass = "blocked"
	ClassParse     FailureClass = "parse"
	ClassPersist   FailureClass = "persist"
	ClassRejected  FailureClass = "rejected"
	ClassCanceled  FailureClass = "canceled"
)

// Disposition is the outcome of classifying a failure.
type Disposition struct {
	Class     FailureClass
	Retryable bool
}

// Classify decides whether err is worth retrying. Anything not recognised as
// a block, parse, rejection, persistence, or cancellation failure is transient.
func Classify(err error) Disposition {
	switch {
	case err == nil:
		return Disposition{}
	case errors.Is(err, ErrBlocked):
		return Disposition{Class: ClassBlocked}
	case errors.Is(err, ErrParse):
		return Disposition{Class: ClassParse}
	case errors.Is(err, ErrRejected):
		return Disposition{Class: ClassRejected}
	case errors.Is(err, ErrPersist):
		return Disposition{Class: ClassPersist}
	case errors.Is(err, context.Canceled):
		return Disposition{Class: ClassCanceled}
	default:
		return Disposition{Class: ClassTransient, Retryable: true}
	}
}
