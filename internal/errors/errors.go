// Package errors provides the classified error taxonomy shared by every
// source adapter and the aggregation pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/portfolio-aggregator/internal/types"
)

// Class represents the failure classification of a source error
type Class string

const (
	// ClassTransient marks retryable conditions: timeouts, 5xx, rate limits
	ClassTransient Class = "transient"
	// ClassPermanent marks non-retryable conditions: bad input, unsupported operation
	ClassPermanent Class = "permanent"
	// ClassNotConfigured marks a source with no transport or credentials wired
	ClassNotConfigured Class = "not_configured"
	// ClassReordering marks a pagination cursor invalidated by upstream reordering
	ClassReordering Class = "reordering_detected"
	// ClassCacheMiss marks a quote unavailable both live and cached
	ClassCacheMiss Class = "cache_miss"
)

// ErrRetryExhausted marks a transient failure that survived the full retry budget
var ErrRetryExhausted = stderrors.New("retry attempts exhausted")

// SourceError is the classified error every adapter call resolves to.
// It carries enough context for the aggregator to decide retry
// eligibility and per-source status without string matching.
type SourceError struct {
	Class   Class
	Network types.Network
	Op      string
	Err     error
}

func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("source error [%s:%s] %s: %v", e.Network, e.Op, e.Class, e.Err)
	}
	return fmt.Sprintf("source error [%s:%s] %s", e.Network, e.Op, e.Class)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// New creates a classified source error
func New(class Class, network types.Network, op string, err error) *SourceError {
	return &SourceError{Class: class, Network: network, Op: op, Err: err}
}

// Transient creates a retryable source error
func Transient(network types.Network, op string, err error) *SourceError {
	return New(ClassTransient, network, op, err)
}

// Permanent creates a non-retryable source error
func Permanent(network types.Network, op string, err error) *SourceError {
	return New(ClassPermanent, network, op, err)
}

// NotConfigured creates a missing-transport source error
func NotConfigured(network types.Network, op string, err error) *SourceError {
	return New(ClassNotConfigured, network, op, err)
}

// Reordering creates a cursor-invalidated source error
func Reordering(network types.Network, op string, err error) *SourceError {
	return New(ClassReordering, network, op, err)
}

// CacheMiss creates a quote-unavailable source error
func CacheMiss(network types.Network, op string, err error) *SourceError {
	return New(ClassCacheMiss, network, op, err)
}

// ClassOf extracts the classification from an error chain.
// Unclassified errors default to transient: an unknown failure from a
// network boundary is safer to retry than to surface as permanent.
func ClassOf(err error) Class {
	var se *SourceError
	if stderrors.As(err, &se) {
		return se.Class
	}
	return ClassTransient
}

// IsTransient reports whether the error is eligible for retry
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return ClassOf(err) == ClassTransient
}

// IsPermanent reports whether the error must be surfaced without retry
func IsPermanent(err error) bool {
	return err != nil && ClassOf(err) == ClassPermanent
}

// IsNotConfigured reports whether the source has no transport wired
func IsNotConfigured(err error) bool {
	return err != nil && ClassOf(err) == ClassNotConfigured
}

// IsReordering reports whether the pagination cursor was invalidated
func IsReordering(err error) bool {
	return err != nil && ClassOf(err) == ClassReordering
}

// IsCacheMiss reports whether a quote was unavailable live and cached
func IsCacheMiss(err error) bool {
	return err != nil && ClassOf(err) == ClassCacheMiss
}

// IsRetryExhausted reports whether the retry budget was consumed
func IsRetryExhausted(err error) bool {
	return stderrors.Is(err, ErrRetryExhausted)
}

// ClassifyHTTPStatus maps an upstream HTTP status code to a failure
// class: rate limits and server errors are retryable, any other 4xx is
// a contract problem that retrying cannot fix.
func ClassifyHTTPStatus(status int) Class {
	switch {
	case status == http.StatusTooManyRequests:
		return ClassTransient
	case status >= 500:
		return ClassTransient
	case status >= 400:
		return ClassPermanent
	default:
		return ClassTransient
	}
}
