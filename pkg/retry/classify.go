package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	twclient "github.com/twilio/twilio-go/client"
)

// Category buckets a provider failure for retry decisions.
// Only Transient failures are ever retried.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryTransient
	CategoryAuth
	CategoryResource
)

func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryAuth:
		return "auth"
	case CategoryResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Error is a classified provider error. Low-level provider errors must not
// cross a component boundary unclassified.
type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// providerRetryableCodes are Twilio error codes known to be safe to retry
// regardless of the HTTP status they arrive with.
var providerRetryableCodes = map[int]bool{
	20429: true, // too many requests
	20500: true, // internal server error
	20503: true, // service unavailable
}

// providerAuthCodes are Twilio error codes that indicate a credential or
// permission problem. Retrying these wastes attempts and can lock accounts.
var providerAuthCodes = map[int]bool{
	20003: true, // authentication error
	20005: true, // account not active
	20008: true, // test credentials
}

// Classify maps an arbitrary provider error into a Category. Already
// classified errors pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	var rest *twclient.TwilioRestError
	if errors.As(err, &rest) {
		return &Error{Category: classifyRest(rest), Err: err}
	}

	if isNetworkTransient(err) {
		return &Error{Category: CategoryTransient, Err: err}
	}

	return &Error{Category: CategoryUnknown, Err: err}
}

func classifyRest(rest *twclient.TwilioRestError) Category {
	if providerAuthCodes[rest.Code] {
		return CategoryAuth
	}
	if providerRetryableCodes[rest.Code] {
		return CategoryTransient
	}
	switch {
	case rest.Status == 408 || rest.Status == 429 || rest.Status >= 500:
		return CategoryTransient
	case rest.Status == 401 || rest.Status == 403:
		return CategoryAuth
	case rest.Status == 404 || rest.Status == 410:
		return CategoryResource
	default:
		return CategoryUnknown
	}
}

func isNetworkTransient(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsTransient reports whether err classifies as retryable.
func IsTransient(err error) bool {
	return Classify(err) != nil && Classify(err).Category == CategoryTransient
}
