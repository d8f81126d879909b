// Package errors classifies failures and retries the transient ones.
//
// Every error maps onto one Category. Transient failures (rate limits,
// overloaded providers, dropped connections, per-attempt deadlines) are
// retried with capped exponential backoff. Escalatable failures are worth
// handing to a fallback model. SQL that fails the guard or the dialect check
// needs a human, so the pipeline pauses for approval instead of retrying.
// Anything unrecognized is permanent.
package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
)

// Category is how a failure should be handled.
type Category string

// Categories.
const (
	CategoryPermanent     Category = "permanent"
	CategoryTransient     Category = "transient"
	CategoryEscalatable   Category = "escalatable"
	CategoryHumanRequired Category = "human_required"
)

func (c Category) String() string {
	if c == "" {
		return "unknown"
	}
	return string(c)
}

// CategorizedError records the decision made about a failure.
type CategorizedError struct {
	Err      error
	Category Category
	Op       string

	// Attempts is how many times the operation ran.
	Attempts int

	// GaveUp is set when a retryable failure ran out of attempts.
	GaveUp bool
}

func (e *CategorizedError) Error() string {
	detail := fmt.Sprintf("%s, %d attempts", e.Category, e.Attempts)
	if e.GaveUp {
		detail = "gave up: " + detail
	}
	if e.Op == "" {
		return fmt.Sprintf("%v [%s]", e.Err, detail)
	}
	return fmt.Sprintf("%s: %v [%s]", e.Op, e.Err, detail)
}

func (e *CategorizedError) Unwrap() error { return e.Err }

// Mark attaches category to err.
func Mark(err error, category Category, op string) *CategorizedError {
	return &CategorizedError{Err: err, Category: category, Op: op}
}

// classifiers run in order; the first to recognize the error decides.
var classifiers = []func(error) (Category, bool){
	func(err error) (Category, bool) {
		var ce *CategorizedError
		if errors.As(err, &ce) {
			return ce.Category, true
		}
		return "", false
	},
	func(err error) (Category, bool) {
		var ve *sqlflow.ValidationError
		if errors.As(err, &ve) {
			return CategoryHumanRequired, true
		}
		var te *sqlflow.TransientLLMError
		if errors.As(err, &te) {
			return CategoryTransient, true
		}
		return "", false
	},
	func(err error) (Category, bool) {
		var he *HTTPError
		if errors.As(err, &he) {
			return he.category(), true
		}
		var je *JSONParseError
		if errors.As(err, &je) {
			return CategoryEscalatable, true
		}
		return "", false
	},
	func(err error) (Category, bool) {
		switch {
		case errors.Is(err, context.Canceled):
			return CategoryPermanent, true
		case errors.Is(err, context.DeadlineExceeded):
			// Per-attempt deadline; the retry loop checks the parent itself.
			return CategoryTransient, true
		}
		return "", false
	},
	func(err error) (Category, bool) {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return CategoryTransient, true
		}
		var oe *net.OpError
		if errors.As(err, &oe) {
			return CategoryTransient, true
		}
		for _, target := range []error{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.EPIPE, io.ErrUnexpectedEOF} {
			if errors.Is(err, target) {
				return CategoryTransient, true
			}
		}
		return "", false
	},
}

// Categorize returns how err should be handled. nil and unrecognized
// errors are permanent.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}
	for _, classify := range classifiers {
		if c, ok := classify(err); ok {
			return c
		}
	}
	return CategoryPermanent
}

// IsRetryable reports whether err is transient.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
