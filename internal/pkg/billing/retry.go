package billing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v79"
)

// Outcome is the classification of a single provider call.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransient
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	default:
		return "permanent"
	}
}

// Classify maps a provider call result to an Outcome. Only authentication and
// connectivity failures are transient; validation, card and API errors are not.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if errors.Is(err, context.Canceled) {
		return OutcomePermanent
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusUnauthorized {
			return OutcomeTransient
		}
		return OutcomePermanent
	}

	if isConnectionError(err) {
		return OutcomeTransient
	}
	return OutcomePermanent
}

func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

func isInvalidRequest(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	if stripeErr.HTTPStatusCode == http.StatusUnauthorized {
		return false
	}
	return stripeErr.Type == stripe.ErrorTypeInvalidRequest &&
		stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500
}

// Retry runs a provider call at most MaxRetries times, waiting Delay between
// transient failures. Permanent failures are returned after the first attempt.
type Retry struct {
	MaxRetries int
	Delay      time.Duration
	// Sleep replaces the context-aware timer wait (tests).
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do executes fn under the retry policy. op names the call in logs and errors.
func (r Retry) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	maxRetries := r.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var last error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			fiberlog.Error(fmt.Sprintf("[Billing] %s aborted before attempt %d: %v", op, attempt, ctxErr))
			return &ProviderError{Op: op, Attempts: attempt - 1, Err: ctxErr}
		}

		err := fn(ctx)
		if err != nil && ctx.Err() != nil {
			fiberlog.Error(fmt.Sprintf("[Billing] %s aborted on attempt %d: %v", op, attempt, err))
			return &ProviderError{Op: op, Attempts: attempt, Err: errors.Join(ctx.Err(), err)}
		}
		switch Classify(err) {
		case OutcomeSuccess:
			return nil
		case OutcomePermanent:
			fiberlog.Error(fmt.Sprintf("[Billing] %s failed on attempt %d (permanent): %v", op, attempt, err))
			return &ProviderError{Op: op, Attempts: attempt, Invalid: isInvalidRequest(err), Err: err}
		}

		last = err
		fiberlog.Warn(fmt.Sprintf("[Billing] %s failed on attempt %d/%d (transient): %v", op, attempt, maxRetries, err))
		if attempt == maxRetries {
			break
		}
		if err := r.wait(ctx); err != nil {
			fiberlog.Error(fmt.Sprintf("[Billing] %s aborted while waiting to retry: %v", op, err))
			return &ProviderError{Op: op, Attempts: attempt, Err: err}
		}
	}

	fiberlog.Error(fmt.Sprintf("[Billing] %s gave up after %d attempts: %v", op, maxRetries, last))
	return &RetryExhaustedError{Op: op, Attempts: maxRetries, Last: last}
}

func (r Retry) wait(ctx context.Context) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, r.Delay)
	}
	if r.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(r.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retryValue[T any](ctx context.Context, r Retry, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
