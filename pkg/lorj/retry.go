package lorj

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TLSHandshakeSignature is the provider TLS failure known to be transient.
const TLSHandshakeSignature = "SSLv2/v3 read server hello A: unknown protocol"

const (
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = 2 * time.Second
)

// Classifier reports whether err is a transient provider failure.
type Classifier func(err error) bool

// TLSHandshakeFailure matches the transient TLS handshake signature.
func TLSHandshakeFailure(err error) bool {
	return err != nil && strings.Contains(err.Error(), TLSHandshakeSignature)
}

// InternalServerError matches provider internal server errors.
func InternalServerError(err error) bool {
	if err == nil {
		return false
	}
	if HasCode(err, ErrCodeInternalServerError) {
		return true
	}
	return strings.Contains(err.Error(), "500 Internal Server Error")
}

// Retrier retries a controller call only for classified transient errors,
// with a fixed delay. Anything else is returned at once.
type Retrier struct {
	MaxAttempts int
	Delay       time.Duration
	Classifiers []Classifier
	// Sleep waits between attempts. It must return early with ctx.Err() when
	// ctx is done.
	Sleep   func(ctx context.Context, d time.Duration) error
	OnRetry func(op string, attempt int, err error)
	logger  zerolog.Logger
}

// NewRetrier returns the default policy: 5 attempts, 2 seconds apart, on TLS
// handshake and internal server errors.
func NewRetrier(logger zerolog.Logger) *Retrier {
	return &Retrier{
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultRetryDelay,
		Classifiers: []Classifier{TLSHandshakeFailure, InternalServerError},
		Sleep:       sleepContext,
		logger:      logger.With().Str("component", "retrier").Logger(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Retrier) transient(err error) bool {
	for _, c := range r.Classifiers {
		if c(err) {
			return true
		}
	}
	return false
}

// Do runs fn until it succeeds, fails with an unclassified error, or the
// attempts are exhausted.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !r.transient(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		r.logger.Warn().Err(err).
			Str("operation", op).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Msg("Transient provider error, retrying")
		if r.OnRetry != nil {
			r.OnRetry(op, attempt, err)
		}

		if serr := sleep(ctx, r.Delay); serr != nil {
			return serr
		}
	}

	return NewPermanentError(fmt.Sprintf("too many retries (%d) on %s", attempts, op), err).
		WithCode(ErrCodeRetryExhausted).WithOperation(op).WithDetail("attempts", attempts)
}
