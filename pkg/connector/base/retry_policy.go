package base

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/interlink/pkg/config"
	"github.com/ajitpratap0/interlink/pkg/errors"
)

// Backoff retries one external call with jittered exponential delays.
type Backoff struct {
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter spreads each delay within +/- Jitter of its nominal value
	Jitter float64
}

// NewBackoff builds the backoff described by the shared connector settings.
func NewBackoff(cc config.ConnectorConfig) *Backoff {
	return &Backoff{
		Attempts:   cc.RetryAttempts,
		Initial:    cc.RetryDelay,
		Max:        cc.MaxRetryDelay,
		Multiplier: 2,
		Jitter:     0.25,
	}
}

// Do calls fn until it succeeds, returns an error retryable rejects, the
// attempts run out or ctx is done. The last error from fn is returned with its
// type intact so callers can still classify it.
func (b *Backoff) Do(ctx context.Context, log *zap.Logger, fn func() error, retryable func(error) bool) error {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt == attempts-1 {
			return err
		}

		wait := b.jittered(b.Delay(attempt))
		log.Debug("retrying after transient error",
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(err, errors.ErrorTypeTimeout, "retry cancelled")
		case <-timer.C:
		}
	}
}

// Delay is the nominal wait after the given zero-based attempt, before jitter.
func (b *Backoff) Delay(attempt int) time.Duration {
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	return time.Duration(d)
}

func (b *Backoff) jittered(d time.Duration) time.Duration {
	if b.Jitter <= 0 {
		return d
	}
	delta := float64(d) * b.Jitter
	return time.Duration(float64(d) - delta + rand.Float64()*2*delta) //nolint:gosec // jitter only
}
