package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// guardedWriter paces writes to one characteristic and stops writing after
// repeated failures. A new one is built for every link.
type guardedWriter struct {
	char    Characteristic
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[struct{}]
}

func newGuardedWriter(char Characteristic, opts Options) *guardedWriter {
	maxFailures := opts.BreakerFailures
	limit := rate.Inf
	if opts.WriteRate > 0 {
		limit = rate.Limit(opts.WriteRate)
	}
	return &guardedWriter{
		char:    char,
		limiter: rate.NewLimiter(limit, opts.WriteBurst),
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "ble:write",
			MaxRequests: 1,
			Timeout:     opts.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("[BLE] write breaker state change",
					"breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// write sends each frame in order, waiting for the limiter between frames.
func (w *guardedWriter) write(ctx context.Context, frames ...[]byte) error {
	for i, frame := range frames {
		if err := w.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("ble: wait for write slot: %w", err)
		}
		_, err := w.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, w.char.Write(frame)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", ErrWriteCircuitOpen, err)
		}
		if err != nil {
			return fmt.Errorf("ble: write frame %d/%d: %w", i+1, len(frames), err)
		}
	}
	return nil
}

// defaultBreakerTimeout is how long the breaker stays open before probing.
const defaultBreakerTimeout = 10 * time.Second
