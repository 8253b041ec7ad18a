// Package retry provides a circuit breaker for operations that can fail
// persistently, such as writes to a storage backend on a full or read-only
// disk. After repeated failures the breaker "opens" and skips the operation
// for increasing intervals, reducing wasted work and log noise.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by Do while the circuit is open and the operation
// was skipped.
var ErrOpen = errors.New("circuit breaker open")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is normal operation; calls pass through.
	StateClosed State = iota
	// StateOpen means failures exceeded the threshold; calls are skipped.
	StateOpen
	// StateHalfOpen is a probe state testing whether the operation has recovered.
	StateHalfOpen
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Config configures the circuit breaker behavior.
type Config struct {
	// Name identifies the guarded operation in logs.
	Name string
	// MaxFailures is the number of consecutive failures before opening the circuit.
	MaxFailures int
	// ResetTimeout is the initial wait duration before transitioning from Open to HalfOpen.
	ResetTimeout time.Duration
	// MaxResetTimeout caps the exponential backoff.
	MaxResetTimeout time.Duration
	// BackoffMultiplier is the factor by which ResetTimeout increases on each re-open.
	BackoffMultiplier float64
	// Logger for circuit breaker events. Nil is safe (a discard logger is used).
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		MaxFailures:       3,
		ResetTimeout:      1 * time.Minute,
		MaxResetTimeout:   30 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// Stats holds circuit breaker statistics for external inspection.
type Stats struct {
	State            State
	ConsecutiveFails int
	TotalFailures    int
	TotalSuccesses   int
	LastFailure      time.Time
	LastSuccess      time.Time
	CurrentTimeout   time.Duration
	ConsecutiveSkips int
}

// Breaker guards an operation with failure tracking and automatic circuit
// opening and closing.
type Breaker struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu               sync.Mutex
	state            State
	failures         int
	lastFailure      time.Time
	lastSuccess      time.Time
	currentTimeout   time.Duration
	totalFailures    int
	totalSuccesses   int
	consecutiveSkips int
}

// New creates a closed Breaker. If cfg.Logger is nil, a discard logger is used.
func New(cfg Config) *Breaker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Name == "" {
		cfg.Name = "operation"
	}
	return &Breaker{
		config:         cfg,
		logger:         logger,
		now:            time.Now,
		state:          StateClosed,
		currentTimeout: cfg.ResetTimeout,
	}
}

// Do runs fn unless the circuit is open. While open it returns an error
// wrapping ErrOpen without calling fn. Errors from fn are returned as is.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return b.doClosed(ctx, fn)

	case StateOpen:
		elapsed := b.now().Sub(b.lastFailure)
		if elapsed < b.currentTimeout {
			remaining := b.currentTimeout - elapsed
			b.consecutiveSkips++
			skips := b.consecutiveSkips
			failures := b.failures
			b.mu.Unlock()

			b.logger.Debug("circuit breaker open, skipping",
				"operation", b.config.Name,
				"failures", failures,
				"retry_in", remaining,
				"skips", skips,
			)
			return fmt.Errorf("%s: %w (failures: %d, retry in %s)",
				b.config.Name, ErrOpen, failures, remaining.Truncate(time.Second))
		}

		// Timeout elapsed, transition to half-open.
		b.state = StateHalfOpen
		b.logger.Info("circuit breaker transitioning to half-open",
			"operation", b.config.Name,
		)
		b.mu.Unlock()
		return b.doHalfOpen(ctx, fn)

	case StateHalfOpen:
		b.mu.Unlock()
		return b.doHalfOpen(ctx, fn)

	default:
		b.mu.Unlock()
		return fmt.Errorf("circuit breaker in unknown state: %d", b.state)
	}
}

func (b *Breaker) doClosed(ctx context.Context, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// doHalfOpen runs fn as a probe to test recovery.
func (b *Breaker) doHalfOpen(ctx context.Context, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		b.mu.Lock()
		b.failures++
		b.totalFailures++
		b.lastFailure = b.now()

		b.currentTimeout = time.Duration(float64(b.currentTimeout) * b.config.BackoffMultiplier)
		if b.currentTimeout > b.config.MaxResetTimeout {
			b.currentTimeout = b.config.MaxResetTimeout
		}

		b.state = StateOpen
		b.logger.Warn("circuit breaker re-opened after half-open failure",
			"operation", b.config.Name,
			"failures", b.failures,
			"next_timeout", b.currentTimeout,
		)
		b.mu.Unlock()
		return err
	}

	b.mu.Lock()
	b.state = StateClosed
	b.failures = 0
	b.consecutiveSkips = 0
	b.totalSuccesses++
	b.lastSuccess = b.now()
	b.currentTimeout = b.config.ResetTimeout
	b.logger.Info("circuit breaker closed after successful probe",
		"operation", b.config.Name,
	)
	b.mu.Unlock()
	return nil
}

// recordFailure increments failure counters and optionally opens the circuit.
func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.totalFailures++
	b.lastFailure = b.now()

	if b.failures >= b.config.MaxFailures {
		b.state = StateOpen
		b.currentTimeout = b.config.ResetTimeout
		b.logger.Warn("circuit breaker opened",
			"operation", b.config.Name,
			"failures", b.failures,
			"timeout", b.currentTimeout,
		)
	}
}

// recordSuccess resets the consecutive failure counter.
func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.consecutiveSkips = 0
	b.totalSuccesses++
	b.lastSuccess = b.now()
}

// State returns the current circuit breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the circuit breaker statistics.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:            b.state,
		ConsecutiveFails: b.failures,
		TotalFailures:    b.totalFailures,
		TotalSuccesses:   b.totalSuccesses,
		LastFailure:      b.lastFailure,
		LastSuccess:      b.lastSuccess,
		CurrentTimeout:   b.currentTimeout,
		ConsecutiveSkips: b.consecutiveSkips,
	}
}

// Reset forces the breaker back to the closed state, clearing all failure
// counters and restoring the initial timeout.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.consecutiveSkips = 0
	b.currentTimeout = b.config.ResetTimeout
	b.logger.Info("circuit breaker manually reset",
		"operation", b.config.Name,
	)
}
