package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coco/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/coco/internal/resilience"

// State is the breaker's operating mode.
type State string

const (
	// StateClosed is normal operation: calls pass through.
	StateClosed State = "closed"

	// StateOpen fast-fails every call until the reset timeout elapses.
	StateOpen State = "open"

	// StateHalfOpen lets probe calls through to test recovery.
	StateHalfOpen State = "half-open"
)

// Default breaker settings.
const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 30 * time.Second
	DefaultHalfOpenRequests = 1
)

// ErrOpen is the sentinel matched by errors.Is for fast-failed calls.
var ErrOpen = errors.New("circuit breaker open")

// OpenError is returned when a call is rejected because the breaker is open.
// It carries the upstream identity and the remaining cooldown so callers can
// pick a fallback path instead of retrying blindly.
type OpenError struct {
	Upstream  string
	Remaining time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s: retry in %s", e.Upstream, e.Remaining.Round(time.Millisecond))
}

// Is reports true for ErrOpen so errors.Is(err, ErrOpen) matches.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// Config configures breaker behavior.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker (default 5).
	FailureThreshold int `koanf:"failure_threshold"`

	// ResetTimeout is how long an open breaker waits before allowing a
	// probe (default 30s).
	ResetTimeout time.Duration `koanf:"reset_timeout"`

	// HalfOpenRequests is the number of consecutive successful probes that
	// close a half-open breaker (default 1).
	HalfOpenRequests int `koanf:"half_open_requests"`
}

// DefaultBreakerConfig returns the standard settings.
func DefaultBreakerConfig() *Config {
	return &Config{
		FailureThreshold: DefaultFailureThreshold,
		ResetTimeout:     DefaultResetTimeout,
		HalfOpenRequests: DefaultHalfOpenRequests,
	}
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenRequests <= 0 {
		c.HalfOpenRequests = DefaultHalfOpenRequests
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be positive, got %d", c.FailureThreshold)
	}
	if c.ResetTimeout <= 0 {
		return fmt.Errorf("reset_timeout must be positive, got %s", c.ResetTimeout)
	}
	if c.HalfOpenRequests < 1 {
		return fmt.Errorf("half_open_requests must be positive, got %d", c.HalfOpenRequests)
	}
	return nil
}

// Stats is a point-in-time view of breaker state for status surfaces.
type Stats struct {
	Upstream    string    `json:"upstream"`
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"lastFailure,omitempty"`
	OpenedAt    time.Time `json:"openedAt,omitempty"`
}

// Breaker wraps one upstream dependency. All methods are safe for
// concurrent use.
type Breaker struct {
	upstream string
	config   Config
	logger   *logging.Logger
	now      func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	lastFail  time.Time
	openedAt  time.Time

	tripCounter  metric.Int64Counter
	shortCircuit metric.Int64Counter
}

// New creates a breaker for one upstream identity.
func New(upstream string, cfg *Config, logger *logging.Logger) *Breaker {
	if cfg == nil {
		cfg = DefaultBreakerConfig()
	}
	cfg.ApplyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}

	b := &Breaker{
		upstream: upstream,
		config:   *cfg,
		logger:   logger.Named("breaker").With(zap.String("upstream", upstream)),
		now:      time.Now,
		state:    StateClosed,
	}

	meter := otel.Meter(instrumentationName)
	var err error
	b.tripCounter, err = meter.Int64Counter(
		"coco.breaker.trips_total",
		metric.WithDescription("Total number of breaker transitions to open"),
		metric.WithUnit("{trip}"),
	)
	if err != nil {
		b.logger.Warn(context.Background(), "failed to create trip counter", zap.Error(err))
	}
	b.shortCircuit, err = meter.Int64Counter(
		"coco.breaker.short_circuits_total",
		metric.WithDescription("Total number of calls rejected while open"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		b.logger.Warn(context.Background(), "failed to create short-circuit counter", zap.Error(err))
	}

	return b
}

// Upstream returns the identity this breaker guards.
func (b *Breaker) Upstream() string {
	return b.upstream
}

// State returns the current state, lazily promoting open to half-open when
// the reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resolveLocked()
}

// IsOpen reports whether calls would currently be rejected.
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// Stats returns a snapshot for status surfaces.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.resolveLocked()
	return Stats{
		Upstream:    b.upstream,
		State:       st,
		Failures:    b.failures,
		LastFailure: b.lastFail,
		OpenedAt:    b.openedAt,
	}
}

// RecordSuccess notes a successful upstream call. In closed it resets the
// failure count; in half-open it counts toward closing.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.resolveLocked() {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.HalfOpenRequests {
			b.transitionLocked(StateClosed)
			b.failures = 0
		}
	}
}

// RecordFailure notes a failed upstream call. In closed it opens the breaker
// once the threshold is reached; in half-open a single failure reopens
// immediately and restarts the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFail = b.now()
	switch b.resolveLocked() {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		b.transitionLocked(StateOpen)
	}
}

// Do runs fn through the breaker. When the breaker is open it returns an
// *OpenError without calling fn; otherwise fn's outcome is recorded and its
// error returned unchanged.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	b.mu.Lock()
	st := b.resolveLocked()
	var remaining time.Duration
	if st == StateOpen {
		remaining = b.config.ResetTimeout - b.now().Sub(b.openedAt)
		if remaining < 0 {
			remaining = 0
		}
	}
	b.mu.Unlock()

	if st == StateOpen {
		if b.shortCircuit != nil {
			b.shortCircuit.Add(ctx, 1, metric.WithAttributes(
				attribute.String("upstream", b.upstream),
			))
		}
		return &OpenError{Upstream: b.upstream, Remaining: remaining}
	}

	if err := fn(ctx); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// resolveLocked recomputes the effective state. Callers must hold b.mu.
func (b *Breaker) resolveLocked() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.ResetTimeout {
		b.transitionLocked(StateHalfOpen)
	}
	return b.state
}

// transitionLocked moves to a new state and maintains the per-state
// bookkeeping. Callers must hold b.mu.
func (b *Breaker) transitionLocked(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next

	switch next {
	case StateOpen:
		b.openedAt = b.now()
		if b.tripCounter != nil {
			b.tripCounter.Add(context.Background(), 1, metric.WithAttributes(
				attribute.String("upstream", b.upstream),
				attribute.String("from", string(prev)),
			))
		}
	case StateHalfOpen:
		b.successes = 0
	}

	b.logger.Info(context.Background(), "breaker state changed",
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
		zap.Int("failures", b.failures),
	)
}
