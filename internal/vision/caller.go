package vision

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Call outcomes reported to an Observer.
const (
	OutcomeOK          = "ok"
	OutcomeTransient   = "transient"
	OutcomeError       = "error"
	OutcomeBreakerOpen = "breaker_open"
)

// Observer receives one notification per provider call attempt.
type Observer interface {
	ObserveCall(outcome string, elapsed time.Duration)
}

// CallerConfig configures a Caller.
type CallerConfig struct {
	// MinInterval is the minimum spacing between two provider calls.
	MinInterval time.Duration
	// CallTimeout bounds each individual attempt.
	CallTimeout time.Duration
	Retry       RetryPolicy
	// BreakerFailures consecutive transient failures open the breaker; zero disables it.
	BreakerFailures int
	BreakerCooldown time.Duration
}

// Invoker is what pipeline stages depend on to reach the capability. *Caller implements it.
type Invoker interface {
	Call(ctx context.Context, req Request, logger *slog.Logger) (string, int, error)
}

// Caller issues capability calls with inter-call spacing, per-call timeouts, retries and a circuit
// breaker. It is safe for concurrent use.
type Caller struct {
	capability Capability
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	cfg        CallerConfig
	observer   Observer
	logger     *slog.Logger
}

// NewCaller wraps capability. observer may be nil.
func NewCaller(capability Capability, cfg CallerConfig, observer Observer, logger *slog.Logger) *Caller {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	c := &Caller{
		capability: capability,
		limiter:    rate.NewLimiter(limit, 1),
		cfg:        cfg,
		observer:   observer,
		logger:     logger,
	}
	if cfg.BreakerFailures > 0 {
		failures := uint32(cfg.BreakerFailures)
		cooldown := cfg.BreakerCooldown
		if cooldown <= 0 {
			cooldown = time.Minute
		}
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "vision-capability",
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !IsTransient(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Circuit breaker state changed.", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return c
}

// Call runs req through the full policy and returns the raw text plus the attempts made.
func (c *Caller) Call(ctx context.Context, req Request, logger *slog.Logger) (string, int, error) {
	if logger == nil {
		logger = c.logger
	}
	var text string
	attempts, err := c.cfg.Retry.Do(ctx, logger, func(ctx context.Context) error {
		out, err := c.once(ctx, req)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	return text, attempts, err
}

func (c *Caller) once(ctx context.Context, req Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	callCtx := ctx
	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	extract := func() (string, error) {
		text, err := c.capability.Extract(callCtx, req)
		// A per-call deadline is an overload symptom, not a caller cancellation.
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && !IsTransient(err) {
			err = &TransientError{StatusCode: 504, Err: err}
		}
		return text, err
	}

	start := time.Now()
	var (
		text string
		err  error
	)
	if c.breaker != nil {
		var out interface{}
		out, err = c.breaker.Execute(func() (interface{}, error) {
			return extract()
		})
		if s, ok := out.(string); ok {
			text = s
		}
	} else {
		text, err = extract()
	}
	c.observe(err, time.Since(start))
	return text, err
}

func (c *Caller) observe(err error, elapsed time.Duration) {
	if c.observer == nil {
		return
	}
	outcome := OutcomeOK
	switch {
	case err == nil:
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		outcome = OutcomeBreakerOpen
	case IsTransient(err):
		outcome = OutcomeTransient
	default:
		outcome = OutcomeError
	}
	c.observer.ObserveCall(outcome, elapsed)
}
