package vision

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := RetryPolicy{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, p.Backoff(0))
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, 5*time.Second, p.Backoff(3))
	assert.Equal(t, 5*time.Second, p.Backoff(10))
}

func TestBackoffJitterStaysInRange(t *testing.T) {
	p := RetryPolicy{InitialBackoff: time.Second, MaxBackoff: time.Minute, Multiplier: 2, Jitter: true}
	for i := 0; i < 50; i++ {
		d := p.Backoff(1)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 3*time.Second)
	}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 4, InitialBackoff: time.Millisecond, Multiplier: 2, Sleep: noSleep}
	calls := 0
	attempts, err := p.Do(context.Background(), nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return &TransientError{StatusCode: 429, Message: "slow down"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 4, Sleep: noSleep}
	permanent := errors.New("bad request")
	attempts, err := p.Do(context.Background(), nil, func(context.Context) error { return permanent })
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestDoExhaustsBudget(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Sleep: noSleep}
	attempts, err := p.Do(context.Background(), nil, func(context.Context) error {
		return &TransientError{StatusCode: 503}
	})
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 3, attempts)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Hour}
	_, err := p.Do(ctx, nil, func(context.Context) error { return &TransientError{StatusCode: 503} })
	assert.ErrorIs(t, err, context.Canceled)
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingObserver) ObserveCall(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func TestCallerRetriesThenSucceeds(t *testing.T) {
	calls := 0
	capability := CapabilityFunc(func(ctx context.Context, req Request) (string, error) {
		calls++
		if calls == 1 {
			return "", &TransientError{StatusCode: 429}
		}
		return `[{"question_number": 1}]`, nil
	})
	obs := &recordingObserver{}
	caller := NewCaller(capability, CallerConfig{
		Retry: RetryPolicy{MaxAttempts: 3, Sleep: noSleep},
	}, obs, nil)

	text, attempts, err := caller.Call(context.Background(), Request{Instruction: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Contains(t, text, "question_number")
	assert.Equal(t, []string{OutcomeTransient, OutcomeOK}, obs.outcomes)
}

func TestCallerBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	capability := CapabilityFunc(func(ctx context.Context, req Request) (string, error) {
		calls++
		return "", &TransientError{StatusCode: 503}
	})
	obs := &recordingObserver{}
	caller := NewCaller(capability, CallerConfig{
		Retry:           RetryPolicy{MaxAttempts: 5, Sleep: noSleep},
		BreakerFailures: 2,
		BreakerCooldown: time.Hour,
	}, obs, nil)

	_, attempts, err := caller.Call(context.Background(), Request{}, nil)
	require.Error(t, err)
	assert.Equal(t, 2, calls, "breaker must stop calls reaching the provider")
	assert.Equal(t, 3, attempts)
	assert.Equal(t, OutcomeBreakerOpen, obs.outcomes[len(obs.outcomes)-1])
}
