package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("connection refused")

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

func newBreaker(clock *fakeClock, opts ...Option) *CircuitBreaker {
	opts = append([]Option{
		WithFailureThreshold(3),
		WithCoolDown(10 * time.Second),
		WithClock(clock.Now),
	}, opts...)
	return New("test", opts...)
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := newBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, 1, cb.Counts().Rejected)
}

func TestSuccessResetsFailureRun(t *testing.T) {
	cb := newBreaker(&fakeClock{})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, ok))
	_ = cb.Execute(ctx, fail)

	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenProbe(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string
	cb := newBreaker(clock, WithOnStateChange(func(_ string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}

	clock.Advance(10 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.Equal(t, StateOpen, cb.State(), "a failed probe reopens")

	clock.Advance(10 * time.Second)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{
		"closed->open", "open->half-open", "half-open->open", "open->half-open", "half-open->closed",
	}, transitions)
}

func TestProbeSlotsAreLimited(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := newBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(time.Minute)

	err := cb.Execute(ctx, func(ctx context.Context) error {
		return cb.Execute(ctx, ok)
	})
	assert.ErrorIs(t, err, ErrTooManyProbes)
}

func TestCancellationIsNotAFailure(t *testing.T) {
	cb := newBreaker(&fakeClock{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, func(context.Context) error { return context.Canceled })
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Counts().TotalFailures)
}

func TestReset(t *testing.T) {
	cb := newBreaker(&fakeClock{})
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	cb.Reset()

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, Counts{}, cb.Counts())
}
