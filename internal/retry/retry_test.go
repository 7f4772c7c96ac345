package retry

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func recordingPolicy(delays *[]time.Duration) Policy {
	p := DefaultPolicy()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return p
}

func TestDo_SucceedsOnThirdAttempt(t *testing.T) {
	var delays []time.Duration
	calls := 0

	got, err := DoValue(context.Background(), recordingPolicy(&delays), "query", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", timeoutErr{}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	require.Len(t, delays, 2)
	assert.LessOrEqual(t, delays[0], delays[1])
	for _, d := range delays {
		assert.LessOrEqual(t, d, 30*time.Second)
	}
}

func TestDo_ExhaustionReturnsOriginalError(t *testing.T) {
	var delays []time.Duration
	original := fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)
	calls := 0

	err := Do(context.Background(), recordingPolicy(&delays), "create", func(ctx context.Context) error {
		calls++
		return original
	})

	assert.Same(t, original, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, delays)
}

func TestDo_NonTransientIsNotRetried(t *testing.T) {
	var delays []time.Duration
	calls := 0
	validation := errors.New("REQUIRED_FIELD_MISSING")

	err := Do(context.Background(), recordingPolicy(&delays), "create", func(ctx context.Context) error {
		calls++
		return validation
	})

	assert.ErrorIs(t, err, validation)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestDo_CancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := DefaultPolicy()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := Do(ctx, p, "query", func(ctx context.Context) error {
		return Transient(errors.New("503"))
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelay_IsCapped(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 2*time.Second, p.Delay(0))
	assert.Equal(t, 16*time.Second, p.Delay(3))
	assert.Equal(t, 30*time.Second, p.Delay(4))
	assert.Equal(t, 30*time.Second, p.Delay(40))
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"marked", Transient(errors.New("bad gateway")), true},
		{"wrapped marked", fmt.Errorf("upload: %w", Transient(errors.New("x"))), true},
		{"timeout", timeoutErr{}, true},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("forbidden"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}
