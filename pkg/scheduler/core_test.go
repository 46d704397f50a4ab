package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// every fires at a fixed sub-second interval, which cron's own
// "@every" descriptor rounds up to a second.
type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func TestParseSchedule(t *testing.T) {
	for _, expr := range []string{"*/5 * * * *", "0 */10 * * * *", "@hourly", "@every 90s"} {
		_, err := ParseSchedule(expr)
		assert.NoError(t, err, expr)
	}

	_, err := ParseSchedule("every tuesday")
	assert.ErrorContains(t, err, "invalid schedule")

	_, err = NewCore("61 * * * *", func(context.Context) error { return nil }, nil)
	assert.Error(t, err)
}

func TestCore_RunsUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	c := newCore(every(20*time.Millisecond), func(context.Context) error {
		calls.Add(1)
		return nil
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	after := calls.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no runs after shutdown")
}

func TestCore_NeverOverlaps(t *testing.T) {
	var active, maxActive atomic.Int32
	c := newCore(every(5*time.Millisecond), func(context.Context) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		active.Add(-1)
		return nil
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	c.Run(ctx)

	runs, _ := c.Stats()
	assert.GreaterOrEqual(t, runs, 2)
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestCore_FailedRunDoesNotStopSchedule(t *testing.T) {
	c := newCore(every(10*time.Millisecond), func(context.Context) error {
		return errors.New("jobs failed")
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		runs, _ := c.Stats()
		return runs >= 2
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	runs, fails := c.Stats()
	assert.GreaterOrEqual(t, runs, 2)
	assert.Equal(t, runs, fails)
}

func TestCore_PassesRunContext(t *testing.T) {
	type key struct{}
	got := make(chan any, 1)
	c := newCore(every(10*time.Millisecond), func(ctx context.Context) error {
		select {
		case got <- ctx.Value(key{}):
		default:
		}
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), key{}, "scheduled"))
	defer cancel()
	go c.Run(ctx)

	select {
	case v := <-got:
		assert.Equal(t, "scheduled", v)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled run never happened")
	}
}
