package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(start time.Time) (*Scheduler, *time.Time) {
	current := start
	s := New(zerolog.Nop())
	s.now = func() time.Time { return current }
	return s, &current
}

func TestRunDueSerialRegistrationOrder(t *testing.T) {
	s, _ := newTestScheduler(time.Unix(1_700_000_000, 0))

	var order []string
	s.Register("first", time.Minute, func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	s.Register("second", time.Minute, func(context.Context) error {
		order = append(order, "second")
		return nil
	})

	s.runDue(context.Background())
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestNextRunAdvancesOnFailure(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	s, current := newTestScheduler(start)

	calls := 0
	s.Register("flaky", 5*time.Minute, func(context.Context) error {
		calls++
		return errors.New("upstream down")
	})

	s.runDue(context.Background())
	assert.Equal(t, 1, calls)

	// A failed job does not become due again until its interval lapses.
	*current = start.Add(time.Minute)
	s.runDue(context.Background())
	assert.Equal(t, 1, calls)

	*current = start.Add(5 * time.Minute)
	s.runDue(context.Background())
	assert.Equal(t, 2, calls)

	h := s.HealthSnapshot()
	require.Len(t, h.Jobs, 1)
	assert.Equal(t, uint64(2), h.Jobs[0].RunCount)
	assert.Equal(t, uint64(2), h.Jobs[0].ErrorCount)
	assert.Equal(t, "upstream down", h.Jobs[0].LastError)
}

func TestLastErrorClearsOnSuccess(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	s, current := newTestScheduler(start)

	fail := true
	s.Register("recovering", time.Minute, func(context.Context) error {
		if fail {
			return errors.New("transient")
		}
		return nil
	})

	s.runDue(context.Background())
	fail = false
	*current = start.Add(time.Minute)
	s.runDue(context.Background())

	h := s.HealthSnapshot()
	require.Len(t, h.Jobs, 1)
	assert.Empty(t, h.Jobs[0].LastError)
	assert.Equal(t, uint64(1), h.Jobs[0].ErrorCount)
}

func TestDisabledJobSkipped(t *testing.T) {
	s, _ := newTestScheduler(time.Unix(1_700_000_000, 0))

	calls := 0
	s.Register("paused", time.Minute, func(context.Context) error {
		calls++
		return nil
	})
	s.SetEnabled("paused", false)

	s.runDue(context.Background())
	assert.Zero(t, calls)

	s.SetEnabled("paused", true)
	s.runDue(context.Background())
	assert.Equal(t, 1, calls)
}

func TestRunDueStopsWhenContextCancelled(t *testing.T) {
	s, _ := newTestScheduler(time.Unix(1_700_000_000, 0))

	ctx, cancel := context.WithCancel(context.Background())
	ran := []string{}
	s.Register("canceller", time.Minute, func(context.Context) error {
		ran = append(ran, "canceller")
		cancel()
		return nil
	})
	s.Register("skipped", time.Minute, func(context.Context) error {
		ran = append(ran, "skipped")
		return nil
	})

	s.runDue(ctx)
	assert.Equal(t, []string{"canceller"}, ran)
}

func TestStartAndStop(t *testing.T) {
	s := New(zerolog.Nop())

	done := make(chan struct{}, 1)
	s.Register("tick", time.Millisecond, func(context.Context) error {
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})

	s.Start(context.Background())
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job never ran")
	}
	s.Stop(5 * time.Second)
}

func TestHealthSnapshotProcessUsage(t *testing.T) {
	s, _ := newTestScheduler(time.Unix(1_700_000_000, 0))
	h := s.HealthSnapshot()
	// Current process always has a resident set.
	assert.NotZero(t, h.RSSBytes)
	assert.False(t, h.TakenAt.IsZero())
}
