package guard

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestGuard(cfg Config) (*Guard, *ManualClock) {
	clock := NewManualClock(t0)
	return New(cfg, WithClock(clock)), clock
}

func TestFirstContactStartsCountersAtOne(t *testing.T) {
	g, _ := newTestGuard(DefaultConfig())

	assert.False(t, g.TooFrequent("U1", t0))
	assert.Equal(t, WarnNone, g.RecordAndCheck("U1", t0, true))

	act, ok := g.Snapshot("U1")
	require.True(t, ok)
	assert.Equal(t, 1, act.Messages)
	assert.Equal(t, 1, act.Images)
	assert.Equal(t, t0, act.LastMessageTime)
	assert.True(t, act.BlockedUntil.IsZero())
}

func TestIsBlockedDoesNotCreateRecord(t *testing.T) {
	g, _ := newTestGuard(DefaultConfig())

	assert.False(t, g.IsBlocked("nobody", t0))
	_, ok := g.Snapshot("nobody")
	assert.False(t, ok)
	assert.Equal(t, 0, g.Users())
}

func TestTooFrequentWithinMinInterval(t *testing.T) {
	g, _ := newTestGuard(DefaultConfig())

	require.False(t, g.TooFrequent("U1", t0))
	assert.True(t, g.TooFrequent("U1", t0.Add(4*time.Second)))

	act, _ := g.Snapshot("U1")
	assert.Equal(t, t0, act.LastMessageTime, "rejected call must not move the timestamp")

	assert.False(t, g.TooFrequent("U1", t0.Add(5*time.Second)), "exactly MinInterval later is allowed")
}

func TestThrottledMessagesAreNotCounted(t *testing.T) {
	g, clock := newTestGuard(DefaultConfig())

	require.Equal(t, Accepted, g.Check("U1", false).Outcome)
	clock.Advance(time.Second)
	require.Equal(t, Throttled, g.Check("U1", false).Outcome)
	clock.Advance(time.Second)
	require.Equal(t, Throttled, g.Check("U1", true).Outcome)

	act, _ := g.Snapshot("U1")
	assert.Equal(t, 1, act.Messages)
	assert.Equal(t, 0, act.Images)
}

func TestMessageCeilingBlocksUser(t *testing.T) {
	cfg := DefaultConfig()
	g, _ := newTestGuard(cfg)

	now := t0
	for i := range cfg.MaxMessagesPerMinute {
		require.Equal(t, WarnNone, g.RecordAndCheck("U1", now, false), "message %d", i+1)
		now = now.Add(100 * time.Millisecond)
	}
	assert.Equal(t, WarnTooManyMessages, g.RecordAndCheck("U1", now, false))

	assert.True(t, g.IsBlocked("U1", now))
	assert.True(t, g.IsBlocked("U1", now.Add(cfg.BlockDuration-time.Nanosecond)))
	assert.False(t, g.IsBlocked("U1", now.Add(cfg.BlockDuration)), "block ends exactly at blocked_until")
	assert.False(t, g.IsBlocked("U2", now), "other users are unaffected")
}

func TestImageCeilingBlocksUser(t *testing.T) {
	cfg := DefaultConfig()
	g, clock := newTestGuard(cfg)

	for i := range cfg.MaxImagesPerMinute {
		d := g.Check("U1", true)
		require.Equal(t, Accepted, d.Outcome, "image %d", i+1)
		clock.Advance(cfg.MinInterval)
	}

	d := g.Check("U1", true)
	assert.Equal(t, Warned, d.Outcome)
	assert.Equal(t, WarnTooManyImages, d.Warning)

	clock.Advance(cfg.MinInterval)
	assert.Equal(t, Blocked, g.Check("U1", false).Outcome)
}

func TestMessageCeilingShortCircuitsImageCheck(t *testing.T) {
	cfg := DefaultConfig()
	g, _ := newTestGuard(cfg)

	now := t0
	for range cfg.MaxMessagesPerMinute {
		g.RecordAndCheck("U1", now, false)
		now = now.Add(time.Second)
	}

	assert.Equal(t, WarnTooManyMessages, g.RecordAndCheck("U1", now, true))
	act, _ := g.Snapshot("U1")
	assert.Equal(t, 0, act.Images, "image window must not be touched")
}

func TestSlidingWindowEviction(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("entry older than window is evicted", func(t *testing.T) {
		g, _ := newTestGuard(cfg)
		require.Equal(t, WarnNone, g.RecordAndCheck("U1", t0, false))

		now := t0.Add(61 * time.Second)
		for i := range cfg.MaxMessagesPerMinute {
			require.Equal(t, WarnNone, g.RecordAndCheck("U1", now, false), "message %d", i+1)
			now = now.Add(100 * time.Millisecond)
		}
		assert.False(t, g.IsBlocked("U1", now))
	})

	t.Run("entry exactly window old is kept", func(t *testing.T) {
		g, _ := newTestGuard(cfg)
		require.Equal(t, WarnNone, g.RecordAndCheck("U1", t0, false))

		now := t0.Add(cfg.Window)
		var last Warning
		for range cfg.MaxMessagesPerMinute {
			last = g.RecordAndCheck("U1", now, false)
		}
		assert.Equal(t, WarnTooManyMessages, last)
	})
}

func TestBlockOverwritePolicy(t *testing.T) {
	t.Run("last write wins by default", func(t *testing.T) {
		g, _ := newTestGuard(DefaultConfig())
		g.Block("U1", t0, 30*time.Minute)
		g.Block("U1", t0, time.Minute)

		assert.False(t, g.IsBlocked("U1", t0.Add(2*time.Minute)))
	})

	t.Run("extend only keeps the later expiry", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ExtendOnly = true
		g, _ := newTestGuard(cfg)
		g.Block("U1", t0, 30*time.Minute)
		g.Block("U1", t0, time.Minute)

		assert.True(t, g.IsBlocked("U1", t0.Add(2*time.Minute)))
		act, _ := g.Snapshot("U1")
		assert.Equal(t, t0.Add(30*time.Minute), act.BlockedUntil)
	})
}

func TestBurstScenarioBlocksThenDropsSilently(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinInterval = 500 * time.Millisecond
	g, clock := newTestGuard(cfg)

	var decisions []Decision
	for range 16 {
		decisions = append(decisions, g.Check("U1", false))
		clock.Advance(600 * time.Millisecond)
	}

	for i, d := range decisions[:15] {
		assert.Equal(t, Accepted, d.Outcome, "message %d", i+1)
	}
	assert.Equal(t, Decision{Outcome: Warned, Warning: WarnTooManyMessages}, decisions[15])

	assert.Equal(t, Blocked, g.Check("U1", false).Outcome, "message 17 is dropped")
	assert.Equal(t, Accepted, g.Check("U2", false).Outcome)

	clock.Advance(cfg.BlockDuration)
	assert.Equal(t, Accepted, g.Check("U1", false).Outcome)
}

func TestEmptyUserIDIsOrdinaryBucket(t *testing.T) {
	g, _ := newTestGuard(DefaultConfig())

	assert.Equal(t, Accepted, g.Check("", false).Outcome)
	assert.Equal(t, Throttled, g.Check("", false).Outcome)
	assert.Equal(t, Accepted, g.Check("U1", false).Outcome)
}

func TestWindowDropsOldestAtCapacity(t *testing.T) {
	var w window
	for i := range windowCapacity + 5 {
		w.push(t0.Add(time.Duration(i) * time.Millisecond))
	}
	assert.Equal(t, windowCapacity, w.len())
	assert.Equal(t, t0.Add(5*time.Millisecond), w.buf[w.head])

	w.evict(t0.Add(time.Hour), time.Minute)
	assert.Equal(t, 0, w.len())
}

func TestGuardConcurrentUsers(t *testing.T) {
	cfg := DefaultConfig()
	g, _ := newTestGuard(cfg)

	const users = 20
	warnings := make([]int, users)
	var wg sync.WaitGroup
	for i := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			userID := fmt.Sprintf("user-%d", i)
			for range cfg.MaxMessagesPerMinute + 1 {
				if g.RecordAndCheck(userID, t0, false) != WarnNone {
					warnings[i]++
				}
			}
		}()
	}
	wg.Wait()

	for i, n := range warnings {
		assert.Equal(t, 1, n, "user-%d should be warned exactly once", i)
		assert.True(t, g.IsBlocked(fmt.Sprintf("user-%d", i), t0))
	}
}

func TestGuardConcurrentSameUser(t *testing.T) {
	t.Run("no lost updates under the ceiling", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxMessagesPerMinute = 50
		g, _ := newTestGuard(cfg)

		const calls = 40
		var accepted atomic.Int32
		var wg sync.WaitGroup
		for range calls {
			wg.Go(func() {
				assert.False(t, g.IsBlocked("U1", t0))
				if !g.TooFrequent("U1", t0) {
					accepted.Add(1)
				}
				assert.Equal(t, WarnNone, g.RecordAndCheck("U1", t0, false))
			})
		}
		wg.Wait()

		assert.Equal(t, int32(1), accepted.Load(), "only the first call passes the interval gate")
		act, ok := g.Snapshot("U1")
		require.True(t, ok)
		assert.Equal(t, calls, act.Messages)
		assert.Equal(t, t0, act.LastMessageTime)
		assert.True(t, act.BlockedUntil.IsZero())
		assert.Equal(t, 1, g.Users())
	})

	t.Run("every call over the ceiling warns and blocks", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxMessagesPerMinute = 10
		g, _ := newTestGuard(cfg)

		const calls = 40
		var warned atomic.Int32
		var wg sync.WaitGroup
		for range calls {
			wg.Go(func() {
				if g.RecordAndCheck("U1", t0, false) == WarnTooManyMessages {
					warned.Add(1)
				}
			})
		}
		wg.Wait()

		assert.Equal(t, int32(calls-cfg.MaxMessagesPerMinute), warned.Load())
		act, ok := g.Snapshot("U1")
		require.True(t, ok)
		assert.Equal(t, calls, act.Messages)
		assert.Equal(t, t0.Add(cfg.BlockDuration), act.BlockedUntil)
		assert.True(t, g.IsBlocked("U1", t0))
	})
}
