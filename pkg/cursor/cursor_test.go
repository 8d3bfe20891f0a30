package cursor

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryBeginPollGuards(t *testing.T) {
	c := New()
	id := uuid.New()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	ok, reason := c.TryBeginPoll(id, t0, 10*time.Second)
	require.True(t, ok)
	assert.Equal(t, SkipNone, reason)

	ok, reason = c.TryBeginPoll(id, t0.Add(time.Minute), 10*time.Second)
	assert.False(t, ok)
	assert.Equal(t, SkipInFlight, reason)

	c.EndPoll(id, t0.Add(2*time.Second), true)

	ok, reason = c.TryBeginPoll(id, t0.Add(5*time.Second), 10*time.Second)
	assert.False(t, ok)
	assert.Equal(t, SkipInterval, reason)

	ok, _ = c.TryBeginPoll(id, t0.Add(10*time.Second), 10*time.Second)
	assert.True(t, ok)
}

func TestBeginPollIgnoresIntervalOnly(t *testing.T) {
	c := New()
	id := uuid.New()
	now := time.Now()

	ok, _ := c.BeginPoll(id, now)
	require.True(t, ok)
	ok, reason := c.BeginPoll(id, now)
	assert.False(t, ok)
	assert.Equal(t, SkipInFlight, reason)

	c.EndPoll(id, now, false)
	ok, _ = c.BeginPoll(id, now)
	assert.True(t, ok)
	assert.Equal(t, 1, c.Get(id).ConsecutiveFailures)
}

func TestDoKeepsChanges(t *testing.T) {
	c := New()
	id := uuid.New()

	require.NoError(t, c.Do(id, func(e *Entry) error {
		e.LastHash = "abc"
		return nil
	}))
	assert.Equal(t, "abc", c.LastHash(id))

	boom := errors.New("boom")
	assert.ErrorIs(t, c.Do(id, func(e *Entry) error { return boom }), boom)
}

func TestConcurrentBeginPollAdmitsOne(t *testing.T) {
	c := New()
	id := uuid.New()
	now := time.Now()

	var started int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := c.TryBeginPoll(id, now, time.Second); ok {
				atomic.AddInt32(&started, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), started)
	assert.True(t, c.Snapshot()[id].Polling)
}
