package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ajitpratap0/interlink/pkg/connector/core"
	"github.com/ajitpratap0/interlink/pkg/debatch"
	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ordersPayload = "id\x1fname\n1\x1falpha\n2\x1fbeta\n"

// fileSource returns a reader that serves payload as one batch and counts commits and aborts.
func fileSource(payload string, commits, aborts *int32) *fakeAdapter {
	return &fakeAdapter{
		readFn: func(context.Context, string) ([]*core.Batch, error) {
			return []*core.Batch{{
				Locator: "orders.csv",
				Raw:     []byte(payload),
				Options: debatch.DefaultOptions(),
				Commit: func(context.Context) error {
					atomic.AddInt32(commits, 1)
					return nil
				},
				Abort: func(_ context.Context, cause error) error {
					atomic.AddInt32(aborts, 1)
					return nil
				},
			}}, nil
		},
	}
}

func TestTickStagesAndCommits(t *testing.T) {
	h := newHarness(t, 3)
	var commits, aborts int32
	src := h.addInstance(models.RoleSource, "orders", fileSource(ordersPayload, &commits, &aborts))
	h.subscribe("orders", h.addInstance(models.RoleDestination, "orders", &fakeAdapter{}))

	require.NoError(t, h.scheduler.Tick(context.Background()))

	assert.EqualValues(t, 1, commits)
	assert.EqualValues(t, 0, aborts)
	assert.EqualValues(t, 2, h.stats(t).Pending)

	entry := h.cursor.Get(src.InstanceID)
	assert.False(t, entry.Polling)
	assert.False(t, entry.LastSuccessAt.IsZero())
	assert.Equal(t, debatch.Hash([]byte(ordersPayload)), entry.LastHash)
}

func TestTickRespectsPollingInterval(t *testing.T) {
	h := newHarness(t, 3)
	var commits, aborts int32
	reader := fileSource(ordersPayload, &commits, &aborts)
	h.addInstance(models.RoleSource, "orders", reader)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	h.scheduler.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, h.scheduler.Tick(ctx))
	require.NoError(t, h.scheduler.Tick(ctx))
	assert.Equal(t, 1, reader.readCount(), "second tick is inside the file interval")

	now = now.Add(11 * time.Second)
	require.NoError(t, h.scheduler.Tick(ctx))
	assert.Equal(t, 2, reader.readCount())

	// The unchanged payload is not staged twice but is still committed.
	assert.EqualValues(t, 2, h.stats(t).Pending)
	assert.EqualValues(t, 2, commits)
}

func TestPollOnceIgnoresInterval(t *testing.T) {
	h := newHarness(t, 3)
	var commits, aborts int32
	src := h.addInstance(models.RoleSource, "orders", fileSource(ordersPayload, &commits, &aborts))
	ctx := context.Background()

	n, err := h.scheduler.PollOnce(ctx, src.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = h.scheduler.PollOnce(ctx, src.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "unchanged payload")
}

func TestPollOnceRejectsDestinations(t *testing.T) {
	h := newHarness(t, 3)
	dst := h.addInstance(models.RoleDestination, "orders", &fakeAdapter{})

	_, err := h.scheduler.PollOnce(context.Background(), dst.InstanceID)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestPollOnceRejectsPollInFlight(t *testing.T) {
	h := newHarness(t, 3)
	started := make(chan struct{})
	release := make(chan struct{})
	src := h.addInstance(models.RoleSource, "orders", &fakeAdapter{
		readFn: func(ctx context.Context, _ string) ([]*core.Batch, error) {
			close(started)
			<-release
			return nil, nil
		},
	})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.scheduler.PollOnce(ctx, src.InstanceID)
		done <- err
	}()
	<-started

	_, err := h.scheduler.PollOnce(ctx, src.InstanceID)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	// A tick skips the instance instead of waiting for it.
	require.NoError(t, h.scheduler.Tick(ctx))

	close(release)
	require.NoError(t, <-done)
	assert.False(t, h.cursor.Get(src.InstanceID).Polling)
}

func TestMalformedBatchAbortsOnlyThatInstance(t *testing.T) {
	h := newHarness(t, 3)
	var badCommits, aborts, goodCommits, unused int32
	var abortCause error
	bad := &fakeAdapter{
		readFn: func(context.Context, string) ([]*core.Batch, error) {
			return []*core.Batch{
				{
					Locator: "broken.csv",
					Raw:     []byte("id\x1fname\n1\n"),
					Options: debatch.DefaultOptions(),
					Commit: func(context.Context) error {
						atomic.AddInt32(&badCommits, 1)
						return nil
					},
					Abort: func(_ context.Context, cause error) error {
						abortCause = cause
						atomic.AddInt32(&aborts, 1)
						return nil
					},
				},
				{
					Locator: "later.csv",
					Raw:     []byte(ordersPayload),
					Options: debatch.DefaultOptions(),
					Commit: func(context.Context) error {
						atomic.AddInt32(&badCommits, 1)
						return nil
					},
				},
			}, nil
		},
	}
	badInst := h.addInstance(models.RoleSource, "orders", bad)
	h.addInstance(models.RoleSource, "invoices", fileSource(ordersPayload, &goodCommits, &unused))

	require.NoError(t, h.scheduler.Tick(context.Background()))

	assert.EqualValues(t, 1, aborts)
	assert.EqualValues(t, 0, badCommits, "the rest of the failing instance's tick is abandoned")
	assert.True(t, errors.IsType(abortCause, errors.ErrorTypeMalformedPayload))
	assert.EqualValues(t, 1, goodCommits)
	assert.EqualValues(t, 2, h.stats(t).Pending, "only the healthy source staged records")

	entry := h.cursor.Get(badInst.InstanceID)
	assert.False(t, entry.Polling)
	assert.Equal(t, 1, entry.ConsecutiveFailures)
}

func TestReadErrorDoesNotBlockOtherSources(t *testing.T) {
	h := newHarness(t, 3)
	var commits, aborts int32
	failing := h.addInstance(models.RoleSource, "orders", &fakeAdapter{
		readFn: func(context.Context, string) ([]*core.Batch, error) {
			return nil, errors.New(errors.ErrorTypeConnectivity, "host unreachable")
		},
	})
	h.addInstance(models.RoleSource, "invoices", fileSource(ordersPayload, &commits, &aborts))

	require.NoError(t, h.scheduler.Tick(context.Background()))

	assert.EqualValues(t, 1, commits)
	assert.Equal(t, 1, h.cursor.Get(failing.InstanceID).ConsecutiveFailures)
}

func TestResultSetBatch(t *testing.T) {
	h := newHarness(t, 3)
	committed := false
	src := h.addInstance(models.RoleSource, "orders", &fakeAdapter{
		readFn: func(context.Context, string) ([]*core.Batch, error) {
			return []*core.Batch{{
				Locator: "orders",
				Columns: []string{"id", "customer"},
				Rows:    [][]any{{"1", "acme"}, {"2", nil}},
				Commit: func(context.Context) error {
					committed = true
					return nil
				},
			}}, nil
		},
	})
	dst := h.addInstance(models.RoleDestination, "orders", &fakeAdapter{})
	h.subscribe("orders", dst)
	ctx := context.Background()

	n, err := h.scheduler.PollOnce(ctx, src.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, committed)

	msgs, err := h.store.ClaimBatch(ctx, dst.InstanceID, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	r, err := msgs[1].Record()
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "customer"}, r.Columns)
	v, ok := r.Get("customer")
	assert.True(t, ok)
	assert.Equal(t, "", v)
}

func TestTickSkipsDisabledInstances(t *testing.T) {
	h := newHarness(t, 3)
	var commits, aborts int32
	reader := fileSource(ordersPayload, &commits, &aborts)
	inst := h.addInstance(models.RoleSource, "orders", reader)
	inst.IsEnabled = false

	require.NoError(t, h.scheduler.Tick(context.Background()))
	assert.Equal(t, 0, reader.readCount())
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, 3)
	var commits, aborts int32
	h.addInstance(models.RoleSource, "orders", fileSource(ordersPayload, &commits, &aborts))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.scheduler.Run(ctx) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&commits) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
