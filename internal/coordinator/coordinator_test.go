package coordinator

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/writerlock/internal/clock"
	"github.com/Iron-Ham/writerlock/internal/liveness"
	"github.com/Iron-Ham/writerlock/internal/lockstore"
	"github.com/Iron-Ham/writerlock/internal/meta"
	"github.com/Iron-Ham/writerlock/internal/queue"
)

const (
	host     = "builder"
	mutexPID = 1
	poll     = 5 * time.Second
)

type pids struct {
	mu    sync.Mutex
	alive map[int]bool
}

func (p *pids) IsAlive(h string, pid int) bool {
	if h != host {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive[pid]
}

func (p *pids) kill(pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.alive, pid)
}

func proc(pid int) liveness.Process {
	return liveness.Process{Host: host, PID: pid}
}

type harness struct {
	root   string
	oracle *pids
	clock  *clock.Fake
}

func newHarness(t *testing.T, alive ...int) *harness {
	t.Helper()
	oracle := &pids{alive: map[int]bool{mutexPID: true}}
	for _, pid := range alive {
		oracle.alive[pid] = true
	}
	return &harness{
		root:   t.TempDir(),
		oracle: oracle,
		clock:  clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
	}
}

func (h *harness) queue() *queue.Store {
	return queue.New(h.root, h.oracle,
		queue.WithMutexOwner(proc(mutexPID)),
		queue.WithMutexRetry(time.Millisecond),
		queue.WithMutexTimeout(5*time.Second),
	)
}

func (h *harness) coordinator(pid int, opts ...Option) *Coordinator {
	locks := lockstore.New(h.root, lockstore.WithClock(h.clock))
	opts = append([]Option{WithClock(h.clock)}, opts...)
	return New(locks, h.queue(), proc(pid), opts...)
}

type result struct {
	pid   int
	grant Grant
	err   error
}

func (h *harness) wait(ctx context.Context, pid int, results chan<- result, opts ...Option) {
	c := h.coordinator(pid, opts...)
	go func() {
		g, err := c.AcquireWait(ctx, poll)
		results <- result{pid: pid, grant: g, err: err}
	}()
}

func receive(t *testing.T, results <-chan result) result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for AcquireWait to return")
		return result{}
	}
}

func assertPending(t *testing.T, results <-chan result) {
	t.Helper()
	select {
	case r := <-results:
		t.Fatalf("AcquireWait returned unexpectedly: pid=%d err=%v", r.pid, r.err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAcquire(t *testing.T) {
	h := newHarness(t, 10, 20)
	ctx := context.Background()

	first := h.coordinator(10)
	g, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, g.Token)
	require.NotNil(t, g.Record)
	assert.Equal(t, proc(10), g.Record.Holder())
	assert.Zero(t, g.Ticket)

	_, err = h.coordinator(20).Acquire(ctx)
	require.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "pid 10 on builder")

	_, err = first.Release(ctx, g.Token, false)
	require.NoError(t, err)

	_, err = h.coordinator(20).Acquire(ctx)
	assert.NoError(t, err)
}

func TestAcquire_ConcurrentGrantsExactlyOne(t *testing.T) {
	h := newHarness(t)
	var granted, refused atomic.Int32

	var wg conc.WaitGroup
	for i := 0; i < 10; i++ {
		c := h.coordinator(100 + i)
		wg.Go(func() {
			_, err := c.Acquire(context.Background())
			switch {
			case err == nil:
				granted.Add(1)
			case errors.Is(err, ErrLocked):
				refused.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), granted.Load())
	assert.Equal(t, int32(9), refused.Load())
}

func TestRelease_Token(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	c := h.coordinator(10)

	g, err := c.Acquire(ctx)
	require.NoError(t, err)

	_, err = c.Release(ctx, "", false)
	require.ErrorIs(t, err, lockstore.ErrTokenRequired)
	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Locked(), "token-less release must keep the lock")

	removed, err := c.Release(ctx, g.Token, false)
	require.NoError(t, err)
	assert.Equal(t, proc(10), removed.Holder())

	st, err = c.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Locked())

	_, err = c.Release(ctx, g.Token, false)
	assert.ErrorIs(t, err, lockstore.ErrNotLocked, "second release with the same token must fail")
}

func TestAcquireWait_FIFO(t *testing.T) {
	h := newHarness(t, 10, 11, 12, 13)
	ctx := context.Background()
	results := make(chan result, 3)

	holder := h.coordinator(10)
	g, err := holder.Acquire(ctx)
	require.NoError(t, err)

	var progress bytes.Buffer
	for i, pid := range []int{11, 12, 13} {
		opts := []Option{}
		if pid == 11 {
			opts = append(opts, WithProgress(&progress))
		}
		h.wait(ctx, pid, results, opts...)
		h.clock.BlockUntil(i + 1)
	}
	assert.Equal(t, "Joined writer queue as ticket 1\n", progress.String())

	// Nobody is granted while the lock is held.
	h.clock.Advance(poll)
	h.clock.BlockUntil(3)
	assertPending(t, results)

	token := g.Token
	release := h.coordinator(10)
	var order []int
	for remaining := 3; remaining > 0; remaining-- {
		_, err := release.Release(ctx, token, false)
		require.NoError(t, err)

		h.clock.Advance(poll)
		r := receive(t, results)
		require.NoError(t, r.err)
		order = append(order, r.pid)
		token = r.grant.Token
		assert.Equal(t, int64(len(order)), r.grant.Ticket)
		assert.Equal(t, poll*time.Duration(len(order)+1), r.grant.Waited)

		if remaining > 1 {
			h.clock.BlockUntil(remaining - 1)
		}
	}

	assert.Equal(t, []int{11, 12, 13}, order)

	depth, err := h.queue().Depth()
	require.NoError(t, err)
	assert.Zero(t, depth, "granted waiters leave the queue")
}

func TestAcquireWait_LoneOrphanNeverAcquires(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	results := make(chan result, 1)

	// pid 99 is not alive: the waiter's responsible process has exited.
	h.wait(ctx, 99, results)

	for i := 0; i < 3; i++ {
		h.clock.BlockUntil(1)
		h.clock.Advance(poll)
	}
	h.clock.BlockUntil(1)
	assertPending(t, results)

	st, err := h.coordinator(10).Status(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Locked(), "an orphaned waiter must leave the lock free")
	assert.Equal(t, 1, st.Depth())

	cancel()
	r := receive(t, results)
	assert.ErrorIs(t, r.err, context.Canceled)
}

func TestAcquireWait_OrphanedHeadDoesNotDelayNextWaiter(t *testing.T) {
	h := newHarness(t, 20)
	ctx := context.Background()
	results := make(chan result, 1)

	// A waiter that crashed after joining.
	dead, err := h.queue().Join(ctx, proc(99))
	require.NoError(t, err)
	require.Equal(t, int64(1), dead.Ticket)

	h.wait(ctx, 20, results)
	h.clock.BlockUntil(1)
	h.clock.Advance(poll)

	r := receive(t, results)
	require.NoError(t, r.err)
	assert.Equal(t, int64(2), r.grant.Ticket)
	assert.Equal(t, poll, r.grant.Waited, "granted in the first poll cycle")

	_, err = os.Stat(filepath.Join(h.queue().EntriesDir(), "1"))
	assert.True(t, os.IsNotExist(err), "orphaned head is pruned")
}

func TestAcquireWait_DeadWaiterAheadIsSkipped(t *testing.T) {
	h := newHarness(t, 10, 11, 12)
	ctx := context.Background()
	results := make(chan result, 2)

	holder := h.coordinator(10)
	g, err := holder.Acquire(ctx)
	require.NoError(t, err)

	h.wait(ctx, 11, results)
	h.clock.BlockUntil(1)
	h.wait(ctx, 12, results)
	h.clock.BlockUntil(2)

	// The waiter for ticket 1 reports a pid that dies while it waits.
	h.oracle.kill(11)

	_, err = holder.Release(ctx, g.Token, false)
	require.NoError(t, err)
	h.clock.Advance(poll)

	// Ticket 1's waiter never attempts; once ticket 2 prunes it, the waiter
	// learns it was withdrawn. Keep the clock moving until both finish.
	got := make(map[int]result)
	for i := 0; len(got) < 2 && i < 200; i++ {
		select {
		case r := <-results:
			got[r.pid] = r
		case <-time.After(10 * time.Millisecond):
			h.clock.Advance(poll)
		}
	}
	require.Len(t, got, 2)

	require.NoError(t, got[12].err)
	assert.Equal(t, int64(2), got[12].grant.Ticket)
	assert.ErrorIs(t, got[11].err, ErrTicketWithdrawn)

	st, err := holder.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, proc(12), st.Lock.Holder())
}

func TestAcquireWait_Cancel(t *testing.T) {
	h := newHarness(t, 10, 11)
	ctx := context.Background()
	results := make(chan result, 1)

	holder := h.coordinator(10)
	_, err := holder.Acquire(ctx)
	require.NoError(t, err)

	h.wait(ctx, 11, results)
	h.clock.BlockUntil(1)

	canceled, err := holder.Cancel(ctx, 1)
	require.NoError(t, err)
	assert.True(t, canceled)

	h.clock.Advance(poll)
	r := receive(t, results)
	require.ErrorIs(t, r.err, ErrTicketWithdrawn)
	assert.Contains(t, r.err.Error(), "ticket 1")

	canceled, err = holder.Cancel(ctx, 1)
	require.NoError(t, err)
	assert.False(t, canceled)

	_, err = holder.Cancel(ctx, 0)
	assert.Error(t, err)
}

func TestAcquireWait_ContextCanceledLeavesQueue(t *testing.T) {
	h := newHarness(t, 10, 11)
	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan result, 1)

	_, err := h.coordinator(10).Acquire(context.Background())
	require.NoError(t, err)

	h.wait(ctx, 11, results)
	h.clock.BlockUntil(1)
	cancel()

	r := receive(t, results)
	require.ErrorIs(t, r.err, context.Canceled)

	depth, err := h.queue().Depth()
	require.NoError(t, err)
	assert.Zero(t, depth)
}

type chanWaker chan struct{}

func (w chanWaker) Wake() <-chan struct{} { return w }

func TestAcquireWait_WakerShortensPoll(t *testing.T) {
	h := newHarness(t, 10, 11)
	ctx := context.Background()
	results := make(chan result, 1)
	waker := make(chanWaker, 1)

	holder := h.coordinator(10)
	g, err := holder.Acquire(ctx)
	require.NoError(t, err)

	h.wait(ctx, 11, results, WithWaker(waker))
	h.clock.BlockUntil(1)

	_, err = holder.Release(ctx, g.Token, false)
	require.NoError(t, err)
	waker <- struct{}{}

	r := receive(t, results)
	require.NoError(t, r.err)
	assert.Zero(t, r.grant.Waited, "granted without the clock advancing")
}

func TestAcquireWait_CorruptLockTreatedAsHeld(t *testing.T) {
	h := newHarness(t, 11)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	results := make(chan result, 1)

	locks := lockstore.New(h.root)
	require.NoError(t, meta.Publish(locks.Dir(), []byte("garbage\n")))

	h.wait(ctx, 11, results)
	h.clock.BlockUntil(1)
	h.clock.Advance(poll)
	h.clock.BlockUntil(1)
	assertPending(t, results)

	_, err := locks.Release("", true)
	require.NoError(t, err)
	h.clock.Advance(poll)

	r := receive(t, results)
	assert.NoError(t, r.err)
}

func TestAcquireWait_GrantCarriesPublishedRecord(t *testing.T) {
	h := newHarness(t, 11)
	results := make(chan result, 1)

	h.wait(context.Background(), 11, results)
	h.clock.BlockUntil(1)
	h.clock.Advance(poll)

	r := receive(t, results)
	require.NoError(t, r.err)
	require.NotNil(t, r.grant.Record)
	assert.Equal(t, r.grant.Token, r.grant.Record.Token)
	assert.Equal(t, proc(11), r.grant.Record.Holder())
	assert.Equal(t, h.clock.Now().UTC(), r.grant.Record.AcquiredAt)

	// The grant stays usable even if the record becomes unreadable later.
	locks := lockstore.New(h.root)
	require.NoError(t, os.WriteFile(filepath.Join(locks.Dir(), meta.FileName), []byte("garbage\n"), 0644))
	assert.Equal(t, r.grant.Token, r.grant.Record.Token)
	_, err := locks.Release(r.grant.Token, false)
	assert.ErrorIs(t, err, lockstore.ErrCorruptRecord)
}

func TestStatus(t *testing.T) {
	h := newHarness(t, 10, 11)
	ctx := context.Background()
	c := h.coordinator(10)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Locked())
	assert.Zero(t, st.Depth())

	_, err = c.Acquire(ctx)
	require.NoError(t, err)
	_, err = h.queue().Join(ctx, proc(11))
	require.NoError(t, err)

	st, err = c.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Locked())
	assert.Equal(t, proc(10), st.Lock.Holder())
	assert.Equal(t, 1, st.Depth())
	assert.NoError(t, st.QueueErr)
}

func TestStatus_CorruptLock(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, meta.Publish(lockstore.New(h.root).Dir(), []byte("x\n")))

	st, err := h.coordinator(10).Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Locked())
	assert.Nil(t, st.Lock)
	assert.ErrorIs(t, st.LockErr, lockstore.ErrCorruptRecord)
}

func TestStatus_FastWhileMutexHeld(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	_, err := h.queue().Join(ctx, proc(10))
	require.NoError(t, err)

	// A live holder on another host keeps the mutex indefinitely.
	mutexRecord := meta.Encode(
		meta.String("host", "elsewhere"),
		meta.Int("pid", 4242),
		meta.Time("acquired_at", time.Now()),
	)
	require.NoError(t, meta.Publish(filepath.Join(h.queue().Dir(), queue.MutexName), mutexRecord))

	start := time.Now()
	st, err := h.coordinator(10).Status(ctx)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 1, st.Depth())
	assert.Less(t, elapsed, time.Second, "status must not wait for the queue mutex")
}

func TestPrune(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	q := h.queue()

	_, err := q.Join(ctx, proc(10))
	require.NoError(t, err)
	_, err = q.Join(ctx, proc(99))
	require.NoError(t, err)

	pruned, err := h.coordinator(10).Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, pruned)
}
