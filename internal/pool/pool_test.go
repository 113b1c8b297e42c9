package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opslens/vdiag/internal/config"
	"github.com/opslens/vdiag/internal/errs"
)

// countingDialer hands out trackable connections.
type countingDialer struct {
	mu     sync.Mutex
	dials  int
	opened []*trackedConn
}

type trackedConn struct {
	mu     sync.Mutex
	closed bool
}

func (c *trackedConn) Ping(context.Context) error { return nil }
func (c *trackedConn) Query(context.Context, string, ...any) (Rows, error) {
	return nil, errs.New(errs.ErrKindQueryFailed, "no result")
}
func (c *trackedConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *trackedConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (d *countingDialer) Dial(context.Context, *config.Profile, config.Candidate) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	conn := &trackedConn{}
	d.opened = append(d.opened, conn)
	return conn, nil
}

func newTestPool(t *testing.T, size int, acquireTimeout time.Duration) (*Pool, *countingDialer) {
	t.Helper()
	dialer := &countingDialer{}
	connector := NewConnector(dialer, config.RetryPolicy{MaxAttempts: 1}, nil, nil)
	p := New(connector, failoverProfile(), size, acquireTimeout, nil)
	t.Cleanup(p.Close)
	return p, dialer
}

func TestAcquireReleaseReuse(t *testing.T) {
	p, dialer := newTestPool(t, 2, time.Second)
	ctx := context.Background()

	pc, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pc.Generation())
	p.Release(pc)

	// The released connection is reused, not redialed.
	pc2, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, pc, pc2)
	assert.Equal(t, 1, dialer.dials)
	p.Release(pc2)
}

func TestAcquireBoundedByPoolSize(t *testing.T) {
	p, dialer := newTestPool(t, 2, 0)
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, dialer.dials)

	// Third acquire waits; a short deadline turns the wait into
	// acquire_timeout with no side effects.
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(shortCtx)
	require.Error(t, err)
	assert.True(t, errs.IsAcquireTimeout(err))
	assert.Equal(t, 2, dialer.dials)

	// A release unblocks the next caller.
	done := make(chan *PooledConn, 1)
	go func() {
		pc, aerr := p.Acquire(ctx)
		require.NoError(t, aerr)
		done <- pc
	}()
	p.Release(a)

	select {
	case pc := <-done:
		p.Release(pc)
	case <-time.After(2 * time.Second):
		t.Fatal("waiting acquire never unblocked")
	}
	p.Release(b)
}

func TestAcquireCancelIsNotAcquireTimeout(t *testing.T) {
	p, dialer := newTestPool(t, 1, time.Minute)

	pc, err := p.Acquire(context.Background())
	require.NoError(t, err)

	// A caller abandoning the wait reports cancellation, not an expired
	// acquire timeout.
	cancelCtx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = p.Acquire(cancelCtx)
	require.Error(t, err)
	assert.False(t, errs.IsAcquireTimeout(err))
	assert.True(t, errs.IsTimeout(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, dialer.dials)

	p.Release(pc)
}

func TestAcquireUsesPoolTimeoutWhenCallerHasNone(t *testing.T) {
	p, _ := newTestPool(t, 1, 50*time.Millisecond)
	ctx := context.Background()

	pc, err := p.Acquire(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errs.IsAcquireTimeout(err))
	assert.Less(t, time.Since(start), time.Second)

	p.Release(pc)
}

func TestDialFailureFreesSlot(t *testing.T) {
	dialer := newScriptDialer()
	dialer.fail("primary", 1, nil)
	dialer.fail("backup1", -1, nil)
	dialer.fail("backup2", -1, nil)

	connector := NewConnector(dialer, config.RetryPolicy{MaxAttempts: 1}, nil, nil)
	p := New(connector, failoverProfile(), 1, time.Second, nil)
	t.Cleanup(p.Close)

	_, err := p.Acquire(context.Background())
	require.Error(t, err)

	// The failed dial released its slot: the next acquire succeeds once
	// the primary recovers.
	pc, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(pc)
}

func TestReleaseAfterSwapClosesStale(t *testing.T) {
	p, dialer := newTestPool(t, 2, time.Second)
	ctx := context.Background()

	leased, err := p.Acquire(ctx)
	require.NoError(t, err)

	idle, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(idle)

	gen, staleLeased := p.swap(failoverProfile(), nil, config.Candidate{})
	assert.Equal(t, uint64(1), gen)
	assert.Equal(t, 1, staleLeased)

	// Old idle connections close at commit time.
	assert.True(t, dialer.opened[1].isClosed())

	// The stale lease keeps working until released, then closes instead
	// of rejoining the idle set.
	assert.Equal(t, uint64(0), leased.Generation())
	p.Release(leased)
	assert.True(t, dialer.opened[0].isClosed())

	// New acquires dial under the new generation.
	pc, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pc.Generation())
	p.Release(pc)
}

func TestSwapDonatesProbeConnection(t *testing.T) {
	p, dialer := newTestPool(t, 2, time.Second)

	probe := &trackedConn{}
	target := config.Candidate{Host: "primary", Port: 5433}
	gen, _ := p.swap(failoverProfile(), probe, target)
	assert.Equal(t, uint64(1), gen)

	// The donated probe is the first connection handed out, no new dial.
	pc, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pc.Generation())
	assert.Equal(t, target, pc.Target())
	assert.Equal(t, 0, dialer.dials)
	p.Release(pc)
}

func TestDiscardClosesConnection(t *testing.T) {
	p, dialer := newTestPool(t, 1, time.Second)

	pc, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Discard(pc)

	assert.True(t, dialer.opened[0].isClosed())

	// The slot is free again and a fresh dial happens.
	pc, err = p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, dialer.dials)
	p.Release(pc)
}

func TestPoolCloseClosesIdle(t *testing.T) {
	dialer := &countingDialer{}
	connector := NewConnector(dialer, config.RetryPolicy{MaxAttempts: 1}, nil, nil)
	p := New(connector, failoverProfile(), 2, time.Second, nil)

	pc, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(pc)

	p.Close()
	assert.True(t, dialer.opened[0].isClosed())

	_, err = p.Acquire(context.Background())
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	p, _ := newTestPool(t, 3, time.Second)

	s := p.Stats()
	assert.Equal(t, Stats{Generation: 0, Size: 3, Idle: 0, Leased: 0}, s)

	pc, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stats().Leased)

	p.Release(pc)
	s = p.Stats()
	assert.Equal(t, 0, s.Leased)
	assert.Equal(t, 1, s.Idle)
}
