package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opslens/vdiag/internal/config"
	"github.com/opslens/vdiag/internal/errs"
)

// scriptDialer fails each host a configured number of times before
// succeeding, recording every dial in order.
type scriptDialer struct {
	mu       sync.Mutex
	failures map[string]int // remaining failures per host; -1 fails forever
	errFor   map[string]error
	dials    []string
}

func newScriptDialer() *scriptDialer {
	return &scriptDialer{failures: map[string]int{}, errFor: map[string]error{}}
}

func (d *scriptDialer) fail(host string, times int, err error) {
	d.failures[host] = times
	d.errFor[host] = err
}

func (d *scriptDialer) Dial(_ context.Context, _ *config.Profile, target config.Candidate) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials = append(d.dials, target.Host)
	remaining := d.failures[target.Host]
	if remaining != 0 {
		if remaining > 0 {
			d.failures[target.Host] = remaining - 1
		}
		err := d.errFor[target.Host]
		if err == nil {
			err = errors.New("connection refused")
		}
		return nil, err
	}
	return nopConn{}, nil
}

type nopConn struct{}

func (nopConn) Ping(context.Context) error { return nil }
func (nopConn) Query(context.Context, string, ...any) (Rows, error) {
	return nil, errs.New(errs.ErrKindQueryFailed, "no result")
}
func (nopConn) Close() error { return nil }

func failoverProfile() *config.Profile {
	return &config.Profile{
		Host: "primary", Port: 5433,
		User: "svc", Password: "pw", Database: "ops",
		BackupNodes: []config.Candidate{
			{Host: "backup1", Port: 5433},
			{Host: "backup2", Port: 5433},
		},
	}
}

// recordedSleep captures backoff waits instead of sleeping.
func recordedSleep(waits *[]time.Duration) SleepFunc {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestConnectPrimaryFirst(t *testing.T) {
	dialer := newScriptDialer()
	c := NewConnector(dialer, config.RetryPolicy{MaxAttempts: 3}, nil, nil)

	conn, target, err := c.Connect(context.Background(), failoverProfile())
	require.NoError(t, err)
	require.NotNil(t, conn)

	assert.Equal(t, "primary", target.Host)
	assert.Equal(t, []string{"primary"}, dialer.dials, "no backup is tried after a success")
}

func TestConnectExhaustsPrimaryBeforeBackups(t *testing.T) {
	dialer := newScriptDialer()
	dialer.fail("primary", -1, nil)
	dialer.fail("backup1", 1, nil)

	var waits []time.Duration
	c := NewConnector(dialer, config.RetryPolicy{MaxAttempts: 3, BackoffBase: 100 * time.Millisecond}, nil, nil)
	c.SetSleep(recordedSleep(&waits))

	_, target, err := c.Connect(context.Background(), failoverProfile())
	require.NoError(t, err)
	assert.Equal(t, "backup1", target.Host)

	// Primary gets its full retry budget before the first backup is touched.
	assert.Equal(t, []string{"primary", "primary", "primary", "backup1", "backup1"}, dialer.dials)

	// Linear backoff: nothing before attempt 1, then base, then 2x base,
	// per candidate independently.
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond, 200 * time.Millisecond, // primary attempts 2, 3
		100 * time.Millisecond, // backup1 attempt 2
	}, waits)
}

func TestConnectFailureDetail(t *testing.T) {
	dialer := newScriptDialer()
	dialer.fail("primary", -1, errors.New("connection refused"))
	dialer.fail("backup1", -1, errors.New("authentication failed for user svc"))
	dialer.fail("backup2", -1, context.DeadlineExceeded)

	c := NewConnector(dialer, config.RetryPolicy{MaxAttempts: 2}, nil, nil)
	c.SetSleep(func(context.Context, time.Duration) error { return nil })

	_, _, err := c.Connect(context.Background(), failoverProfile())
	require.Error(t, err)
	assert.True(t, errs.IsConnectionFailed(err))

	var failure *ConnectFailure
	require.ErrorAs(t, err, &failure)
	require.Len(t, failure.Failures, 3)

	assert.Equal(t, "primary", failure.Failures[0].Target.Host)
	assert.Equal(t, 2, failure.Failures[0].Attempts)
	assert.Equal(t, errs.ErrKindConnectionFailed, failure.Failures[0].Kind)
	assert.Equal(t, errs.ErrKindPermissionDenied, failure.Failures[1].Kind)
	assert.Equal(t, errs.ErrKindTimeout, failure.Failures[2].Kind)

	assert.False(t, failure.AllAuthRejected())
}

func TestConnectAllAuthRejected(t *testing.T) {
	dialer := newScriptDialer()
	authErr := errors.New("invalid username or password")
	dialer.fail("primary", -1, authErr)
	dialer.fail("backup1", -1, authErr)
	dialer.fail("backup2", -1, authErr)

	c := NewConnector(dialer, config.RetryPolicy{MaxAttempts: 1}, nil, nil)

	_, _, err := c.Connect(context.Background(), failoverProfile())
	require.Error(t, err)

	var failure *ConnectFailure
	require.ErrorAs(t, err, &failure)
	assert.True(t, failure.AllAuthRejected())
}

func TestConnectObserverSeesEveryAttempt(t *testing.T) {
	dialer := newScriptDialer()
	dialer.fail("primary", 2, nil)

	type event struct {
		host    string
		attempt int
		ok      bool
	}
	var events []event
	observer := ObserverFunc(func(target config.Candidate, attempt int, _ time.Duration, err error) {
		events = append(events, event{target.Host, attempt, err == nil})
	})

	c := NewConnector(dialer, config.RetryPolicy{MaxAttempts: 3}, observer, nil)
	c.SetSleep(func(context.Context, time.Duration) error { return nil })

	_, _, err := c.Connect(context.Background(), failoverProfile())
	require.NoError(t, err)

	assert.Equal(t, []event{
		{"primary", 1, false},
		{"primary", 2, false},
		{"primary", 3, true},
	}, events)
}

func TestConnectStopsOnContextCancel(t *testing.T) {
	dialer := newScriptDialer()
	dialer.fail("primary", -1, nil)
	dialer.fail("backup1", -1, nil)
	dialer.fail("backup2", -1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewConnector(dialer, config.RetryPolicy{MaxAttempts: 5, BackoffBase: time.Millisecond}, nil, nil)
	c.SetSleep(func(sctx context.Context, _ time.Duration) error {
		cancel()
		return sctx.Err()
	})

	_, _, err := c.Connect(ctx, failoverProfile())
	require.Error(t, err)

	// The cancel lands during the primary's backoff; backups are not dialed.
	assert.Equal(t, []string{"primary"}, dialer.dials)
}
