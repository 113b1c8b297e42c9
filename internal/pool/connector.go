package pool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/opslens/vdiag/internal/config"
	"github.com/opslens/vdiag/internal/errs"
	"github.com/opslens/vdiag/internal/logger"
)

// ConnectObserver receives one event per physical connection attempt,
// success or failure, so operators can correlate outages. No attempt is
// silent.
type ConnectObserver interface {
	ConnectAttempt(target config.Candidate, attempt int, elapsed time.Duration, err error)
}

// ObserverFunc adapts a function to ConnectObserver.
type ObserverFunc func(target config.Candidate, attempt int, elapsed time.Duration, err error)

func (f ObserverFunc) ConnectAttempt(target config.Candidate, attempt int, elapsed time.Duration, err error) {
	f(target, attempt, elapsed, err)
}

// MultiObserver fans one event out to several sinks (logging plus metrics).
func MultiObserver(observers ...ConnectObserver) ConnectObserver {
	return ObserverFunc(func(target config.Candidate, attempt int, elapsed time.Duration, err error) {
		for _, o := range observers {
			if o != nil {
				o.ConnectAttempt(target, attempt, elapsed, err)
			}
		}
	})
}

// CandidateFailure records the outcome of exhausting one candidate.
type CandidateFailure struct {
	Target   config.Candidate
	Attempts int
	LastErr  error
	Kind     errs.ErrKind
}

// ConnectFailure lists, per candidate in order, the attempt count and the
// last error observed. Callers can distinguish "all hosts unreachable"
// from "authentication rejected everywhere".
type ConnectFailure struct {
	Failures []CandidateFailure
}

func (f *ConnectFailure) Error() string {
	parts := make([]string, len(f.Failures))
	for i, cf := range f.Failures {
		parts[i] = fmt.Sprintf("%s (%d attempts, %s): %v",
			cf.Target, cf.Attempts, cf.Kind, cf.LastErr)
	}
	return "all candidates failed: " + strings.Join(parts, "; ")
}

// AllAuthRejected reports whether every candidate rejected the credentials.
func (f *ConnectFailure) AllAuthRejected() bool {
	for _, cf := range f.Failures {
		if cf.Kind != errs.ErrKindPermissionDenied {
			return false
		}
	}
	return len(f.Failures) > 0
}

// SleepFunc waits for d or until ctx is done. Injectable so tests run
// without real delays.
type SleepFunc func(ctx context.Context, d time.Duration) error

func realSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Connector opens one physical connection by walking the profile's ordered
// candidate list: the primary exhaustively first, then each backup node.
// Backup nodes are for disaster recovery, not load balancing, and
// candidates are never mixed mid-attempt.
type Connector struct {
	dialer   Dialer
	retry    config.RetryPolicy
	sleep    SleepFunc
	observer ConnectObserver
	log      *logger.Logger
}

// NewConnector builds a Connector. observer may be nil.
func NewConnector(dialer Dialer, retry config.RetryPolicy, observer ConnectObserver, log *logger.Logger) *Connector {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	if log == nil {
		log = logger.New(nil)
	}
	return &Connector{
		dialer:   dialer,
		retry:    retry,
		sleep:    realSleep,
		observer: observer,
		log:      log.Component("connector"),
	}
}

// SetSleep replaces the backoff sleep, for deterministic tests.
func (c *Connector) SetSleep(sleep SleepFunc) {
	c.sleep = sleep
}

// Connect tries every candidate in order, each with up to MaxAttempts
// tries and a linear backoff of attempt_index × BackoffBase between tries.
// The first successful try wins; later candidates are never attempted
// after a success. When every candidate exhausts its attempts the
// returned error wraps a *ConnectFailure with per-candidate detail.
func (c *Connector) Connect(ctx context.Context, profile *config.Profile) (Conn, config.Candidate, error) {
	failure := &ConnectFailure{}

	for _, target := range profile.Candidates() {
		conn, attempts, err := c.connectOne(ctx, profile, target)
		if err == nil {
			c.log.With().
				Str("candidate", target.String()).
				Int("attempt", attempts).
				Logger().
				Debug("established connection")
			return conn, target, nil
		}

		failure.Failures = append(failure.Failures, CandidateFailure{
			Target:   target,
			Attempts: attempts,
			LastErr:  err,
			Kind:     classify(err),
		})

		if ctx.Err() != nil {
			break
		}
	}

	c.log.With().Err(failure).Logger().Warn("failed to establish connection on any candidate")
	return nil, config.Candidate{}, errs.Wrap(errs.ErrKindConnectionFailed,
		"no candidate accepted a connection", failure)
}

// connectOne exhausts the retry budget against a single candidate.
func (c *Connector) connectOne(ctx context.Context, profile *config.Profile, target config.Candidate) (Conn, int, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if wait := c.retry.Wait(attempt); wait > 0 {
			if err := c.sleep(ctx, wait); err != nil {
				return nil, attempt - 1, err
			}
		}

		start := time.Now()
		conn, err := c.dialer.Dial(ctx, profile, target)
		elapsed := time.Since(start)

		if c.observer != nil {
			c.observer.ConnectAttempt(target, attempt, elapsed, err)
		}

		if err == nil {
			return conn, attempt, nil
		}

		lastErr = err
		c.log.With().
			Str("candidate", target.String()).
			Int("attempt", attempt).
			Dur("elapsed", elapsed).
			Err(err).
			Logger().
			Debug("connection attempt failed")

		if ctx.Err() != nil {
			return nil, attempt, lastErr
		}
	}

	return nil, c.retry.MaxAttempts, lastErr
}

// classify maps a dial error into the failure taxonomy: auth rejection,
// timeout, or plain unreachability.
func classify(err error) errs.ErrKind {
	if err == nil {
		return errs.ErrKindUnknown
	}
	if kind := errs.KindOf(err); kind != errs.ErrKindUnknown {
		return kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.ErrKindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return errs.ErrKindTimeout
		}
		return errs.ErrKindConnectionFailed
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "authentication") || strings.Contains(msg, "password") ||
		strings.Contains(msg, "invalid username") {
		return errs.ErrKindPermissionDenied
	}
	return errs.ErrKindConnectionFailed
}
