package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opslens/vdiag/internal/config"
	"github.com/opslens/vdiag/internal/errs"
	"github.com/opslens/vdiag/internal/logger"
)

// Pool owns a bounded set of live connections built via the Connector
// against the current profile. Connections are tagged with the profile
// generation that created them; a reconfiguration bumps the generation,
// closes idle connections immediately, and lets leased ones drain out on
// their next release.
//
// The pool and the gate are the only shared mutable state in the service;
// both are safe for concurrent use.
type Pool struct {
	connector      *Connector
	size           int
	acquireTimeout time.Duration
	log            *logger.Logger

	// slots bounds simultaneously leased (or dialing) connections.
	// Sending acquires a slot, receiving frees one.
	slots chan struct{}

	mu         sync.Mutex
	profile    *config.Profile
	generation uint64
	idle       []*PooledConn
	leased     int
	closed     bool
}

// Stats is a point-in-time snapshot for diagnostics and metrics.
type Stats struct {
	Generation uint64 `json:"generation"`
	Size       int    `json:"size"`
	Idle       int    `json:"idle"`
	Leased     int    `json:"leased"`
}

// New creates a pool at generation zero for the given profile. No
// connections are opened until the first Acquire.
func New(connector *Connector, profile *config.Profile, size int, acquireTimeout time.Duration, log *logger.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = logger.New(nil)
	}
	return &Pool{
		connector:      connector,
		size:           size,
		acquireTimeout: acquireTimeout,
		log:            log.Component("pool"),
		slots:          make(chan struct{}, size),
		profile:        profile.Clone(),
	}
}

// Generation returns the current profile generation.
func (p *Pool) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// CurrentProfile returns a copy of the active profile snapshot.
func (p *Pool) CurrentProfile() *config.Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.profile.Clone()
}

// Stats returns current pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Generation: p.generation,
		Size:       p.size,
		Idle:       len(p.idle),
		Leased:     p.leased,
	}
}

// Acquire leases a connection of the current generation, dialing a new one
// through the Connector when the idle set is empty and the pool is under
// capacity. It blocks until a connection is available or the caller's
// deadline (or the pool-wide acquire timeout) elapses; expiry returns an
// acquire_timeout error with no side effects.
//
// Connect failures are surfaced with full per-candidate context and are
// never cached; the next Acquire retries independently, so transient
// network issues self-heal.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	if p.acquireTimeout > 0 {
		if _, has := ctx.Deadline(); !has {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
			defer cancel()
		}
	}

	// Take a lease slot, waiting for a Release if the pool is saturated.
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		// acquire_timeout means the wait expired; a caller abandoning the
		// request is a plain timeout kind.
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, errs.Wrap(errs.ErrKindTimeout,
				"canceled while waiting for a pooled connection", ctx.Err())
		}
		return nil, errs.Wrap(errs.ErrKindAcquireTimeout,
			"timed out waiting for a pooled connection", ctx.Err())
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return nil, errs.New(errs.ErrKindConnectionFailed, "pool is closed")
	}

	// Idle connections always belong to the current generation: the gate
	// closes stale ones at swap time.
	if n := len(p.idle); n > 0 {
		pc := p.idle[n-1]
		p.idle = p.idle[:n-1]
		pc.state = StateLeased
		p.leased++
		p.mu.Unlock()
		return pc, nil
	}

	profile := p.profile
	generation := p.generation
	p.mu.Unlock()

	conn, target, err := p.connector.Connect(ctx, profile)
	if err != nil {
		<-p.slots
		return nil, err
	}

	pc := &PooledConn{
		conn:       conn,
		generation: generation,
		target:     target,
		createdAt:  time.Now(),
		state:      StateLeased,
	}

	p.mu.Lock()
	p.leased++
	p.mu.Unlock()
	return pc, nil
}

// Release returns a leased connection. A connection whose generation still
// matches goes back to the idle set; a stale or invalid one is closed and
// discarded. This is how old generations drain out after a
// reconfiguration without interrupting in-flight work.
func (p *Pool) Release(pc *PooledConn) {
	if pc == nil {
		return
	}

	p.mu.Lock()
	p.leased--
	stale := p.closed || pc.generation != p.generation || pc.state == StateInvalid
	if !stale {
		pc.state = StateIdle
		p.idle = append(p.idle, pc)
	}
	p.mu.Unlock()

	if stale {
		pc.close()
		p.log.With().
			Str("candidate", pc.target.String()).
			Uint64("generation", pc.generation).
			Logger().
			Debug("closed stale connection on release")
	}

	<-p.slots
}

// Discard closes a leased connection instead of returning it to the idle
// set, for callers that observed an execution error on it.
func (p *Pool) Discard(pc *PooledConn) {
	if pc == nil {
		return
	}
	p.mu.Lock()
	p.leased--
	p.mu.Unlock()
	pc.close()
	<-p.slots
}

// Ping leases a connection and verifies it, releasing it before returning.
func (p *Pool) Ping(ctx context.Context) error {
	pc, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	err = pc.Ping(ctx)
	if err != nil {
		p.Discard(pc)
		return errs.Wrap(errs.ErrKindConnectionFailed, "ping failed", err)
	}
	p.Release(pc)
	return nil
}

// swap commits a new profile: idle connections of the old generation are
// closed immediately, the generation is bumped, and an optional probe
// connection is donated as the first idle connection of the new
// generation. Called only from the gate's critical section.
func (p *Pool) swap(newProfile *config.Profile, donated Conn, target config.Candidate) (uint64, int) {
	p.mu.Lock()
	oldIdle := p.idle
	p.idle = nil
	p.generation++
	p.profile = newProfile.Clone()
	generation := p.generation
	staleLeased := p.leased

	if donated != nil {
		p.idle = append(p.idle, &PooledConn{
			conn:       donated,
			generation: generation,
			target:     target,
			createdAt:  time.Now(),
			state:      StateIdle,
		})
	}
	p.mu.Unlock()

	for _, pc := range oldIdle {
		pc.close()
	}

	return generation, staleLeased
}

// Close shuts the pool down. Idle connections close immediately; leased
// connections close on their next release.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, pc := range idle {
		pc.close()
	}
}
