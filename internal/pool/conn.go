// Package pool implements the resilient Vertica connectivity layer:
// single-candidate dialing behind the Dialer interface, ordered-candidate
// failover with bounded retries (Connector), a generation-tagged bounded
// connection pool (Pool), and the serialized live-reconfiguration gate
// (Gate).
//
// All layers above this package talk only to these interfaces — they never
// import the vertica driver package directly.
package pool

import (
	"context"
	"time"

	"github.com/opslens/vdiag/internal/config"
)

// Conn is one physical connection to a single Vertica node.
type Conn interface {
	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error

	// Query executes a SQL statement that returns rows. Arguments are
	// always bound as driver parameters, never interpolated.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// Close tears down the physical connection.
	Close() error
}

// Rows is an abstraction over a database result set.
// Callers must always call Close() when done, even on error.
type Rows interface {
	// Next advances to the next row.
	// Returns false when no more rows exist or on error.
	Next() bool

	// Scan copies the current row's columns into the provided destinations.
	Scan(dest ...any) error

	// Columns returns the column names of the result set.
	Columns() ([]string, error)

	// Close releases resources held by the result set.
	Close()

	// Err returns any error encountered during iteration.
	Err() error
}

// Dialer opens one physical connection to exactly one candidate host.
// A dial applies the profile's credentials, database, and TLS settings to
// that candidate; it never tries other hosts. The production
// implementation lives in the vertica package; tests substitute fakes.
type Dialer interface {
	Dial(ctx context.Context, profile *config.Profile, target config.Candidate) (Conn, error)
}

// ConnState tracks a pooled connection through its lifecycle.
type ConnState int

const (
	StateIdle ConnState = iota
	StateLeased
	StateInvalid
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLeased:
		return "leased"
	default:
		return "invalid"
	}
}

// PooledConn wraps one physical connection together with the profile
// generation that created it. A connection whose generation no longer
// matches the pool's is closed on release instead of returning to the
// idle set.
type PooledConn struct {
	conn       Conn
	generation uint64
	target     config.Candidate
	createdAt  time.Time
	state      ConnState
}

// Generation returns the profile generation this connection was built under.
func (pc *PooledConn) Generation() uint64 {
	return pc.generation
}

// Target returns the candidate this connection is attached to.
func (pc *PooledConn) Target() config.Candidate {
	return pc.target
}

// Ping forwards to the underlying connection.
func (pc *PooledConn) Ping(ctx context.Context) error {
	return pc.conn.Ping(ctx)
}

// Query forwards to the underlying connection.
func (pc *PooledConn) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return pc.conn.Query(ctx, sql, args...)
}

func (pc *PooledConn) close() {
	pc.state = StateInvalid
	_ = pc.conn.Close()
}
