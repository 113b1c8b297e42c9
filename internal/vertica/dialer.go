// Package vertica implements the pool.Dialer interface on top of the
// vertica-sql-go driver.
//
// Each dial produces exactly one physical connection to one candidate
// host: a *sql.DB pinned to a single open connection, validated with a
// ping before it is handed to the pool. Failover across candidates is the
// pool package's job; this package never tries more than one host.
package vertica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	_ "github.com/vertica/vertica-sql-go" // register "vertica" driver

	"github.com/opslens/vdiag/internal/config"
	"github.com/opslens/vdiag/internal/errs"
	"github.com/opslens/vdiag/internal/pool"
)

// Dialer is the production pool.Dialer backed by vertica-sql-go.
// It is safe for concurrent use by multiple goroutines.
type Dialer struct{}

// NewDialer returns the production dialer.
func NewDialer() *Dialer {
	return &Dialer{}
}

// Dial opens one physical connection to target using the profile's
// credentials, database, and TLS settings. It calls Ping to validate the
// connection before returning.
func (d *Dialer) Dial(ctx context.Context, profile *config.Profile, target config.Candidate) (pool.Conn, error) {
	dsn, err := BuildDSN(profile, target)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("vertica", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid DSN", err)
	}

	// One pooled connection per Dial: the generation-tagged pool owns
	// lifecycle and reuse, not database/sql.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &conn{db: db, target: target}
	if err := c.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// --- pool.Conn implementation ---

type conn struct {
	db     *sql.DB
	target config.Candidate
}

func (c *conn) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

func (c *conn) Query(ctx context.Context, query string, args ...any) (pool.Rows, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "query failed")
	}
	return &verticaRows{rows: rows}, nil
}

func (c *conn) Close() error {
	return c.db.Close()
}

// --- sql.Rows wrapper ---

type verticaRows struct {
	rows *sql.Rows
}

func (r *verticaRows) Next() bool                 { return r.rows.Next() }
func (r *verticaRows) Scan(dest ...any) error     { return r.rows.Scan(dest...) }
func (r *verticaRows) Columns() ([]string, error) { return r.rows.Columns() }
func (r *verticaRows) Close()                     { _ = r.rows.Close() }
func (r *verticaRows) Err() error                 { return r.rows.Err() }

// --- error mapping ---

// mapError translates driver-native errors into *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return errs.Wrap(errs.ErrKindTimeout, msg, err)
		}
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}

	// The driver surfaces server rejections as plain error strings.
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "authentication") ||
		strings.Contains(lower, "invalid username or password") ||
		strings.Contains(lower, "password"):
		return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
	case strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "network"):
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	case strings.Contains(lower, "syntax error") ||
		strings.Contains(lower, "does not exist"):
		return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
	}

	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}

// BuildDSN constructs the vertica-sql-go connection string for a single
// candidate. The profile's credentials and database apply unchanged; only
// the host and port vary per candidate.
func BuildDSN(profile *config.Profile, target config.Candidate) (string, error) {
	mode, err := driverTLSMode(profile)
	if err != nil {
		return "", err
	}

	query := url.Values{}
	query.Set("tlsmode", mode)

	u := url.URL{
		Scheme:   "vertica",
		User:     url.UserPassword(profile.User, profile.Password),
		Host:     fmt.Sprintf("%s:%d", target.Host, target.Port),
		Path:     "/" + profile.Database,
		RawQuery: query.Encode(),
	}
	return u.String(), nil
}
