// Package config holds the connection profile data model and the layered
// resolver that produces it.
//
// A Profile is a canonical, validated description of how to reach Vertica.
// It is produced exactly once per resolution by Resolve and treated as an
// immutable snapshot everywhere else; live reconfiguration swaps whole
// profiles, never individual fields.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TLSMode selects how the client negotiates TLS with the server.
// The values mirror the modes accepted by the Vertica client stack.
type TLSMode string

const (
	TLSDisable    TLSMode = "disable"
	TLSAllow      TLSMode = "allow"
	TLSPrefer     TLSMode = "prefer"
	TLSRequire    TLSMode = "require"
	TLSVerifyCA   TLSMode = "verify-ca"
	TLSVerifyFull TLSMode = "verify-full"
)

// ParseTLSMode normalises s to lower-case and checks it against the known
// modes. An empty string is valid and means "not set".
func ParseTLSMode(s string) (TLSMode, error) {
	candidate := TLSMode(strings.ToLower(strings.TrimSpace(s)))
	switch candidate {
	case "", TLSDisable, TLSAllow, TLSPrefer, TLSRequire, TLSVerifyCA, TLSVerifyFull:
		return candidate, nil
	}
	return "", fmt.Errorf("tls_mode must be one of disable, allow, prefer, require, verify-ca, verify-full; got %q", s)
}

// VerifiesServer reports whether the mode requires a CA to check the
// server certificate against.
func (m TLSMode) VerifiesServer() bool {
	return m == TLSVerifyCA || m == TLSVerifyFull
}

// Candidate is one (host, port) pair considered during failover, drawn
// from the primary or the backup node list.
type Candidate struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ParseBackupNodes parses a comma-separated list of host[:port] entries.
// Entries without a port inherit defaultPort. Blank entries are skipped.
func ParseBackupNodes(raw string, defaultPort int) ([]Candidate, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var nodes []Candidate
	for _, entry := range strings.Split(raw, ",") {
		candidate := strings.TrimSpace(entry)
		if candidate == "" {
			continue
		}

		host := candidate
		port := defaultPort
		if idx := strings.LastIndex(candidate, ":"); idx >= 0 {
			host = strings.TrimSpace(candidate[:idx])
			portText := strings.TrimSpace(candidate[idx+1:])
			if host == "" {
				return nil, fmt.Errorf("backup node %q is missing a hostname before the colon", entry)
			}
			if portText == "" {
				return nil, fmt.Errorf("backup node %q is missing a port after the colon", entry)
			}
			parsed, err := strconv.Atoi(portText)
			if err != nil {
				return nil, fmt.Errorf("backup node %q has a non-integer port", entry)
			}
			port = parsed
		}

		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("backup node %q port is outside 1-65535", entry)
		}
		nodes = append(nodes, Candidate{Host: host, Port: port})
	}
	return nodes, nil
}

// Profile is the canonical, validated description of how to reach Vertica.
// After Resolve succeeds, Host, Port, User, Password, and Database are
// always non-empty.
type Profile struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string

	// BackupNodes are tried in order, only after the primary is exhausted.
	BackupNodes []Candidate

	TLSMode     TLSMode
	TLSCAFile   string
	TLSCertFile string
	TLSKeyFile  string

	// LegacySSL forces plain SSL negotiation for pre-TLS-mode servers.
	LegacySSL bool
}

// Primary returns the primary candidate.
func (p *Profile) Primary() Candidate {
	return Candidate{Host: p.Host, Port: p.Port}
}

// Candidates returns the ordered failover candidate list:
// the primary host first, then each backup node.
func (p *Profile) Candidates() []Candidate {
	out := make([]Candidate, 0, 1+len(p.BackupNodes))
	out = append(out, p.Primary())
	out = append(out, p.BackupNodes...)
	return out
}

// Clone returns a deep copy so reconfiguration never shares slices with
// profiles still referenced by in-flight queries.
func (p *Profile) Clone() *Profile {
	out := *p
	out.BackupNodes = append([]Candidate(nil), p.BackupNodes...)
	return &out
}

// Equal reports whether two profiles describe the same connection target.
func (p *Profile) Equal(o *Profile) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.Host != o.Host || p.Port != o.Port || p.User != o.User ||
		p.Password != o.Password || p.Database != o.Database ||
		p.TLSMode != o.TLSMode || p.TLSCAFile != o.TLSCAFile ||
		p.TLSCertFile != o.TLSCertFile || p.TLSKeyFile != o.TLSKeyFile ||
		p.LegacySSL != o.LegacySSL {
		return false
	}
	if len(p.BackupNodes) != len(o.BackupNodes) {
		return false
	}
	for i := range p.BackupNodes {
		if p.BackupNodes[i] != o.BackupNodes[i] {
			return false
		}
	}
	return true
}

// Redacted returns a loggable description of the profile without the password.
func (p *Profile) Redacted() string {
	return fmt.Sprintf("%s@%s:%d/%s", p.User, p.Host, p.Port, p.Database)
}

// Summary is the password-free representation returned by the
// reconfiguration endpoint and the diagnostics endpoint.
type Summary struct {
	Host        string      `json:"host"`
	Port        int         `json:"port"`
	User        string      `json:"user"`
	Database    string      `json:"database"`
	BackupNodes []Candidate `json:"backup_nodes,omitempty"`
	TLSMode     string      `json:"tls_mode,omitempty"`
	LegacySSL   bool        `json:"legacy_ssl_flag,omitempty"`
}

// Summary returns the password-free view of the profile.
func (p *Profile) Summary() Summary {
	return Summary{
		Host:        p.Host,
		Port:        p.Port,
		User:        p.User,
		Database:    p.Database,
		BackupNodes: append([]Candidate(nil), p.BackupNodes...),
		TLSMode:     string(p.TLSMode),
		LegacySSL:   p.LegacySSL,
	}
}

// RetryPolicy bounds the connection attempts against one failover candidate.
// Backoff is linear: the wait before attempt n+1 is n × BackoffBase.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
}

// DefaultRetryPolicy mirrors the service defaults: three attempts per
// candidate with a half-second backoff base.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BackoffBase: 500 * time.Millisecond}
}

// Wait returns the sleep before the given 1-based attempt. The first
// attempt has no wait; later attempts wait (attempt-1) × BackoffBase,
// strictly increasing.
func (rp RetryPolicy) Wait(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return time.Duration(attempt-1) * rp.BackoffBase
}
