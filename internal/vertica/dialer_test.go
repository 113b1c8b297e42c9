package vertica

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opslens/vdiag/internal/config"
	"github.com/opslens/vdiag/internal/errs"
)

func dsnProfile() *config.Profile {
	return &config.Profile{
		Host: "vertica-a", Port: 5433,
		User: "svc", Password: "p@ss/word", Database: "ops",
	}
}

func TestBuildDSN(t *testing.T) {
	dsn, err := BuildDSN(dsnProfile(), config.Candidate{Host: "vertica-b", Port: 5434})
	require.NoError(t, err)

	u, err := url.Parse(dsn)
	require.NoError(t, err)

	assert.Equal(t, "vertica", u.Scheme)
	assert.Equal(t, "vertica-b:5434", u.Host, "the candidate host wins, not the profile primary")
	assert.Equal(t, "/ops", u.Path)
	assert.Equal(t, "svc", u.User.Username())
	password, _ := u.User.Password()
	assert.Equal(t, "p@ss/word", password, "credentials survive URL escaping")
	assert.Equal(t, "none", u.Query().Get("tlsmode"))
}

func TestDriverTLSModeMapping(t *testing.T) {
	cases := []struct {
		mode      config.TLSMode
		legacySSL bool
		want      string
	}{
		{"", false, "none"},
		{"", true, "server"},
		{config.TLSDisable, false, "none"},
		{config.TLSAllow, false, "none"},
		{config.TLSPrefer, false, "server"},
		{config.TLSRequire, false, "server"},
	}

	for _, tc := range cases {
		p := dsnProfile()
		p.TLSMode = tc.mode
		p.LegacySSL = tc.legacySSL

		got, err := driverTLSMode(p)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "mode=%q legacy=%v", tc.mode, tc.legacySSL)
	}
}

func TestDriverTLSModeVerifyRequiresReadableCA(t *testing.T) {
	p := dsnProfile()
	p.TLSMode = config.TLSVerifyFull
	p.TLSCAFile = "/does/not/exist.pem"

	_, err := driverTLSMode(p)
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}

type timeoutNetError struct{ timeout bool }

func (e timeoutNetError) Error() string   { return "dial tcp: i/o problem" }
func (e timeoutNetError) Timeout() bool   { return e.timeout }
func (e timeoutNetError) Temporary() bool { return false }

var _ net.Error = timeoutNetError{}

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want func(error) bool
	}{
		{"deadline", context.DeadlineExceeded, errs.IsTimeout},
		{"cancel", context.Canceled, errs.IsTimeout},
		{"no rows", sql.ErrNoRows, errs.IsNotFound},
		{"net timeout", timeoutNetError{timeout: true}, errs.IsTimeout},
		{"net failure", timeoutNetError{}, errs.IsConnectionFailed},
		{"auth", errors.New("Invalid username or password"), errs.IsPermissionDenied},
		{"refused", errors.New("dial tcp 10.0.0.1:5433: connection refused"), errs.IsConnectionFailed},
		{"unknown host", errors.New("lookup vertica-z: no such host"), errs.IsConnectionFailed},
		{"syntax", errors.New("Syntax error at or near \"FORM\""), errs.IsQueryFailed},
		{"missing relation", errors.New("relation \"public.nope\" does not exist"), errs.IsQueryFailed},
		{"other", errors.New("something else"), errs.IsQueryFailed},
	}

	for _, tc := range cases {
		mapped := mapError(tc.err, "op failed")
		assert.True(t, tc.want(mapped), tc.name)
		assert.ErrorIs(t, mapped, tc.err, tc.name)
	}
}
