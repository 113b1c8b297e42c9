package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func clearListenEnv(t *testing.T) {
	t.Helper()
	for _, key := range append(append([]string{}, bindHostKeys...), bindPortKeys...) {
		t.Setenv(key, "")
	}
	t.Setenv("HOST", "")
	t.Setenv("ALLOW_LOOPBACK_LISTEN", "")
}

func TestIsBindableListenHost(t *testing.T) {
	assert.True(t, IsBindableListenHost("0.0.0.0", false))
	assert.True(t, IsBindableListenHost("::", false))
	assert.True(t, IsBindableListenHost("10.1.2.3", false))
	assert.True(t, IsBindableListenHost("192.168.0.5", false))

	// Loopback only when explicitly allowed.
	assert.False(t, IsBindableListenHost("127.0.0.1", false))
	assert.True(t, IsBindableListenHost("127.0.0.1", true))

	// Public addresses and hostnames are never bindable.
	assert.False(t, IsBindableListenHost("8.8.8.8", false))
	assert.False(t, IsBindableListenHost("example.com", true))
	assert.False(t, IsBindableListenHost("", true))
}

func TestResolveListenHostPrecedence(t *testing.T) {
	clearListenEnv(t)

	t.Setenv("MCP_LISTEN_HOST", "10.0.0.7")
	t.Setenv("BIND_HOST", "10.0.0.8")
	assert.Equal(t, "10.0.0.7", ResolveListenHost("", nil))

	// LISTEN_HOST outranks the MCP-prefixed key.
	t.Setenv("LISTEN_HOST", "10.0.0.6")
	assert.Equal(t, "10.0.0.6", ResolveListenHost("", nil))
}

func TestResolveListenHostSkipsUnbindable(t *testing.T) {
	clearListenEnv(t)

	t.Setenv("LISTEN_HOST", "127.0.0.1")
	assert.Equal(t, "0.0.0.0", ResolveListenHost("", nil))

	t.Setenv("ALLOW_LOOPBACK_LISTEN", "1")
	assert.Equal(t, "127.0.0.1", ResolveListenHost("", nil))
}

func TestResolveListenHostLegacyAndFallback(t *testing.T) {
	clearListenEnv(t)

	t.Setenv("HOST", "192.168.1.9")
	assert.Equal(t, "192.168.1.9", ResolveListenHost("", nil))

	t.Setenv("HOST", "8.8.8.8")
	assert.Equal(t, "0.0.0.0", ResolveListenHost("", nil))

	t.Setenv("HOST", "")
	assert.Equal(t, "10.9.9.9", ResolveListenHost("10.9.9.9", nil))
}

func TestResolveListenPort(t *testing.T) {
	clearListenEnv(t)

	assert.Equal(t, 8000, ResolveListenPort(0, nil))
	assert.Equal(t, 9001, ResolveListenPort(9001, nil))

	t.Setenv("PORT", "7070")
	assert.Equal(t, 7070, ResolveListenPort(9001, nil))

	// Earlier keys win, junk values are skipped.
	t.Setenv("LISTEN_PORT", "not-a-port")
	assert.Equal(t, 7070, ResolveListenPort(9001, nil))

	t.Setenv("LISTEN_PORT", "6060")
	assert.Equal(t, 6060, ResolveListenPort(9001, nil))

	t.Setenv("LISTEN_PORT", "99999")
	assert.Equal(t, 7070, ResolveListenPort(9001, nil))
}
