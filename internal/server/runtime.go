package server

import (
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/opslens/vdiag/internal/logger"
)

// Listen address resolution. Deployment platforms disagree on the env var
// name, so a family of keys is honored, first bindable value wins.
var (
	bindHostKeys = []string{"LISTEN_HOST", "MCP_LISTEN_HOST", "BIND_HOST", "MCP_BIND_HOST"}
	bindPortKeys = []string{"LISTEN_PORT", "MCP_LISTEN_PORT", "BIND_PORT", "MCP_BIND_PORT", "PORT"}
)

// AllowLoopbackListen reports whether binding to loopback interfaces has
// been explicitly enabled.
func AllowLoopbackListen() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ALLOW_LOOPBACK_LISTEN"))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// IsBindableListenHost reports whether value is an IP address this service
// will bind to: unspecified and private addresses always, loopback only
// when allowLoopback is set, public addresses never.
func IsBindableListenHost(value string, allowLoopback bool) bool {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		return false
	}

	ip := net.ParseIP(candidate)
	if ip == nil {
		return false
	}
	if ip.IsUnspecified() {
		return true
	}
	if ip.IsLoopback() {
		return allowLoopback
	}
	return ip.IsPrivate()
}

// ResolveListenHost determines the HTTP bind address from the environment,
// falling back to fallback (usually the configured listen host) and
// finally to all interfaces. Unbindable values are skipped with a warning,
// never used.
func ResolveListenHost(fallback string, log *logger.Logger) string {
	if log == nil {
		log = logger.New(nil)
	}
	allowLoopback := AllowLoopbackListen()

	for _, key := range bindHostKeys {
		candidate := strings.TrimSpace(os.Getenv(key))
		if candidate == "" {
			continue
		}
		if IsBindableListenHost(candidate, allowLoopback) {
			return candidate
		}
		log.Warnf("ignoring %s=%q; not a bindable interface", key, candidate)
		if !allowLoopback && (candidate == "127.0.0.1" || candidate == "localhost") {
			log.Warn("set ALLOW_LOOPBACK_LISTEN=1 to bind to loopback interfaces explicitly")
		}
	}

	if legacy := strings.TrimSpace(os.Getenv("HOST")); legacy != "" {
		if IsBindableListenHost(legacy, allowLoopback) {
			return legacy
		}
		log.Warnf("ignoring HOST=%q; set LISTEN_HOST to override the bind address", legacy)
	}

	if fallback != "" && IsBindableListenHost(fallback, allowLoopback) {
		return fallback
	}
	return "0.0.0.0"
}

// ResolveListenPort determines the TCP port from the environment, falling
// back to fallback and finally to 8000.
func ResolveListenPort(fallback int, log *logger.Logger) int {
	if log == nil {
		log = logger.New(nil)
	}

	for _, key := range bindPortKeys {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			continue
		}
		port, err := strconv.Atoi(raw)
		if err != nil {
			log.Warnf("ignoring non-integer %s=%q when determining listen port", key, raw)
			continue
		}
		if port < 1 || port > 65535 {
			log.Warnf("%s=%q is outside the valid TCP port range; ignoring", key, raw)
			continue
		}
		return port
	}

	if fallback >= 1 && fallback <= 65535 {
		return fallback
	}
	return 8000
}
