package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/opslens/vdiag/internal/logger"
)

// Environment variable names for the connection profile. Each is also read
// with an MCP_ prefix fallback so deployments that namespace their
// environment keep working.
const (
	EnvDBHost         = "DB_HOST"
	EnvDBPort         = "DB_PORT"
	EnvDBUser         = "DB_USER"
	EnvDBPassword     = "DB_PASSWORD"
	EnvDBName         = "DB_NAME"
	EnvDBBackupNodes  = "DB_BACKUP_NODES"
	EnvDBTLSMode      = "DB_TLSMODE"
	EnvDBTLSCAFile    = "DB_TLS_CAFILE"
	EnvDBTLSCertFile  = "DB_TLS_CERTFILE"
	EnvDBTLSKeyFile   = "DB_TLS_KEYFILE"
	EnvDBUseSSL       = "DB_USE_SSL"
	EnvDBRetries      = "DB_CONNECTION_RETRIES"
	EnvDBRetryBackoff = "DB_CONNECTION_RETRY_BACKOFF_S"
	EnvDBDebug        = "DB_DEBUG"
)

// envLookup reads key, falling back to MCP_<key>. Empty strings count as
// unset so operators can clear optional values without tripping parsing.
func envLookup(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		value, ok = os.LookupEnv("MCP_" + key)
	}
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

func envString(key string) *string {
	if v, ok := envLookup(key); ok {
		return strPtr(v)
	}
	return nil
}

// envInt returns nil for unset or unparsable values; a bad integer is
// logged and treated as unset rather than aborting resolution.
func envInt(key string) *int {
	v, ok := envLookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		logger.Warn(key + " is not a valid integer; ignoring value " + strconv.Quote(v))
		return nil
	}
	return intPtr(n)
}

func envFloat(key string) *float64 {
	v, ok := envLookup(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		logger.Warn(key + " is not a valid number; ignoring value " + strconv.Quote(v))
		return nil
	}
	return &f
}

func envBool(key string) *bool {
	v, ok := envLookup(key)
	if !ok {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return boolPtr(true)
	case "0", "false", "no", "off":
		return boolPtr(false)
	}
	logger.Warn(key + " is not a valid boolean; ignoring value " + strconv.Quote(v))
	return nil
}

// EnvOverlay builds the environment layer of the profile resolver from the
// DB_* variables. Backup nodes parse as comma-separated host[:port]
// entries; entries without a port inherit DB_PORT (or the default Vertica
// port when DB_PORT is unset).
func EnvOverlay() (*Overlay, error) {
	o := &Overlay{
		Host:        envString(EnvDBHost),
		Port:        envInt(EnvDBPort),
		User:        envString(EnvDBUser),
		Password:    envString(EnvDBPassword),
		Database:    envString(EnvDBName),
		TLSMode:     envString(EnvDBTLSMode),
		TLSCAFile:   envString(EnvDBTLSCAFile),
		TLSCertFile: envString(EnvDBTLSCertFile),
		TLSKeyFile:  envString(EnvDBTLSKeyFile),
		LegacySSL:   envBool(EnvDBUseSSL),
	}

	if raw, ok := envLookup(EnvDBBackupNodes); ok {
		defaultPort := DefaultPort
		if o.Port != nil {
			defaultPort = *o.Port
		}
		nodes, err := ParseBackupNodes(raw, defaultPort)
		if err != nil {
			return nil, err
		}
		o.SetBackupNodes(nodes)
	}

	return o, nil
}

// applyEnvSettings layers the operational environment variables onto s.
func applyEnvSettings(s *Settings) {
	if v := envInt("POOL_SIZE"); v != nil {
		s.PoolSize = *v
	}
	if v := envInt("MAX_ROWS"); v != nil {
		s.MaxRows = *v
	}
	if v := envInt("QUERY_TIMEOUT_S"); v != nil {
		s.QueryTimeout = secondsInt(*v)
	}
	if v := envInt("ACQUIRE_TIMEOUT_S"); v != nil {
		s.AcquireTimeout = secondsInt(*v)
	}
	if v := envInt(EnvDBRetries); v != nil {
		s.Retry.MaxAttempts = *v
	}
	if v := envFloat(EnvDBRetryBackoff); v != nil {
		s.Retry.BackoffBase = secondsFloat(*v)
	}
	if v, ok := envLookup("ALLOWED_SCHEMAS"); ok {
		s.AllowedSchemas = splitCSV(v)
	}
	if v := envBool(EnvDBDebug); v != nil {
		s.DebugLogging = *v
	}
	if v, ok := envLookup("HTTP_TOKEN"); ok {
		s.HTTPToken = v
	}
	if v, ok := envLookup("CORS_ORIGINS"); ok {
		s.CORSOrigins = splitCSV(v)
	}
	if v, ok := envLookup("LOG_LEVEL"); ok {
		s.LogLevel = v
	}
	if v, ok := envLookup("LOG_FORMAT"); ok {
		s.LogFormat = v
	}
}

func splitCSV(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
