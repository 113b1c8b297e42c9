package config

import (
	"strings"
	"time"
)

// DefaultPort is the standard Vertica client port.
const DefaultPort = 5433

// MinIOConfig points the template catalog at an object-store bucket.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
}

// TemplateSourceConfig selects where SQL templates load from. When both
// fields are empty the embedded catalog is used.
type TemplateSourceConfig struct {
	Dir   string       `yaml:"dir"`
	MinIO *MinIOConfig `yaml:"minio"`
}

// Settings holds all operational tuning outside the connection profile.
// Resolution order is defaults, then config file, then environment.
type Settings struct {
	LogLevel  string
	LogFormat string

	ListenHost string
	ListenPort int

	PoolSize       int
	AcquireTimeout time.Duration

	MaxRows      int
	QueryTimeout time.Duration

	Retry RetryPolicy

	AllowedSchemas []string
	DebugLogging   bool

	HTTPToken   string
	CORSOrigins []string

	Templates TemplateSourceConfig
}

// DefaultSettings mirrors the service defaults: an eight-connection pool,
// a thousand-row cap, fifteen-second queries, and the public schema.
func DefaultSettings() *Settings {
	return &Settings{
		LogLevel:       "info",
		LogFormat:      "json",
		ListenHost:     "0.0.0.0",
		ListenPort:     8000,
		PoolSize:       8,
		AcquireTimeout: 30 * time.Second,
		MaxRows:        1000,
		QueryTimeout:   15 * time.Second,
		Retry:          DefaultRetryPolicy(),
		AllowedSchemas: []string{"public"},
	}
}

// DefaultSchema returns the first allowed schema, used when a template
// call does not name one.
func (s *Settings) DefaultSchema() string {
	if len(s.AllowedSchemas) == 0 {
		return "public"
	}
	return s.AllowedSchemas[0]
}

// SchemaAllowed reports whether the (case-insensitive) schema is in the
// allow-list.
func (s *Settings) SchemaAllowed(schema string) bool {
	for _, allowed := range s.AllowedSchemas {
		if strings.EqualFold(allowed, schema) {
			return true
		}
	}
	return false
}

// LoadSettings resolves operational settings: built-in defaults, then the
// optional YAML config file at path, then environment variables.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()

	if path != "" {
		file, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		file.applySettings(s)
	}

	applyEnvSettings(s)

	if s.PoolSize < 1 {
		s.PoolSize = 1
	}
	if s.Retry.MaxAttempts < 1 {
		s.Retry.MaxAttempts = 1
	}
	if s.Retry.BackoffBase < 0 {
		s.Retry.BackoffBase = 0
	}
	return s, nil
}

func secondsInt(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func secondsFloat(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
