package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/opslens/vdiag/internal/errs"
)

// File is the YAML configuration file. It supplies the lowest explicit
// layer of both the connection profile and the operational settings; every
// key can be overridden by environment variables, CLI flags, or a runtime
// reconfiguration payload.
type File struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Listen struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"listen"`

	Database struct {
		Host        string `yaml:"host"`
		Port        int    `yaml:"port"`
		User        string `yaml:"user"`
		Password    string `yaml:"password"`
		Database    string `yaml:"database"`
		BackupNodes string `yaml:"backup_nodes"` // comma-separated host[:port]
		TLSMode     string `yaml:"tlsmode"`
		TLSCAFile   string `yaml:"tls_cafile"`
		TLSCertFile string `yaml:"tls_certfile"`
		TLSKeyFile  string `yaml:"tls_keyfile"`
		UseSSL      *bool  `yaml:"use_ssl"`
	} `yaml:"database"`

	Pool struct {
		Size            int `yaml:"size"`
		AcquireTimeoutS int `yaml:"acquire_timeout_s"`
	} `yaml:"pool"`

	Query struct {
		TimeoutS int `yaml:"timeout_s"`
		MaxRows  int `yaml:"max_rows"`
	} `yaml:"query"`

	Retry struct {
		Attempts int     `yaml:"attempts"`
		BackoffS float64 `yaml:"backoff_s"`
	} `yaml:"retry"`

	Schemas []string `yaml:"schemas"`

	HTTP struct {
		Token       string `yaml:"token"`
		CORSOrigins string `yaml:"cors_origins"` // comma-separated
	} `yaml:"http"`

	Templates TemplateSourceConfig `yaml:"templates"`

	Debug bool `yaml:"debug"`
}

// LoadFile reads and parses the YAML configuration file at path.
func LoadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindValidation,
			fmt.Sprintf("cannot read config file %s", path), err)
	}

	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, errs.Wrap(errs.ErrKindValidation,
			fmt.Sprintf("cannot parse config file %s", path), err)
	}
	return &file, nil
}

// ProfileOverlay builds the config-file layer of the profile resolver.
func (f *File) ProfileOverlay() (*Overlay, error) {
	o := &Overlay{}
	db := f.Database

	if db.Host != "" {
		o.Host = strPtr(db.Host)
	}
	if db.Port != 0 {
		o.Port = intPtr(db.Port)
	}
	if db.User != "" {
		o.User = strPtr(db.User)
	}
	if db.Password != "" {
		o.Password = strPtr(db.Password)
	}
	if db.Database != "" {
		o.Database = strPtr(db.Database)
	}
	if db.TLSMode != "" {
		o.TLSMode = strPtr(db.TLSMode)
	}
	if db.TLSCAFile != "" {
		o.TLSCAFile = strPtr(db.TLSCAFile)
	}
	if db.TLSCertFile != "" {
		o.TLSCertFile = strPtr(db.TLSCertFile)
	}
	if db.TLSKeyFile != "" {
		o.TLSKeyFile = strPtr(db.TLSKeyFile)
	}
	o.LegacySSL = db.UseSSL

	if db.BackupNodes != "" {
		defaultPort := DefaultPort
		if db.Port != 0 {
			defaultPort = db.Port
		}
		nodes, err := ParseBackupNodes(db.BackupNodes, defaultPort)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindValidation, "config file backup_nodes", err)
		}
		o.SetBackupNodes(nodes)
	}

	return o, nil
}

// applySettings layers the file's operational keys onto s. Zero values are
// treated as unset so the file only overrides what it names.
func (f *File) applySettings(s *Settings) {
	if f.Log.Level != "" {
		s.LogLevel = f.Log.Level
	}
	if f.Log.Format != "" {
		s.LogFormat = f.Log.Format
	}
	if f.Listen.Host != "" {
		s.ListenHost = f.Listen.Host
	}
	if f.Listen.Port != 0 {
		s.ListenPort = f.Listen.Port
	}
	if f.Pool.Size != 0 {
		s.PoolSize = f.Pool.Size
	}
	if f.Pool.AcquireTimeoutS != 0 {
		s.AcquireTimeout = secondsInt(f.Pool.AcquireTimeoutS)
	}
	if f.Query.TimeoutS != 0 {
		s.QueryTimeout = secondsInt(f.Query.TimeoutS)
	}
	if f.Query.MaxRows != 0 {
		s.MaxRows = f.Query.MaxRows
	}
	if f.Retry.Attempts != 0 {
		s.Retry.MaxAttempts = f.Retry.Attempts
	}
	if f.Retry.BackoffS != 0 {
		s.Retry.BackoffBase = secondsFloat(f.Retry.BackoffS)
	}
	if len(f.Schemas) != 0 {
		s.AllowedSchemas = append([]string(nil), f.Schemas...)
	}
	if f.HTTP.Token != "" {
		s.HTTPToken = f.HTTP.Token
	}
	if f.HTTP.CORSOrigins != "" {
		s.CORSOrigins = splitCSV(f.HTTP.CORSOrigins)
	}
	if f.Templates.Dir != "" || f.Templates.MinIO != nil {
		s.Templates = f.Templates
	}
	if f.Debug {
		s.DebugLogging = true
	}
}
