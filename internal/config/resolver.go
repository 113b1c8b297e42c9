package config

import (
	"strings"

	"github.com/opslens/vdiag/internal/errs"
)

// Overlay is one layer of profile configuration. Nil fields are unset and
// fall through to the next layer. Layers are merged field-wise, highest
// precedence first: runtime reconfiguration payload, CLI flags, environment,
// config file, built-in defaults.
type Overlay struct {
	Host     *string
	Port     *int
	User     *string
	Password *string
	Database *string

	// BackupNodes nil means "not set"; an empty non-nil slice clears the list.
	BackupNodes []Candidate
	backupSet   bool

	// TLSMode is kept raw until validation so unknown values surface in the
	// full field error list instead of failing the layer that supplied them.
	TLSMode     *string
	TLSCAFile   *string
	TLSCertFile *string
	TLSKeyFile  *string
	LegacySSL   *bool
}

// SetBackupNodes records a backup node list on the overlay. Distinct from
// assigning the field directly so an explicit empty list overrides a
// lower layer.
func (o *Overlay) SetBackupNodes(nodes []Candidate) {
	o.BackupNodes = nodes
	o.backupSet = true
}

// FieldError names one field that failed validation and why.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError carries every failed field from one resolution pass, not
// just the first, so operators can fix a whole misconfiguration at once.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Reason
	}
	return "invalid connection profile: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

// Resolve merges the given overlays (highest precedence first) into a
// complete Profile. Every field is taken from the first overlay that sets
// it. Unresolved mandatory fields and invalid values are reported together
// in a single ErrKindValidation error wrapping a *ValidationError.
//
// Resolve never contacts the network.
func Resolve(layers ...*Overlay) (*Profile, error) {
	merged := mergeLayers(layers)

	verr := &ValidationError{}
	p := &Profile{}

	p.Host = requireString(merged.Host, "host", verr)
	p.User = requireString(merged.User, "user", verr)
	p.Password = requireString(merged.Password, "password", verr)
	p.Database = requireString(merged.Database, "database", verr)

	switch {
	case merged.Port == nil:
		verr.add("port", "required")
	case *merged.Port < 1 || *merged.Port > 65535:
		verr.add("port", "must be between 1 and 65535")
	default:
		p.Port = *merged.Port
	}

	if merged.backupSet {
		p.BackupNodes = append([]Candidate(nil), merged.BackupNodes...)
		for _, node := range p.BackupNodes {
			if node.Host == "" {
				verr.add("backup_nodes", "entries must include a hostname")
				break
			}
			if node.Port < 1 || node.Port > 65535 {
				verr.add("backup_nodes", "ports must be between 1 and 65535")
				break
			}
		}
	}

	if merged.TLSMode != nil {
		mode, err := ParseTLSMode(*merged.TLSMode)
		if err != nil {
			verr.add("tls_mode", err.Error())
		} else {
			p.TLSMode = mode
		}
	}

	p.TLSCAFile = optionalString(merged.TLSCAFile)
	p.TLSCertFile = optionalString(merged.TLSCertFile)
	p.TLSKeyFile = optionalString(merged.TLSKeyFile)
	if merged.LegacySSL != nil {
		p.LegacySSL = *merged.LegacySSL
	}

	if p.TLSMode.VerifiesServer() && p.TLSCAFile == "" {
		verr.add("tls_ca_file", "required when tls_mode is "+string(p.TLSMode))
	}
	if p.TLSCertFile != "" && p.TLSKeyFile == "" {
		verr.add("tls_key_file", "required when tls_cert_file is set")
	}
	if p.TLSKeyFile != "" && p.TLSCertFile == "" {
		verr.add("tls_cert_file", "required when tls_key_file is set")
	}

	if len(verr.Fields) > 0 {
		return nil, errs.Wrap(errs.ErrKindValidation, "profile validation failed", verr)
	}
	return p, nil
}

// mergeLayers collapses the overlays into one, first-set-wins per field.
func mergeLayers(layers []*Overlay) *Overlay {
	merged := &Overlay{}
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		if merged.Host == nil {
			merged.Host = layer.Host
		}
		if merged.Port == nil {
			merged.Port = layer.Port
		}
		if merged.User == nil {
			merged.User = layer.User
		}
		if merged.Password == nil {
			merged.Password = layer.Password
		}
		if merged.Database == nil {
			merged.Database = layer.Database
		}
		if !merged.backupSet && layer.backupSet {
			merged.BackupNodes = layer.BackupNodes
			merged.backupSet = true
		}
		if merged.TLSMode == nil {
			merged.TLSMode = layer.TLSMode
		}
		if merged.TLSCAFile == nil {
			merged.TLSCAFile = layer.TLSCAFile
		}
		if merged.TLSCertFile == nil {
			merged.TLSCertFile = layer.TLSCertFile
		}
		if merged.TLSKeyFile == nil {
			merged.TLSKeyFile = layer.TLSKeyFile
		}
		if merged.LegacySSL == nil {
			merged.LegacySSL = layer.LegacySSL
		}
	}
	return merged
}

func requireString(v *string, field string, verr *ValidationError) string {
	if v == nil || strings.TrimSpace(*v) == "" {
		verr.add(field, "required")
		return ""
	}
	return strings.TrimSpace(*v)
}

func optionalString(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

// --- pointer helpers used by the source builders ---

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }
func boolPtr(b bool) *bool    { return &b }
