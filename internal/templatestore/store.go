// Package templatestore loads SQL template text from external sources so
// deployments can patch catalog SQL without rebuilding the binary. The
// catalog's parameter declarations stay compiled in; only the statement
// text is overridable, and any file missing from the source falls back to
// the embedded copy.
package templatestore

import (
	"context"
	"os"
	"path/filepath"

	"github.com/opslens/vdiag/internal/config"
	"github.com/opslens/vdiag/internal/errs"
	"github.com/opslens/vdiag/internal/query"
)

// FromConfig builds the configured template source. Returns nil when no
// external source is configured, which means the embedded catalog.
func FromConfig(ctx context.Context, cfg config.TemplateSourceConfig) (query.TextSource, error) {
	if cfg.MinIO != nil {
		return NewMinIOSource(ctx, cfg.MinIO)
	}
	if cfg.Dir != "" {
		return NewDirSource(cfg.Dir)
	}
	return nil, nil
}

// DirSource serves template files from a local directory.
type DirSource struct {
	dir string
}

// NewDirSource validates the directory exists before first use.
func NewDirSource(dir string) (*DirSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindNotFound, "template directory not readable", err)
	}
	if !info.IsDir() {
		return nil, errs.New(errs.ErrKindInvalidInput, "template path is not a directory: "+dir)
	}
	return &DirSource{dir: dir}, nil
}

// Text returns the file's contents, or a NotFound error that tells the
// catalog loader to fall back to the embedded copy.
func (s *DirSource) Text(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.Base(name)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.ErrKindNotFound, "template file not found", err)
		}
		return nil, errs.Wrap(errs.ErrKindUnknown, "reading template file", err)
	}
	return data, nil
}
