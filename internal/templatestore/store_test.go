package templatestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opslens/vdiag/internal/config"
	"github.com/opslens/vdiag/internal/errs"
	"github.com/opslens/vdiag/internal/query"
)

func TestDirSourceOverridesSingleTemplate(t *testing.T) {
	dir := t.TempDir()
	custom := "SELECT 1 AS patched"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ping.sql"), []byte(custom), 0o644))

	src, err := NewDirSource(dir)
	require.NoError(t, err)

	catalog, err := query.LoadFrom(src)
	require.NoError(t, err)

	ping, err := catalog.Get("ping")
	require.NoError(t, err)
	assert.Equal(t, custom, ping.SQL())

	// Files the directory does not provide fall back to the embedded copy.
	tables, err := catalog.Get("list_tables")
	require.NoError(t, err)
	assert.NotEmpty(t, tables.SQL())
}

func TestDirSourceMissingFile(t *testing.T) {
	src, err := NewDirSource(t.TempDir())
	require.NoError(t, err)

	_, err = src.Text("ping.sql")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestNewDirSourceRejectsMissingDir(t *testing.T) {
	_, err := NewDirSource("/does/not/exist")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestFromConfigUnconfigured(t *testing.T) {
	src, err := FromConfig(context.Background(), config.TemplateSourceConfig{})
	require.NoError(t, err)
	assert.Nil(t, src)
}
