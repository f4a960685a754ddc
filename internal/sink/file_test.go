package sink

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSinkCreateNewRefusesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.ts")
	require.NoError(t, os.WriteFile(path, []byte("existing"), 0o644))

	_, err := NewFileSink(path, false)
	assert.Error(t, err)
}

func TestFileSinkOverwriteTruncates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.ts")
	require.NoError(t, os.WriteFile(path, []byte("existing-longer-content"), 0o644))

	s, err := NewFileSink(path, true)
	require.NoError(t, err)
	_, err = s.Write([]byte("new"))
	require.NoError(t, err)
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(contents))
}

func TestFileSinkWritesSequentially(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out2.ts")

	s, err := NewFileSink(path, false)
	require.NoError(t, err)
	_, err = s.Write([]byte("header"))
	require.NoError(t, err)
	_, err = s.Write([]byte("segment"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "headersegment", string(contents))
}
