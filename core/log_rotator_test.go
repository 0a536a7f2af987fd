package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogRotatorKeepsNumberedBackups(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "lessonlift.log")

	r, err := NewLogRotator(name, 1, 2)
	require.NoError(t, err)
	defer r.Close()

	chunk := []byte(strings.Repeat("x", 700*1024))
	for i := 0; i < 4; i++ {
		_, err := r.Write(chunk)
		require.NoError(t, err)
	}

	assert.FileExists(t, name)
	assert.FileExists(t, name+".1")
	assert.FileExists(t, name+".2")
	assert.NoFileExists(t, name+".3")

	info, err := os.Stat(name)
	require.NoError(t, err)
	assert.Equal(t, int64(len(chunk)), info.Size())
}

func TestLogRotatorAppendsToExistingFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(name, []byte("old\n"), 0644))

	r, err := NewLogRotator(name, 1, 1)
	require.NoError(t, err)
	_, err = r.Write([]byte("new\n"))
	require.NoError(t, err)
	require.NoError(t, r.Close())

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "old\nnew\n", string(data))
}
