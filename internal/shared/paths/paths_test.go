package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateProjectPathAcceptsDirectory(t *testing.T) {
	dir := t.TempDir()

	resolved, err := ValidateProjectPath(dir)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(resolved))
}

func TestValidateProjectPathResolvesSymlinks(t *testing.T) {
	target := t.TempDir()
	link := filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.Symlink(target, link))

	resolved, err := ValidateProjectPath(link)
	require.NoError(t, err)

	expected, err := filepath.EvalSymlinks(target)
	require.NoError(t, err)
	assert.Equal(t, expected, resolved)
}

func TestValidateProjectPathRejections(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	cases := map[string]string{
		"empty":      "",
		"relative":   "some/relative/path",
		"traversal":  "/tmp/../etc",
		"missing":    filepath.Join(dir, "nope"),
		"not-a-dir":  file,
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ValidateProjectPath(path)
			assert.Error(t, err)
		})
	}
}

func TestCaptureAndEqual(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o755))

	before, err := Capture(dir)
	require.NoError(t, err)
	again, err := Capture(dir)
	require.NoError(t, err)
	assert.True(t, before.Equal(again), "unchanged directory compares equal")
}

func TestCaptureDetectsModeChange(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o755))

	before, err := Capture(dir)
	require.NoError(t, err)

	require.NoError(t, os.Chmod(dir, 0o700))
	after, err := Capture(dir)
	require.NoError(t, err)

	assert.False(t, before.Equal(after), "mode change must break identity")
}

func TestCaptureDetectsReplacement(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "project")
	require.NoError(t, os.Mkdir(dir, 0o755))

	before, err := Capture(dir)
	require.NoError(t, err)

	// Same path, different inode
	require.NoError(t, os.Remove(dir))
	require.NoError(t, os.Mkdir(dir, 0o755))

	after, err := Capture(dir)
	require.NoError(t, err)
	assert.False(t, before.Equal(after), "recreated directory is a different identity")
}

func TestCaptureMissingPath(t *testing.T) {
	_, err := Capture(filepath.Join(t.TempDir(), "gone"))
	assert.Error(t, err)
}
