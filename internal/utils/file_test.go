package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestIsImageFile(t *testing.T) {
	for _, name := range []string{"a.jpg", "b.JPEG", "c.Png", "d.bmp", "e.webp"} {
		assert.True(t, IsImageFile(name), name)
	}
	for _, name := range []string{"a.gif", "b.tiff", "notes.txt", "noext"} {
		assert.False(t, IsImageFile(name), name)
	}
}

func TestCollectImages(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b.jpg"))
	touch(t, filepath.Join(dir, "A.PNG"))
	touch(t, filepath.Join(dir, "readme.txt"))
	touch(t, filepath.Join(dir, "nested", "c.webp"))
	explicit := filepath.Join(dir, "scan.raw")
	touch(t, explicit)

	got, err := CollectImages([]string{dir, filepath.Join(dir, "b.jpg"), explicit})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "A.PNG"),
		filepath.Join(dir, "b.jpg"),
		filepath.Join(dir, "nested", "c.webp"),
		explicit,
	}, got)
}

func TestCollectImagesMissingInput(t *testing.T) {
	_, err := CollectImages([]string{filepath.Join(t.TempDir(), "absent")})
	assert.Error(t, err)
}

func TestSanitizeAndDebugFilename(t *testing.T) {
	assert.Equal(t, "a_b_c", SanitizeFilename(" a/b:c. "))
	assert.Equal(t, filepath.Join("out", "card_1_debug.png"), DebugFilename("/in/card_1.jpg", "out"))
	assert.Equal(t, filepath.Join("out", "back_debug.png"), DebugFilename("back.webp", "out"))
}

func TestFormatFileSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatFileSize(512))
	assert.Equal(t, "1.5 KB", FormatFileSize(1536))
	assert.Equal(t, "2.0 MB", FormatFileSize(2<<20))
}

func TestEnsureDirAndFileExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "x", "y")
	require.NoError(t, EnsureDir(dir))
	assert.False(t, FileExists(dir))
	touch(t, filepath.Join(dir, "f"))
	assert.True(t, FileExists(filepath.Join(dir, "f")))
}
