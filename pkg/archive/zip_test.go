package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func readZip(t *testing.T, path string) map[string]string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	got := map[string]string{}
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			got[f.Name] = ""
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		got[f.Name] = string(data)
	}
	return got
}

func TestBuildZipRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"readme.txt":      "hello",
		"assets/logo.txt": "logo bytes",
		"assets/deep/x":   "deep",
	})

	dest := filepath.Join(t.TempDir(), "packed.zip")
	size, err := BuildZip(src, dest, 3)
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))

	st, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, st.Size(), size)

	got := readZip(t, dest)
	assert.Equal(t, "hello", got["readme.txt"])
	assert.Equal(t, "logo bytes", got["assets/logo.txt"])
	assert.Equal(t, "deep", got["assets/deep/x"])
	assert.Contains(t, got, "assets/")
}

func TestBuildZipFilesAreDeflate(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": strings.Repeat("payload ", 100)})

	dest := filepath.Join(t.TempDir(), "packed.zip")
	_, err := BuildZip(src, dest, 5)
	require.NoError(t, err)

	zr, err := zip.OpenReader(dest)
	require.NoError(t, err)
	defer zr.Close()

	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			assert.Equal(t, uint16(zip.Store), f.Method, f.Name)
			continue
		}
		assert.Equal(t, uint16(zip.Deflate), f.Method, f.Name)
	}
}

func TestBuildZipHonorsLevel(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"big.txt": strings.Repeat("compress me well ", 4096)})

	out := t.TempDir()
	stored, err := BuildZip(src, filepath.Join(out, "l0.zip"), 0)
	require.NoError(t, err)
	tight, err := BuildZip(src, filepath.Join(out, "l9.zip"), 9)
	require.NoError(t, err)

	assert.Greater(t, stored, tight, "level 0 output must be larger than level 9")
}

func TestBuildZipClampsLevel(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "data"})

	out := t.TempDir()
	_, err := BuildZip(src, filepath.Join(out, "neg.zip"), -5)
	assert.NoError(t, err)
	_, err = BuildZip(src, filepath.Join(out, "high.zip"), 42)
	assert.NoError(t, err)
}

func TestBuildZipSkipsSymlinks(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "data"})
	require.NoError(t, os.Symlink("a.txt", filepath.Join(src, "link")))

	dest := filepath.Join(t.TempDir(), "packed.zip")
	_, err := BuildZip(src, dest, 3)
	require.NoError(t, err)

	got := readZip(t, dest)
	assert.Contains(t, got, "a.txt")
	assert.NotContains(t, got, "link")
}

func TestZipFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(src, []byte("single member"), 0o644))

	dest := filepath.Join(t.TempDir(), "wrapped.zip")
	size, err := ZipFile(src, dest, "mod/payload.bin", 3)
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))

	got := readZip(t, dest)
	require.Len(t, got, 1)
	assert.Equal(t, "single member", got["mod/payload.bin"])
}

func TestZipOutputIsCanonical(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"a.txt":     "alpha",
		"dir/b.txt": "beta",
	})

	dest := filepath.Join(t.TempDir(), "packed.zip")
	_, err := BuildZip(src, dest, 3)
	require.NoError(t, err)

	// Mirror the canonical-zip judgment over the real central directory.
	zr, err := zip.OpenReader(dest)
	require.NoError(t, err)
	defer zr.Close()

	p := &Probe{Type: "zip"}
	for _, f := range zr.File {
		e := Entry{Path: f.Name, Size: int64(f.UncompressedSize64)}
		if strings.HasSuffix(f.Name, "/") {
			e.Dir = true
		}
		switch f.Method {
		case zip.Deflate:
			e.Method = "Deflate"
		case zip.Store:
			e.Method = "Store"
		}
		p.Entries = append(p.Entries, e)
	}
	assert.True(t, IsCanonicalZip(p))
}
