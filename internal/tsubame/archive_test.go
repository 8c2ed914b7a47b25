package tsubame

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tarEntry struct {
	name string
	body string
	mode int64
	dir  bool
}

func writeTarball(t *testing.T, path string, entries []tarEntry) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	var tw *tar.Writer
	switch filepath.Ext(path) {
	case ".gz":
		gz := pgzip.NewWriter(f)
		defer gz.Close()
		tw = tar.NewWriter(gz)
	case ".zst":
		zw, err := zstd.NewWriter(f)
		require.NoError(t, err)
		defer zw.Close()
		tw = tar.NewWriter(zw)
	default:
		tw = tar.NewWriter(f)
	}
	defer tw.Close()

	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: e.mode}
		if e.dir {
			hdr.Typeflag = tar.TypeDir
		} else {
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if !e.dir {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
}

func TestExtractTarStripsTopDir(t *testing.T) {
	tmp := t.TempDir()
	tarball := filepath.Join(tmp, "foo-1.0.tar.gz")
	writeTarball(t, tarball, []tarEntry{
		{name: "foo-1.0/", mode: 0o755, dir: true},
		{name: "foo-1.0/configure", body: "#!/bin/sh\n", mode: 0o755},
		{name: "foo-1.0/src/", mode: 0o755, dir: true},
		{name: "foo-1.0/src/main.c", body: "int main(void){return 0;}\n", mode: 0o644},
	})

	dest := filepath.Join(tmp, "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, extractTar(tarball, dest))

	assert.FileExists(t, filepath.Join(dest, "configure"))
	data, err := os.ReadFile(filepath.Join(dest, "src", "main.c"))
	require.NoError(t, err)
	assert.Equal(t, "int main(void){return 0;}\n", string(data))
	assert.NoDirExists(t, filepath.Join(dest, "foo-1.0"))
}

func TestExtractTarFlatArchiveKeepsLayout(t *testing.T) {
	tmp := t.TempDir()
	tarball := filepath.Join(tmp, "flat.tar.gz")
	writeTarball(t, tarball, []tarEntry{
		{name: "a.txt", body: "a\n", mode: 0o644},
		{name: "b.txt", body: "b\n", mode: 0o644},
	})

	dest := filepath.Join(tmp, "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, extractTar(tarball, dest))

	assert.FileExists(t, filepath.Join(dest, "a.txt"))
	assert.FileExists(t, filepath.Join(dest, "b.txt"))
}

func TestUnpackTarZst(t *testing.T) {
	tmp := t.TempDir()
	tarball := filepath.Join(tmp, "musl-1.2.5-riscv64-linux-musl.tar.zst")
	writeTarball(t, tarball, []tarEntry{
		{name: "bin/", mode: 0o755, dir: true},
		{name: "bin/tool", body: "#!/bin/sh\n", mode: 0o755},
		{name: "riscv64-linux-musl/usr/lib/libc.a", body: "!<arch>\n", mode: 0o644},
	})

	dest := filepath.Join(tmp, "prefix")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, unpackTarZst(tarball, dest))

	// No top-level stripping: prebuilt artifacts are rooted at the prefix.
	assert.FileExists(t, filepath.Join(dest, "riscv64-linux-musl", "usr", "lib", "libc.a"))

	info, err := os.Stat(filepath.Join(dest, "bin", "tool"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o111, "executable bit lost on bin/tool")
}

func TestUnpackTarZstRejectsTraversal(t *testing.T) {
	tmp := t.TempDir()
	tarball := filepath.Join(tmp, "evil.tar.zst")
	writeTarball(t, tarball, []tarEntry{
		{name: "../evil.txt", body: "x\n", mode: 0o644},
	})

	dest := filepath.Join(tmp, "prefix")
	require.NoError(t, os.MkdirAll(dest, 0o755))

	err := unpackTarZst(tarball, dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal file path")
	assert.NoFileExists(t, filepath.Join(tmp, "evil.txt"))
}

func TestDecompressorRejectsUnknownFormat(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "src.rar")
	require.NoError(t, os.WriteFile(path, []byte("junk"), 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	_, _, err = decompressor(path, f)
	assert.Error(t, err)
}
