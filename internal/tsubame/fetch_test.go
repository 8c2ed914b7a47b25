package tsubame

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyGnuMirror(t *testing.T) {
	saved := gnuMirrorURL
	defer func() { gnuMirrorURL = saved }()
	gnuMirrorURL = "https://mirrors.kernel.org/gnu"

	assert.Equal(t,
		"https://mirrors.kernel.org/gnu/binutils/binutils-2.42.tar.xz",
		applyGnuMirror("https://ftp.gnu.org/gnu/binutils/binutils-2.42.tar.xz"))

	// Non-GNU hosts pass through untouched.
	url := "https://musl.libc.org/releases/musl-1.2.5.tar.gz"
	assert.Equal(t, url, applyGnuMirror(url))

	gnuMirrorURL = ""
	url = "https://ftp.gnu.org/gnu/gdb/gdb-14.2.tar.xz"
	assert.Equal(t, url, applyGnuMirror(url))
}

func TestHashString(t *testing.T) {
	a := hashString("https://ftp.gnu.org/gnu/gmp/gmp-6.3.0.tar.xz")
	b := hashString("https://ftp.gnu.org/gnu/gmp/gmp-6.3.0.tar.xz")
	c := hashString("https://ftp.gnu.org/gnu/gmp/gmp-6.3.1.tar.xz")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tarball")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))

	sum1, err := hashFile(path)
	require.NoError(t, err)
	sum2, err := hashFile(path)
	require.NoError(t, err)
	assert.Equal(t, sum1, sum2)
	assert.Len(t, sum1, 64)

	require.NoError(t, verifyChecksum(path, sum1))
	assert.Error(t, verifyChecksum(path, "0000000000000000000000000000000000000000000000000000000000000000"))
	// Empty expected checksum skips verification.
	assert.NoError(t, verifyChecksum(path, ""))
}

func TestEnsureSourceShortCircuitsPopulatedTree(t *testing.T) {
	savedSources, savedCache := SourcesDir, CacheStore
	defer func() { SourcesDir, CacheStore = savedSources, savedCache }()
	SourcesDir = t.TempDir()
	CacheStore = filepath.Join(SourcesDir, "_cache")

	r := Recipe{
		Name:    "binutils",
		Version: "2.42",
		// Unreachable on purpose; a populated tree must never hit the network.
		Source: "https://invalid.invalid/binutils-2.42.tar.xz",
	}
	srcDir := r.srcDir()
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "configure"), []byte("#!/bin/sh\n"), 0o755))

	got, err := NewSourceProvider().EnsureSource(r)
	require.NoError(t, err)
	assert.Equal(t, srcDir, got)
}

func TestEnsureSourceDropsPartialDownloadAndRetries(t *testing.T) {
	savedSources, savedCache := SourcesDir, CacheStore
	defer func() { SourcesDir, CacheStore = savedSources, savedCache }()
	SourcesDir = t.TempDir()
	CacheStore = filepath.Join(SourcesDir, "_cache")

	tarball := filepath.Join(t.TempDir(), "demo-1.0.tar.gz")
	writeTarball(t, tarball, []tarEntry{
		{name: "demo-1.0/", mode: 0o755, dir: true},
		{name: "demo-1.0/configure", body: "#!/bin/sh\n", mode: 0o755},
	})

	var failing atomic.Bool
	failing.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if failing.Load() {
			http.Error(w, "upstream down", http.StatusInternalServerError)
			return
		}
		http.ServeFile(w, req, tarball)
	}))
	defer srv.Close()

	r := Recipe{Name: "demo", Version: "1.0", Source: srv.URL + "/demo-1.0.tar.gz"}
	p := &sourceProvider{Quiet: true}

	_, err := p.EnsureSource(r)
	require.Error(t, err)

	// No partial file may survive the failure: a later run would take it for
	// a cache hit and fail at extraction forever.
	cachePath := filepath.Join(CacheStore, hashString(r.Source+r.Version)+"-demo-1.0.tar.gz")
	assert.NoFileExists(t, cachePath)

	// With the server healthy again the retry downloads and unpacks cleanly.
	failing.Store(false)
	srcDir, err := p.EnsureSource(r)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(srcDir, "configure"))
}

func TestEnsureSourceSharedTreeForGccStages(t *testing.T) {
	savedSources := SourcesDir
	defer func() { SourcesDir = savedSources }()
	SourcesDir = t.TempDir()

	stage1 := mustRecipe(t, "gcc-stage1")
	stage2 := mustRecipe(t, "gcc-stage2")
	require.Equal(t, stage1.srcDir(), stage2.srcDir())

	// One populated tree satisfies both stages.
	require.NoError(t, os.MkdirAll(stage1.srcDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stage1.srcDir(), "configure"), []byte("#!/bin/sh\n"), 0o755))

	p := NewSourceProvider()
	got1, err := p.EnsureSource(stage1)
	require.NoError(t, err)
	got2, err := p.EnsureSource(stage2)
	require.NoError(t, err)
	assert.Equal(t, got1, got2)
}
