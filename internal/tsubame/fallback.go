package tsubame

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// FallbackError means the substitute artifact could not be obtained or did not
// contain the expected files. There is no further degradation path; the
// orchestrator treats it as fatal.
type FallbackError struct {
	Component string
	Err       error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("fallback for %s failed: %v", e.Component, e.Err)
}

func (e *FallbackError) Unwrap() error { return e.Err }

// FallbackProvider supplies a prebuilt replacement artifact for a component
// whose source build failed, installed into exactly the paths a successful
// build would have populated.
type FallbackProvider interface {
	Supply(r Recipe, tc Toolchain) error
}

// prebuiltFallback fetches <name>-<version>-<triple>.tar.zst from the R2
// bucket when credentials are configured, else from the plain HTTPS mirror,
// and unpacks it into the install prefix.
type prebuiltFallback struct {
	Mirror string
	R2     *R2Client
	BinDir string
	Exec   *Executor
	Quiet  bool
}

func NewFallbackProvider(cfg *Config, execCtx *Executor) *prebuiltFallback {
	f := &prebuiltFallback{
		Mirror: BinaryMirror,
		BinDir: BinDir,
		Exec:   execCtx,
	}
	// R2 is optional; without credentials the HTTPS mirror is the only source.
	if r2, err := NewR2Client(cfg); err == nil {
		f.R2 = r2
	} else {
		debugf("R2 not configured: %v\n", err)
	}
	return f
}

// artifactName is the bucket/mirror key for a component's prebuilt tarball.
func artifactName(r Recipe, tc Toolchain) string {
	return fmt.Sprintf("%s-%s-%s.tar.zst", r.Name, r.Version, tc.Triple)
}

func (f *prebuiltFallback) fetch(r Recipe, tc Toolchain) (string, error) {
	name := artifactName(r, tc)
	dest := filepath.Join(f.BinDir, name)

	if _, err := os.Stat(dest); err == nil {
		debugf("Prebuilt already cached: %s\n", dest)
		return dest, nil
	}
	if err := os.MkdirAll(f.BinDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create bin dir: %w", err)
	}

	if f.R2 != nil {
		ctx := context.Background()
		if f.Exec != nil && f.Exec.Context != nil {
			ctx = f.Exec.Context
		}
		if !f.Quiet {
			arrowf("Fetching prebuilt %s from R2\n", name)
		}
		if err := f.R2.DownloadToFile(ctx, name, dest); err == nil {
			return dest, nil
		} else {
			os.Remove(dest)
			debugf("R2 download of %s failed: %v\n", name, err)
		}
	}

	if f.Mirror == "" {
		return "", fmt.Errorf("no prebuilt source configured (TSUBAME_MIRROR or R2_* settings)")
	}

	url := f.Mirror + "/" + name
	if !f.Quiet {
		arrowf("Checking mirror for prebuilt: %s\n", name)
	}
	// Quiet download so a 404 from the mirror doesn't splash curl noise.
	if err := downloadFile(url, url, dest, true); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("mirror download of %s failed: %w", name, err)
	}
	return dest, nil
}

// install unpacks the artifact into the prefix. When the prefix is not
// writable by the current user, the tarball is unpacked to a staging dir and
// copied in via the root executor.
func (f *prebuiltFallback) install(tarball string, tc Toolchain) error {
	if err := os.MkdirAll(tc.Prefix, 0o755); err == nil && dirWritable(tc.Prefix) {
		return unpackTarZst(tarball, tc.Prefix)
	}

	staging, err := os.MkdirTemp("", "tsubame-prebuilt-*")
	if err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := unpackTarZst(tarball, staging); err != nil {
		return err
	}

	if f.Exec == nil {
		return fmt.Errorf("prefix %s not writable and no root executor available", tc.Prefix)
	}
	mkdirCmd := exec.Command("mkdir", "-p", tc.Prefix)
	if err := f.Exec.Run(mkdirCmd); err != nil {
		return fmt.Errorf("failed to create prefix: %w", err)
	}
	cpCmd := exec.Command("cp", "-a", staging+"/.", tc.Prefix)
	if err := f.Exec.Run(cpCmd); err != nil {
		return fmt.Errorf("failed to copy prebuilt files into %s: %w", tc.Prefix, err)
	}
	return nil
}

func dirWritable(dir string) bool {
	probe := filepath.Join(dir, ".tsubame-write-probe")
	fh, err := os.Create(probe)
	if err != nil {
		return false
	}
	fh.Close()
	os.Remove(probe)
	return true
}

func (f *prebuiltFallback) Supply(r Recipe, tc Toolchain) error {
	tarball, err := f.fetch(r, tc)
	if err != nil {
		return &FallbackError{Component: r.Name, Err: err}
	}

	// The prefix mutation is the part we refuse to cancel halfway through.
	isCriticalAtomic.Store(1)
	defer isCriticalAtomic.Store(0)

	if err := f.install(tarball, tc); err != nil {
		return &FallbackError{Component: r.Name, Err: err}
	}

	// A silent partial copy must read as failure: demand the key output and,
	// for binaries, the exec bit.
	key := r.KeyOutput(tc)
	info, err := os.Stat(key)
	if err != nil {
		return &FallbackError{Component: r.Name, Err: fmt.Errorf("expected output %s missing after install: %w", key, err)}
	}
	if strings.Contains(key, string(filepath.Separator)+"bin"+string(filepath.Separator)) && info.Mode()&0o111 == 0 {
		return &FallbackError{Component: r.Name, Err: fmt.Errorf("expected output %s is not executable", key)}
	}

	if !f.Quiet {
		arrowf("Installed prebuilt %s %s\n", r.Name, r.Version)
	}
	return nil
}
