package tsubame

import (
	"archive/tar"
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
	"golang.org/x/sys/unix"
)

// shouldStripTar reports whether the archive has a single top-level directory
// that should be stripped on extraction (the usual foo-1.2.3/ layout).
func shouldStripTar(archive string) (bool, error) {
	// Only list the first entries; enough to detect the layout cheaply.
	cmd := exec.Command("sh", "-c", fmt.Sprintf("tar tf %s | head -n 51", archive))

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		return false, fmt.Errorf("tar tf failed: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return false, nil
	}

	slashIdx := strings.IndexByte(lines[0], '/')
	if slashIdx == -1 {
		return false, nil
	}
	topDir := lines[0][:slashIdx+1]

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, topDir) {
			return false, nil
		}
	}
	return true, nil
}

// decompressor wraps the archive file reader according to the file extension.
func decompressor(path string, f *os.File) (io.Reader, func(), error) {
	noop := func() {}
	switch {
	case strings.HasSuffix(path, ".tar.gz") || strings.HasSuffix(path, ".tgz"):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create gzip reader for %s: %w", path, err)
		}
		return gz, func() { gz.Close() }, nil
	case strings.HasSuffix(path, ".tar.bz2"):
		return bzip2.NewReader(f), noop, nil
	case strings.HasSuffix(path, ".tar.xz"):
		r, err := xz.NewReader(f)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create xz reader for %s: %w", path, err)
		}
		return r, noop, nil
	case strings.HasSuffix(path, ".tar.zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create zstd reader for %s: %w", path, err)
		}
		return zr, func() { zr.Close() }, nil
	case strings.HasSuffix(path, ".tar"):
		return f, noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported archive format: %s", path)
	}
}

// writeTarEntry materializes one tar entry under dest.
func writeTarEntry(hdr *tar.Header, tr *tar.Reader, dest, name string) error {
	targetPath := filepath.Join(dest, name)
	// Prevent path traversal: the entry must land inside dest.
	if !strings.HasPrefix(targetPath, filepath.Clean(dest)+string(os.PathSeparator)) {
		return fmt.Errorf("illegal file path in archive: %s", name)
	}
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return fmt.Errorf("failed to create parent dir for %s: %w", targetPath, err)
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(targetPath, os.FileMode(hdr.Mode)); err != nil {
			return fmt.Errorf("failed to create dir %s: %w", targetPath, err)
		}
		if os.Geteuid() == 0 {
			_ = os.Chown(targetPath, hdr.Uid, hdr.Gid)
		}
	case tar.TypeReg:
		out, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
		if err != nil {
			return fmt.Errorf("failed to create file %s: %w", targetPath, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("failed to write file %s: %w", targetPath, err)
		}
		out.Close()
		if err := os.Chtimes(targetPath, hdr.AccessTime, hdr.ModTime); err != nil {
			debugf("failed to set times for %s: %v\n", targetPath, err)
		}
		if os.Geteuid() == 0 {
			_ = os.Chown(targetPath, hdr.Uid, hdr.Gid)
		}
	case tar.TypeSymlink:
		_ = os.Remove(targetPath)
		if err := os.Symlink(hdr.Linkname, targetPath); err != nil && !os.IsExist(err) {
			return fmt.Errorf("failed to create symlink %s -> %s: %w", targetPath, hdr.Linkname, err)
		}
		if os.Geteuid() == 0 {
			_ = unix.Lchown(targetPath, hdr.Uid, hdr.Gid)
		}
	default:
		debugf("Skipping unsupported tar entry type %c: %s\n", hdr.Typeflag, hdr.Name)
	}
	return nil
}

// extractTar extracts a source tarball into dest, stripping the top-level
// directory when the archive has one. System tar is tried first; the pure-Go
// path handles gz/bz2/xz/zst and PAX headers.
func extractTar(realPath, dest string) error {
	f, err := os.Open(realPath)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", realPath, err)
	}
	defer f.Close()

	strip, err := shouldStripTar(realPath)
	if err != nil {
		debugf("shouldStripTar(%s) failed: %v\n", realPath, err)
	}

	args := []string{"xf", realPath, "-C", dest}
	if strip {
		args = append(args, "--strip-components=1")
	}
	if err := exec.Command("tar", args...).Run(); err == nil {
		debugf("Extracted %s with system tar\n", realPath)
		return nil
	}

	r, closeFn, err := decompressor(realPath, f)
	if err != nil {
		return err
	}
	defer closeFn()

	tr := tar.NewReader(r)

	// Track the prefix for stripping (e.g., "gcc-13.2.0/")
	var prefix string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar header in %s: %w", realPath, err)
		}

		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			if _, err := io.Copy(io.Discard, tr); err != nil {
				return fmt.Errorf("error skipping extended header data in %s: %w", realPath, err)
			}
			continue
		}

		if prefix == "" && (hdr.Typeflag == tar.TypeDir || hdr.Typeflag == tar.TypeReg) {
			if slashIdx := strings.Index(hdr.Name, "/"); slashIdx != -1 {
				prefix = hdr.Name[:slashIdx+1]
				debugf("Detected tar prefix for stripping: %s\n", prefix)
			}
		}

		name := strings.TrimPrefix(hdr.Name, prefix)
		if name == "" {
			continue
		}
		if err := writeTarEntry(hdr, tr, dest, name); err != nil {
			return err
		}
	}
	return nil
}

// unpackTarZst extracts a prebuilt .tar.zst as-is into dest, without any
// top-level stripping: prebuilt artifacts are rooted at the install prefix.
func unpackTarZst(tarballPath, dest string) error {
	f, err := os.Open(tarballPath)
	if err != nil {
		return fmt.Errorf("open tarball: %w", err)
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("tar read: %w", err)
		}
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}
		name := strings.TrimPrefix(filepath.Clean(hdr.Name), "/")
		if name == "." || name == "" {
			continue
		}
		if err := writeTarEntry(hdr, tr, dest, name); err != nil {
			return err
		}
	}
	return nil
}
