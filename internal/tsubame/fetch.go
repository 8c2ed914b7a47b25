package tsubame

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
)

func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Default handshake timeout is 10s; some GNU mirrors are slow to accept.
	transport.TLSHandshakeTimeout = 30 * time.Second
	return &http.Client{
		Transport: transport,
		Timeout:   300 * time.Second, // large tarballs
	}
}

// applyGnuMirror checks if a URL is a canonical GNU URL and replaces it with
// the configured mirror. Pure string rewrite; same content, faster source.
func applyGnuMirror(originalURL string) string {
	if gnuMirrorURL != "" && strings.HasPrefix(originalURL, gnuOriginalURL) {
		return strings.Replace(originalURL, gnuOriginalURL, gnuMirrorURL, 1)
	}
	return originalURL
}

// downloadFile downloads finalURL into destFile, preferring curl, then wget,
// then the native HTTP client. An flock around the destination serializes
// concurrent invocations against the shared cache.
func downloadFile(originalURL, finalURL, destFile string, quiet bool) error {
	if !quiet && originalURL != finalURL {
		gnuMirrorMessageOnce.Do(func() {
			arrowf("Using GNU mirror: %s\n", gnuMirrorURL)
		})
	}

	if err := os.MkdirAll(filepath.Dir(destFile), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", destFile, err)
	}

	lockPath := destFile + ".lock"
	lFile, err := os.Create(lockPath)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer lFile.Close()

	if err := unix.Flock(int(lFile.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock for download: %w", err)
	}
	defer unix.Flock(int(lFile.Fd()), unix.LOCK_UN)

	// Another invocation may have finished the download while we waited.
	if _, err := os.Stat(destFile); err == nil {
		debugf("File %s appeared after acquiring lock, skipping download.\n", destFile)
		_ = os.Remove(lockPath)
		return nil
	}

	defer func() {
		if _, err := os.Stat(destFile); err == nil {
			_ = os.Remove(lockPath)
		}
	}()

	debugf("Downloading %s -> %s\n", finalURL, destFile)

	// --- Primary choice: curl ---
	if _, err := exec.LookPath("curl"); err == nil {
		curlArgs := []string{"-L", "--fail", "-o", destFile}
		if quiet {
			curlArgs = append(curlArgs, "-sS")
		} else {
			curlArgs = append(curlArgs, "-#")
		}
		curlArgs = append(curlArgs, finalURL)
		cmd := exec.Command("curl", curlArgs...)
		if quiet {
			cmd.Stdout = io.Discard
			cmd.Stderr = io.Discard
		} else {
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
		}
		if err := cmd.Run(); err == nil {
			return nil
		}
		debugf("curl failed, falling back to wget\n")
	} else {
		debugf("curl not found, trying wget\n")
	}

	// --- Fallback 1: wget ---
	if _, err := exec.LookPath("wget"); err == nil {
		args := []string{"-O", destFile, finalURL}
		if quiet {
			args = append([]string{"-q"}, args...)
		} else {
			args = append([]string{"-nv"}, args...)
		}
		cmd := exec.Command("wget", args...)
		if quiet {
			cmd.Stdout = io.Discard
			cmd.Stderr = io.Discard
		} else {
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
		}
		if err := cmd.Run(); err == nil {
			return nil
		}
		debugf("wget failed, falling back to native HTTP client\n")
	} else {
		debugf("wget not found, using native HTTP client\n")
	}

	// --- Fallback 2: native Go HTTP client ---
	resp, err := newHTTPClient().Get(finalURL)
	if err != nil {
		return fmt.Errorf("native http get failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	out, err := os.Create(destFile)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", destFile, err)
	}
	defer out.Close()

	var w io.Writer = out
	if !quiet {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(destFile))
		w = io.MultiWriter(out, bar)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to write to destination file: %w", err)
	}
	return nil
}

// SourceProvider ensures a recipe's source tree exists locally. The pipeline
// treats it as an external collaborator: populated tree in, no opinion about
// how it got there.
type SourceProvider interface {
	EnsureSource(r Recipe) (string, error)
}

// sourceProvider downloads upstream tarballs into the shared cache and
// extracts them under SourcesDir. Idempotent: an already-populated source
// tree short-circuits everything.
type sourceProvider struct {
	Quiet bool
}

func NewSourceProvider() *sourceProvider {
	return &sourceProvider{}
}

func (p *sourceProvider) EnsureSource(r Recipe) (string, error) {
	srcDir := r.srcDir()

	// Non-empty tree means a previous run already fetched and unpacked it.
	if entries, err := os.ReadDir(srcDir); err == nil && len(entries) > 0 {
		debugf("Source tree ready: %s\n", srcDir)
		return srcDir, nil
	}

	originalURL := r.Source
	finalURL := applyGnuMirror(originalURL)
	filename := filepath.Base(originalURL)

	// Cache key includes the version so static URLs don't serve stale files.
	cachePath := filepath.Join(CacheStore, hashString(originalURL+r.Version)+"-"+filename)

	if _, err := os.Stat(cachePath); os.IsNotExist(err) {
		if !p.Quiet {
			arrowf("Fetching source: %s\n", filename)
		}
		if err := downloadFile(originalURL, finalURL, cachePath, p.Quiet); err != nil {
			// A partial file left by a failed curl would read as a cache hit
			// on the next run.
			_ = os.Remove(cachePath)
			return "", fmt.Errorf("failed to download %s: %w", finalURL, err)
		}
	} else {
		debugf("Already in cache: %s\n", cachePath)
	}

	if err := verifyChecksum(cachePath, r.Checksum); err != nil {
		// A corrupt cache entry would fail every retry; drop it.
		_ = os.Remove(cachePath)
		return "", err
	}

	// Extract into a temp sibling and rename, so an interrupted extraction
	// never leaves a half-populated tree that a resume would trust.
	tmpDir := srcDir + fmt.Sprintf(".tmp.%d", time.Now().UnixNano())
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create source dir: %w", err)
	}
	if err := extractTar(cachePath, tmpDir); err != nil {
		_ = os.RemoveAll(tmpDir)
		return "", fmt.Errorf("failed to extract %s: %w", cachePath, err)
	}
	_ = os.RemoveAll(srcDir)
	if err := os.Rename(tmpDir, srcDir); err != nil {
		_ = os.RemoveAll(tmpDir)
		return "", fmt.Errorf("failed to move source tree into place: %w", err)
	}

	return srcDir, nil
}
