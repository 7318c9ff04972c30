// Package archive implements a content-addressed directory of downloaded
// tarballs keyed by (name, version), unpacked on demand, with checksum
// verification and an interrupted-unpack sentinel.
//
// Grounded on golang-dep's source_manager.go/source_cache.go (on-disk,
// content-addressed cache keyed by project identity, guarded against
// concurrent fetches) and on termie/go-shutil, which golang-dep uses
// (project_manager.go, vcs_source.go) for recursive directory copies — used
// here to materialize a path-source's tree into the same on-disk shape as a
// fetched registry source.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/karrick/godirwalk"
	shutil "github.com/termie/go-shutil"
	"github.com/theckman/go-flock"
	"go.uber.org/zap"

	"github.com/corgo-rs/corgo/internal/corgolog"
	"github.com/corgo-rs/corgo/internal/model"
)

const sentinelName = ".corgo-ok"

// Cache is the on-disk archive cache for one registry.
type Cache struct {
	dir    string // <cache-root>/cache/<registry-hash> holds *.crate blobs
	srcDir string // <cache-root>/src/<registry-hash> holds unpacked trees
	client *http.Client
	log    *corgolog.Logger
}

// New opens the archive cache rooted at cacheDir (blobs) / srcDir
// (unpacked trees), creating both if needed.
func New(cacheDir, srcDir string, client *http.Client, log *corgolog.Logger) (*Cache, error) {
	for _, d := range []string{cacheDir, srcDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create archive dir %s: %w", d, err)
		}
	}
	return &Cache{dir: cacheDir, srcDir: srcDir, client: client, log: log}, nil
}

func blobName(id model.PackageId) string {
	return fmt.Sprintf("%s-%s.crate", id.Name, id.Version)
}

func (c *Cache) blobPath(id model.PackageId) string {
	return filepath.Join(c.dir, blobName(id))
}

func (c *Cache) unpackDir(id model.PackageId) string {
	return filepath.Join(c.srcDir, fmt.Sprintf("%s-%s", id.Name, id.Version))
}

func (c *Cache) lockPath(id model.PackageId) string {
	return filepath.Join(c.dir, fmt.Sprintf(".%s-%s.lock", id.Name, id.Version))
}

// Ensure returns the path to an unpacked source tree for pkg, downloading
// and verifying the tarball first if needed. Concurrent callers for the
// same pkg observe at-most-one fetch: the per-package flock serializes
// them, and the sentinel short-circuits a caller that arrives after
// another has already finished.
func (c *Cache) Ensure(ctx context.Context, downloadURL string, pkg model.PackageId, expectedChecksum string) (string, error) {
	dest := c.unpackDir(pkg)

	fl := flock.NewFlock(c.lockPath(pkg))
	if err := fl.Lock(); err != nil {
		return "", fmt.Errorf("lock archive cache entry for %s: %w", pkg, err)
	}
	defer fl.Unlock()

	if sentinelPresent(dest) {
		return dest, nil
	}
	// A prior unpack was interrupted (sentinel absent); recreate from
	// scratch.
	os.RemoveAll(dest)

	blob, err := c.fetchBlob(ctx, downloadURL, pkg, expectedChecksum)
	if err != nil {
		return "", err
	}
	defer os.Remove(blob) // no-op once the blob has been moved to blobPath below

	if err := c.unpack(blob, dest); err != nil {
		os.RemoveAll(dest)
		return "", fmt.Errorf("unpack %s: %w", pkg, err)
	}

	if err := writeSentinel(dest); err != nil {
		return "", fmt.Errorf("finalize unpack of %s: %w", pkg, err)
	}

	if err := os.Rename(blob, c.blobPath(pkg)); err != nil {
		return "", fmt.Errorf("store archive of %s: %w", pkg, err)
	}

	if n, err := dirSize(dest); err == nil {
		c.log.Debug("unpacked package", zap.String("package", pkg.String()), zap.Int64("bytes", n))
	}

	return dest, nil
}

// MaterializePath copies a path-source directory into the cache's unpacked
// tree layout, so downstream consumers (the Build Driver Adapter, the
// Package Verifier) never need to special-case path sources.
func (c *Cache) MaterializePath(srcDir string, pkg model.PackageId) (string, error) {
	dest := c.unpackDir(pkg)
	if sentinelPresent(dest) {
		return dest, nil
	}
	os.RemoveAll(dest)
	if _, err := shutil.CopyTree(srcDir, dest, nil); err != nil {
		return "", fmt.Errorf("materialize path dependency %s: %w", pkg, err)
	}
	if err := writeSentinel(dest); err != nil {
		return "", err
	}
	if n, err := dirSize(dest); err == nil {
		c.log.Debug("materialized path dependency", zap.String("package", pkg.String()), zap.Int64("bytes", n))
	}
	return dest, nil
}

// dirSize sums file sizes under dir using a fast, allocation-light
// directory walk. Unpacking has no declared size limit, but a cheap
// running total is useful for diagnosing runaway tarballs.
func dirSize(dir string) (int64, error) {
	var total int64
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			info, err := os.Lstat(path)
			if err != nil {
				return err
			}
			total += info.Size()
			return nil
		},
		Unsorted: true,
	})
	return total, err
}

func sentinelPresent(dest string) bool {
	_, err := os.Stat(filepath.Join(dest, sentinelName))
	return err == nil
}

func writeSentinel(dest string) error {
	return os.WriteFile(filepath.Join(dest, sentinelName), []byte("ok\n"), 0o644)
}

// fetchBlob downloads the tarball to a temp file, verifying its checksum
// against the transport bytes (the checksum is the SHA-256 of the
// transport payload). Transient failures (timeouts, 5xx) retry with
// bounded exponential backoff; 4xx and checksum mismatches do not retry.
func (c *Cache) fetchBlob(ctx context.Context, url string, pkg model.PackageId, expectedChecksum string) (string, error) {
	const maxAttempts = 4
	backoff := 250 * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		path, err := c.tryFetchOnce(ctx, url, pkg, expectedChecksum)
		if err == nil {
			return path, nil
		}

		var cf *ChecksumFailure
		if errors.As(err, &cf) {
			return "", err // fatal, no retry
		}
		var ff *FetchFailure
		if errors.As(err, &ff) && !ff.Transient {
			return "", err // 4xx, no retry
		}

		lastErr = err
		if attempt == maxAttempts {
			break
		}
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		backoff *= 2
	}
	return "", lastErr
}

func (c *Cache) tryFetchOnce(ctx context.Context, url string, pkg model.PackageId, expectedChecksum string) (string, error) {
	c.log.Line("Downloading", pkg.Name, pkg.Version.String(), pkg.Source.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &FetchFailure{Pkg: pkg, URL: url, Cause: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &FetchFailure{Pkg: pkg, URL: url, Cause: err, Transient: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", &FetchFailure{Pkg: pkg, URL: url, Cause: fmt.Errorf("status %d", resp.StatusCode), Transient: true}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &FetchFailure{Pkg: pkg, URL: url, Cause: fmt.Errorf("status %d", resp.StatusCode)}
	}

	tmp, err := os.CreateTemp(c.dir, ".fetch-*")
	if err != nil {
		return "", &FetchFailure{Pkg: pkg, URL: url, Cause: err}
	}
	tmpName := tmp.Name()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", &FetchFailure{Pkg: pkg, URL: url, Cause: err, Transient: true}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", &FetchFailure{Pkg: pkg, URL: url, Cause: err}
	}

	got := hex.EncodeToString(h.Sum(nil))
	if expectedChecksum != "" && got != expectedChecksum {
		os.Remove(tmpName)
		return "", &ChecksumFailure{Pkg: pkg, Registry: pkg.Source.String(), Expected: expectedChecksum, Got: got}
	}

	return tmpName, nil
}

func (c *Cache) unpack(blobPath, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	f, err := os.Open(blobPath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("tar: %w", err)
		}

		target := filepath.Join(dest, filepath.Clean(hdr.Name))
		if !withinDir(dest, target) {
			return fmt.Errorf("tar entry %q escapes destination", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode&0o777))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
	return nil
}

func withinDir(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel != ".." && !filepathHasDotDotPrefix(rel)
}

func filepathHasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.' &&
		(len(rel) == 2 || os.IsPathSeparator(rel[2]))
}

// FetchFailure reports a failed package download.
type FetchFailure struct {
	Pkg       model.PackageId
	URL       string
	Cause     error
	Transient bool
}

func (e *FetchFailure) Error() string {
	return fmt.Sprintf("failed to download package %s from %s: %v", e.Pkg, e.URL, e.Cause)
}
func (e *FetchFailure) Unwrap() error { return e.Cause }

// ChecksumFailure reports that a downloaded tarball's checksum didn't
// match the registry-recorded value.
type ChecksumFailure struct {
	Pkg      model.PackageId
	Registry string
	Expected string
	Got      string
}

func (e *ChecksumFailure) Error() string {
	return fmt.Sprintf("failed to verify the checksum of %s: expected %s, got %s (registry %s)", e.Pkg, e.Expected, e.Got, e.Registry)
}
