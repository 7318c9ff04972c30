// Package registrytest provides an in-memory, in-process registry server
// for tests: it serves the Index Store's shard-fetch requests and the
// Archive Cache's download requests from data assembled by Publish, so
// resolver/source/lockfile tests never touch a real network.
//
// Grounded on golang-dep's gps/internal/test fixtures (a canned,
// in-memory stand-in for a real source manager, used throughout
// golang-dep's solve tests) — adapted from dep's static project
// fixtures to an actual httptest.Server so this repo's HTTP-speaking
// Index Store and Archive Cache can be exercised unmodified.
package registrytest

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"

	"github.com/corgo-rs/corgo/internal/index"
)

// Registry is a mock package registry: an index of published crates plus
// their tarball blobs, served over HTTP in the shape the Index Store and
// Archive Cache expect.
type Registry struct {
	srv *httptest.Server

	mu      sync.Mutex
	entries map[string][]index.Entry // crate name -> entries, in publish order
	blobs   map[string][]byte        // "name-version" -> tarball bytes
}

// New starts a Registry and returns it; call Close when done.
func New() *Registry {
	r := &Registry{
		entries: make(map[string][]index.Entry),
		blobs:   make(map[string][]byte),
	}
	r.srv = httptest.NewServer(http.HandlerFunc(r.handle))
	return r
}

// URL is the registry's base URL, suitable as a SourceId.URL or
// config.RegistryURL.
func (r *Registry) URL() string { return r.srv.URL }

// Close shuts down the underlying test server.
func (r *Registry) Close() { r.srv.Close() }

// Publish adds a version of a crate to the index and stores a tarball
// built from files (path -> content). The checksum recorded in the index
// entry, and returned here, is the SHA-256 of the gzip-compressed tarball
// bytes — the transport payload — so a real Archive Cache fetch against
// this registry verifies correctly.
func (r *Registry) Publish(name, version string, deps []index.Dep, files map[string]string) (string, error) {
	blob, err := buildTarball(files)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(blob)
	cksum := hex.EncodeToString(sum[:])

	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs[blobKey(name, version)] = blob
	r.entries[name] = append(r.entries[name], index.Entry{
		Name:  name,
		Vers:  version,
		Deps:  deps,
		Cksum: cksum,
	})
	return cksum, nil
}

// Yank flips a published version's yanked flag.
func (r *Registry) Yank(name, version string, yanked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries[name] {
		if e.Vers == version {
			r.entries[name][i].Yanked = yanked
		}
	}
}

func blobKey(name, version string) string { return name + "-" + version }

func buildTarball(files map[string]string) ([]byte, error) {
	var raw bytes.Buffer
	tw := tar.NewWriter(&raw)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	var gzbuf bytes.Buffer
	gw := gzip.NewWriter(&gzbuf)
	if _, err := gw.Write(raw.Bytes()); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return gzbuf.Bytes(), nil
}

// handle serves two routes: the Index Store's shard fetch
// (".../index/<shard path ending in the crate name>") and the Archive
// Cache's tarball download (".../<name>/<version>/download").
func (r *Registry) handle(w http.ResponseWriter, req *http.Request) {
	path := strings.TrimPrefix(req.URL.Path, "/")

	if strings.HasPrefix(path, "index/") {
		r.serveIndex(w, strings.TrimPrefix(path, "index/"))
		return
	}
	if strings.HasSuffix(path, "/download") {
		r.serveDownload(w, strings.TrimSuffix(path, "/download"))
		return
	}
	http.NotFound(w, req)
}

func (r *Registry) serveIndex(w http.ResponseWriter, shardPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var entries []index.Entry
	for name := range r.entries {
		if index.Shard(name) == filepath.FromSlash(shardPath) {
			entries = append(entries, r.entries[name]...)
			break
		}
	}

	if len(entries) == 0 {
		http.NotFound(w, nil)
		return
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	w.Write(buf.Bytes())
}

func (r *Registry) serveDownload(w http.ResponseWriter, nameVersion string) {
	idx := strings.LastIndex(nameVersion, "/")
	if idx < 0 {
		http.NotFound(w, nil)
		return
	}
	name, version := nameVersion[:idx], nameVersion[idx+1:]

	r.mu.Lock()
	blob, ok := r.blobs[blobKey(name, version)]
	r.mu.Unlock()
	if !ok {
		http.NotFound(w, nil)
		return
	}
	w.Write(blob)
}

// DepReq is a convenience constructor for index.Dep, for tests that only
// care about name/requirement/kind.
func DepReq(name, req, kind string) index.Dep {
	return index.Dep{Name: name, Req: req, Kind: kind}
}
