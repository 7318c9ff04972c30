// Package index implements a local, incrementally updated mirror of the
// registry index, sharded on disk by crate name to bound directory
// fan-out, with an append-only, newline-delimited JSON log per crate.
//
// Grounded on golang-dep's source_manager.go (SourceMgr holds a cachedir
// and serializes access with an on-disk lock file) but scoped down: no VCS
// deduction, just a flat content-addressed tree of per-crate logs, guarded
// by a real shared/exclusive flock instead of dep's create-exclusive-or-fail
// sm.lock.
package index

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/armon/go-radix"
	"github.com/theckman/go-flock"

	"github.com/corgo-rs/corgo/internal/corgolog"
)

// Dep is one dependency entry as recorded in the registry index.
type Dep struct {
	Name            string   `json:"name"`
	Req             string   `json:"req"`
	Features        []string `json:"features,omitempty"`
	Optional        bool     `json:"optional,omitempty"`
	DefaultFeatures bool     `json:"default_features,omitempty"`
	Target          string   `json:"target,omitempty"`
	Kind            string   `json:"kind,omitempty"`
}

// Entry is one line in a crate's index log.
type Entry struct {
	Name   string `json:"name"`
	Vers   string `json:"vers"`
	Deps   []Dep  `json:"deps"`
	Cksum  string `json:"cksum"`
	Yanked bool   `json:"yanked"`
}

// Store is the on-disk index mirror for one registry.
type Store struct {
	dir         string // <cache-root>/index/<registry-hash>
	registryURL string
	client      *http.Client
	log         *corgolog.Logger

	mu       sync.Mutex
	trie     *radix.Tree // crate name -> []Entry, in-memory cache over the dir
	fetched  map[string]bool
	fullSync bool
}

// New opens (creating if needed) the index store rooted at dir, mirroring
// registryURL.
func New(dir, registryURL string, client *http.Client, log *corgolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir %s: %w", dir, err)
	}
	return &Store{
		dir:         dir,
		registryURL: registryURL,
		client:      client,
		log:         log,
		trie:        radix.New(),
		fetched:     make(map[string]bool),
	}, nil
}

// shard hashes a crate name into a two-level directory shard (na/me/name),
// bounding directory fan-out.
func shard(name string) string {
	sum := sha256.Sum256([]byte(name))
	hexsum := hex.EncodeToString(sum[:])
	switch {
	case len(name) <= 2:
		return filepath.Join(fmt.Sprintf("%d", len(name)), name)
	case len(name) == 3:
		return filepath.Join("3", hexsum[:1], name)
	default:
		return filepath.Join(hexsum[0:2], hexsum[2:4], name)
	}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, shard(name))
}

// Shard exposes the sharding rule to other packages (registrytest's mock
// index server has to answer requests on the same paths EnsureFresh
// issues them on).
func Shard(name string) string { return shard(name) }

func (s *Store) lockPath() string {
	return filepath.Join(s.dir, ".corgo-index.lock")
}

// Query returns all known versions of a crate in registry-recorded (append)
// order. A missing crate yields an empty slice, not an error.
func (s *Store) Query(name string) ([]Entry, error) {
	s.mu.Lock()
	if v, ok := s.trie.Get(name); ok {
		s.mu.Unlock()
		return v.([]Entry), nil
	}
	s.mu.Unlock()

	entries, err := s.readShard(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.trie.Insert(name, entries)
	s.mu.Unlock()
	return entries, nil
}

func (s *Store) readShard(name string) ([]Entry, error) {
	fl := flock.NewFlock(s.lockPath())
	if err := fl.RLock(); err != nil {
		return nil, fmt.Errorf("lock index for reading %s: %w", name, err)
	}
	defer fl.Unlock()

	f, err := os.Open(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read index shard for %s: %w", name, err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("malformed index entry for %s: %w", name, err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan index shard for %s: %w", name, err)
	}
	return entries, nil
}

// Update marks the whole local index stale, at most once per session: it
// drops the in-memory cache and forgets which names EnsureFresh has already
// fetched, so the next EnsureFresh for each name fetches its shard from the
// remote again. Update itself downloads nothing, and shards already on disk
// are not rewritten until EnsureFresh is called for their name. It is a
// no-op on the second and later calls within the same Store's lifetime
// unless force is true.
func (s *Store) Update(ctx context.Context, force bool) error {
	s.mu.Lock()
	if s.fullSync && !force {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	fl := flock.NewFlock(s.lockPath())
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("lock index for update: %w", err)
	}
	defer fl.Unlock()

	s.log.Line("Updating", "registry", "", s.registryURL)

	s.mu.Lock()
	s.fullSync = true
	s.trie = radix.New() // drop in-memory cache; forces re-read from disk on next Query
	s.fetched = make(map[string]bool)
	s.mu.Unlock()
	return nil
}

// EnsureFresh lazily refreshes a single crate's shard from the remote index
// if it has not yet been fetched this session: only when Query(name)
// returns empty for a name required by resolution does the source lazily
// refresh and retry once.
func (s *Store) EnsureFresh(ctx context.Context, name string) error {
	s.mu.Lock()
	if s.fetched[name] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	fl := flock.NewFlock(s.lockPath())
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("lock index for %s: %w", name, err)
	}
	defer fl.Unlock()

	url := fmt.Sprintf("%s/index/%s", s.registryURL, filepath.ToSlash(shard(name)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build index request for %s: %w", name, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &IndexFailure{Name: name, Cause: err}
	}
	defer resp.Body.Close()

	s.mu.Lock()
	s.fetched[name] = true
	s.mu.Unlock()

	if resp.StatusCode == http.StatusNotFound {
		return nil // crate genuinely unknown; Query keeps returning empty
	}
	if resp.StatusCode != http.StatusOK {
		return &IndexFailure{Name: name, Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &IndexFailure{Name: name, Cause: err}
	}

	if err := s.writeShardAtomic(name, body); err != nil {
		return &IndexFailure{Name: name, Cause: err}
	}

	s.mu.Lock()
	s.trie.Delete(name) // invalidate so the next Query re-reads from disk
	s.mu.Unlock()
	return nil
}

func (s *Store) writeShardAtomic(name string, body []byte) error {
	dest := s.path(name)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, dest)
}

// SetYanked flips the yanked flag on one version of a crate in place,
// without rewriting other lines. Used by tests and by a yank/unyank
// command wired to a publish-side API outside this package's scope.
func (s *Store) SetYanked(name, vers string, yanked bool) error {
	entries, err := s.readShard(name)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	found := false
	for _, e := range entries {
		if e.Vers == vers {
			e.Yanked = yanked
			found = true
		}
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	if !found {
		return fmt.Errorf("version %s of %s not found in index", vers, name)
	}
	if err := s.writeShardAtomic(name, buf.Bytes()); err != nil {
		return err
	}
	s.mu.Lock()
	s.trie.Delete(name)
	s.mu.Unlock()
	return nil
}

// IndexFailure reports an index synchronization failure.
type IndexFailure struct {
	Name  string
	Cause error
}

func (e *IndexFailure) Error() string {
	return fmt.Sprintf("failed to update index for %s: %v", e.Name, e.Cause)
}

func (e *IndexFailure) Unwrap() error { return e.Cause }
