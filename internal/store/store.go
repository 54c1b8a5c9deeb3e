// Package store implements the content-addressed blob and directory store
// (component A). It is local file-backed with an LRU eviction policy guarded
// by leases, and an optional remote CAS mirror.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/stratabuild/strata/internal/digest"
	strataerrors "github.com/stratabuild/strata/internal/errors"
)

// entry tracks bookkeeping for one stored digest: its lease expiry (zero
// means unleased) and the last-access time used by the LRU evictor.
type entry struct {
	mu         sync.Mutex
	leaseUntil time.Time
	lastAccess time.Time
	refs       int
}

// Mirror is the optional remote CAS mirror (§4.A). Implementations fetch and
// publish blobs by digest; this package ships no implementation of its own.
type Mirror interface {
	Fetch(ctx context.Context, d digest.Digest) ([]byte, error)
	Publish(ctx context.Context, d digest.Digest, b []byte) error
}

// Store is the local file-backed content store.
type Store struct {
	root string

	entries *xsync.MapOf[string, *entry]

	mirror Mirror

	highWaterBytes int64
	backoff        func() backoff.BackOff
}

// Option configures a Store.
type Option func(*Store)

// WithMirror attaches an optional remote CAS mirror.
func WithMirror(m Mirror) Option { return func(s *Store) { s.mirror = m } }

// WithHighWaterMark sets the disk-usage threshold (bytes) above which Reap
// evicts unleased entries (§4.A "Eviction policy").
func WithHighWaterMark(n int64) Option { return func(s *Store) { s.highWaterBytes = n } }

// New creates a Store rooted at dir, creating blobs/ and directories/
// subtrees as described in §6 "Persisted state".
func New(dir string, opts ...Option) (*Store, error) {
	for _, sub := range []string{"blobs", "directories", "leases"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, strataerrors.New(strataerrors.KindIO, fmt.Errorf("store: creating %s: %w", sub, err))
		}
	}
	s := &Store{
		root:           dir,
		entries:        xsync.NewMapOf[string, *entry](),
		highWaterBytes: 10 << 30, // 10 GiB default high-water mark
		backoff:        func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) blobPath(d digest.Digest) string {
	return filepath.Join(s.root, "blobs", d.Hash[:2], d.Hash)
}

// BlobPath exposes the on-disk path of d's blob, so callers outside this
// package (the sandbox materialiser) can hard-link instead of copying.
func (s *Store) BlobPath(d digest.Digest) string {
	return s.blobPath(d)
}

func (s *Store) dirPath(d digest.Digest) string {
	return filepath.Join(s.root, "directories", d.Hash[:2], d.Hash)
}

func (s *Store) touch(d digest.Digest) *entry {
	e, _ := s.entries.LoadOrCompute(d.String(), func() *entry {
		return &entry{lastAccess: time.Now()}
	})
	e.mu.Lock()
	e.lastAccess = time.Now()
	e.mu.Unlock()
	return e
}

// StoreBytes idempotently inserts bytes and returns the resulting Digest.
// Publish is atomic via temp-file + rename so a crash never leaves a
// partially-written blob published under its hash (§4.A, §5 "Cancellation").
func (s *Store) StoreBytes(_ context.Context, b []byte) (digest.Digest, error) {
	d := digest.Of(b)
	path := s.blobPath(d)
	if _, err := os.Stat(path); err == nil {
		s.touch(d)
		return d, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return digest.Digest{}, strataerrors.New(strataerrors.KindIO, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return digest.Digest{}, strataerrors.New(strataerrors.KindIO, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return digest.Digest{}, strataerrors.New(strataerrors.KindIO, err)
	}
	if err := tmp.Close(); err != nil {
		return digest.Digest{}, strataerrors.New(strataerrors.KindIO, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil && !os.IsExist(err) {
		return digest.Digest{}, strataerrors.New(strataerrors.KindIO, err)
	}
	s.touch(d)
	return d, nil
}

// LoadBytes returns the bytes for d, or (nil, false) if evicted or never
// present. It never invents content: a hash mismatch on read is fatal and
// treated as store corruption (§4.A "Failure semantics").
func (s *Store) LoadBytes(ctx context.Context, d digest.Digest) ([]byte, bool, error) {
	path := s.blobPath(d)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if s.mirror != nil {
				mb, mErr := s.fetchFromMirror(ctx, d)
				if mErr == nil {
					return mb, true, nil
				}
			}
			return nil, false, nil
		}
		return nil, false, strataerrors.New(strataerrors.KindIO, err)
	}
	got := digest.Of(b)
	if got.Hash != d.Hash || got.Size != d.Size {
		return nil, false, strataerrors.Newf(strataerrors.KindEngine,
			"store: corruption detected for %s: on-disk content hashes to %s", d, got)
	}
	s.touch(d)
	return b, true, nil
}

func (s *Store) fetchFromMirror(ctx context.Context, d digest.Digest) ([]byte, error) {
	var out []byte
	op := func() error {
		b, err := s.mirror.Fetch(ctx, d)
		if err != nil {
			return err
		}
		out = b
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(s.backoff(), ctx)); err != nil {
		return nil, strataerrors.New(strataerrors.KindEngine, err)
	}
	// A fetched mirror blob is republished locally so future reads are local.
	if _, err := s.StoreBytes(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// StoreDirectory validates tree, canonically encodes it, and stores the
// encoding as a blob keyed by the tree's digest (§4.A "store_directory").
func (s *Store) StoreDirectory(ctx context.Context, tree digest.Directory) (digest.Digest, error) {
	if err := tree.Validate(); err != nil {
		return digest.Digest{}, strataerrors.New(strataerrors.KindUser, err)
	}
	enc := tree.Encode()
	d, err := s.StoreBytes(ctx, enc)
	if err != nil {
		return digest.Digest{}, err
	}
	dirPath := s.dirPath(d)
	if err := os.MkdirAll(filepath.Dir(dirPath), 0o755); err == nil {
		_ = os.WriteFile(dirPath, enc, 0o644)
	}
	return d, nil
}

// LoadDirectory decodes the tree stored at d.
func (s *Store) LoadDirectory(ctx context.Context, d digest.Digest) (digest.Directory, bool, error) {
	b, ok, err := s.LoadBytes(ctx, d)
	if err != nil || !ok {
		return digest.Directory{}, ok, err
	}
	tree, err := decodeDirectory(b)
	if err != nil {
		return digest.Directory{}, false, strataerrors.New(strataerrors.KindEngine, err)
	}
	return tree, true, nil
}

// Lease protects d from eviction for ttl. Leases are refcounted so the same
// digest may be leased by multiple concurrent holders (§3 "Ownership",
// §5 "Shared resources").
func (s *Store) Lease(d digest.Digest, ttl time.Duration) func() {
	e := s.touch(d)
	e.mu.Lock()
	e.refs++
	until := time.Now().Add(ttl)
	if until.After(e.leaseUntil) {
		e.leaseUntil = until
	}
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			e.refs--
			e.mu.Unlock()
		})
	}
}

// Reap evicts unleased entries once total usage exceeds the high-water mark
// (§4.A "Eviction policy"). now is passed in explicitly so callers control
// the clock (it is unavailable to workflow scripts and useful for tests).
func (s *Store) Reap(now time.Time) (evicted int, err error) {
	used, err := dirSize(filepath.Join(s.root, "blobs"))
	if err != nil {
		return 0, strataerrors.New(strataerrors.KindIO, err)
	}
	if used < s.highWaterBytes {
		return 0, nil
	}

	type candidate struct {
		key        string
		lastAccess time.Time
	}
	var candidates []candidate
	s.entries.Range(func(key string, e *entry) bool {
		e.mu.Lock()
		leased := e.refs > 0 || now.Before(e.leaseUntil)
		la := e.lastAccess
		e.mu.Unlock()
		if !leased {
			candidates = append(candidates, candidate{key: key, lastAccess: la})
		}
		return true
	})

	// Oldest-accessed first (LRU).
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].lastAccess.Before(candidates[i].lastAccess) {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}

	for _, c := range candidates {
		if used < s.highWaterBytes {
			break
		}
		var d digest.Digest
		if _, scanErr := fmt.Sscanf(c.key, "%64s:%d", &d.Hash, &d.Size); scanErr != nil {
			continue
		}
		path := s.blobPath(d)
		info, statErr := os.Stat(path)
		if statErr != nil {
			s.entries.Delete(c.key)
			continue
		}
		if rmErr := os.Remove(path); rmErr == nil {
			used -= info.Size()
			evicted++
			s.entries.Delete(c.key)
		}
	}
	return evicted, nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
