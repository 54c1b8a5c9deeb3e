package sandbox

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/stratabuild/strata/internal/digest"
	strataerrors "github.com/stratabuild/strata/internal/errors"
)

// Cache is the process cache of §4.G step 2/6: keyed by a Process
// description's fingerprint, holding the Result it produced.
type Cache interface {
	Get(ctx context.Context, fingerprint string) (Result, bool, error)
	Put(ctx context.Context, fingerprint string, r Result) error
}

// MemoryCache is the fastest, process-local layer.
type MemoryCache struct {
	m *xsync.MapOf[string, Result]
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: xsync.NewMapOf[string, Result]()}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, fingerprint string) (Result, bool, error) {
	r, ok := c.m.Load(fingerprint)
	return r, ok, nil
}

// Put implements Cache.
func (c *MemoryCache) Put(_ context.Context, fingerprint string, r Result) error {
	c.m.Store(fingerprint, r)
	return nil
}

// DiskCache persists Results as small JSON files under a local directory,
// the default second layer ("in-memory → local disk → remote" per §4.G
// step 2).
type DiskCache struct {
	dir string
}

// NewDiskCache creates a DiskCache rooted at dir, creating it if absent.
func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, strataerrors.New(strataerrors.KindIO, err)
	}
	return &DiskCache{dir: dir}, nil
}

func (c *DiskCache) path(fingerprint string) string {
	return filepath.Join(c.dir, fingerprint+".json")
}

// Get implements Cache.
func (c *DiskCache) Get(_ context.Context, fingerprint string) (Result, bool, error) {
	b, err := os.ReadFile(c.path(fingerprint))
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, false, nil
		}
		return Result{}, false, strataerrors.New(strataerrors.KindIO, err)
	}
	var r Result
	if err := json.Unmarshal(b, &r); err != nil {
		return Result{}, false, strataerrors.New(strataerrors.KindEngine, err)
	}
	return r, true, nil
}

// Put implements Cache.
func (c *DiskCache) Put(_ context.Context, fingerprint string, r Result) error {
	b, err := json.Marshal(r)
	if err != nil {
		return strataerrors.New(strataerrors.KindEngine, err)
	}
	tmp := c.path(fingerprint) + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return strataerrors.New(strataerrors.KindIO, err)
	}
	return os.Rename(tmp, c.path(fingerprint))
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresCache is the optional durable, shareable third layer
// (SPEC_FULL domain stack: "optional Postgres-backed process cache table,
// migrated with golang-migrate; the default backend is local-disk, this is
// the pluggable alternative").
type PostgresCache struct {
	db *sql.DB
}

// NewPostgresCache opens connString, migrates the process_cache table to
// the latest version, and returns a ready PostgresCache.
func NewPostgresCache(connString string) (*PostgresCache, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, strataerrors.New(strataerrors.KindIO, fmt.Errorf("sandbox: opening postgres: %w", err))
	}
	if err := migrateProcessCache(db); err != nil {
		return nil, err
	}
	return &PostgresCache{db: db}, nil
}

func migrateProcessCache(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return strataerrors.New(strataerrors.KindEngine, fmt.Errorf("sandbox: migration driver: %w", err))
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return strataerrors.New(strataerrors.KindEngine, fmt.Errorf("sandbox: migration source: %w", err))
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return strataerrors.New(strataerrors.KindEngine, fmt.Errorf("sandbox: migration setup: %w", err))
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return strataerrors.New(strataerrors.KindEngine, fmt.Errorf("sandbox: running migrations: %w", err))
	}
	return nil
}

// Get implements Cache.
func (c *PostgresCache) Get(ctx context.Context, fingerprint string) (Result, bool, error) {
	var r Result
	var stdoutHash, stderrHash, outputHash string
	var stdoutSize, stderrSize, outputSize int64
	row := c.db.QueryRowContext(ctx,
		`SELECT exit_code, stdout_hash, stdout_size, stderr_hash, stderr_size, output_hash, output_size, timed_out
		 FROM process_cache WHERE fingerprint = $1`, fingerprint)
	if err := row.Scan(&r.ExitCode, &stdoutHash, &stdoutSize, &stderrHash, &stderrSize, &outputHash, &outputSize, &r.TimedOut); err != nil {
		if err == sql.ErrNoRows {
			return Result{}, false, nil
		}
		return Result{}, false, strataerrors.New(strataerrors.KindIO, err)
	}
	r.StdoutDigest = digest.Digest{Hash: stdoutHash, Size: stdoutSize}
	r.StderrDigest = digest.Digest{Hash: stderrHash, Size: stderrSize}
	r.OutputDigest = digest.Digest{Hash: outputHash, Size: outputSize}
	return r, true, nil
}

// Put implements Cache.
func (c *PostgresCache) Put(ctx context.Context, fingerprint string, r Result) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO process_cache
		   (fingerprint, exit_code, stdout_hash, stdout_size, stderr_hash, stderr_size, output_hash, output_size, timed_out)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (fingerprint) DO UPDATE SET
		   exit_code = EXCLUDED.exit_code,
		   stdout_hash = EXCLUDED.stdout_hash, stdout_size = EXCLUDED.stdout_size,
		   stderr_hash = EXCLUDED.stderr_hash, stderr_size = EXCLUDED.stderr_size,
		   output_hash = EXCLUDED.output_hash, output_size = EXCLUDED.output_size,
		   timed_out = EXCLUDED.timed_out`,
		fingerprint, r.ExitCode,
		r.StdoutDigest.Hash, r.StdoutDigest.Size,
		r.StderrDigest.Hash, r.StderrDigest.Size,
		r.OutputDigest.Hash, r.OutputDigest.Size,
		r.TimedOut)
	if err != nil {
		return strataerrors.New(strataerrors.KindIO, err)
	}
	return nil
}

// LayeredCache checks each layer in order, populating earlier (faster)
// layers on a hit from a later one.
type LayeredCache struct {
	layers []Cache
}

// NewLayeredCache composes layers, fastest first.
func NewLayeredCache(layers ...Cache) *LayeredCache {
	return &LayeredCache{layers: layers}
}

// Get implements Cache.
func (l *LayeredCache) Get(ctx context.Context, fingerprint string) (Result, bool, error) {
	for i, layer := range l.layers {
		r, ok, err := layer.Get(ctx, fingerprint)
		if err != nil {
			return Result{}, false, err
		}
		if ok {
			for j := 0; j < i; j++ {
				_ = l.layers[j].Put(ctx, fingerprint, r)
			}
			return r, true, nil
		}
	}
	return Result{}, false, nil
}

// Put implements Cache, writing to every layer.
func (l *LayeredCache) Put(ctx context.Context, fingerprint string, r Result) error {
	for _, layer := range l.layers {
		if err := layer.Put(ctx, fingerprint, r); err != nil {
			return err
		}
	}
	return nil
}
