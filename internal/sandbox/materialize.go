package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/stratabuild/strata/internal/digest"
)

// contentStore is the subset of *store.Store the materialiser needs.
type contentStore interface {
	LoadBytes(ctx context.Context, d digest.Digest) ([]byte, bool, error)
	LoadDirectory(ctx context.Context, d digest.Digest) (digest.Directory, bool, error)
}

// blobPather exposes the store's on-disk blob path so the materialiser can
// hard-link instead of copying, when both paths are on the same filesystem
// (§9 Open Question: "symlink vs. hardlink for sandbox materialisation" —
// resolved in DESIGN.md in favor of hard-linking with a copy fallback).
type blobPather interface {
	BlobPath(d digest.Digest) string
}

// Materialize builds root as a fresh directory tree containing exactly the
// files described by tree (§4.G step 3: "Exactly the declared input paths
// exist in the sandbox; no host workspace is visible.").
func Materialize(ctx context.Context, st contentStore, root string, tree digest.Directory) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("sandbox: creating root %s: %w", root, err)
	}
	return materializeDir(ctx, st, root, tree)
}

func materializeDir(ctx context.Context, st contentStore, dir string, tree digest.Directory) error {
	for _, e := range tree.Entries {
		target := filepath.Join(dir, e.Name)
		switch e.Kind {
		case digest.KindDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			sub, ok, err := st.LoadDirectory(ctx, e.Digest)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("sandbox: unknown directory digest %s for %s", e.Digest, target)
			}
			if err := materializeDir(ctx, st, target, sub); err != nil {
				return err
			}
		default:
			if err := materializeFile(ctx, st, target, e); err != nil {
				return err
			}
		}
	}
	return nil
}

func materializeFile(ctx context.Context, st contentStore, target string, e digest.Entry) error {
	mode := os.FileMode(0o644)
	if e.IsExecutable {
		mode = 0o755
	}

	if bp, ok := st.(blobPather); ok {
		if err := os.Link(bp.BlobPath(e.Digest), target); err == nil {
			return os.Chmod(target, mode)
		} else if !errors.Is(err, syscall.EXDEV) && !os.IsNotExist(err) {
			// Any other link failure falls through to the copy path below
			// rather than failing the whole materialisation.
		}
	}

	b, ok, err := st.LoadBytes(ctx, e.Digest)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("sandbox: unknown digest %s for %s", e.Digest, target)
	}
	return os.WriteFile(target, b, mode)
}
