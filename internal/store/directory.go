package store

import (
	"bytes"
	"context"
	"path"
	"sort"

	"github.com/stratabuild/strata/internal/digest"
	strataerrors "github.com/stratabuild/strata/internal/errors"
	"github.com/stratabuild/strata/internal/globs"
)

func decodeDirectory(b []byte) (digest.Directory, error) {
	r := bytes.NewReader(b)
	var entries []digest.Entry
	for r.Len() > 0 {
		name, err := readVarString(r)
		if err != nil {
			return digest.Directory{}, err
		}
		hash, err := readVarString(r)
		if err != nil {
			return digest.Directory{}, err
		}
		size, err := readVarInt(r)
		if err != nil {
			return digest.Directory{}, err
		}
		kind, err := readVarInt(r)
		if err != nil {
			return digest.Directory{}, err
		}
		execByte, err := r.ReadByte()
		if err != nil {
			return digest.Directory{}, err
		}
		entries = append(entries, digest.Entry{
			Name:         name,
			Digest:       digest.Digest{Hash: hash, Size: size},
			Kind:         digest.EntryKind(kind),
			IsExecutable: execByte == 1,
		})
	}
	return digest.Directory{Entries: entries}, nil
}

func readVarString(r *bytes.Reader) (string, error) {
	n, err := readVarInt(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readVarInt(r *bytes.Reader) (int64, error) {
	var result int64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, nil
}

// MergeDirectories computes the deterministic union of the given directory
// digests, recursing into shared subdirectories. It fails with
// ErrMergeConflict when two inputs contain the same path with different
// contents or incompatible executability (§4.A "merge_directories").
func (s *Store) MergeDirectories(ctx context.Context, digests []digest.Digest) (digest.Digest, error) {
	merged := make(map[string]digest.Entry)
	order := make([]string, 0)

	var walk func(d digest.Digest) error
	walk = func(d digest.Digest) error {
		tree, ok, err := s.LoadDirectory(ctx, d)
		if err != nil {
			return err
		}
		if !ok {
			return strataerrors.Newf(strataerrors.KindEngine, "%w: %s", strataerrors.ErrUnknownDigest, d)
		}
		for _, e := range tree.Entries {
			existing, seen := merged[e.Name]
			if !seen {
				merged[e.Name] = e
				order = append(order, e.Name)
				continue
			}
			if existing.Kind == digest.KindDir && e.Kind == digest.KindDir {
				sub, mErr := s.MergeDirectories(ctx, []digest.Digest{existing.Digest, e.Digest})
				if mErr != nil {
					return mErr
				}
				existing.Digest = sub
				merged[e.Name] = existing
				continue
			}
			if existing.Digest != e.Digest || existing.IsExecutable != e.IsExecutable {
				return strataerrors.Newf(strataerrors.KindUser,
					"%w: path %q differs (%s executable=%v vs %s executable=%v)",
					strataerrors.ErrMergeConflict, e.Name,
					existing.Digest, existing.IsExecutable, e.Digest, e.IsExecutable)
			}
		}
		return nil
	}

	for _, d := range digests {
		if err := walk(d); err != nil {
			return digest.Digest{}, err
		}
	}

	sort.Strings(order)
	entries := make([]digest.Entry, 0, len(order))
	for _, name := range order {
		entries = append(entries, merged[name])
	}
	return s.StoreDirectory(ctx, digest.Directory{Entries: entries})
}

// Subset extracts the sub-tree of d matching g (§4.A "subset").
func (s *Store) Subset(ctx context.Context, d digest.Digest, g globs.PathGlobs) (digest.Digest, error) {
	return s.subsetPrefixed(ctx, d, "", g)
}

func (s *Store) subsetPrefixed(ctx context.Context, d digest.Digest, prefix string, g globs.PathGlobs) (digest.Digest, error) {
	tree, ok, err := s.LoadDirectory(ctx, d)
	if err != nil {
		return digest.Digest{}, err
	}
	if !ok {
		return digest.Digest{}, strataerrors.Newf(strataerrors.KindEngine, "%w: %s", strataerrors.ErrUnknownDigest, d)
	}

	var out []digest.Entry
	for _, e := range tree.Entries {
		full := path.Join(prefix, e.Name)
		switch e.Kind {
		case digest.KindDir:
			if !g.MayContain(full) {
				continue
			}
			sub, err := s.subsetPrefixed(ctx, e.Digest, full, g)
			if err != nil {
				return digest.Digest{}, err
			}
			subTree, _, err := s.LoadDirectory(ctx, sub)
			if err != nil {
				return digest.Digest{}, err
			}
			if len(subTree.Entries) == 0 && !g.Matches(full) {
				continue
			}
			e.Digest = sub
			out = append(out, e)
		default:
			if g.Matches(full) {
				out = append(out, e)
			}
		}
	}
	return s.StoreDirectory(ctx, digest.Directory{Entries: out})
}
