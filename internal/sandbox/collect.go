package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stratabuild/strata/internal/digest"
)

// outputStore is the subset of *store.Store needed to digest sandbox
// outputs back into the content store.
type outputStore interface {
	StoreBytes(ctx context.Context, b []byte) (digest.Digest, error)
	StoreDirectory(ctx context.Context, tree digest.Directory) (digest.Digest, error)
}

// collectOutputs reads p's declared output_file_paths and output_dir_paths
// out of the sandbox rooted at root, digests them into st, and returns the
// merged output tree's digest (§4.G step 5).
func collectOutputs(ctx context.Context, st outputStore, root string, p Process) (digest.Digest, error) {
	entries := make(map[string]digest.Entry)

	for _, rel := range p.OutputFilePaths {
		e, err := digestFile(ctx, st, root, rel)
		if err != nil {
			return digest.Digest{}, err
		}
		if e != nil {
			entries[rel] = *e
		}
	}
	for _, rel := range p.OutputDirPaths {
		d, err := digestDirRecursive(ctx, st, filepath.Join(root, rel))
		if err != nil {
			return digest.Digest{}, err
		}
		entries[rel] = digest.Entry{Name: rel, Digest: d, Kind: digest.KindDir}
	}

	return buildNestedTree(ctx, st, entries)
}

func digestFile(ctx context.Context, st outputStore, root, rel string) (*digest.Entry, error) {
	full := filepath.Join(root, rel)
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	b, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	d, err := st.StoreBytes(ctx, b)
	if err != nil {
		return nil, err
	}
	return &digest.Entry{
		Name:         rel,
		Digest:       d,
		Kind:         digest.KindFile,
		IsExecutable: info.Mode()&0o111 != 0,
	}, nil
}

func digestDirRecursive(ctx context.Context, st outputStore, dir string) (digest.Digest, error) {
	infos, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return st.StoreDirectory(ctx, digest.Directory{})
		}
		return digest.Digest{}, err
	}
	var out []digest.Entry
	for _, info := range infos {
		child := filepath.Join(dir, info.Name())
		if info.IsDir() {
			d, err := digestDirRecursive(ctx, st, child)
			if err != nil {
				return digest.Digest{}, err
			}
			out = append(out, digest.Entry{Name: info.Name(), Digest: d, Kind: digest.KindDir})
			continue
		}
		fi, err := info.Info()
		if err != nil {
			return digest.Digest{}, err
		}
		b, err := os.ReadFile(child)
		if err != nil {
			return digest.Digest{}, err
		}
		d, err := st.StoreBytes(ctx, b)
		if err != nil {
			return digest.Digest{}, err
		}
		out = append(out, digest.Entry{Name: info.Name(), Digest: d, Kind: digest.KindFile, IsExecutable: fi.Mode()&0o111 != 0})
	}
	return st.StoreDirectory(ctx, digest.Directory{Entries: out})
}

// buildNestedTree groups flat relative-path entries into a proper nested
// Directory tree, mirroring internal/watch's storeTree so process outputs
// compose with store.MergeDirectories/Subset.
func buildNestedTree(ctx context.Context, st outputStore, flat map[string]digest.Entry) (digest.Digest, error) {
	paths := make([]string, 0, len(flat))
	for p := range flat {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return nestTree(ctx, st, "", paths, flat)
}

func nestTree(ctx context.Context, st outputStore, prefix string, paths []string, flat map[string]digest.Entry) (digest.Digest, error) {
	childPaths := make(map[string][]string)
	var names []string
	for _, p := range paths {
		rest := p
		if prefix != "" {
			rest = strings.TrimPrefix(p, prefix+"/")
		}
		segs := strings.SplitN(rest, "/", 2)
		head := segs[0]
		if _, ok := childPaths[head]; !ok {
			names = append(names, head)
		}
		if len(segs) == 2 {
			childPaths[head] = append(childPaths[head], p)
		} else {
			childPaths[head] = append(childPaths[head], "")
		}
	}
	sort.Strings(names)

	var out []digest.Entry
	for _, name := range names {
		full := name
		if prefix != "" {
			full = prefix + "/" + name
		}
		rest := childPaths[name]
		if len(rest) == 1 && rest[0] == "" {
			if e, ok := flat[full]; ok {
				out = append(out, digest.Entry{Name: name, Digest: e.Digest, Kind: e.Kind, IsExecutable: e.IsExecutable})
			}
			continue
		}
		var nested []string
		for _, r := range rest {
			if r != "" {
				nested = append(nested, r)
			}
		}
		sub, err := nestTree(ctx, st, full, nested, flat)
		if err != nil {
			return digest.Digest{}, err
		}
		out = append(out, digest.Entry{Name: name, Digest: sub, Kind: digest.KindDir})
	}
	return st.StoreDirectory(ctx, digest.Directory{Entries: out})
}
