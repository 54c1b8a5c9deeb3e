package intrinsics

import (
	"context"

	"github.com/stratabuild/strata/internal/digest"
	strataerrors "github.com/stratabuild/strata/internal/errors"
	"github.com/stratabuild/strata/internal/graph"
	"github.com/stratabuild/strata/internal/rules"
	"github.com/stratabuild/strata/internal/sandbox"
	"github.com/stratabuild/strata/internal/watch"
)

// store is the narrow slice of *store.Store every intrinsic needs. Declared
// as an interface here, as internal/watch does for the same reason, to
// avoid a hard dependency on store's concrete type.
type store interface {
	LoadBytes(ctx context.Context, d digest.Digest) ([]byte, bool, error)
	LoadDirectory(ctx context.Context, d digest.Digest) (digest.Directory, bool, error)
	StoreBytes(ctx context.Context, b []byte) (digest.Digest, error)
	StoreDirectory(ctx context.Context, tree digest.Directory) (digest.Digest, error)
	MergeDirectories(ctx context.Context, digests []digest.Digest) (digest.Digest, error)
}

// Deps bundles the components every intrinsic is wired against.
type Deps struct {
	Store       store
	Snapshotter *watch.Snapshotter
	Executor    *sandbox.Executor
	Downloader  *Downloader
}

// RegisterAll declares every intrinsic of §4.H into reg, so the rule
// registry's solver and static dispatch table treat them identically to
// backend-declared rules. Product names match the intrinsics table: each
// is a distinct node type, never shared across two intrinsics, so no `when`
// predicate is needed to disambiguate them.
func RegisterAll(reg *rules.Registry, deps Deps) error {
	registrations := []rules.Rule{
		{
			Name:       "intrinsic.DigestContents",
			OutputType: "DigestContents",
			InputTypes: []string{"digest"},
			Dispatch:   digestContents(deps),
		},
		{
			Name:       "intrinsic.Capture",
			OutputType: "Snapshot",
			InputTypes: []string{"pathglobs"},
			Dispatch:   capture(deps),
		},
		{
			Name:       "intrinsic.MergeDigests",
			OutputType: "MergeDigests",
			InputTypes: []string{"digests"},
			Dispatch:   mergeDigests(deps),
		},
		{
			Name:       "intrinsic.RemovePrefix",
			OutputType: "RemovePrefix",
			InputTypes: []string{"digest", "prefix"},
			Dispatch:   removePrefix(deps),
		},
		{
			Name:       "intrinsic.AddPrefix",
			OutputType: "AddPrefix",
			InputTypes: []string{"digest", "prefix"},
			Dispatch:   addPrefix(deps),
		},
		{
			Name:       "intrinsic.ExecuteProcess",
			OutputType: "ExecuteProcess",
			InputTypes: []string{"process"},
			Dispatch:   executeProcess(deps),
		},
		{
			Name:       "intrinsic.DownloadFile",
			OutputType: "DownloadFile",
			InputTypes: []string{"url"},
			Dispatch:   downloadFile(deps),
		},
	}
	for _, r := range registrations {
		if err := reg.Register(r); err != nil {
			return err
		}
	}
	return nil
}

func digestContents(deps Deps) graph.Dispatch {
	return func(ctx context.Context, key graph.Key, _ *graph.Task) (any, error) {
		p, ok := find[DigestParam](key)
		if !ok {
			return nil, strataerrors.New(strataerrors.KindEngine, missingParam("DigestContents", "digest"))
		}
		tree, ok, err := deps.Store.LoadDirectory(ctx, p.D)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, strataerrors.Newf(strataerrors.KindEngine, "%w: %s", strataerrors.ErrUnknownDigest, p.D)
		}
		return walkFileContents(ctx, deps.Store, "", tree)
	}
}

func walkFileContents(ctx context.Context, st store, prefix string, tree digest.Directory) ([]digest.FileContent, error) {
	var out []digest.FileContent
	for _, e := range tree.Entries {
		full := e.Name
		if prefix != "" {
			full = prefix + "/" + e.Name
		}
		if e.Kind == digest.KindDir {
			sub, ok, err := st.LoadDirectory(ctx, e.Digest)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, strataerrors.Newf(strataerrors.KindEngine, "%w: %s", strataerrors.ErrUnknownDigest, e.Digest)
			}
			children, err := walkFileContents(ctx, st, full, sub)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
			continue
		}
		out = append(out, digest.FileContent{Path: full, Digest: e.Digest, IsExecutable: e.IsExecutable})
	}
	return out, nil
}

func capture(deps Deps) graph.Dispatch {
	return func(ctx context.Context, key graph.Key, t *graph.Task) (any, error) {
		p, ok := find[PathGlobsParam](key)
		if !ok {
			return nil, strataerrors.New(strataerrors.KindEngine, missingParam("Capture", "pathglobs"))
		}
		snap, err := deps.Snapshotter.Capture(ctx, p.G)
		if err != nil {
			return nil, err
		}
		for _, path := range snap.Paths {
			t.MarkPath(path)
		}
		return snap, nil
	}
}

func mergeDigests(deps Deps) graph.Dispatch {
	return func(ctx context.Context, key graph.Key, _ *graph.Task) (any, error) {
		p, ok := find[DigestsParam](key)
		if !ok {
			return nil, strataerrors.New(strataerrors.KindEngine, missingParam("MergeDigests", "digests"))
		}
		return deps.Store.MergeDirectories(ctx, p.Ds)
	}
}

func removePrefix(deps Deps) graph.Dispatch {
	return func(ctx context.Context, key graph.Key, _ *graph.Task) (any, error) {
		d, prefix, err := digestAndPrefix(key, "RemovePrefix")
		if err != nil {
			return nil, err
		}
		return removePrefixTree(ctx, deps.Store, d, splitPath(prefix))
	}
}

func addPrefix(deps Deps) graph.Dispatch {
	return func(ctx context.Context, key graph.Key, _ *graph.Task) (any, error) {
		d, prefix, err := digestAndPrefix(key, "AddPrefix")
		if err != nil {
			return nil, err
		}
		return addPrefixTree(ctx, deps.Store, d, splitPath(prefix))
	}
}

func digestAndPrefix(key graph.Key, product string) (digest.Digest, string, error) {
	d, ok := find[DigestParam](key)
	if !ok {
		return digest.Digest{}, "", strataerrors.New(strataerrors.KindEngine, missingParam(product, "digest"))
	}
	prefix, ok := find[PrefixParam](key)
	if !ok {
		return digest.Digest{}, "", strataerrors.New(strataerrors.KindEngine, missingParam(product, "prefix"))
	}
	return d.D, prefix.Prefix, nil
}

func executeProcess(deps Deps) graph.Dispatch {
	return func(ctx context.Context, key graph.Key, _ *graph.Task) (any, error) {
		p, ok := find[ProcessParam](key)
		if !ok {
			return nil, strataerrors.New(strataerrors.KindEngine, missingParam("ExecuteProcess", "process"))
		}
		return deps.Executor.Execute(ctx, p.P)
	}
}

func downloadFile(deps Deps) graph.Dispatch {
	return func(ctx context.Context, key graph.Key, _ *graph.Task) (any, error) {
		u, ok := find[URLParam](key)
		if !ok {
			return nil, strataerrors.New(strataerrors.KindEngine, missingParam("DownloadFile", "url"))
		}
		vc, _ := find[VersionConstraintParam](key)
		return deps.Downloader.Download(ctx, u.URL, u.Expected, vc.Constraint)
	}
}
