package intrinsics

import (
	"context"
	"strings"

	"github.com/stratabuild/strata/internal/digest"
	strataerrors "github.com/stratabuild/strata/internal/errors"
)

// splitPath breaks a slash-separated prefix into its non-empty segments.
func splitPath(prefix string) []string {
	var out []string
	for _, seg := range strings.Split(prefix, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// addPrefixTree wraps d under nested single-entry directories named by
// segments, innermost first (§4.H "AddPrefix": a pure tree rewrite).
func addPrefixTree(ctx context.Context, st store, d digest.Digest, segments []string) (digest.Digest, error) {
	cur := d
	for i := len(segments) - 1; i >= 0; i-- {
		tree := digest.Directory{Entries: []digest.Entry{{Name: segments[i], Digest: cur, Kind: digest.KindDir}}}
		next, err := st.StoreDirectory(ctx, tree)
		if err != nil {
			return digest.Digest{}, err
		}
		cur = next
	}
	return cur, nil
}

// removePrefixTree is AddPrefix's inverse: it descends segments, requiring
// each level to be a singleton directory named by the next segment, and
// fails with a KindUser error if the prefix is not actually a uniform
// ancestor of every entry in d (§4.H "RemovePrefix").
func removePrefixTree(ctx context.Context, st store, d digest.Digest, segments []string) (digest.Digest, error) {
	cur := d
	for _, seg := range segments {
		tree, ok, err := st.LoadDirectory(ctx, cur)
		if err != nil {
			return digest.Digest{}, err
		}
		if !ok {
			return digest.Digest{}, strataerrors.Newf(strataerrors.KindEngine, "%w: %s", strataerrors.ErrUnknownDigest, cur)
		}
		if len(tree.Entries) != 1 || tree.Entries[0].Name != seg || tree.Entries[0].Kind != digest.KindDir {
			return digest.Digest{}, strataerrors.Newf(strataerrors.KindUser,
				"remove_prefix: %q is not a uniform prefix of the digest's contents", strings.Join(segments, "/"))
		}
		cur = tree.Entries[0].Digest
	}
	return cur, nil
}
