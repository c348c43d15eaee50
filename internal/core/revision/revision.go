// Package revision implements document revision tokens.
//
// A revision has the form "<generation>-<digest>". The generation counts the
// writes in a document's history, so every write yields a strictly greater
// generation than its parent. The digest is a blake2b hash over the parent
// revision and the new content, which makes two replicas that apply the same
// edit to the same parent agree on the resulting token.
package revision

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// DigestSize is the digest length in bytes.
const DigestSize = 16

// Revision is an opaque, totally ordered revision token.
type Revision string

// Zero is the revision of a document that has never been written.
const Zero Revision = ""

// Next derives the child revision of parent for the given content.
func Next(parent Revision, body []byte, deleted bool) Revision {
	h, _ := blake2b.New(DigestSize, nil)
	h.Write([]byte(parent))
	if deleted {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(body)
	return Revision(fmt.Sprintf("%d-%s", parent.Generation()+1, hex.EncodeToString(h.Sum(nil))))
}

// Parse splits a revision into generation and digest.
func Parse(r Revision) (int, string, error) {
	gen, digest, ok := strings.Cut(string(r), "-")
	if !ok || digest == "" {
		return 0, "", fmt.Errorf("malformed revision %q", string(r))
	}
	n, err := strconv.Atoi(gen)
	if err != nil || n < 1 {
		return 0, "", fmt.Errorf("malformed revision generation %q", string(r))
	}
	return n, digest, nil
}

// Generation returns the write count encoded in r, or 0 for malformed or zero revisions.
func (r Revision) Generation() int {
	n, _, err := Parse(r)
	if err != nil {
		return 0
	}
	return n
}

// IsZero reports whether r is the empty revision.
func (r Revision) IsZero() bool {
	return r == Zero
}

// Valid reports whether r is well formed.
func (r Revision) Valid() bool {
	_, _, err := Parse(r)
	return err == nil
}

func (r Revision) String() string {
	return string(r)
}

// Compare orders revisions by generation, then by digest.
// Returns -1, 0 or 1.
func Compare(a, b Revision) int {
	ga, gb := a.Generation(), b.Generation()
	switch {
	case ga < gb:
		return -1
	case ga > gb:
		return 1
	}
	return strings.Compare(string(a), string(b))
}
