package commitment

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Domain separation prefixes for leaf and interior node hashes.
const (
	leafPrefix     = 0x00
	interiorPrefix = 0x01
)

// ErrInclusion is returned when an audit path does not lead to the expected root.
var ErrInclusion = errors.New("merkle inclusion proof failed")

// HashLeaf returns the tree hash of a leaf.
func HashLeaf(leaf []byte) []byte {
	h := sha3.New256()
	h.Write([]byte{leafPrefix})
	h.Write(leaf)
	return h.Sum(nil)
}

func hashChildren(left, right []byte) []byte {
	h := sha3.New256()
	h.Write([]byte{interiorPrefix})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// splitPoint returns the largest power of two strictly smaller than n (n > 1).
func splitPoint(n int) int {
	k := 1
	for k<<1 < n {
		k <<= 1
	}
	return k
}

// Tree is an append-only Merkle tree over already hashed leaves.
type Tree struct {
	leaves [][]byte
}

// NewTree builds a tree over leaf hashes produced by HashLeaf.
func NewTree(leafHashes [][]byte) *Tree {
	return &Tree{leaves: leafHashes}
}

// Size returns the number of leaves.
func (t *Tree) Size() int {
	return len(t.leaves)
}

// Root returns the tree head. The root of an empty tree is the hash of the empty string.
func (t *Tree) Root() []byte {
	if len(t.leaves) == 0 {
		h := sha3.Sum256(nil)
		return h[:]
	}
	return subtreeRoot(t.leaves)
}

func subtreeRoot(leaves [][]byte) []byte {
	if len(leaves) == 1 {
		return leaves[0]
	}
	k := splitPoint(len(leaves))
	return hashChildren(subtreeRoot(leaves[:k]), subtreeRoot(leaves[k:]))
}

// AuditPath returns the sibling hashes needed to recompute the root from leaf index.
func (t *Tree) AuditPath(index int) ([][]byte, error) {
	if index < 0 || index >= len(t.leaves) {
		return nil, fmt.Errorf("leaf index %d out of range for tree of size %d", index, len(t.leaves))
	}
	return auditPath(index, t.leaves), nil
}

func auditPath(m int, leaves [][]byte) [][]byte {
	if len(leaves) <= 1 {
		return nil
	}
	k := splitPoint(len(leaves))
	if m < k {
		return append(auditPath(m, leaves[:k]), subtreeRoot(leaves[k:]))
	}
	return append(auditPath(m-k, leaves[k:]), subtreeRoot(leaves[:k]))
}

// VerifyInclusion checks that leafHash sits at index in a tree of the given
// size whose head is root.
func VerifyInclusion(root, leafHash []byte, index, size uint64, path [][]byte) error {
	if index >= size {
		return fmt.Errorf("%w: index %d beyond tree size %d", ErrInclusion, index, size)
	}

	fn, sn := index, size-1
	r := leafHash
	for _, p := range path {
		if sn == 0 {
			return fmt.Errorf("%w: audit path too long", ErrInclusion)
		}
		if fn&1 == 1 || fn == sn {
			r = hashChildren(p, r)
			for fn&1 == 0 && fn != 0 {
				fn >>= 1
				sn >>= 1
			}
		} else {
			r = hashChildren(r, p)
		}
		fn >>= 1
		sn >>= 1
	}

	if sn != 0 {
		return fmt.Errorf("%w: audit path too short", ErrInclusion)
	}
	if !bytes.Equal(r, root) {
		return fmt.Errorf("%w: root mismatch", ErrInclusion)
	}
	return nil
}
