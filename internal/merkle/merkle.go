// Package merkle tracks the cached membership witness a commitment had at
// deposit time and validates it against the pool's live root before any
// proof request. The witness does not self-update when the pool tree grows;
// callers must treat a root mismatch as a hard stop.
package merkle

import (
	"errors"
	"fmt"
	"math/big"

	"vestazk-backend/internal/zk"
)

// Depth is the fixed depth of the pool's commitment tree.
const Depth = 20

var (
	// ErrStaleRoot means the cached witness was taken against a root that
	// no longer matches the live pool root. A proof built on it would be
	// rejected by the ledger verifier.
	ErrStaleRoot = errors.New("cached merkle witness is stale against the live root")

	// ErrMalformedWitness means the path/indices do not reproduce the
	// snapshot root, or have the wrong shape.
	ErrMalformedWitness = errors.New("malformed merkle witness")
)

// Witness is the inclusion path a leaf had at a known root. Indices are
// direction bits per level: 0 when the running node is the left child.
type Witness struct {
	Leaf    *big.Int
	Path    []*big.Int
	Indices []int
	Root    *big.Int
}

// ComputeRoot folds the path from the leaf upward with the protocol node
// hash and returns the resulting root.
func (w *Witness) ComputeRoot() (*big.Int, error) {
	if len(w.Path) != Depth || len(w.Indices) != Depth {
		return nil, fmt.Errorf("%w: expected depth %d, got path=%d indices=%d",
			ErrMalformedWitness, Depth, len(w.Path), len(w.Indices))
	}
	cur := new(big.Int).Set(w.Leaf)
	for i := 0; i < Depth; i++ {
		switch w.Indices[i] {
		case 0:
			cur = zk.HashNodes(cur, w.Path[i])
		case 1:
			cur = zk.HashNodes(w.Path[i], cur)
		default:
			return nil, fmt.Errorf("%w: direction bit %d at level %d", ErrMalformedWitness, w.Indices[i], i)
		}
	}
	return cur, nil
}

// Clone returns a deep copy so callers can hold transient copies without
// aliasing the stored record.
func (w *Witness) Clone() *Witness {
	c := &Witness{
		Leaf:    new(big.Int).Set(w.Leaf),
		Path:    make([]*big.Int, len(w.Path)),
		Indices: append([]int(nil), w.Indices...),
		Root:    new(big.Int).Set(w.Root),
	}
	for i, p := range w.Path {
		c.Path[i] = new(big.Int).Set(p)
	}
	return c
}

// Tracker holds a commitment's cached witness during an action.
type Tracker struct {
	witness *Witness
}

// NewTracker validates the witness shape and internal consistency: the
// path must reproduce the snapshot root.
func NewTracker(w *Witness) (*Tracker, error) {
	root, err := w.ComputeRoot()
	if err != nil {
		return nil, err
	}
	if root.Cmp(w.Root) != 0 {
		return nil, fmt.Errorf("%w: path does not reproduce snapshot root", ErrMalformedWitness)
	}
	return &Tracker{witness: w.Clone()}, nil
}

// Refresh compares the snapshot root against the live pool root. A
// mismatch means the cached path is stale and no valid membership proof
// can be built from it.
func (t *Tracker) Refresh(liveRoot *big.Int) error {
	if t.witness.Root.Cmp(liveRoot) != 0 {
		return fmt.Errorf("%w: snapshot=%s live=%s", ErrStaleRoot,
			t.witness.Root.String(), liveRoot.String())
	}
	return nil
}

// Witness returns a copy of the tracked witness.
func (t *Tracker) Witness() *Witness {
	return t.witness.Clone()
}
