// Package merkle implements the fixed-arity Poseidon Merkle trees used to
// commit to tally results. Proofs are verified by a pure fold over the path,
// with the tree root salted once at the top level.
package merkle

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-payout/crypto/hash/poseidon"
	"github.com/vocdoni/maci-payout/types"
)

var (
	// ErrInvalidArity is returned when the arity is lower than 2 or larger
	// than the number of inputs a Poseidon permutation accepts.
	ErrInvalidArity = errors.New("invalid tree arity")
	// ErrInvalidPath is returned when a level of the path does not hold
	// exactly arity-1 siblings.
	ErrInvalidPath = errors.New("invalid merkle path")
	// ErrIndexOutOfRange is returned when the leaf index does not fit in a
	// tree of the given depth.
	ErrIndexOutOfRange = errors.New("leaf index out of range")
)

func checkArity(arity int) error {
	if arity < 2 || arity > poseidon.MaxInputs {
		return fmt.Errorf("%w: %d", ErrInvalidArity, arity)
	}
	return nil
}

// capacity returns arity^depth, or false if it overflows an uint64.
func capacity(arity, depth int) (uint64, bool) {
	c := uint64(1)
	for range depth {
		next := c * uint64(arity)
		if next/uint64(arity) != c {
			return 0, false
		}
		c = next
	}
	return c, true
}

// ComputeRoot folds the leaf up through the path and returns the resulting
// (unsalted) root. At every level the digit index%arity selects where the
// running hash is inserted among the arity-1 siblings.
func ComputeRoot(arity int, index uint64, leaf *big.Int, path [][]*big.Int) (*big.Int, error) {
	if err := checkArity(arity); err != nil {
		return nil, err
	}
	if leaf == nil {
		return nil, fmt.Errorf("%w: nil leaf", ErrInvalidPath)
	}
	current := leaf
	level := make([]*big.Int, arity)
	for i, siblings := range path {
		if len(siblings) != arity-1 {
			return nil, fmt.Errorf("%w: level %d has %d siblings", ErrInvalidPath, i, len(siblings))
		}
		pos := int(index % uint64(arity))
		k := 0
		for j := range arity {
			if j == pos {
				level[j] = current
				continue
			}
			if siblings[k] == nil {
				return nil, fmt.Errorf("%w: nil sibling at level %d", ErrInvalidPath, i)
			}
			level[j] = siblings[k]
			k++
		}
		h, err := poseidon.Hash(level...)
		if err != nil {
			return nil, err
		}
		current = h
		index /= uint64(arity)
	}
	if index != 0 {
		return nil, ErrIndexOutOfRange
	}
	return current, nil
}

// VerifyResult checks that value is the leaf at index of a tree of the given
// depth whose root, salted with salt, is the commitment root. A depth of
// zero means the leaf is the tree root and the path is empty; the salt
// still applies, so the check is H(value, salt) == root. It never returns
// an error: any malformed input simply does not verify.
func VerifyResult(root *big.Int, arity int, depth uint8, index uint64,
	value, salt *big.Int, path [][]*big.Int,
) bool {
	if root == nil || value == nil || salt == nil {
		return false
	}
	if len(path) != int(depth) {
		return false
	}
	treeRoot := value
	if depth > 0 {
		var err error
		if treeRoot, err = ComputeRoot(arity, index, value, path); err != nil {
			return false
		}
	} else if index != 0 {
		return false
	}
	commitment, err := poseidon.HashLeftRight(treeRoot, salt)
	if err != nil {
		return false
	}
	return commitment.Cmp(root) == 0
}

// Verifier verifies tally result proofs for a fixed arity.
type Verifier struct {
	Arity int
}

// NewVerifier returns a Verifier for the given arity. An arity of zero
// selects types.TreeArity.
func NewVerifier(arity int) (*Verifier, error) {
	if arity == 0 {
		arity = types.TreeArity
	}
	if err := checkArity(arity); err != nil {
		return nil, err
	}
	return &Verifier{Arity: arity}, nil
}

// Verify is VerifyResult with the verifier arity.
func (v *Verifier) Verify(root *big.Int, depth uint8, index uint64, value, salt *big.Int, path [][]*big.Int) bool {
	return VerifyResult(root, v.Arity, depth, index, value, salt, path)
}
