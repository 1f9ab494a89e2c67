package merkle

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-payout/crypto/hash/poseidon"
)

// Tree is a complete arity-ary Poseidon tree built in memory. Missing
// leaves are zero.
type Tree struct {
	arity  int
	depth  uint8
	levels [][]*big.Int
}

// NewTree builds a tree of the given arity and depth holding leaves.
func NewTree(arity int, depth uint8, leaves []*big.Int) (*Tree, error) {
	if err := checkArity(arity); err != nil {
		return nil, err
	}
	size, ok := capacity(arity, int(depth))
	if !ok || uint64(len(leaves)) > size {
		return nil, fmt.Errorf("%w: %d leaves do not fit in depth %d", ErrIndexOutOfRange, len(leaves), depth)
	}
	level := make([]*big.Int, size)
	for i := range level {
		if i < len(leaves) && leaves[i] != nil {
			level[i] = new(big.Int).Set(leaves[i])
		} else {
			level[i] = big.NewInt(0)
		}
	}
	t := &Tree{arity: arity, depth: depth, levels: [][]*big.Int{level}}
	for range depth {
		next := make([]*big.Int, len(level)/arity)
		for i := range next {
			h, err := poseidon.Hash(level[i*arity : (i+1)*arity]...)
			if err != nil {
				return nil, err
			}
			next[i] = h
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t, nil
}

// Root returns the unsalted root of the tree.
func (t *Tree) Root() *big.Int {
	return new(big.Int).Set(t.levels[len(t.levels)-1][0])
}

// SaltedRoot returns H(root, salt), the commitment published for the tree.
func (t *Tree) SaltedRoot(salt *big.Int) (*big.Int, error) {
	return poseidon.HashLeftRight(t.Root(), salt)
}

// Leaf returns the leaf at index.
func (t *Tree) Leaf(index uint64) (*big.Int, error) {
	if index >= uint64(len(t.levels[0])) {
		return nil, ErrIndexOutOfRange
	}
	return new(big.Int).Set(t.levels[0][index]), nil
}

// Proof returns the sibling path of the leaf at index, from the leaves up.
func (t *Tree) Proof(index uint64) ([][]*big.Int, error) {
	if index >= uint64(len(t.levels[0])) {
		return nil, ErrIndexOutOfRange
	}
	path := make([][]*big.Int, 0, t.depth)
	for l := range int(t.depth) {
		pos := int(index % uint64(t.arity))
		start := int(index) - pos
		siblings := make([]*big.Int, 0, t.arity-1)
		for j := range t.arity {
			if j == pos {
				continue
			}
			siblings = append(siblings, new(big.Int).Set(t.levels[l][start+j]))
		}
		path = append(path, siblings)
		index /= uint64(t.arity)
	}
	return path, nil
}
