// Package registry resolves the payout address of the projects of a
// round. Project indices match the vote option indices of the tally.
package registry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/arbo"
	"go.vocdoni.io/dvote/db"
)

// ErrRecipientNotFound is returned when no project is registered at an index.
var ErrRecipientNotFound = errors.New("recipient not found")

// Registry is the project registry consulted by the distribution engine.
type Registry interface {
	// RecipientCount returns the number of registered projects.
	RecipientCount() uint64
	// Recipient returns the payout address of the project at index.
	Recipient(index uint64) (common.Address, error)
	// Initialized reports whether a project is registered at index.
	Initialized(index uint64) bool
}

const (
	// maxLevels of the registry tree, enough for 2^64 projects.
	maxLevels = 64
	keyLen    = maxLevels / 8
)

var hashFunc = arbo.HashFunctionPoseidon

// Simple is a registry backed by an arbo Merkle tree mapping the project
// index to its payout address. The tree root commits to the whole registry.
type Simple struct {
	mu    sync.RWMutex
	tree  *arbo.Tree
	count uint64
}

// NewSimple opens or creates a registry stored in database.
func NewSimple(database db.Database) (*Simple, error) {
	tree, err := arbo.NewTree(arbo.Config{
		Database:     database,
		MaxLevels:    maxLevels,
		HashFunction: hashFunc,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create registry tree: %w", err)
	}
	n, err := tree.GetNLeafs()
	if err != nil {
		return nil, err
	}
	return &Simple{tree: tree, count: uint64(n)}, nil
}

func indexKey(index uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, index)
}

// Add registers a new project and returns its index.
func (s *Simple) Add(recipient common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index := s.count
	if err := s.tree.Add(indexKey(index), recipient.Bytes()); err != nil {
		return 0, fmt.Errorf("could not add recipient %d: %w", index, err)
	}
	s.count++
	return index, nil
}

// Update replaces the payout address of a registered project.
func (s *Simple) Update(index uint64, recipient common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= s.count {
		return fmt.Errorf("%w: %d", ErrRecipientNotFound, index)
	}
	return s.tree.Update(indexKey(index), recipient.Bytes())
}

// RecipientCount implements Registry.
func (s *Simple) RecipientCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Recipient implements Registry.
func (s *Simple) Recipient(index uint64) (common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index >= s.count {
		return common.Address{}, fmt.Errorf("%w: %d", ErrRecipientNotFound, index)
	}
	_, value, err := s.tree.Get(indexKey(index))
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(value), nil
}

// Initialized implements Registry.
func (s *Simple) Initialized(index uint64) bool {
	return index < s.RecipientCount()
}

// Root returns the root of the registry tree.
func (s *Simple) Root() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Root()
}

// Proof returns the packed siblings proving the payout address of index.
func (s *Simple) Proof(index uint64) (common.Address, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, value, siblings, exists, err := s.tree.GenProof(indexKey(index))
	if err != nil {
		return common.Address{}, nil, err
	}
	if !exists {
		return common.Address{}, nil, fmt.Errorf("%w: %d", ErrRecipientNotFound, index)
	}
	return common.BytesToAddress(value), siblings, nil
}

// VerifyProof checks a recipient proof against a registry root.
func VerifyProof(root []byte, index uint64, recipient common.Address, siblings []byte) (bool, error) {
	return arbo.CheckProof(hashFunc, indexKey(index), recipient.Bytes(), root, siblings)
}
