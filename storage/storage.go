// storage package contains all the artifacts that are stored in the database
// for the poll distributions. The storage package includes a prefixed
// key-value store that allows to store the different types of artifacts in
// the database. The following prefixes are used:
//   - 'p/' for poll summaries
//   - 'd/' for distribution records
//   - 'dp/' for deposits
//   - 'cl/' for claims
//   - 'e/' for events
//   - 'n/' for the sequence counters of the append-only logs
//
// Writes that must be atomic with each other are staged in a Batch and
// committed together.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

var (
	// Prefixes for the keys in the database.
	pollPrefix         = []byte("p/")
	distributionPrefix = []byte("d/")
	depositPrefix      = []byte("dp/")
	claimPrefix        = []byte("cl/")
	eventPrefix        = []byte("e/")
	counterPrefix      = []byte("n/")

	// ErrNotFound is returned when an artifact is not found in the database.
	ErrNotFound = errors.New("not found")
)

// Storage is the persistence layer of the poll distributions.
type Storage struct {
	db db.Database
}

// New creates a new Storage instance.
func New(db db.Database) *Storage {
	return &Storage{db: db}
}

// Close closes the storage.
func (s *Storage) Close() {
	if err := s.db.Close(); err != nil {
		panic(err)
	}
}

// Artifact encoding/decoding
func encodeArtifact(a any) ([]byte, error) {
	encOpts := cbor.CoreDetEncOptions()
	em, err := encOpts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return em.Marshal(a)
}

func decodeArtifact(data []byte, out any) error {
	return cbor.Unmarshal(data, out)
}

// pollKey returns the 8 bytes big-endian key of a poll. Keys sort by poll ID.
func pollKey(pollID uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, pollID)
}

// seqKey returns the key of the n-th element of a poll log.
func seqKey(pollID, n uint64) []byte {
	return binary.BigEndian.AppendUint64(pollKey(pollID), n)
}

// getArtifact reads and decodes the artifact stored under prefix+key.
func (s *Storage) getArtifact(prefix, key []byte, out any) error {
	rTx := prefixeddb.NewPrefixedReader(s.db, prefix)
	data, err := rTx.Get(key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return decodeArtifact(data, out)
}

// setArtifact encodes and stores a single artifact in its own transaction.
func (s *Storage) setArtifact(prefix, key []byte, artifact any) error {
	b := s.NewBatch()
	if err := b.set(prefix, key, artifact); err != nil {
		b.Discard()
		return err
	}
	return b.Commit()
}

// iterateArtifacts calls fn with every value stored under prefix. The value
// slice is only valid during the call.
func (s *Storage) iterateArtifacts(prefix []byte, fn func(key, value []byte) error) error {
	rTx := prefixeddb.NewPrefixedReader(s.db, prefix)
	var cbErr error
	if err := rTx.Iterate(nil, func(k, v []byte) bool {
		if cbErr = fn(k, v); cbErr != nil {
			return false
		}
		return true
	}); err != nil {
		return err
	}
	return cbErr
}

// Batch stages writes that are committed atomically.
type Batch struct {
	tx db.WriteTx
}

// NewBatch opens a new write transaction.
func (s *Storage) NewBatch() *Batch {
	return &Batch{tx: s.db.WriteTx()}
}

// Commit writes every staged change.
func (b *Batch) Commit() error {
	return b.tx.Commit()
}

// Discard drops every staged change.
func (b *Batch) Discard() {
	b.tx.Discard()
}

func (b *Batch) set(prefix, key []byte, artifact any) error {
	data, err := encodeArtifact(artifact)
	if err != nil {
		return err
	}
	return prefixeddb.NewPrefixedWriteTx(b.tx, prefix).Set(key, data)
}

// nextSeq returns the next sequence number of a poll log and bumps the
// counter inside the batch.
func (b *Batch) nextSeq(logPrefix []byte, pollID uint64) (uint64, error) {
	wTx := prefixeddb.NewPrefixedWriteTx(b.tx, counterPrefix)
	key := append(append([]byte{}, logPrefix...), pollKey(pollID)...)
	n := uint64(0)
	data, err := wTx.Get(key)
	switch {
	case err == nil:
		if len(data) != 8 {
			return 0, fmt.Errorf("corrupted counter for poll %d", pollID)
		}
		n = binary.BigEndian.Uint64(data)
	case errors.Is(err, db.ErrKeyNotFound):
	default:
		return 0, err
	}
	if err := wTx.Set(key, binary.BigEndian.AppendUint64(nil, n+1)); err != nil {
		return 0, err
	}
	return n, nil
}
