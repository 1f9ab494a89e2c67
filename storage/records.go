package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/maci-payout/types"
)

// PollRecord is the summary of a poll exposed by the API.
type PollRecord struct {
	ID                uint64           `json:"id"                cbor:"0,keyasint"`
	Owner             common.Address   `json:"owner"             cbor:"1,keyasint"`
	TreeDepths        types.TreeDepths `json:"treeDepths"        cbor:"2,keyasint"`
	CoordinatorPubKey types.PubKey     `json:"coordinatorPubKey" cbor:"3,keyasint"`
	DeployTime        int64            `json:"deployTime"        cbor:"4,keyasint"`
	Duration          int64            `json:"duration"          cbor:"5,keyasint"`
	RegistrySet       bool             `json:"registrySet"       cbor:"6,keyasint,omitempty"`
	Initialized       bool             `json:"initialized"       cbor:"7,keyasint,omitempty"`
	StateMerged       bool             `json:"stateMerged"       cbor:"8,keyasint,omitempty"`
	MessageMerged     bool             `json:"messageMerged"     cbor:"9,keyasint,omitempty"`
	StateRoot         *types.BigInt    `json:"stateRoot,omitempty"   cbor:"10,keyasint,omitempty"`
	MessageRoot       *types.BigInt    `json:"messageRoot,omitempty" cbor:"11,keyasint,omitempty"`
	NumSignUps        uint64           `json:"numSignUps"        cbor:"12,keyasint,omitempty"`
	NumMessages       uint64           `json:"numMessages"       cbor:"13,keyasint,omitempty"`
}

// DepositRecord is an entry of the append-only deposit log of a poll.
type DepositRecord struct {
	PollID    uint64         `json:"pollId"    cbor:"0,keyasint"`
	Sender    common.Address `json:"sender"    cbor:"1,keyasint"`
	Amount    *types.BigInt  `json:"amount"    cbor:"2,keyasint"`
	Total     *types.BigInt  `json:"total"     cbor:"3,keyasint"`
	Timestamp int64          `json:"timestamp" cbor:"4,keyasint"`
}

// ClaimRecord is the claim of the project at Index.
type ClaimRecord struct {
	PollID    uint64         `json:"pollId"    cbor:"0,keyasint"`
	Index     uint64         `json:"index"     cbor:"1,keyasint"`
	Recipient common.Address `json:"recipient" cbor:"2,keyasint"`
	Amount    *types.BigInt  `json:"amount"    cbor:"3,keyasint"`
	Timestamp int64          `json:"timestamp" cbor:"4,keyasint"`
}

// SetPoll stores a poll summary, replacing any previous one.
func (s *Storage) SetPoll(p *PollRecord) error {
	if p == nil {
		return fmt.Errorf("nil poll record")
	}
	return s.setArtifact(pollPrefix, pollKey(p.ID), p)
}

// Poll returns the summary of a poll or ErrNotFound.
func (s *Storage) Poll(pollID uint64) (*PollRecord, error) {
	p := &PollRecord{}
	if err := s.getArtifact(pollPrefix, pollKey(pollID), p); err != nil {
		return nil, err
	}
	return p, nil
}

// ListPolls returns the summaries of every stored poll, sorted by ID.
func (s *Storage) ListPolls() ([]*PollRecord, error) {
	var polls []*PollRecord
	err := s.iterateArtifacts(pollPrefix, func(_, v []byte) error {
		p := &PollRecord{}
		if err := decodeArtifact(v, p); err != nil {
			return fmt.Errorf("decode poll: %w", err)
		}
		polls = append(polls, p)
		return nil
	})
	return polls, err
}

// Distribution decodes the distribution record of a poll into out. It
// returns ErrNotFound if the poll has no distribution yet.
func (s *Storage) Distribution(pollID uint64, out any) error {
	return s.getArtifact(distributionPrefix, pollKey(pollID), out)
}

// SetDistribution stages the distribution record of a poll.
func (b *Batch) SetDistribution(pollID uint64, record any) error {
	return b.set(distributionPrefix, pollKey(pollID), record)
}

// AddDeposit stages a new entry of the deposit log.
func (b *Batch) AddDeposit(d *DepositRecord) error {
	n, err := b.nextSeq(depositPrefix, d.PollID)
	if err != nil {
		return err
	}
	return b.set(depositPrefix, seqKey(d.PollID, n), d)
}

// SetClaim stages the claim of a project.
func (b *Batch) SetClaim(c *ClaimRecord) error {
	return b.set(claimPrefix, seqKey(c.PollID, c.Index), c)
}

// Deposits returns the deposit log of a poll in insertion order.
func (s *Storage) Deposits(pollID uint64) ([]*DepositRecord, error) {
	var out []*DepositRecord
	err := s.iterateArtifacts(append(append([]byte{}, depositPrefix...), pollKey(pollID)...),
		func(_, v []byte) error {
			d := &DepositRecord{}
			if err := decodeArtifact(v, d); err != nil {
				return fmt.Errorf("decode deposit: %w", err)
			}
			out = append(out, d)
			return nil
		})
	return out, err
}

// Claim returns the claim of the project at index or ErrNotFound.
func (s *Storage) Claim(pollID, index uint64) (*ClaimRecord, error) {
	c := &ClaimRecord{}
	if err := s.getArtifact(claimPrefix, seqKey(pollID, index), c); err != nil {
		return nil, err
	}
	return c, nil
}

// Claims returns every claim of a poll sorted by project index.
func (s *Storage) Claims(pollID uint64) ([]*ClaimRecord, error) {
	var out []*ClaimRecord
	err := s.iterateArtifacts(append(append([]byte{}, claimPrefix...), pollKey(pollID)...),
		func(_, v []byte) error {
			c := &ClaimRecord{}
			if err := decodeArtifact(v, c); err != nil {
				return fmt.Errorf("decode claim: %w", err)
			}
			out = append(out, c)
			return nil
		})
	return out, err
}
