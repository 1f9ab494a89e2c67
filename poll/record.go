package poll

import (
	"github.com/vocdoni/maci-payout/storage"
	"github.com/vocdoni/maci-payout/types"
)

// Record returns the summary of the poll.
func (p *Poll) Record() *storage.PollRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.recordLocked()
}

func (p *Poll) recordLocked() *storage.PollRecord {
	return &storage.PollRecord{
		ID:                p.cfg.ID,
		Owner:             p.cfg.Owner,
		TreeDepths:        p.cfg.TreeDepths,
		CoordinatorPubKey: p.cfg.CoordinatorPubKey,
		DeployTime:        p.deployTime.Unix(),
		Duration:          int64(p.cfg.Duration.Seconds()),
		RegistrySet:       p.registry != nil,
		Initialized:       p.initialized,
		StateMerged:       p.stateMerged,
		MessageMerged:     p.messageMerged,
		StateRoot:         new(types.BigInt).SetBigInt(p.stateRoot),
		MessageRoot:       new(types.BigInt).SetBigInt(p.messageRoot),
		NumSignUps:        p.numSignUps,
		NumMessages:       p.numMessages,
	}
}

func (p *Poll) persist() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.persistLocked()
}

func (p *Poll) persistLocked() error {
	if p.cfg.Storage == nil {
		return nil
	}
	return p.cfg.Storage.SetPoll(p.recordLocked())
}
