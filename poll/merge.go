package poll

import (
	"math/big"

	"github.com/vocdoni/maci-payout/log"
	"github.com/vocdoni/maci-payout/types"
)

// MergeMaciStateAqSubRoots merges at most numOps state subroots (0 = all).
func (p *Poll) MergeMaciStateAqSubRoots(numOps int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.VotingOver() {
		return ErrVotingPeriodNotOver
	}
	return p.stateAq.MergeSubRoots(numOps)
}

// MergeMaciState computes the state root. It is a no-op once merged.
func (p *Poll) MergeMaciState() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.VotingOver() {
		return ErrVotingPeriodNotOver
	}
	if p.stateMerged {
		return nil
	}
	if !p.stateAq.SubTreesMerged() {
		return ErrStateAqSubRootsNotMerged
	}
	if err := p.stateAq.Merge(types.StateTreeDepth); err != nil {
		return err
	}
	p.stateRoot = p.stateAq.MainRoot(types.StateTreeDepth)
	p.stateMerged = true
	log.Infow("poll state merged", "pollID", p.cfg.ID, "root", p.stateRoot.String(),
		"signUps", p.numSignUps)
	return p.persistLocked()
}

// MergeMessageAqSubRoots merges at most numOps message subroots (0 = all).
func (p *Poll) MergeMessageAqSubRoots(numOps int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.VotingOver() {
		return ErrVotingPeriodNotOver
	}
	return p.messageAq.MergeSubRoots(numOps)
}

// MergeMessageAq computes the message root. It is a no-op once merged.
func (p *Poll) MergeMessageAq() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.VotingOver() {
		return ErrVotingPeriodNotOver
	}
	if p.messageMerged {
		return nil
	}
	if !p.messageAq.SubTreesMerged() {
		return ErrMessageAqSubRootsNotMerged
	}
	depth := int(p.cfg.TreeDepths.MessageTreeDepth)
	if err := p.messageAq.Merge(depth); err != nil {
		return err
	}
	p.messageRoot = p.messageAq.MainRoot(depth)
	p.messageMerged = true
	log.Infow("poll messages merged", "pollID", p.cfg.ID, "root", p.messageRoot.String(),
		"messages", p.numMessages)
	return p.persistLocked()
}

// StateMerged reports whether the state queue has been merged.
func (p *Poll) StateMerged() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stateMerged
}

// MessageMerged reports whether the message queue has been merged.
func (p *Poll) MessageMerged() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.messageMerged
}

// StateRoot returns the merged state root, or zero if not merged.
func (p *Poll) StateRoot() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.stateRoot)
}

// MessageRoot returns the merged message root, or zero if not merged.
func (p *Poll) MessageRoot() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.messageRoot)
}

// NumSignUpsAndMessages returns the number of sign-ups and messages.
func (p *Poll) NumSignUpsAndMessages() (uint64, uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.numSignUps, p.numMessages
}

// MergeProgress returns the subroot merge progress of both queues.
func (p *Poll) MergeProgress() (stateMerged, stateTotal, msgMerged, msgTotal int) {
	stateMerged, stateTotal = p.stateAq.Progress()
	msgMerged, msgTotal = p.messageAq.Progress()
	return
}
