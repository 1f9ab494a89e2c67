package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vocdoni/maci-payout/log"
	"github.com/vocdoni/maci-payout/poll"
)

// Mergeable is the part of a poll the coordinator drives.
type Mergeable interface {
	ID() uint64
	VotingOver() bool
	StateMerged() bool
	MessageMerged() bool
	MergeMaciStateAqSubRoots(numOps int) error
	MergeMaciState() error
	MergeMessageAqSubRoots(numOps int) error
	MergeMessageAq() error
	MergeProgress() (stateMerged, stateTotal, msgMerged, msgTotal int)
}

// Coordinator closes the queues of a poll once its voting period is over.
// Every tick merges at most batch subroots of each queue, so large polls are
// closed in bounded steps. Failed steps are retried on the next tick.
type Coordinator struct {
	poll     Mergeable
	interval time.Duration
	batch    int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	merged chan struct{}
	once   sync.Once
}

// NewCoordinator creates a merge driver for p. A batch of 0 merges every
// pending subroot in one step.
func NewCoordinator(p Mergeable, interval time.Duration, batch int) *Coordinator {
	return &Coordinator{
		poll:     p,
		interval: interval,
		batch:    batch,
		merged:   make(chan struct{}),
	}
}

// Start begins driving the merge. It returns an error if the service is
// already running.
func (co *Coordinator) Start(ctx context.Context) error {
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.cancel != nil {
		return fmt.Errorf("service already running")
	}
	if co.interval <= 0 {
		return fmt.Errorf("invalid merge interval %s", co.interval)
	}
	ctx, co.cancel = context.WithCancel(ctx)
	co.done = make(chan struct{})
	go co.run(ctx, co.done)
	return nil
}

// Stop halts the merge driver and waits for it to exit.
func (co *Coordinator) Stop() {
	co.mu.Lock()
	cancel, done := co.cancel, co.done
	co.cancel = nil
	co.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Merged is closed once both queues of the poll are merged.
func (co *Coordinator) Merged() <-chan struct{} {
	return co.merged
}

func (co *Coordinator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(co.interval)
	defer ticker.Stop()
	for {
		finished, err := co.Step()
		switch {
		case finished:
			return
		case err != nil:
			log.Warnw("merge step failed", "pollID", co.poll.ID(), "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Step runs a single merge step. It reports whether both queues are
// merged.
func (co *Coordinator) Step() (bool, error) {
	p := co.poll
	if !p.VotingOver() {
		return false, nil
	}
	if !p.StateMerged() {
		if err := p.MergeMaciStateAqSubRoots(co.batch); err != nil {
			return false, fmt.Errorf("state subroots: %w", err)
		}
		if err := p.MergeMaciState(); err != nil && !errors.Is(err, poll.ErrStateAqSubRootsNotMerged) {
			return false, fmt.Errorf("state root: %w", err)
		}
	}
	if !p.MessageMerged() {
		if err := p.MergeMessageAqSubRoots(co.batch); err != nil {
			return false, fmt.Errorf("message subroots: %w", err)
		}
		if err := p.MergeMessageAq(); err != nil && !errors.Is(err, poll.ErrMessageAqSubRootsNotMerged) {
			return false, fmt.Errorf("message root: %w", err)
		}
	}
	stateMerged, stateTotal, msgMerged, msgTotal := p.MergeProgress()
	log.Debugw("merge progress", "pollID", p.ID(), "state", fmt.Sprintf("%d/%d", stateMerged, stateTotal),
		"messages", fmt.Sprintf("%d/%d", msgMerged, msgTotal))
	if p.StateMerged() && p.MessageMerged() {
		co.once.Do(func() {
			log.Infow("poll queues merged", "pollID", p.ID())
			close(co.merged)
		})
		return true, nil
	}
	return false, nil
}
