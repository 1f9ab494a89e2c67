// Package indexer folds distribution events into queryable round and
// project entities. Entities live in arenas (slices) addressed by index,
// and every event kind is dispatched once per entity it touches.
package indexer

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/maci-payout/events"
	"github.com/vocdoni/maci-payout/log"
	"github.com/vocdoni/maci-payout/storage"
)

// Round is the aggregated view of the distribution of a poll.
type Round struct {
	PollID          uint64         `json:"pollId"`
	PayoutToken     common.Address `json:"payoutToken"`
	MaxCap          *big.Int       `json:"maxCap"`
	TallyCommitment *big.Int       `json:"tallyCommitment,omitempty"`
	Paused          bool           `json:"paused"`
	Results         uint64         `json:"results"`
	Deposits        uint64         `json:"deposits"`
	Claims          uint64         `json:"claims"`
	TotalDeposited  *big.Int       `json:"totalDeposited"`
	TotalClaimed    *big.Int       `json:"totalClaimed"`
	TotalWithdrawn  *big.Int       `json:"totalWithdrawn"`
	LastUpdate      int64          `json:"lastUpdate"`

	projects []int
}

// Balance returns the funds the round should still hold.
func (r *Round) Balance() *big.Int {
	b := new(big.Int).Sub(r.TotalDeposited, r.TotalClaimed)
	return b.Sub(b, r.TotalWithdrawn)
}

// Project is a vote option of a round.
type Project struct {
	PollID    uint64         `json:"pollId"`
	Index     uint64         `json:"index"`
	Result    *big.Int       `json:"result,omitempty"`
	Admitted  bool           `json:"admitted"`
	Recipient common.Address `json:"recipient"`
	Claimed   *big.Int       `json:"claimed,omitempty"`
	ClaimedAt int64          `json:"claimedAt,omitempty"`
}

type projectKey struct {
	pollID uint64
	index  uint64
}

// Indexer keeps the entities built from the events it received. It
// implements events.Emitter.
type Indexer struct {
	mu         sync.RWMutex
	rounds     []Round
	projects   []Project
	roundIdx   map[uint64]int
	projectIdx map[projectKey]int
}

// New returns an empty indexer.
func New() *Indexer {
	return &Indexer{
		roundIdx:   make(map[uint64]int),
		projectIdx: make(map[projectKey]int),
	}
}

// Emit implements events.Emitter.
func (ix *Indexer) Emit(ev events.Event) {
	if err := ix.Apply(ev); err != nil {
		log.Warnw("could not index event", "kind", ev.Kind.String(), "pollID", ev.PollID, "error", err.Error())
	}
}

// Apply folds a single event into the entities.
func (ix *Indexer) Apply(ev events.Event) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.handleRound(ev); err != nil {
		return err
	}
	return ix.handleProject(ev)
}

// Replay rebuilds the entities of a poll from the stored event log,
// starting at event number from.
func (ix *Indexer) Replay(stg *storage.Storage, pollID uint64, from int) (int, error) {
	evs, err := stg.Events(pollID, from)
	if err != nil {
		return 0, fmt.Errorf("could not read events of poll %d: %w", pollID, err)
	}
	for _, ev := range evs {
		if err := ix.Apply(ev); err != nil {
			return 0, err
		}
	}
	log.Debugw("events replayed", "pollID", pollID, "from", from, "count", len(evs))
	return len(evs), nil
}

func (ix *Indexer) round(pollID uint64) *Round {
	i, ok := ix.roundIdx[pollID]
	if !ok {
		ix.rounds = append(ix.rounds, Round{
			PollID:         pollID,
			MaxCap:         new(big.Int),
			TotalDeposited: new(big.Int),
			TotalClaimed:   new(big.Int),
			TotalWithdrawn: new(big.Int),
		})
		i = len(ix.rounds) - 1
		ix.roundIdx[pollID] = i
	}
	return &ix.rounds[i]
}

func (ix *Indexer) project(pollID, index uint64) *Project {
	key := projectKey{pollID, index}
	i, ok := ix.projectIdx[key]
	if !ok {
		ix.projects = append(ix.projects, Project{PollID: pollID, Index: index})
		i = len(ix.projects) - 1
		ix.projectIdx[key] = i
		r := ix.round(pollID)
		r.projects = append(r.projects, i)
	}
	return &ix.projects[i]
}

func amount(ev events.Event) (*big.Int, error) {
	if ev.Amount == nil {
		return nil, fmt.Errorf("%s event without amount", ev.Kind)
	}
	return ev.Amount.MathBigInt(), nil
}

func (ix *Indexer) handleRound(ev events.Event) error {
	r := ix.round(ev.PollID)
	if ev.Timestamp > r.LastUpdate {
		r.LastUpdate = ev.Timestamp
	}
	switch ev.Kind {
	case events.KindInitialized:
		r.PayoutToken = ev.Account
		if ev.Amount != nil {
			r.MaxCap = ev.Amount.MathBigInt()
		}
	case events.KindTallyCommitted:
		if ev.Value != nil {
			r.TallyCommitment = ev.Value.MathBigInt()
		}
	case events.KindResultAdded:
		r.Results++
	case events.KindDeposited:
		a, err := amount(ev)
		if err != nil {
			return err
		}
		r.Deposits++
		r.TotalDeposited.Add(r.TotalDeposited, a)
	case events.KindClaimed:
		a, err := amount(ev)
		if err != nil {
			return err
		}
		r.Claims++
		r.TotalClaimed.Add(r.TotalClaimed, a)
	case events.KindExtraWithdrawn:
		a, err := amount(ev)
		if err != nil {
			return err
		}
		r.TotalWithdrawn.Add(r.TotalWithdrawn, a)
	case events.KindPaused:
		r.Paused = true
	case events.KindUnpaused:
		r.Paused = false
	default:
		return fmt.Errorf("unknown event kind %d", ev.Kind)
	}
	return nil
}

func (ix *Indexer) handleProject(ev events.Event) error {
	switch ev.Kind {
	case events.KindResultAdded:
		p := ix.project(ev.PollID, ev.Index)
		if ev.Value != nil {
			p.Result = ev.Value.MathBigInt()
		}
		p.Admitted = ev.Flag
	case events.KindClaimed:
		a, err := amount(ev)
		if err != nil {
			return err
		}
		p := ix.project(ev.PollID, ev.Index)
		p.Recipient = ev.Account
		p.Claimed = a
		p.ClaimedAt = ev.Timestamp
	}
	return nil
}

func copyRound(r *Round) Round {
	out := *r
	out.projects = nil
	out.MaxCap = new(big.Int).Set(r.MaxCap)
	out.TotalDeposited = new(big.Int).Set(r.TotalDeposited)
	out.TotalClaimed = new(big.Int).Set(r.TotalClaimed)
	out.TotalWithdrawn = new(big.Int).Set(r.TotalWithdrawn)
	if r.TallyCommitment != nil {
		out.TallyCommitment = new(big.Int).Set(r.TallyCommitment)
	}
	return out
}

// Round returns a copy of the round entity of a poll.
func (ix *Indexer) Round(pollID uint64) (Round, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	i, ok := ix.roundIdx[pollID]
	if !ok {
		return Round{}, false
	}
	return copyRound(&ix.rounds[i]), true
}

// Rounds returns a copy of every round entity, in first-seen order.
func (ix *Indexer) Rounds() []Round {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]Round, len(ix.rounds))
	for i := range ix.rounds {
		out[i] = copyRound(&ix.rounds[i])
	}
	return out
}

// Project returns a copy of a project entity.
func (ix *Indexer) Project(pollID, index uint64) (Project, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	i, ok := ix.projectIdx[projectKey{pollID, index}]
	if !ok {
		return Project{}, false
	}
	return ix.projects[i], true
}

// Projects returns the project entities of a poll, in first-seen order.
func (ix *Indexer) Projects(pollID uint64) []Project {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	i, ok := ix.roundIdx[pollID]
	if !ok {
		return nil
	}
	out := make([]Project, 0, len(ix.rounds[i].projects))
	for _, p := range ix.rounds[i].projects {
		out = append(out, ix.projects[p])
	}
	return out
}
