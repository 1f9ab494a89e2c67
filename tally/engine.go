// Package tally implements the distribution engine of a quadratic funding
// round: it admits Merkle-proven tally results, computes the matching
// coefficient and lets every project claim its allocation exactly once.
//
// Every mutating call is serialized. It works on a copy of the record,
// stages the new record and its events in a single storage batch, moves the
// tokens and only then commits and swaps the record, so a failed call leaves
// no partial state behind.
package tally

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/maci-payout/events"
	"github.com/vocdoni/maci-payout/ledger"
	"github.com/vocdoni/maci-payout/log"
	"github.com/vocdoni/maci-payout/merkle"
	"github.com/vocdoni/maci-payout/qf"
	"github.com/vocdoni/maci-payout/registry"
	"github.com/vocdoni/maci-payout/storage"
	"github.com/vocdoni/maci-payout/token"
	"github.com/vocdoni/maci-payout/types"
	"github.com/vocdoni/maci-payout/verifier"
)

// Poll is the view of the poll the engine needs.
type Poll interface {
	ID() uint64
	TreeDepths() types.TreeDepths
	StateMerged() bool
	MessageMerged() bool
	StateRoot() *big.Int
	MessageRoot() *big.Int
	NumSignUpsAndMessages() (uint64, uint64)
	Registry() (registry.Registry, error)
}

// RejectionObserver is notified of every failed mutating call.
type RejectionObserver interface {
	ObserveRejection(op string, err error)
}

// Config holds the collaborators of an Engine.
type Config struct {
	Owner    common.Address
	Poll     Poll
	Tokens   token.Provider
	Verifier verifier.ProofVerifier
	Storage  *storage.Storage
	// Self is the custody account holding the round funds.
	Self common.Address
	// Emitter receives the events after they are committed. Optional.
	Emitter events.Emitter
	// Rejections is notified of failed calls. Optional.
	Rejections RejectionObserver
	// Now is the clock used by the time gates. Defaults to time.Now.
	Now func() time.Time
	// TreeArity of the result trees. Zero selects types.TreeArity.
	TreeArity int
}

// Engine is the distribution engine of one poll.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	rec    *Record
	proofs *merkle.Verifier
}

// New returns the engine of cfg.Poll, restoring its record from storage if
// one exists.
func New(cfg Config) (*Engine, error) {
	if cfg.Poll == nil || cfg.Tokens == nil || cfg.Verifier == nil || cfg.Storage == nil {
		return nil, fmt.Errorf("missing engine collaborators")
	}
	if cfg.Self == (common.Address{}) {
		return nil, fmt.Errorf("%w: custody account", ErrInvalidAddress)
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.NoopEmitter{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	proofs, err := merkle.NewVerifier(cfg.TreeArity)
	if err != nil {
		return nil, err
	}
	rec := &Record{}
	err = cfg.Storage.Distribution(cfg.Poll.ID(), rec)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		rec = newRecord(cfg.Poll.ID())
	case err != nil:
		return nil, fmt.Errorf("could not load distribution of poll %d: %w", cfg.Poll.ID(), err)
	default:
		if rec.TallyResults == nil {
			rec.TallyResults = make(map[uint64]Result)
		}
		log.Infow("distribution restored", "pollID", rec.PollID, "results", rec.ResultsCount)
	}
	return &Engine{cfg: cfg, rec: rec, proofs: proofs}, nil
}

// PollID returns the identifier of the poll the engine distributes.
func (e *Engine) PollID() uint64 {
	return e.cfg.Poll.ID()
}

// Owner returns the owner of the distribution.
func (e *Engine) Owner() common.Address {
	return e.cfg.Owner
}

// Custody returns the account holding the round funds.
func (e *Engine) Custody() common.Address {
	return e.cfg.Self
}

// staged collects the side effects of a mutating call. A call moves tokens
// at most once, so a failed transfer never leaves earlier ones behind.
type staged struct {
	events   []events.Event
	deposits []*storage.DepositRecord
	claims   []*storage.ClaimRecord
	transfer func() error
}

func (s *staged) emit(ev events.Event) {
	s.events = append(s.events, ev)
}

// update runs fn on a copy of the record and persists the result.
func (e *Engine) update(op string, fn func(rec *Record, st *staged) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reject(op, e.apply(fn))
}

// reject reports a failed call to the rejection observer.
func (e *Engine) reject(op string, err error) error {
	if err == nil {
		return nil
	}
	if e.cfg.Rejections != nil {
		e.cfg.Rejections.ObserveRejection(op, err)
	}
	log.Debugw("distribution call rejected", "pollID", e.rec.PollID, "op", op, "error", err.Error())
	return err
}

func (e *Engine) apply(fn func(rec *Record, st *staged) error) error {
	rec := e.rec.Clone()
	st := &staged{}
	if err := fn(rec, st); err != nil {
		return err
	}
	now := e.cfg.Now().Unix()
	batch := e.cfg.Storage.NewBatch()
	if err := batch.SetDistribution(rec.PollID, rec); err != nil {
		batch.Discard()
		return fmt.Errorf("could not stage distribution: %w", err)
	}
	for _, d := range st.deposits {
		if err := batch.AddDeposit(d); err != nil {
			batch.Discard()
			return fmt.Errorf("could not stage deposit: %w", err)
		}
	}
	for _, c := range st.claims {
		if err := batch.SetClaim(c); err != nil {
			batch.Discard()
			return fmt.Errorf("could not stage claim: %w", err)
		}
	}
	for i := range st.events {
		st.events[i].Timestamp = now
		if err := batch.AppendEvent(&st.events[i]); err != nil {
			batch.Discard()
			return fmt.Errorf("could not stage event: %w", err)
		}
	}
	if st.transfer != nil {
		if err := st.transfer(); err != nil {
			batch.Discard()
			return fmt.Errorf("token transfer failed: %w", err)
		}
	}
	if err := batch.Commit(); err != nil {
		if st.transfer == nil {
			return fmt.Errorf("could not persist distribution: %w", err)
		}
		// the tokens already moved, so the in-memory record follows them
		e.rec = rec
		log.Errorw(err, "could not persist distribution after token transfer")
		return fmt.Errorf("could not persist distribution: %w", err)
	}
	e.rec = rec
	for _, ev := range st.events {
		e.cfg.Emitter.Emit(ev)
	}
	return nil
}

func (e *Engine) onlyOwner(caller common.Address) error {
	if caller != e.cfg.Owner {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
	}
	return nil
}

// InitParams are the immutable parameters of a distribution.
type InitParams struct {
	Cooldown        time.Duration
	MaxContribution *big.Int
	PayoutToken     common.Address
	// MaxCap bounds the funds held by the round. Zero means no cap.
	MaxCap *big.Int
}

// Init initializes the distribution.
func (e *Engine) Init(caller common.Address, p InitParams) error {
	return e.update("init", func(rec *Record, st *staged) error {
		if err := e.onlyOwner(caller); err != nil {
			return err
		}
		if rec.Initialized {
			return ErrAlreadyInitialized
		}
		if p.PayoutToken == (common.Address{}) {
			return fmt.Errorf("%w: payout token", ErrInvalidAddress)
		}
		if _, err := e.cfg.Tokens.Token(p.PayoutToken); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidAddress, err)
		}
		if p.Cooldown < 0 {
			return fmt.Errorf("negative cooldown %s", p.Cooldown)
		}
		maxContribution := new(big.Int)
		if p.MaxContribution != nil {
			maxContribution.Set(p.MaxContribution)
		}
		maxCap := new(big.Int)
		if p.MaxCap != nil {
			maxCap.Set(p.MaxCap)
		}
		if maxContribution.Sign() < 0 || maxCap.Sign() < 0 {
			return fmt.Errorf("%w: negative parameters", ErrInvalidAmount)
		}
		rec.Initialized = true
		rec.PayoutToken = p.PayoutToken
		rec.MaxContribution = new(types.BigInt).SetBigInt(maxContribution)
		rec.MaxCap = new(types.BigInt).SetBigInt(maxCap)
		rec.VoiceCreditFactor = new(types.BigInt).SetBigInt(qf.VoiceCreditFactor(maxContribution))
		rec.Ledger = ledger.New(e.cfg.Now(), p.Cooldown)
		st.emit(events.Initialized(rec.PollID, p.PayoutToken, maxCap))
		log.Infow("distribution initialized", "pollID", rec.PollID, "token", p.PayoutToken.Hex(),
			"voiceCreditFactor", rec.VoiceCreditFactor.String(), "cooldown", p.Cooldown.String())
		return nil
	})
}

// Pause blocks every fund movement.
func (e *Engine) Pause(caller common.Address) error {
	return e.update("pause", func(rec *Record, st *staged) error {
		if err := e.onlyOwner(caller); err != nil {
			return err
		}
		if rec.Paused {
			return ErrEnforcedPause
		}
		rec.Paused = true
		st.emit(events.PauseChanged(rec.PollID, caller, true))
		log.Infow("distribution paused", "pollID", rec.PollID)
		return nil
	})
}

// Unpause resumes the fund movements.
func (e *Engine) Unpause(caller common.Address) error {
	return e.update("unpause", func(rec *Record, st *staged) error {
		if err := e.onlyOwner(caller); err != nil {
			return err
		}
		if !rec.Paused {
			return ErrExpectedPause
		}
		rec.Paused = false
		st.emit(events.PauseChanged(rec.PollID, caller, false))
		log.Infow("distribution unpaused", "pollID", rec.PollID)
		return nil
	})
}

// checkTallied applies the gating rule shared by the fund movements and
// the allocation queries, returning the poll registry.
func (e *Engine) checkTallied(rec *Record) (registry.Registry, error) {
	if !rec.Initialized {
		return nil, ErrNotInitialized
	}
	reg, err := e.cfg.Poll.Registry()
	if err != nil {
		return nil, ErrRegistryNotSet
	}
	if n := rec.recipients(reg); rec.ResultsCount < n {
		return nil, fmt.Errorf("%w: %d of %d results", ErrVotesNotTallied, rec.ResultsCount, n)
	}
	return reg, nil
}

func (e *Engine) payoutToken(rec *Record) (token.Token, error) {
	return e.cfg.Tokens.Token(rec.PayoutToken)
}

// Status returns the lifecycle stage of the distribution.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	var recipients uint64
	if reg, err := e.cfg.Poll.Registry(); err == nil {
		recipients = e.rec.recipients(reg)
	}
	return e.rec.status(recipients)
}

// Record returns a deep copy of the distribution record.
func (e *Engine) Record() *Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone()
}

// IsTallied reports whether every recipient has an admitted result.
func (e *Engine) IsTallied() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.checkTallied(e.rec)
	return err == nil
}

// ResultsCount returns the number of admitted results.
func (e *Engine) ResultsCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.ResultsCount
}

// TotalAmount returns the funds held for the round.
func (e *Engine) TotalAmount() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.rec.Ledger.TotalAmount)
}

// IsClaimed reports whether the project at index already claimed.
func (e *Engine) IsClaimed(index uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Ledger.IsClaimed(index)
}
