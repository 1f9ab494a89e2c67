// Package events defines the state changes emitted by the distribution
// engine. An Event is a tagged union: Kind selects which fields are set.
package events

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/maci-payout/types"
)

// Kind identifies the type of an event.
type Kind uint8

const (
	KindResultAdded Kind = iota + 1
	KindDeposited
	KindClaimed
	KindExtraWithdrawn
	KindInitialized
	KindTallyCommitted
	KindPaused
	KindUnpaused
)

var kindNames = map[Kind]string{
	KindResultAdded:    "tally.result_added",
	KindDeposited:      "funds.deposited",
	KindClaimed:        "funds.claimed",
	KindExtraWithdrawn: "funds.extra_withdrawn",
	KindInitialized:    "tally.initialized",
	KindTallyCommitted: "tally.committed",
	KindPaused:         "tally.paused",
	KindUnpaused:       "tally.unpaused",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// Event is a state change of a poll distribution.
//
//   - ResultAdded: Index, Value (tally result), Flag
//   - Deposited: Account (sender), Amount
//   - Claimed: Index, Account (recipient), Amount
//   - ExtraWithdrawn: Account (recipient), Amount
//   - Initialized: Account (payout token), Amount (max cap)
//   - TallyCommitted: Value (tally commitment)
//   - Paused, Unpaused: Account (caller)
type Event struct {
	Kind      Kind           `json:"kind"            cbor:"0,keyasint"`
	PollID    uint64         `json:"pollId"          cbor:"1,keyasint"`
	Index     uint64         `json:"index"           cbor:"2,keyasint,omitempty"`
	Value     *types.BigInt  `json:"value,omitempty" cbor:"3,keyasint,omitempty"`
	Flag      bool           `json:"flag,omitempty"  cbor:"4,keyasint,omitempty"`
	Account   common.Address `json:"account"         cbor:"5,keyasint,omitempty"`
	Amount    *types.BigInt  `json:"amount,omitempty" cbor:"6,keyasint,omitempty"`
	Timestamp int64          `json:"timestamp"       cbor:"7,keyasint,omitempty"`
}

// EventType returns the name of the event kind.
func (e Event) EventType() string { return e.Kind.String() }

// ResultAdded builds the event emitted when a tally result is admitted.
func ResultAdded(pollID, index uint64, value *big.Int, flag bool) Event {
	return Event{Kind: KindResultAdded, PollID: pollID, Index: index, Value: bigOrNil(value), Flag: flag}
}

// Deposited builds the event emitted when funds are deposited.
func Deposited(pollID uint64, sender common.Address, amount *big.Int) Event {
	return Event{Kind: KindDeposited, PollID: pollID, Account: sender, Amount: bigOrNil(amount)}
}

// Claimed builds the event emitted when a project claims its allocation.
func Claimed(pollID, index uint64, recipient common.Address, amount *big.Int) Event {
	return Event{Kind: KindClaimed, PollID: pollID, Index: index, Account: recipient, Amount: bigOrNil(amount)}
}

// ExtraWithdrawn builds the event emitted for every extra withdrawal.
func ExtraWithdrawn(pollID uint64, recipient common.Address, amount *big.Int) Event {
	return Event{Kind: KindExtraWithdrawn, PollID: pollID, Account: recipient, Amount: bigOrNil(amount)}
}

// Initialized builds the event emitted when a distribution is initialized.
func Initialized(pollID uint64, token common.Address, maxCap *big.Int) Event {
	return Event{Kind: KindInitialized, PollID: pollID, Account: token, Amount: bigOrNil(maxCap)}
}

// TallyCommitted builds the event emitted when the tally commitment is set.
func TallyCommitted(pollID uint64, commitment *big.Int) Event {
	return Event{Kind: KindTallyCommitted, PollID: pollID, Value: bigOrNil(commitment)}
}

// PauseChanged builds a Paused or Unpaused event.
func PauseChanged(pollID uint64, caller common.Address, paused bool) Event {
	kind := KindUnpaused
	if paused {
		kind = KindPaused
	}
	return Event{Kind: kind, PollID: pollID, Account: caller}
}

func bigOrNil(x *big.Int) *types.BigInt {
	if x == nil {
		return nil
	}
	return new(types.BigInt).SetBigInt(x)
}

// Emitter broadcasts events to downstream subscribers (indexers, metrics).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Multi fans out every event to a list of emitters.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(e Event) {
	for _, em := range m {
		if em != nil {
			em.Emit(e)
		}
	}
}
