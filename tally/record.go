package tally

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/maci-payout/ledger"
	"github.com/vocdoni/maci-payout/registry"
	"github.com/vocdoni/maci-payout/types"
)

// Status is the lifecycle stage of a distribution.
type Status uint8

const (
	StatusUninitialized Status = iota
	StatusInitialized
	StatusTallying
	StatusTallied
	StatusExtraWithdrawn
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusInitialized:
		return "initialized"
	case StatusTallying:
		return "tallying"
	case StatusTallied:
		return "tallied"
	case StatusExtraWithdrawn:
		return "extraWithdrawn"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(data []byte) error {
	for st := StatusUninitialized; st <= StatusExtraWithdrawn; st++ {
		if st.String() == string(data) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", data)
}

// Result is an admitted tally result.
type Result struct {
	Value *types.BigInt `json:"value" cbor:"0,keyasint"`
	Flag  bool          `json:"flag"  cbor:"1,keyasint"`
}

// Record is the persisted state of the distribution of a poll.
type Record struct {
	PollID            uint64         `json:"pollId"            cbor:"0,keyasint"`
	Initialized       bool           `json:"initialized"       cbor:"1,keyasint"`
	Paused            bool           `json:"paused"            cbor:"2,keyasint"`
	PayoutToken       common.Address `json:"payoutToken"       cbor:"3,keyasint"`
	MaxContribution   *types.BigInt  `json:"maxContribution"   cbor:"4,keyasint"`
	MaxCap            *types.BigInt  `json:"maxCap"            cbor:"5,keyasint"`
	VoiceCreditFactor *types.BigInt  `json:"voiceCreditFactor" cbor:"6,keyasint"`

	TallyCommitment            *types.BigInt `json:"tallyCommitment,omitempty"            cbor:"7,keyasint,omitempty"`
	ResultsCommitment          *types.BigInt `json:"resultsCommitment,omitempty"          cbor:"8,keyasint,omitempty"`
	SpentVoiceCreditsHash      *types.BigInt `json:"spentVoiceCreditsHash,omitempty"      cbor:"9,keyasint,omitempty"`
	PerVOSpentVoiceCreditsHash *types.BigInt `json:"perVOSpentVoiceCreditsHash,omitempty" cbor:"10,keyasint,omitempty"`
	TotalSpent                 *types.BigInt `json:"totalSpent,omitempty"                 cbor:"11,keyasint,omitempty"`
	TotalSpentSalt             *types.BigInt `json:"-"                                    cbor:"12,keyasint,omitempty"`
	ResultSalt                 *types.BigInt `json:"-"                                    cbor:"13,keyasint,omitempty"`

	TallyResults      map[uint64]Result `json:"tallyResults"      cbor:"14,keyasint"`
	ResultsCount      uint64            `json:"resultsCount"      cbor:"15,keyasint"`
	TotalVotesSquares *types.BigInt     `json:"totalVotesSquares" cbor:"16,keyasint"`

	Ledger         *ledger.Ledger `json:"-"              cbor:"17,keyasint"`
	ExtraWithdrawn bool           `json:"extraWithdrawn" cbor:"18,keyasint"`

	// alpha cache, valid while the budget basis equals AlphaBudget
	Alpha       *types.BigInt `json:"alpha,omitempty" cbor:"19,keyasint,omitempty"`
	AlphaBudget *types.BigInt `json:"-"               cbor:"20,keyasint,omitempty"`

	// RecipientCount is the registry size fixed by the first results batch.
	// Zero until then.
	RecipientCount uint64 `json:"recipientCount" cbor:"21,keyasint,omitempty"`
}

func newRecord(pollID uint64) *Record {
	return &Record{
		PollID:            pollID,
		MaxContribution:   types.NewInt(0),
		MaxCap:            types.NewInt(0),
		VoiceCreditFactor: types.NewInt(1),
		TallyResults:      make(map[uint64]Result),
		TotalVotesSquares: types.NewInt(0),
		Ledger:            ledger.New(time.Time{}, 0),
	}
}

func cloneBig(x *types.BigInt) *types.BigInt {
	if x == nil {
		return nil
	}
	return new(types.BigInt).SetBigInt(x.MathBigInt())
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	c.MaxContribution = cloneBig(r.MaxContribution)
	c.MaxCap = cloneBig(r.MaxCap)
	c.VoiceCreditFactor = cloneBig(r.VoiceCreditFactor)
	c.TallyCommitment = cloneBig(r.TallyCommitment)
	c.ResultsCommitment = cloneBig(r.ResultsCommitment)
	c.SpentVoiceCreditsHash = cloneBig(r.SpentVoiceCreditsHash)
	c.PerVOSpentVoiceCreditsHash = cloneBig(r.PerVOSpentVoiceCreditsHash)
	c.TotalSpent = cloneBig(r.TotalSpent)
	c.TotalSpentSalt = cloneBig(r.TotalSpentSalt)
	c.ResultSalt = cloneBig(r.ResultSalt)
	c.TotalVotesSquares = cloneBig(r.TotalVotesSquares)
	c.Alpha = cloneBig(r.Alpha)
	c.AlphaBudget = cloneBig(r.AlphaBudget)
	c.TallyResults = make(map[uint64]Result, len(r.TallyResults))
	for k, v := range r.TallyResults {
		c.TallyResults[k] = Result{Value: cloneBig(v.Value), Flag: v.Flag}
	}
	c.Ledger = r.Ledger.Clone()
	return &c
}

// status derives the lifecycle stage, given the number of recipients.
func (r *Record) status(recipients uint64) Status {
	switch {
	case !r.Initialized:
		return StatusUninitialized
	case r.ExtraWithdrawn:
		return StatusExtraWithdrawn
	case r.ResultsCount == 0:
		return StatusInitialized
	case r.ResultsCount < recipients:
		return StatusTallying
	default:
		return StatusTallied
	}
}

// recipients returns the number of results the round needs: the snapshot
// taken by the first results batch, or the live registry size before it.
func (r *Record) recipients(reg registry.Registry) uint64 {
	if r.RecipientCount > 0 {
		return r.RecipientCount
	}
	return reg.RecipientCount()
}

// invalidateAlpha drops the cached alpha.
func (r *Record) invalidateAlpha() {
	r.Alpha = nil
	r.AlphaBudget = nil
}

// setAlpha caches alpha for the budget basis.
func (r *Record) setAlpha(alpha, budget *big.Int) {
	r.Alpha = new(types.BigInt).SetBigInt(alpha)
	r.AlphaBudget = new(types.BigInt).SetBigInt(budget)
}

// cachedAlpha returns the cached alpha if it was computed for budget.
func (r *Record) cachedAlpha(budget *big.Int) (*big.Int, bool) {
	if r.Alpha == nil || r.AlphaBudget == nil || r.AlphaBudget.MathBigInt().Cmp(budget) != 0 {
		return nil, false
	}
	return r.Alpha.MathBigInt(), true
}
