package api

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/maci-payout/tally"
	"github.com/vocdoni/maci-payout/types"
)

// Distribution is the public state of the distribution of a poll.
type Distribution struct {
	PollID            uint64         `json:"pollId"`
	Status            tally.Status   `json:"status"`
	Paused            bool           `json:"paused"`
	PayoutToken       common.Address `json:"payoutToken"`
	MaxCap            *types.BigInt  `json:"maxCap"`
	VoiceCreditFactor *types.BigInt  `json:"voiceCreditFactor"`
	TallyCommitment   *types.BigInt  `json:"tallyCommitment,omitempty"`
	ResultsCount      uint64         `json:"resultsCount"`
	TotalSpent        *types.BigInt  `json:"totalSpent,omitempty"`
	TotalVotesSquares *types.BigInt  `json:"totalVotesSquares"`
	TotalAmount       *types.BigInt  `json:"totalAmount"`
	TotalDeposited    *types.BigInt  `json:"totalDeposited"`
	TotalClaimed      *types.BigInt  `json:"totalClaimed"`
	TotalWithdrawn    *types.BigInt  `json:"totalWithdrawn"`
	ClaimedCount      uint64         `json:"claimedCount"`
	CooldownEnd       int64          `json:"cooldownEnd"`
}

func newDistribution(rec *tally.Record, status tally.Status) *Distribution {
	bi := func(x *big.Int) *types.BigInt { return new(types.BigInt).SetBigInt(x) }
	d := &Distribution{
		PollID:            rec.PollID,
		Status:            status,
		Paused:            rec.Paused,
		PayoutToken:       rec.PayoutToken,
		MaxCap:            rec.MaxCap,
		VoiceCreditFactor: rec.VoiceCreditFactor,
		TallyCommitment:   rec.TallyCommitment,
		ResultsCount:      rec.ResultsCount,
		TotalSpent:        rec.TotalSpent,
		TotalVotesSquares: rec.TotalVotesSquares,
		TotalAmount:       bi(rec.Ledger.TotalAmount),
		TotalDeposited:    bi(rec.Ledger.TotalDeposited),
		TotalClaimed:      bi(rec.Ledger.TotalClaimed),
		TotalWithdrawn:    bi(rec.Ledger.TotalWithdrawn),
		ClaimedCount:      rec.Ledger.ClaimedCount(),
	}
	if rec.Initialized {
		d.CooldownEnd = rec.Ledger.InitTime.Add(rec.Ledger.Cooldown).Unix()
	}
	return d
}

// Alpha is the matching coefficient of a poll, scaled by 1e18.
type Alpha struct {
	Alpha *types.BigInt `json:"alpha"`
}

// Allocation is the amount a project receives.
type Allocation struct {
	Index                 uint64        `json:"index"`
	VoiceCreditsPerOption *types.BigInt `json:"voiceCreditsPerOption"`
	Amount                *types.BigInt `json:"amount"`
}

// ClaimRequest proves the tally result and the spent voice credits of a
// project. The tally result salt is optional.
type ClaimRequest struct {
	Index                       uint64            `json:"index"`
	VoiceCreditsPerOption       *types.BigInt     `json:"voiceCreditsPerOption"`
	TallyResultProof            [][]*types.BigInt `json:"tallyResultProof"`
	TallyResultSalt             *types.BigInt     `json:"tallyResultSalt,omitempty"`
	PerVOSpentVoiceCreditsProof [][]*types.BigInt `json:"perVOSpentVoiceCreditsProof"`
	PerVOSpentVoiceCreditsSalt  *types.BigInt     `json:"perVOSpentVoiceCreditsSalt"`
}

func mathPath(path [][]*types.BigInt) [][]*big.Int {
	out := make([][]*big.Int, len(path))
	for i, level := range path {
		out[i] = make([]*big.Int, len(level))
		for j, v := range level {
			if v != nil {
				out[i][j] = v.MathBigInt()
			}
		}
	}
	return out
}

func optionalBig(x *types.BigInt) *big.Int {
	if x == nil {
		return nil
	}
	return x.MathBigInt()
}

// ClaimParams converts the request into engine parameters.
func (r *ClaimRequest) ClaimParams() tally.ClaimParams {
	return tally.ClaimParams{
		Index:                       r.Index,
		VoiceCreditsPerOption:       optionalBig(r.VoiceCreditsPerOption),
		TallyResultProof:            mathPath(r.TallyResultProof),
		TallyResultSalt:             optionalBig(r.TallyResultSalt),
		PerVOSpentVoiceCreditsProof: mathPath(r.PerVOSpentVoiceCreditsProof),
		PerVOSpentVoiceCreditsSalt:  optionalBig(r.PerVOSpentVoiceCreditsSalt),
	}
}

// NewClaimRequest builds the request body of a claim.
func NewClaimRequest(p tally.ClaimParams) *ClaimRequest {
	path := func(in [][]*big.Int) [][]*types.BigInt {
		out := make([][]*types.BigInt, len(in))
		for i, level := range in {
			out[i] = make([]*types.BigInt, len(level))
			for j, v := range level {
				out[i][j] = new(types.BigInt).SetBigInt(v)
			}
		}
		return out
	}
	r := &ClaimRequest{
		Index:                       p.Index,
		VoiceCreditsPerOption:       new(types.BigInt).SetBigInt(p.VoiceCreditsPerOption),
		TallyResultProof:            path(p.TallyResultProof),
		PerVOSpentVoiceCreditsProof: path(p.PerVOSpentVoiceCreditsProof),
		PerVOSpentVoiceCreditsSalt:  new(types.BigInt).SetBigInt(p.PerVOSpentVoiceCreditsSalt),
	}
	if p.TallyResultSalt != nil {
		r.TallyResultSalt = new(types.BigInt).SetBigInt(p.TallyResultSalt)
	}
	return r
}

// ClaimResponse is the result of a successful claim.
type ClaimResponse struct {
	Index  uint64        `json:"index"`
	Amount *types.BigInt `json:"amount"`
}
