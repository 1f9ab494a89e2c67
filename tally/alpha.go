package tally

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-payout/qf"
	"github.com/vocdoni/maci-payout/registry"
)

func (e *Engine) alphaParams(rec *Record, reg registry.Registry, budget *big.Int) qf.Params {
	return qf.Params{
		Budget:            budget,
		TotalSpent:        rec.TotalSpent.MathBigInt(),
		TotalVotesSquares: rec.TotalVotesSquares.MathBigInt(),
		VoiceCreditFactor: rec.VoiceCreditFactor.MathBigInt(),
		ResultsCount:      rec.ResultsCount,
		RecipientCount:    rec.recipients(reg),
	}
}

// alpha returns the matching coefficient for the current budget basis. It
// reads the cached value of rec but never writes it: only Claim, which
// persists the record, fills the cache.
func (e *Engine) alpha(rec *Record, reg registry.Registry) (*big.Int, error) {
	budget := rec.Ledger.Budget()
	if a, ok := rec.cachedAlpha(budget); ok {
		return a, nil
	}
	return qf.Alpha(e.alphaParams(rec, reg, budget))
}

// allocation returns the amount the project at index receives.
func (e *Engine) allocation(rec *Record, reg registry.Registry, index uint64, spent *big.Int) (*big.Int, error) {
	result, ok := rec.TallyResults[index]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrResultNotAdmitted, index)
	}
	if spent == nil {
		return nil, fmt.Errorf("%w: missing voice credits", ErrInvalidAmount)
	}
	a, err := e.alpha(rec, reg)
	if err != nil {
		return nil, err
	}
	return qf.Allocation(a, rec.VoiceCreditFactor.MathBigInt(), result.Value.MathBigInt(), spent)
}

// CalculateAlpha returns the matching coefficient for budget.
func (e *Engine) CalculateAlpha(budget *big.Int) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	reg, err := e.checkTallied(e.rec)
	if err != nil {
		return nil, err
	}
	if budget == nil {
		return nil, fmt.Errorf("%w: nil budget", ErrInvalidBudget)
	}
	return qf.Alpha(e.alphaParams(e.rec, reg, budget))
}

// Alpha returns the matching coefficient for the funds of the round.
func (e *Engine) Alpha() (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	reg, err := e.checkTallied(e.rec)
	if err != nil {
		return nil, err
	}
	return e.alpha(e.rec, reg)
}

// GetAllocatedAmount returns the allocation of the project at index given
// the voice credits spent on it.
func (e *Engine) GetAllocatedAmount(index uint64, voiceCreditsPerOption *big.Int) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	reg, err := e.checkTallied(e.rec)
	if err != nil {
		return nil, err
	}
	return e.allocation(e.rec, reg, index, voiceCreditsPerOption)
}

// AllocationQuery selects a project and the voice credits spent on it.
type AllocationQuery struct {
	Index                 uint64
	VoiceCreditsPerOption *big.Int
}

// GetAllocatedAmounts returns the allocations of several projects.
func (e *Engine) GetAllocatedAmounts(queries []AllocationQuery) ([]*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	reg, err := e.checkTallied(e.rec)
	if err != nil {
		return nil, err
	}
	out := make([]*big.Int, len(queries))
	for i, q := range queries {
		if out[i], err = e.allocation(e.rec, reg, q.Index, q.VoiceCreditsPerOption); err != nil {
			return nil, err
		}
	}
	return out, nil
}
