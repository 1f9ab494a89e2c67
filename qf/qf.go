// Package qf implements the capital constrained quadratic funding match.
//
// Given the tally result r_i and the voice credits spent s_i on every
// project, the budget B, the total spent S and the voice credit factor vcf:
//
//	contributions = S * vcf
//	alpha         = (B - contributions) * 1e18 / (vcf * (sum(r_i^2) - S))
//	allocation_i  = (alpha * vcf * r_i^2 + 1e18 * vcf * s_i - alpha * vcf * s_i) / 1e18
//
// All the arithmetic is done on 256-bit unsigned integers and fails with
// ErrOverflow instead of wrapping.
package qf

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// MaxVoiceCredits is the number of voice credits the largest contribution
// is worth.
const MaxVoiceCredits = 1_000_000_000

var (
	// ErrOverflow is returned when an intermediate value does not fit in
	// 256 bits.
	ErrOverflow = errors.New("arithmetic overflow")
	// ErrInvalidBudget is returned when the budget does not cover the
	// contributions.
	ErrInvalidBudget = errors.New("invalid budget")
	// ErrNoProjectHasMoreThanOneVote is returned when the sum of the squared
	// results does not exceed the voice credits spent, so there is nothing
	// to match.
	ErrNoProjectHasMoreThanOneVote = errors.New("no project has more than one vote")
	// ErrNotCompletedResults is returned when alpha is requested before
	// every project has a tally result.
	ErrNotCompletedResults = errors.New("tally results are not complete")

	precision = uint256.NewInt(1_000_000_000_000_000_000)
)

// VoiceCreditFactor returns max(1, maxContribution / MaxVoiceCredits).
func VoiceCreditFactor(maxContribution *big.Int) *big.Int {
	vcf := new(big.Int).Quo(maxContribution, big.NewInt(MaxVoiceCredits))
	if vcf.Sign() <= 0 {
		return big.NewInt(1)
	}
	return vcf
}

// Precision returns the fixed point scale of alpha (10^18).
func Precision() *big.Int {
	return precision.ToBig()
}

// Params are the inputs of the alpha computation.
type Params struct {
	Budget            *big.Int
	TotalSpent        *big.Int
	TotalVotesSquares *big.Int
	VoiceCreditFactor *big.Int
	ResultsCount      uint64
	RecipientCount    uint64
}

func fromBig(x *big.Int) (*uint256.Int, error) {
	if x == nil || x.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid operand %v", ErrOverflow, x)
	}
	u, overflow := uint256.FromBig(x)
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrOverflow, x)
	}
	return u, nil
}

func mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

func mul3(x, y, w *uint256.Int) (*uint256.Int, error) {
	z, err := mul(x, y)
	if err != nil {
		return nil, err
	}
	return mul(z, w)
}

// Alpha returns the matching coefficient, scaled by 10^18.
func Alpha(p Params) (*big.Int, error) {
	if p.ResultsCount < p.RecipientCount {
		return nil, fmt.Errorf("%w: %d of %d", ErrNotCompletedResults, p.ResultsCount, p.RecipientCount)
	}
	budget, err := fromBig(p.Budget)
	if err != nil {
		return nil, err
	}
	spent, err := fromBig(p.TotalSpent)
	if err != nil {
		return nil, err
	}
	squares, err := fromBig(p.TotalVotesSquares)
	if err != nil {
		return nil, err
	}
	vcf, err := fromBig(p.VoiceCreditFactor)
	if err != nil {
		return nil, err
	}
	contributions, err := mul(spent, vcf)
	if err != nil {
		return nil, err
	}
	if budget.Lt(contributions) {
		return nil, fmt.Errorf("%w: budget %s below contributions %s", ErrInvalidBudget, budget, contributions)
	}
	if !squares.Gt(spent) {
		return nil, ErrNoProjectHasMoreThanOneVote
	}
	matching := new(uint256.Int).Sub(budget, contributions)
	numerator, err := mul(matching, precision)
	if err != nil {
		return nil, err
	}
	denominator, err := mul(vcf, new(uint256.Int).Sub(squares, spent))
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Div(numerator, denominator).ToBig(), nil
}

// Allocation returns the amount a project with the given tally result and
// spent voice credits receives at alpha.
func Allocation(alpha, vcf, tallyResult, spent *big.Int) (*big.Int, error) {
	a, err := fromBig(alpha)
	if err != nil {
		return nil, err
	}
	f, err := fromBig(vcf)
	if err != nil {
		return nil, err
	}
	r, err := fromBig(tallyResult)
	if err != nil {
		return nil, err
	}
	s, err := fromBig(spent)
	if err != nil {
		return nil, err
	}
	r2, err := mul(r, r)
	if err != nil {
		return nil, err
	}
	quadratic, err := mul3(a, f, r2)
	if err != nil {
		return nil, err
	}
	linear, err := mul3(precision, f, s)
	if err != nil {
		return nil, err
	}
	discount, err := mul3(a, f, s)
	if err != nil {
		return nil, err
	}
	sum, overflow := new(uint256.Int).AddOverflow(quadratic, linear)
	if overflow {
		return nil, ErrOverflow
	}
	if sum.Lt(discount) {
		return nil, fmt.Errorf("%w: negative allocation", ErrOverflow)
	}
	sum.Sub(sum, discount)
	return sum.Div(sum, precision).ToBig(), nil
}
