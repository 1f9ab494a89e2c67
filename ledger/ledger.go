// Package ledger keeps the fund custody accounting of a poll distribution:
// the balance held for the round, the running totals of every movement and
// the set of projects that already claimed.
//
// Every movement keeps TotalDeposited == TotalAmount + TotalClaimed +
// TotalWithdrawn.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/fxamacker/cbor/v2"
	"github.com/vocdoni/maci-payout/types"
)

var (
	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAlreadyClaimed is returned when a project claims twice.
	ErrAlreadyClaimed = errors.New("already claimed")
	// ErrInvalidAmount is returned for non positive amounts.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Ledger is the custody accounting of one distribution. It is not safe for
// concurrent use: the engine owning it serializes the calls.
type Ledger struct {
	TotalAmount    *big.Int
	TotalDeposited *big.Int
	TotalClaimed   *big.Int
	TotalWithdrawn *big.Int
	InitTime       time.Time
	Cooldown       time.Duration

	claimed *bitset.BitSet
}

// New returns an empty ledger whose cooldown starts at initTime.
func New(initTime time.Time, cooldown time.Duration) *Ledger {
	return &Ledger{
		TotalAmount:    new(big.Int),
		TotalDeposited: new(big.Int),
		TotalClaimed:   new(big.Int),
		TotalWithdrawn: new(big.Int),
		InitTime:       initTime,
		Cooldown:       cooldown,
		claimed:        bitset.New(0),
	}
}

// Clone returns a deep copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	return &Ledger{
		TotalAmount:    new(big.Int).Set(l.TotalAmount),
		TotalDeposited: new(big.Int).Set(l.TotalDeposited),
		TotalClaimed:   new(big.Int).Set(l.TotalClaimed),
		TotalWithdrawn: new(big.Int).Set(l.TotalWithdrawn),
		InitTime:       l.InitTime,
		Cooldown:       l.Cooldown,
		claimed:        l.claimed.Clone(),
	}
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	return nil
}

// Credit adds a deposit to the balance.
func (l *Ledger) Credit(amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.TotalAmount.Add(l.TotalAmount, amount)
	l.TotalDeposited.Add(l.TotalDeposited, amount)
	return nil
}

// Debit removes amount from the balance. The balance never goes negative.
func (l *Ledger) Debit(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	if amount.Cmp(l.TotalAmount) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrInsufficientFunds, amount, l.TotalAmount)
	}
	l.TotalAmount.Sub(l.TotalAmount, amount)
	return nil
}

// IsClaimed reports whether the project at index already claimed.
func (l *Ledger) IsClaimed(index uint64) bool {
	return l.claimed.Test(uint(index))
}

// MarkClaimed flags the project at index as claimed.
func (l *Ledger) MarkClaimed(index uint64) error {
	if l.IsClaimed(index) {
		return fmt.Errorf("%w: %d", ErrAlreadyClaimed, index)
	}
	l.claimed.Set(uint(index))
	return nil
}

// Claim marks index as claimed and pays amount out of the balance. A zero
// amount is a valid claim.
func (l *Ledger) Claim(index uint64, amount *big.Int) error {
	if l.IsClaimed(index) {
		return fmt.Errorf("%w: %d", ErrAlreadyClaimed, index)
	}
	if err := l.Debit(amount); err != nil {
		return err
	}
	l.claimed.Set(uint(index))
	l.TotalClaimed.Add(l.TotalClaimed, amount)
	return nil
}

// Withdraw pays amount out of the balance as an extra withdrawal.
func (l *Ledger) Withdraw(amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if err := l.Debit(amount); err != nil {
		return err
	}
	l.TotalWithdrawn.Add(l.TotalWithdrawn, amount)
	return nil
}

// ClaimedCount returns the number of projects that claimed.
func (l *Ledger) ClaimedCount() uint64 {
	return uint64(l.claimed.Count())
}

// Budget returns the amount the matching formula distributes: the current
// balance plus everything already claimed.
func (l *Ledger) Budget() *big.Int {
	return new(big.Int).Add(l.TotalAmount, l.TotalClaimed)
}

// CooldownOver reports whether the cooldown period elapsed at now.
func (l *Ledger) CooldownOver(now time.Time) bool {
	return !now.Before(l.InitTime.Add(l.Cooldown))
}

// Conserved checks the accounting identity of the ledger.
func (l *Ledger) Conserved() bool {
	out := new(big.Int).Add(l.TotalAmount, l.TotalClaimed)
	out.Add(out, l.TotalWithdrawn)
	return out.Cmp(l.TotalDeposited) == 0
}

type ledgerCBOR struct {
	TotalAmount    *types.BigInt `cbor:"0,keyasint"`
	TotalDeposited *types.BigInt `cbor:"1,keyasint"`
	TotalClaimed   *types.BigInt `cbor:"2,keyasint"`
	TotalWithdrawn *types.BigInt `cbor:"3,keyasint"`
	InitTime       int64         `cbor:"4,keyasint"`
	Cooldown       int64         `cbor:"5,keyasint"`
	Claimed        []byte        `cbor:"6,keyasint"`
}

// MarshalCBOR encodes the ledger, including the claimed set.
func (l *Ledger) MarshalCBOR() ([]byte, error) {
	claimed, err := l.claimed.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(&ledgerCBOR{
		TotalAmount:    new(types.BigInt).SetBigInt(l.TotalAmount),
		TotalDeposited: new(types.BigInt).SetBigInt(l.TotalDeposited),
		TotalClaimed:   new(types.BigInt).SetBigInt(l.TotalClaimed),
		TotalWithdrawn: new(types.BigInt).SetBigInt(l.TotalWithdrawn),
		InitTime:       l.InitTime.UnixNano(),
		Cooldown:       int64(l.Cooldown),
		Claimed:        claimed,
	})
}

// UnmarshalCBOR decodes a ledger encoded by MarshalCBOR.
func (l *Ledger) UnmarshalCBOR(data []byte) error {
	var lc ledgerCBOR
	if err := cbor.Unmarshal(data, &lc); err != nil {
		return err
	}
	claimed := bitset.New(0)
	if err := claimed.UnmarshalBinary(lc.Claimed); err != nil {
		return fmt.Errorf("decode claimed set: %w", err)
	}
	*l = Ledger{
		TotalAmount:    lc.TotalAmount.MathBigInt(),
		TotalDeposited: lc.TotalDeposited.MathBigInt(),
		TotalClaimed:   lc.TotalClaimed.MathBigInt(),
		TotalWithdrawn: lc.TotalWithdrawn.MathBigInt(),
		InitTime:       time.Unix(0, lc.InitTime),
		Cooldown:       time.Duration(lc.Cooldown),
		claimed:        claimed,
	}
	return nil
}
