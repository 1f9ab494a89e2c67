package tally

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/maci-payout/events"
	"github.com/vocdoni/maci-payout/ledger"
	"github.com/vocdoni/maci-payout/log"
	"github.com/vocdoni/maci-payout/storage"
	"github.com/vocdoni/maci-payout/types"
)

// Deposit pulls amount payout tokens from sender into the round custody.
// The sender must have approved the custody account.
func (e *Engine) Deposit(sender common.Address, amount *big.Int) error {
	return e.update("deposit", func(rec *Record, st *staged) error {
		if rec.Paused {
			return ErrEnforcedPause
		}
		if _, err := e.checkTallied(rec); err != nil {
			return err
		}
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
		}
		maxCap := rec.MaxCap.MathBigInt()
		total := new(big.Int).Add(rec.Ledger.TotalAmount, amount)
		if maxCap.Sign() > 0 && total.Cmp(maxCap) > 0 {
			return fmt.Errorf("%w: %s > %s", ErrMaxCapExceeded, total, maxCap)
		}
		tk, err := e.payoutToken(rec)
		if err != nil {
			return err
		}
		if err := rec.Ledger.Credit(amount); err != nil {
			return err
		}
		rec.invalidateAlpha()
		st.deposits = append(st.deposits, &storage.DepositRecord{
			PollID:    rec.PollID,
			Sender:    sender,
			Amount:    new(types.BigInt).SetBigInt(amount),
			Total:     new(types.BigInt).SetBigInt(rec.Ledger.TotalAmount),
			Timestamp: e.cfg.Now().Unix(),
		})
		st.emit(events.Deposited(rec.PollID, sender, amount))
		value := new(big.Int).Set(amount)
		st.transfer = func() error {
			return tk.TransferFrom(e.cfg.Self, sender, e.cfg.Self, value)
		}
		log.Infow("deposit", "pollID", rec.PollID, "sender", sender.Hex(), "amount", amount.String(),
			"total", rec.Ledger.TotalAmount.String())
		return nil
	})
}

// ClaimParams proves the tally result and the spent voice credits of a
// project.
type ClaimParams struct {
	Index                 uint64
	VoiceCreditsPerOption *big.Int
	TallyResultProof      [][]*big.Int
	// TallyResultSalt defaults to the salt fixed by the results batches.
	TallyResultSalt             *big.Int
	PerVOSpentVoiceCreditsProof [][]*big.Int
	PerVOSpentVoiceCreditsSalt  *big.Int
}

// Claim pays the allocation of a project to its registered recipient and
// returns the amount paid. Anyone can trigger it.
func (e *Engine) Claim(p ClaimParams) (*big.Int, error) {
	var paid *big.Int
	err := e.update("claim", func(rec *Record, st *staged) error {
		if rec.Paused {
			return ErrEnforcedPause
		}
		reg, err := e.checkTallied(rec)
		if err != nil {
			return err
		}
		if rec.Ledger.IsClaimed(p.Index) {
			return fmt.Errorf("%w: %d", ErrAlreadyClaimed, p.Index)
		}
		result, ok := rec.TallyResults[p.Index]
		if !ok {
			return fmt.Errorf("%w: %d", ErrResultNotAdmitted, p.Index)
		}
		salt := p.TallyResultSalt
		if salt == nil {
			salt = rec.ResultSalt.MathBigInt()
		}
		depth := e.cfg.Poll.TreeDepths().VoteOptionTreeDepth
		if !e.proofs.Verify(rec.ResultsCommitment.MathBigInt(), depth, p.Index,
			result.Value.MathBigInt(), salt, p.TallyResultProof) {
			return fmt.Errorf("%w: tally result %d", ErrInvalidTallyVotesProof, p.Index)
		}
		if !e.proofs.Verify(rec.PerVOSpentVoiceCreditsHash.MathBigInt(), depth, p.Index,
			p.VoiceCreditsPerOption, p.PerVOSpentVoiceCreditsSalt, p.PerVOSpentVoiceCreditsProof) {
			return fmt.Errorf("%w: spent voice credits %d", ErrInvalidTallyVotesProof, p.Index)
		}
		amount, err := e.allocation(rec, reg, p.Index, p.VoiceCreditsPerOption)
		if err != nil {
			return err
		}
		alpha, err := e.alpha(rec, reg)
		if err != nil {
			return err
		}
		rec.setAlpha(alpha, rec.Ledger.Budget())
		if amount.Cmp(rec.Ledger.TotalAmount) > 0 {
			return fmt.Errorf("%w: allocation %s, balance %s", ErrInsufficientFunds, amount, rec.Ledger.TotalAmount)
		}
		recipient, err := reg.Recipient(p.Index)
		if err != nil || recipient == (common.Address{}) {
			return fmt.Errorf("%w: recipient of %d", ErrInvalidAddress, p.Index)
		}
		tk, err := e.payoutToken(rec)
		if err != nil {
			return err
		}
		if err := rec.Ledger.Claim(p.Index, amount); err != nil {
			return err
		}
		st.claims = append(st.claims, &storage.ClaimRecord{
			PollID:    rec.PollID,
			Index:     p.Index,
			Recipient: recipient,
			Amount:    new(types.BigInt).SetBigInt(amount),
			Timestamp: e.cfg.Now().Unix(),
		})
		st.emit(events.Claimed(rec.PollID, p.Index, recipient, amount))
		st.transfer = func() error {
			return tk.Transfer(e.cfg.Self, recipient, amount)
		}
		paid = amount
		log.Infow("allocation claimed", "pollID", rec.PollID, "index", p.Index,
			"recipient", recipient.Hex(), "amount", amount.String())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// WithdrawExtra sends funds left in the round to the given recipients once
// the cooldown is over. The whole list is validated first, then every
// withdrawal is committed on its own, so if a transfer fails the ones before
// it stay recorded and the error names the failed position.
func (e *Engine) WithdrawExtra(caller common.Address, recipients []common.Address, amounts []*big.Int) error {
	const op = "withdrawExtra"
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkWithdrawals(e.rec.Clone(), caller, recipients, amounts); err != nil {
		return e.reject(op, err)
	}
	for i, to := range recipients {
		amount := new(big.Int).Set(amounts[i])
		err := e.apply(func(rec *Record, st *staged) error {
			tk, err := e.payoutToken(rec)
			if err != nil {
				return err
			}
			if err := rec.Ledger.Withdraw(amount); err != nil {
				return withdrawalError(err)
			}
			rec.ExtraWithdrawn = true
			rec.invalidateAlpha()
			st.emit(events.ExtraWithdrawn(rec.PollID, to, amount))
			st.transfer = func() error {
				return tk.Transfer(e.cfg.Self, to, amount)
			}
			return nil
		})
		if err != nil {
			if i > 0 {
				log.Warnw("extra withdrawal interrupted", "pollID", e.rec.PollID, "done", i,
					"requested", len(recipients), "left", e.rec.Ledger.TotalAmount.String())
			}
			return e.reject(op, fmt.Errorf("withdrawal %d of %d: %w", i+1, len(recipients), err))
		}
	}
	log.Infow("extra funds withdrawn", "pollID", e.rec.PollID, "recipients", len(recipients),
		"left", e.rec.Ledger.TotalAmount.String())
	return nil
}

// checkWithdrawals validates a withdrawal list against a scratch copy of the
// record and the custody token balance.
func (e *Engine) checkWithdrawals(rec *Record, caller common.Address, recipients []common.Address,
	amounts []*big.Int,
) error {
	if err := e.onlyOwner(caller); err != nil {
		return err
	}
	if rec.Paused {
		return ErrEnforcedPause
	}
	if _, err := e.checkTallied(rec); err != nil {
		return err
	}
	if !rec.Ledger.CooldownOver(e.cfg.Now()) {
		return ErrCooldownPeriodNotOver
	}
	if len(recipients) == 0 || len(recipients) != len(amounts) {
		return fmt.Errorf("%w: %d recipients, %d amounts", ErrInvalidWithdrawal, len(recipients), len(amounts))
	}
	tk, err := e.payoutToken(rec)
	if err != nil {
		return err
	}
	remaining, err := tk.BalanceOf(e.cfg.Self)
	if err != nil {
		return err
	}
	for i, to := range recipients {
		amount := amounts[i]
		if to == (common.Address{}) {
			return fmt.Errorf("%w: withdrawal recipient %d", ErrInvalidAddress, i)
		}
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
		}
		if amount.Cmp(remaining) > 0 {
			return fmt.Errorf("%w: %s exceeds the token balance %s", ErrInvalidWithdrawal, amount, remaining)
		}
		if err := rec.Ledger.Withdraw(amount); err != nil {
			return withdrawalError(err)
		}
		remaining = new(big.Int).Sub(remaining, amount)
	}
	return nil
}

func withdrawalError(err error) error {
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return fmt.Errorf("%w: %w", ErrInvalidWithdrawal, err)
	}
	return err
}
