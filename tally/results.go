package tally

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/maci-payout/crypto/hash/poseidon"
	"github.com/vocdoni/maci-payout/events"
	"github.com/vocdoni/maci-payout/log"
	"github.com/vocdoni/maci-payout/types"
	"github.com/vocdoni/maci-payout/verifier"
)

// TallyVotes commits the tally of the merged poll. The proof is checked
// against the hash of the poll roots, counters and the commitment.
// Committing the same value again is a no-op.
func (e *Engine) TallyVotes(caller common.Address, commitment *big.Int, proof []byte) error {
	return e.update("tallyVotes", func(rec *Record, st *staged) error {
		if err := e.onlyOwner(caller); err != nil {
			return err
		}
		if commitment == nil {
			return fmt.Errorf("%w: nil commitment", ErrInvalidTallyVotesProof)
		}
		if !e.cfg.Poll.StateMerged() {
			return ErrStateNotMerged
		}
		if !e.cfg.Poll.MessageMerged() {
			return ErrMessagesNotMerged
		}
		if rec.TallyCommitment != nil {
			if rec.TallyCommitment.MathBigInt().Cmp(commitment) == 0 {
				return nil
			}
			return fmt.Errorf("%w: tally already committed", ErrCommitmentMismatch)
		}
		numSignUps, numMessages := e.cfg.Poll.NumSignUpsAndMessages()
		inputHash := verifier.TallyPublicInputHash(e.cfg.Poll.StateRoot(), e.cfg.Poll.MessageRoot(),
			numSignUps, numMessages, commitment)
		if !e.cfg.Verifier.Verify(proof, inputHash) {
			return ErrInvalidTallyVotesProof
		}
		rec.TallyCommitment = new(types.BigInt).SetBigInt(commitment)
		st.emit(events.TallyCommitted(rec.PollID, commitment))
		log.Infow("tally committed", "pollID", rec.PollID, "commitment", commitment.String())
		return nil
	})
}

// AddTallyResultsArgs is a batch of tally results, each with the Merkle
// proof of its value against the results commitment.
type AddTallyResultsArgs struct {
	VoteOptionIndices []uint64
	TallyResults      []*big.Int
	TallyResultProofs [][][]*big.Int
	TallyResultSalt   *big.Int

	TotalSpent     *big.Int
	TotalSpentSalt *big.Int

	NewResultsCommitment       *big.Int
	SpentVoiceCreditsHash      *big.Int
	PerVOSpentVoiceCreditsHash *big.Int
}

func equalBig(a *types.BigInt, b *big.Int) bool {
	return a != nil && b != nil && a.MathBigInt().Cmp(b) == 0
}

// checkBatchCommitments verifies the values shared by every batch. The
// first accepted batch fixes them.
func checkBatchCommitments(rec *Record, a *AddTallyResultsArgs) error {
	for _, v := range []*big.Int{
		a.TallyResultSalt, a.TotalSpent, a.TotalSpentSalt,
		a.NewResultsCommitment, a.SpentVoiceCreditsHash, a.PerVOSpentVoiceCreditsHash,
	} {
		if v == nil {
			return fmt.Errorf("%w: missing batch commitment", ErrInvalidTallyVotesProof)
		}
	}
	if rec.ResultsCommitment != nil {
		if !equalBig(rec.ResultsCommitment, a.NewResultsCommitment) ||
			!equalBig(rec.SpentVoiceCreditsHash, a.SpentVoiceCreditsHash) ||
			!equalBig(rec.PerVOSpentVoiceCreditsHash, a.PerVOSpentVoiceCreditsHash) ||
			!equalBig(rec.TotalSpent, a.TotalSpent) ||
			!equalBig(rec.TotalSpentSalt, a.TotalSpentSalt) ||
			!equalBig(rec.ResultSalt, a.TallyResultSalt) {
			return ErrCommitmentMismatch
		}
		return nil
	}
	tally, err := poseidon.Hash3(a.NewResultsCommitment, a.SpentVoiceCreditsHash, a.PerVOSpentVoiceCreditsHash)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTallyVotesProof, err)
	}
	if !equalBig(rec.TallyCommitment, tally) {
		return fmt.Errorf("%w: batch commitments do not match the tally", ErrInvalidTallyVotesProof)
	}
	spent, err := poseidon.HashLeftRight(a.TotalSpent, a.TotalSpentSalt)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIncorrectSpentVoiceCredits, err)
	}
	if spent.Cmp(a.SpentVoiceCreditsHash) != 0 {
		return ErrIncorrectSpentVoiceCredits
	}
	rec.ResultsCommitment = new(types.BigInt).SetBigInt(a.NewResultsCommitment)
	rec.SpentVoiceCreditsHash = new(types.BigInt).SetBigInt(a.SpentVoiceCreditsHash)
	rec.PerVOSpentVoiceCreditsHash = new(types.BigInt).SetBigInt(a.PerVOSpentVoiceCreditsHash)
	rec.TotalSpent = new(types.BigInt).SetBigInt(a.TotalSpent)
	rec.TotalSpentSalt = new(types.BigInt).SetBigInt(a.TotalSpentSalt)
	rec.ResultSalt = new(types.BigInt).SetBigInt(a.TallyResultSalt)
	return nil
}

// AddTallyResults admits a batch of tally results. A single invalid entry
// rejects the whole batch.
func (e *Engine) AddTallyResults(caller common.Address, args AddTallyResultsArgs) error {
	return e.update("addTallyResults", func(rec *Record, st *staged) error {
		if err := e.onlyOwner(caller); err != nil {
			return err
		}
		if !rec.Initialized {
			return ErrNotInitialized
		}
		if rec.TallyCommitment == nil {
			return ErrTallyNotCommitted
		}
		reg, err := e.cfg.Poll.Registry()
		if err != nil {
			return ErrRegistryNotSet
		}
		n := len(args.VoteOptionIndices)
		if len(args.TallyResults) != n || len(args.TallyResultProofs) != n {
			return fmt.Errorf("%w: %d indices, %d results, %d proofs", ErrInvalidTallyVotesProof,
				n, len(args.TallyResults), len(args.TallyResultProofs))
		}
		if err := checkBatchCommitments(rec, &args); err != nil {
			return err
		}
		depth := e.cfg.Poll.TreeDepths().VoteOptionTreeDepth
		// the first batch fixes the size of the result set
		if rec.RecipientCount == 0 {
			rec.RecipientCount = reg.RecipientCount()
		}
		recipients := rec.RecipientCount
		squares := rec.TotalVotesSquares.MathBigInt()
		for i, index := range args.VoteOptionIndices {
			value := args.TallyResults[i]
			if value == nil || value.Sign() < 0 ||
				!e.proofs.Verify(args.NewResultsCommitment, depth, index,
					value, args.TallyResultSalt, args.TallyResultProofs[i]) {
				return fmt.Errorf("%w: result %d", ErrInvalidTallyVotesProof, index)
			}
			if _, ok := rec.TallyResults[index]; ok {
				return fmt.Errorf("%w: result %d already added", ErrTooManyResults, index)
			}
			if index >= recipients || rec.ResultsCount+1 > recipients {
				return fmt.Errorf("%w: %d recipients", ErrTooManyResults, recipients)
			}
			rec.TallyResults[index] = Result{Value: new(types.BigInt).SetBigInt(value), Flag: true}
			rec.ResultsCount++
			squares.Add(squares, new(big.Int).Mul(value, value))
			st.emit(events.ResultAdded(rec.PollID, index, value, true))
		}
		rec.TotalVotesSquares = new(types.BigInt).SetBigInt(squares)
		rec.invalidateAlpha()
		log.Infow("tally results added", "pollID", rec.PollID, "batch", n,
			"results", rec.ResultsCount, "recipients", recipients)
		return nil
	})
}
