package tally

import (
	"errors"

	"github.com/vocdoni/maci-payout/ledger"
	"github.com/vocdoni/maci-payout/poll"
	"github.com/vocdoni/maci-payout/qf"
)

var (
	ErrUnauthorized               = errors.New("caller is not the owner")
	ErrAlreadyInitialized         = errors.New("distribution already initialized")
	ErrNotInitialized             = errors.New("distribution not initialized")
	ErrInvalidAddress             = errors.New("invalid address")
	ErrEnforcedPause              = errors.New("distribution is paused")
	ErrExpectedPause              = errors.New("distribution is not paused")
	ErrVotesNotTallied            = errors.New("votes not tallied")
	ErrStateNotMerged             = errors.New("poll state not merged")
	ErrMessagesNotMerged          = errors.New("poll messages not merged")
	ErrTallyNotCommitted          = errors.New("tally not committed")
	ErrInvalidTallyVotesProof     = errors.New("invalid tally votes proof")
	ErrIncorrectSpentVoiceCredits = errors.New("incorrect spent voice credits")
	ErrCommitmentMismatch         = errors.New("commitment mismatch")
	ErrTooManyResults             = errors.New("too many results")
	ErrResultNotAdmitted          = errors.New("tally result not admitted")
	ErrMaxCapExceeded             = errors.New("max cap exceeded")
	ErrCooldownPeriodNotOver      = errors.New("cooldown period not over")
	ErrInvalidWithdrawal          = errors.New("invalid withdrawal")

	ErrRegistryNotSet              = poll.ErrRegistryNotSet
	ErrAlreadyClaimed              = ledger.ErrAlreadyClaimed
	ErrInsufficientFunds           = ledger.ErrInsufficientFunds
	ErrInvalidAmount               = ledger.ErrInvalidAmount
	ErrInvalidBudget               = qf.ErrInvalidBudget
	ErrNoProjectHasMoreThanOneVote = qf.ErrNoProjectHasMoreThanOneVote
	ErrNotCompletedResults         = qf.ErrNotCompletedResults
	ErrOverflow                    = qf.ErrOverflow
)

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// IsOrderingError reports whether the operation was called too early or in
// the wrong state. Retrying later may succeed.
func IsOrderingError(err error) bool {
	return isAny(err, ErrNotInitialized, ErrAlreadyInitialized, ErrRegistryNotSet,
		ErrVotesNotTallied, ErrStateNotMerged, ErrMessagesNotMerged, ErrTallyNotCommitted,
		ErrEnforcedPause, ErrExpectedPause, ErrCooldownPeriodNotOver, ErrNotCompletedResults,
		ErrResultNotAdmitted)
}

// IsIntegrityError reports whether the inputs contradict the committed
// tally. The caller must stop and investigate.
func IsIntegrityError(err error) bool {
	return isAny(err, ErrInvalidTallyVotesProof, ErrIncorrectSpentVoiceCredits,
		ErrCommitmentMismatch, ErrNoProjectHasMoreThanOneVote, ErrOverflow)
}

// IsCapacityError reports whether a limit or an idempotency guard was hit.
func IsCapacityError(err error) bool {
	return isAny(err, ErrTooManyResults, ErrMaxCapExceeded, ErrAlreadyClaimed)
}

// IsFundsError reports whether the operation failed on the amounts.
func IsFundsError(err error) bool {
	return isAny(err, ErrInsufficientFunds, ErrInvalidBudget, ErrInvalidWithdrawal, ErrInvalidAmount)
}

// IsAccessError reports whether the caller or a target account is invalid.
func IsAccessError(err error) bool {
	return isAny(err, ErrUnauthorized, ErrInvalidAddress)
}

// Classify returns a short label of the error category.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case IsOrderingError(err):
		return "ordering"
	case IsIntegrityError(err):
		return "integrity"
	case IsCapacityError(err):
		return "capacity"
	case IsFundsError(err):
		return "funds"
	case IsAccessError(err):
		return "access"
	default:
		return "internal"
	}
}
