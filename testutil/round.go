// Package testutil builds complete payout rounds for tests: a merged poll,
// a project registry, an in-memory token and a distribution engine with a
// tally whose Merkle trees are known, so claims can be proven.
package testutil

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/arbo/memdb"
	"github.com/vocdoni/maci-payout/crypto/hash/poseidon"
	"github.com/vocdoni/maci-payout/events"
	"github.com/vocdoni/maci-payout/merkle"
	"github.com/vocdoni/maci-payout/poll"
	"github.com/vocdoni/maci-payout/registry"
	"github.com/vocdoni/maci-payout/storage"
	"github.com/vocdoni/maci-payout/tally"
	"github.com/vocdoni/maci-payout/token"
	"github.com/vocdoni/maci-payout/types"
	"github.com/vocdoni/maci-payout/verifier"
	"go.vocdoni.io/dvote/db/metadb"
)

var (
	Owner     = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	Funder    = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	Custody   = common.HexToAddress("0x00000000000000000000000000000000000000dd")
	TokenAddr = common.HexToAddress("0x0000000000000000000000000000000000007070")
)

// Four projects of a depth one tally. With a voice credit factor of one
// and a budget of 50 the allocations are 45, 4, 1 and 0.
var (
	Results = []int64{3, 2, 1, 0}
	Spent   = []int64{5, 4, 1, 0}
	Budget  = big.NewInt(50)
)

// Clock is a manual clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set at a fixed date.
func NewClock() *Clock {
	return &Clock{now: time.Unix(1_700_000_000, 0)}
}

// Now returns the current time of the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Round is a poll ready to be closed and distributed.
type Round struct {
	c        *qt.C
	Clock    *Clock
	Storage  *storage.Storage
	Poll     *poll.Poll
	Registry *registry.Simple
	Token    *token.Memory

	results, spent    []*big.Int
	resultsTree       *merkle.Tree
	spentTree         *merkle.Tree
	resultSalt        *big.Int
	spentSalt         *big.Int
	totalSpent        *big.Int
	totalSpentSalt    *big.Int
	TallyCommitment   *big.Int
	resultsCommitment *big.Int
	spentCommitment   *big.Int
	totalSpentHash    *big.Int
	pollDuration      time.Duration
}

// NewRound creates an open poll with one sign-up and one message, and the
// tally of Results and Spent. The poll is not merged.
func NewRound(tb testing.TB, stg *storage.Storage) *Round {
	c := qt.New(tb)
	if stg == nil {
		stg = storage.New(metadb.NewTest(tb))
	}
	r := &Round{
		c:              c,
		Clock:          NewClock(),
		Storage:        stg,
		Token:          token.NewMemory(TokenAddr),
		resultSalt:     big.NewInt(11),
		spentSalt:      big.NewInt(22),
		totalSpentSalt: big.NewInt(33),
		totalSpent:     new(big.Int),
		pollDuration:   time.Hour,
	}
	var err error
	r.Poll, err = poll.New(poll.Config{
		ID:    7,
		Owner: Owner,
		TreeDepths: types.TreeDepths{
			IntStateTreeDepth:   1,
			MessageTreeSubDepth: 1,
			MessageTreeDepth:    2,
			VoteOptionTreeDepth: 1,
		},
		CoordinatorPubKey: types.NewPubKey(big.NewInt(1), big.NewInt(2)),
		Duration:          r.pollDuration,
		Now:               r.Clock.Now,
		Storage:           stg,
	})
	c.Assert(err, qt.IsNil)
	r.Registry, err = registry.NewSimple(memdb.New())
	c.Assert(err, qt.IsNil)
	for i := range Results {
		_, err := r.Registry.Add(Recipient(i))
		c.Assert(err, qt.IsNil)
	}
	c.Assert(r.Poll.SetRegistry(Owner, r.Registry), qt.IsNil)
	c.Assert(r.Poll.Init(Owner), qt.IsNil)
	_, err = r.Poll.SignUp(types.NewPubKey(big.NewInt(3), big.NewInt(4)), big.NewInt(100))
	c.Assert(err, qt.IsNil)
	_, err = r.Poll.PublishMessage(&types.Message{EncPubKey: types.NewPubKey(big.NewInt(5), big.NewInt(6))})
	c.Assert(err, qt.IsNil)

	for i := range Results {
		r.results = append(r.results, big.NewInt(Results[i]))
		r.spent = append(r.spent, big.NewInt(Spent[i]))
		r.totalSpent.Add(r.totalSpent, r.spent[i])
	}
	r.resultsTree, err = merkle.NewTree(types.TreeArity, 1, r.results)
	c.Assert(err, qt.IsNil)
	r.spentTree, err = merkle.NewTree(types.TreeArity, 1, r.spent)
	c.Assert(err, qt.IsNil)
	r.resultsCommitment, err = r.resultsTree.SaltedRoot(r.resultSalt)
	c.Assert(err, qt.IsNil)
	r.spentCommitment, err = r.spentTree.SaltedRoot(r.spentSalt)
	c.Assert(err, qt.IsNil)
	r.totalSpentHash, err = poseidon.HashLeftRight(r.totalSpent, r.totalSpentSalt)
	c.Assert(err, qt.IsNil)
	r.TallyCommitment, err = poseidon.Hash3(r.resultsCommitment, r.totalSpentHash, r.spentCommitment)
	c.Assert(err, qt.IsNil)
	return r
}

// Recipient returns the registered address of project i.
func Recipient(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0x1000 + i)))
}

// EndVoting moves the clock past the poll deadline.
func (r *Round) EndVoting() {
	r.Clock.Advance(r.pollDuration)
}

// Merge closes both poll queues.
func (r *Round) Merge() {
	r.c.Assert(r.Poll.MergeMaciStateAqSubRoots(0), qt.IsNil)
	r.c.Assert(r.Poll.MergeMaciState(), qt.IsNil)
	r.c.Assert(r.Poll.MergeMessageAqSubRoots(0), qt.IsNil)
	r.c.Assert(r.Poll.MergeMessageAq(), qt.IsNil)
}

// Engine returns a distribution engine of the round accepting any proof.
// Both observers are optional.
func (r *Round) Engine(emitter events.Emitter, rejections tally.RejectionObserver) *tally.Engine {
	eng, err := tally.New(tally.Config{
		Owner:      Owner,
		Poll:       r.Poll,
		Tokens:     r.Token,
		Verifier:   verifier.Func(func([]byte, *big.Int) bool { return true }),
		Storage:    r.Storage,
		Self:       Custody,
		Emitter:    emitter,
		Rejections: rejections,
		Now:        r.Clock.Now,
	})
	r.c.Assert(err, qt.IsNil)
	return eng
}

// Tally initializes the engine, commits the tally and adds every result.
func (r *Round) Tally(eng *tally.Engine) {
	r.c.Assert(eng.Init(Owner, tally.InitParams{
		Cooldown:    time.Hour,
		PayoutToken: TokenAddr,
	}), qt.IsNil)
	r.c.Assert(eng.TallyVotes(Owner, r.TallyCommitment, nil), qt.IsNil)
	r.c.Assert(eng.AddTallyResults(Owner, r.Results()), qt.IsNil)
}

// Results returns the batch of every tally result.
func (r *Round) Results() tally.AddTallyResultsArgs {
	a := tally.AddTallyResultsArgs{
		TallyResultSalt:            r.resultSalt,
		TotalSpent:                 r.totalSpent,
		TotalSpentSalt:             r.totalSpentSalt,
		NewResultsCommitment:       r.resultsCommitment,
		SpentVoiceCreditsHash:      r.totalSpentHash,
		PerVOSpentVoiceCreditsHash: r.spentCommitment,
	}
	for i := range r.results {
		proof, err := r.resultsTree.Proof(uint64(i))
		r.c.Assert(err, qt.IsNil)
		a.VoteOptionIndices = append(a.VoteOptionIndices, uint64(i))
		a.TallyResults = append(a.TallyResults, r.results[i])
		a.TallyResultProofs = append(a.TallyResultProofs, proof)
	}
	return a
}

// Fund deposits amount from the funder account.
func (r *Round) Fund(eng *tally.Engine, amount *big.Int) {
	r.Token.Mint(Funder, amount)
	r.Token.Approve(Funder, Custody, amount)
	r.c.Assert(eng.Deposit(Funder, amount), qt.IsNil)
}

// Claim returns valid claim parameters of project index.
func (r *Round) Claim(index uint64) tally.ClaimParams {
	resultProof, err := r.resultsTree.Proof(index)
	r.c.Assert(err, qt.IsNil)
	spentProof, err := r.spentTree.Proof(index)
	r.c.Assert(err, qt.IsNil)
	return tally.ClaimParams{
		Index:                       index,
		VoiceCreditsPerOption:       r.spent[index],
		TallyResultProof:            resultProof,
		TallyResultSalt:             r.resultSalt,
		PerVOSpentVoiceCreditsProof: spentProof,
		PerVOSpentVoiceCreditsSalt:  r.spentSalt,
	}
}

// Balance returns the token balance of account.
func (r *Round) Balance(account common.Address) *big.Int {
	b, err := r.Token.BalanceOf(account)
	r.c.Assert(err, qt.IsNil)
	return b
}
