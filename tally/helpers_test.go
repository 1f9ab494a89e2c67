package tally

import (
	"bytes"
	"errors"
	"math/big"
	"sync"
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
	"github.com/vocdoni/maci-payout/token"
	"github.com/vocdoni/maci-payout/types"
	"github.com/vocdoni/maci-payout/verifier"
	"go.vocdoni.io/dvote/db/metadb"
)

var (
	owner     = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	stranger  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	funder    = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	custody   = common.HexToAddress("0x00000000000000000000000000000000000000dd")
	treasury  = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	tokenAddr = common.HexToAddress("0x0000000000000000000000000000000000007070")

	validProof = []byte("valid tally proof")

	cooldown        = 1000 * time.Second
	maxContribution = mustBig("5000000000000000000")
	maxCap          = mustBig("10000000000000000000")
)

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return v
}

func bigs(xs ...int64) []*big.Int {
	out := make([]*big.Int, len(xs))
	for i, x := range xs {
		out[i] = big.NewInt(x)
	}
	return out
}

// thirteen projects; every result squared covers the credits spent on it
var (
	testResults = bigs(10, 39, 5, 20, 3, 8, 15, 2, 12, 7, 25, 1, 0)
	testSpent   = bigs(86, 1459, 25, 350, 9, 60, 200, 4, 130, 45, 600, 1, 0)
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// tallyFixture holds the trees and commitments of a coordinator tally.
type tallyFixture struct {
	results, spent []*big.Int

	resultSalt, perVOSalt, spentSalt *big.Int
	resultsTree, perVOTree           *merkle.Tree

	totalSpent        *big.Int
	resultsCommitment *big.Int
	perVOCommitment   *big.Int
	spentHash         *big.Int
	tallyCommitment   *big.Int
}

func newTallyFixture(c *qt.C, depth uint8, results, spent []*big.Int) *tallyFixture {
	f := &tallyFixture{
		results:    results,
		spent:      spent,
		resultSalt: big.NewInt(1111),
		perVOSalt:  big.NewInt(2222),
		spentSalt:  big.NewInt(3333),
		totalSpent: new(big.Int),
	}
	for _, s := range spent {
		f.totalSpent.Add(f.totalSpent, s)
	}
	var err error
	f.resultsTree, err = merkle.NewTree(types.TreeArity, depth, results)
	c.Assert(err, qt.IsNil)
	f.perVOTree, err = merkle.NewTree(types.TreeArity, depth, spent)
	c.Assert(err, qt.IsNil)
	f.resultsCommitment, err = f.resultsTree.SaltedRoot(f.resultSalt)
	c.Assert(err, qt.IsNil)
	f.perVOCommitment, err = f.perVOTree.SaltedRoot(f.perVOSalt)
	c.Assert(err, qt.IsNil)
	f.spentHash, err = poseidon.HashLeftRight(f.totalSpent, f.spentSalt)
	c.Assert(err, qt.IsNil)
	f.tallyCommitment, err = poseidon.Hash3(f.resultsCommitment, f.spentHash, f.perVOCommitment)
	c.Assert(err, qt.IsNil)
	return f
}

// args builds the results batch of the given indices.
func (f *tallyFixture) args(c *qt.C, indices ...uint64) AddTallyResultsArgs {
	a := AddTallyResultsArgs{
		TallyResultSalt:            f.resultSalt,
		TotalSpent:                 f.totalSpent,
		TotalSpentSalt:             f.spentSalt,
		NewResultsCommitment:       f.resultsCommitment,
		SpentVoiceCreditsHash:      f.spentHash,
		PerVOSpentVoiceCreditsHash: f.perVOCommitment,
	}
	for _, i := range indices {
		proof, err := f.resultsTree.Proof(i)
		c.Assert(err, qt.IsNil)
		a.VoteOptionIndices = append(a.VoteOptionIndices, i)
		a.TallyResults = append(a.TallyResults, f.results[i])
		a.TallyResultProofs = append(a.TallyResultProofs, proof)
	}
	return a
}

func (f *tallyFixture) allIndices() []uint64 {
	out := make([]uint64, len(f.results))
	for i := range out {
		out[i] = uint64(i)
	}
	return out
}

func (f *tallyFixture) claim(c *qt.C, index uint64) ClaimParams {
	resultProof, err := f.resultsTree.Proof(index)
	c.Assert(err, qt.IsNil)
	spentProof, err := f.perVOTree.Proof(index)
	c.Assert(err, qt.IsNil)
	return ClaimParams{
		Index:                       index,
		VoiceCreditsPerOption:       f.spent[index],
		TallyResultProof:            resultProof,
		TallyResultSalt:             f.resultSalt,
		PerVOSpentVoiceCreditsProof: spentProof,
		PerVOSpentVoiceCreditsSalt:  f.perVOSalt,
	}
}

func (f *tallyFixture) contributions(vcf *big.Int) *big.Int {
	return new(big.Int).Mul(f.totalSpent, vcf)
}

type harness struct {
	c        *qt.C
	clock    *clock
	stg      *storage.Storage
	poll     *poll.Poll
	reg      *registry.Simple
	tk       *token.Memory
	recorder *events.Recorder
	engine   *Engine
	fixture  *tallyFixture
}

type harnessOpts struct {
	recipients int
	noRegistry bool
	skipMerge  bool
	results    []*big.Int
	spent      []*big.Int
	depth      uint8
}

func newHarness(c *qt.C, opts harnessOpts) *harness {
	if opts.results == nil {
		opts.results, opts.spent = testResults, testSpent
	}
	if opts.recipients == 0 {
		opts.recipients = len(opts.results)
	}
	if opts.depth == 0 {
		opts.depth = 2
	}
	h := &harness{
		c:        c,
		clock:    &clock{now: time.Unix(1_700_000_000, 0)},
		stg:      storage.New(metadb.NewTest(c.TB)),
		tk:       token.NewMemory(tokenAddr),
		recorder: &events.Recorder{},
	}
	var err error
	h.poll, err = poll.New(poll.Config{
		ID:    7,
		Owner: owner,
		TreeDepths: types.TreeDepths{
			IntStateTreeDepth:   1,
			MessageTreeSubDepth: 1,
			MessageTreeDepth:    2,
			VoteOptionTreeDepth: opts.depth,
		},
		CoordinatorPubKey: types.NewPubKey(big.NewInt(1), big.NewInt(2)),
		Duration:          time.Hour,
		Now:               h.clock.Now,
		Storage:           h.stg,
	})
	c.Assert(err, qt.IsNil)

	h.reg, err = registry.NewSimple(memdb.New())
	c.Assert(err, qt.IsNil)
	for i := range opts.recipients {
		_, err := h.reg.Add(common.BigToAddress(big.NewInt(int64(0x1000 + i))))
		c.Assert(err, qt.IsNil)
	}
	if !opts.noRegistry {
		c.Assert(h.poll.SetRegistry(owner, h.reg), qt.IsNil)
		c.Assert(h.poll.Init(owner), qt.IsNil)
		_, err = h.poll.SignUp(types.NewPubKey(big.NewInt(3), big.NewInt(4)), big.NewInt(100))
		c.Assert(err, qt.IsNil)
		_, err = h.poll.PublishMessage(&types.Message{EncPubKey: types.NewPubKey(big.NewInt(5), big.NewInt(6))})
		c.Assert(err, qt.IsNil)
	}
	h.clock.Advance(time.Hour)
	if !opts.skipMerge {
		h.merge()
	}

	h.fixture = newTallyFixture(c, opts.depth, opts.results, opts.spent)
	h.engine = h.newEngine()
	return h
}

func (h *harness) newEngine() *Engine {
	return h.engineWith(h.tk)
}

// engineWith builds an engine over the harness state that moves payouts
// through tokens.
func (h *harness) engineWith(tokens token.Provider) *Engine {
	e, err := New(Config{
		Owner:  owner,
		Poll:   h.poll,
		Tokens: tokens,
		Verifier: verifier.Func(func(proof []byte, _ *big.Int) bool {
			return bytes.Equal(proof, validProof)
		}),
		Storage: h.stg,
		Self:    custody,
		Emitter: h.recorder,
		Now:     h.clock.Now,
	})
	h.c.Assert(err, qt.IsNil)
	return e
}

func (h *harness) merge() {
	h.c.Assert(h.poll.MergeMaciStateAqSubRoots(0), qt.IsNil)
	h.c.Assert(h.poll.MergeMaciState(), qt.IsNil)
	h.c.Assert(h.poll.MergeMessageAqSubRoots(0), qt.IsNil)
	h.c.Assert(h.poll.MergeMessageAq(), qt.IsNil)
}

func (h *harness) init() {
	h.c.Assert(h.engine.Init(owner, InitParams{
		Cooldown:        cooldown,
		MaxContribution: maxContribution,
		PayoutToken:     tokenAddr,
		MaxCap:          maxCap,
	}), qt.IsNil)
}

func (h *harness) commit() {
	h.c.Assert(h.engine.TallyVotes(owner, h.fixture.tallyCommitment, validProof), qt.IsNil)
}

func (h *harness) addAll() {
	h.c.Assert(h.engine.AddTallyResults(owner, h.fixture.args(h.c, h.fixture.allIndices()...)), qt.IsNil)
}

// tallied runs the lifecycle up to the complete result set.
func (h *harness) tallied() {
	h.init()
	h.commit()
	h.addAll()
}

func (h *harness) fund(amount *big.Int) error {
	h.tk.Mint(funder, amount)
	h.tk.Approve(funder, custody, amount)
	return h.engine.Deposit(funder, amount)
}

func (h *harness) balance(a common.Address) *big.Int {
	b, err := h.tk.BalanceOf(a)
	h.c.Assert(err, qt.IsNil)
	return b
}

func (h *harness) vcf() *big.Int {
	return h.engine.Record().VoiceCreditFactor.MathBigInt()
}

func (h *harness) recipient(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0x1000 + i)))
}

// checkConservation asserts the ledger identity and that the custody
// account holds exactly the round balance.
func (h *harness) checkConservation() {
	rec := h.engine.Record()
	h.c.Assert(rec.Ledger.Conserved(), qt.IsTrue)
	h.c.Assert(h.balance(custody).Cmp(rec.Ledger.TotalAmount), qt.Equals, 0)
}

var errTransferRefused = errors.New("transfer refused")

// flakyToken refuses the failAt-th outgoing transfer.
type flakyToken struct {
	*token.Memory
	calls, failAt int
}

func (f *flakyToken) Token(common.Address) (token.Token, error) {
	return f, nil
}

func (f *flakyToken) Transfer(from, to common.Address, amount *big.Int) error {
	f.calls++
	if f.calls == f.failAt {
		return errTransferRefused
	}
	return f.Memory.Transfer(from, to, amount)
}
