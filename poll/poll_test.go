package poll

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/arbo/memdb"
	"github.com/vocdoni/maci-payout/accqueue"
	"github.com/vocdoni/maci-payout/registry"
	"github.com/vocdoni/maci-payout/storage"
	"github.com/vocdoni/maci-payout/types"
	"go.vocdoni.io/dvote/db/metadb"
)

var owner = common.HexToAddress("0x00000000000000000000000000000000000000aa")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testPoll(c *qt.C, stg *storage.Storage) (*Poll, *testClock) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	p, err := New(Config{
		ID:    1,
		Owner: owner,
		TreeDepths: types.TreeDepths{
			IntStateTreeDepth:   1,
			MessageTreeSubDepth: 1,
			MessageTreeDepth:    3,
			VoteOptionTreeDepth: 2,
		},
		CoordinatorPubKey: types.NewPubKey(big.NewInt(11), big.NewInt(12)),
		Duration:          time.Hour,
		Now:               clock.Now,
		Storage:           stg,
	})
	c.Assert(err, qt.IsNil)
	return p, clock
}

func testRegistry(c *qt.C, n int) *registry.Simple {
	reg, err := registry.NewSimple(memdb.New())
	c.Assert(err, qt.IsNil)
	for i := range n {
		_, err := reg.Add(common.BigToAddress(big.NewInt(int64(i + 1))))
		c.Assert(err, qt.IsNil)
	}
	return reg
}

func testMessage(i int64) *types.Message {
	msg := &types.Message{EncPubKey: types.NewPubKey(big.NewInt(i), big.NewInt(i+1))}
	for j := range msg.Data {
		msg.Data[j] = big.NewInt(i*100 + int64(j))
	}
	return msg
}

func TestLifecycle(t *testing.T) {
	c := qt.New(t)
	stg := storage.New(metadb.NewTest(t))
	p, clock := testPoll(c, stg)
	stranger := common.HexToAddress("0x5")

	_, err := p.SignUp(types.NewPubKey(big.NewInt(1), big.NewInt(2)), big.NewInt(100))
	c.Assert(err, qt.Equals, ErrPollNotInitialized)
	_, err = p.PublishMessage(testMessage(1))
	c.Assert(err, qt.Equals, ErrPollNotInitialized)

	c.Assert(p.Init(owner), qt.Equals, ErrRegistryNotSet)
	_, err = p.Registry()
	c.Assert(err, qt.Equals, ErrRegistryNotSet)

	reg := testRegistry(c, 3)
	c.Assert(p.SetRegistry(stranger, reg), qt.Equals, ErrUnauthorized)
	c.Assert(p.SetRegistry(owner, reg), qt.IsNil)
	c.Assert(p.SetRegistry(owner, reg), qt.Equals, ErrRegistryAlreadySet)

	c.Assert(p.Init(stranger), qt.Equals, ErrUnauthorized)
	c.Assert(p.Init(owner), qt.IsNil)
	c.Assert(p.Init(owner), qt.Equals, ErrAlreadyInitialized)
	c.Assert(p.Initialized(), qt.IsTrue)

	for i := range 5 {
		idx, err := p.SignUp(types.NewPubKey(big.NewInt(int64(i)), big.NewInt(int64(i+1))), big.NewInt(100))
		c.Assert(err, qt.IsNil)
		c.Assert(idx, qt.Equals, uint64(i))
	}
	for i := range 6 {
		idx, err := p.PublishMessage(testMessage(int64(i)))
		c.Assert(err, qt.IsNil)
		c.Assert(idx, qt.Equals, uint64(i))
	}
	signUps, messages := p.NumSignUpsAndMessages()
	c.Assert(signUps, qt.Equals, uint64(5))
	c.Assert(messages, qt.Equals, uint64(6))

	// merging before the deadline fails
	c.Assert(p.VotingOver(), qt.IsFalse)
	c.Assert(p.MergeMaciStateAqSubRoots(0), qt.Equals, ErrVotingPeriodNotOver)
	c.Assert(p.MergeMaciState(), qt.Equals, ErrVotingPeriodNotOver)
	c.Assert(p.MergeMessageAqSubRoots(0), qt.Equals, ErrVotingPeriodNotOver)
	c.Assert(p.MergeMessageAq(), qt.Equals, ErrVotingPeriodNotOver)

	clock.Advance(time.Hour)
	c.Assert(p.VotingOver(), qt.IsTrue)
	_, err = p.SignUp(types.NewPubKey(big.NewInt(1), big.NewInt(2)), big.NewInt(100))
	c.Assert(err, qt.Equals, ErrVotingPeriodOver)
	_, err = p.PublishMessage(testMessage(9))
	c.Assert(err, qt.Equals, ErrVotingPeriodOver)

	c.Assert(p.StateMerged(), qt.IsFalse)
	c.Assert(p.StateRoot().Sign(), qt.Equals, 0)
	c.Assert(p.MergeMaciState(), qt.Equals, ErrStateAqSubRootsNotMerged)
	c.Assert(p.MergeMaciStateAqSubRoots(0), qt.IsNil)
	c.Assert(p.MergeMaciState(), qt.IsNil)
	c.Assert(p.StateMerged(), qt.IsTrue)
	root := p.StateRoot()
	c.Assert(root.Sign(), qt.Not(qt.Equals), 0)
	// merging again is a no-op
	c.Assert(p.MergeMaciState(), qt.IsNil)
	c.Assert(p.StateRoot(), qt.DeepEquals, root)

	// message queue: 6 leaves in subtrees of 4, merged one subroot per call
	c.Assert(p.MergeMessageAqSubRoots(1), qt.IsNil)
	c.Assert(p.MergeMessageAq(), qt.Equals, ErrMessageAqSubRootsNotMerged)
	_, _, merged, total := p.MergeProgress()
	c.Assert(merged, qt.Equals, 1)
	c.Assert(total, qt.Equals, 2)
	c.Assert(p.MergeMessageAqSubRoots(1), qt.IsNil)
	c.Assert(p.MergeMessageAq(), qt.IsNil)
	c.Assert(p.MessageMerged(), qt.IsTrue)

	// the message root matches an independent queue over the same leaves
	aq, err := accqueue.New(types.TreeArity, 1, 3)
	c.Assert(err, qt.IsNil)
	for i := range 6 {
		leaf, err := MessageLeaf(testMessage(int64(i)))
		c.Assert(err, qt.IsNil)
		_, err = aq.Enqueue(leaf)
		c.Assert(err, qt.IsNil)
	}
	c.Assert(aq.MergeSubRoots(0), qt.IsNil)
	c.Assert(aq.Merge(3), qt.IsNil)
	c.Assert(p.MessageRoot().Cmp(aq.MainRoot(3)), qt.Equals, 0)

	rec, err := stg.Poll(1)
	c.Assert(err, qt.IsNil)
	c.Assert(rec.Initialized, qt.IsTrue)
	c.Assert(rec.RegistrySet, qt.IsTrue)
	c.Assert(rec.StateMerged, qt.IsTrue)
	c.Assert(rec.MessageMerged, qt.IsTrue)
	c.Assert(rec.NumSignUps, qt.Equals, uint64(5))
	c.Assert(rec.MessageRoot.MathBigInt().Cmp(p.MessageRoot()), qt.Equals, 0)
}

func TestTooManyMessages(t *testing.T) {
	c := qt.New(t)
	clock := &testClock{now: time.Unix(0, 0)}
	p, err := New(Config{
		ID:         2,
		Owner:      owner,
		TreeDepths: types.TreeDepths{MessageTreeSubDepth: 1, MessageTreeDepth: 1},
		Duration:   time.Minute,
		Now:        clock.Now,
	})
	c.Assert(err, qt.IsNil)
	c.Assert(p.SetRegistry(owner, testRegistry(c, 1)), qt.IsNil)
	c.Assert(p.Init(owner), qt.IsNil)
	for i := range types.TreeArity {
		_, err := p.PublishMessage(testMessage(int64(i)))
		c.Assert(err, qt.IsNil)
	}
	_, err = p.PublishMessage(testMessage(99))
	c.Assert(err, qt.Equals, ErrTooManyMessages)
}

func TestEmptyPollMerge(t *testing.T) {
	c := qt.New(t)
	p, clock := testPoll(c, nil)
	clock.Advance(2 * time.Hour)
	c.Assert(p.MergeMaciStateAqSubRoots(0), qt.IsNil)
	c.Assert(p.MergeMaciState(), qt.IsNil)
	c.Assert(p.MergeMessageAqSubRoots(0), qt.IsNil)
	c.Assert(p.MergeMessageAq(), qt.IsNil)

	zeros, err := accqueue.ZeroHashes(types.TreeArity, types.StateTreeDepth)
	c.Assert(err, qt.IsNil)
	c.Assert(p.StateRoot().Cmp(zeros[types.StateTreeDepth]), qt.Equals, 0)
}

func TestInvalidDepths(t *testing.T) {
	c := qt.New(t)
	_, err := New(Config{TreeDepths: types.TreeDepths{MessageTreeSubDepth: 3, MessageTreeDepth: 2}})
	c.Assert(err, qt.IsNotNil)
	_, err = New(Config{TreeDepths: types.TreeDepths{MessageTreeDepth: 2}})
	c.Assert(err, qt.IsNotNil)
}
