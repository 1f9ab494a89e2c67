package registry

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/arbo/memdb"
	"go.vocdoni.io/dvote/db/metadb"
)

func TestSimpleRegistry(t *testing.T) {
	c := qt.New(t)
	reg, err := NewSimple(memdb.New())
	c.Assert(err, qt.IsNil)
	c.Assert(reg.RecipientCount(), qt.Equals, uint64(0))
	c.Assert(reg.Initialized(0), qt.IsFalse)

	addrs := []common.Address{
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		common.HexToAddress("0x3333333333333333333333333333333333333333"),
	}
	for i, a := range addrs {
		idx, err := reg.Add(a)
		c.Assert(err, qt.IsNil)
		c.Assert(idx, qt.Equals, uint64(i))
	}
	c.Assert(reg.RecipientCount(), qt.Equals, uint64(3))
	c.Assert(reg.Initialized(2), qt.IsTrue)
	c.Assert(reg.Initialized(3), qt.IsFalse)

	got, err := reg.Recipient(1)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, addrs[1])
	_, err = reg.Recipient(3)
	c.Assert(err, qt.ErrorIs, ErrRecipientNotFound)

	root, err := reg.Root()
	c.Assert(err, qt.IsNil)
	addr, siblings, err := reg.Proof(2)
	c.Assert(err, qt.IsNil)
	c.Assert(addr, qt.Equals, addrs[2])
	ok, err := VerifyProof(root, 2, addrs[2], siblings)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
	ok, err = VerifyProof(root, 2, addrs[0], siblings)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)

	newAddr := common.HexToAddress("0x4444444444444444444444444444444444444444")
	c.Assert(reg.Update(0, newAddr), qt.IsNil)
	got, err = reg.Recipient(0)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, newAddr)
	c.Assert(reg.Update(9, newAddr), qt.ErrorIs, ErrRecipientNotFound)

	newRoot, err := reg.Root()
	c.Assert(err, qt.IsNil)
	c.Assert(newRoot, qt.Not(qt.DeepEquals), root)
}

func TestSimpleRegistryReopen(t *testing.T) {
	c := qt.New(t)
	database := metadb.NewTest(t)
	reg, err := NewSimple(database)
	c.Assert(err, qt.IsNil)
	_, err = reg.Add(common.HexToAddress("0x01"))
	c.Assert(err, qt.IsNil)
	_, err = reg.Add(common.HexToAddress("0x02"))
	c.Assert(err, qt.IsNil)

	reopened, err := NewSimple(database)
	c.Assert(err, qt.IsNil)
	c.Assert(reopened.RecipientCount(), qt.Equals, uint64(2))
	got, err := reopened.Recipient(1)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, common.HexToAddress("0x02"))
}
