package token

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
)

var (
	tokenAddr = common.HexToAddress("0x7070")
	alice     = common.HexToAddress("0xa1")
	bob       = common.HexToAddress("0xb0")
	custody   = common.HexToAddress("0xc0")
)

func balance(c *qt.C, tk Token, a common.Address) int64 {
	b, err := tk.BalanceOf(a)
	c.Assert(err, qt.IsNil)
	return b.Int64()
}

func TestMemoryTransfers(t *testing.T) {
	c := qt.New(t)
	tk := NewMemory(tokenAddr)
	tk.Mint(alice, big.NewInt(100))

	c.Assert(tk.Transfer(alice, bob, big.NewInt(30)), qt.IsNil)
	c.Assert(balance(c, tk, alice), qt.Equals, int64(70))
	c.Assert(balance(c, tk, bob), qt.Equals, int64(30))

	err := tk.Transfer(bob, alice, big.NewInt(31))
	c.Assert(err, qt.ErrorIs, ErrInsufficientBalance)
	c.Assert(balance(c, tk, bob), qt.Equals, int64(30))
	c.Assert(tk.Transfer(bob, alice, big.NewInt(-1)), qt.IsNotNil)
}

func TestMemoryAllowance(t *testing.T) {
	c := qt.New(t)
	tk := NewMemory(tokenAddr)
	tk.Mint(alice, big.NewInt(100))

	err := tk.TransferFrom(custody, alice, custody, big.NewInt(10))
	c.Assert(err, qt.ErrorIs, ErrInsufficientAllowance)

	tk.Approve(alice, custody, big.NewInt(50))
	c.Assert(tk.TransferFrom(custody, alice, custody, big.NewInt(40)), qt.IsNil)
	c.Assert(tk.Allowance(alice, custody).Int64(), qt.Equals, int64(10))
	c.Assert(balance(c, tk, custody), qt.Equals, int64(40))

	err = tk.TransferFrom(custody, alice, custody, big.NewInt(11))
	c.Assert(err, qt.ErrorIs, ErrInsufficientAllowance)
}

func TestMemoryProvider(t *testing.T) {
	c := qt.New(t)
	tk := NewMemory(tokenAddr)
	got, err := tk.Token(tokenAddr)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Address(), qt.Equals, tokenAddr)
	_, err = tk.Token(bob)
	c.Assert(err, qt.ErrorIs, ErrUnknownToken)
}
