package web3

import (
	"context"
	"encoding/hex"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	qt "github.com/frankban/quicktest"
)

const testKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

var tokenAddress = common.HexToAddress("0x0000000000000000000000000000000000007070")

// fakeBackend answers the calls the binding makes. Unused methods panic
// through the nil embedded interface.
type fakeBackend struct {
	Backend

	mu       sync.Mutex
	calls    [][]byte
	sent     []*types.Transaction
	balance  *big.Int
	reverted bool
}

func (f *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call.Data)
	return testABI.Methods["balanceOf"].Outputs.Pack(f.balance)
}

func (*fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{1}, nil
}

func (*fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(7)}, nil
}

func (*fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 3, nil
}

func (*fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	status := types.ReceiptStatusSuccessful
	if f.reverted {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{Status: status, BlockNumber: big.NewInt(100)}, nil
}

var testABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

func newTestToken(c *qt.C, backend *fakeBackend) *ERC20 {
	e, err := NewERC20(tokenAddress, big.NewInt(1337), backend)
	c.Assert(err, qt.IsNil)
	c.Assert(e.SetAccountPrivateKey("0x"+testKey), qt.IsNil)
	return e
}

func TestBalanceOf(t *testing.T) {
	c := qt.New(t)
	backend := &fakeBackend{balance: big.NewInt(42)}
	e := newTestToken(c, backend)

	holder := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	b, err := e.BalanceOf(holder)
	c.Assert(err, qt.IsNil)
	c.Assert(b.Int64(), qt.Equals, int64(42))
	c.Assert(backend.calls, qt.HasLen, 1)
	c.Assert(hex.EncodeToString(backend.calls[0][:4]), qt.Equals, "70a08231")
	c.Assert(common.BytesToAddress(backend.calls[0][4:36]), qt.Equals, holder)
}

func TestTransfer(t *testing.T) {
	c := qt.New(t)
	backend := &fakeBackend{}
	e := newTestToken(c, backend)
	key, err := crypto.HexToECDSA(testKey)
	c.Assert(err, qt.IsNil)
	c.Assert(e.AccountAddress(), qt.Equals, crypto.PubkeyToAddress(key.PublicKey))

	to := common.HexToAddress("0x0000000000000000000000000000000000001000")
	c.Assert(e.Transfer(to, to, big.NewInt(1)), qt.ErrorIs, ErrNotAccount)
	c.Assert(e.Transfer(e.AccountAddress(), to, big.NewInt(5)), qt.IsNil)

	c.Assert(backend.sent, qt.HasLen, 1)
	tx := backend.sent[0]
	c.Assert(*tx.To(), qt.Equals, tokenAddress)
	c.Assert(tx.Nonce(), qt.Equals, uint64(3))
	c.Assert(hex.EncodeToString(tx.Data()[:4]), qt.Equals, "a9059cbb")
	c.Assert(common.BytesToAddress(tx.Data()[4:36]), qt.Equals, to)
	c.Assert(new(big.Int).SetBytes(tx.Data()[36:68]).Int64(), qt.Equals, int64(5))
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1337)), tx)
	c.Assert(err, qt.IsNil)
	c.Assert(sender, qt.Equals, e.AccountAddress())
}

func TestTransferFrom(t *testing.T) {
	c := qt.New(t)
	backend := &fakeBackend{}
	e := newTestToken(c, backend)
	from := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	c.Assert(e.TransferFrom(from, from, e.AccountAddress(), big.NewInt(1)), qt.ErrorIs, ErrNotAccount)
	c.Assert(e.TransferFrom(e.AccountAddress(), from, e.AccountAddress(), big.NewInt(9)), qt.IsNil)
	c.Assert(hex.EncodeToString(backend.sent[0].Data()[:4]), qt.Equals, "23b872dd")

	backend.reverted = true
	c.Assert(e.TransferFrom(e.AccountAddress(), from, e.AccountAddress(), big.NewInt(9)), qt.ErrorIs, ErrTxFailed)
}

func TestNoPrivateKey(t *testing.T) {
	c := qt.New(t)
	e, err := NewERC20(tokenAddress, big.NewInt(1), &fakeBackend{})
	c.Assert(err, qt.IsNil)
	c.Assert(e.Transfer(common.Address{}, tokenAddress, big.NewInt(1)), qt.ErrorIs, ErrNoPrivateKey)

	_, err = e.Token(common.HexToAddress("0x01"))
	c.Assert(err, qt.IsNotNil)
	tk, err := e.Token(tokenAddress)
	c.Assert(err, qt.IsNil)
	c.Assert(tk.Address(), qt.Equals, tokenAddress)
}
