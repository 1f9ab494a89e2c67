// Package web3 binds the payout token to an ERC20 contract reachable over
// JSON-RPC.
package web3

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vocdoni/maci-payout/log"
	"github.com/vocdoni/maci-payout/token"
	"github.com/vocdoni/maci-payout/util"
)

const (
	web3QueryTimeout = 10 * time.Second
	// DefaultTxTimeout bounds the wait for a transaction receipt.
	DefaultTxTimeout = 2 * time.Minute
	defaultGasLimit  = 200000
)

const erc20ABI = `[
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	// ErrNoPrivateKey is returned by write calls when no signing key is set.
	ErrNoPrivateKey = errors.New("no private key set")
	// ErrNotAccount is returned when a transfer is requested on behalf of
	// an account other than the signing one.
	ErrNotAccount = errors.New("transfer not signed by the account owner")
	// ErrTxFailed is returned when a transaction is mined but reverted.
	ErrTxFailed = errors.New("transaction reverted")
)

// Backend is the JSON-RPC surface used by the token binding.
// *ethclient.Client implements it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// ERC20 is a token.Token backed by an ERC20 contract. Write calls are
// signed with the configured account, which must be the custody account
// of the distribution.
type ERC20 struct {
	address  common.Address
	chainID  *big.Int
	backend  Backend
	abi      abi.ABI
	contract *bind.BoundContract

	privKey *ecdsa.PrivateKey
	account common.Address
	// TxTimeout bounds the wait for every transaction receipt.
	TxTimeout time.Duration
}

// Dial connects to the web3 endpoint and binds the token at address.
func Dial(ctx context.Context, web3rpc string, address common.Address) (*ERC20, error) {
	cli, err := ethclient.DialContext(ctx, web3rpc)
	if err != nil {
		return nil, fmt.Errorf("error dialing web3 provider uri '%s': %w", web3rpc, err)
	}
	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting the chainID from the web3 provider '%s': %w", web3rpc, err)
	}
	log.Infow("web3 endpoint connected", "chainID", chainID.Uint64(), "token", address.Hex())
	return NewERC20(address, chainID, cli)
}

// NewERC20 binds the token at address through backend.
func NewERC20(address common.Address, chainID *big.Int, backend Backend) (*ERC20, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 abi: %w", err)
	}
	return &ERC20{
		address:   address,
		chainID:   new(big.Int).Set(chainID),
		backend:   backend,
		abi:       parsed,
		contract:  bind.NewBoundContract(address, parsed, backend, backend, backend),
		TxTimeout: DefaultTxTimeout,
	}, nil
}

// SetAccountPrivateKey sets the private key to be used for signing transactions.
func (e *ERC20) SetAccountPrivateKey(hexPrivKey string) error {
	var err error
	e.privKey, err = crypto.HexToECDSA(util.TrimHex(hexPrivKey))
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}
	e.account = crypto.PubkeyToAddress(e.privKey.PublicKey)
	return nil
}

// AccountAddress returns the address of the account used to sign transactions.
func (e *ERC20) AccountAddress() common.Address {
	return e.account
}

// Address implements token.Token.
func (e *ERC20) Address() common.Address {
	return e.address
}

// Token implements token.Provider for the bound token only.
func (e *ERC20) Token(address common.Address) (token.Token, error) {
	if address != e.address {
		return nil, fmt.Errorf("%w: %s", token.ErrUnknownToken, address.Hex())
	}
	return e, nil
}

func (e *ERC20) call(method string, args ...any) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), web3QueryTimeout)
	defer cancel()
	var out []any
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected %s output length %d", method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s output type %T", method, out[0])
	}
	return v, nil
}

// BalanceOf implements token.Token.
func (e *ERC20) BalanceOf(account common.Address) (*big.Int, error) {
	return e.call("balanceOf", account)
}

// Allowance returns the amount spender can transfer from owner.
func (e *ERC20) Allowance(owner, spender common.Address) (*big.Int, error) {
	return e.call("allowance", owner, spender)
}

// Transfer implements token.Token. The from account must be the signing
// account.
func (e *ERC20) Transfer(from, to common.Address, amount *big.Int) error {
	if from != e.account {
		return fmt.Errorf("%w: %s", ErrNotAccount, from.Hex())
	}
	return e.transact("transfer", to, amount)
}

// TransferFrom implements token.Token. The spender must be the signing
// account.
func (e *ERC20) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	if spender != e.account {
		return fmt.Errorf("%w: %s", ErrNotAccount, spender.Hex())
	}
	return e.transact("transferFrom", from, to, amount)
}

// transact sends the call and waits until it is mined.
func (e *ERC20) transact(method string, args ...any) error {
	txOpts, err := e.authTransactOpts()
	if err != nil {
		return fmt.Errorf("failed to create transact options: %w", err)
	}
	tx, err := e.contract.Transact(txOpts, method, args...)
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", method, err)
	}
	log.Debugw("token transaction sent", "method", method, "hash", tx.Hash().Hex(), "nonce", tx.Nonce())
	ctx, cancel := context.WithTimeout(context.Background(), e.TxTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(ctx, e.backend, tx)
	if err != nil {
		return fmt.Errorf("failed to wait for %s %s: %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s %s", ErrTxFailed, method, tx.Hash().Hex())
	}
	log.Infow("token transaction mined", "method", method, "hash", tx.Hash().Hex(),
		"block", receipt.BlockNumber.String())
	return nil
}

// authTransactOpts creates the transact options signed with the configured
// key. It sets the nonce, gas tip cap and gas limit.
func (e *ERC20) authTransactOpts() (*bind.TransactOpts, error) {
	if e.privKey == nil {
		return nil, ErrNoPrivateKey
	}
	auth, err := bind.NewKeyedTransactorWithChainID(e.privKey, e.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), web3QueryTimeout)
	defer cancel()
	nonce, err := e.backend.PendingNonceAt(ctx, e.account)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	auth.Nonce = new(big.Int).SetUint64(nonce)
	if auth.GasTipCap, err = e.backend.SuggestGasTipCap(ctx); err != nil {
		return nil, fmt.Errorf("failed to get gas tip cap: %w", err)
	}
	auth.GasLimit = defaultGasLimit
	return auth, nil
}
