// Package token defines the ERC20-style payout token used by the
// distribution engine and an in-memory implementation of it.
package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientBalance is returned when the sender balance does not
	// cover a transfer.
	ErrInsufficientBalance = errors.New("insufficient token balance")
	// ErrInsufficientAllowance is returned when the spender allowance does
	// not cover a transfer.
	ErrInsufficientAllowance = errors.New("insufficient token allowance")
	// ErrUnknownToken is returned by providers for unknown token addresses.
	ErrUnknownToken = errors.New("unknown token")
)

// Token is an ERC20-style fungible token.
type Token interface {
	Address() common.Address
	BalanceOf(account common.Address) (*big.Int, error)
	// Transfer moves amount from the from account to the to account.
	Transfer(from, to common.Address, amount *big.Int) error
	// TransferFrom moves amount out of the from account using the allowance
	// granted to spender.
	TransferFrom(spender, from, to common.Address, amount *big.Int) error
}

// Provider resolves tokens by address.
type Provider interface {
	Token(address common.Address) (Token, error)
}

// Memory is an in-memory Token, also usable as a single-token Provider.
type Memory struct {
	mu         sync.Mutex
	address    common.Address
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// NewMemory returns an empty token deployed at address.
func NewMemory(address common.Address) *Memory {
	return &Memory{
		address:    address,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Address implements Token.
func (m *Memory) Address() common.Address {
	return m.address
}

// Token implements Provider.
func (m *Memory) Token(address common.Address) (Token, error) {
	if address != m.address {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, address.Hex())
	}
	return m, nil
}

// Mint creates amount tokens in the account.
func (m *Memory) Mint(account common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] = new(big.Int).Add(m.balanceOf(account), amount)
}

// Approve sets the allowance of spender over the owner tokens.
func (m *Memory) Approve(owner, spender common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allowances[owner] == nil {
		m.allowances[owner] = make(map[common.Address]*big.Int)
	}
	m.allowances[owner][spender] = new(big.Int).Set(amount)
}

// Allowance returns the amount spender can still transfer from owner.
func (m *Memory) Allowance(owner, spender common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowance(owner, spender)
}

// BalanceOf implements Token.
func (m *Memory) BalanceOf(account common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceOf(account), nil
}

// Transfer implements Token.
func (m *Memory) Transfer(from, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.move(from, to, amount)
}

// TransferFrom implements Token.
func (m *Memory) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	allowance := m.allowance(from, spender)
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s < %s", ErrInsufficientAllowance, allowance, amount)
	}
	if err := m.move(from, to, amount); err != nil {
		return err
	}
	if m.allowances[from] != nil {
		m.allowances[from][spender] = allowance.Sub(allowance, amount)
	}
	return nil
}

func (m *Memory) move(from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer amount %s", amount)
	}
	balance := m.balanceOf(from)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s < %s", ErrInsufficientBalance, balance, amount)
	}
	m.balances[from] = balance.Sub(balance, amount)
	m.balances[to] = new(big.Int).Add(m.balanceOf(to), amount)
	return nil
}

func (m *Memory) balanceOf(account common.Address) *big.Int {
	if b, ok := m.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (m *Memory) allowance(owner, spender common.Address) *big.Int {
	if a, ok := m.allowances[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}
