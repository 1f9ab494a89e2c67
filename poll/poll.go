// Package poll implements the lifecycle of a MACI poll: the registry is
// attached once, the owner initializes the poll, voters sign up and publish
// encrypted messages until the deadline, and then the coordinator merges the
// sign-up and message accumulator queues, closing the round.
package poll

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/maci-payout/accqueue"
	"github.com/vocdoni/maci-payout/crypto/hash/poseidon"
	"github.com/vocdoni/maci-payout/log"
	"github.com/vocdoni/maci-payout/registry"
	"github.com/vocdoni/maci-payout/storage"
	"github.com/vocdoni/maci-payout/types"
)

var (
	ErrUnauthorized               = errors.New("caller is not the poll owner")
	ErrRegistryAlreadySet         = errors.New("registry already set")
	ErrRegistryNotSet             = errors.New("registry not set")
	ErrAlreadyInitialized         = errors.New("poll already initialized")
	ErrPollNotInitialized         = errors.New("poll not initialized")
	ErrVotingPeriodOver           = errors.New("voting period is over")
	ErrVotingPeriodNotOver        = errors.New("voting period is not over")
	ErrTooManyMessages            = errors.New("too many messages")
	ErrTooManySignUps             = errors.New("too many sign ups")
	ErrStateAqSubRootsNotMerged   = errors.New("state subroots not merged")
	ErrMessageAqSubRootsNotMerged = errors.New("message subroots not merged")
)

// Config holds the immutable parameters of a poll.
type Config struct {
	ID                uint64
	Owner             common.Address
	TreeDepths        types.TreeDepths
	CoordinatorPubKey types.PubKey
	Duration          time.Duration
	// Now is the clock of the poll. Defaults to time.Now.
	Now func() time.Time
	// Storage, if set, receives a summary of the poll after every change.
	Storage *storage.Storage
}

// Poll is a single voting round.
type Poll struct {
	mu          sync.RWMutex
	cfg         Config
	deployTime  time.Time
	registry    registry.Registry
	initialized bool

	stateAq   *accqueue.AccQueue
	messageAq *accqueue.AccQueue

	stateMerged   bool
	messageMerged bool
	stateRoot     *big.Int
	messageRoot   *big.Int
	numSignUps    uint64
	numMessages   uint64
}

// New deploys a poll. The voting period starts now.
func New(cfg Config) (*Poll, error) {
	if err := cfg.TreeDepths.Validate(); err != nil {
		return nil, err
	}
	if cfg.TreeDepths.MessageTreeSubDepth == 0 {
		return nil, fmt.Errorf("message tree sub depth must be positive")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	stateAq, err := accqueue.New(types.TreeArity, types.StateTreeSubDepth, types.StateTreeDepth)
	if err != nil {
		return nil, err
	}
	messageAq, err := accqueue.New(types.TreeArity,
		int(cfg.TreeDepths.MessageTreeSubDepth), int(cfg.TreeDepths.MessageTreeDepth))
	if err != nil {
		return nil, err
	}
	p := &Poll{
		cfg:         cfg,
		deployTime:  cfg.Now(),
		stateAq:     stateAq,
		messageAq:   messageAq,
		stateRoot:   new(big.Int),
		messageRoot: new(big.Int),
	}
	if err := p.persist(); err != nil {
		return nil, err
	}
	log.Infow("poll deployed", "pollID", cfg.ID, "duration", cfg.Duration.String())
	return p, nil
}

// ID returns the poll identifier.
func (p *Poll) ID() uint64 { return p.cfg.ID }

// Owner returns the poll owner.
func (p *Poll) Owner() common.Address { return p.cfg.Owner }

// TreeDepths returns the tree depths fixed at deployment.
func (p *Poll) TreeDepths() types.TreeDepths { return p.cfg.TreeDepths }

// CoordinatorPubKey returns the coordinator public key.
func (p *Poll) CoordinatorPubKey() types.PubKey { return p.cfg.CoordinatorPubKey }

// Deadline returns the end of the voting period.
func (p *Poll) Deadline() time.Time { return p.deployTime.Add(p.cfg.Duration) }

// VotingOver reports whether the voting period ended.
func (p *Poll) VotingOver() bool {
	return !p.cfg.Now().Before(p.Deadline())
}

// SetRegistry attaches the project registry. It can only be set once.
func (p *Poll) SetRegistry(caller common.Address, r registry.Registry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.cfg.Owner {
		return ErrUnauthorized
	}
	if r == nil {
		return fmt.Errorf("nil registry")
	}
	if p.registry != nil {
		return ErrRegistryAlreadySet
	}
	p.registry = r
	log.Infow("poll registry set", "pollID", p.cfg.ID, "recipients", r.RecipientCount())
	return p.persistLocked()
}

// Registry returns the attached registry or ErrRegistryNotSet.
func (p *Poll) Registry() (registry.Registry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.registry == nil {
		return nil, ErrRegistryNotSet
	}
	return p.registry, nil
}

// Init opens the poll for sign-ups and messages.
func (p *Poll) Init(caller common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.cfg.Owner {
		return ErrUnauthorized
	}
	if p.initialized {
		return ErrAlreadyInitialized
	}
	if p.registry == nil {
		return ErrRegistryNotSet
	}
	p.initialized = true
	log.Infow("poll initialized", "pollID", p.cfg.ID)
	return p.persistLocked()
}

// Initialized reports whether Init was called.
func (p *Poll) Initialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initialized
}

func (p *Poll) checkOpen() error {
	if !p.initialized {
		return ErrPollNotInitialized
	}
	if p.VotingOver() {
		return ErrVotingPeriodOver
	}
	return nil
}

// StateLeaf returns the sign-up leaf of a voter.
func StateLeaf(pubKey types.PubKey, voiceCredits *big.Int, timestamp int64) (*big.Int, error) {
	return poseidon.Hash(pubKey.X.MathBigInt(), pubKey.Y.MathBigInt(), voiceCredits, big.NewInt(timestamp))
}

// MessageLeaf returns the message queue leaf of a message.
func MessageLeaf(msg *types.Message) (*big.Int, error) {
	inputs := make([]*big.Int, 0, types.MessageDataLength+2)
	for _, d := range msg.Data {
		if d == nil {
			d = new(big.Int)
		}
		inputs = append(inputs, d)
	}
	inputs = append(inputs, msg.EncPubKey.X.MathBigInt(), msg.EncPubKey.Y.MathBigInt())
	return poseidon.MultiPoseidon(inputs...)
}

// SignUp enqueues a voter state leaf and returns its index.
func (p *Poll) SignUp(pubKey types.PubKey, voiceCredits *big.Int) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(); err != nil {
		return 0, err
	}
	leaf, err := StateLeaf(pubKey, voiceCredits, p.cfg.Now().Unix())
	if err != nil {
		return 0, err
	}
	index, err := p.stateAq.Enqueue(leaf)
	if err != nil {
		if errors.Is(err, accqueue.ErrQueueFull) {
			return 0, ErrTooManySignUps
		}
		return 0, err
	}
	p.numSignUps++
	log.Debugw("voter signed up", "pollID", p.cfg.ID, "stateIndex", index)
	return index, nil
}

// PublishMessage enqueues an encrypted message and returns its index.
func (p *Poll) PublishMessage(msg *types.Message) (uint64, error) {
	if msg == nil {
		return 0, fmt.Errorf("nil message")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(); err != nil {
		return 0, err
	}
	leaf, err := MessageLeaf(msg)
	if err != nil {
		return 0, err
	}
	index, err := p.messageAq.Enqueue(leaf)
	if err != nil {
		if errors.Is(err, accqueue.ErrQueueFull) {
			return 0, ErrTooManyMessages
		}
		return 0, err
	}
	p.numMessages++
	log.Debugw("message published", "pollID", p.cfg.ID, "messageIndex", index)
	return index, nil
}
