package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vocdoni/maci-payout/api"
	"github.com/vocdoni/maci-payout/config"
	"github.com/vocdoni/maci-payout/events"
	"github.com/vocdoni/maci-payout/indexer"
	"github.com/vocdoni/maci-payout/log"
	"github.com/vocdoni/maci-payout/metrics"
	"github.com/vocdoni/maci-payout/poll"
	"github.com/vocdoni/maci-payout/registry"
	"github.com/vocdoni/maci-payout/service"
	"github.com/vocdoni/maci-payout/storage"
	"github.com/vocdoni/maci-payout/tally"
	"github.com/vocdoni/maci-payout/token"
	"github.com/vocdoni/maci-payout/types"
	"github.com/vocdoni/maci-payout/verifier"
	"github.com/vocdoni/maci-payout/web3"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

var registryPrefix = []byte("rg/")

// node holds every component of a running payout node.
type node struct {
	database    db.Database
	storage     *storage.Storage
	poll        *poll.Poll
	engine      *tally.Engine
	indexer     *indexer.Indexer
	coordinator *service.Coordinator
	api         *service.APIService
}

func newNode(ctx context.Context, cfg *config.Config) (*node, error) {
	database, err := metadb.New(cfg.DBType, filepath.Join(cfg.Datadir, "db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	n := &node{database: database, storage: storage.New(database)}
	if err := n.setup(ctx, cfg); err != nil {
		n.close()
		return nil, err
	}
	return n, nil
}

func (n *node) setup(ctx context.Context, cfg *config.Config) error {
	rc := cfg.Round
	owner := common.HexToAddress(rc.Owner)
	pubKey, err := coordinatorPubKey(rc.CoordinatorPubKey)
	if err != nil {
		return err
	}
	n.poll, err = poll.New(poll.Config{
		ID:    rc.PollID,
		Owner: owner,
		TreeDepths: types.TreeDepths{
			IntStateTreeDepth:   rc.IntStateTreeDepth,
			MessageTreeSubDepth: rc.MessageTreeSubDepth,
			MessageTreeDepth:    rc.MessageTreeDepth,
			VoteOptionTreeDepth: rc.VoteOptionTreeDepth,
		},
		CoordinatorPubKey: pubKey,
		Duration:          rc.Duration,
		Storage:           n.storage,
	})
	if err != nil {
		return fmt.Errorf("deploy poll: %w", err)
	}
	reg, err := loadRegistry(prefixeddb.NewPrefixedDatabase(n.database, registryPrefix), rc.Recipients)
	if err != nil {
		return err
	}
	if err := n.poll.SetRegistry(owner, reg); err != nil {
		return err
	}
	if err := n.poll.Init(owner); err != nil {
		return err
	}

	tokenAddr := common.HexToAddress(cfg.Web3.Token)
	var tokens token.Provider
	custody := owner
	if cfg.Web3.RPC != "" {
		erc20, err := web3.Dial(ctx, cfg.Web3.RPC, tokenAddr)
		if err != nil {
			return err
		}
		if err := erc20.SetAccountPrivateKey(cfg.Web3.PrivKey); err != nil {
			return err
		}
		tokens, custody = erc20, erc20.AccountAddress()
	} else {
		log.Warnw("no web3 RPC configured, using an in-memory payout token", "token", tokenAddr.String())
		tokens = token.NewMemory(tokenAddr)
	}

	var proofs verifier.ProofVerifier
	if rc.VerifyingKey != "" {
		vk, err := os.ReadFile(rc.VerifyingKey)
		if err != nil {
			return fmt.Errorf("read verifying key: %w", err)
		}
		if proofs, err = verifier.NewGroth16(vk); err != nil {
			return err
		}
	} else {
		log.Warnw("no verifying key configured, every tally proof will be rejected")
		proofs = verifier.Func(func([]byte, *big.Int) bool { return false })
	}

	promReg := prometheus.NewRegistry()
	collector := metrics.New(promReg)
	collector.SetClassifier(tally.Classify)
	n.indexer = indexer.New()
	replayed, err := n.indexer.Replay(n.storage, rc.PollID, 0)
	if err != nil {
		return fmt.Errorf("replay events: %w", err)
	}
	n.engine, err = tally.New(tally.Config{
		Owner:      owner,
		Poll:       n.poll,
		Tokens:     tokens,
		Verifier:   proofs,
		Storage:    n.storage,
		Self:       custody,
		Emitter:    events.Multi{n.indexer, collector},
		Rejections: collector,
	})
	if err != nil {
		return err
	}
	if n.engine.Status() == tally.StatusUninitialized {
		params := tally.InitParams{Cooldown: rc.Cooldown, PayoutToken: tokenAddr}
		if params.MaxContribution, err = optionalBig(rc.MaxContribution); err != nil {
			return fmt.Errorf("max contribution: %w", err)
		}
		if params.MaxCap, err = optionalBig(rc.MaxCap); err != nil {
			return fmt.Errorf("max cap: %w", err)
		}
		if err := n.engine.Init(owner, params); err != nil {
			return err
		}
	}
	log.Infow("distribution loaded", "pollID", rc.PollID, "status", n.engine.Status().String(),
		"replayedEvents", replayed)

	n.coordinator = service.NewCoordinator(n.poll, rc.MergeInterval, rc.MergeBatch)
	apiConf := api.APIConfig{
		Host:          cfg.API.Host,
		Port:          cfg.API.Port,
		Storage:       n.storage,
		Distributions: api.Engines{rc.PollID: n.engine},
		Indexer:       n.indexer,
	}
	if cfg.Metrics.Enabled {
		apiConf.Metrics = promReg
	}
	n.api = service.NewAPI(apiConf)
	return nil
}

func (n *node) services() []service.Service {
	return []service.Service{n.api, n.coordinator}
}

func (n *node) close() {
	n.storage.Close()
}

// loadRegistry opens the project registry and makes it match recipients.
func loadRegistry(database db.Database, recipients []string) (*registry.Simple, error) {
	reg, err := registry.NewSimple(database)
	if err != nil {
		return nil, err
	}
	for i, r := range recipients {
		addr := common.HexToAddress(r)
		index := uint64(i)
		if index >= reg.RecipientCount() {
			if _, err := reg.Add(addr); err != nil {
				return nil, fmt.Errorf("add recipient %d: %w", i, err)
			}
			continue
		}
		current, err := reg.Recipient(index)
		if err != nil {
			return nil, err
		}
		if current != addr {
			if err := reg.Update(index, addr); err != nil {
				return nil, fmt.Errorf("update recipient %d: %w", i, err)
			}
		}
	}
	return reg, nil
}

func coordinatorPubKey(coords []string) (types.PubKey, error) {
	if len(coords) != 2 {
		return types.PubKey{}, fmt.Errorf("coordinator public key needs two coordinates")
	}
	x, ok := new(big.Int).SetString(coords[0], 0)
	if !ok {
		return types.PubKey{}, fmt.Errorf("invalid coordinator key x %q", coords[0])
	}
	y, ok := new(big.Int).SetString(coords[1], 0)
	if !ok {
		return types.PubKey{}, fmt.Errorf("invalid coordinator key y %q", coords[1])
	}
	return types.NewPubKey(x, y), nil
}

// optionalBig parses a decimal amount. The empty string is nil.
func optionalBig(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
