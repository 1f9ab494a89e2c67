package main

import (
	"context"
	"math/big"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/maci-payout/api/client"
	"github.com/vocdoni/maci-payout/config"
	"github.com/vocdoni/maci-payout/service"
	"github.com/vocdoni/maci-payout/tally"
)

func testConfig(c *qt.C, datadir string) *config.Config {
	cfg, err := config.Load(config.NewFlagSet(), []string{
		"--datadir", datadir,
		"--api.host", "127.0.0.1",
		"--api.port", "0",
		"--round.pollId", "5",
		"--round.owner", "0x00000000000000000000000000000000000000aa",
		"--web3.token", "0x0000000000000000000000000000000000007070",
		"--round.coordinatorPubKey", "1,2",
		"--round.recipients", "0x0000000000000000000000000000000000001000,0x0000000000000000000000000000000000001001",
		"--round.maxContribution", "5000000000000000000",
		"--round.mergeInterval", "50ms",
	})
	c.Assert(err, qt.IsNil)
	return cfg
}

func TestNodeLifecycle(t *testing.T) {
	c := qt.New(t)
	datadir := t.TempDir()
	cfg := testConfig(c, datadir)

	n, err := newNode(context.Background(), cfg)
	c.Assert(err, qt.IsNil)
	c.Assert(n.engine.Status(), qt.Equals, tally.StatusInitialized)
	c.Assert(n.engine.Record().VoiceCreditFactor.MathBigInt().Cmp(big.NewInt(5_000_000_000)), qt.Equals, 0)
	round, ok := n.indexer.Round(5)
	c.Assert(ok, qt.IsTrue)
	c.Assert(round.MaxCap.Sign(), qt.Equals, 0)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- service.Run(ctx, n.services()...) }()
	var addr string
	for range 100 {
		if a := n.api.Addr(); a != nil {
			addr = a.String()
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	c.Assert(addr, qt.Not(qt.Equals), "")

	cli, err := client.New("http://" + addr)
	c.Assert(err, qt.IsNil)
	dist, err := cli.Distribution(5)
	c.Assert(err, qt.IsNil)
	c.Assert(dist.Status, qt.Equals, tally.StatusInitialized)
	c.Assert(dist.ResultsCount, qt.Equals, uint64(0))

	cancel()
	c.Assert(<-errc, qt.IsNil)
	n.close()

	// the distribution and the indexed events survive a restart
	n, err = newNode(context.Background(), testConfig(c, datadir))
	c.Assert(err, qt.IsNil)
	defer n.close()
	c.Assert(n.engine.Status(), qt.Equals, tally.StatusInitialized)
	_, ok = n.indexer.Round(5)
	c.Assert(ok, qt.IsTrue)
	reg, err := n.poll.Registry()
	c.Assert(err, qt.IsNil)
	c.Assert(reg.RecipientCount(), qt.Equals, uint64(2))
}

func TestOptionalBig(t *testing.T) {
	c := qt.New(t)
	v, err := optionalBig("")
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.IsNil)
	v, err = optionalBig("42")
	c.Assert(err, qt.IsNil)
	c.Assert(v.Int64(), qt.Equals, int64(42))
	_, err = optionalBig("-1")
	c.Assert(err, qt.ErrorMatches, `invalid amount "-1"`)
	_, err = optionalBig("0x10")
	c.Assert(err, qt.ErrorMatches, `invalid amount "0x10"`)
}

func TestCoordinatorPubKey(t *testing.T) {
	c := qt.New(t)
	pk, err := coordinatorPubKey([]string{"0x10", "7"})
	c.Assert(err, qt.IsNil)
	c.Assert(pk.X.MathBigInt().Int64(), qt.Equals, int64(16))
	c.Assert(pk.Y.MathBigInt().Int64(), qt.Equals, int64(7))
	_, err = coordinatorPubKey([]string{"1"})
	c.Assert(err, qt.ErrorMatches, "coordinator public key needs two coordinates")
	_, err = coordinatorPubKey([]string{"1", "z"})
	c.Assert(err, qt.ErrorMatches, `invalid coordinator key y "z"`)
}
