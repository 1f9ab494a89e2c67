package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
)

func TestKinds(t *testing.T) {
	c := qt.New(t)
	c.Assert(KindClaimed.String(), qt.Equals, "funds.claimed")
	c.Assert(Kind(99).String(), qt.Equals, "unknown(99)")

	ev := Claimed(1, 3, common.HexToAddress("0x01"), big.NewInt(10))
	c.Assert(ev.EventType(), qt.Equals, "funds.claimed")
	c.Assert(ev.Amount.MathBigInt().Int64(), qt.Equals, int64(10))
	c.Assert(PauseChanged(1, common.Address{}, true).Kind, qt.Equals, KindPaused)
	c.Assert(PauseChanged(1, common.Address{}, false).Kind, qt.Equals, KindUnpaused)
	c.Assert(Deposited(1, common.Address{}, nil).Amount, qt.IsNil)
}

func TestMultiRecorder(t *testing.T) {
	c := qt.New(t)
	a, b := &Recorder{}, &Recorder{}
	m := Multi{a, NoopEmitter{}, nil, b}
	m.Emit(ResultAdded(1, 0, big.NewInt(5), true))
	m.Emit(TallyCommitted(1, big.NewInt(7)))
	c.Assert(a.Events(), qt.HasLen, 2)
	c.Assert(b.Events(), qt.DeepEquals, a.Events())
	c.Assert(a.Events()[0].Kind, qt.Equals, KindResultAdded)
}
