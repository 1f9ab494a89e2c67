package poseidon

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestHashArity(t *testing.T) {
	c := qt.New(t)

	_, err := Hash()
	c.Assert(err, qt.Not(qt.IsNil))

	inputs := make([]*big.Int, MaxInputs+1)
	for i := range inputs {
		inputs[i] = big.NewInt(int64(i))
	}
	_, err = Hash(inputs...)
	c.Assert(err, qt.Not(qt.IsNil))

	h, err := Hash(inputs[:MaxInputs]...)
	c.Assert(err, qt.IsNil)
	c.Assert(h.Sign(), qt.Equals, 1)
}

func TestHashLeftRight(t *testing.T) {
	c := qt.New(t)

	h1, err := HashLeftRight(big.NewInt(1), big.NewInt(2))
	c.Assert(err, qt.IsNil)
	h2, err := Hash(big.NewInt(1), big.NewInt(2))
	c.Assert(err, qt.IsNil)
	c.Assert(h1.Cmp(h2), qt.Equals, 0)

	h3, err := HashLeftRight(big.NewInt(2), big.NewInt(1))
	c.Assert(err, qt.IsNil)
	c.Assert(h1.Cmp(h3), qt.Not(qt.Equals), 0)
}

func TestMultiPoseidon(t *testing.T) {
	c := qt.New(t)

	inputs := make([]*big.Int, 20)
	for i := range inputs {
		inputs[i] = big.NewInt(int64(i + 1))
	}
	h, err := MultiPoseidon(inputs...)
	c.Assert(err, qt.IsNil)

	// 20 inputs are split into a chunk of 16 and a chunk of 4
	first, err := Hash(inputs[:16]...)
	c.Assert(err, qt.IsNil)
	second, err := Hash(inputs[16:]...)
	c.Assert(err, qt.IsNil)
	expected, err := Hash(first, second)
	c.Assert(err, qt.IsNil)
	c.Assert(h.Cmp(expected), qt.Equals, 0)

	single, err := MultiPoseidon(inputs[:3]...)
	c.Assert(err, qt.IsNil)
	direct, err := Hash(inputs[:3]...)
	c.Assert(err, qt.IsNil)
	c.Assert(single.Cmp(direct), qt.Equals, 0)

	_, err = MultiPoseidon()
	c.Assert(err, qt.Not(qt.IsNil))
}
