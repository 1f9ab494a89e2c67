package verifier

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	qt "github.com/frankban/quicktest"
)

// testTallyCircuit proves knowledge of the public input hash.
type testTallyCircuit struct {
	PublicInputHash frontend.Variable `gnark:",public"`
	Preimage        frontend.Variable
}

func (c *testTallyCircuit) Define(api frontend.API) error {
	api.AssertIsEqual(c.PublicInputHash, c.Preimage)
	return nil
}

func TestGroth16(t *testing.T) {
	c := qt.New(t)

	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &testTallyCircuit{})
	c.Assert(err, qt.IsNil)
	pk, vk, err := groth16.Setup(ccs)
	c.Assert(err, qt.IsNil)

	hash := TallyPublicInputHash(big.NewInt(1), big.NewInt(2), 3, 4, big.NewInt(5))
	w, err := frontend.NewWitness(&testTallyCircuit{PublicInputHash: hash, Preimage: hash}, ecc.BN254.ScalarField())
	c.Assert(err, qt.IsNil)
	proof, err := groth16.Prove(ccs, pk, w)
	c.Assert(err, qt.IsNil)

	var vkBuf, proofBuf bytes.Buffer
	_, err = vk.WriteTo(&vkBuf)
	c.Assert(err, qt.IsNil)
	_, err = proof.WriteTo(&proofBuf)
	c.Assert(err, qt.IsNil)

	v, err := NewGroth16(vkBuf.Bytes())
	c.Assert(err, qt.IsNil)
	c.Assert(v.Verify(proofBuf.Bytes(), hash), qt.IsTrue)
	c.Assert(v.Verify(proofBuf.Bytes(), new(big.Int).Add(hash, big.NewInt(1))), qt.IsFalse)
	c.Assert(v.Verify([]byte{1, 2, 3}, hash), qt.IsFalse)

	_, err = NewGroth16([]byte{0})
	c.Assert(err, qt.IsNotNil)
}

func TestTallyPublicInputHash(t *testing.T) {
	c := qt.New(t)
	a := TallyPublicInputHash(big.NewInt(1), big.NewInt(2), 3, 4, big.NewInt(5))
	b := TallyPublicInputHash(big.NewInt(1), big.NewInt(2), 3, 4, big.NewInt(6))
	c.Assert(a.Cmp(b), qt.Not(qt.Equals), 0)
	c.Assert(TallyPublicInputHash(big.NewInt(1), big.NewInt(2), 3, 4, big.NewInt(5)).Cmp(a), qt.Equals, 0)
	c.Assert(TallyPublicInputHash(nil, nil, 0, 0, nil).Sign() >= 0, qt.IsTrue)

	var called bool
	f := Func(func(_ []byte, h *big.Int) bool {
		called = true
		return h.Cmp(a) == 0
	})
	c.Assert(f.Verify(nil, a), qt.IsTrue)
	c.Assert(called, qt.IsTrue)
}
