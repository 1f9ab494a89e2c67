// Package verifier wraps the zero-knowledge proof verification of the tally
// commitment. The distribution engine only needs a boolean oracle over the
// proof bytes and the hash of the public inputs.
package verifier

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/vocdoni/maci-payout/log"
	"github.com/vocdoni/maci-payout/util"
)

// ProofVerifier verifies a tally proof against the hash of its public
// inputs.
type ProofVerifier interface {
	Verify(proof []byte, publicInputHash *big.Int) bool
}

// Func adapts a function to the ProofVerifier interface.
type Func func(proof []byte, publicInputHash *big.Int) bool

// Verify implements ProofVerifier.
func (f Func) Verify(proof []byte, publicInputHash *big.Int) bool {
	return f(proof, publicInputHash)
}

// TallyPublicInputHash packs the public inputs of the tally proof: every
// value is written as a 32 bytes big-endian word, the words are hashed with
// sha256 and the digest is reduced to the BN254 scalar field.
func TallyPublicInputHash(stateRoot, messageRoot *big.Int, numSignUps, numMessages uint64,
	tallyCommitment *big.Int,
) *big.Int {
	h := sha256.New()
	for _, v := range []*big.Int{
		stateRoot, messageRoot,
		new(big.Int).SetUint64(numSignUps), new(big.Int).SetUint64(numMessages),
		tallyCommitment,
	} {
		word := make([]byte, 32)
		if v != nil {
			v.FillBytes(word)
		}
		h.Write(word)
	}
	return util.BigToFF(new(big.Int).SetBytes(h.Sum(nil)))
}

// publicInputs is the public part of the tally circuit assignment.
type publicInputs struct {
	PublicInputHash frontend.Variable `gnark:",public"`
}

func (*publicInputs) Define(frontend.API) error { return nil }

// Groth16 verifies BN254 Groth16 proofs whose only public input is the
// public input hash.
type Groth16 struct {
	vk groth16.VerifyingKey
}

// NewGroth16 loads a serialized BN254 verifying key.
func NewGroth16(verifyingKey []byte) (*Groth16, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(verifyingKey)); err != nil {
		return nil, fmt.Errorf("could not read verifying key: %w", err)
	}
	return &Groth16{vk: vk}, nil
}

// Verify implements ProofVerifier.
func (g *Groth16) Verify(proof []byte, publicInputHash *big.Int) bool {
	p := groth16.NewProof(ecc.BN254)
	if _, err := p.ReadFrom(bytes.NewReader(proof)); err != nil {
		log.Debugw("invalid tally proof encoding", "error", err.Error())
		return false
	}
	w, err := frontend.NewWitness(&publicInputs{PublicInputHash: publicInputHash},
		ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		log.Debugw("could not build public witness", "error", err.Error())
		return false
	}
	if err := groth16.Verify(p, g.vk, w); err != nil {
		log.Debugw("tally proof verification failed", "error", err.Error())
		return false
	}
	return true
}
