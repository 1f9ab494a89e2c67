package poseidon

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

// MaxInputs is the maximum number of inputs a single Poseidon permutation
// accepts.
const MaxInputs = 16

// Hash returns the Poseidon hash of the inputs. Every input must be a valid
// element of the BN254 scalar field.
func Hash(inputs ...*big.Int) (*big.Int, error) {
	if len(inputs) == 0 || len(inputs) > MaxInputs {
		return nil, fmt.Errorf("invalid number of poseidon inputs: %d", len(inputs))
	}
	return poseidon.Hash(inputs)
}

// HashLeftRight hashes a pair of elements. It is used to salt tree roots and
// to commit to scalars.
func HashLeftRight(left, right *big.Int) (*big.Int, error) {
	return poseidon.Hash([]*big.Int{left, right})
}

// Hash3 hashes three elements.
func Hash3(a, b, c *big.Int) (*big.Int, error) {
	return poseidon.Hash([]*big.Int{a, b, c})
}
