package types

import (
	"fmt"
	"math/big"
)

// TreeDepths holds the depths of the trees used by a poll. They are fixed at
// poll creation.
type TreeDepths struct {
	IntStateTreeDepth   uint8 `json:"intStateTreeDepth"   cbor:"0,keyasint,omitempty"`
	MessageTreeSubDepth uint8 `json:"messageTreeSubDepth" cbor:"1,keyasint,omitempty"`
	MessageTreeDepth    uint8 `json:"messageTreeDepth"    cbor:"2,keyasint,omitempty"`
	VoteOptionTreeDepth uint8 `json:"voteOptionTreeDepth" cbor:"3,keyasint,omitempty"`
}

// Validate checks the depths are consistent with each other.
func (d TreeDepths) Validate() error {
	if d.MessageTreeSubDepth > d.MessageTreeDepth {
		return fmt.Errorf("message tree sub depth %d is greater than depth %d",
			d.MessageTreeSubDepth, d.MessageTreeDepth)
	}
	if d.MessageTreeDepth > MaxTreeDepth || d.VoteOptionTreeDepth > MaxTreeDepth ||
		d.IntStateTreeDepth > MaxTreeDepth {
		return fmt.Errorf("tree depth exceeds %d", MaxTreeDepth)
	}
	return nil
}

// PubKey is a point of the coordinator or voter public key. It is opaque to
// the settlement core.
type PubKey struct {
	X *BigInt `json:"x" cbor:"0,keyasint,omitempty"`
	Y *BigInt `json:"y" cbor:"1,keyasint,omitempty"`
}

// NewPubKey returns a PubKey from its coordinates.
func NewPubKey(x, y *big.Int) PubKey {
	return PubKey{X: new(BigInt).SetBigInt(x), Y: new(BigInt).SetBigInt(y)}
}

// Message is an encrypted vote message published to a poll.
type Message struct {
	Data      [MessageDataLength]*big.Int
	EncPubKey PubKey
}
