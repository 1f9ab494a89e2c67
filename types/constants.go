package types

const (
	// TreeArity is the number of children per node of the vote option, tally
	// result and message trees.
	TreeArity = 4
	// StateTreeDepth is the depth of the sign-up state tree.
	StateTreeDepth = 10
	// StateTreeSubDepth is the depth of the subtrees the sign-up queue is
	// split into before merging.
	StateTreeSubDepth = 2
	// MessageDataLength is the number of field elements in a message payload.
	MessageDataLength = 10
	// MaxTreeDepth bounds every accumulator queue and Merkle tree depth.
	MaxTreeDepth = 32
)
