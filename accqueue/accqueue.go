// Package accqueue implements an accumulator queue: leaves are enqueued into
// fixed-size subtrees whose roots are merged, first into a small subroot
// tree and then into a main tree of the requested depth. Once merging has
// started the queue accepts no more leaves.
package accqueue

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"

	"github.com/vocdoni/maci-payout/crypto/hash/poseidon"
	"github.com/vocdoni/maci-payout/log"
	"github.com/vocdoni/maci-payout/types"
)

var (
	// ErrQueueClosed is returned by Enqueue once merging has started.
	ErrQueueClosed = errors.New("queue closed for new leaves")
	// ErrQueueFull is returned when no more leaves fit in the queue.
	ErrQueueFull = errors.New("queue is full")
	// ErrSubTreesNotMerged is returned by Merge before every subroot has
	// been merged.
	ErrSubTreesNotMerged = errors.New("subtrees are not merged")
	// ErrDepthTooSmall is returned by Merge when the depth cannot hold all
	// the subroots.
	ErrDepthTooSmall = errors.New("merge depth is too small")
)

// AccQueue accumulates leaves in subtrees of arity^subDepth leaves.
type AccQueue struct {
	mu       sync.RWMutex
	arity    int
	subDepth int
	maxDepth int
	zeros    []*big.Int

	numLeaves   uint64
	current     []*big.Int // leaves of the open subtree
	subRoots    []*big.Int
	merging     bool
	nextSubRoot int
	srtRoot     *big.Int
	srtDepth    int
	subMerged   bool
	mainRoots   map[int]*big.Int
}

// New returns an empty queue. The queue holds at most arity^maxDepth leaves.
func New(arity, subDepth, maxDepth int) (*AccQueue, error) {
	if arity < 2 || arity > poseidon.MaxInputs {
		return nil, fmt.Errorf("invalid arity %d", arity)
	}
	if subDepth < 1 || maxDepth < subDepth || maxDepth > types.MaxTreeDepth {
		return nil, fmt.Errorf("invalid depths: sub %d, max %d", subDepth, maxDepth)
	}
	zeros, err := ZeroHashes(arity, maxDepth)
	if err != nil {
		return nil, err
	}
	return &AccQueue{
		arity:     arity,
		subDepth:  subDepth,
		maxDepth:  maxDepth,
		zeros:     zeros,
		mainRoots: make(map[int]*big.Int),
	}, nil
}

// ZeroHashes returns the roots of empty trees of depth 0..depth, where the
// empty leaf is zero and every node hashes arity copies of the level below.
func ZeroHashes(arity, depth int) ([]*big.Int, error) {
	zeros := make([]*big.Int, depth+1)
	zeros[0] = big.NewInt(0)
	for i := range depth {
		level := make([]*big.Int, arity)
		for j := range level {
			level[j] = zeros[i]
		}
		h, err := poseidon.Hash(level...)
		if err != nil {
			return nil, err
		}
		zeros[i+1] = h
	}
	return zeros, nil
}

func (q *AccQueue) subTreeCapacity() int {
	c := 1
	for range q.subDepth {
		c *= q.arity
	}
	return c
}

func (q *AccQueue) capacity() uint64 {
	c := uint64(1)
	for range q.maxDepth {
		if c > math.MaxUint64/uint64(q.arity) {
			return math.MaxUint64
		}
		c *= uint64(q.arity)
	}
	return c
}

// Enqueue appends a leaf and returns its index.
func (q *AccQueue) Enqueue(leaf *big.Int) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.merging {
		return 0, ErrQueueClosed
	}
	if q.numLeaves >= q.capacity() {
		return 0, ErrQueueFull
	}
	q.current = append(q.current, new(big.Int).Set(leaf))
	index := q.numLeaves
	q.numLeaves++
	if len(q.current) == q.subTreeCapacity() {
		if err := q.closeSubTree(); err != nil {
			q.current = q.current[:len(q.current)-1]
			q.numLeaves--
			return 0, err
		}
	}
	return index, nil
}

// closeSubTree hashes the open subtree, padding it with zero leaves.
func (q *AccQueue) closeSubTree() error {
	level := make([]*big.Int, q.subTreeCapacity())
	for i := range level {
		if i < len(q.current) {
			level[i] = q.current[i]
		} else {
			level[i] = q.zeros[0]
		}
	}
	root, err := q.hashLevels(level, q.subDepth)
	if err != nil {
		return err
	}
	q.subRoots = append(q.subRoots, root)
	q.current = nil
	return nil
}

// hashLevels hashes nodes up depth levels. len(nodes) must be arity^depth.
func (q *AccQueue) hashLevels(nodes []*big.Int, depth int) (*big.Int, error) {
	for range depth {
		next := make([]*big.Int, len(nodes)/q.arity)
		for i := range next {
			h, err := poseidon.Hash(nodes[i*q.arity : (i+1)*q.arity]...)
			if err != nil {
				return nil, err
			}
			next[i] = h
		}
		nodes = next
	}
	return nodes[0], nil
}

// MergeSubRoots advances the subroot merge over at most numOps subroots, or
// all of them if numOps is zero. The first call closes the queue and fills
// the open subtree with zeros. Once every subroot is consumed the subroot
// tree root is computed. Calling it after completion is a no-op.
func (q *AccQueue) MergeSubRoots(numOps int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.subMerged {
		return nil
	}
	if !q.merging {
		q.merging = true
		if len(q.current) > 0 {
			if err := q.closeSubTree(); err != nil {
				return err
			}
		}
		if len(q.subRoots) == 0 {
			q.subRoots = append(q.subRoots, q.zeros[q.subDepth])
		}
	}
	remaining := len(q.subRoots) - q.nextSubRoot
	if numOps <= 0 || numOps > remaining {
		numOps = remaining
	}
	q.nextSubRoot += numOps
	if q.nextSubRoot < len(q.subRoots) {
		log.Debugw("subroots merge in progress",
			"merged", q.nextSubRoot, "total", len(q.subRoots))
		return nil
	}

	// smallest depth holding every subroot
	depth, width := 0, 1
	for width < len(q.subRoots) {
		depth++
		width *= q.arity
	}
	if q.subDepth+depth > q.maxDepth {
		return ErrQueueFull
	}
	nodes := make([]*big.Int, width)
	for i := range nodes {
		if i < len(q.subRoots) {
			nodes[i] = q.subRoots[i]
		} else {
			nodes[i] = q.zeros[q.subDepth]
		}
	}
	root, err := q.hashLevels(nodes, depth)
	if err != nil {
		return err
	}
	q.srtRoot = root
	q.srtDepth = depth
	q.subMerged = true
	log.Debugw("subroots merged", "subRoots", len(q.subRoots), "srtDepth", depth)
	return nil
}

// Merge computes the main root at the given depth from the subroot tree,
// hashing it up with zero subtrees. Merging the same depth twice is a no-op.
func (q *AccQueue) Merge(depth int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.subMerged {
		return ErrSubTreesNotMerged
	}
	if _, ok := q.mainRoots[depth]; ok {
		return nil
	}
	if depth < q.subDepth+q.srtDepth || depth > q.maxDepth {
		return fmt.Errorf("%w: %d, need at least %d", ErrDepthTooSmall, depth, q.subDepth+q.srtDepth)
	}
	root := q.srtRoot
	for d := q.subDepth + q.srtDepth; d < depth; d++ {
		level := make([]*big.Int, q.arity)
		level[0] = root
		for j := 1; j < q.arity; j++ {
			level[j] = q.zeros[d]
		}
		h, err := poseidon.Hash(level...)
		if err != nil {
			return err
		}
		root = h
	}
	q.mainRoots[depth] = root
	return nil
}

// MainRoot returns the root merged at depth, or zero if it was not merged.
func (q *AccQueue) MainRoot(depth int) *big.Int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if r, ok := q.mainRoots[depth]; ok {
		return new(big.Int).Set(r)
	}
	return big.NewInt(0)
}

// NumLeaves returns the number of enqueued leaves.
func (q *AccQueue) NumLeaves() uint64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.numLeaves
}

// SubTreesMerged reports whether every subroot has been merged.
func (q *AccQueue) SubTreesMerged() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.subMerged
}

// Progress returns the number of subroots consumed so far and the total.
func (q *AccQueue) Progress() (merged, total int) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.nextSubRoot, len(q.subRoots)
}
