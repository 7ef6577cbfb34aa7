// Package leaderboard provides the in-memory ordered-ranking containers and
// the registry that owns one per chart and per event division.
package leaderboard

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Treap-backed, in-memory ranking container.
//
// Ordering: rank key DESC, then achievement time ASC (earlier wins), then
// entity id ASC. The comparator makes in-order traversal produce the
// leaderboard from best to worst, and every placement deterministic.

// keyScale controls fixed-point scaling of rank keys. Comparing scaled
// integers keeps the ordering invariant free of float equality noise.
const keyScale = 1_000_000_000

type keyFP int64

func toFixedPoint(x float64) keyFP {
	if math.IsNaN(x) {
		return 0
	}
	scaled := x * keyScale
	if scaled >= float64(math.MaxInt64) {
		return keyFP(math.MaxInt64)
	}
	if scaled <= float64(math.MinInt64) {
		return keyFP(math.MinInt64)
	}
	return keyFP(math.Round(scaled))
}

// Item is what a board ranks. Implementations must be value types; the
// board keeps its own copies and never hands out shared mutable state.
type Item interface {
	// RankID identifies the entity inside one board.
	RankID() uuid.UUID
	// RankKey is the descending primary sort key.
	RankKey() float64
	// RankTime breaks key ties; the earlier time ranks first.
	RankTime() time.Time
}

// placement is the full comparable position of an entry.
type placement struct {
	key keyFP
	at  int64 // UnixNano of RankTime
	id  uuid.UUID
}

func placementOf[T Item](item T) placement {
	return placement{
		key: toFixedPoint(item.RankKey()),
		at:  item.RankTime().UnixNano(),
		id:  item.RankID(),
	}
}

// before reports whether a ranks earlier than b.
func (a placement) before(b placement) bool {
	if a.key != b.key {
		return a.key > b.key
	}
	if a.at != b.at {
		return a.at < b.at
	}
	return lessUUID(a.id, b.id)
}

func lessUUID(a, b uuid.UUID) bool {
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

type node[T Item] struct {
	item  T
	pos   placement
	prio  uint64
	left  *node[T]
	right *node[T]
	size  int
}

func nsize[T Item](n *node[T]) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix[T Item](n *node[T]) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func rotateRight[T Item](y *node[T]) *node[T] {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft[T Item](x *node[T]) *node[T] {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

// Board is an ordered ranking of one entity type, keyed by a single chart
// or event-division identifier. All structural mutation happens under an
// exclusive lock; read-only queries share a read lock. Boards for different
// keys are fully independent.
type Board[T Item] struct {
	mu   sync.RWMutex
	root *node[T]
	byID map[uuid.UUID]placement
	rng  *rand.Rand
}

// NewBoard constructs an empty board.
func NewBoard[T Item]() *Board[T] {
	return &Board[T]{
		byID: make(map[uuid.UUID]placement),
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // treap balance only
	}
}

// Add inserts or repositions an entity by its current rank key. It returns
// false when an identical entity is already correctly placed, true when a
// structural change occurred. Once Add returns, subsequent Rank, Top and
// Around calls on this board observe the entry.
func (b *Board[T]) Add(item T) bool {
	pos := placementOf(item)

	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.byID[pos.id]; ok {
		if old == pos {
			b.root = replaceItem(b.root, pos, item)
			return false
		}
		b.root = remove(b.root, old)
	}
	b.byID[pos.id] = pos
	b.root = b.insert(b.root, item, pos)
	return true
}

// Remove deletes an entity by id; false when absent.
func (b *Board[T]) Remove(id uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.byID[id]
	if !ok {
		return false
	}
	delete(b.byID, id)
	b.root = remove(b.root, pos)
	return true
}

// Rank returns the 1-based position of an entity, or false when absent.
func (b *Board[T]) Rank(id uuid.UUID) (int, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rankLocked(id)
}

func (b *Board[T]) rankLocked(id uuid.UUID) (int, bool) {
	pos, ok := b.byID[id]
	if !ok {
		return 0, false
	}
	rank := 1
	n := b.root
	for n != nil {
		switch {
		case pos.before(n.pos):
			n = n.left
		case pos == n.pos:
			return rank + nsize(n.left), true
		default:
			rank += nsize(n.left) + 1
			n = n.right
		}
	}
	return 0, false
}

// Top returns up to n leading entries in rank order. A board smaller than n
// returns everything it has.
func (b *Board[T]) Top(n int) []T {
	if n < 1 {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rangeLocked(1, n)
}

// Around returns the entries within radius positions above and below the
// given entity's rank, inclusive, clipped at the board edges. Absent entity
// means an empty result.
func (b *Board[T]) Around(id uuid.UUID, radius int) []T {
	if radius < 0 {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	rank, ok := b.rankLocked(id)
	if !ok {
		return nil
	}
	lo := rank - radius
	if lo < 1 {
		lo = 1
	}
	return b.rangeLocked(lo, rank+radius)
}

// Len returns the number of ranked entities.
func (b *Board[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID)
}

// Entries returns the full board in rank order.
func (b *Board[T]) Entries() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rangeLocked(1, len(b.byID))
}

// rangeLocked collects the entries at positions [lo, hi], both 1-based and
// clipped to the board size.
func (b *Board[T]) rangeLocked(lo, hi int) []T {
	total := nsize(b.root)
	if hi > total {
		hi = total
	}
	if lo < 1 {
		lo = 1
	}
	if lo > hi {
		return nil
	}
	out := make([]T, 0, hi-lo+1)
	collectRange(b.root, lo, hi, 0, &out)
	return out
}

// collectRange walks the subtree appending entries whose global positions
// fall inside [lo, hi]; offset is the number of entries ranked before this
// subtree.
func collectRange[T Item](n *node[T], lo, hi, offset int, out *[]T) {
	if n == nil {
		return
	}
	self := offset + nsize(n.left) + 1
	if lo < self {
		collectRange(n.left, lo, hi, offset, out)
	}
	if lo <= self && self <= hi {
		*out = append(*out, n.item)
	}
	if hi > self {
		collectRange(n.right, lo, hi, self, out)
	}
}

func (b *Board[T]) insert(n *node[T], item T, pos placement) *node[T] {
	if n == nil {
		return &node[T]{item: item, pos: pos, prio: b.rng.Uint64(), size: 1}
	}
	if pos.before(n.pos) {
		n.left = b.insert(n.left, item, pos)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = b.insert(n.right, item, pos)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func remove[T Item](n *node[T], pos placement) *node[T] {
	if n == nil {
		return nil
	}
	switch {
	case pos == n.pos:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = remove(n.right, pos)
		} else {
			n = rotateLeft(n)
			n.left = remove(n.left, pos)
		}
	case pos.before(n.pos):
		n.left = remove(n.left, pos)
	default:
		n.right = remove(n.right, pos)
	}
	fix(n)
	return n
}

// replaceItem swaps the stored value for an entry whose placement did not
// change, so non-key fields stay current without restructuring.
func replaceItem[T Item](n *node[T], pos placement, item T) *node[T] {
	cur := n
	for cur != nil {
		switch {
		case pos == cur.pos:
			cur.item = item
			return n
		case pos.before(cur.pos):
			cur = cur.left
		default:
			cur = cur.right
		}
	}
	return n
}
