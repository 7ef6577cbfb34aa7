package leaderboard

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// testItem is a minimal ranked entity for board tests.
type testItem struct {
	id   uuid.UUID
	key  float64
	when time.Time
}

func (i testItem) RankID() uuid.UUID   { return i.id }
func (i testItem) RankKey() float64    { return i.key }
func (i testItem) RankTime() time.Time { return i.when }

func newTestItem(key float64, when time.Time) testItem {
	return testItem{id: uuid.New(), key: key, when: when}
}

func TestBoard_BasicOperations(t *testing.T) {
	board := NewBoard[testItem]()

	if board.Len() != 0 {
		t.Errorf("expected empty board, got len %d", board.Len())
	}

	item := newTestItem(920_000, time.Now())
	if !board.Add(item) {
		t.Error("expected first add to report a structural change")
	}
	if board.Len() != 1 {
		t.Errorf("expected len 1, got %d", board.Len())
	}

	rank, ok := board.Rank(item.id)
	if !ok {
		t.Fatal("expected item to be ranked")
	}
	if rank != 1 {
		t.Errorf("expected rank 1, got %d", rank)
	}

	top := board.Top(10)
	if len(top) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(top))
	}
	if top[0].id != item.id {
		t.Errorf("expected %s at the top, got %s", item.id, top[0].id)
	}
}

func TestBoard_Ordering(t *testing.T) {
	board := NewBoard[testItem]()
	base := time.Now()

	low := newTestItem(700_000, base)
	mid := newTestItem(850_000, base)
	high := newTestItem(990_000, base)

	// Insertion order must not matter.
	board.Add(mid)
	board.Add(high)
	board.Add(low)

	entries := board.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	want := []uuid.UUID{high.id, mid.id, low.id}
	for i, w := range want {
		if entries[i].id != w {
			t.Errorf("position %d: expected %s, got %s", i+1, w, entries[i].id)
		}
	}
}

func TestBoard_TieBreaks(t *testing.T) {
	board := NewBoard[testItem]()
	base := time.Now()

	early := newTestItem(900_000, base)
	late := newTestItem(900_000, base.Add(time.Minute))

	board.Add(late)
	board.Add(early)

	entries := board.Entries()
	if entries[0].id != early.id {
		t.Error("expected the earlier entry to rank first on a key tie")
	}

	// Same key and time: the id decides, so placement stays deterministic.
	twinA := testItem{id: uuid.MustParse("00000000-0000-0000-0000-000000000001"), key: 800_000, when: base}
	twinB := testItem{id: uuid.MustParse("00000000-0000-0000-0000-000000000002"), key: 800_000, when: base}
	board.Add(twinB)
	board.Add(twinA)

	entries = board.Entries()
	if entries[2].id != twinA.id || entries[3].id != twinB.id {
		t.Error("expected full-tie entries ordered by id")
	}
}

func TestBoard_Reposition(t *testing.T) {
	board := NewBoard[testItem]()
	base := time.Now()

	a := newTestItem(600_000, base)
	b := newTestItem(800_000, base)
	board.Add(a)
	board.Add(b)

	// Re-adding with an identical placement is a no-op.
	if board.Add(a) {
		t.Error("expected identical re-add to report no structural change")
	}
	if board.Len() != 2 {
		t.Errorf("expected len 2 after re-add, got %d", board.Len())
	}

	// An improved key repositions the same entity, never duplicates it.
	a.key = 900_000
	if !board.Add(a) {
		t.Error("expected improved re-add to report a structural change")
	}
	if board.Len() != 2 {
		t.Errorf("expected len 2 after reposition, got %d", board.Len())
	}
	if rank, _ := board.Rank(a.id); rank != 1 {
		t.Errorf("expected repositioned entry at rank 1, got %d", rank)
	}
}

func TestBoard_Remove(t *testing.T) {
	board := NewBoard[testItem]()
	item := newTestItem(500_000, time.Now())
	board.Add(item)

	if !board.Remove(item.id) {
		t.Error("expected removal of a present entry to succeed")
	}
	if board.Remove(item.id) {
		t.Error("expected removal of an absent entry to fail")
	}
	if _, ok := board.Rank(item.id); ok {
		t.Error("expected removed entry to be unranked")
	}
	if board.Len() != 0 {
		t.Errorf("expected empty board, got len %d", board.Len())
	}
}

func TestBoard_Around(t *testing.T) {
	board := NewBoard[testItem]()
	base := time.Now()

	items := make([]testItem, 0, 10)
	for i := 0; i < 10; i++ {
		item := newTestItem(float64(1_000_000-i*10_000), base)
		items = append(items, item)
		board.Add(item)
	}

	// Middle of the board: full window on both sides.
	got := board.Around(items[5].id, 2)
	if len(got) != 5 {
		t.Fatalf("expected 5 neighbors, got %d", len(got))
	}
	for i, want := range items[3:8] {
		if got[i].id != want.id {
			t.Errorf("neighbor %d: expected %s, got %s", i, want.id, got[i].id)
		}
	}

	// Near the top edge: the window clips, it never wraps.
	got = board.Around(items[0].id, 3)
	if len(got) != 4 {
		t.Errorf("expected 4 entries at the top edge, got %d", len(got))
	}

	// Near the bottom edge.
	got = board.Around(items[9].id, 3)
	if len(got) != 4 {
		t.Errorf("expected 4 entries at the bottom edge, got %d", len(got))
	}

	// Radius zero is just the entity itself.
	got = board.Around(items[4].id, 0)
	if len(got) != 1 || got[0].id != items[4].id {
		t.Error("expected radius 0 to return exactly the queried entry")
	}

	// Absent entity yields nothing.
	if got := board.Around(uuid.New(), 2); len(got) != 0 {
		t.Errorf("expected empty neighborhood for absent entry, got %d", len(got))
	}
}

func TestBoard_TopSmallerThanN(t *testing.T) {
	board := NewBoard[testItem]()
	base := time.Now()
	for i := 0; i < 5; i++ {
		board.Add(newTestItem(float64(i*1000), base))
	}

	if got := board.Top(10); len(got) != 5 {
		t.Errorf("expected all 5 entries, got %d", len(got))
	}
	if got := board.Top(0); got != nil {
		t.Errorf("expected nil for non-positive n, got %d entries", len(got))
	}
}

func TestBoard_RankConsistency(t *testing.T) {
	board := NewBoard[testItem]()
	base := time.Now()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		board.Add(newTestItem(rng.Float64()*1_000_000, base.Add(time.Duration(rng.Intn(1000))*time.Second)))
	}

	entries := board.Entries()
	if len(entries) != 500 {
		t.Fatalf("expected 500 entries, got %d", len(entries))
	}
	for i, e := range entries {
		rank, ok := board.Rank(e.id)
		if !ok {
			t.Fatalf("entry %s missing from rank index", e.id)
		}
		if rank != i+1 {
			t.Errorf("entry at position %d reports rank %d", i+1, rank)
		}
	}

	// Every adjacent pair must satisfy the ordering invariant.
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		if placementOf(cur).before(placementOf(prev)) {
			t.Errorf("ordering violated between positions %d and %d", i, i+1)
		}
	}
}

func TestBoard_ConcurrentAccess(t *testing.T) {
	board := NewBoard[testItem]()
	base := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				item := newTestItem(rng.Float64()*1_000_000, base)
				board.Add(item)
				board.Top(10)
				board.Rank(item.id)
				board.Around(item.id, 2)
			}
		}(int64(w))
	}
	wg.Wait()

	if board.Len() != 8*200 {
		t.Errorf("expected %d entries, got %d", 8*200, board.Len())
	}
}
