package leaderboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/resonate-gg/resonate/internal/domain/model"
	"github.com/resonate-gg/resonate/pkg/logger"
	"github.com/resonate-gg/resonate/pkg/metrics"
)

// Default registry configuration constants.
const (
	defaultMaxBoards = 256
	defaultBoardTTL  = 30 * time.Minute
)

// RecordSource loads the current records of one chart.
type RecordSource interface {
	RecordsByChart(ctx context.Context, chartID uuid.UUID) ([]model.ScoredRecord, error)
}

// TeamSource loads the current teams of one event division.
type TeamSource interface {
	TeamsByDivision(ctx context.Context, divisionID uuid.UUID) ([]model.EventTeam, error)
}

// Registry owns one record board per chart and one team board per event
// division. Boards are materialized lazily from the sources, bounded by a
// size cap and a TTL, and are a cache only: the authoritative data stays in
// persistence. A failed load surfaces to the caller and caches nothing.
type Registry struct {
	records RecordSource
	teams   TeamSource

	charts    *boardCache[model.ScoredRecord]
	divisions *boardCache[model.EventTeam]

	log logger.Logger
}

// Option applies a configuration option to the Registry.
type Option func(*Registry)

// WithMaxBoards caps how many boards of each kind stay resident.
func WithMaxBoards(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.charts.maxBoards = n
			r.divisions.maxBoards = n
		}
	}
}

// WithBoardTTL sets how long an untouched board stays resident.
func WithBoardTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.charts.ttl = ttl
			r.divisions.ttl = ttl
		}
	}
}

// WithLogger sets a custom logger for the registry.
func WithLogger(log logger.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRegistry constructs a registry over the given persistence sources.
func NewRegistry(records RecordSource, teams TeamSource, opts ...Option) *Registry {
	r := &Registry{
		records:   records,
		teams:     teams,
		charts:    newBoardCache[model.ScoredRecord]("chart"),
		divisions: newBoardCache[model.EventTeam]("division"),
		log:       logger.Get().Named("leaderboard"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ChartBoard returns the record board for a chart, building it from
// persistence on first access. Concurrent callers share one build.
func (r *Registry) ChartBoard(ctx context.Context, chartID uuid.UUID) (*Board[model.ScoredRecord], error) {
	return r.charts.obtain(ctx, chartID, func(ctx context.Context) ([]model.ScoredRecord, error) {
		return r.records.RecordsByChart(ctx, chartID)
	})
}

// DivisionBoard returns the team board for an event division.
func (r *Registry) DivisionBoard(ctx context.Context, divisionID uuid.UUID) (*Board[model.EventTeam], error) {
	return r.divisions.obtain(ctx, divisionID, func(ctx context.Context) ([]model.EventTeam, error) {
		return r.teams.TeamsByDivision(ctx, divisionID)
	})
}

// AddRecord places a record on its chart board, building the board first if
// it is not resident.
func (r *Registry) AddRecord(ctx context.Context, rec model.ScoredRecord) error {
	board, err := r.ChartBoard(ctx, rec.ChartID)
	if err != nil {
		return err
	}
	board.Add(rec)
	return nil
}

// RemoveRecord drops a record from its chart board if the board is resident.
func (r *Registry) RemoveRecord(chartID, recordID uuid.UUID) {
	r.charts.withResident(chartID, func(b *Board[model.ScoredRecord]) { b.Remove(recordID) })
}

// AddTeam places a team on its division board.
func (r *Registry) AddTeam(ctx context.Context, team model.EventTeam) error {
	board, err := r.DivisionBoard(ctx, team.DivisionID)
	if err != nil {
		return err
	}
	board.Add(team)
	return nil
}

// RemoveTeam drops a team from its division board if the board is resident.
func (r *Registry) RemoveTeam(divisionID, teamID uuid.UUID) {
	r.divisions.withResident(divisionID, func(b *Board[model.EventTeam]) { b.Remove(teamID) })
}

// InvalidateChart discards a resident chart board so the next access
// rebuilds it from persistence.
func (r *Registry) InvalidateChart(chartID uuid.UUID) {
	r.charts.invalidate(chartID)
}

// InvalidateDivision discards a resident division board.
func (r *Registry) InvalidateDivision(divisionID uuid.UUID) {
	r.divisions.invalidate(divisionID)
}

// ResidentBoards reports how many boards of each kind are in memory.
func (r *Registry) ResidentBoards() (charts, divisions int) {
	return r.charts.len(), r.divisions.len()
}

// cachedBoard pairs a board with its cache bookkeeping.
type cachedBoard[T Item] struct {
	board      *Board[T]
	builtAt    time.Time
	lastAccess time.Time
}

// boardCache is the bounded lazy cache shared by both board kinds. Reads of
// the instance map are concurrent; builds go through singleflight so one
// rebuild runs per key at a time.
type boardCache[T Item] struct {
	kind string // metrics/log label

	mu        sync.RWMutex
	entries   map[uuid.UUID]*cachedBoard[T]
	sf        singleflight.Group
	maxBoards int
	ttl       time.Duration
}

func newBoardCache[T Item](kind string) *boardCache[T] {
	return &boardCache[T]{
		kind:      kind,
		entries:   make(map[uuid.UUID]*cachedBoard[T]),
		maxBoards: defaultMaxBoards,
		ttl:       defaultBoardTTL,
	}
}

func (c *boardCache[T]) obtain(ctx context.Context, key uuid.UUID, load func(context.Context) ([]T, error)) (*Board[T], error) {
	if b, ok := c.lookup(key); ok {
		return b, nil
	}

	// The flight outlives the caller that started it: later callers piling
	// onto the same key must not inherit the first caller's cancelation.
	buildCtx := context.WithoutCancel(ctx)

	v, err, _ := c.sf.Do(key.String(), func() (any, error) {
		// Re-check inside singleflight: a concurrent caller may have
		// finished the build between our lookup and this closure.
		if b, ok := c.lookup(key); ok {
			return b, nil
		}

		start := time.Now()
		items, err := load(buildCtx)
		if err != nil {
			// Nothing is cached on failure; callers must not rank
			// against incomplete data.
			return nil, fmt.Errorf("building %s leaderboard %s: %w", c.kind, key, err)
		}

		board := NewBoard[T]()
		for _, item := range items {
			board.Add(item)
		}

		now := time.Now()
		c.mu.Lock()
		c.entries[key] = &cachedBoard[T]{board: board, builtAt: now, lastAccess: now}
		c.evictLocked()
		resident := len(c.entries)
		c.mu.Unlock()

		metrics.RecordBoardBuild(c.kind, time.Since(start), board.Len())
		metrics.UpdateResidentBoards(c.kind, resident)
		return board, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Board[T]), nil
}

// lookup returns a live cached board and refreshes its access time. Expired
// boards are treated as absent and dropped.
func (c *boardCache[T]) lookup(key uuid.UUID) (*Board[T], bool) {
	now := time.Now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok = c.entries[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && now.Sub(e.lastAccess) > c.ttl {
		delete(c.entries, key)
		metrics.RecordBoardEviction(c.kind, "ttl")
		return nil, false
	}
	e.lastAccess = now
	return e.board, true
}

func (c *boardCache[T]) withResident(key uuid.UUID, fn func(*Board[T])) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		fn(e.board)
	}
}

func (c *boardCache[T]) invalidate(key uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		metrics.RecordBoardEviction(c.kind, "invalidated")
	}
}

func (c *boardCache[T]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictLocked drops least-recently-used boards until the cache fits its cap.
func (c *boardCache[T]) evictLocked() {
	for len(c.entries) > c.maxBoards {
		var (
			oldestKey uuid.UUID
			oldest    time.Time
			found     bool
		)
		for key, e := range c.entries {
			if !found || e.lastAccess.Before(oldest) {
				oldestKey, oldest, found = key, e.lastAccess, true
			}
		}
		delete(c.entries, oldestKey)
		metrics.RecordBoardEviction(c.kind, "capacity")
	}
}
