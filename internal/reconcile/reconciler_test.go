package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resonate-gg/resonate/internal/adapters/repository"
	"github.com/resonate-gg/resonate/internal/domain/judgment"
	"github.com/resonate-gg/resonate/internal/domain/model"
	"github.com/resonate-gg/resonate/internal/domain/votes"
	"github.com/resonate-gg/resonate/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// In-memory fakes. Listings are sorted by id so paging is stable.

type fakeRecords struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]model.ScoredRecord
	listErr error
	gate    chan struct{} // when set, List blocks until closed
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{byID: make(map[uuid.UUID]model.ScoredRecord)}
}

func (f *fakeRecords) put(rec model.ScoredRecord) { f.byID[rec.ID] = rec }

func (f *fakeRecords) sorted() []model.ScoredRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.ScoredRecord, 0, len(f.byID))
	for _, rec := range f.byID {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func (f *fakeRecords) ByChart(_ context.Context, chartID uuid.UUID) ([]model.ScoredRecord, error) {
	var out []model.ScoredRecord
	for _, rec := range f.sorted() {
		if rec.ChartID == chartID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeRecords) ByOwner(_ context.Context, ownerID uuid.UUID) ([]model.ScoredRecord, error) {
	var out []model.ScoredRecord
	for _, rec := range f.sorted() {
		if rec.OwnerID == ownerID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeRecords) ByID(_ context.Context, id uuid.UUID) (model.ScoredRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.byID[id]
	if !ok {
		return model.ScoredRecord{}, repository.ErrNotFound
	}
	return rec, nil
}

func (f *fakeRecords) List(_ context.Context, offset, limit int) ([]model.ScoredRecord, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	all := f.sorted()
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (f *fakeRecords) CountByChart(_ context.Context, chartID uuid.UUID) (int, error) {
	n := 0
	for _, rec := range f.sorted() {
		if rec.ChartID == chartID {
			n++
		}
	}
	return n, nil
}

func (f *fakeRecords) Upsert(_ context.Context, rec model.ScoredRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[rec.ID] = rec
	return nil
}

func (f *fakeRecords) UpdateDerived(_ context.Context, rec model.ScoredRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[rec.ID]; !ok {
		return repository.ErrNotFound
	}
	f.byID[rec.ID] = rec
	return nil
}

func (f *fakeRecords) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.byID, id)
	return nil
}

type fakeUsers struct {
	mu   sync.Mutex
	byID map[uuid.UUID]model.User
}

func newFakeUsers() *fakeUsers { return &fakeUsers{byID: make(map[uuid.UUID]model.User)} }

func (f *fakeUsers) put(u model.User) { f.byID[u.ID] = u }

func (f *fakeUsers) List(_ context.Context, offset, limit int) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.User, 0, len(f.byID))
	for _, u := range f.byID {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if offset >= len(out) {
		return nil, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (f *fakeUsers) UpdateDerived(_ context.Context, u model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[u.ID] = u
	return nil
}

type fakeCharts struct {
	mu   sync.Mutex
	byID map[uuid.UUID]model.Chart
}

func newFakeCharts() *fakeCharts { return &fakeCharts{byID: make(map[uuid.UUID]model.Chart)} }

func (f *fakeCharts) put(c model.Chart) { f.byID[c.ID] = c }

func (f *fakeCharts) ByID(_ context.Context, id uuid.UUID) (model.Chart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok {
		return model.Chart{}, repository.ErrNotFound
	}
	return c, nil
}

func (f *fakeCharts) List(_ context.Context, offset, limit int) ([]model.Chart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Chart, 0, len(f.byID))
	for _, c := range f.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if offset >= len(out) {
		return nil, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (f *fakeCharts) UpdateDerived(_ context.Context, c model.Chart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[c.ID] = c
	return nil
}

type fakeVotes struct {
	byChart map[uuid.UUID][]votes.Vote
}

func newFakeVotes() *fakeVotes { return &fakeVotes{byChart: make(map[uuid.UUID][]votes.Vote)} }

func (f *fakeVotes) ByChart(_ context.Context, chartID uuid.UUID) ([]votes.Vote, error) {
	return f.byChart[chartID], nil
}

func (f *fakeVotes) Upsert(_ context.Context, v votes.Vote) error {
	vs := f.byChart[v.ChartID]
	for i := range vs {
		if vs[i].VoterID == v.VoterID {
			vs[i] = v
			return nil
		}
	}
	f.byChart[v.ChartID] = append(vs, v)
	return nil
}

func (f *fakeVotes) Delete(_ context.Context, chartID, voterID uuid.UUID) error {
	vs := f.byChart[chartID]
	for i := range vs {
		if vs[i].VoterID == voterID {
			f.byChart[chartID] = append(vs[:i], vs[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

type fakeSocial struct {
	mu     sync.Mutex
	byKind map[model.EntityKind][]model.SocialEntity
}

func newFakeSocial() *fakeSocial {
	return &fakeSocial{byKind: make(map[model.EntityKind][]model.SocialEntity)}
}

func (f *fakeSocial) put(e model.SocialEntity) {
	f.byKind[e.Kind] = append(f.byKind[e.Kind], e)
}

func (f *fakeSocial) List(_ context.Context, kind model.EntityKind, offset, limit int) ([]model.SocialEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.byKind[kind]
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (f *fakeSocial) UpdateCounts(_ context.Context, e model.SocialEntity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, cur := range f.byKind[e.Kind] {
		if cur.ID == e.ID {
			f.byKind[e.Kind][i] = e
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeSocial) get(kind model.EntityKind, id uuid.UUID) (model.SocialEntity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.byKind[kind] {
		if e.ID == id {
			return e, true
		}
	}
	return model.SocialEntity{}, false
}

type edgeKey struct {
	kind model.EntityKind
	id   uuid.UUID
}

type fakeEdges struct {
	followers map[uuid.UUID]int
	followees map[uuid.UUID]int
	likes     map[edgeKey]int
	replies   map[uuid.UUID]int
}

func newFakeEdges() *fakeEdges {
	return &fakeEdges{
		followers: make(map[uuid.UUID]int),
		followees: make(map[uuid.UUID]int),
		likes:     make(map[edgeKey]int),
		replies:   make(map[uuid.UUID]int),
	}
}

func (f *fakeEdges) FollowerCount(_ context.Context, userID uuid.UUID) (int, error) {
	return f.followers[userID], nil
}

func (f *fakeEdges) FolloweeCount(_ context.Context, userID uuid.UUID) (int, error) {
	return f.followees[userID], nil
}

func (f *fakeEdges) LikeCount(_ context.Context, kind model.EntityKind, id uuid.UUID) (int, error) {
	return f.likes[edgeKey{kind, id}], nil
}

func (f *fakeEdges) ReplyCount(_ context.Context, commentID uuid.UUID) (int, error) {
	return f.replies[commentID], nil
}

// fixture bundles the fakes behind a Stores value.
type fixture struct {
	records *fakeRecords
	users   *fakeUsers
	charts  *fakeCharts
	votes   *fakeVotes
	social  *fakeSocial
	edges   *fakeEdges
}

func newFixture() *fixture {
	return &fixture{
		records: newFakeRecords(),
		users:   newFakeUsers(),
		charts:  newFakeCharts(),
		votes:   newFakeVotes(),
		social:  newFakeSocial(),
		edges:   newFakeEdges(),
	}
}

func (fx *fixture) stores() Stores {
	return Stores{
		Records: fx.records,
		Users:   fx.users,
		Charts:  fx.charts,
		Votes:   fx.votes,
		Social:  fx.social,
		Edges:   fx.edges,
	}
}

// goodRecord builds a consistent record for the given chart: derived fields
// already match what the calculators produce.
func goodRecord(t *testing.T, chart model.Chart, tally judgment.Tally) model.ScoredRecord {
	t.Helper()

	score, err := judgment.Score(tally)
	require.NoError(t, err)
	acc, err := judgment.Accuracy(tally)
	require.NoError(t, err)
	rks, err := judgment.RecordRks(tally, chart.Difficulty, tally.StdDeviation, judgment.DefaultPerfectMs, judgment.DefaultGoodMs)
	require.NoError(t, err)

	return model.ScoredRecord{
		ID:              uuid.New(),
		OwnerID:         uuid.New(),
		ChartID:         chart.ID,
		Perfect:         tally.Perfect,
		GoodEarly:       tally.GoodEarly,
		GoodLate:        tally.GoodLate,
		Bad:             tally.Bad,
		Miss:            tally.Miss,
		MaxCombo:        tally.MaxCombo,
		StdDeviation:    judgment.NormalizeStdDeviation(tally.StdDeviation, judgment.DefaultGoodMs),
		PerfectJudgment: judgment.DefaultPerfectMs,
		GoodJudgment:    judgment.DefaultGoodMs,
		Score:           score,
		Accuracy:        acc,
		Rks:             rks,
		ChartFileTime:   chart.FileUpdatedAt,
		AchievedAt:      time.Now(),
	}
}

func TestReconciler_CorrectsDriftedRecord(t *testing.T) {
	fx := newFixture()
	chart := model.Chart{ID: uuid.New(), Difficulty: 13.0, Ranked: true, FileUpdatedAt: time.Now()}
	fx.charts.put(chart)

	rec := goodRecord(t, chart, judgment.Tally{Perfect: 95, GoodEarly: 5, MaxCombo: 100, StdDeviation: 30})
	wantScore, wantRks := rec.Score, rec.Rks

	// Simulate a stale cache: wrong score and rks on the persisted row.
	rec.Score = 123
	rec.Rks = 0.5
	fx.records.put(rec)

	rc := New(fx.stores())
	sum, err := rc.Run(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sum.Corrections, 2)

	fixed, err := fx.records.ByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, wantScore, fixed.Score)
	assert.InDelta(t, wantRks, fixed.Rks, DriftEpsilon)

	// A second cycle over corrected data is a fixed point.
	sum, err = rc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Corrections)
}

func TestReconciler_MarksOutdatedRecords(t *testing.T) {
	fx := newFixture()
	chart := model.Chart{ID: uuid.New(), Difficulty: 10.0, FileUpdatedAt: time.Now()}
	fx.charts.put(chart)

	rec := goodRecord(t, chart, judgment.Tally{Perfect: 100, MaxCombo: 100, StdDeviation: 25})
	// The chart file was replaced after this record was achieved.
	rec.ChartFileTime = chart.FileUpdatedAt.Add(-time.Hour)
	fx.records.put(rec)

	rc := New(fx.stores())
	_, err := rc.Run(context.Background())
	require.NoError(t, err)

	fixed, err := fx.records.ByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.True(t, fixed.Outdated)
}

func TestReconciler_UserDerivedFields(t *testing.T) {
	fx := newFixture()
	chart := model.Chart{ID: uuid.New(), Difficulty: 12.0, Ranked: true, FileUpdatedAt: time.Now()}
	fx.charts.put(chart)

	user := model.User{ID: uuid.New(), FollowerCount: 99, FolloweeCount: 99, Rks: 99}
	fx.users.put(user)
	fx.edges.followers[user.ID] = 3
	fx.edges.followees[user.ID] = 7

	rec := goodRecord(t, chart, judgment.Tally{Perfect: 100, MaxCombo: 100, StdDeviation: 20})
	rec.OwnerID = user.ID
	fx.records.put(rec)

	rc := New(fx.stores())
	_, err := rc.Run(context.Background())
	require.NoError(t, err)

	fixed := fx.users.byID[user.ID]
	assert.Equal(t, 3, fixed.FollowerCount)
	assert.Equal(t, 7, fixed.FolloweeCount)

	// One full-score full-combo record on a ranked chart fills one phi slot
	// and one personal-best slot.
	want := (rec.Rks + rec.Rks) / float64(rksSlots)
	assert.InDelta(t, want, fixed.Rks, DriftEpsilon)
}

func TestReconciler_ChartDerivedFields(t *testing.T) {
	fx := newFixture()
	chart := model.Chart{ID: uuid.New(), Difficulty: 11.0, FileUpdatedAt: time.Now(), PlayCount: 42, LikeCount: 42}
	fx.charts.put(chart)

	rec := goodRecord(t, chart, judgment.Tally{Perfect: 90, GoodLate: 10, MaxCombo: 100, StdDeviation: 35})
	fx.records.put(rec)
	fx.edges.likes[edgeKey{model.KindChart, chart.ID}] = 5

	for i := 0; i < 20; i++ {
		require.NoError(t, fx.votes.Upsert(context.Background(), votes.Vote{
			ChartID:    chart.ID,
			VoterID:    uuid.New(),
			Aspects:    [6]float64{4, 4, 4, 4, 4, 4},
			Multiplier: 1,
		}))
	}

	rc := New(fx.stores())
	_, err := rc.Run(context.Background())
	require.NoError(t, err)

	fixed := fx.charts.byID[chart.ID]
	assert.Equal(t, 1, fixed.PlayCount)
	assert.Equal(t, 5, fixed.LikeCount)

	want := votes.AggregateChart(fx.votes.byChart[chart.ID])
	assert.InDelta(t, want.Rating, fixed.Rating.Rating, DriftEpsilon)
	assert.InDelta(t, want.Score, fixed.Rating.Score, DriftEpsilon)
}

func TestReconciler_SocialCounters(t *testing.T) {
	fx := newFixture()

	comment := model.SocialEntity{Kind: model.KindComment, ID: uuid.New(), LikeCount: 10, ReplyCount: 10}
	collection := model.SocialEntity{Kind: model.KindCollection, ID: uuid.New(), LikeCount: 0}
	fx.social.put(comment)
	fx.social.put(collection)

	fx.edges.likes[edgeKey{model.KindComment, comment.ID}] = 4
	fx.edges.replies[comment.ID] = 2
	fx.edges.likes[edgeKey{model.KindCollection, collection.ID}] = 8

	rc := New(fx.stores())
	_, err := rc.Run(context.Background())
	require.NoError(t, err)

	got, ok := fx.social.get(model.KindComment, comment.ID)
	require.True(t, ok)
	assert.Equal(t, 4, got.LikeCount)
	assert.Equal(t, 2, got.ReplyCount)

	got, ok = fx.social.get(model.KindCollection, collection.ID)
	require.True(t, ok)
	assert.Equal(t, 8, got.LikeCount)
}

func TestReconciler_NotReentrant(t *testing.T) {
	fx := newFixture()
	chart := model.Chart{ID: uuid.New(), Difficulty: 9.0, FileUpdatedAt: time.Now()}
	fx.charts.put(chart)
	fx.records.gate = make(chan struct{})

	rc := New(fx.stores())

	done := make(chan error, 1)
	go func() {
		_, err := rc.Run(context.Background())
		done <- err
	}()

	// Wait until the first cycle is inside the record listing.
	time.Sleep(20 * time.Millisecond)
	_, err := rc.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(fx.records.gate)
	require.NoError(t, <-done)

	// Once the first cycle finishes, a new one is admitted.
	_, err = rc.Run(context.Background())
	assert.NoError(t, err)
}

func TestReconciler_BatchIsolation(t *testing.T) {
	fx := newFixture()
	chart := model.Chart{ID: uuid.New(), Difficulty: 9.0, FileUpdatedAt: time.Now()}
	fx.charts.put(chart)

	// The record batch fails outright; the user batch must still run.
	fx.records.listErr = errors.New("relation records does not exist")

	user := model.User{ID: uuid.New(), FollowerCount: 5}
	fx.users.put(user)
	fx.edges.followers[user.ID] = 1

	rc := New(fx.stores())
	sum, err := rc.Run(context.Background())
	require.NoError(t, err, "a failed batch must not fail the cycle")
	assert.Greater(t, sum.Corrections, 0)

	assert.Equal(t, 1, fx.users.byID[user.ID].FollowerCount)
}

func TestReconciler_CanceledBetweenBatches(t *testing.T) {
	fx := newFixture()
	rc := New(fx.stores())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rc.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReconciler_Housekeeping(t *testing.T) {
	fx := newFixture()
	tempDir := t.TempDir()

	stale := filepath.Join(tempDir, "upload-stale")
	fresh := filepath.Join(tempDir, "upload-fresh")
	require.NoError(t, os.Mkdir(stale, 0o755))
	require.NoError(t, os.Mkdir(fresh, 0o755))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	rc := New(fx.stores(), WithTempDir(tempDir, 24*time.Hour))
	sum, err := rc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Purged)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale directory should be purged")
	_, err = os.Stat(fresh)
	assert.NoError(t, err, "fresh directory should survive")
}

func TestOverallRating(t *testing.T) {
	ranked := model.Chart{ID: uuid.New(), Difficulty: 14.0, Ranked: true}
	unranked := model.Chart{ID: uuid.New(), Difficulty: 15.0, Ranked: false}
	charts := map[uuid.UUID]model.Chart{ranked.ID: ranked, unranked.ID: unranked}

	now := time.Now()
	phi := model.ScoredRecord{
		ID: uuid.New(), ChartID: ranked.ID,
		Perfect: 100, MaxCombo: 100,
		Score: judgment.MaxScore, Rks: 14.0, AchievedAt: now,
	}
	// Full score on an unranked chart earns a best slot but never a phi slot.
	unrankedPhi := model.ScoredRecord{
		ID: uuid.New(), ChartID: unranked.ID,
		Perfect: 100, MaxCombo: 100,
		Score: judgment.MaxScore, Rks: 15.0, AchievedAt: now,
	}

	got := OverallRating([]model.ScoredRecord{phi, unrankedPhi}, charts)
	want := (phi.Rks + phi.Rks + unrankedPhi.Rks) / float64(rksSlots)
	assert.InDelta(t, want, got, 1e-12)

	assert.Zero(t, OverallRating(nil, charts))
}
