// Package reconcile implements the periodic job that re-derives every
// cached numeric field from primary data and corrects drift.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/resonate-gg/resonate/internal/adapters/repository"
	"github.com/resonate-gg/resonate/internal/domain/judgment"
	"github.com/resonate-gg/resonate/internal/domain/model"
	"github.com/resonate-gg/resonate/internal/domain/votes"
	"github.com/resonate-gg/resonate/pkg/logger"
	"github.com/resonate-gg/resonate/pkg/metrics"
)

// DriftEpsilon is the single tolerance used by every floating-point drift
// comparison in a cycle. Differences at or below it are not drift.
const DriftEpsilon = 1e-7

// Overall-rating composition: the top 3 full-score full-combo records on
// ranked charts plus the best 27 personal bests, averaged over 30 slots.
const (
	phiSlots  = 3
	bestSlots = 27
	rksSlots  = phiSlots + bestSlots
)

const (
	defaultBatchSize = 500
	defaultRetention = 24 * time.Hour
)

// Stores bundles the persistence collaborators a cycle walks. Handles are
// passed in explicitly; the reconciler captures no ambient state.
type Stores struct {
	Records repository.RecordStore
	Users   repository.UserStore
	Charts  repository.ChartStore
	Votes   repository.VoteStore
	Social  repository.SocialStore
	Edges   repository.EdgeStore
}

// Summary reports what one cycle did.
type Summary struct {
	Corrections int // fields written back
	Entities    int // entities examined
	Failures    int // entities skipped on per-entity errors
	Purged      int // stale temp directories removed
}

// Reconciler re-derives score, accuracy, rks, ratings and counters for all
// persisted entities and writes back only the fields that drifted. A cycle
// is not re-entrant; an overlapping Run is refused with ErrAlreadyRunning.
type Reconciler struct {
	stores Stores
	log    logger.Logger

	batchSize int
	tempDir   string
	retention time.Duration

	running atomic.Bool
}

// Option applies a configuration option to the Reconciler.
type Option func(*Reconciler)

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(r *Reconciler) {
		if log != nil {
			r.log = log
		}
	}
}

// WithBatchSize sets the page size for entity sweeps.
func WithBatchSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithTempDir enables housekeeping of stale submission-processing
// directories under dir, purging those older than retention.
func WithTempDir(dir string, retention time.Duration) Option {
	return func(r *Reconciler) {
		r.tempDir = dir
		if retention > 0 {
			r.retention = retention
		}
	}
}

// New constructs a Reconciler over the given stores.
func New(stores Stores, opts ...Option) *Reconciler {
	r := &Reconciler{
		stores:    stores,
		log:       logger.Get().Named("reconcile"),
		batchSize: defaultBatchSize,
		retention: defaultRetention,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one full cycle. Entity classes are independent batches: a
// failure inside one batch is logged and counted, never aborts the rest,
// and every corrected entity is persisted before the next one is examined.
// Cancellation is honored between batches, not mid-entity.
func (r *Reconciler) Run(ctx context.Context) (Summary, error) {
	if !r.running.CompareAndSwap(false, true) {
		return Summary{}, ErrAlreadyRunning
	}
	defer r.running.Store(false)

	start := time.Now()
	var total Summary

	charts, err := r.loadCharts(ctx)
	if err != nil {
		return total, fmt.Errorf("loading charts for reconciliation: %w", err)
	}

	batches := []struct {
		name string
		fn   func(context.Context, map[uuid.UUID]model.Chart) (Summary, error)
	}{
		{"records", r.reconcileRecords},
		{"users", r.reconcileUsers},
		{"charts", r.reconcileCharts},
		{"social", r.reconcileSocial},
		{"housekeeping", r.housekeep},
	}

	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return total, fmt.Errorf("reconciliation canceled before %s batch: %w", batch.name, err)
		}
		sum, err := batch.fn(ctx, charts)
		total.add(sum)
		if err != nil {
			// The batch could not finish; the others still run.
			r.log.Warn(ctx, "reconciliation batch failed",
				logger.String("batch", batch.name),
				logger.Error(err),
			)
			continue
		}
		r.log.Info(ctx, "reconciliation batch done",
			logger.String("batch", batch.name),
			logger.Int("entities", sum.Entities),
			logger.Int("corrections", sum.Corrections),
			logger.Int("failures", sum.Failures),
		)
	}

	r.log.Info(ctx, "reconciliation cycle done",
		logger.Int("entities", total.Entities),
		logger.Int("corrections", total.Corrections),
		logger.Int("failures", total.Failures),
		logger.Duration("elapsed", time.Since(start)),
	)
	return total, nil
}

// loadCharts pages the full chart set into memory; records and users both
// need difficulty and ranked flags.
func (r *Reconciler) loadCharts(ctx context.Context) (map[uuid.UUID]model.Chart, error) {
	out := make(map[uuid.UUID]model.Chart)
	for offset := 0; ; offset += r.batchSize {
		page, err := r.stores.Charts.List(ctx, offset, r.batchSize)
		if err != nil {
			return nil, err
		}
		for _, c := range page {
			out[c.ID] = c
		}
		if len(page) < r.batchSize {
			return out, nil
		}
	}
}

func (r *Reconciler) reconcileRecords(ctx context.Context, charts map[uuid.UUID]model.Chart) (Summary, error) {
	var sum Summary
	for offset := 0; ; offset += r.batchSize {
		page, err := r.stores.Records.List(ctx, offset, r.batchSize)
		if err != nil {
			return sum, fmt.Errorf("listing records at offset %d: %w", offset, err)
		}
		for _, rec := range page {
			sum.Entities++
			if err := r.reconcileRecord(ctx, rec, charts, &sum); err != nil {
				sum.Failures++
				r.log.Warn(ctx, "record reconciliation failed",
					logger.String("record", rec.ID.String()),
					logger.Error(err),
				)
			}
		}
		if len(page) < r.batchSize {
			return sum, nil
		}
	}
}

func (r *Reconciler) reconcileRecord(ctx context.Context, rec model.ScoredRecord, charts map[uuid.UUID]model.Chart, sum *Summary) error {
	chart, ok := charts[rec.ChartID]
	if !ok {
		return fmt.Errorf("record references unknown chart %s", rec.ChartID)
	}

	tally := tallyOf(rec)
	score, err := judgment.Score(tally)
	if err != nil {
		return fmt.Errorf("recomputing score: %w", err)
	}
	acc, err := judgment.Accuracy(tally)
	if err != nil {
		return fmt.Errorf("recomputing accuracy: %w", err)
	}
	rks, err := judgment.RecordRks(tally, chart.Difficulty, rec.StdDeviation, rec.PerfectJudgment, rec.GoodJudgment)
	if err != nil {
		return fmt.Errorf("recomputing rks: %w", err)
	}
	sigma := judgment.NormalizeStdDeviation(rec.StdDeviation, float64(rec.GoodJudgment))
	outdated := !rec.ChartFileTime.Equal(chart.FileUpdatedAt)

	fixed := rec
	fixed.Score = score
	fixed.Accuracy = acc
	fixed.Rks = rks
	fixed.StdDeviation = sigma
	fixed.Outdated = outdated

	dirty := false
	if score != rec.Score {
		r.correction(ctx, "record", rec.ID, "score", rec.Score, score, sum)
		dirty = true
	}
	if drifted(acc, rec.Accuracy) {
		r.correction(ctx, "record", rec.ID, "accuracy", rec.Accuracy, acc, sum)
		dirty = true
	}
	if drifted(rks, rec.Rks) {
		r.correction(ctx, "record", rec.ID, "rks", rec.Rks, rks, sum)
		dirty = true
	}
	if drifted(sigma, rec.StdDeviation) {
		r.correction(ctx, "record", rec.ID, "std_deviation", rec.StdDeviation, sigma, sum)
		dirty = true
	}
	if outdated != rec.Outdated {
		r.correction(ctx, "record", rec.ID, "outdated", rec.Outdated, outdated, sum)
		dirty = true
	}
	if !dirty {
		return nil
	}
	return r.stores.Records.UpdateDerived(ctx, fixed)
}

func (r *Reconciler) reconcileUsers(ctx context.Context, charts map[uuid.UUID]model.Chart) (Summary, error) {
	var sum Summary
	for offset := 0; ; offset += r.batchSize {
		page, err := r.stores.Users.List(ctx, offset, r.batchSize)
		if err != nil {
			return sum, fmt.Errorf("listing users at offset %d: %w", offset, err)
		}
		for _, user := range page {
			sum.Entities++
			if err := r.reconcileUser(ctx, user, charts, &sum); err != nil {
				sum.Failures++
				r.log.Warn(ctx, "user reconciliation failed",
					logger.String("user", user.ID.String()),
					logger.Error(err),
				)
			}
		}
		if len(page) < r.batchSize {
			return sum, nil
		}
	}
}

func (r *Reconciler) reconcileUser(ctx context.Context, user model.User, charts map[uuid.UUID]model.Chart, sum *Summary) error {
	followers, err := r.stores.Edges.FollowerCount(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("counting followers: %w", err)
	}
	followees, err := r.stores.Edges.FolloweeCount(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("counting followees: %w", err)
	}
	records, err := r.stores.Records.ByOwner(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("loading records: %w", err)
	}
	rks := OverallRating(records, charts)

	fixed := user
	fixed.FollowerCount = followers
	fixed.FolloweeCount = followees
	fixed.Rks = rks

	dirty := false
	if followers != user.FollowerCount {
		r.correction(ctx, "user", user.ID, "follower_count", user.FollowerCount, followers, sum)
		dirty = true
	}
	if followees != user.FolloweeCount {
		r.correction(ctx, "user", user.ID, "followee_count", user.FolloweeCount, followees, sum)
		dirty = true
	}
	if drifted(rks, user.Rks) {
		r.correction(ctx, "user", user.ID, "rks", user.Rks, rks, sum)
		dirty = true
	}
	if !dirty {
		return nil
	}
	return r.stores.Users.UpdateDerived(ctx, fixed)
}

// OverallRating computes a user's rating from their record set: the top
// phiSlots rks among full-score full-combo records on ranked charts, plus
// the bestSlots highest personal bests across all charts, averaged over
// rksSlots. Selection order is rks descending, then achievement time
// ascending, then record id, so repeated evaluation is deterministic.
func OverallRating(records []model.ScoredRecord, charts map[uuid.UUID]model.Chart) float64 {
	if len(records) == 0 {
		return 0
	}

	best := make(map[uuid.UUID]model.ScoredRecord, len(records))
	var phis []model.ScoredRecord
	for _, rec := range records {
		if cur, ok := best[rec.ChartID]; !ok || betterRks(rec, cur) {
			best[rec.ChartID] = rec
		}
		chart, ok := charts[rec.ChartID]
		if ok && chart.Ranked && rec.Score == judgment.MaxScore && rec.FullCombo() {
			phis = append(phis, rec)
		}
	}

	bests := make([]model.ScoredRecord, 0, len(best))
	for _, rec := range best {
		bests = append(bests, rec)
	}
	sortByRks(bests)
	sortByRks(phis)

	var total float64
	for i := 0; i < phiSlots && i < len(phis); i++ {
		total += phis[i].Rks
	}
	for i := 0; i < bestSlots && i < len(bests); i++ {
		total += bests[i].Rks
	}
	return total / rksSlots
}

func betterRks(a, b model.ScoredRecord) bool {
	if a.Rks != b.Rks {
		return a.Rks > b.Rks
	}
	if !a.AchievedAt.Equal(b.AchievedAt) {
		return a.AchievedAt.Before(b.AchievedAt)
	}
	return a.ID.String() < b.ID.String()
}

func sortByRks(recs []model.ScoredRecord) {
	sort.Slice(recs, func(i, j int) bool { return betterRks(recs[i], recs[j]) })
}

func (r *Reconciler) reconcileCharts(ctx context.Context, charts map[uuid.UUID]model.Chart) (Summary, error) {
	var sum Summary
	for _, chart := range sortedCharts(charts) {
		sum.Entities++
		if err := r.reconcileChart(ctx, chart, &sum); err != nil {
			sum.Failures++
			r.log.Warn(ctx, "chart reconciliation failed",
				logger.String("chart", chart.ID.String()),
				logger.Error(err),
			)
		}
	}
	return sum, nil
}

func (r *Reconciler) reconcileChart(ctx context.Context, chart model.Chart, sum *Summary) error {
	plays, err := r.stores.Records.CountByChart(ctx, chart.ID)
	if err != nil {
		return fmt.Errorf("counting plays: %w", err)
	}
	likes, err := r.stores.Edges.LikeCount(ctx, model.KindChart, chart.ID)
	if err != nil {
		return fmt.Errorf("counting likes: %w", err)
	}
	vs, err := r.stores.Votes.ByChart(ctx, chart.ID)
	if err != nil {
		return fmt.Errorf("loading votes: %w", err)
	}
	rating := votes.AggregateChart(vs)

	fixed := chart
	fixed.PlayCount = plays
	fixed.LikeCount = likes
	fixed.Rating = rating

	dirty := false
	if plays != chart.PlayCount {
		r.correction(ctx, "chart", chart.ID, "play_count", chart.PlayCount, plays, sum)
		dirty = true
	}
	if likes != chart.LikeCount {
		r.correction(ctx, "chart", chart.ID, "like_count", chart.LikeCount, likes, sum)
		dirty = true
	}
	if drifted(rating.Score, chart.Rating.Score) {
		r.correction(ctx, "chart", chart.ID, "vote_score", chart.Rating.Score, rating.Score, sum)
		dirty = true
	}
	if drifted(rating.Rating, chart.Rating.Rating) {
		r.correction(ctx, "chart", chart.ID, "rating", chart.Rating.Rating, rating.Rating, sum)
		dirty = true
	}
	for i := range rating.Aspects {
		if drifted(rating.Aspects[i], chart.Rating.Aspects[i]) {
			r.correction(ctx, "chart", chart.ID, fmt.Sprintf("rating_aspect_%d", i), chart.Rating.Aspects[i], rating.Aspects[i], sum)
			dirty = true
		}
	}
	if !dirty {
		return nil
	}
	return r.stores.Charts.UpdateDerived(ctx, fixed)
}

func sortedCharts(charts map[uuid.UUID]model.Chart) []model.Chart {
	out := make([]model.Chart, 0, len(charts))
	for _, c := range charts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func (r *Reconciler) reconcileSocial(ctx context.Context, _ map[uuid.UUID]model.Chart) (Summary, error) {
	var sum Summary
	for _, kind := range model.SocialKinds {
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("canceled before %s entities: %w", kind, err)
		}
		for offset := 0; ; offset += r.batchSize {
			page, err := r.stores.Social.List(ctx, kind, offset, r.batchSize)
			if err != nil {
				// Move on to the next entity class.
				sum.Failures++
				r.log.Warn(ctx, "listing social entities failed",
					logger.String("kind", string(kind)),
					logger.Error(err),
				)
				break
			}
			for _, e := range page {
				sum.Entities++
				if err := r.reconcileSocialEntity(ctx, e, &sum); err != nil {
					sum.Failures++
					r.log.Warn(ctx, "social entity reconciliation failed",
						logger.String("kind", string(e.Kind)),
						logger.String("id", e.ID.String()),
						logger.Error(err),
					)
				}
			}
			if len(page) < r.batchSize {
				break
			}
		}
	}
	return sum, nil
}

func (r *Reconciler) reconcileSocialEntity(ctx context.Context, e model.SocialEntity, sum *Summary) error {
	likes, err := r.stores.Edges.LikeCount(ctx, e.Kind, e.ID)
	if err != nil {
		return fmt.Errorf("counting likes: %w", err)
	}
	replies := e.ReplyCount
	if e.Kind == model.KindComment {
		replies, err = r.stores.Edges.ReplyCount(ctx, e.ID)
		if err != nil {
			return fmt.Errorf("counting replies: %w", err)
		}
	}

	fixed := e
	fixed.LikeCount = likes
	fixed.ReplyCount = replies

	dirty := false
	if likes != e.LikeCount {
		r.correction(ctx, string(e.Kind), e.ID, "like_count", e.LikeCount, likes, sum)
		dirty = true
	}
	if replies != e.ReplyCount {
		r.correction(ctx, string(e.Kind), e.ID, "reply_count", e.ReplyCount, replies, sum)
		dirty = true
	}
	if !dirty {
		return nil
	}
	return r.stores.Social.UpdateCounts(ctx, fixed)
}

// correction logs one field write-back with its old and new values.
func (r *Reconciler) correction(ctx context.Context, entity string, id uuid.UUID, field string, old, updated any, sum *Summary) {
	sum.Corrections++
	metrics.RecordCorrection(entity, field)
	r.log.Info(ctx, "corrected drift",
		logger.String("entity", entity),
		logger.String("id", id.String()),
		logger.String("field", field),
		logger.Any("old", old),
		logger.Any("new", updated),
	)
}

func (s *Summary) add(other Summary) {
	s.Corrections += other.Corrections
	s.Entities += other.Entities
	s.Failures += other.Failures
	s.Purged += other.Purged
}

func drifted(a, b float64) bool {
	return math.Abs(a-b) > DriftEpsilon
}

func tallyOf(rec model.ScoredRecord) judgment.Tally {
	return judgment.Tally{
		Perfect:      rec.Perfect,
		GoodEarly:    rec.GoodEarly,
		GoodLate:     rec.GoodLate,
		Bad:          rec.Bad,
		Miss:         rec.Miss,
		MaxCombo:     rec.MaxCombo,
		StdDeviation: rec.StdDeviation,
	}
}
