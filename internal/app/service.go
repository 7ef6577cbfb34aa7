// Package app provides the engine's service surface: the submission and
// vote write paths and the standings read path.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/resonate-gg/resonate/internal/adapters/repository"
	"github.com/resonate-gg/resonate/internal/domain/judgment"
	"github.com/resonate-gg/resonate/internal/domain/model"
	"github.com/resonate-gg/resonate/internal/domain/votes"
	"github.com/resonate-gg/resonate/internal/leaderboard"
	"github.com/resonate-gg/resonate/pkg/logger"
	"github.com/resonate-gg/resonate/pkg/metrics"
)

// Bounds of the external standings request contract. The boards themselves
// are bound-agnostic; the service clamps before querying.
const (
	MaxTopRange     = 1000
	DefaultTopRange = 10

	MaxAroundRange     = 50
	DefaultAroundRange = 1
)

// Submission is the validated write-path input for one gameplay result.
type Submission struct {
	RecordID uuid.UUID // zero means a fresh record
	OwnerID  uuid.UUID `validate:"required"`
	ChartID  uuid.UUID `validate:"required"`

	Perfect      int     `validate:"min=0"`
	GoodEarly    int     `validate:"min=0"`
	GoodLate     int     `validate:"min=0"`
	Bad          int     `validate:"min=0"`
	Miss         int     `validate:"min=0"`
	MaxCombo     int     `validate:"min=0"`
	StdDeviation float64 `validate:"min=0"`

	// Zero windows fall back to the 80/160 defaults.
	PerfectJudgment int `validate:"min=0,max=500"`
	GoodJudgment    int `validate:"min=0,max=800"`

	AchievedAt time.Time
}

// Ballot is the validated input for one community vote on a chart.
type Ballot struct {
	ChartID    uuid.UUID  `validate:"required"`
	VoterID    uuid.UUID  `validate:"required"`
	Aspects    [6]float64 `validate:"dive,min=0,max=5"`
	Multiplier float64    `validate:"gt=0"`
}

// Standings is one answer to the paired top-range / neighborhood-range
// query of the read contract.
type Standings[T leaderboard.Item] struct {
	Top    []T
	Around []T
	Rank   int // 1-based rank of the queried entity, 0 when absent
	Total  int
}

// Service wires the calculators, the leaderboard registry and the
// persistence collaborators into the paths the rest of the platform calls.
type Service struct {
	registry *leaderboard.Registry

	records repository.RecordStore
	charts  repository.ChartStore
	votes   repository.VoteStore
	teams   repository.TeamStore

	validate *validator.Validate
	log      logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// Deps bundles the collaborators a Service needs.
type Deps struct {
	Registry *leaderboard.Registry
	Records  repository.RecordStore
	Charts   repository.ChartStore
	Votes    repository.VoteStore
	Teams    repository.TeamStore
}

// New constructs the service.
func New(deps Deps, opts ...Option) *Service {
	s := &Service{
		registry: deps.Registry,
		records:  deps.Records,
		charts:   deps.Charts,
		votes:    deps.Votes,
		teams:    deps.Teams,
		validate: validator.New(),
		log:      logger.Get().Named("app"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start verifies the service is fully wired. The engine is embedded by the
// platform gateway, so there is no listener of its own to open here.
func (s *Service) Start(ctx context.Context) error {
	switch {
	case s.registry == nil:
		return fmt.Errorf("%w: leaderboard registry", ErrMissingDependency)
	case s.records == nil:
		return fmt.Errorf("%w: record store", ErrMissingDependency)
	case s.charts == nil:
		return fmt.Errorf("%w: chart store", ErrMissingDependency)
	case s.votes == nil:
		return fmt.Errorf("%w: vote store", ErrMissingDependency)
	case s.teams == nil:
		return fmt.Errorf("%w: team store", ErrMissingDependency)
	}
	s.log.Info(ctx, "service started")
	return nil
}

// Stop releases nothing yet; boards are cache only and the stores are owned
// by the caller. Kept for lifecycle symmetry.
func (s *Service) Stop() {}

// SubmitRecord accepts a gameplay submission: derives score, accuracy and
// rks, persists the record, and places it on the chart leaderboard. Once it
// returns, standings queries for the chart observe the record.
func (s *Service) SubmitRecord(ctx context.Context, sub Submission) (model.ScoredRecord, error) {
	if err := s.validate.Struct(sub); err != nil {
		metrics.RecordSubmissionError()
		return model.ScoredRecord{}, fmt.Errorf("invalid submission: %w", err)
	}

	perfectMs, goodMs := sub.PerfectJudgment, sub.GoodJudgment
	if perfectMs == 0 {
		perfectMs = judgment.DefaultPerfectMs
	}
	if goodMs == 0 {
		goodMs = judgment.DefaultGoodMs
	}

	tally := judgment.Tally{
		Perfect:      sub.Perfect,
		GoodEarly:    sub.GoodEarly,
		GoodLate:     sub.GoodLate,
		Bad:          sub.Bad,
		Miss:         sub.Miss,
		MaxCombo:     sub.MaxCombo,
		StdDeviation: sub.StdDeviation,
	}

	chart, err := s.charts.ByID(ctx, sub.ChartID)
	if err != nil {
		metrics.RecordSubmissionError()
		return model.ScoredRecord{}, fmt.Errorf("loading chart %s: %w", sub.ChartID, err)
	}

	score, err := judgment.Score(tally)
	if err != nil {
		metrics.RecordSubmissionError()
		return model.ScoredRecord{}, fmt.Errorf("invalid tally: %w", err)
	}
	acc, err := judgment.Accuracy(tally)
	if err != nil {
		metrics.RecordSubmissionError()
		return model.ScoredRecord{}, fmt.Errorf("invalid tally: %w", err)
	}
	rks, err := judgment.RecordRks(tally, chart.Difficulty, sub.StdDeviation, perfectMs, goodMs)
	if err != nil {
		metrics.RecordSubmissionError()
		return model.ScoredRecord{}, fmt.Errorf("invalid tally: %w", err)
	}

	achievedAt := sub.AchievedAt
	if achievedAt.IsZero() {
		achievedAt = time.Now()
	}
	recordID := sub.RecordID
	if recordID == uuid.Nil {
		recordID = uuid.New()
	}

	rec := model.ScoredRecord{
		ID:              recordID,
		OwnerID:         sub.OwnerID,
		ChartID:         sub.ChartID,
		Perfect:         sub.Perfect,
		GoodEarly:       sub.GoodEarly,
		GoodLate:        sub.GoodLate,
		Bad:             sub.Bad,
		Miss:            sub.Miss,
		MaxCombo:        sub.MaxCombo,
		StdDeviation:    sub.StdDeviation,
		PerfectJudgment: perfectMs,
		GoodJudgment:    goodMs,
		Score:           score,
		Accuracy:        acc,
		Rks:             rks,
		ChartFileTime:   chart.FileUpdatedAt,
		AchievedAt:      achievedAt,
	}

	if err := s.records.Upsert(ctx, rec); err != nil {
		metrics.RecordSubmissionError()
		return model.ScoredRecord{}, fmt.Errorf("persisting record: %w", err)
	}
	if err := s.registry.AddRecord(ctx, rec); err != nil {
		// The record is durable; the board rebuild on next access will
		// pick it up.
		s.log.Warn(ctx, "record persisted but leaderboard update failed",
			logger.String("record", rec.ID.String()),
			logger.Error(err),
		)
	}

	metrics.RecordSubmission()
	s.log.Debug(ctx, "submission accepted",
		logger.String("record", rec.ID.String()),
		logger.String("chart", rec.ChartID.String()),
		logger.Int64("score", rec.Score),
		logger.Float64("rks", rec.Rks),
	)
	return rec, nil
}

// RemoveRecord deletes a record and drops it from its chart board.
func (s *Service) RemoveRecord(ctx context.Context, recordID uuid.UUID) error {
	rec, err := s.records.ByID(ctx, recordID)
	if err != nil {
		return fmt.Errorf("loading record %s: %w", recordID, err)
	}
	if err := s.records.Delete(ctx, recordID); err != nil {
		return fmt.Errorf("deleting record %s: %w", recordID, err)
	}
	s.registry.RemoveRecord(rec.ChartID, recordID)
	return nil
}

// ChartStandings serves the top-range / neighborhood-range query pair for a
// chart. selfID may be uuid.Nil when the caller holds no record there.
func (s *Service) ChartStandings(ctx context.Context, chartID, selfID uuid.UUID, topRange, aroundRange int) (Standings[model.ScoredRecord], error) {
	start := time.Now()
	defer func() { metrics.RecordQueryLatency("chart_standings", time.Since(start)) }()

	board, err := s.registry.ChartBoard(ctx, chartID)
	if err != nil {
		return Standings[model.ScoredRecord]{}, err
	}
	return standingsOf(board, selfID, topRange, aroundRange), nil
}

// DivisionStandings serves the same query pair for an event division.
func (s *Service) DivisionStandings(ctx context.Context, divisionID, teamID uuid.UUID, topRange, aroundRange int) (Standings[model.EventTeam], error) {
	start := time.Now()
	defer func() { metrics.RecordQueryLatency("division_standings", time.Since(start)) }()

	board, err := s.registry.DivisionBoard(ctx, divisionID)
	if err != nil {
		return Standings[model.EventTeam]{}, err
	}
	return standingsOf(board, teamID, topRange, aroundRange), nil
}

func standingsOf[T leaderboard.Item](board *leaderboard.Board[T], selfID uuid.UUID, topRange, aroundRange int) Standings[T] {
	topRange = clamp(topRange, 1, MaxTopRange, DefaultTopRange)
	aroundRange = clamp(aroundRange, 0, MaxAroundRange, DefaultAroundRange)

	out := Standings[T]{
		Top:   board.Top(topRange),
		Total: board.Len(),
	}
	if selfID != uuid.Nil {
		if rank, ok := board.Rank(selfID); ok {
			out.Rank = rank
			out.Around = board.Around(selfID, aroundRange)
		}
	}
	return out
}

// clamp maps an out-of-contract range onto [lo, hi]; non-positive top
// ranges and negative neighborhood ranges take the documented default.
func clamp(n, lo, hi, def int) int {
	if n < lo {
		return def
	}
	if n > hi {
		return hi
	}
	return n
}

// UpdateTeamStanding persists a team's new standing and repositions it on
// its division board.
func (s *Service) UpdateTeamStanding(ctx context.Context, team model.EventTeam) error {
	if team.Since.IsZero() {
		team.Since = time.Now()
	}
	if err := s.teams.UpdateStanding(ctx, team); err != nil {
		return fmt.Errorf("persisting team standing: %w", err)
	}
	if err := s.registry.AddTeam(ctx, team); err != nil {
		s.log.Warn(ctx, "team standing persisted but leaderboard update failed",
			logger.String("team", team.ID.String()),
			logger.Error(err),
		)
	}
	return nil
}

// RemoveTeam drops a team from its division board. Persistence of the
// removal itself belongs to the event module.
func (s *Service) RemoveTeam(divisionID, teamID uuid.UUID) {
	s.registry.RemoveTeam(divisionID, teamID)
}

// CastVote records or replaces one voter's evaluation of a chart and
// recomputes the chart's rating block immediately.
func (s *Service) CastVote(ctx context.Context, ballot Ballot) error {
	if err := s.validate.Struct(ballot); err != nil {
		return fmt.Errorf("invalid ballot: %w", err)
	}
	vote := votes.Vote{
		ChartID:    ballot.ChartID,
		VoterID:    ballot.VoterID,
		Aspects:    ballot.Aspects,
		Multiplier: ballot.Multiplier,
	}
	if err := vote.Validate(); err != nil {
		return fmt.Errorf("invalid ballot: %w", err)
	}
	if err := s.votes.Upsert(ctx, vote); err != nil {
		return fmt.Errorf("persisting vote: %w", err)
	}
	return s.refreshChartRating(ctx, ballot.ChartID)
}

// RetractVote removes a voter's live vote and recomputes the chart rating.
func (s *Service) RetractVote(ctx context.Context, chartID, voterID uuid.UUID) error {
	if err := s.votes.Delete(ctx, chartID, voterID); err != nil {
		return fmt.Errorf("deleting vote: %w", err)
	}
	return s.refreshChartRating(ctx, chartID)
}

// refreshChartRating re-derives a chart's rating block from its current
// vote set, the same computation the reconciler sweeps with.
func (s *Service) refreshChartRating(ctx context.Context, chartID uuid.UUID) error {
	vs, err := s.votes.ByChart(ctx, chartID)
	if err != nil {
		return fmt.Errorf("loading votes: %w", err)
	}
	chart, err := s.charts.ByID(ctx, chartID)
	if err != nil {
		return fmt.Errorf("loading chart: %w", err)
	}
	chart.Rating = votes.AggregateChart(vs)
	if err := s.charts.UpdateDerived(ctx, chart); err != nil {
		return fmt.Errorf("persisting chart rating: %w", err)
	}
	metrics.RecordVoteRecompute()
	return nil
}
