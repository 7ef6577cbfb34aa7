// Package repository defines the persistence collaborator interfaces the
// engine depends on. Implementations live in subpackages; tests use
// in-memory fakes.
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/resonate-gg/resonate/internal/domain/model"
	"github.com/resonate-gg/resonate/internal/domain/votes"
)

// RecordStore provides access to gameplay records.
type RecordStore interface {
	// ByChart returns every current record for a chart, for leaderboard
	// population.
	ByChart(ctx context.Context, chartID uuid.UUID) ([]model.ScoredRecord, error)
	// ByOwner returns every record a user holds, across charts.
	ByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.ScoredRecord, error)
	// ByID returns one record. ErrNotFound when absent.
	ByID(ctx context.Context, id uuid.UUID) (model.ScoredRecord, error)
	// List pages through all records in a stable order for batch sweeps.
	List(ctx context.Context, offset, limit int) ([]model.ScoredRecord, error)
	// CountByChart returns the number of records on a chart.
	CountByChart(ctx context.Context, chartID uuid.UUID) (int, error)
	// Upsert creates or replaces a record.
	Upsert(ctx context.Context, rec model.ScoredRecord) error
	// UpdateDerived writes back only the derived fields of a record.
	UpdateDerived(ctx context.Context, rec model.ScoredRecord) error
	// Delete removes a record. ErrNotFound when absent.
	Delete(ctx context.Context, id uuid.UUID) error
}

// TeamStore provides access to event-competition teams. Team like counts
// are reconciled through the SocialStore along with the other social
// entities.
type TeamStore interface {
	ByDivision(ctx context.Context, divisionID uuid.UUID) ([]model.EventTeam, error)
	// UpdateStanding persists a team's current standing metric.
	UpdateStanding(ctx context.Context, team model.EventTeam) error
}

// VoteStore provides access to the live community votes of charts.
type VoteStore interface {
	ByChart(ctx context.Context, chartID uuid.UUID) ([]votes.Vote, error)
	// Upsert keeps at most one live vote per (voter, chart).
	Upsert(ctx context.Context, v votes.Vote) error
	// Delete removes a voter's live vote. ErrNotFound when absent.
	Delete(ctx context.Context, chartID, voterID uuid.UUID) error
}

// ChartStore provides access to charts and their derived fields.
type ChartStore interface {
	ByID(ctx context.Context, id uuid.UUID) (model.Chart, error)
	List(ctx context.Context, offset, limit int) ([]model.Chart, error)
	UpdateDerived(ctx context.Context, chart model.Chart) error
}

// UserStore provides access to users' derived fields.
type UserStore interface {
	List(ctx context.Context, offset, limit int) ([]model.User, error)
	UpdateDerived(ctx context.Context, user model.User) error
}

// SocialStore provides the counter projections of social entities.
type SocialStore interface {
	List(ctx context.Context, kind model.EntityKind, offset, limit int) ([]model.SocialEntity, error)
	UpdateCounts(ctx context.Context, e model.SocialEntity) error
}

// EdgeStore counts relationship edges, the primary data behind every
// derived counter.
type EdgeStore interface {
	FollowerCount(ctx context.Context, userID uuid.UUID) (int, error)
	FolloweeCount(ctx context.Context, userID uuid.UUID) (int, error)
	LikeCount(ctx context.Context, kind model.EntityKind, id uuid.UUID) (int, error)
	ReplyCount(ctx context.Context, commentID uuid.UUID) (int, error)
}
