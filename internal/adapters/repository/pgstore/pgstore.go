package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/resonate-gg/resonate/internal/adapters/repository"
	"github.com/resonate-gg/resonate/internal/domain/model"
	"github.com/resonate-gg/resonate/internal/domain/votes"
)

// Connect opens a bun handle over the Postgres DSN.
func Connect(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// Records implements repository.RecordStore.
type Records struct {
	DB *bun.DB
}

var _ repository.RecordStore = (*Records)(nil)

func (s *Records) ByChart(ctx context.Context, chartID uuid.UUID) ([]model.ScoredRecord, error) {
	var rows []recordRow
	err := s.DB.NewSelect().Model(&rows).
		Where("chart_id = ?", chartID).
		Order("achieved_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("records by chart: %w", err)
	}
	return recordsToModel(rows), nil
}

func (s *Records) ByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.ScoredRecord, error) {
	var rows []recordRow
	err := s.DB.NewSelect().Model(&rows).
		Where("owner_id = ?", ownerID).
		Order("achieved_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("records by owner: %w", err)
	}
	return recordsToModel(rows), nil
}

func (s *Records) ByID(ctx context.Context, id uuid.UUID) (model.ScoredRecord, error) {
	row := new(recordRow)
	err := s.DB.NewSelect().Model(row).Where("r.id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ScoredRecord{}, repository.ErrNotFound
		}
		return model.ScoredRecord{}, fmt.Errorf("record by id: %w", err)
	}
	return row.toModel(), nil
}

func (s *Records) List(ctx context.Context, offset, limit int) ([]model.ScoredRecord, error) {
	var rows []recordRow
	err := s.DB.NewSelect().Model(&rows).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return recordsToModel(rows), nil
}

func (s *Records) CountByChart(ctx context.Context, chartID uuid.UUID) (int, error) {
	count, err := s.DB.NewSelect().Model((*recordRow)(nil)).
		Where("chart_id = ?", chartID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count records by chart: %w", err)
	}
	return count, nil
}

func (s *Records) Upsert(ctx context.Context, rec model.ScoredRecord) error {
	row := recordFromModel(rec)
	_, err := s.DB.NewInsert().Model(&row).
		On("CONFLICT (id) DO UPDATE").
		Set("perfect = EXCLUDED.perfect").
		Set("good_early = EXCLUDED.good_early").
		Set("good_late = EXCLUDED.good_late").
		Set("bad = EXCLUDED.bad").
		Set("miss = EXCLUDED.miss").
		Set("max_combo = EXCLUDED.max_combo").
		Set("std_deviation = EXCLUDED.std_deviation").
		Set("perfect_judgment = EXCLUDED.perfect_judgment").
		Set("good_judgment = EXCLUDED.good_judgment").
		Set("score = EXCLUDED.score").
		Set("accuracy = EXCLUDED.accuracy").
		Set("rks = EXCLUDED.rks").
		Set("outdated = EXCLUDED.outdated").
		Set("chart_file_time = EXCLUDED.chart_file_time").
		Set("achieved_at = EXCLUDED.achieved_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

func (s *Records) UpdateDerived(ctx context.Context, rec model.ScoredRecord) error {
	_, err := s.DB.NewUpdate().Model((*recordRow)(nil)).
		Set("score = ?", rec.Score).
		Set("accuracy = ?", rec.Accuracy).
		Set("rks = ?", rec.Rks).
		Set("std_deviation = ?", rec.StdDeviation).
		Set("outdated = ?", rec.Outdated).
		Where("id = ?", rec.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update record derived fields: %w", err)
	}
	return nil
}

func (s *Records) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.DB.NewDelete().Model((*recordRow)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func recordsToModel(rows []recordRow) []model.ScoredRecord {
	out := make([]model.ScoredRecord, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out
}

// Teams implements repository.TeamStore.
type Teams struct {
	DB *bun.DB
}

var _ repository.TeamStore = (*Teams)(nil)

func (s *Teams) ByDivision(ctx context.Context, divisionID uuid.UUID) ([]model.EventTeam, error) {
	var rows []teamRow
	err := s.DB.NewSelect().Model(&rows).
		Where("division_id = ?", divisionID).
		Order("standing_since ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("teams by division: %w", err)
	}
	out := make([]model.EventTeam, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *Teams) UpdateStanding(ctx context.Context, team model.EventTeam) error {
	_, err := s.DB.NewUpdate().Model((*teamRow)(nil)).
		Set("standing = ?", team.Standing).
		Set("standing_since = ?", team.Since).
		Where("id = ?", team.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update team standing: %w", err)
	}
	return nil
}

// Votes implements repository.VoteStore.
type Votes struct {
	DB *bun.DB
}

var _ repository.VoteStore = (*Votes)(nil)

func (s *Votes) ByChart(ctx context.Context, chartID uuid.UUID) ([]votes.Vote, error) {
	var rows []voteRow
	err := s.DB.NewSelect().Model(&rows).
		Where("chart_id = ?", chartID).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("votes by chart: %w", err)
	}
	out := make([]votes.Vote, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *Votes) Upsert(ctx context.Context, v votes.Vote) error {
	row := voteFromModel(v)
	_, err := s.DB.NewInsert().Model(&row).
		On("CONFLICT (chart_id, voter_id) DO UPDATE").
		Set("multiplier = EXCLUDED.multiplier").
		Set("arrangement = EXCLUDED.arrangement").
		Set("gameplay = EXCLUDED.gameplay").
		Set("vfx = EXCLUDED.vfx").
		Set("creativity = EXCLUDED.creativity").
		Set("concord = EXCLUDED.concord").
		Set("impression = EXCLUDED.impression").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert vote: %w", err)
	}
	return nil
}

func (s *Votes) Delete(ctx context.Context, chartID, voterID uuid.UUID) error {
	res, err := s.DB.NewDelete().Model((*voteRow)(nil)).
		Where("chart_id = ?", chartID).
		Where("voter_id = ?", voterID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete vote: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Charts implements repository.ChartStore.
type Charts struct {
	DB *bun.DB
}

var _ repository.ChartStore = (*Charts)(nil)

func (s *Charts) ByID(ctx context.Context, id uuid.UUID) (model.Chart, error) {
	row := new(chartRow)
	err := s.DB.NewSelect().Model(row).Where("c.id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Chart{}, repository.ErrNotFound
		}
		return model.Chart{}, fmt.Errorf("chart by id: %w", err)
	}
	return row.toModel(), nil
}

func (s *Charts) List(ctx context.Context, offset, limit int) ([]model.Chart, error) {
	var rows []chartRow
	err := s.DB.NewSelect().Model(&rows).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list charts: %w", err)
	}
	out := make([]model.Chart, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *Charts) UpdateDerived(ctx context.Context, chart model.Chart) error {
	_, err := s.DB.NewUpdate().Model((*chartRow)(nil)).
		Set("play_count = ?", chart.PlayCount).
		Set("like_count = ?", chart.LikeCount).
		Set("vote_score = ?", chart.Rating.Score).
		Set("rating = ?", chart.Rating.Rating).
		Set("rating_arrangement = ?", chart.Rating.Aspects[0]).
		Set("rating_gameplay = ?", chart.Rating.Aspects[1]).
		Set("rating_vfx = ?", chart.Rating.Aspects[2]).
		Set("rating_creativity = ?", chart.Rating.Aspects[3]).
		Set("rating_concord = ?", chart.Rating.Aspects[4]).
		Set("rating_impression = ?", chart.Rating.Aspects[5]).
		Where("id = ?", chart.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update chart derived fields: %w", err)
	}
	return nil
}

// Users implements repository.UserStore.
type Users struct {
	DB *bun.DB
}

var _ repository.UserStore = (*Users)(nil)

func (s *Users) List(ctx context.Context, offset, limit int) ([]model.User, error) {
	var rows []userRow
	err := s.DB.NewSelect().Model(&rows).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]model.User, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *Users) UpdateDerived(ctx context.Context, user model.User) error {
	_, err := s.DB.NewUpdate().Model((*userRow)(nil)).
		Set("follower_count = ?", user.FollowerCount).
		Set("followee_count = ?", user.FolloweeCount).
		Set("rks = ?", user.Rks).
		Where("id = ?", user.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update user derived fields: %w", err)
	}
	return nil
}

// Social implements repository.SocialStore over the per-kind tables.
type Social struct {
	DB *bun.DB
}

var _ repository.SocialStore = (*Social)(nil)

func (s *Social) List(ctx context.Context, kind model.EntityKind, offset, limit int) ([]model.SocialEntity, error) {
	table, ok := socialTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown social entity kind %q", kind)
	}

	q := s.DB.NewSelect().Table(table).
		Column("id", "like_count").
		OrderExpr("id ASC").
		Offset(offset).
		Limit(limit)
	if kind == model.KindComment {
		q = q.Column("reply_count")
	}

	var rows []socialRow
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("list %s entities: %w", kind, err)
	}

	out := make([]model.SocialEntity, len(rows))
	for i, r := range rows {
		out[i] = model.SocialEntity{
			Kind:       kind,
			ID:         r.ID,
			LikeCount:  r.LikeCount,
			ReplyCount: r.ReplyCount,
		}
	}
	return out, nil
}

func (s *Social) UpdateCounts(ctx context.Context, e model.SocialEntity) error {
	table, ok := socialTables[e.Kind]
	if !ok {
		return fmt.Errorf("unknown social entity kind %q", e.Kind)
	}

	q := s.DB.NewUpdate().Table(table).
		Set("like_count = ?", e.LikeCount).
		Where("id = ?", e.ID)
	if e.Kind == model.KindComment {
		q = q.Set("reply_count = ?", e.ReplyCount)
	}

	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("update %s counts: %w", e.Kind, err)
	}
	return nil
}

// Edges implements repository.EdgeStore over the relationship tables.
type Edges struct {
	DB *bun.DB
}

var _ repository.EdgeStore = (*Edges)(nil)

func (s *Edges) FollowerCount(ctx context.Context, userID uuid.UUID) (int, error) {
	count, err := s.DB.NewSelect().Table("follows").
		Where("followee_id = ?", userID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("follower count: %w", err)
	}
	return count, nil
}

func (s *Edges) FolloweeCount(ctx context.Context, userID uuid.UUID) (int, error) {
	count, err := s.DB.NewSelect().Table("follows").
		Where("follower_id = ?", userID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("followee count: %w", err)
	}
	return count, nil
}

func (s *Edges) LikeCount(ctx context.Context, kind model.EntityKind, id uuid.UUID) (int, error) {
	count, err := s.DB.NewSelect().Table("likes").
		Where("target_kind = ?", string(kind)).
		Where("target_id = ?", id).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("like count: %w", err)
	}
	return count, nil
}

func (s *Edges) ReplyCount(ctx context.Context, commentID uuid.UUID) (int, error) {
	count, err := s.DB.NewSelect().Table("replies").
		Where("parent_id = ?", commentID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("reply count: %w", err)
	}
	return count, nil
}
