// Package pgstore implements the persistence collaborator interfaces on
// Postgres via bun.
package pgstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/resonate-gg/resonate/internal/domain/model"
	"github.com/resonate-gg/resonate/internal/domain/votes"
)

type recordRow struct {
	bun.BaseModel `bun:"table:records,alias:r"`

	ID      uuid.UUID `bun:"id,pk,type:uuid"`
	OwnerID uuid.UUID `bun:"owner_id,type:uuid,notnull"`
	ChartID uuid.UUID `bun:"chart_id,type:uuid,notnull"`

	Perfect      int     `bun:"perfect,notnull"`
	GoodEarly    int     `bun:"good_early,notnull"`
	GoodLate     int     `bun:"good_late,notnull"`
	Bad          int     `bun:"bad,notnull"`
	Miss         int     `bun:"miss,notnull"`
	MaxCombo     int     `bun:"max_combo,notnull"`
	StdDeviation float64 `bun:"std_deviation,notnull"`

	PerfectJudgment int `bun:"perfect_judgment,notnull"`
	GoodJudgment    int `bun:"good_judgment,notnull"`

	Score    int64   `bun:"score,notnull"`
	Accuracy float64 `bun:"accuracy,notnull"`
	Rks      float64 `bun:"rks,notnull"`

	Outdated      bool      `bun:"outdated,notnull,default:false"`
	ChartFileTime time.Time `bun:"chart_file_time,nullzero"`
	AchievedAt    time.Time `bun:"achieved_at,notnull"`
}

func (r recordRow) toModel() model.ScoredRecord {
	return model.ScoredRecord{
		ID:              r.ID,
		OwnerID:         r.OwnerID,
		ChartID:         r.ChartID,
		Perfect:         r.Perfect,
		GoodEarly:       r.GoodEarly,
		GoodLate:        r.GoodLate,
		Bad:             r.Bad,
		Miss:            r.Miss,
		MaxCombo:        r.MaxCombo,
		StdDeviation:    r.StdDeviation,
		PerfectJudgment: r.PerfectJudgment,
		GoodJudgment:    r.GoodJudgment,
		Score:           r.Score,
		Accuracy:        r.Accuracy,
		Rks:             r.Rks,
		Outdated:        r.Outdated,
		ChartFileTime:   r.ChartFileTime,
		AchievedAt:      r.AchievedAt,
	}
}

func recordFromModel(m model.ScoredRecord) recordRow {
	return recordRow{
		ID:              m.ID,
		OwnerID:         m.OwnerID,
		ChartID:         m.ChartID,
		Perfect:         m.Perfect,
		GoodEarly:       m.GoodEarly,
		GoodLate:        m.GoodLate,
		Bad:             m.Bad,
		Miss:            m.Miss,
		MaxCombo:        m.MaxCombo,
		StdDeviation:    m.StdDeviation,
		PerfectJudgment: m.PerfectJudgment,
		GoodJudgment:    m.GoodJudgment,
		Score:           m.Score,
		Accuracy:        m.Accuracy,
		Rks:             m.Rks,
		Outdated:        m.Outdated,
		ChartFileTime:   m.ChartFileTime,
		AchievedAt:      m.AchievedAt,
	}
}

type chartRow struct {
	bun.BaseModel `bun:"table:charts,alias:c"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	SongID     uuid.UUID `bun:"song_id,type:uuid,notnull"`
	Difficulty float64   `bun:"difficulty,notnull"`
	Ranked     bool      `bun:"ranked,notnull,default:false"`

	PlayCount int `bun:"play_count,notnull,default:0"`
	LikeCount int `bun:"like_count,notnull,default:0"`

	VoteScore         float64 `bun:"vote_score,notnull,default:0"`
	Rating            float64 `bun:"rating,notnull,default:0"`
	RatingArrangement float64 `bun:"rating_arrangement,notnull,default:0"`
	RatingGameplay    float64 `bun:"rating_gameplay,notnull,default:0"`
	RatingVfx         float64 `bun:"rating_vfx,notnull,default:0"`
	RatingCreativity  float64 `bun:"rating_creativity,notnull,default:0"`
	RatingConcord     float64 `bun:"rating_concord,notnull,default:0"`
	RatingImpression  float64 `bun:"rating_impression,notnull,default:0"`

	FileUpdatedAt time.Time `bun:"file_updated_at,nullzero"`
}

func (c chartRow) toModel() model.Chart {
	return model.Chart{
		ID:         c.ID,
		SongID:     c.SongID,
		Difficulty: c.Difficulty,
		Ranked:     c.Ranked,
		PlayCount:  c.PlayCount,
		LikeCount:  c.LikeCount,
		Rating: model.ChartRating{
			Score:  c.VoteScore,
			Rating: c.Rating,
			Aspects: [6]float64{
				c.RatingArrangement, c.RatingGameplay, c.RatingVfx,
				c.RatingCreativity, c.RatingConcord, c.RatingImpression,
			},
		},
		FileUpdatedAt: c.FileUpdatedAt,
	}
}

type userRow struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID            uuid.UUID `bun:"id,pk,type:uuid"`
	FollowerCount int       `bun:"follower_count,notnull,default:0"`
	FolloweeCount int       `bun:"followee_count,notnull,default:0"`
	Rks           float64   `bun:"rks,notnull,default:0"`
}

func (u userRow) toModel() model.User {
	return model.User{
		ID:            u.ID,
		FollowerCount: u.FollowerCount,
		FolloweeCount: u.FolloweeCount,
		Rks:           u.Rks,
	}
}

type teamRow struct {
	bun.BaseModel `bun:"table:event_teams,alias:t"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	DivisionID uuid.UUID `bun:"division_id,type:uuid,notnull"`
	Name       string    `bun:"name,notnull"`
	Standing   float64   `bun:"standing,notnull,default:0"`
	LikeCount  int       `bun:"like_count,notnull,default:0"`
	Since      time.Time `bun:"standing_since,nullzero"`
}

func (t teamRow) toModel() model.EventTeam {
	return model.EventTeam{
		ID:         t.ID,
		DivisionID: t.DivisionID,
		Name:       t.Name,
		Standing:   t.Standing,
		LikeCount:  t.LikeCount,
		Since:      t.Since,
	}
}

type voteRow struct {
	bun.BaseModel `bun:"table:chart_votes,alias:v"`

	ChartID    uuid.UUID `bun:"chart_id,pk,type:uuid"`
	VoterID    uuid.UUID `bun:"voter_id,pk,type:uuid"`
	Multiplier float64   `bun:"multiplier,notnull"`

	Arrangement float64 `bun:"arrangement,notnull"`
	Gameplay    float64 `bun:"gameplay,notnull"`
	Vfx         float64 `bun:"vfx,notnull"`
	Creativity  float64 `bun:"creativity,notnull"`
	Concord     float64 `bun:"concord,notnull"`
	Impression  float64 `bun:"impression,notnull"`
}

func (v voteRow) toModel() votes.Vote {
	return votes.Vote{
		ChartID:    v.ChartID,
		VoterID:    v.VoterID,
		Multiplier: v.Multiplier,
		Aspects: [6]float64{
			v.Arrangement, v.Gameplay, v.Vfx,
			v.Creativity, v.Concord, v.Impression,
		},
	}
}

func voteFromModel(m votes.Vote) voteRow {
	return voteRow{
		ChartID:     m.ChartID,
		VoterID:     m.VoterID,
		Multiplier:  m.Multiplier,
		Arrangement: m.Aspects[0],
		Gameplay:    m.Aspects[1],
		Vfx:         m.Aspects[2],
		Creativity:  m.Aspects[3],
		Concord:     m.Aspects[4],
		Impression:  m.Aspects[5],
	}
}

// socialTables maps each reconciled entity class to its backing table.
var socialTables = map[model.EntityKind]string{
	model.KindComment:     "comments",
	model.KindReply:       "replies",
	model.KindCollection:  "collections",
	model.KindSong:        "songs",
	model.KindApplication: "applications",
	model.KindEvent:       "events",
	model.KindDivision:    "event_divisions",
	model.KindTeam:        "event_teams",
}

// socialRow is the counter projection scanned from any social table.
type socialRow struct {
	ID         uuid.UUID `bun:"id"`
	LikeCount  int       `bun:"like_count"`
	ReplyCount int       `bun:"reply_count"`
}
