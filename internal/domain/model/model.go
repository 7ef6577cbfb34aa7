// Package model contains domain entities passed between layers.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ScoredRecord is one accepted gameplay submission with its derived numbers.
// Score, Accuracy and Rks are never user-supplied; they are recomputed from
// the judgment counts by the submission path and by the reconciler.
type ScoredRecord struct {
	ID      uuid.UUID
	OwnerID uuid.UUID
	ChartID uuid.UUID

	// Raw judgment counts, the authoritative input for all derived fields.
	Perfect      int
	GoodEarly    int
	GoodLate     int
	Bad          int
	Miss         int
	MaxCombo     int
	StdDeviation float64 // timing standard deviation, milliseconds

	// Judgment window configuration active when the record was played.
	PerfectJudgment int // ms
	GoodJudgment    int // ms

	// Derived fields.
	Score    int64   // [0, 1_000_000]
	Accuracy float64 // [0, 1]
	Rks      float64 // >= 0, already scaled by the judgment-window factor

	// Outdated marks a record played against a superseded chart file.
	Outdated      bool
	ChartFileTime time.Time // chart FileUpdatedAt sampled at submission

	AchievedAt time.Time
}

// NoteCount returns the total number of judged notes.
func (r ScoredRecord) NoteCount() int {
	return r.Perfect + r.GoodEarly + r.GoodLate + r.Bad + r.Miss
}

// FullCombo reports whether the record kept combo through every note.
func (r ScoredRecord) FullCombo() bool {
	n := r.NoteCount()
	return n > 0 && r.MaxCombo == n
}

// RankID implements leaderboard.Item.
func (r ScoredRecord) RankID() uuid.UUID { return r.ID }

// RankKey implements leaderboard.Item. Chart leaderboards order by score.
func (r ScoredRecord) RankKey() float64 { return float64(r.Score) }

// RankTime implements leaderboard.Item. Earlier submissions win ties.
func (r ScoredRecord) RankTime() time.Time { return r.AchievedAt }

// ChartRating is the vote-derived rating block of a chart.
type ChartRating struct {
	Score   float64    // weighted mean of six-aspect totals, 0..5 scale
	Rating  float64    // reliability-shrunk overall rating
	Aspects [6]float64 // reliability-shrunk per-aspect ratings
}

// Chart carries the fields the engine reads and reconciles. The social
// metadata (title, illustration, charter credits) lives outside this module.
type Chart struct {
	ID         uuid.UUID
	SongID     uuid.UUID
	Difficulty float64
	Ranked     bool // only ranked charts feed the top-3 bucket of a user's rks

	PlayCount int
	LikeCount int
	Rating    ChartRating

	FileUpdatedAt time.Time
}

// User carries the derived fields the reconciler owns.
type User struct {
	ID             uuid.UUID
	FollowerCount  int
	FolloweeCount  int
	Rks            float64 // overall rating, (top-3 phi + best-27) / 30
}

// EventTeam is a competition team ranked inside one event division.
type EventTeam struct {
	ID         uuid.UUID
	DivisionID uuid.UUID
	Name       string
	Standing   float64 // claimed or verified standing metric
	LikeCount  int
	Since      time.Time // when the current standing was reached
}

// RankID implements leaderboard.Item.
func (t EventTeam) RankID() uuid.UUID { return t.ID }

// RankKey implements leaderboard.Item.
func (t EventTeam) RankKey() float64 { return t.Standing }

// RankTime implements leaderboard.Item.
func (t EventTeam) RankTime() time.Time { return t.Since }

// EntityKind names a social entity class whose counters the reconciler
// re-derives from edge sets.
type EntityKind string

const (
	// KindChart is reconciled in the chart batch, not the social batch,
	// but shares the like-edge namespace.
	KindChart EntityKind = "chart"

	KindComment     EntityKind = "comment"
	KindReply       EntityKind = "reply"
	KindCollection  EntityKind = "collection"
	KindSong        EntityKind = "song"
	KindApplication EntityKind = "application"
	KindEvent       EntityKind = "event"
	KindDivision    EntityKind = "event_division"
	KindTeam        EntityKind = "event_team"
)

// SocialKinds lists every reconciled social entity class, in batch order.
var SocialKinds = []EntityKind{
	KindComment, KindReply, KindCollection, KindSong,
	KindApplication, KindEvent, KindDivision, KindTeam,
}

// SocialEntity is the counter projection of a social entity.
type SocialEntity struct {
	Kind       EntityKind
	ID         uuid.UUID
	LikeCount  int
	ReplyCount int // meaningful for comments only
}
