// Package votes aggregates weighted community votes into a
// credibility-damped chart rating.
package votes

import (
	"math"

	"github.com/google/uuid"

	"github.com/resonate-gg/resonate/internal/domain/model"
)

// Aggregation policy constants.
const (
	// AspectCount is the number of evaluated chart aspects.
	AspectCount = 6

	// MaxAspectScore bounds each aspect score; totals live on 0..30.
	MaxAspectScore = 5.0

	// BaselineRating is the neutral prior a low-reliability chart is pulled
	// toward.
	BaselineRating = 2.5

	// reliabilityTau sets how much accumulated voter weight is needed before
	// the raw aggregate is mostly trusted. Reliability(tau) ~= 0.63.
	reliabilityTau = 10.0
)

// Vote is one voter's live evaluation of a chart. At most one exists per
// (voter, chart); a re-vote replaces the previous one.
type Vote struct {
	ChartID    uuid.UUID
	VoterID    uuid.UUID
	Aspects    [AspectCount]float64 // each in [0, MaxAspectScore]
	Multiplier float64              // voter credibility weight, > 0
}

// Total returns the summed aspect score, on the 0..30 scale.
func (v Vote) Total() float64 {
	var sum float64
	for _, a := range v.Aspects {
		sum += a
	}
	return sum
}

// Validate reports whether the vote is inside the documented domain.
func (v Vote) Validate() error {
	if !(v.Multiplier > 0) || math.IsInf(v.Multiplier, 0) {
		return ErrBadMultiplier
	}
	for _, a := range v.Aspects {
		if a < 0 || a > MaxAspectScore || math.IsNaN(a) {
			return ErrAspectOutOfRange
		}
	}
	return nil
}

// Reliability maps accumulated voter weight to a credibility factor in
// [0, 1). It is 0 at zero weight and increasing, and no finite amount of
// votes reaches full trust.
func Reliability(totalWeight float64) float64 {
	if totalWeight <= 0 || math.IsNaN(totalWeight) {
		return 0
	}
	rel := 1 - math.Exp(-totalWeight/reliabilityTau)
	if rel >= 1 {
		// math.Exp underflows to 0 past roughly 745 tau units of weight,
		// which would flip the subtraction to exactly 1. Hold the result
		// just below full trust instead.
		rel = math.Nextafter(1, 0)
	}
	return rel
}

// AggregateScore is the weighted mean of the six-aspect totals, normalized
// to the per-aspect 0..5 scale. Zero when there are no votes.
func AggregateScore(vs []Vote) float64 {
	var num, weight float64
	for _, v := range vs {
		num += v.Total() * v.Multiplier
		weight += v.Multiplier
	}
	if weight == 0 {
		return 0
	}
	return num / (AspectCount * weight)
}

// Rating shrinks a raw aggregate toward the baseline prior. At reliability 0
// it returns the baseline; it approaches the raw aggregate as reliability
// approaches 1.
func Rating(rawAggregate, reliability float64) float64 {
	return BaselineRating + reliability*(rawAggregate-BaselineRating)
}

// TotalWeight sums the voter multipliers.
func TotalWeight(vs []Vote) float64 {
	var w float64
	for _, v := range vs {
		w += v.Multiplier
	}
	return w
}

// AggregateChart derives the full rating block for a chart from its current
// vote set. One reliability, computed from total weight, shrinks the overall
// score and every aspect alike.
func AggregateChart(vs []Vote) model.ChartRating {
	weight := TotalWeight(vs)
	rel := Reliability(weight)

	out := model.ChartRating{Score: AggregateScore(vs)}
	out.Rating = Rating(out.Score, rel)

	for i := 0; i < AspectCount; i++ {
		var num float64
		for _, v := range vs {
			num += v.Aspects[i] * v.Multiplier
		}
		raw := 0.0
		if weight > 0 {
			raw = num / weight
		}
		out.Aspects[i] = Rating(raw, rel)
	}
	return out
}
