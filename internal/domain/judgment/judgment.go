// Package judgment converts raw per-note judgment counts into the engine's
// deterministic score, accuracy and rks numbers.
package judgment

import (
	"math"
)

// Scoring policy constants.
const (
	// MaxScore is the saturation point: all-perfect, full-combo.
	MaxScore int64 = 1_000_000

	accuracyPortion = 900_000 // score share driven by weighted accuracy
	comboPortion    = 100_000 // score share driven by combo continuity

	// Hit weights per hundred. A good hit credits 65% of a perfect.
	perfectWeight = 100
	goodWeight    = 65

	// MinRksAccuracy is the accuracy below which a record carries no rating.
	// The quadratic rks curve reaches zero exactly here, so the cutoff is
	// continuous rather than a cliff.
	MinRksAccuracy = 0.55

	// DefaultStdDeviation substitutes implausible timing deviations.
	DefaultStdDeviation = 50.0 // ms

	// stdUnitFloor: deviations below this are second-valued, not millisecond.
	stdUnitFloor = 0.1

	// stdDecayMs controls how fast timing inconsistency erodes rks.
	stdDecayMs = 800.0
)

// Tally is the immutable judgment outcome of one gameplay submission.
type Tally struct {
	Perfect      int
	GoodEarly    int
	GoodLate     int
	Bad          int
	Miss         int
	MaxCombo     int
	StdDeviation float64 // ms
}

// Notes returns the total judged note count.
func (t Tally) Notes() int {
	return t.Perfect + t.GoodEarly + t.GoodLate + t.Bad + t.Miss
}

// Good returns the combined early and late good count.
func (t Tally) Good() int {
	return t.GoodEarly + t.GoodLate
}

// Validate reports whether the tally is inside the documented domain.
// Out-of-domain tallies are a contract violation by the caller; the
// calculators signal them instead of masking them.
func (t Tally) Validate() error {
	switch {
	case t.Perfect < 0 || t.GoodEarly < 0 || t.GoodLate < 0 || t.Bad < 0 || t.Miss < 0:
		return ErrNegativeCount
	case t.Notes() == 0:
		return ErrEmptyTally
	case t.MaxCombo < 0 || t.MaxCombo > t.Notes():
		return ErrComboOutOfRange
	case t.StdDeviation < 0 || math.IsNaN(t.StdDeviation) || math.IsInf(t.StdDeviation, 0):
		return ErrBadDeviation
	}
	return nil
}

// Score computes the integer score for a tally. Pure integer arithmetic,
// truncated division, so repeated evaluation can never drift.
//
// The accuracy portion scales to 900k with perfect hits weighted 100 and
// good hits 65; bad and miss credit nothing. The combo portion scales to
// 100k by maxCombo over the note count. Both divisions are exact for an
// all-perfect full-combo tally and truncate for everything else, so only
// that tally lands on MaxScore.
func Score(t Tally) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	notes := int64(t.Notes())

	weighted := int64(t.Perfect)*perfectWeight + int64(t.Good())*goodWeight
	accPart := accuracyPortion * weighted / (perfectWeight * notes)
	comboPart := comboPortion * int64(t.MaxCombo) / notes

	return accPart + comboPart, nil
}

// Accuracy computes the weighted hit rate in [0, 1].
func Accuracy(t Tally) (float64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	weighted := float64(t.Perfect) + float64(t.Good())*float64(goodWeight)/float64(perfectWeight)
	return weighted / float64(t.Notes()), nil
}

// Rks computes the skill rating credited by a single record, before the
// judgment-window factor is applied.
//
// The base curve is difficulty * ((acc - 0.55) / 0.45)^2, zero at and below
// MinRksAccuracy and equal to difficulty at perfect accuracy. Timing
// inconsistency decays the result continuously: a record differing by one
// judgment moves by a bounded delta, never a jump.
func Rks(t Tally, difficulty float64, stdDeviation float64) (float64, error) {
	return rksWithWindow(t, difficulty, stdDeviation, float64(DefaultGoodMs))
}

// rksWithWindow is the rks curve with the deviation plausibility check run
// against an explicit good window.
func rksWithWindow(t Tally, difficulty, stdDeviation, goodWindowMs float64) (float64, error) {
	acc, err := Accuracy(t)
	if err != nil {
		return 0, err
	}
	if difficulty < 0 || math.IsNaN(difficulty) || math.IsInf(difficulty, 0) {
		return 0, ErrBadDifficulty
	}
	if acc <= MinRksAccuracy {
		return 0, nil
	}

	sigma := NormalizeStdDeviation(stdDeviation, goodWindowMs)
	base := difficulty * square((acc-MinRksAccuracy)/(1-MinRksAccuracy))
	return base * (stdDecayMs / (stdDecayMs + sigma)), nil
}

// NormalizeStdDeviation corrects implausible timing deviations instead of
// trusting them. Values below the unit floor are second-valued uploads:
// rescaled by 1000 when the rescale lands inside the good window, replaced
// with the default otherwise. Values above the good window cannot occur for
// a record that passed judgment and are replaced with the default.
func NormalizeStdDeviation(sigma, goodWindowMs float64) float64 {
	if goodWindowMs <= 0 {
		goodWindowMs = float64(DefaultGoodMs)
	}
	if sigma < 0 || math.IsNaN(sigma) || math.IsInf(sigma, 0) {
		return DefaultStdDeviation
	}
	if sigma < stdUnitFloor {
		rescaled := sigma * 1000
		if rescaled <= goodWindowMs {
			return rescaled
		}
		return DefaultStdDeviation
	}
	if sigma > goodWindowMs {
		return DefaultStdDeviation
	}
	return sigma
}

func square(x float64) float64 { return x * x }
