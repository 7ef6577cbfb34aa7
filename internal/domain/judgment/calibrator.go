package judgment

import "math"

// Default judgment windows. RksFactor is exactly 1 here.
const (
	DefaultPerfectMs = 80
	DefaultGoodMs    = 160
)

// RksFactor scales a record's rks by the player's judgment-window
// configuration. Looser windows make timing easier, so the credited rating
// shrinks proportionally; tighter windows are capped at 1 so they never
// over-reward.
//
// The factor is the geometric mean of the two window ratios,
// min(1, sqrt((80/perfect) * (160/good))), monotonically non-increasing as
// either window widens and exactly 1 at the 80/160 defaults.
func RksFactor(perfectMs, goodMs int) float64 {
	if perfectMs <= 0 || goodMs <= 0 {
		return 0
	}
	ratio := (float64(DefaultPerfectMs) / float64(perfectMs)) *
		(float64(DefaultGoodMs) / float64(goodMs))
	return math.Min(1, math.Sqrt(ratio))
}

// RecordRks is the final per-record rating: the raw curve scaled by the
// judgment-window factor.
func RecordRks(t Tally, difficulty, stdDeviation float64, perfectMs, goodMs int) (float64, error) {
	base, err := rksWithWindow(t, difficulty, stdDeviation, float64(goodMs))
	if err != nil {
		return 0, err
	}
	return base * RksFactor(perfectMs, goodMs), nil
}
