package judgment

import "errors"

// Sentinel kinds for out-of-domain calculator input.
var (
	ErrNegativeCount   = errors.New("judgment counts must be non-negative")
	ErrEmptyTally      = errors.New("tally has no judged notes")
	ErrComboOutOfRange = errors.New("max combo outside note count")
	ErrBadDeviation    = errors.New("standard deviation is not a finite non-negative number")
	ErrBadDifficulty   = errors.New("difficulty is not a finite non-negative number")
)
