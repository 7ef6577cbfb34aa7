package votes

import "errors"

// Sentinel kinds for out-of-domain vote input.
var (
	ErrBadMultiplier    = errors.New("vote multiplier must be a positive finite number")
	ErrAspectOutOfRange = errors.New("aspect score outside the 0..5 range")
)
