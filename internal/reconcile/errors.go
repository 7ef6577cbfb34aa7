package reconcile

import "errors"

// ErrAlreadyRunning is returned when a cycle is requested while the
// previous one is still in progress. The caller skips, never queues.
var ErrAlreadyRunning = errors.New("reconciliation cycle already running")
