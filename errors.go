package avflt

import "errors"

// Error kinds surfaced to hook callers and to the agent codec, per the
// error kinds enumerated in the broker's design (spec.md §7).
var (
	ErrOutOfMemory     = errors.New("avflt: out of memory")
	ErrNotAccepted     = errors.New("avflt: not accepted")
	ErrInterrupted     = errors.New("avflt: interrupted")
	ErrTimedOut        = errors.New("avflt: timed out")
	ErrInvalidArgument = errors.New("avflt: invalid argument")
	ErrBadAddress      = errors.New("avflt: bad address")
	ErrNoEntry         = errors.New("avflt: no such entry")
)

// FileInfected is the agent verdict value that denies an access with
// "operation not permitted". It is not an error value: it travels in
// Event.Result, never as a Go error.
const FileInfected = 1
