package session

import "errors"

var (
	// ErrUnknownSession is returned when an operation names a session the
	// store has never seen.
	ErrUnknownSession = errors.New("unknown session")

	// ErrStoreFailure wraps persistence errors that moved a session to error.
	ErrStoreFailure = errors.New("session store failure")

	ErrChunkTooSmall    = errors.New("audio chunk below minimum size")
	ErrBadSignature     = errors.New("audio chunk has unrecognized signature")
	ErrInvalidSequence  = errors.New("chunk sequence must be non-negative")
	ErrMissingSessionID = errors.New("session id is required")
)
