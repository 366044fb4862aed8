package model

import "github.com/rotisserie/eris"

// Pipeline error taxonomy. Stages wrap these with eris so callers can match
// with eris.Is regardless of the context added along the way.
var (
	// ErrStaleInputRejected marks records dropped by the freshness gate.
	ErrStaleInputRejected = eris.New("stale input rejected")
	// ErrSchemaInvalid marks an unparseable field or row.
	ErrSchemaInvalid = eris.New("schema invalid")
	// ErrNoUsableInput means neither normalized nor permitted fallback input exists.
	ErrNoUsableInput = eris.New("no usable input")
	// ErrIDCollision means two distinct contracts derived the same suggestion id.
	ErrIDCollision = eris.New("suggestion id collision")
	// ErrDrift is a validator finding. Never fatal.
	ErrDrift = eris.New("drift warning")
	// ErrIOFailure wraps missing or unreadable artifacts.
	ErrIOFailure = eris.New("io failure")
)
