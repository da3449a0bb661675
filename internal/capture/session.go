package capture

import (
	"errors"
	"time"

	"github.com/SafeSignal-Labs/beacon/internal/artifact"
)

// Protocol errors surfaced synchronously to the caller. Both are fully
// recoverable — the client may retry begin on the same connection.
var (
	// ErrDuplicateSession is returned by Begin when the connection already
	// owns an active capture session. A connection hosts at most one
	// session at a time.
	ErrDuplicateSession = errors.New("connection already owns an active session")

	// ErrNoActiveSession is returned by Ingest and End when the connection
	// has no active session: never begun, already ended, or terminal.
	ErrNoActiveSession = errors.New("no active session for connection")
)

// Outcome is the terminal result of an explicit end request.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeDiscarded Outcome = "discarded"
)

// Session is one continuous capture interaction bound to a single
// connection and a single owning user. Owned exclusively by the Registry
// for its active lifetime; never shared across connections. Within one
// session ingestion is serial (the per-connection read loop), so fields
// are mutated without a session-level lock — the Registry's lock guards
// only the lookup table.
type Session struct {
	ID           string
	UserID       int64
	Location     artifact.Location
	StartedAt    time.Time
	LastActivity time.Time
	SegmentCount int
}
