package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SafeSignal-Labs/beacon/internal/artifact"
	"github.com/SafeSignal-Labs/beacon/internal/chunkstore"
)

// Registry owns session lifecycle state. It maps connection refs to their
// single active session, assigns segment indices, and drives the outcome
// controller on end and the recovery path on disconnect.
//
// The mutex guards only the lookup table. Segment writes and assembly run
// outside the lock, so one session's I/O never blocks another session's
// calls. A session reaches exactly one terminal state: its entry is
// removed from the table synchronously with the terminal decision, and
// every later operation against that connection fails with
// ErrNoActiveSession.
type Registry struct {
	chunks   *chunkstore.Store
	outcome  *OutcomeController
	recovery *Recovery

	mu     sync.Mutex
	byConn map[string]*Session
	byID   map[string]*Session

	recoveries sync.WaitGroup
}

// NewRegistry creates a registry wired to the given chunk store, outcome
// controller, and disconnect recovery.
func NewRegistry(chunks *chunkstore.Store, outcome *OutcomeController, recovery *Recovery) *Registry {
	return &Registry{
		chunks:   chunks,
		outcome:  outcome,
		recovery: recovery,
		byConn:   make(map[string]*Session),
		byID:     make(map[string]*Session),
	}
}

// Begin starts a capture session for the connection. sessionID may be
// empty, in which case one is generated. Returns ErrDuplicateSession if
// the connection already owns an active session, or if the id is already
// live on another connection: session ids key segment scopes on disk, so
// admitting a second session under the same id would let its writes land
// in the first session's scope. A session id that previously reached a
// terminal state is treated as a fresh session; terminal entries are gone
// from both tables.
func (r *Registry) Begin(connRef, sessionID string, userID int64, loc artifact.Location) (string, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	now := time.Now().UTC()
	s := &Session{
		ID:           sessionID,
		UserID:       userID,
		Location:     loc,
		StartedAt:    now,
		LastActivity: now,
	}

	r.mu.Lock()
	if _, exists := r.byConn[connRef]; exists {
		r.mu.Unlock()
		return "", ErrDuplicateSession
	}
	if _, exists := r.byID[sessionID]; exists {
		r.mu.Unlock()
		return "", ErrDuplicateSession
	}
	r.byConn[connRef] = s
	r.byID[sessionID] = s
	r.mu.Unlock()

	slog.Info("capture session started",
		"session_id", sessionID,
		"user_id", userID,
		"conn", connRef,
	)
	return sessionID, nil
}

// Ingest durably appends payload as the session's next segment and returns
// the assigned index. The index is assigned by the registry, never the
// client, so spoofed ordering is impossible. The chunk store write happens
// before the index is acknowledged; a failed write leaves the count
// untouched, so a client retry lands on the same index. Zero-length
// payloads are valid segments.
func (r *Registry) Ingest(connRef string, payload []byte) (int, error) {
	r.mu.Lock()
	s, ok := r.byConn[connRef]
	if !ok {
		r.mu.Unlock()
		return 0, ErrNoActiveSession
	}
	index := s.SegmentCount
	r.mu.Unlock()

	if err := r.chunks.Append(s.ID, index, payload); err != nil {
		return 0, err
	}

	r.mu.Lock()
	if r.byConn[connRef] != s {
		// The session ended while the write was in flight. The terminal
		// path already ran, so remove the stray segment scope rather than
		// resurrecting it.
		r.mu.Unlock()
		if err := r.chunks.Purge(s.ID); err != nil {
			slog.Warn("failed to purge stray segment scope", "session_id", s.ID, "error", err)
		}
		return 0, ErrNoActiveSession
	}
	s.SegmentCount = index + 1
	s.LastActivity = time.Now().UTC()
	r.mu.Unlock()

	return index, nil
}

// End finalizes the connection's session: discard=true purges everything,
// discard=false assembles and persists an artifact. The entry is removed
// from the table before the decision runs, so no late Ingest can be
// accepted and a disconnect racing End sees ErrNoActiveSession.
func (r *Registry) End(ctx context.Context, connRef string, discard bool) (Outcome, error) {
	r.mu.Lock()
	s, ok := r.byConn[connRef]
	if !ok {
		r.mu.Unlock()
		return "", ErrNoActiveSession
	}
	delete(r.byConn, connRef)
	delete(r.byID, s.ID)
	r.mu.Unlock()

	return r.outcome.Decide(ctx, s, discard)
}

// HandleDisconnect is the registry's connection-loss hook. The entry is
// removed synchronously; if the session has unflushed segments, recovery
// runs once in the background (no client is waiting on it). A disconnect
// after a clean End finds no entry and does nothing. Sessions with zero
// segments are dropped with no further action.
func (r *Registry) HandleDisconnect(connRef string) {
	r.mu.Lock()
	s, ok := r.byConn[connRef]
	if ok {
		delete(r.byConn, connRef)
		delete(r.byID, s.ID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	if s.SegmentCount == 0 {
		slog.Info("connection lost with empty session, dropping",
			"session_id", s.ID,
			"user_id", s.UserID,
		)
		return
	}

	slog.Warn("connection lost mid-capture, recovering",
		"session_id", s.ID,
		"user_id", s.UserID,
		"segments", s.SegmentCount,
	)
	r.recoveries.Add(1)
	go func() {
		defer r.recoveries.Done()
		r.recovery.Recover(context.Background(), s)
	}()
}

// Wait blocks until all in-flight disconnect recoveries have finished.
// Called on shutdown so a recovery is never cut off mid-assembly.
func (r *Registry) Wait() {
	r.recoveries.Wait()
}

// ActiveSessions returns the number of currently active sessions (for
// health reporting).
func (r *Registry) ActiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConn)
}
