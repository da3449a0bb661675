package capture

import (
	"context"
	"log/slog"

	"github.com/SafeSignal-Labs/beacon/internal/artifact"
)

// OpsAlerter surfaces a failed recovery to an operator channel. The
// concrete implementation is the Slack alerter; nil disables alerting.
type OpsAlerter interface {
	RecoveryFailed(ctx context.Context, sessionID string, userID int64, cause error)
}

// Recovery is the one-shot path invoked when a connection drops while a
// session is active with unflushed segments. It runs the same assemble and
// persist path as a commit but tags the artifact "recovered". It is
// best-effort: no client exists to receive an error, so a failure is
// logged (and optionally alerted) and never retried — the segments stay on
// disk for manual inspection.
type Recovery struct {
	outcome *OutcomeController
	alerter OpsAlerter
}

func NewRecovery(outcome *OutcomeController, alerter OpsAlerter) *Recovery {
	return &Recovery{outcome: outcome, alerter: alerter}
}

// Recover is invoked exactly once per connection loss. The registry
// removes the session entry before calling it, so a concurrent End racing
// the disconnect sees ErrNoActiveSession rather than double-processing.
func (r *Recovery) Recover(ctx context.Context, s *Session) {
	a, outcome, err := r.outcome.finalize(ctx, s, artifact.StatusRecovered)
	if err != nil {
		slog.Error("disconnect recovery failed, segments left in place",
			"session_id", s.ID,
			"user_id", s.UserID,
			"segments", s.SegmentCount,
			"error", err,
		)
		if r.alerter != nil {
			r.alerter.RecoveryFailed(ctx, s.ID, s.UserID, err)
		}
		return
	}

	if outcome != OutcomeCommitted {
		// Segment count was > 0 at disconnect but nothing was on disk.
		slog.Warn("disconnect recovery found nothing to assemble", "session_id", s.ID)
		return
	}

	slog.Info("orphaned session recovered",
		"session_id", s.ID,
		"artifact_id", a.ID,
		"user_id", s.UserID,
	)
}
