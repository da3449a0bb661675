package capture

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/SafeSignal-Labs/beacon/internal/artifact"
	"github.com/SafeSignal-Labs/beacon/internal/assembler"
	"github.com/SafeSignal-Labs/beacon/internal/chunkstore"
	"github.com/SafeSignal-Labs/beacon/internal/store"
)

// Notifier publishes the fan-out event after an artifact is stored. The
// concrete implementation is notify.Notifier; the interface keeps the
// capture package free of transport imports.
type Notifier interface {
	ArtifactStored(ctx context.Context, a artifact.Artifact) error
}

// OutcomeController interprets an explicit end signal and drives the
// assembler and chunk store accordingly. It is the only component that
// creates artifact records for live (non-recovered) sessions.
type OutcomeController struct {
	chunks    *chunkstore.Store
	assembler *assembler.Assembler
	store     store.DataStore
	notifier  Notifier
}

func NewOutcomeController(chunks *chunkstore.Store, asm *assembler.Assembler, st store.DataStore, n Notifier) *OutcomeController {
	return &OutcomeController{
		chunks:    chunks,
		assembler: asm,
		store:     st,
		notifier:  n,
	}
}

// Decide finalizes the session. discard=true purges the segment scope and
// yields OutcomeDiscarded with no artifact and no notification.
// discard=false assembles: an empty session is a discard, not an error; a
// persistence failure anywhere in the commit path is escalated to a
// discard so no partial artifact is ever produced.
func (o *OutcomeController) Decide(ctx context.Context, s *Session, discard bool) (Outcome, error) {
	if discard {
		if err := o.chunks.Purge(s.ID); err != nil {
			slog.Error("failed to purge discarded session", "session_id", s.ID, "error", err)
			return OutcomeDiscarded, err
		}
		slog.Info("capture session discarded", "session_id", s.ID, "user_id", s.UserID)
		return OutcomeDiscarded, nil
	}

	_, outcome, err := o.finalize(ctx, s, artifact.StatusSaved)
	return outcome, err
}

// finalize runs the shared assemble + persist + purge + notify path. The
// disconnect recovery path reuses it with StatusRecovered. On assembly or
// insert failure the session degrades to a discard and the segments are
// left on disk for manual inspection — no partial artifact is produced
// either way.
func (o *OutcomeController) finalize(ctx context.Context, s *Session, status string) (*artifact.Artifact, Outcome, error) {
	result, err := o.assembler.Assemble(s.ID)
	if errors.Is(err, assembler.ErrNoSegments) {
		slog.Info("nothing to assemble, treating as discard", "session_id", s.ID)
		if purgeErr := o.chunks.Purge(s.ID); purgeErr != nil {
			slog.Warn("failed to purge empty session scope", "session_id", s.ID, "error", purgeErr)
		}
		return nil, OutcomeDiscarded, nil
	}
	if err != nil {
		return nil, OutcomeDiscarded, err
	}

	a := artifact.Artifact{
		ID:        uuid.New().String(),
		SessionID: s.ID,
		UserID:    s.UserID,
		Path:      result.Path,
		Size:      result.Size,
		Checksum:  result.Checksum,
		Duration:  s.LastActivity.Sub(s.StartedAt),
		Location:  s.Location,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}

	if err := o.store.InsertArtifact(ctx, a); err != nil {
		// No record means no artifact: remove the assembled file so the
		// invariant "an artifact exists iff the session committed or
		// recovered" holds.
		if rmErr := os.Remove(result.Path); rmErr != nil {
			slog.Warn("failed to remove orphaned artifact file", "path", result.Path, "error", rmErr)
		}
		return nil, OutcomeDiscarded, err
	}

	// The segment scope is redundant once the artifact exists.
	if err := o.chunks.Purge(s.ID); err != nil {
		slog.Warn("failed to purge committed session scope", "session_id", s.ID, "error", err)
	}

	slog.Info("capture session finalized",
		"session_id", s.ID,
		"artifact_id", a.ID,
		"user_id", s.UserID,
		"status", status,
		"bytes", a.Size,
	)

	if o.notifier != nil {
		if err := o.notifier.ArtifactStored(ctx, a); err != nil {
			slog.Error("artifact fan-out failed", "artifact_id", a.ID, "error", err)
		}
	}

	return &a, OutcomeCommitted, nil
}
