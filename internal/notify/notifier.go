package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/SafeSignal-Labs/beacon/internal/artifact"
)

// Directory resolves the observers subscribed to a user's safety
// notifications. The pgx store implements it; tests use a fixed map.
type Directory interface {
	ObserverIDs(ctx context.Context, userID int64) ([]string, error)
}

// PublishFunc is the callback signature for publishing to the pub/sub
// transport.
type PublishFunc func(subject string, data []byte) error

// Notifier fans out exactly one artifact-stored event per subscribed
// observer of the artifact's owning user. Subjects are keyed by observer
// id so each observer's client consumes only its own stream.
type Notifier struct {
	directory Directory
	publish   PublishFunc
}

func New(directory Directory, publish PublishFunc) *Notifier {
	return &Notifier{directory: directory, publish: publish}
}

// ArtifactStored publishes one event per observer. A failed publish to one
// observer does not stop delivery to the rest; the first error is
// returned after all observers have been attempted.
func (n *Notifier) ArtifactStored(ctx context.Context, a artifact.Artifact) error {
	observers, err := n.directory.ObserverIDs(ctx, a.UserID)
	if err != nil {
		return fmt.Errorf("resolve observers for user %d: %w", a.UserID, err)
	}
	if len(observers) == 0 {
		slog.Info("no observers configured, skipping fan-out", "user_id", a.UserID)
		return nil
	}

	evt := artifact.StoredEvent{
		ArtifactID: a.ID,
		SessionID:  a.SessionID,
		UserID:     a.UserID,
		Size:       a.Size,
		DurationMS: a.Duration.Milliseconds(),
		Location:   a.Location,
		Status:     a.Status,
		StoredAt:   time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal artifact event: %w", err)
	}

	var firstErr error
	delivered := 0
	for _, obs := range observers {
		subject := fmt.Sprintf("beacon.observer.%s.artifact", obs)
		if err := n.publish(subject, payload); err != nil {
			slog.Error("failed to publish artifact event",
				"subject", subject,
				"artifact_id", a.ID,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delivered++
	}

	slog.Info("artifact fan-out complete",
		"artifact_id", a.ID,
		"observers", len(observers),
		"delivered", delivered,
	)
	return firstErr
}
