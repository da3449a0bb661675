package store

import (
	"context"

	"github.com/SafeSignal-Labs/beacon/internal/artifact"
)

// DataStore is the interface consumed by the outcome controller, the
// notifier, and the API. The concrete implementation is *Store (pgx-backed).
type DataStore interface {
	InsertArtifact(ctx context.Context, a artifact.Artifact) error
	ObserverIDs(ctx context.Context, userID int64) ([]string, error)
	GetArtifact(ctx context.Context, artifactID string) (*artifact.Artifact, error)
	QueryArtifacts(ctx context.Context, userID int64, limit int) ([]artifact.Artifact, error)
	Close()
}
