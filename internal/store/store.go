package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SafeSignal-Labs/beacon/internal/artifact"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// InsertArtifact persists one artifact record. Records are immutable after
// creation; artifact_id is the primary key, so a duplicate insert fails
// rather than silently overwriting.
func (s *Store) InsertArtifact(ctx context.Context, a artifact.Artifact) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO artifacts (artifact_id, session_id, user_id, path, size_bytes,
		                       checksum, duration_ms, latitude, longitude, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, a.ID, a.SessionID, a.UserID, a.Path, a.Size,
		a.Checksum, a.Duration.Milliseconds(), a.Location.Latitude, a.Location.Longitude,
		a.Status, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert artifact %s: %w", a.ID, err)
	}

	slog.Debug("artifact record inserted", "artifact_id", a.ID, "status", a.Status)
	return nil
}

// ObserverIDs returns the ids of everyone subscribed to the given user's
// safety notifications. This is the external user-directory lookup the
// fan-out path consumes.
func (s *Store) ObserverIDs(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT observer_id FROM observers WHERE user_id = $1 ORDER BY observer_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query observers for user %d: %w", userID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetArtifact returns a single artifact record by id.
func (s *Store) GetArtifact(ctx context.Context, artifactID string) (*artifact.Artifact, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT artifact_id, session_id, user_id, path, size_bytes, checksum,
		       duration_ms, latitude, longitude, status, created_at
		FROM artifacts WHERE artifact_id = $1
	`, artifactID)

	var (
		a          artifact.Artifact
		durationMS int64
	)
	if err := row.Scan(&a.ID, &a.SessionID, &a.UserID, &a.Path, &a.Size, &a.Checksum,
		&durationMS, &a.Location.Latitude, &a.Location.Longitude, &a.Status, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Duration = time.Duration(durationMS) * time.Millisecond
	return &a, nil
}

// QueryArtifacts returns a user's artifacts, newest first.
func (s *Store) QueryArtifacts(ctx context.Context, userID int64, limit int) ([]artifact.Artifact, error) {
	q := `
		SELECT artifact_id, session_id, user_id, path, size_bytes, checksum,
		       duration_ms, latitude, longitude, status, created_at
		FROM artifacts WHERE user_id = $1 ORDER BY created_at DESC
	`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []artifact.Artifact
	for rows.Next() {
		var (
			a          artifact.Artifact
			durationMS int64
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.UserID, &a.Path, &a.Size, &a.Checksum,
			&durationMS, &a.Location.Latitude, &a.Location.Longitude, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, a)
	}
	return results, rows.Err()
}
