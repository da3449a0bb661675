package chunkstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Store is durable, session-scoped append storage for ordered binary
// segments. Each session gets its own directory under the root; segment
// files are named by zero-padded sequence index. Sessions never share
// state, so writes for different sessions cannot interfere.
type Store struct {
	root string
}

// Segment is a handle to one durably written segment.
type Segment struct {
	Index int
	Path  string
	Size  int64
}

const segmentSuffix = ".seg"

// New creates a chunk store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk store root: %w", err)
	}
	return &Store{root: dir}, nil
}

// Append durably writes payload as the segment at index for the given
// session, creating the session's directory on first use. The payload is
// written to a temporary file and renamed into place, so a partially
// written segment is never visible to ListOrdered — a crash mid-write
// leaves only a stray .tmp that listing ignores. Zero-length payloads are
// valid and produce an empty segment file at their index.
func (s *Store) Append(sessionID string, index int, payload []byte) error {
	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session scope %s: %w", sessionID, err)
	}

	final := filepath.Join(dir, segmentName(index))
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write segment %s[%d]: %w", sessionID, index, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit segment %s[%d]: %w", sessionID, index, err)
	}
	return nil
}

// ListOrdered returns the session's segments sorted by index. A session
// with no scope (or an empty scope) yields an empty slice, not an error.
func (s *Store) ListOrdered(sessionID string) ([]Segment, error) {
	dir := s.sessionDir(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list segments %s: %w", sessionID, err)
	}

	segments := make([]Segment, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		index, err := strconv.Atoi(strings.TrimSuffix(name, segmentSuffix))
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat segment %s/%s: %w", sessionID, name, err)
		}
		segments = append(segments, Segment{
			Index: index,
			Path:  filepath.Join(dir, name),
			Size:  info.Size(),
		})
	}

	sort.Slice(segments, func(i, j int) bool { return segments[i].Index < segments[j].Index })
	return segments, nil
}

// Purge recursively removes all of the session's segments and the scope
// itself. Purging a session that never wrote a segment is a no-op.
func (s *Store) Purge(sessionID string) error {
	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("purge session %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

func segmentName(index int) string {
	return fmt.Sprintf("%06d%s", index, segmentSuffix)
}
