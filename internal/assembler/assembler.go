package assembler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/SafeSignal-Labs/beacon/internal/chunkstore"
)

// ErrNoSegments reports that a session has nothing to assemble. This is a
// soft condition, not a failure — the caller treats it as a discard.
var ErrNoSegments = errors.New("no segments to assemble")

// Assembler concatenates a session's ordered segments into one artifact
// file. The capture format is produced specifically to support plain
// concatenation, so no transcoding happens here. Assembly holds no shared
// locks — a slow, I/O-bound assembly never stalls other sessions' ingestion.
type Assembler struct {
	chunks *chunkstore.Store
	dir    string
}

// Result describes a successfully assembled artifact file.
type Result struct {
	Path     string
	Size     int64
	Checksum string
}

// New creates an assembler writing artifact files under dir.
func New(chunks *chunkstore.Store, dir string) (*Assembler, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Assembler{chunks: chunks, dir: dir}, nil
}

// Assemble streams each ordered segment's bytes sequentially into a single
// output file and returns its path, byte size, and blake3 checksum. Returns
// ErrNoSegments if the session has no segments. The output is written to a
// temporary file and renamed on success, so a failed assembly never leaves
// a partial artifact behind.
func (a *Assembler) Assemble(sessionID string) (*Result, error) {
	segments, err := a.chunks.ListOrdered(sessionID)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, ErrNoSegments
	}

	final := filepath.Join(a.dir, sessionID+".bin")
	tmp := final + ".tmp"

	out, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create artifact %s: %w", sessionID, err)
	}

	hasher := blake3.New()
	sink := io.MultiWriter(out, hasher)

	var size int64
	for _, seg := range segments {
		n, err := copySegment(sink, seg.Path)
		if err != nil {
			out.Close()
			os.Remove(tmp)
			return nil, fmt.Errorf("assemble %s segment %d: %w", sessionID, seg.Index, err)
		}
		size += n
	}

	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("close artifact %s: %w", sessionID, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("commit artifact %s: %w", sessionID, err)
	}

	slog.Info("artifact assembled",
		"session_id", sessionID,
		"segments", len(segments),
		"bytes", size,
	)

	return &Result{
		Path:     final,
		Size:     size,
		Checksum: fmt.Sprintf("%x", hasher.Sum(nil)),
	}, nil
}

func copySegment(dst io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(dst, f)
}
